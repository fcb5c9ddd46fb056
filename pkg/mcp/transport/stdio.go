// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package transport

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sync"
)

// readResult holds one line read from the underlying reader.
type readResult struct {
	data []byte
	err  error
}

// Stdio frames one JSON-RPC message per newline-terminated line, reading
// from r (typically os.Stdin) and writing to w (typically os.Stdout).
//
// A single reader goroutine runs for the transport's lifetime so that a
// Receive cancelled via context does not leak a goroutine per call.
type Stdio struct {
	reader *bufio.Reader
	writer io.Writer
	mu     sync.Mutex // guards writer and closed
	closed bool

	readCh chan readResult
	once   sync.Once
}

// NewStdio creates a line-framed transport over r and w.
func NewStdio(r io.Reader, w io.Writer) *Stdio {
	return &Stdio{
		reader: bufio.NewReaderSize(r, 1024*1024),
		writer: w,
		readCh: make(chan readResult, 1),
	}
}

func (t *Stdio) startReader() {
	t.once.Do(func() {
		go func() {
			defer close(t.readCh)
			for {
				line, err := t.reader.ReadBytes('\n')
				t.readCh <- readResult{data: line, err: err}
				if err != nil {
					return
				}
			}
		}()
	})
}

// Send writes one message followed by a newline.
func (t *Stdio) Send(_ context.Context, message []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return fmt.Errorf("transport closed")
	}
	if _, err := t.writer.Write(message); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	if _, err := t.writer.Write([]byte("\n")); err != nil {
		return fmt.Errorf("write newline: %w", err)
	}
	return nil
}

// Receive returns the next non-empty line with its trailing newline and
// carriage return stripped. Returns io.EOF when the peer disconnects.
func (t *Stdio) Receive(ctx context.Context) ([]byte, error) {
	t.startReader()

	for {
		t.mu.Lock()
		closed := t.closed
		t.mu.Unlock()
		if closed {
			return nil, fmt.Errorf("transport closed")
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case result, ok := <-t.readCh:
			if !ok {
				// Reader goroutine exited after delivering its error.
				return nil, io.EOF
			}
			if result.err != nil {
				if result.err == io.EOF {
					return nil, io.EOF
				}
				return nil, fmt.Errorf("read message: %w", result.err)
			}
			line := result.data
			if len(line) > 0 && line[len(line)-1] == '\n' {
				line = line[:len(line)-1]
			}
			if len(line) > 0 && line[len(line)-1] == '\r' {
				line = line[:len(line)-1]
			}
			if len(line) == 0 {
				continue
			}
			return line, nil
		}
	}
}

// Close marks the transport closed. The underlying reader and writer are
// not closed; they are usually the process's stdin and stdout.
func (t *Stdio) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}
