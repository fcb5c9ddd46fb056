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
	"bytes"
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStdioReceiveFraming(t *testing.T) {
	in := strings.NewReader("{\"a\":1}\n\n{\"b\":2}\r\n")
	tr := NewStdio(in, io.Discard)
	defer tr.Close()
	ctx := context.Background()

	msg, err := tr.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, string(msg))

	// Empty line is skipped, CR stripped.
	msg, err = tr.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, `{"b":2}`, string(msg))

	_, err = tr.Receive(ctx)
	assert.Equal(t, io.EOF, err)
}

func TestStdioSendAppendsNewline(t *testing.T) {
	var out bytes.Buffer
	tr := NewStdio(strings.NewReader(""), &out)
	defer tr.Close()

	require.NoError(t, tr.Send(context.Background(), []byte(`{"ok":true}`)))
	require.NoError(t, tr.Send(context.Background(), []byte(`{"ok":false}`)))
	assert.Equal(t, "{\"ok\":true}\n{\"ok\":false}\n", out.String())
}

func TestStdioReceiveContextCancel(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()
	tr := NewStdio(pr, io.Discard)
	defer tr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := tr.Receive(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// The reader goroutine survives cancellation; a late line still arrives.
	go func() {
		_, _ = pw.Write([]byte("{\"late\":1}\n"))
	}()
	msg, err := tr.Receive(context.Background())
	require.NoError(t, err)
	assert.Equal(t, `{"late":1}`, string(msg))
}

func TestStdioClosedTransportRejects(t *testing.T) {
	tr := NewStdio(strings.NewReader("x\n"), io.Discard)
	require.NoError(t, tr.Close())

	assert.Error(t, tr.Send(context.Background(), []byte("x")))
	_, err := tr.Receive(context.Background())
	assert.Error(t, err)
}
