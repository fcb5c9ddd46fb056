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

// Package transport implements the stdio message framing used between
// the recall server and its MCP client.
package transport

import "context"

// Transport moves framed JSON-RPC messages in both directions.
type Transport interface {
	// Send writes one message.
	Send(ctx context.Context, message []byte) error

	// Receive blocks until the next message arrives, the context is
	// cancelled, or the peer disconnects.
	Receive(ctx context.Context) ([]byte, error)

	// Close shuts the transport down.
	Close() error
}
