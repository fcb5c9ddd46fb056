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

// recall-mcp is an MCP (Model Context Protocol) server that gives LLM
// clients persistent conversation memory backed by a single SQLite file.
//
// It speaks JSON-RPC over stdio, so stdout carries protocol frames only;
// all logging goes to stderr or a file.
//
// Claude Desktop configuration (claude_desktop_config.json):
//
//	{
//	  "mcpServers": {
//	    "recall": {
//	      "command": "/path/to/recall-mcp",
//	      "env": {"RECALL_DATA_DIR": "/path/to/data"}
//	    }
//	  }
//	}
package main

func main() {
	Execute()
}
