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

package config

import (
	"fmt"

	"go.uber.org/zap"
)

// BuildLogger constructs the process logger from the logging section.
// Output goes to stderr unless a file is configured: stdout is the MCP
// transport and must never receive log lines.
func BuildLogger(lc LoggingConfig) (*zap.Logger, error) {
	zapConfig := zap.NewProductionConfig()

	logLevel := zap.InfoLevel
	if lc.Level != "" {
		if err := logLevel.UnmarshalText([]byte(lc.Level)); err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", lc.Level, err)
		}
	}
	zapConfig.Level = zap.NewAtomicLevelAt(logLevel)

	if lc.Format == "text" {
		zapConfig.Encoding = "console"
	}

	out := "stderr"
	if lc.File != "" {
		out = lc.File
	}
	zapConfig.OutputPaths = []string{out}
	zapConfig.ErrorOutputPaths = []string{out}

	return zapConfig.Build(zap.AddStacktrace(zap.ErrorLevel))
}
