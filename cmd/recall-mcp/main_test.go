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
package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealthCheckFlagRegistered(t *testing.T) {
	flag := rootCmd.Flags().Lookup("health-check")
	require.NotNil(t, flag, "root command must accept --health-check")
	assert.Equal(t, "bool", flag.Value.Type())
	assert.Equal(t, "false", flag.DefValue)
}

func TestExitCodes(t *testing.T) {
	assert.Equal(t, 0, exitOK)
	assert.Equal(t, 1, exitStartup, "startup failures exit 1")
	assert.Equal(t, 2, exitRuntime, "unrecoverable runtime errors exit 2")
}
