// Copyright 2023-2024 daviszhen
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package util

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeConfigFile(t *testing.T) {
	fpath := filepath.Join(t.TempDir(), "joinbench.toml")
	data := `
[data]
buildPath = "build.parquet"
probePath = "probe.parquet"
buildRows = 1000
probeRows = 5000

[join]
joinType = "left"
workers = 8
spillThreshold = 1048576
spillPartitions = 16
tempDir = "/tmp"

[debug]
printResult = true
maxOutputRowCount = 100
`
	err := os.WriteFile(fpath, []byte(data), 0644)
	require.NoError(t, err)

	cfg := &Config{}
	err = DecodeConfigFile(fpath, cfg)
	require.NoError(t, err)
	assert.Equal(t, "build.parquet", cfg.Data.BuildPath)
	assert.Equal(t, "probe.parquet", cfg.Data.ProbePath)
	assert.Equal(t, 1000, cfg.Data.BuildRows)
	assert.Equal(t, 5000, cfg.Data.ProbeRows)
	assert.Equal(t, "left", cfg.Join.JoinType)
	assert.Equal(t, 8, cfg.Join.Workers)
	assert.Equal(t, int64(1048576), cfg.Join.SpillThreshold)
	assert.Equal(t, 16, cfg.Join.SpillPartitions)
	assert.Equal(t, "/tmp", cfg.Join.TempDir)
	assert.True(t, cfg.Debug.PrintResult)
	assert.Equal(t, 100, cfg.Debug.MaxOutputRowCount)
}

func TestDecodeConfigFileMissing(t *testing.T) {
	cfg := &Config{}
	err := DecodeConfigFile(filepath.Join(t.TempDir(), "nope.toml"), cfg)
	assert.Error(t, err)
}
