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
	"github.com/BurntSushi/toml"
)

type BenchData struct {
	BuildPath string `tag:"buildPath"`
	ProbePath string `tag:"probePath"`
	BuildRows int    `tag:"buildRows"`
	ProbeRows int    `tag:"probeRows"`
}

type BenchJoin struct {
	JoinType       string `tag:"joinType"`
	Workers        int    `tag:"workers"`
	SpillThreshold int64  `tag:"spillThreshold"`
	SpillPartitions int   `tag:"spillPartitions"`
	TempDir        string `tag:"tempDir"`
}

type DebugOptions struct {
	PrintResult       bool `tag:"printResult"`
	MaxOutputRowCount int  `tag:"maxOutputRowCount"`
}

type Config struct {
	Data  BenchData    `tag:"data"`
	Join  BenchJoin    `tag:"join"`
	Debug DebugOptions `tag:"debug"`
}

// DecodeConfigFile fills cfg from a toml file.
func DecodeConfigFile(fpath string, cfg *Config) error {
	_, err := toml.DecodeFile(fpath, cfg)
	return err
}
