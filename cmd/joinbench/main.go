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

package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/daviszhen/joinexec/pkg/util"
)

func init() {
	cobra.OnInitialize(loadConfig)
	initRunCmd()
}

var benchCfg = &util.Config{}

///root cmd

var info = "joinbench"
var RootCmd = &cobra.Command{
	Use:          "joinbench",
	Short:        info,
	Long:         info,
	SilenceUsage: true,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("use joinbench --help or -h")
	},
}

func initDebugOptions() {
	benchCfg.Debug.PrintResult = viper.GetBool("debug.printResult")
	benchCfg.Debug.MaxOutputRowCount = viper.GetInt("debug.maxOutputRowCount")
}

//run cmd

var runInfo = "run one hash join"
var runCmd = &cobra.Command{
	Use:   "run",
	Short: runInfo,
	Long:  runInfo,
	RunE: func(cmd *cobra.Command, args []string) error {
		initRunCfg()
		start := time.Now()
		rows, err := runJoin(context.Background(), benchCfg)
		if err != nil {
			return err
		}
		util.Info("join done",
			zap.Int("output rows", rows),
			zap.Duration("elapsed", time.Since(start)))
		return nil
	},
}

func initRunCfg() {
	initDebugOptions()
	benchCfg.Data.BuildPath = viper.GetString("data.buildPath")
	benchCfg.Data.ProbePath = viper.GetString("data.probePath")
	benchCfg.Data.BuildRows = viper.GetInt("data.buildRows")
	benchCfg.Data.ProbeRows = viper.GetInt("data.probeRows")
	benchCfg.Join.JoinType = viper.GetString("join.joinType")
	benchCfg.Join.Workers = viper.GetInt("join.workers")
	benchCfg.Join.SpillThreshold = viper.GetInt64("join.spillThreshold")
	benchCfg.Join.SpillPartitions = viper.GetInt("join.spillPartitions")
	benchCfg.Join.TempDir = viper.GetString("join.tempDir")
}

func initRunCmd() {
	RootCmd.AddCommand(runCmd)
	runCmd.Flags().StringVar(&benchCfg.Data.BuildPath, "build_path", "", "build side parquet file. empty generates rows")
	runCmd.Flags().StringVar(&benchCfg.Data.ProbePath, "probe_path", "", "probe side parquet file. empty generates rows")
	runCmd.Flags().IntVar(&benchCfg.Data.BuildRows, "build_rows", 10000, "generated build row count")
	runCmd.Flags().IntVar(&benchCfg.Data.ProbeRows, "probe_rows", 100000, "generated probe row count")
	runCmd.Flags().StringVar(&benchCfg.Join.JoinType, "join_type", "inner", "inner, left, right, full, semi, anti, mark")
	runCmd.Flags().IntVar(&benchCfg.Join.Workers, "workers", 4, "worker count")
	runCmd.Flags().Int64Var(&benchCfg.Join.SpillThreshold, "spill_threshold", 0, "build memory bytes before spilling. 0 disables")
	runCmd.Flags().IntVar(&benchCfg.Join.SpillPartitions, "spill_partitions", 0, "spill partition count. power of two")
	runCmd.Flags().StringVar(&benchCfg.Join.TempDir, "temp_dir", "", "spill temp dir")

	viper.BindPFlag("data.buildPath", runCmd.Flags().Lookup("build_path"))
	viper.BindPFlag("data.probePath", runCmd.Flags().Lookup("probe_path"))
	viper.BindPFlag("data.buildRows", runCmd.Flags().Lookup("build_rows"))
	viper.BindPFlag("data.probeRows", runCmd.Flags().Lookup("probe_rows"))
	viper.BindPFlag("join.joinType", runCmd.Flags().Lookup("join_type"))
	viper.BindPFlag("join.workers", runCmd.Flags().Lookup("workers"))
	viper.BindPFlag("join.spillThreshold", runCmd.Flags().Lookup("spill_threshold"))
	viper.BindPFlag("join.spillPartitions", runCmd.Flags().Lookup("spill_partitions"))
	viper.BindPFlag("join.tempDir", runCmd.Flags().Lookup("temp_dir"))
}

var defCfgFilePaths = []string{".", "etc"}
var cfgFileName = "joinbench.toml"

func loadConfig() {
	for _, dirPath := range defCfgFilePaths {
		fpath := filepath.Join(dirPath, cfgFileName)
		if util.FileIsValid(fpath) {
			viper.SetConfigFile(fpath)
			err := viper.ReadInConfig()
			if err != nil {
				util.Error("viper load config file failed",
					zap.String("fpath", fpath),
					zap.Error(err))
				continue
			}
			break
		}
	}
}

func main() {
	if err := RootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
