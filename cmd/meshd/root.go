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
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/teradata-labs/mesh/internal/version"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:     "meshd",
	Short:   "Mesh - decentralized multi-agent collaboration substrate",
	Long:    `Mesh (meshd) runs an in-process agent network: a capability registry, a signed-message routing hub, and collaboration tooling for autonomous agents.`,
	Version: version.Get(),
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./meshd.yaml or ~/.mesh/meshd.yaml)")

	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "auto", "log format (auto, text, json)")
	rootCmd.PersistentFlags().String("manifest-dir", "", "directory of agent manifest YAML files")
	rootCmd.PersistentFlags().String("snapshot-path", "", "SQLite file for capability-index snapshots")
	rootCmd.PersistentFlags().String("snapshot-schedule", "", "cron expression for scheduled snapshots")

	_ = viper.BindPFlag("logging.level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("logging.format", rootCmd.PersistentFlags().Lookup("log-format"))
	_ = viper.BindPFlag("registry.manifest_dir", rootCmd.PersistentFlags().Lookup("manifest-dir"))
	_ = viper.BindPFlag("registry.snapshot_path", rootCmd.PersistentFlags().Lookup("snapshot-path"))
	_ = viper.BindPFlag("registry.snapshot_schedule", rootCmd.PersistentFlags().Lookup("snapshot-schedule"))
}

func main() {
	Execute()
}
