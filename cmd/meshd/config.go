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
	"path/filepath"

	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/term"
)

const (
	// ServiceName for keyring storage of agent private keys.
	ServiceName = "mesh"

	// DefaultConfigFileName without extension.
	DefaultConfigFileName = "meshd"
)

// Config holds the meshd configuration.
// Priority: CLI flags > config file > env vars > defaults.
type Config struct {
	Logging  LoggingConfig  `mapstructure:"logging"`
	Registry RegistryConfig `mapstructure:"registry"`
	Hub      HubConfig      `mapstructure:"hub"`
	Agent    AgentConfig    `mapstructure:"agent"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	// Level is debug, info, warn, or error.
	Level string `mapstructure:"level"`

	// Format is auto, text, or json. Auto selects text on a terminal.
	Format string `mapstructure:"format"`
}

// RegistryConfig controls the agent directory.
type RegistryConfig struct {
	// ManifestDir optionally points at agent manifest YAML files.
	ManifestDir string `mapstructure:"manifest_dir"`

	// WatchManifests hot-reloads the manifest directory.
	WatchManifests bool `mapstructure:"watch_manifests"`

	// SnapshotPath is the SQLite file for capability-index snapshots.
	SnapshotPath string `mapstructure:"snapshot_path"`

	// SnapshotSchedule is a cron expression for scheduled snapshots.
	SnapshotSchedule string `mapstructure:"snapshot_schedule"`
}

// HubConfig controls routing and correlation.
type HubConfig struct {
	// DefaultTimeoutSeconds bounds response waits without an explicit
	// timeout.
	DefaultTimeoutSeconds int `mapstructure:"default_timeout_seconds"`

	// LateResponseGraceSeconds keeps timed-out futures alive.
	LateResponseGraceSeconds int `mapstructure:"late_response_grace_seconds"`

	// MaxChainLength caps collaboration delegation depth.
	MaxChainLength int `mapstructure:"max_chain_length"`
}

// AgentConfig controls the demo agent runtimes.
type AgentConfig struct {
	// MaxTurns per conversation before an automatic STOP.
	MaxTurns int `mapstructure:"max_turns"`

	// MaxTokensPerMinute and MaxTokensPerHour bound the token budget.
	MaxTokensPerMinute int `mapstructure:"max_tokens_per_minute"`
	MaxTokensPerHour   int `mapstructure:"max_tokens_per_hour"`

	// QueueSize bounds each agent's inbound queue.
	QueueSize int `mapstructure:"queue_size"`
}

var config Config

func initConfig() {
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "auto")
	viper.SetDefault("registry.manifest_dir", "")
	viper.SetDefault("registry.watch_manifests", true)
	viper.SetDefault("registry.snapshot_path", "")
	viper.SetDefault("registry.snapshot_schedule", "")
	viper.SetDefault("hub.default_timeout_seconds", 60)
	viper.SetDefault("hub.late_response_grace_seconds", 60)
	viper.SetDefault("hub.max_chain_length", 5)
	viper.SetDefault("agent.max_turns", 20)
	viper.SetDefault("agent.max_tokens_per_minute", 5500)
	viper.SetDefault("agent.max_tokens_per_hour", 100000)
	viper.SetDefault("agent.queue_size", 1024)

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName(DefaultConfigFileName)
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			viper.AddConfigPath(filepath.Join(home, ".mesh"))
		}
	}

	viper.SetEnvPrefix("MESH")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		// Missing config files are fine; defaults and env cover it.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && cfgFile != "" {
			fmt.Fprintf(os.Stderr, "failed to read config %s: %v\n", cfgFile, err)
			os.Exit(1)
		}
	}

	if err := viper.Unmarshal(&config); err != nil {
		fmt.Fprintf(os.Stderr, "failed to parse config: %v\n", err)
		os.Exit(1)
	}
}

// buildLogger constructs the process logger from config. Format auto
// picks a console encoder when stdout is a terminal, JSON otherwise.
func buildLogger(cfg LoggingConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}

	format := cfg.Format
	if format == "auto" {
		if term.IsTerminal(int(os.Stdout.Fd())) {
			format = "text"
		} else {
			format = "json"
		}
	}

	var zcfg zap.Config
	switch format {
	case "text":
		zcfg = zap.NewDevelopmentConfig()
	case "json":
		zcfg = zap.NewProductionConfig()
	default:
		return nil, fmt.Errorf("invalid log format %q", cfg.Format)
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)
	return zcfg.Build()
}
