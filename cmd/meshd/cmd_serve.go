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
	"context"
	"fmt"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/MakeNowJust/heredoc"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/teradata-labs/mesh/pkg/agent"
	"github.com/teradata-labs/mesh/pkg/collaboration"
	"github.com/teradata-labs/mesh/pkg/communication"
	"github.com/teradata-labs/mesh/pkg/identity"
	"github.com/teradata-labs/mesh/pkg/message"
	"github.com/teradata-labs/mesh/pkg/registry"
	"github.com/teradata-labs/mesh/pkg/types"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run a demo agent network",
	Long: heredoc.Doc(`
		Start a registry and routing hub, register a pair of demo agents,
		and keep the network running until interrupted.

		Agent manifests from --manifest-dir are loaded at startup and,
		when watching is enabled, hot-reloaded as files change. With a
		snapshot path configured the capability index persists its
		embedding vectors to SQLite, on the configured cron schedule.

		On startup the demo agents run one scripted collaboration round
		trip so the logs show discovery, delegation, and the signed
		response end to end.
	`),
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	logger, err := buildLogger(config.Logging)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := registry.New(registry.Options{
		SnapshotPath: config.Registry.SnapshotPath,
		Logger:       logger,
	})

	hub, err := communication.NewHub(communication.Options{
		Registry:       reg,
		DefaultTimeout: time.Duration(config.Hub.DefaultTimeoutSeconds) * time.Second,
		GraceWindow:    time.Duration(config.Hub.LateResponseGraceSeconds) * time.Second,
		MaxChainLength: config.Hub.MaxChainLength,
		Logger:         logger,
	})
	if err != nil {
		return err
	}
	defer hub.Stop()

	if dir := config.Registry.ManifestDir; dir != "" {
		n, err := reg.LoadManifests(dir)
		if err != nil {
			return fmt.Errorf("failed to load manifests from %s: %w", dir, err)
		}
		logger.Info("manifests loaded", zap.String("dir", dir), zap.Int("count", n))

		if config.Registry.WatchManifests {
			if err := reg.WatchManifests(ctx, dir); err != nil {
				return fmt.Errorf("failed to watch manifests: %w", err)
			}
		}
	}

	if config.Registry.SnapshotPath != "" && config.Registry.SnapshotSchedule != "" {
		scheduler, err := registry.NewSnapshotScheduler(reg.Index(), config.Registry.SnapshotSchedule, logger)
		if err != nil {
			return fmt.Errorf("failed to build snapshot scheduler: %w", err)
		}
		scheduler.Start()
		defer scheduler.Stop()
	}

	echo, err := spawnDemoAgent(ctx, reg, hub, "demo-echo",
		types.Capability{Name: "echo", Description: "repeat any text back to the sender"},
		agent.ProcessorFunc(func(ctx context.Context, m *message.Message) (string, error) {
			return m.Content, nil
		}))
	if err != nil {
		return err
	}
	defer echo.Stop()

	upper, err := spawnDemoAgent(ctx, reg, hub, "demo-uppercase",
		types.Capability{Name: "uppercase", Description: "convert text to upper case letters"},
		agent.ProcessorFunc(func(ctx context.Context, m *message.Message) (string, error) {
			return strings.ToUpper(m.Content), nil
		}))
	if err != nil {
		return err
	}
	defer upper.Stop()

	demoRoundTrip(ctx, logger, hub, reg, echo)

	logger.Info("mesh network running", zap.Strings("agents", hub.ActiveAgents()))
	<-ctx.Done()

	logger.Info("shutting down", zap.Any("stats", hub.Stats()))
	return nil
}

// spawnDemoAgent registers an identity, attaches a BaseAgent, and
// starts its loop.
func spawnDemoAgent(ctx context.Context, reg *registry.Registry, hub *communication.Hub, id string, capability types.Capability, processor agent.MessageProcessor) (*agent.BaseAgent, error) {
	ident, err := identity.NewKeyBased()
	if err != nil {
		return nil, fmt.Errorf("failed to create identity for %s: %w", id, err)
	}

	if _, err := reg.Register(&registry.AgentRegistration{
		AgentID:          id,
		AgentType:        types.AgentTypeAI,
		InteractionModes: []types.InteractionMode{types.ModeAgentToAgent, types.ModeHumanToAgent},
		Capabilities:     []types.Capability{capability},
		Identity:         ident,
	}); err != nil {
		return nil, fmt.Errorf("failed to register %s: %w", id, err)
	}

	a, err := agent.New(agent.Options{
		ID:              id,
		Identity:        ident,
		Processor:       processor,
		ResolveIdentity: reg.Identity,
		MaxTurns:        config.Agent.MaxTurns,
		QueueSize:       config.Agent.QueueSize,
		Budget:          agent.NewTokenBudget(config.Agent.MaxTokensPerMinute, config.Agent.MaxTokensPerHour),
	})
	if err != nil {
		return nil, err
	}
	if err := hub.AddAgent(a); err != nil {
		return nil, err
	}

	go func() { _ = a.Run(ctx) }()
	return a, nil
}

// demoRoundTrip runs one scripted collaboration: the echo agent
// searches for an uppercase-capable peer and delegates a task to it.
func demoRoundTrip(ctx context.Context, logger *zap.Logger, hub *communication.Hub, reg *registry.Registry, caller *agent.BaseAgent) {
	toolset := collaboration.NewToolset(hub, reg, caller.ID(), caller, logger)

	var target string
	for _, tool := range toolset.Tools() {
		switch tool.Name() {
		case "search_for_agents":
			res, err := tool.Execute(ctx, map[string]interface{}{"capability_name": "uppercase"})
			if err != nil || !res.Success {
				logger.Warn("demo search failed", zap.Error(err))
				return
			}
			data := res.Data.(map[string]interface{})
			agents, _ := data["agents"].([]map[string]interface{})
			if len(agents) == 0 {
				logger.Warn("demo search found no agents")
				return
			}
			target = agents[0]["agent_id"].(string)
			logger.Info("demo search found collaborator",
				zap.String("agent_id", target),
				zap.Any("similarity", agents[0]["similarity"]))

		case "send_collaboration_request":
			if target == "" {
				return
			}
			res, err := tool.Execute(ctx, map[string]interface{}{
				"target_agent_id": target,
				"task":            "shout this: hello mesh",
				"timeout":         float64(30),
			})
			if err != nil {
				logger.Warn("demo delegation failed", zap.Error(err))
				return
			}
			logger.Info("demo collaboration finished",
				zap.Bool("success", res.Success),
				zap.Any("data", res.Data))
		}
	}
}
