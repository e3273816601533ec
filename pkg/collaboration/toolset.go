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
package collaboration

import (
	"context"
	"encoding/json"
	"fmt"
	"math"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/teradata-labs/mesh/pkg/agent"
	"github.com/teradata-labs/mesh/pkg/registry"
	"github.com/teradata-labs/mesh/pkg/types"
)

const (
	// DefaultSearchLimit caps agent-search results.
	DefaultSearchLimit = 10

	// DefaultSimilarityThreshold for capability search.
	DefaultSimilarityThreshold = 0.2

	// DefaultCollaborationTimeout in seconds for delegated tasks.
	DefaultCollaborationTimeout = 120

	// MaxCollaborationTimeout caps caller-supplied timeouts.
	MaxCollaborationTimeout = 300

	// historyPeerWindow is how many recent history messages contribute
	// peers to the search exclusion set.
	historyPeerWindow = 10
)

// Hub is the slice of the communication hub the tools need. Satisfied
// by *communication.Hub.
type Hub interface {
	Agent(agentID string) (agent.Agent, bool)
	SendCollaborationRequest(ctx context.Context, senderID, receiverID, task string, metadata types.Metadata) (string, error)
	CollaborationResult(requestID string) (status, content string)
}

// Directory is the slice of the registry the tools need. Satisfied by
// *registry.Registry.
type Directory interface {
	GetByCapability(name string, limit int, threshold float64) ([]*registry.AgentRegistration, error)
	GetByCapabilitySemantic(query string, limit int, threshold float64) ([]registry.ScoredRegistration, error)
	GetAllAgents() []*registry.AgentRegistration
	GetAgentType(agentID string) (types.AgentType, error)
}

// CallerState is the slice of the calling agent's runtime the search
// exclusion reads. Satisfied by *agent.BaseAgent.
type CallerState interface {
	ActiveConversationPeers() []string
	PendingRequestPeers() []string
	RecentPeers(n int) []string
}

// Toolset builds the collaboration tools for one agent. With a nil hub
// or directory the toolset runs standalone: every tool returns an
// explanatory stub instead of an error, so a reasoning layer wired
// without a network keeps functioning.
type Toolset struct {
	hub       Hub
	directory Directory
	agentID   string
	caller    CallerState
	logger    *zap.Logger
}

// NewToolset wires the three collaboration tools for agentID. caller
// may be nil when the agent has no runtime state to exclude.
func NewToolset(hub Hub, directory Directory, agentID string, caller CallerState, logger *zap.Logger) *Toolset {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Toolset{hub: hub, directory: directory, agentID: agentID, caller: caller, logger: logger.With(zap.String("agent_id", agentID))}
}

// Tools returns the toolset's tools in a stable order.
func (ts *Toolset) Tools() []Tool {
	return []Tool{
		&searchTool{ts: ts},
		&delegateTool{ts: ts},
		&checkTool{ts: ts},
	}
}

func (ts *Toolset) standalone() bool {
	return ts.hub == nil || ts.directory == nil
}

func standaloneResult(detail string) *Result {
	return &Result{
		Success: true,
		Data: map[string]interface{}{
			"standalone": true,
			"message":    "running without a hub or registry: " + detail,
		},
	}
}

// searchTool finds collaborators by capability.
type searchTool struct {
	ts *Toolset
}

func (t *searchTool) Name() string { return "search_for_agents" }

func (t *searchTool) Description() string {
	return "Search the registry for agents offering a capability. Returns candidate agents ranked by similarity, excluding agents you already talk to."
}

func (t *searchTool) InputSchema() *JSONSchema {
	return NewObjectSchema("Parameters for capability search",
		map[string]*JSONSchema{
			"capability_name":      NewStringSchema("Capability to look for, e.g. \"summarize\" or a free-text description"),
			"limit":                NewNumberSchema("Maximum number of agents to return", DefaultSearchLimit),
			"similarity_threshold": NewNumberSchema("Minimum similarity for a match, 0..1", DefaultSimilarityThreshold),
		},
		[]string{"capability_name"})
}

func (t *searchTool) Execute(ctx context.Context, params map[string]interface{}) (*Result, error) {
	capability, ok := stringParam(params, "capability_name")
	if !ok {
		return nil, fmt.Errorf("search_for_agents requires capability_name")
	}
	limit := intParam(params, "limit", DefaultSearchLimit)
	threshold := floatParam(params, "similarity_threshold", DefaultSimilarityThreshold)

	if t.ts.standalone() {
		return standaloneResult("agent search is unavailable, no collaborators can be discovered"), nil
	}

	excluded := t.ts.exclusionSet()
	t.ts.logger.Debug("searching for agents",
		zap.String("capability", capability),
		zap.Int("excluded", len(excluded)))

	// Semantic search first; exact name lookup as the fallback.
	entries := t.semanticMatches(capability, limit, threshold, excluded)
	if len(entries) == 0 {
		entries = t.exactMatches(capability, limit, threshold, excluded)
	}
	if len(entries) == 0 {
		return &Result{
			Success: true,
			Data: map[string]interface{}{
				"agents": []interface{}{},
				"message": fmt.Sprintf("No agents currently offer %q. Try a broader description, or check again after more agents register.",
					capability),
			},
		}, nil
	}

	return &Result{Success: true, Data: map[string]interface{}{"agents": entries}}, nil
}

func (t *searchTool) semanticMatches(capability string, limit int, threshold float64, excluded map[string]struct{}) []map[string]interface{} {
	scored, err := t.ts.directory.GetByCapabilitySemantic(capability, limit+len(excluded), threshold)
	if err != nil {
		t.ts.logger.Warn("semantic search failed", zap.Error(err))
		return nil
	}

	var entries []map[string]interface{}
	for _, s := range scored {
		if _, skip := excluded[s.Registration.AgentID]; skip {
			continue
		}
		entries = append(entries, agentEntry(s.Registration, round3(s.Score)))
		if len(entries) >= limit {
			break
		}
	}
	return entries
}

func (t *searchTool) exactMatches(capability string, limit int, threshold float64, excluded map[string]struct{}) []map[string]interface{} {
	regs, err := t.ts.directory.GetByCapability(capability, limit+len(excluded), threshold)
	if err != nil {
		t.ts.logger.Warn("capability lookup failed", zap.Error(err))
		return nil
	}

	var entries []map[string]interface{}
	for _, reg := range regs {
		if _, skip := excluded[reg.AgentID]; skip {
			continue
		}
		// Name equality scores 1.0, everything else 0.0 on the exact
		// path.
		score := 0.0
		if _, has := reg.Capability(capability); has {
			score = 1.0
		}
		entries = append(entries, agentEntry(reg, score))
		if len(entries) >= limit {
			break
		}
	}
	return entries
}

// exclusionSet collects the agents a search never proposes: the caller
// itself, its current and recent conversation partners, agents it owes
// responses to, and every human.
func (ts *Toolset) exclusionSet() map[string]struct{} {
	excluded := map[string]struct{}{ts.agentID: {}}
	if ts.caller != nil {
		for _, peer := range ts.caller.ActiveConversationPeers() {
			excluded[peer] = struct{}{}
		}
		for _, peer := range ts.caller.PendingRequestPeers() {
			excluded[peer] = struct{}{}
		}
		for _, peer := range ts.caller.RecentPeers(historyPeerWindow) {
			excluded[peer] = struct{}{}
		}
	}
	for _, reg := range ts.directory.GetAllAgents() {
		if reg.AgentType == types.AgentTypeHuman {
			excluded[reg.AgentID] = struct{}{}
		}
	}
	return excluded
}

func agentEntry(reg *registry.AgentRegistration, similarity float64) map[string]interface{} {
	caps := make([]map[string]string, 0, len(reg.Capabilities))
	for _, c := range reg.Capabilities {
		caps = append(caps, map[string]string{"name": c.Name, "description": c.Description})
	}
	entry := map[string]interface{}{
		"agent_id":     reg.AgentID,
		"capabilities": caps,
		"similarity":   similarity,
	}
	if reg.PaymentAddress != "" {
		entry["payment_address"] = reg.PaymentAddress
	}
	return entry
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}

// delegateTool sends a collaboration request and waits for the answer.
type delegateTool struct {
	ts *Toolset
}

func (t *delegateTool) Name() string { return "send_collaboration_request" }

func (t *delegateTool) Description() string {
	return "Delegate a task to another agent and wait for its response. On timeout the task keeps running; use check_collaboration_result with the returned request_id."
}

func (t *delegateTool) InputSchema() *JSONSchema {
	return NewObjectSchema("Parameters for task delegation",
		map[string]*JSONSchema{
			"target_agent_id": NewStringSchema("Agent to delegate to"),
			"task":            NewStringSchema("Task description for the target agent"),
			"timeout":         NewNumberSchema("Seconds to wait for the response", DefaultCollaborationTimeout),
			"metadata":        NewObjectSchema("Extra metadata to attach to the request", nil, nil),
		},
		[]string{"target_agent_id", "task"})
}

func (t *delegateTool) Execute(ctx context.Context, params map[string]interface{}) (*Result, error) {
	target, ok := stringParam(params, "target_agent_id")
	if !ok {
		return nil, fmt.Errorf("send_collaboration_request requires target_agent_id")
	}
	task, ok := stringParam(params, "task")
	if !ok {
		return nil, fmt.Errorf("send_collaboration_request requires task")
	}

	if t.ts.standalone() {
		return standaloneResult("collaboration requests cannot be delivered"), nil
	}

	if refused := t.refuseTarget(target); refused != nil {
		return refused, nil
	}

	timeout := intParam(params, "timeout", DefaultCollaborationTimeout)
	if timeout > MaxCollaborationTimeout {
		timeout = MaxCollaborationTimeout
	}
	if timeout <= 0 {
		timeout = DefaultCollaborationTimeout
	}

	meta := types.Metadata{}
	if raw, ok := params["metadata"].(map[string]interface{}); ok {
		meta = types.Metadata(raw).Clone()
	}
	requestID := uuid.NewString()
	meta.SetRequestID(requestID)
	meta[types.MetaTimeout] = timeout

	content, err := t.ts.hub.SendCollaborationRequest(ctx, t.ts.agentID, target, task, meta)
	if err != nil {
		return &Result{
			Success: false,
			Data:    map[string]interface{}{"request_id": requestID},
			Error:   &Error{Code: "collaboration_refused", Message: err.Error()},
		}, nil
	}

	// A future still parked after the call returned means the wait
	// timed out and the content is the timeout notice. This probe
	// consumes a response that landed after the timeout, so when it
	// reports one that content replaces the notice.
	status, result := t.ts.hub.CollaborationResult(requestID)
	switch status {
	case "pending":
		return &Result{
			Success: false,
			Data: map[string]interface{}{
				"request_id": requestID,
				"response":   content,
			},
			Error: &Error{
				Code:       "timeout",
				Message:    fmt.Sprintf("agent %s did not respond within %d seconds", target, timeout),
				Suggestion: "call check_collaboration_result with the request_id; the agent may still finish",
			},
		}, nil
	case "completed_late", "completed":
		content = result
	case "error":
		return &Result{
			Success: false,
			Data: map[string]interface{}{
				"request_id": requestID,
				"response":   result,
			},
			Error: &Error{Code: "collaboration_error", Message: fmt.Sprintf("agent %s reported an error", target)},
		}, nil
	}

	return &Result{
		Success: true,
		Data: map[string]interface{}{
			"request_id": requestID,
			"response":   normalizeResponse(content),
		},
	}, nil
}

// refuseTarget rejects delegations to self, detached agents, and
// humans before anything is sent.
func (t *delegateTool) refuseTarget(target string) *Result {
	refusal := func(code, msg string) *Result {
		return &Result{Success: false, Error: &Error{Code: code, Message: msg}}
	}
	if target == t.ts.agentID {
		return refusal("self_delegation", "an agent cannot delegate a task to itself")
	}
	if _, active := t.ts.hub.Agent(target); !active {
		return refusal("target_inactive", fmt.Sprintf("agent %s is not active on the hub", target))
	}
	if agentType, err := t.ts.directory.GetAgentType(target); err == nil && agentType == types.AgentTypeHuman {
		return refusal("target_is_human", fmt.Sprintf("agent %s is a human; collaboration requests go to AI agents", target))
	}
	return nil
}

// normalizeResponse flattens processor output conventions: a JSON
// array with a single element unwraps to that element, everything else
// passes through untouched.
func normalizeResponse(content string) string {
	var decoded interface{}
	if err := json.Unmarshal([]byte(content), &decoded); err != nil {
		return content
	}
	list, ok := decoded.([]interface{})
	if !ok || len(list) != 1 {
		return content
	}
	if s, ok := list[0].(string); ok {
		return s
	}
	if encoded, err := json.Marshal(list[0]); err == nil {
		return string(encoded)
	}
	return fmt.Sprint(list[0])
}

// checkTool reports the state of an earlier delegation.
type checkTool struct {
	ts *Toolset
}

func (t *checkTool) Name() string { return "check_collaboration_result" }

func (t *checkTool) Description() string {
	return "Check whether a collaboration request has completed. Reports completed, completed_late, pending, not_found, or error, with the response when available."
}

func (t *checkTool) InputSchema() *JSONSchema {
	return NewObjectSchema("Parameters for a result check",
		map[string]*JSONSchema{
			"request_id": NewStringSchema("Request ID returned by send_collaboration_request"),
		},
		[]string{"request_id"})
}

func (t *checkTool) Execute(ctx context.Context, params map[string]interface{}) (*Result, error) {
	requestID, ok := stringParam(params, "request_id")
	if !ok {
		return nil, fmt.Errorf("check_collaboration_result requires request_id")
	}

	if t.ts.standalone() {
		return standaloneResult("no collaboration results to check"), nil
	}

	status, content := t.ts.hub.CollaborationResult(requestID)
	return &Result{
		Success: status != "error",
		Data: map[string]interface{}{
			"request_id": requestID,
			"status":     status,
			"response":   normalizeResponse(content),
		},
	}, nil
}

func stringParam(params map[string]interface{}, key string) (string, bool) {
	v, ok := params[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok && s != ""
}

func floatParam(params map[string]interface{}, key string, def float64) float64 {
	switch v := params[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return def
}

func intParam(params map[string]interface{}, key string, def int) int {
	switch v := params[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return def
}
