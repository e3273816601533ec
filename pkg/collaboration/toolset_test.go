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
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/teradata-labs/mesh/pkg/agent"
	"github.com/teradata-labs/mesh/pkg/identity"
	"github.com/teradata-labs/mesh/pkg/registry"
	"github.com/teradata-labs/mesh/pkg/types"
)

// fakeHub records the last delegation and replays canned results.
type fakeHub struct {
	active map[string]bool

	response string
	err      error

	resultStatus  string
	resultContent string

	lastReceiver string
	lastTask     string
	lastMeta     types.Metadata
}

func (f *fakeHub) Agent(agentID string) (agent.Agent, bool) {
	return nil, f.active[agentID]
}

func (f *fakeHub) SendCollaborationRequest(ctx context.Context, senderID, receiverID, task string, metadata types.Metadata) (string, error) {
	f.lastReceiver = receiverID
	f.lastTask = task
	f.lastMeta = metadata
	return f.response, f.err
}

func (f *fakeHub) CollaborationResult(requestID string) (string, string) {
	if f.resultStatus == "" {
		return "not_found", ""
	}
	return f.resultStatus, f.resultContent
}

type fakeCaller struct {
	active  []string
	pending []string
	recent  []string
}

func (f *fakeCaller) ActiveConversationPeers() []string { return f.active }
func (f *fakeCaller) PendingRequestPeers() []string     { return f.pending }
func (f *fakeCaller) RecentPeers(n int) []string        { return f.recent }

func newDirectory(t *testing.T) *registry.Registry {
	t.Helper()
	return registry.New(registry.Options{Logger: zaptest.NewLogger(t)})
}

func registerAgent(t *testing.T, r *registry.Registry, id string, agentType types.AgentType, paymentAddress string, caps ...types.Capability) {
	t.Helper()
	ident, err := identity.NewKeyBased()
	require.NoError(t, err)
	ok, err := r.Register(&registry.AgentRegistration{
		AgentID:          id,
		AgentType:        agentType,
		InteractionModes: []types.InteractionMode{types.ModeAgentToAgent, types.ModeHumanToAgent},
		Capabilities:     caps,
		Identity:         ident,
		PaymentAddress:   paymentAddress,
	})
	require.NoError(t, err)
	require.True(t, ok)
}

func findTool(t *testing.T, ts *Toolset, name string) Tool {
	t.Helper()
	for _, tool := range ts.Tools() {
		if tool.Name() == name {
			return tool
		}
	}
	t.Fatalf("tool %s not found", name)
	return nil
}

func TestToolsetExposesThreeTools(t *testing.T) {
	ts := NewToolset(nil, nil, "agent-a", nil, nil)
	tools := ts.Tools()
	require.Len(t, tools, 3)

	names := []string{tools[0].Name(), tools[1].Name(), tools[2].Name()}
	assert.Equal(t, []string{"search_for_agents", "send_collaboration_request", "check_collaboration_result"}, names)

	for _, tool := range tools {
		assert.NotEmpty(t, tool.Description())
		schema := tool.InputSchema()
		require.NotNil(t, schema)
		assert.Equal(t, "object", schema.Type)
		assert.NotEmpty(t, schema.Required)
		_, err := schema.ToJSON()
		require.NoError(t, err)
	}
}

func TestStandaloneToolsNeverError(t *testing.T) {
	ts := NewToolset(nil, nil, "agent-a", nil, nil)
	ctx := context.Background()

	params := map[string]map[string]interface{}{
		"search_for_agents":          {"capability_name": "summarize"},
		"send_collaboration_request": {"target_agent_id": "agent-b", "task": "do it"},
		"check_collaboration_result": {"request_id": "req-1"},
	}
	for _, tool := range ts.Tools() {
		res, err := tool.Execute(ctx, params[tool.Name()])
		require.NoError(t, err, tool.Name())
		require.NotNil(t, res, tool.Name())
		assert.True(t, res.Success, tool.Name())
		data, ok := res.Data.(map[string]interface{})
		require.True(t, ok)
		assert.Equal(t, true, data["standalone"])
	}
}

func TestToolsRequireParameters(t *testing.T) {
	ts := NewToolset(nil, nil, "agent-a", nil, nil)
	ctx := context.Background()

	for _, tool := range ts.Tools() {
		_, err := tool.Execute(ctx, map[string]interface{}{})
		assert.Error(t, err, tool.Name())
	}
}

func TestSearchFindsAgents(t *testing.T) {
	dir := newDirectory(t)
	registerAgent(t, dir, "agent-worker", types.AgentTypeAI, "0xabc123",
		types.Capability{Name: "summarize", Description: "produce concise summaries of text"})

	hub := &fakeHub{active: map[string]bool{"agent-worker": true}}
	ts := NewToolset(hub, dir, "agent-a", nil, zaptest.NewLogger(t))

	res, err := findTool(t, ts, "search_for_agents").Execute(context.Background(),
		map[string]interface{}{"capability_name": "summarize"})
	require.NoError(t, err)
	require.True(t, res.Success)

	data := res.Data.(map[string]interface{})
	agents := data["agents"].([]map[string]interface{})
	require.Len(t, agents, 1)
	assert.Equal(t, "agent-worker", agents[0]["agent_id"])
	assert.Equal(t, "0xabc123", agents[0]["payment_address"])

	similarity, ok := agents[0]["similarity"].(float64)
	require.True(t, ok)
	assert.Greater(t, similarity, 0.0)
	// Rounded to three decimals.
	assert.InDelta(t, similarity, float64(int(similarity*1000))/1000, 0.0011)
}

func TestSearchExcludesKnownPeers(t *testing.T) {
	dir := newDirectory(t)
	summarize := types.Capability{Name: "summarize", Description: "produce concise summaries of text"}
	registerAgent(t, dir, "agent-a", types.AgentTypeAI, "", summarize)
	registerAgent(t, dir, "agent-busy", types.AgentTypeAI, "", summarize)
	registerAgent(t, dir, "agent-owed", types.AgentTypeAI, "", summarize)
	registerAgent(t, dir, "agent-recent", types.AgentTypeAI, "", summarize)
	registerAgent(t, dir, "human-1", types.AgentTypeHuman, "", summarize)
	registerAgent(t, dir, "agent-fresh", types.AgentTypeAI, "", summarize)

	caller := &fakeCaller{
		active:  []string{"agent-busy"},
		pending: []string{"agent-owed"},
		recent:  []string{"agent-recent"},
	}
	hub := &fakeHub{active: map[string]bool{}}
	ts := NewToolset(hub, dir, "agent-a", caller, zaptest.NewLogger(t))

	res, err := findTool(t, ts, "search_for_agents").Execute(context.Background(),
		map[string]interface{}{"capability_name": "summarize"})
	require.NoError(t, err)
	require.True(t, res.Success)

	agents := res.Data.(map[string]interface{})["agents"].([]map[string]interface{})
	require.Len(t, agents, 1, "everyone but the fresh agent is excluded")
	assert.Equal(t, "agent-fresh", agents[0]["agent_id"])
}

func TestSearchReportsEmptyResults(t *testing.T) {
	dir := newDirectory(t)
	hub := &fakeHub{}
	ts := NewToolset(hub, dir, "agent-a", nil, zaptest.NewLogger(t))

	res, err := findTool(t, ts, "search_for_agents").Execute(context.Background(),
		map[string]interface{}{"capability_name": "teleportation"})
	require.NoError(t, err)
	require.True(t, res.Success)

	data := res.Data.(map[string]interface{})
	assert.Empty(t, data["agents"])
	assert.Contains(t, data["message"], "teleportation")
}

func TestDelegateSuccess(t *testing.T) {
	dir := newDirectory(t)
	registerAgent(t, dir, "agent-worker", types.AgentTypeAI, "")

	hub := &fakeHub{
		active:   map[string]bool{"agent-worker": true},
		response: `["all done"]`,
	}
	ts := NewToolset(hub, dir, "agent-a", nil, zaptest.NewLogger(t))

	res, err := findTool(t, ts, "send_collaboration_request").Execute(context.Background(),
		map[string]interface{}{"target_agent_id": "agent-worker", "task": "summarize the report"})
	require.NoError(t, err)
	require.True(t, res.Success)

	data := res.Data.(map[string]interface{})
	assert.Equal(t, "all done", data["response"], "single-element list responses unwrap")

	// The request carried a fresh request ID and the default timeout.
	requestID, ok := hub.lastMeta.RequestID()
	require.True(t, ok)
	assert.Equal(t, requestID, data["request_id"])
	timeout, ok := hub.lastMeta.TimeoutSeconds()
	require.True(t, ok)
	assert.Equal(t, float64(DefaultCollaborationTimeout), timeout)
	assert.Equal(t, "agent-worker", hub.lastReceiver)
	assert.Equal(t, "summarize the report", hub.lastTask)
}

func TestDelegateCapsTimeout(t *testing.T) {
	dir := newDirectory(t)
	registerAgent(t, dir, "agent-worker", types.AgentTypeAI, "")
	hub := &fakeHub{active: map[string]bool{"agent-worker": true}, response: "ok"}
	ts := NewToolset(hub, dir, "agent-a", nil, zaptest.NewLogger(t))

	_, err := findTool(t, ts, "send_collaboration_request").Execute(context.Background(),
		map[string]interface{}{"target_agent_id": "agent-worker", "task": "slow", "timeout": float64(900)})
	require.NoError(t, err)

	timeout, ok := hub.lastMeta.TimeoutSeconds()
	require.True(t, ok)
	assert.Equal(t, float64(MaxCollaborationTimeout), timeout)
}

func TestDelegateRefusals(t *testing.T) {
	dir := newDirectory(t)
	registerAgent(t, dir, "human-1", types.AgentTypeHuman, "")
	hub := &fakeHub{active: map[string]bool{"human-1": true}}
	ts := NewToolset(hub, dir, "agent-a", nil, zaptest.NewLogger(t))
	tool := findTool(t, ts, "send_collaboration_request")

	res, err := tool.Execute(context.Background(),
		map[string]interface{}{"target_agent_id": "agent-a", "task": "navel gazing"})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, "self_delegation", res.Error.Code)

	res, err = tool.Execute(context.Background(),
		map[string]interface{}{"target_agent_id": "agent-ghost", "task": "haunting"})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, "target_inactive", res.Error.Code)

	res, err = tool.Execute(context.Background(),
		map[string]interface{}{"target_agent_id": "human-1", "task": "manual labor"})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, "target_is_human", res.Error.Code)
}

func TestDelegateHubRefusal(t *testing.T) {
	dir := newDirectory(t)
	registerAgent(t, dir, "agent-worker", types.AgentTypeAI, "")
	hub := &fakeHub{
		active: map[string]bool{"agent-worker": true},
		err:    errors.New("refusing collaboration with agent-a: it is the original sender of this chain"),
	}
	ts := NewToolset(hub, dir, "agent-b", nil, zaptest.NewLogger(t))

	res, err := findTool(t, ts, "send_collaboration_request").Execute(context.Background(),
		map[string]interface{}{"target_agent_id": "agent-worker", "task": "loop"})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, "collaboration_refused", res.Error.Code)
	assert.Contains(t, res.Error.Message, "original sender")
}

func TestDelegateTimeout(t *testing.T) {
	dir := newDirectory(t)
	registerAgent(t, dir, "agent-worker", types.AgentTypeAI, "")
	hub := &fakeHub{
		active:       map[string]bool{"agent-worker": true},
		response:     "Collaboration request to agent-worker timed out after 120 seconds.",
		resultStatus: "pending",
	}
	ts := NewToolset(hub, dir, "agent-a", nil, zaptest.NewLogger(t))

	res, err := findTool(t, ts, "send_collaboration_request").Execute(context.Background(),
		map[string]interface{}{"target_agent_id": "agent-worker", "task": "slow task"})
	require.NoError(t, err)
	assert.False(t, res.Success)
	require.NotNil(t, res.Error)
	assert.Equal(t, "timeout", res.Error.Code)
	assert.Contains(t, res.Error.Suggestion, "check_collaboration_result")

	data := res.Data.(map[string]interface{})
	assert.NotEmpty(t, data["request_id"])
}

func TestDelegateRecoversResponseLandingAfterTimeout(t *testing.T) {
	dir := newDirectory(t)
	registerAgent(t, dir, "agent-worker", types.AgentTypeAI, "")

	// The wait timed out, but the response landed before the tool's
	// status probe. The probe consumes it, so the tool must surface
	// that content rather than the timeout notice.
	hub := &fakeHub{
		active:        map[string]bool{"agent-worker": true},
		response:      "Collaboration request to agent-worker timed out after 120 seconds.",
		resultStatus:  "completed_late",
		resultContent: `["pong"]`,
	}
	ts := NewToolset(hub, dir, "agent-a", nil, zaptest.NewLogger(t))

	res, err := findTool(t, ts, "send_collaboration_request").Execute(context.Background(),
		map[string]interface{}{"target_agent_id": "agent-worker", "task": "slow task"})
	require.NoError(t, err)
	require.True(t, res.Success)

	data := res.Data.(map[string]interface{})
	assert.Equal(t, "pong", data["response"])
	assert.NotContains(t, data["response"], "timed out")
}

func TestDelegateReportsErroredLateResponse(t *testing.T) {
	dir := newDirectory(t)
	registerAgent(t, dir, "agent-worker", types.AgentTypeAI, "")

	hub := &fakeHub{
		active:        map[string]bool{"agent-worker": true},
		response:      "Collaboration request to agent-worker timed out after 120 seconds.",
		resultStatus:  "error",
		resultContent: "task failed: out of cheese",
	}
	ts := NewToolset(hub, dir, "agent-a", nil, zaptest.NewLogger(t))

	res, err := findTool(t, ts, "send_collaboration_request").Execute(context.Background(),
		map[string]interface{}{"target_agent_id": "agent-worker", "task": "slow task"})
	require.NoError(t, err)
	assert.False(t, res.Success)
	require.NotNil(t, res.Error)
	assert.Equal(t, "collaboration_error", res.Error.Code)
	assert.Equal(t, "task failed: out of cheese", res.Data.(map[string]interface{})["response"])
}

func TestCheckResultStatuses(t *testing.T) {
	dir := newDirectory(t)
	hub := &fakeHub{resultStatus: "completed_late", resultContent: "pong"}
	ts := NewToolset(hub, dir, "agent-a", nil, zaptest.NewLogger(t))
	tool := findTool(t, ts, "check_collaboration_result")

	res, err := tool.Execute(context.Background(), map[string]interface{}{"request_id": "req-1"})
	require.NoError(t, err)
	assert.True(t, res.Success)
	data := res.Data.(map[string]interface{})
	assert.Equal(t, "completed_late", data["status"])
	assert.Equal(t, "pong", data["response"])

	hub.resultStatus = "error"
	hub.resultContent = "it broke"
	res, err = tool.Execute(context.Background(), map[string]interface{}{"request_id": "req-1"})
	require.NoError(t, err)
	assert.False(t, res.Success)

	hub.resultStatus = ""
	res, err = tool.Execute(context.Background(), map[string]interface{}{"request_id": "unknown"})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "not_found", res.Data.(map[string]interface{})["status"])
}

func TestNormalizeResponse(t *testing.T) {
	assert.Equal(t, "plain text", normalizeResponse("plain text"))
	assert.Equal(t, "only", normalizeResponse(`["only"]`))
	assert.Equal(t, `{"k":1}`, normalizeResponse(`[{"k":1}]`))
	assert.Equal(t, `["a","b"]`, normalizeResponse(`["a","b"]`))
	assert.Equal(t, "", normalizeResponse(""))
}
