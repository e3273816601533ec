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
package communication

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teradata-labs/mesh/pkg/message"
	"github.com/teradata-labs/mesh/pkg/types"
)

// respond routes a COLLABORATION_RESPONSE from the sink back to the
// requester, tagged with response_to.
func (f *hubFixture) respond(from *sinkAgent, to, requestID, content string) {
	f.t.Helper()
	meta := types.Metadata{}
	meta.SetResponseTo(requestID)
	ok, err := f.hub.RouteMessage(context.Background(),
		f.signed(from, to, content, types.MessageTypeCollaborationResponse, meta))
	require.NoError(f.t, err)
	require.True(f.t, ok)
}

// waitForRequest blocks until the sink has received a message carrying
// a request_id, and returns that ID.
func (f *hubFixture) waitForRequest(s *sinkAgent) string {
	f.t.Helper()
	var requestID string
	require.Eventually(f.t, func() bool {
		for _, m := range s.messages() {
			if id, ok := m.Metadata.RequestID(); ok {
				requestID = id
				return true
			}
		}
		return false
	}, 5*time.Second, 10*time.Millisecond, "request never reached the receiver")
	return requestID
}

func TestSendAndWaitResponseResolves(t *testing.T) {
	f := newHubFixture(t)
	f.sink("agent-a", types.AgentTypeAI)
	b := f.sink("agent-b", types.AgentTypeAI)

	type result struct {
		resp *message.Message
		err  error
	}
	done := make(chan result, 1)
	go func() {
		resp, err := f.hub.SendAndWaitResponse(context.Background(),
			"agent-a", "agent-b", "ping", types.MessageTypeRequestCollaboration, nil, 5*time.Second)
		done <- result{resp, err}
	}()

	requestID := f.waitForRequest(b)
	f.respond(b, "agent-a", requestID, "pong")

	got := <-done
	require.NoError(t, got.err)
	require.NotNil(t, got.resp)
	assert.Equal(t, "pong", got.resp.Content)
	responseTo, ok := got.resp.Metadata.ResponseTo()
	require.True(t, ok)
	assert.Equal(t, requestID, responseTo)

	// The future was consumed.
	status, _ := f.hub.CollaborationResult(requestID)
	assert.Equal(t, ResultNotFound, status)
}

func TestSendAndWaitResponseTimeout(t *testing.T) {
	f := newHubFixture(t)
	f.sink("agent-a", types.AgentTypeAI)
	f.sink("agent-b", types.AgentTypeAI)

	meta := types.Metadata{}
	meta.SetRequestID("req-timeout")

	resp, err := f.hub.SendAndWaitResponse(context.Background(),
		"agent-a", "agent-b", "ping", types.MessageTypeRequestCollaboration, meta, 50*time.Millisecond)
	require.NoError(t, err)
	assert.Nil(t, resp, "timeout reports a nil response, not an error")

	// The future survives in the grace window as pending.
	status, _ := f.hub.CollaborationResult("req-timeout")
	assert.Equal(t, ResultPending, status)
}

func TestSendAndWaitResponseLateResponse(t *testing.T) {
	f := newHubFixture(t)
	f.sink("agent-a", types.AgentTypeAI)
	b := f.sink("agent-b", types.AgentTypeAI)

	meta := types.Metadata{}
	meta.SetRequestID("req-late")

	resp, err := f.hub.SendAndWaitResponse(context.Background(),
		"agent-a", "agent-b", "ping", types.MessageTypeRequestCollaboration, meta, 50*time.Millisecond)
	require.NoError(t, err)
	require.Nil(t, resp)

	// The response arrives after the caller gave up; it lands in the
	// late map instead of the receiver's queue.
	f.respond(b, "agent-a", "req-late", "pong")

	status, content := f.hub.CollaborationResult("req-late")
	assert.Equal(t, ResultCompletedLate, status)
	assert.Equal(t, "pong", content)

	// Reading the result consumed it.
	status, _ = f.hub.CollaborationResult("req-late")
	assert.Equal(t, ResultNotFound, status)
}

func TestSendAndWaitResponseContextCancel(t *testing.T) {
	f := newHubFixture(t)
	f.sink("agent-a", types.AgentTypeAI)
	f.sink("agent-b", types.AgentTypeAI)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()

	resp, err := f.hub.SendAndWaitResponse(ctx,
		"agent-a", "agent-b", "ping", types.MessageTypeRequestCollaboration, nil, 5*time.Second)
	assert.Nil(t, resp)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSendAndWaitResponseValidation(t *testing.T) {
	f := newHubFixture(t)
	f.sink("agent-a", types.AgentTypeAI)

	_, err := f.hub.SendAndWaitResponse(context.Background(),
		"agent-a", "agent-a", "hi", types.MessageTypeText, nil, time.Second)
	assert.ErrorIs(t, err, ErrSelfDelivery)

	_, err = f.hub.SendAndWaitResponse(context.Background(),
		"agent-a", "agent-ghost", "hi", types.MessageTypeText, nil, time.Second)
	assert.ErrorIs(t, err, ErrNotActive)

	_, err = f.hub.SendAndWaitResponse(context.Background(),
		"agent-ghost", "agent-a", "hi", types.MessageTypeText, nil, time.Second)
	assert.ErrorIs(t, err, ErrNotActive)
}

func TestCollaborationResultUnknownRequest(t *testing.T) {
	f := newHubFixture(t)
	status, content := f.hub.CollaborationResult("never-sent")
	assert.Equal(t, ResultNotFound, status)
	assert.Empty(t, content)
}

func TestCollaborationResultErrorResponse(t *testing.T) {
	f := newHubFixture(t)
	f.sink("agent-a", types.AgentTypeAI)
	b := f.sink("agent-b", types.AgentTypeAI)

	meta := types.Metadata{}
	meta.SetRequestID("req-err")
	resp, err := f.hub.SendAndWaitResponse(context.Background(),
		"agent-a", "agent-b", "ping", types.MessageTypeRequestCollaboration, meta, 50*time.Millisecond)
	require.NoError(t, err)
	require.Nil(t, resp)

	respMeta := types.Metadata{types.MetaErrorType: "processing_error"}
	respMeta.SetResponseTo("req-err")
	ok, err := f.hub.RouteMessage(context.Background(),
		f.signed(b, "agent-a", "it broke", types.MessageTypeCollaborationResponse, respMeta))
	require.NoError(t, err)
	require.True(t, ok)

	status, content := f.hub.CollaborationResult("req-err")
	assert.Equal(t, ResultError, status)
	assert.Equal(t, "it broke", content)
}

func TestAdaptiveTimeout(t *testing.T) {
	assert.Equal(t, 60*time.Second, AdaptiveTimeout("short task"))
	assert.Equal(t, 75*time.Second, AdaptiveTimeout(string(make([]byte, 100))))
	assert.Equal(t, 300*time.Second, AdaptiveTimeout(string(make([]byte, 10000))))
}

func TestSendCollaborationRequestRoundTrip(t *testing.T) {
	f := newHubFixture(t)
	f.sink("agent-a", types.AgentTypeAI)
	b := f.sink("agent-b", types.AgentTypeAI)

	done := make(chan string, 1)
	go func() {
		content, err := f.hub.SendCollaborationRequest(context.Background(),
			"agent-a", "agent-b", "summarize this", nil)
		require.NoError(t, err)
		done <- content
	}()

	requestID := f.waitForRequest(b)
	f.respond(b, "agent-a", requestID, "summary ready")

	assert.Equal(t, "summary ready", <-done)

	// The routed request carried the normalized chain.
	got := b.messages()
	require.Len(t, got, 1)
	chain, _ := got[0].Metadata.CollaborationChain()
	assert.Equal(t, []string{"agent-a"}, chain)
}

func TestSendCollaborationRequestTimeoutNotice(t *testing.T) {
	f := newHubFixture(t)
	f.sink("agent-a", types.AgentTypeAI)
	f.sink("agent-b", types.AgentTypeAI)

	meta := types.Metadata{types.MetaTimeout: 0.05}
	meta.SetRequestID("req-notice")

	content, err := f.hub.SendCollaborationRequest(context.Background(),
		"agent-a", "agent-b", "slow task", meta)
	require.NoError(t, err)
	assert.Contains(t, content, "timed out")
	assert.Contains(t, content, "req-notice", "the notice names the request ID for a later check")
}

func TestSendCollaborationRequestRefusesLoops(t *testing.T) {
	f := newHubFixture(t)
	f.sink("agent-a", types.AgentTypeAI)
	f.sink("agent-c", types.AgentTypeAI)

	// The receiver already appears mid-chain.
	meta := types.Metadata{}
	meta.SetCollaborationChain([]string{"agent-b", "agent-a", "agent-c"})
	_, err := f.hub.SendCollaborationRequest(context.Background(), "agent-c", "agent-a", "loop", meta)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already appears in chain")

	// The receiver is the chain's original sender.
	meta = types.Metadata{}
	meta.SetCollaborationChain([]string{"agent-b", "agent-c"})
	meta.SetOriginalSender("agent-a")
	_, err = f.hub.SendCollaborationRequest(context.Background(), "agent-c", "agent-a", "loop", meta)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "original sender")
}

func TestSendCollaborationRequestRefusesDeepChains(t *testing.T) {
	f := newHubFixture(t)
	f.sink("agent-f", types.AgentTypeAI)
	f.sink("agent-g", types.AgentTypeAI)

	meta := types.Metadata{}
	meta.SetCollaborationChain([]string{"agent-a", "agent-b", "agent-c", "agent-d", "agent-e", "agent-f"})
	_, err := f.hub.SendCollaborationRequest(context.Background(), "agent-f", "agent-g", "too deep", meta)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "hop limit")
}

func TestSendCollaborationRequestValidation(t *testing.T) {
	f := newHubFixture(t)
	f.sink("agent-a", types.AgentTypeAI)

	_, err := f.hub.SendCollaborationRequest(context.Background(), "agent-a", "agent-a", "self", nil)
	assert.ErrorIs(t, err, ErrSelfDelivery)

	_, err = f.hub.SendCollaborationRequest(context.Background(), "agent-a", "agent-ghost", "ghost", nil)
	assert.ErrorIs(t, err, ErrNotActive)

	f.hub.Stop()
	_, err = f.hub.SendCollaborationRequest(context.Background(), "agent-a", "agent-b", "stopped", nil)
	assert.ErrorIs(t, err, ErrHubStopped)
}
