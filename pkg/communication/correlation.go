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
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/teradata-labs/mesh/pkg/message"
	"github.com/teradata-labs/mesh/pkg/types"
)

// Collaboration result statuses reported by CollaborationResult.
const (
	ResultCompleted     = "completed"
	ResultCompletedLate = "completed_late"
	ResultPending       = "pending"
	ResultNotFound      = "not_found"
	ResultError         = "error"
)

// SendAndWaitResponse sends a signed message on the sender's behalf and
// blocks until a response tagged with the matching request_id arrives,
// the timeout fires, or ctx is cancelled. A nil message with a nil
// error means timeout: the request may still be answered within the
// grace window, but this caller cannot resume waiting on it. The only
// way to consume a late response is CollaborationResult.
func (h *Hub) SendAndWaitResponse(ctx context.Context, senderID, receiverID, content string, msgType types.MessageType, metadata types.Metadata, timeout time.Duration) (*message.Message, error) {
	if h.closed.Load() {
		return nil, ErrHubStopped
	}
	if senderID == receiverID {
		return nil, fmt.Errorf("%w: %s", ErrSelfDelivery, senderID)
	}
	if timeout <= 0 {
		timeout = h.defaultTimeout
	}

	h.mu.RLock()
	sender, senderActive := h.agents[senderID]
	_, receiverActive := h.agents[receiverID]
	h.mu.RUnlock()
	if !senderActive {
		return nil, fmt.Errorf("%w: sender %s", ErrNotActive, senderID)
	}
	if !receiverActive {
		return nil, fmt.Errorf("%w: receiver %s", ErrNotActive, receiverID)
	}

	meta := metadata.Clone()
	requestID, ok := meta.RequestID()
	if !ok {
		requestID = uuid.NewString()
		meta.SetRequestID(requestID)
	}

	m, err := message.New(senderID, receiverID, content, msgType, meta, types.ProtocolV11, sender.Identity())
	if err != nil {
		return nil, fmt.Errorf("failed to compose request %s: %w", requestID, err)
	}

	// Park the future before routing so a fast responder cannot win the
	// race against it.
	entry := &pendingResponse{ch: make(chan *message.Message, 1), createdAt: time.Now()}
	h.mu.Lock()
	h.pending[requestID] = entry
	h.mu.Unlock()

	routed, err := h.RouteMessage(ctx, m)
	if err != nil || !routed {
		h.mu.Lock()
		delete(h.pending, requestID)
		h.mu.Unlock()
		if err != nil {
			return nil, fmt.Errorf("failed to route request %s: %w", requestID, err)
		}
		return nil, fmt.Errorf("request %s to %s was refused", requestID, receiverID)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case resp := <-entry.ch:
		h.mu.Lock()
		delete(h.pending, requestID)
		h.mu.Unlock()
		return resp, nil

	case <-timer.C:
		if resp := h.abandonWait(requestID, entry); resp != nil {
			return resp, nil
		}
		h.logger.Info("response wait timed out",
			zap.String("request_id", requestID),
			zap.String("receiver", receiverID),
			zap.Duration("timeout", timeout))
		return nil, nil

	case <-ctx.Done():
		if resp := h.abandonWait(requestID, entry); resp != nil {
			return resp, nil
		}
		return nil, ctx.Err()
	}
}

// abandonWait marks the future timed-out and schedules its removal
// after the grace window. A response that slipped in just before the
// mark is returned so it is not lost.
func (h *Hub) abandonWait(requestID string, entry *pendingResponse) *message.Message {
	h.mu.Lock()
	select {
	case resp := <-entry.ch:
		delete(h.pending, requestID)
		h.mu.Unlock()
		return resp
	default:
	}
	entry.timedOut = true
	h.mu.Unlock()

	time.AfterFunc(h.graceWindow, func() {
		h.mu.Lock()
		delete(h.pending, requestID)
		h.mu.Unlock()
	})
	return nil
}

// AdaptiveTimeout scales the collaboration wait with task length: a
// minute base plus fifteen seconds per hundred characters, capped at
// five minutes.
func AdaptiveTimeout(task string) time.Duration {
	seconds := 60 + (len(task)/100)*15
	if seconds > 300 {
		seconds = 300
	}
	return time.Duration(seconds) * time.Second
}

// SendCollaborationRequest delegates a task to another agent and waits
// for its response. The chain rules refuse delegations that would loop:
// the receiver must not already appear in the collaboration chain, must
// not be the chain's original sender, and the chain may grow to at most
// the configured hop limit. On timeout the returned string is a
// human-readable notice carrying the request ID for a later
// CollaborationResult check.
func (h *Hub) SendCollaborationRequest(ctx context.Context, senderID, receiverID, task string, metadata types.Metadata) (string, error) {
	if h.closed.Load() {
		return "", ErrHubStopped
	}
	if senderID == receiverID {
		return "", fmt.Errorf("%w: %s cannot delegate to itself", ErrSelfDelivery, senderID)
	}

	h.mu.RLock()
	_, senderActive := h.agents[senderID]
	_, receiverActive := h.agents[receiverID]
	h.mu.RUnlock()
	if !senderActive {
		return "", fmt.Errorf("%w: sender %s", ErrNotActive, senderID)
	}
	if !receiverActive {
		return "", fmt.Errorf("%w: receiver %s", ErrNotActive, receiverID)
	}

	meta := metadata.Clone()
	chain, ok := meta.CollaborationChain()
	if !ok || len(chain) == 0 {
		chain = []string{senderID}
	} else if !containsID(chain, senderID) {
		chain = append(chain, senderID)
	}

	originalSender, ok := meta.OriginalSender()
	if !ok {
		originalSender = chain[0]
	}
	if receiverID == originalSender {
		return "", fmt.Errorf("refusing collaboration with %s: it is the original sender of this chain", originalSender)
	}
	if containsID(chain, receiverID) {
		return "", fmt.Errorf("refusing collaboration with %s: agent already appears in chain %v", receiverID, chain)
	}
	if len(chain) > h.maxChainLength {
		return "", fmt.Errorf("refusing collaboration: chain length %d exceeds the %d hop limit", len(chain), h.maxChainLength)
	}

	meta.SetCollaborationChain(chain)
	meta.SetOriginalSender(originalSender)

	requestID, ok := meta.RequestID()
	if !ok {
		requestID = uuid.NewString()
		meta.SetRequestID(requestID)
	}

	timeout := AdaptiveTimeout(task)
	if override, ok := meta.TimeoutSeconds(); ok && override > 0 {
		timeout = time.Duration(override * float64(time.Second))
	}

	h.logger.Info("sending collaboration request",
		zap.String("request_id", requestID),
		zap.String("sender", senderID),
		zap.String("receiver", receiverID),
		zap.Strings("chain", chain),
		zap.Duration("timeout", timeout))

	resp, err := h.SendAndWaitResponse(ctx, senderID, receiverID, task, types.MessageTypeRequestCollaboration, meta, timeout)
	if err != nil {
		return "", err
	}
	if resp == nil {
		return fmt.Sprintf("Collaboration request to %s timed out after %.0f seconds. The agent may still be working on it; check again later with request ID %s.",
			receiverID, timeout.Seconds(), requestID), nil
	}
	return resp.Content, nil
}

// CollaborationResult reports the state of a collaboration request. A
// completed-late response is consumed by the call that reads it.
// Responses carrying an error_type annotation report status error.
func (h *Hub) CollaborationResult(requestID string) (status, content string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if m, ok := h.late[requestID]; ok {
		delete(h.late, requestID)
		if _, failed := m.Metadata.ErrorType(); failed {
			return ResultError, m.Content
		}
		return ResultCompletedLate, m.Content
	}

	if entry, ok := h.pending[requestID]; ok {
		select {
		case m := <-entry.ch:
			delete(h.pending, requestID)
			if _, failed := m.Metadata.ErrorType(); failed {
				return ResultError, m.Content
			}
			return ResultCompleted, m.Content
		default:
			return ResultPending, ""
		}
	}

	return ResultNotFound, ""
}
