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

// Package communication implements the routing hub: the in-process
// substrate that delivers signed messages between registered agents,
// correlates requests with responses, preserves late responses past
// their caller's timeout, and fans routed messages out to observers.
//
// The hub never mutates registrations; the registry owns the directory
// and the hub consults it for identities, agent types, and interaction
// modes. Agents own their queues; the hub touches them only through
// ReceiveMessage.
package communication

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/teradata-labs/mesh/pkg/agent"
	"github.com/teradata-labs/mesh/pkg/identity"
	"github.com/teradata-labs/mesh/pkg/message"
	"github.com/teradata-labs/mesh/pkg/registry"
	"github.com/teradata-labs/mesh/pkg/types"
)

const (
	// DefaultResponseTimeout bounds SendAndWaitResponse when the caller
	// passes no timeout.
	DefaultResponseTimeout = 60 * time.Second

	// DefaultGraceWindow is how long a timed-out pending entry survives
	// so a late response still has somewhere to land.
	DefaultGraceWindow = 60 * time.Second

	// DefaultMaxChainLength caps collaboration delegation depth.
	DefaultMaxChainLength = 5
)

var (
	// ErrHubStopped is returned for any operation after Stop.
	ErrHubStopped = errors.New("hub is stopped")

	// ErrSelfDelivery is returned when sender and receiver are the same
	// agent on a caller-facing API.
	ErrSelfDelivery = errors.New("agent cannot message itself")

	// ErrNotActive is returned when a caller-facing API names an agent
	// that is not attached to this hub.
	ErrNotActive = errors.New("agent not active on this hub")
)

// Options configures a Hub.
type Options struct {
	// Registry resolves identities, agent types, and interaction modes.
	// Required.
	Registry *registry.Registry

	// DefaultTimeout for SendAndWaitResponse. <= 0 selects
	// DefaultResponseTimeout.
	DefaultTimeout time.Duration

	// GraceWindow keeps timed-out pending entries alive for late
	// responses. <= 0 selects DefaultGraceWindow.
	GraceWindow time.Duration

	// MaxChainLength caps collaboration chains. <= 0 selects
	// DefaultMaxChainLength.
	MaxChainLength int

	// Logger. Nil falls back to zap.NewNop.
	Logger *zap.Logger
}

// pendingResponse is a parked future keyed by request ID. The buffered
// channel holds at most one response; timedOut is guarded by the hub
// mutex so resolution and timeout cannot race.
type pendingResponse struct {
	ch        chan *message.Message
	timedOut  bool
	createdAt time.Time
}

// Hub routes messages between the agents attached to it. All methods
// are safe for concurrent use.
type Hub struct {
	registry       *registry.Registry
	defaultTimeout time.Duration
	graceWindow    time.Duration
	maxChainLength int
	logger         *zap.Logger

	mu             sync.RWMutex
	agents         map[string]agent.Agent
	history        []*message.Message
	agentHandlers  map[string][]*handlerEntry
	globalHandlers []*handlerEntry
	pending        map[string]*pendingResponse
	late           map[string]*message.Message

	closed     atomic.Bool
	handlerSeq atomic.Uint64

	routed           atomic.Int64
	delivered        atomic.Int64
	refused          atomic.Int64
	securityFailures atomic.Int64
	resolved         atomic.Int64
	lateArrivals     atomic.Int64
}

// NewHub builds a Hub over the given registry.
func NewHub(opts Options) (*Hub, error) {
	if opts.Registry == nil {
		return nil, fmt.Errorf("hub requires a registry")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := opts.DefaultTimeout
	if timeout <= 0 {
		timeout = DefaultResponseTimeout
	}
	grace := opts.GraceWindow
	if grace <= 0 {
		grace = DefaultGraceWindow
	}
	maxChain := opts.MaxChainLength
	if maxChain <= 0 {
		maxChain = DefaultMaxChainLength
	}

	return &Hub{
		registry:       opts.Registry,
		defaultTimeout: timeout,
		graceWindow:    grace,
		maxChainLength: maxChain,
		logger:         logger,
		agents:         make(map[string]agent.Agent),
		agentHandlers:  make(map[string][]*handlerEntry),
		pending:        make(map[string]*pendingResponse),
		late:           make(map[string]*message.Message),
	}, nil
}

// AddAgent attaches an agent to the hub. Agents exposing AttachHub (the
// BaseAgent runtime does) get the hub wired as their router.
func (h *Hub) AddAgent(a agent.Agent) error {
	if h.closed.Load() {
		return ErrHubStopped
	}
	id := a.ID()

	h.mu.Lock()
	if _, exists := h.agents[id]; exists {
		h.mu.Unlock()
		return fmt.Errorf("agent %s is already attached", id)
	}
	h.agents[id] = a
	h.mu.Unlock()

	if attacher, ok := a.(interface{ AttachHub(agent.Router) }); ok {
		attacher.AttachHub(h)
	}
	h.logger.Info("agent attached", zap.String("agent_id", id))
	return nil
}

// RemoveAgent detaches an agent. Idempotent; the agent's hub reference
// is cleared so later sends fail loud instead of routing nowhere.
func (h *Hub) RemoveAgent(agentID string) {
	h.mu.Lock()
	a, ok := h.agents[agentID]
	delete(h.agents, agentID)
	h.mu.Unlock()
	if !ok {
		return
	}

	if detacher, ok := a.(interface{ DetachHub() }); ok {
		detacher.DetachHub()
	}
	h.logger.Info("agent detached", zap.String("agent_id", agentID))
}

// Agent returns the attached agent with the given ID.
func (h *Hub) Agent(agentID string) (agent.Agent, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	a, ok := h.agents[agentID]
	return a, ok
}

// ActiveAgents lists the IDs of all attached agents.
func (h *Hub) ActiveAgents() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]string, 0, len(h.agents))
	for id := range h.agents {
		out = append(out, id)
	}
	return out
}

// RouteMessage validates and delivers one message. The boolean is the
// routing verdict: false with a nil error is a refusal the sender can
// act on (unknown peer, mode mismatch, self-send); a non-nil error is a
// security failure. The check order is fixed:
//
//  1. SYSTEM messages bypass every check;
//  2. self-send refused;
//  3. both endpoints must be attached;
//  4. COOLDOWN and STOP route on a control path that skips identity
//     checks, with COOLDOWN delivered only to human receivers;
//  5. a COLLABORATION_RESPONSE answering a parked request resolves the
//     future (or lands in the late map) instead of being delivered;
//  6. signature and identity verification, then interaction-mode
//     intersection;
//  7. REQUEST_COLLABORATION gets its chain and original_sender
//     normalized;
//  8. history append, then synchronous queue delivery, then handler
//     fan-out.
//
// Delivery is synchronous into the receiver's queue, so messages
// between one (sender, receiver) pair arrive in routing order.
func (h *Hub) RouteMessage(ctx context.Context, m *message.Message) (bool, error) {
	if h.closed.Load() {
		return false, ErrHubStopped
	}
	if m == nil {
		return false, fmt.Errorf("cannot route a nil message")
	}
	h.routed.Add(1)

	// 1. SYSTEM is hub-internal signalling: recorded and fanned out,
	// never queue-delivered or identity-checked.
	if m.Type == types.MessageTypeSystem {
		h.appendHistory(m)
		h.notifyHandlers(m)
		return true, nil
	}

	// 2.
	if m.SenderID == m.ReceiverID {
		h.refused.Add(1)
		h.logger.Warn("refusing self-send", zap.String("agent_id", m.SenderID), zap.String("message_id", m.ID))
		return false, nil
	}

	// 3.
	h.mu.RLock()
	_, senderActive := h.agents[m.SenderID]
	receiver, receiverActive := h.agents[m.ReceiverID]
	h.mu.RUnlock()
	if !senderActive || !receiverActive {
		h.refused.Add(1)
		h.logger.Warn("refusing message between inactive agents",
			zap.String("sender", m.SenderID), zap.Bool("sender_active", senderActive),
			zap.String("receiver", m.ReceiverID), zap.Bool("receiver_active", receiverActive))
		return false, nil
	}

	// 4. Control path. STOP always reaches the receiver; COOLDOWN is
	// only worth a human's attention, agents observe it through their
	// handlers.
	if m.Type == types.MessageTypeCooldown || m.Type == types.MessageTypeStop {
		deliver := m.Type == types.MessageTypeStop
		if !deliver {
			if agentType, err := h.registry.GetAgentType(m.ReceiverID); err == nil && agentType == types.AgentTypeHuman {
				deliver = true
			}
		}
		h.appendHistory(m)
		if deliver {
			if err := h.deliver(ctx, receiver, m); err != nil {
				h.logger.Warn("control message delivery failed",
					zap.String("message_id", m.ID), zap.Error(err))
			}
		}
		h.notifyHandlers(m)
		return true, nil
	}

	// 5. A response answering a parked request resolves the future and
	// never reaches the receiver's queue; the waiter is the consumer.
	// Responses without a matching entry route normally.
	if m.Type == types.MessageTypeCollaborationResponse {
		if requestID, ok := m.Metadata.ResponseTo(); ok && h.resolvePending(requestID, m) {
			h.appendHistory(m)
			h.notifyHandlers(m)
			return true, nil
		}
	}

	// 6.
	senderIdent, err := h.registry.Identity(m.SenderID)
	if err != nil {
		h.refused.Add(1)
		h.logger.Warn("sender has no registered identity", zap.String("sender", m.SenderID))
		return false, nil
	}
	verified, err := m.Verify(senderIdent)
	if err != nil {
		h.securityFailures.Add(1)
		h.logger.Error("message verification error",
			zap.String("message_id", m.ID), zap.String("sender", m.SenderID), zap.Error(err))
		return false, err
	}
	if !verified {
		h.securityFailures.Add(1)
		h.logger.Error("message signature invalid",
			zap.String("message_id", m.ID), zap.String("sender", m.SenderID))
		return false, identity.NewSecurityError("message %s signature does not verify against sender %s", m.ID, m.SenderID)
	}
	if !h.registry.VerifyAgent(m.ReceiverID) {
		h.securityFailures.Add(1)
		return false, identity.NewSecurityError("receiver %s identity is not verified", m.ReceiverID)
	}

	senderReg, err := h.registry.GetRegistration(m.SenderID)
	if err != nil {
		h.refused.Add(1)
		return false, nil
	}
	receiverReg, err := h.registry.GetRegistration(m.ReceiverID)
	if err != nil {
		h.refused.Add(1)
		return false, nil
	}
	if !senderReg.SharesMode(receiverReg) {
		h.refused.Add(1)
		h.logger.Warn("no shared interaction mode",
			zap.String("sender", m.SenderID), zap.String("receiver", m.ReceiverID))
		return false, nil
	}

	// 7. The chain always names the sender, and original_sender is
	// pinned to the chain's first hop before anyone downstream sees it.
	if m.Type == types.MessageTypeRequestCollaboration {
		chain, ok := m.Metadata.CollaborationChain()
		if !ok || len(chain) == 0 {
			chain = []string{m.SenderID}
		} else if !containsID(chain, m.SenderID) {
			chain = append(chain, m.SenderID)
		}
		m.Metadata.SetCollaborationChain(chain)
		if _, ok := m.Metadata.OriginalSender(); !ok {
			m.Metadata.SetOriginalSender(chain[0])
		}
	}

	// 8.
	h.appendHistory(m)
	if err := h.deliver(ctx, receiver, m); err != nil {
		h.refused.Add(1)
		h.logger.Warn("delivery failed",
			zap.String("message_id", m.ID), zap.String("receiver", m.ReceiverID), zap.Error(err))
		return false, nil
	}
	h.notifyHandlers(m)
	return true, nil
}

// resolvePending hands a response to the parked future for requestID.
// A timed-out future routes the response to the late map instead.
// Returns false when no entry exists, in which case the message routes
// normally.
func (h *Hub) resolvePending(requestID string, m *message.Message) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	p, ok := h.pending[requestID]
	if !ok {
		return false
	}
	if p.timedOut {
		h.late[requestID] = m
		h.lateArrivals.Add(1)
		h.logger.Info("late response stored",
			zap.String("request_id", requestID), zap.String("message_id", m.ID))
		return true
	}
	select {
	case p.ch <- m:
		h.resolved.Add(1)
	default:
		// A second response to the same request; the first wins.
		h.logger.Warn("duplicate response dropped", zap.String("request_id", requestID))
	}
	return true
}

// deliver pushes the message into the receiver's queue. Blocks only on
// a full queue, which is the documented back-pressure point.
func (h *Hub) deliver(ctx context.Context, receiver agent.Agent, m *message.Message) error {
	if err := receiver.ReceiveMessage(ctx, m); err != nil {
		return fmt.Errorf("failed to deliver %s to %s: %w", m.ID, m.ReceiverID, err)
	}
	h.delivered.Add(1)
	return nil
}

func (h *Hub) appendHistory(m *message.Message) {
	h.mu.Lock()
	h.history = append(h.history, m)
	h.mu.Unlock()
}

// History returns a copy of the routed-message history, oldest first.
// Advisory and in-memory only.
func (h *Hub) History() []*message.Message {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append([]*message.Message(nil), h.history...)
}

// Stats reports hub counters.
func (h *Hub) Stats() map[string]interface{} {
	h.mu.RLock()
	activeAgents := len(h.agents)
	pendingCount := len(h.pending)
	lateCount := len(h.late)
	historySize := len(h.history)
	h.mu.RUnlock()

	return map[string]interface{}{
		"active_agents":      activeAgents,
		"messages_routed":    h.routed.Load(),
		"messages_delivered": h.delivered.Load(),
		"messages_refused":   h.refused.Load(),
		"security_failures":  h.securityFailures.Load(),
		"responses_resolved": h.resolved.Load(),
		"late_responses":     h.lateArrivals.Load(),
		"pending_responses":  pendingCount,
		"stored_late":        lateCount,
		"history_size":       historySize,
	}
}

// Stop shuts the hub down: further routing is refused, attached agents
// are detached, and parked futures are dropped. Safe to call
// repeatedly.
func (h *Hub) Stop() {
	if !h.closed.CompareAndSwap(false, true) {
		return
	}

	h.mu.Lock()
	agents := make([]agent.Agent, 0, len(h.agents))
	for _, a := range h.agents {
		agents = append(agents, a)
	}
	h.agents = make(map[string]agent.Agent)
	h.pending = make(map[string]*pendingResponse)
	h.mu.Unlock()

	for _, a := range agents {
		if detacher, ok := a.(interface{ DetachHub() }); ok {
			detacher.DetachHub()
		}
	}
	h.logger.Info("hub stopped",
		zap.Int64("messages_routed", h.routed.Load()),
		zap.Int64("messages_delivered", h.delivered.Load()))
}

func containsID(ids []string, id string) bool {
	for _, candidate := range ids {
		if candidate == id {
			return true
		}
	}
	return false
}
