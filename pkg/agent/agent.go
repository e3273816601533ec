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

// Package agent implements the per-agent runtime: a FIFO message queue,
// a processing loop that never blocks dequeuing, the base handling
// cascade (signature check, cooldown, turn caps, conversation
// sentinels), and the implicit request/response correlation that tags
// outbound replies with response_to.
//
// Domain logic stays out of this package: concrete agents inject a
// MessageProcessor and the runtime handles everything around it.
package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/teradata-labs/mesh/pkg/identity"
	"github.com/teradata-labs/mesh/pkg/message"
	"github.com/teradata-labs/mesh/pkg/protocol"
	"github.com/teradata-labs/mesh/pkg/types"
)

const (
	// DefaultMaxTurns is the per-conversation turn cap after which the
	// agent auto-ends the conversation with STOP.
	DefaultMaxTurns = 20

	// DefaultQueueSize bounds the inbound queue. A full queue
	// back-pressures ReceiveMessage: the hub's delivery goroutine
	// blocks until the agent drains or the context is cancelled.
	DefaultQueueSize = 1024

	// ExitSentinel in message content ends the conversation like STOP.
	ExitSentinel = "__EXIT__"
)

var (
	// ErrNoHub is returned by SendMessage before the agent is attached
	// to a hub.
	ErrNoHub = errors.New("agent not attached to a hub")

	// ErrStopped is returned when a message is handed to a stopped
	// agent.
	ErrStopped = errors.New("agent is stopped")

	// ErrRoutingRefused is returned when the hub declines delivery
	// (unknown peer, mode mismatch). Send failures are loud, never
	// silently dropped.
	ErrRoutingRefused = errors.New("hub refused to route message")
)

// Agent is the minimal surface the hub needs from a participant.
type Agent interface {
	// ID is the registry agent identifier.
	ID() string

	// Identity returns the agent's cryptographic identity.
	Identity() *identity.Identity

	// ReceiveMessage enqueues an inbound message. It blocks only when
	// the queue is full (documented back-pressure) and fails on a
	// stopped agent.
	ReceiveMessage(ctx context.Context, m *message.Message) error

	// Metadata is advisory agent information.
	Metadata() map[string]interface{}
}

// Router is the slice of the hub an agent needs for sending. Satisfied
// by *communication.Hub; agents hold it as a non-owning reference.
type Router interface {
	RouteMessage(ctx context.Context, m *message.Message) (bool, error)
}

// MessageProcessor is the domain logic behind an agent: it sees
// messages that survive the base cascade and returns the reply content.
// An empty reply means no response is sent.
type MessageProcessor interface {
	ProcessMessage(ctx context.Context, m *message.Message) (string, error)
}

// ProcessorFunc adapts a function to MessageProcessor.
type ProcessorFunc func(ctx context.Context, m *message.Message) (string, error)

// ProcessMessage implements MessageProcessor.
func (f ProcessorFunc) ProcessMessage(ctx context.Context, m *message.Message) (string, error) {
	return f(ctx, m)
}

// IdentityResolver looks up a peer's public identity for signature
// verification, typically registry.Identity. Nil disables inbound
// verification (the hub has already verified routed messages).
type IdentityResolver func(agentID string) (*identity.Identity, error)

// Options configures a BaseAgent.
type Options struct {
	// ID is the agent identifier. Required.
	ID string

	// Identity must carry a private key so the agent can sign.
	// Required.
	Identity *identity.Identity

	// Protocol used to format and validate messages. Nil selects
	// SimpleAgentProtocol.
	Protocol protocol.Protocol

	// Processor receives messages that pass the base cascade. Nil
	// agents acknowledge without replying.
	Processor MessageProcessor

	// ResolveIdentity enables inbound signature verification.
	ResolveIdentity IdentityResolver

	// MaxTurns caps conversation length. <= 0 selects DefaultMaxTurns.
	MaxTurns int

	// QueueSize bounds the inbound queue. <= 0 selects
	// DefaultQueueSize.
	QueueSize int

	// Budget optionally rate-limits processing by token spend; when a
	// window trips the agent enters cooldown.
	Budget *TokenBudget

	// Counter estimates message token cost for the budget. Nil
	// selects the shared tiktoken counter.
	Counter *TokenCounter

	// Metadata is advisory agent information.
	Metadata map[string]interface{}

	// Logger. Nil falls back to zap.NewNop.
	Logger *zap.Logger
}

type conversation struct {
	start time.Time
	turns int
}

// BaseAgent is the runtime every concrete agent embeds or instantiates.
// The agent owns its queue and cooldown state; the hub touches the
// queue only through ReceiveMessage.
type BaseAgent struct {
	id        string
	ident     *identity.Identity
	proto     protocol.Protocol
	processor MessageProcessor
	resolve   IdentityResolver
	maxTurns  int
	budget    *TokenBudget
	counter   *TokenCounter
	metadata  map[string]interface{}
	logger    *zap.Logger

	queue   chan *message.Message
	running atomic.Bool
	stopCh  chan struct{}

	mu              sync.Mutex
	hub             Router
	history         []*message.Message
	conversations   map[string]*conversation
	pendingRequests map[string]string
	cooldownUntil   time.Time

	handlers sync.WaitGroup
}

// New builds a BaseAgent from options.
func New(opts Options) (*BaseAgent, error) {
	if opts.ID == "" {
		return nil, fmt.Errorf("agent requires an ID")
	}
	if opts.Identity == nil {
		return nil, fmt.Errorf("agent %s requires an identity", opts.ID)
	}
	if !opts.Identity.HasPrivateKey() {
		return nil, fmt.Errorf("agent %s identity cannot sign: %w", opts.ID, identity.ErrNoPrivateKey)
	}

	proto := opts.Protocol
	if proto == nil {
		proto = protocol.NewSimpleAgentProtocol()
	}
	maxTurns := opts.MaxTurns
	if maxTurns <= 0 {
		maxTurns = DefaultMaxTurns
	}
	queueSize := opts.QueueSize
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	counter := opts.Counter
	if counter == nil {
		counter = SharedTokenCounter()
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	a := &BaseAgent{
		id:              opts.ID,
		ident:           opts.Identity,
		proto:           proto,
		processor:       opts.Processor,
		resolve:         opts.ResolveIdentity,
		maxTurns:        maxTurns,
		budget:          opts.Budget,
		counter:         counter,
		metadata:        opts.Metadata,
		logger:          logger.With(zap.String("agent_id", opts.ID)),
		queue:           make(chan *message.Message, queueSize),
		stopCh:          make(chan struct{}),
		conversations:   make(map[string]*conversation),
		pendingRequests: make(map[string]string),
	}
	a.running.Store(true)
	return a, nil
}

// ID implements Agent.
func (a *BaseAgent) ID() string { return a.id }

// Identity implements Agent.
func (a *BaseAgent) Identity() *identity.Identity { return a.ident }

// Metadata implements Agent.
func (a *BaseAgent) Metadata() map[string]interface{} { return a.metadata }

// Protocol returns the agent's message protocol.
func (a *BaseAgent) Protocol() protocol.Protocol { return a.proto }

// AttachHub wires the non-owning hub reference used by SendMessage.
func (a *BaseAgent) AttachHub(hub Router) {
	a.mu.Lock()
	a.hub = hub
	a.mu.Unlock()
}

// DetachHub clears the hub reference, e.g. on unregister.
func (a *BaseAgent) DetachHub() {
	a.mu.Lock()
	a.hub = nil
	a.mu.Unlock()
}

// IsRunning reports whether the agent accepts and processes messages.
func (a *BaseAgent) IsRunning() bool { return a.running.Load() }

// ReceiveMessage implements Agent. The bounded queue is the documented
// back-pressure point: when full, the caller blocks here.
func (a *BaseAgent) ReceiveMessage(ctx context.Context, m *message.Message) error {
	if !a.running.Load() {
		return fmt.Errorf("%w: %s", ErrStopped, a.id)
	}
	select {
	case a.queue <- m:
		return nil
	case <-a.stopCh:
		return fmt.Errorf("%w: %s", ErrStopped, a.id)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run drives the processing loop until ctx is cancelled or Stop is
// called. Each message is handled on its own goroutine so processing
// one message never blocks dequeuing the next. All handler panics are
// recovered; nothing short of Stop ends the loop.
func (a *BaseAgent) Run(ctx context.Context) error {
	a.logger.Info("agent loop started")
	defer a.logger.Info("agent loop exited")

	for {
		select {
		case <-ctx.Done():
			a.handlers.Wait()
			return nil
		case <-a.stopCh:
			a.handlers.Wait()
			return nil
		case m := <-a.queue:
			if !a.running.Load() {
				// Drain-mark during shutdown.
				continue
			}
			a.handlers.Add(1)
			go func(m *message.Message) {
				defer a.handlers.Done()
				a.handleMessage(ctx, m)
			}(m)
		}
	}
}

// Stop flips the running flag, ends all conversations, drains the
// queue, clears pending requests, and resets cooldown. Safe to call
// from any goroutine, repeatedly.
func (a *BaseAgent) Stop() {
	if !a.running.CompareAndSwap(true, false) {
		return
	}
	close(a.stopCh)

	for {
		select {
		case <-a.queue:
		default:
			a.mu.Lock()
			a.conversations = make(map[string]*conversation)
			a.pendingRequests = make(map[string]string)
			a.cooldownUntil = time.Time{}
			a.mu.Unlock()
			a.logger.Info("agent stopped")
			return
		}
	}
}

// SendMessage composes, signs, and routes a message. If a pending
// request from the receiver exists, the message is tagged with
// response_to and the entry is cleared; this is the implicit
// correlation mechanism. Routing failures surface to the caller.
func (a *BaseAgent) SendMessage(ctx context.Context, receiverID, content string, msgType types.MessageType, metadata types.Metadata) (*message.Message, error) {
	if !a.running.Load() {
		return nil, fmt.Errorf("%w: %s", ErrStopped, a.id)
	}

	meta := metadata.Clone()
	a.mu.Lock()
	hub := a.hub
	if requestID, ok := a.pendingRequests[receiverID]; ok {
		if _, tagged := meta.ResponseTo(); !tagged {
			meta.SetResponseTo(requestID)
		}
		delete(a.pendingRequests, receiverID)
	}
	a.touchConversationLocked(receiverID)
	a.mu.Unlock()

	if hub == nil {
		return nil, fmt.Errorf("%w: agent %s", ErrNoHub, a.id)
	}

	// Control types (STOP, COOLDOWN) sit outside the protocol's allowed
	// set; the hub routes them on a dedicated path, so they are signed
	// directly instead of protocol-formatted.
	var m *message.Message
	var err error
	if a.proto.Allows(msgType) {
		m, err = a.proto.FormatMessage(a.id, receiverID, content, msgType, meta, a.ident)
	} else {
		m, err = message.New(a.id, receiverID, content, msgType, meta, a.proto.Version(), a.ident)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to compose message to %s: %w", receiverID, err)
	}

	ok, err := hub.RouteMessage(ctx, m)
	if err != nil {
		return nil, fmt.Errorf("failed to route message %s: %w", m.ID, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s -> %s (%s)", ErrRoutingRefused, a.id, receiverID, msgType)
	}

	a.mu.Lock()
	a.history = append(a.history, m)
	a.mu.Unlock()
	return m, nil
}

// handleMessage runs the base cascade over one inbound message and
// sends at most one reply.
func (a *BaseAgent) handleMessage(ctx context.Context, m *message.Message) {
	a.mu.Lock()
	a.history = append(a.history, m)
	a.mu.Unlock()

	reply := a.cascade(ctx, m)
	if reply == nil {
		return
	}
	if reply.msgType == types.MessageTypeIgnore {
		// IGNORE is an internal acknowledgement, never routed: sending
		// it to a rate-limited or departed peer would only restart the
		// exchange it ends.
		reason, _ := reply.metadata.Reason()
		a.logger.Debug("message ignored",
			zap.String("peer", m.SenderID),
			zap.String("reason", reason))
		return
	}

	receiver := reply.receiver
	if receiver == "" {
		receiver = m.SenderID
	}
	if _, err := a.SendMessage(ctx, receiver, reply.content, reply.msgType, reply.metadata); err != nil {
		a.logger.Error("failed to send reply",
			zap.String("in_reply_to", m.ID),
			zap.String("receiver", receiver),
			zap.Error(err))
	}
}

// reply is the outcome of the cascade: what to send back, if anything.
type reply struct {
	receiver string // empty means the message sender
	msgType  types.MessageType
	content  string
	metadata types.Metadata
}

func (a *BaseAgent) cascade(ctx context.Context, m *message.Message) *reply {
	isCollabRequest := m.IsCollaborationRequest()

	// 1. Signature verification, when a resolver is wired.
	if a.resolve != nil && m.Type != types.MessageTypeSystem {
		senderIdent, err := a.resolve(m.SenderID)
		verified := false
		if err == nil {
			verified, err = m.Verify(senderIdent)
		}
		if err != nil || !verified {
			a.logger.Warn("inbound signature verification failed",
				zap.String("message_id", m.ID),
				zap.String("sender", m.SenderID),
				zap.Error(err))
			return a.wrapIfCollab(isCollabRequest, m, &reply{
				msgType:  types.MessageTypeError,
				content:  "message signature verification failed",
				metadata: types.Metadata{types.MetaErrorType: "verification_failed"},
			})
		}
	}

	// 2. Cooldown refusal.
	if remaining := a.CooldownRemaining(); remaining > 0 {
		meta := types.Metadata{}
		meta.SetCooldownRemaining(remaining.Seconds())
		return a.wrapIfCollab(isCollabRequest, m, &reply{
			msgType:  types.MessageTypeCooldown,
			content:  fmt.Sprintf("agent %s is cooling down for %.0f more seconds", a.id, remaining.Seconds()),
			metadata: meta,
		})
	}

	// 3. Conversation turn cap.
	a.mu.Lock()
	conv := a.conversations[m.SenderID]
	if conv == nil {
		conv = &conversation{start: time.Now()}
		a.conversations[m.SenderID] = conv
	}
	conv.turns++
	turnsExhausted := conv.turns >= a.maxTurns
	if turnsExhausted {
		delete(a.conversations, m.SenderID)
	}
	a.mu.Unlock()
	if turnsExhausted {
		return a.wrapIfCollab(isCollabRequest, m, &reply{
			msgType:  types.MessageTypeStop,
			content:  fmt.Sprintf("conversation reached the %d turn limit", a.maxTurns),
			metadata: types.Metadata{types.MetaReason: "max_turns_reached"},
		})
	}

	// 4. Conversation end sentinels.
	if m.Type == types.MessageTypeStop || strings.Contains(m.Content, ExitSentinel) {
		a.endConversation(m.SenderID)
		return &reply{
			msgType:  types.MessageTypeIgnore,
			content:  "conversation ended",
			metadata: types.Metadata{types.MetaReason: "conversation_ended"},
		}
	}

	// 5. Peer cooldown acknowledgement.
	if m.Type == types.MessageTypeCooldown {
		return &reply{
			msgType:  types.MessageTypeIgnore,
			content:  "cooldown acknowledged",
			metadata: types.Metadata{types.MetaReason: "acknowledged_cooldown"},
		}
	}

	// 6. Remember the pending request so the next outbound message to
	// this peer carries response_to.
	if requestID, ok := m.Metadata.RequestID(); ok {
		a.mu.Lock()
		a.pendingRequests[m.SenderID] = requestID
		a.mu.Unlock()
	}

	// 7. Domain logic.
	return a.process(ctx, m, isCollabRequest)
}

// process hands the message to the injected processor, charging the
// token budget and recovering panics. A processor failure never
// propagates: the original human in the chain (when one exists) gets an
// ERROR message instead.
func (a *BaseAgent) process(ctx context.Context, m *message.Message, isCollabRequest bool) (out *reply) {
	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("processor panicked",
				zap.String("message_id", m.ID),
				zap.Any("panic", r))
			out = a.processingErrorReply(m, fmt.Sprintf("processing panic: %v", r))
		}
	}()

	if a.budget != nil {
		tokens := a.counter.CountTokens(m.Content)
		if !a.budget.Add(tokens) {
			cooldown := a.budget.CooldownDuration()
			a.SetCooldown(cooldown)
			a.logger.Warn("token budget exhausted, entering cooldown",
				zap.Duration("cooldown", cooldown))
			meta := types.Metadata{}
			meta.SetCooldownRemaining(cooldown.Seconds())
			return a.wrapIfCollab(isCollabRequest, m, &reply{
				msgType:  types.MessageTypeCooldown,
				content:  fmt.Sprintf("agent %s hit its rate limit, cooling down %.0f seconds", a.id, cooldown.Seconds()),
				metadata: meta,
			})
		}
	}

	if a.processor == nil {
		return nil
	}

	content, err := a.processor.ProcessMessage(ctx, m)
	if err != nil {
		a.logger.Warn("processor error",
			zap.String("message_id", m.ID),
			zap.Error(err))
		return a.processingErrorReply(m, err.Error())
	}
	if content == "" {
		return nil
	}

	if isCollabRequest {
		meta := types.Metadata{}
		if requestID, ok := m.Metadata.RequestID(); ok {
			meta.SetResponseTo(requestID)
		}
		return &reply{msgType: types.MessageTypeCollaborationResponse, content: content, metadata: meta}
	}
	return &reply{msgType: types.MessageTypeResponse, content: content, metadata: types.Metadata{}}
}

// processingErrorReply routes an ERROR to the original human behind the
// conversation: the chain's original_sender when it identifies a human,
// else a human-prefixed peer from active conversations, else the
// message sender.
func (a *BaseAgent) processingErrorReply(m *message.Message, detail string) *reply {
	receiver := m.SenderID
	if original, ok := m.Metadata.OriginalSender(); ok && strings.HasPrefix(original, "human") {
		receiver = original
	} else {
		a.mu.Lock()
		for peer := range a.conversations {
			if strings.HasPrefix(peer, "human") {
				receiver = peer
				break
			}
		}
		a.mu.Unlock()
	}

	meta := types.Metadata{types.MetaErrorType: "processing_error"}
	if m.IsCollaborationRequest() {
		if requestID, ok := m.Metadata.RequestID(); ok {
			meta.SetResponseTo(requestID)
		}
		meta[types.MetaOriginalMessageType] = string(types.MessageTypeError)
		return &reply{
			receiver: m.SenderID,
			msgType:  types.MessageTypeCollaborationResponse,
			content:  "failed to process message: " + detail,
			metadata: meta,
		}
	}
	return &reply{
		receiver: receiver,
		msgType:  types.MessageTypeError,
		content:  "failed to process message: " + detail,
		metadata: meta,
	}
}

// wrapIfCollab converts a control reply (ERROR, COOLDOWN, STOP) into a
// COLLABORATION_RESPONSE carrying the original type in metadata, so the
// requester's pending future resolves instead of timing out.
func (a *BaseAgent) wrapIfCollab(isCollabRequest bool, m *message.Message, r *reply) *reply {
	if !isCollabRequest {
		return r
	}
	meta := r.metadata.Clone()
	meta[types.MetaOriginalMessageType] = string(r.msgType)
	if r.msgType == types.MessageTypeError {
		meta[types.MetaErrorType] = "verification_failed"
	}
	if requestID, ok := m.Metadata.RequestID(); ok {
		meta.SetResponseTo(requestID)
	}
	return &reply{receiver: r.receiver, msgType: types.MessageTypeCollaborationResponse, content: r.content, metadata: meta}
}

// SetCooldown puts the agent in cooldown for the given duration.
func (a *BaseAgent) SetCooldown(d time.Duration) {
	a.mu.Lock()
	a.cooldownUntil = time.Now().Add(d)
	a.mu.Unlock()
}

// ResetCooldown clears any active cooldown.
func (a *BaseAgent) ResetCooldown() {
	a.mu.Lock()
	a.cooldownUntil = time.Time{}
	a.mu.Unlock()
}

// IsInCooldown reports whether the agent currently refuses processing.
func (a *BaseAgent) IsInCooldown() bool { return a.CooldownRemaining() > 0 }

// CooldownRemaining returns the time left in cooldown, zero when none.
// At exact expiry the agent is free again.
func (a *BaseAgent) CooldownRemaining() time.Duration {
	a.mu.Lock()
	until := a.cooldownUntil
	a.mu.Unlock()
	remaining := time.Until(until)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// CanSendMessage reports whether the agent may message the peer now.
// Cooldown is authoritative here.
func (a *BaseAgent) CanSendMessage(peerID string) bool {
	return a.running.Load() && !a.IsInCooldown()
}

// CanReceiveMessage reports whether the agent would process a message
// from the peer now.
func (a *BaseAgent) CanReceiveMessage(peerID string) bool {
	return a.running.Load() && !a.IsInCooldown()
}

// EndConversation closes the conversation with the peer, if any.
func (a *BaseAgent) EndConversation(peerID string) { a.endConversation(peerID) }

func (a *BaseAgent) endConversation(peerID string) {
	a.mu.Lock()
	delete(a.conversations, peerID)
	delete(a.pendingRequests, peerID)
	a.mu.Unlock()
}

// touchConversationLocked ensures a conversation entry exists on first
// send. Only inbound messages consume turns against the cap. Caller
// holds a.mu.
func (a *BaseAgent) touchConversationLocked(peerID string) {
	if a.conversations[peerID] == nil {
		a.conversations[peerID] = &conversation{start: time.Now()}
	}
}

// ActiveConversationPeers lists peers with open conversations.
func (a *BaseAgent) ActiveConversationPeers() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.conversations))
	for peer := range a.conversations {
		out = append(out, peer)
	}
	return out
}

// ConversationTurns returns the turn count with a peer.
func (a *BaseAgent) ConversationTurns(peerID string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	if conv := a.conversations[peerID]; conv != nil {
		return conv.turns
	}
	return 0
}

// PendingRequestPeers lists peers this agent still owes a response.
func (a *BaseAgent) PendingRequestPeers() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.pendingRequests))
	for peer := range a.pendingRequests {
		out = append(out, peer)
	}
	return out
}

// PendingRequestFrom returns the request ID owed to the peer, if any.
func (a *BaseAgent) PendingRequestFrom(peerID string) (string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	id, ok := a.pendingRequests[peerID]
	return id, ok
}

// History returns a copy of the agent's message history, oldest first.
// Advisory: the core does not persist it.
func (a *BaseAgent) History() []*message.Message {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]*message.Message(nil), a.history...)
}

// RecentPeers returns the distinct peers appearing in the agent's last
// n history messages, as used by discovery exclusion.
func (a *BaseAgent) RecentPeers(n int) []string {
	a.mu.Lock()
	defer a.mu.Unlock()

	seen := make(map[string]struct{})
	var out []string
	start := len(a.history) - n
	if start < 0 {
		start = 0
	}
	for _, m := range a.history[start:] {
		for _, peer := range []string{m.SenderID, m.ReceiverID} {
			if peer == a.id {
				continue
			}
			if _, ok := seen[peer]; !ok {
				seen[peer] = struct{}{}
				out = append(out, peer)
			}
		}
	}
	return out
}

// QueueDepth reports how many messages wait in the inbound queue.
func (a *BaseAgent) QueueDepth() int { return len(a.queue) }
