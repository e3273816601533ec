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
package agent

import (
	"sync"
	"time"

	"github.com/pkoukk/tiktoken-go"
)

// Default rate-limit bucket sizes.
const (
	DefaultMaxTokensPerMinute = 5500
	DefaultMaxTokensPerHour   = 100000
)

// TokenCounter estimates message token cost with tiktoken cl100k_base,
// degrading to a characters/4 estimate when the encoding is
// unavailable.
type TokenCounter struct {
	mu      sync.Mutex
	encoder *tiktoken.Tiktoken
}

var (
	sharedCounter     *TokenCounter
	sharedCounterOnce sync.Once
)

// SharedTokenCounter returns a process-shared counter. Loading the BPE
// ranks is slow, so agents share one instance by default; NewTokenCounter
// builds a private one.
func SharedTokenCounter() *TokenCounter {
	sharedCounterOnce.Do(func() {
		sharedCounter = NewTokenCounter()
	})
	return sharedCounter
}

// NewTokenCounter builds a counter, falling back to estimation when the
// encoding cannot be loaded.
func NewTokenCounter() *TokenCounter {
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return &TokenCounter{}
	}
	return &TokenCounter{encoder: enc}
}

// CountTokens returns the token count for the text.
func (tc *TokenCounter) CountTokens(text string) int {
	if tc.encoder == nil {
		return len(text) / 4
	}
	tc.mu.Lock()
	defer tc.mu.Unlock()
	return len(tc.encoder.Encode(text, nil, nil))
}

// budgetWindow tracks one rate-limit bucket.
type budgetWindow struct {
	limit  int
	span   time.Duration
	tokens int
	reset  time.Time
}

// add charges the window, rolling it over when its span has elapsed.
// Returns false when the charge exceeds the limit.
func (w *budgetWindow) add(tokens int, now time.Time) bool {
	if now.Sub(w.reset) >= w.span {
		w.tokens = 0
		w.reset = now
	}
	if w.tokens+tokens > w.limit {
		return false
	}
	w.tokens += tokens
	return true
}

// remaining is the time until the window resets.
func (w *budgetWindow) remaining(now time.Time) time.Duration {
	d := w.span - now.Sub(w.reset)
	if d < 0 {
		return 0
	}
	return d
}

// TokenBudget enforces per-minute and per-hour token limits. When a
// window trips, CooldownDuration says how long the agent must wait for
// that window to reset.
type TokenBudget struct {
	mu      sync.Mutex
	minute  budgetWindow
	hour    budgetWindow
	tripped *budgetWindow

	// now is swappable for tests.
	now func() time.Time
}

// NewTokenBudget builds a budget; non-positive limits select the
// defaults.
func NewTokenBudget(perMinute, perHour int) *TokenBudget {
	if perMinute <= 0 {
		perMinute = DefaultMaxTokensPerMinute
	}
	if perHour <= 0 {
		perHour = DefaultMaxTokensPerHour
	}
	start := time.Now()
	return &TokenBudget{
		minute: budgetWindow{limit: perMinute, span: time.Minute, reset: start},
		hour:   budgetWindow{limit: perHour, span: time.Hour, reset: start},
		now:    time.Now,
	}
}

// Add charges both windows. Returns false when either limit trips; the
// message is not dropped — the caller schedules a cooldown and the peer
// may retry after it.
func (b *TokenBudget) Add(tokens int) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	if !b.minute.add(tokens, now) {
		b.tripped = &b.minute
		return false
	}
	if !b.hour.add(tokens, now) {
		b.tripped = &b.hour
		return false
	}
	b.tripped = nil
	return true
}

// CooldownDuration is the wait until the tripped window resets:
// max(60s - sinceMinuteReset, 0) for the minute window, or
// max(3600s - sinceHourReset, 0) for the hour window. Zero when no
// window has tripped.
func (b *TokenBudget) CooldownDuration() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.tripped == nil {
		return 0
	}
	return b.tripped.remaining(b.now())
}

// Usage reports the tokens consumed in the current minute and hour
// windows.
func (b *TokenBudget) Usage() (minute, hour int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.minute.tokens, b.hour.tokens
}

// InteractionDecision is the outcome of ProcessInteraction.
type InteractionDecision int

const (
	// InteractionContinue permits the exchange to proceed.
	InteractionContinue InteractionDecision = iota

	// InteractionWait means the token budget tripped; the agent should
	// cool down before continuing.
	InteractionWait

	// InteractionStop means the conversation exhausted its turn cap.
	InteractionStop
)

func (d InteractionDecision) String() string {
	switch d {
	case InteractionContinue:
		return "continue"
	case InteractionWait:
		return "wait"
	case InteractionStop:
		return "stop"
	}
	return "unknown"
}

// ConversationStats tracks one conversation under interaction control.
type ConversationStats struct {
	StartedAt time.Time
	Turns     int
	Tokens    int
}

// InteractionControl combines the turn cap and the token budget into a
// single per-conversation gate.
type InteractionControl struct {
	mu            sync.Mutex
	budget        *TokenBudget
	maxTurns      int
	conversations map[string]*ConversationStats
}

// NewInteractionControl builds the gate. maxTurns <= 0 selects
// DefaultMaxTurns; a nil budget disables rate limiting.
func NewInteractionControl(budget *TokenBudget, maxTurns int) *InteractionControl {
	if maxTurns <= 0 {
		maxTurns = DefaultMaxTurns
	}
	return &InteractionControl{
		budget:        budget,
		maxTurns:      maxTurns,
		conversations: make(map[string]*ConversationStats),
	}
}

// ProcessInteraction charges one turn of the conversation and decides
// whether it may continue. A STOP decision removes the conversation.
func (c *InteractionControl) ProcessInteraction(conversationID string, tokens int) InteractionDecision {
	c.mu.Lock()
	stats := c.conversations[conversationID]
	if stats == nil {
		stats = &ConversationStats{StartedAt: time.Now()}
		c.conversations[conversationID] = stats
	}
	stats.Turns++
	stats.Tokens += tokens
	exhausted := stats.Turns >= c.maxTurns
	if exhausted {
		delete(c.conversations, conversationID)
	}
	c.mu.Unlock()

	if exhausted {
		return InteractionStop
	}
	if c.budget != nil && !c.budget.Add(tokens) {
		return InteractionWait
	}
	return InteractionContinue
}

// Stats returns a copy of the conversation's counters.
func (c *InteractionControl) Stats(conversationID string) (ConversationStats, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	stats, ok := c.conversations[conversationID]
	if !ok {
		return ConversationStats{}, false
	}
	return *stats, true
}

// EndConversation drops the conversation's counters.
func (c *InteractionControl) EndConversation(conversationID string) {
	c.mu.Lock()
	delete(c.conversations, conversationID)
	c.mu.Unlock()
}
