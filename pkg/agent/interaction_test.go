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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenCounterCountsTokens(t *testing.T) {
	tc := NewTokenCounter()

	assert.Equal(t, 0, tc.CountTokens(""))
	n := tc.CountTokens("produce concise summaries of text")
	assert.Greater(t, n, 0)
	// More text, more tokens.
	assert.Greater(t, tc.CountTokens("produce concise summaries of text, twice over, with extra words"), n)
}

func TestSharedTokenCounterIsSingleton(t *testing.T) {
	assert.Same(t, SharedTokenCounter(), SharedTokenCounter())
}

func TestTokenBudgetMinuteWindow(t *testing.T) {
	b := NewTokenBudget(100, 10000)
	now := time.Now()
	b.now = func() time.Time { return now }

	assert.True(t, b.Add(60))
	assert.True(t, b.Add(40))
	// 101st token trips the minute window.
	assert.False(t, b.Add(1))

	// Cooldown is the remainder of the minute window.
	cooldown := b.CooldownDuration()
	assert.Greater(t, cooldown, time.Duration(0))
	assert.LessOrEqual(t, cooldown, time.Minute)

	// After the minute rolls over, the window resets.
	now = now.Add(61 * time.Second)
	assert.True(t, b.Add(100))
}

func TestTokenBudgetHourWindow(t *testing.T) {
	b := NewTokenBudget(1000, 1500)
	now := time.Now()
	b.now = func() time.Time { return now }

	assert.True(t, b.Add(1000))
	now = now.Add(61 * time.Second) // minute window resets, hour does not
	assert.True(t, b.Add(500))
	now = now.Add(61 * time.Second)
	assert.False(t, b.Add(1), "hour window should trip")

	cooldown := b.CooldownDuration()
	assert.Greater(t, cooldown, 55*time.Minute)
	assert.LessOrEqual(t, cooldown, time.Hour)
}

func TestTokenBudgetDefaults(t *testing.T) {
	b := NewTokenBudget(0, 0)
	assert.True(t, b.Add(DefaultMaxTokensPerMinute))
	assert.False(t, b.Add(1))

	minute, hour := b.Usage()
	assert.Equal(t, DefaultMaxTokensPerMinute, minute)
	assert.Equal(t, DefaultMaxTokensPerMinute, hour)
}

func TestTokenBudgetNoCooldownBeforeTrip(t *testing.T) {
	b := NewTokenBudget(100, 1000)
	require.True(t, b.Add(10))
	assert.Equal(t, time.Duration(0), b.CooldownDuration())
}

func TestInteractionControlTurnCap(t *testing.T) {
	c := NewInteractionControl(nil, 3)

	assert.Equal(t, InteractionContinue, c.ProcessInteraction("conv-1", 10))
	assert.Equal(t, InteractionContinue, c.ProcessInteraction("conv-1", 10))
	assert.Equal(t, InteractionStop, c.ProcessInteraction("conv-1", 10))

	// STOP removed the conversation; a fresh one starts at turn 1.
	_, ok := c.Stats("conv-1")
	assert.False(t, ok)
	assert.Equal(t, InteractionContinue, c.ProcessInteraction("conv-1", 10))
}

func TestInteractionControlBudgetWait(t *testing.T) {
	budget := NewTokenBudget(50, 10000)
	c := NewInteractionControl(budget, 20)

	assert.Equal(t, InteractionContinue, c.ProcessInteraction("conv-1", 30))
	assert.Equal(t, InteractionWait, c.ProcessInteraction("conv-1", 30))
	assert.Greater(t, budget.CooldownDuration(), time.Duration(0))
}

func TestInteractionControlStats(t *testing.T) {
	c := NewInteractionControl(nil, 20)
	c.ProcessInteraction("conv-1", 5)
	c.ProcessInteraction("conv-1", 7)

	stats, ok := c.Stats("conv-1")
	require.True(t, ok)
	assert.Equal(t, 2, stats.Turns)
	assert.Equal(t, 12, stats.Tokens)
	assert.False(t, stats.StartedAt.IsZero())

	c.EndConversation("conv-1")
	_, ok = c.Stats("conv-1")
	assert.False(t, ok)
}

func TestInteractionDecisionString(t *testing.T) {
	assert.Equal(t, "continue", InteractionContinue.String())
	assert.Equal(t, "wait", InteractionWait.String())
	assert.Equal(t, "stop", InteractionStop.String())
}
