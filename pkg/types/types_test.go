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
package types

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageTypeIsSpecial(t *testing.T) {
	assert.True(t, MessageTypeCooldown.IsSpecial())
	assert.True(t, MessageTypeStop.IsSpecial())
	assert.True(t, MessageTypeSystem.IsSpecial())
	assert.False(t, MessageTypeText.IsSpecial())
	assert.False(t, MessageTypeCollaborationResponse.IsSpecial())
}

func TestMessageTypeIsCollaboration(t *testing.T) {
	assert.True(t, MessageTypeRequestCollaboration.IsCollaboration())
	assert.True(t, MessageTypeCollaborationResponse.IsCollaboration())
	assert.True(t, MessageTypeCollaborationError.IsCollaboration())
	assert.False(t, MessageTypeResponse.IsCollaboration())
}

func TestMetadataTypedAccessors(t *testing.T) {
	m := Metadata{}
	m.SetRequestID("req-1")
	m.SetResponseTo("req-0")
	m.SetOriginalSender("agent-a")
	m.SetReason("conversation_ended")
	m.SetCooldownRemaining(42.5)

	id, ok := m.RequestID()
	require.True(t, ok)
	assert.Equal(t, "req-1", id)

	to, ok := m.ResponseTo()
	require.True(t, ok)
	assert.Equal(t, "req-0", to)

	orig, ok := m.OriginalSender()
	require.True(t, ok)
	assert.Equal(t, "agent-a", orig)

	reason, ok := m.Reason()
	require.True(t, ok)
	assert.Equal(t, "conversation_ended", reason)

	cd, ok := m.CooldownRemaining()
	require.True(t, ok)
	assert.InDelta(t, 42.5, cd, 0.001)

	_, ok = m.ErrorType()
	assert.False(t, ok)
}

func TestMetadataChainSurvivesJSONRoundTrip(t *testing.T) {
	m := Metadata{}
	m.SetCollaborationChain([]string{"a", "b"})
	m.SetCooldownRemaining(10)

	raw, err := json.Marshal(m)
	require.NoError(t, err)

	var decoded Metadata
	require.NoError(t, json.Unmarshal(raw, &decoded))

	// JSON decoding produces []interface{} and float64; accessors must
	// still read them.
	chain, ok := decoded.CollaborationChain()
	require.True(t, ok)
	assert.Equal(t, []string{"a", "b"}, chain)

	cd, ok := decoded.CooldownRemaining()
	require.True(t, ok)
	assert.InDelta(t, 10, cd, 0.001)

	assert.True(t, decoded.ChainContains("b"))
	assert.False(t, decoded.ChainContains("c"))
}

func TestMetadataCloneIsolatesChain(t *testing.T) {
	m := Metadata{}
	m.SetCollaborationChain([]string{"a"})

	clone := m.Clone()
	chain, _ := clone.CollaborationChain()
	clone.SetCollaborationChain(append(chain, "b"))

	orig, _ := m.CollaborationChain()
	assert.Equal(t, []string{"a"}, orig)

	cloned, _ := clone.CollaborationChain()
	assert.Equal(t, []string{"a", "b"}, cloned)
}

func TestCapabilityValidateSchemas(t *testing.T) {
	cap := Capability{
		Name:        "summarize",
		Description: "produce concise summaries of text",
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"text": map[string]interface{}{"type": "string"},
			},
			"required": []interface{}{"text"},
		},
	}
	require.NoError(t, cap.ValidateSchemas())

	require.NoError(t, cap.ValidateInput(map[string]interface{}{"text": "hello"}))
	err := cap.ValidateInput(map[string]interface{}{"text": 7})
	assert.Error(t, err)

	// Missing required field.
	err = cap.ValidateInput(map[string]interface{}{})
	assert.Error(t, err)

	// No schema means everything passes.
	free := Capability{Name: "chat", Description: "talk"}
	require.NoError(t, free.ValidateSchemas())
	require.NoError(t, free.ValidateInput(map[string]interface{}{"anything": true}))
}

func TestCapabilityDocumentText(t *testing.T) {
	cap := Capability{Name: "summarize", Description: "produce concise summaries"}
	assert.Equal(t, "summarize produce concise summaries", cap.DocumentText())
}
