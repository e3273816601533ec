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

// Package types contains shared types used across the mesh framework.
// This package breaks import cycles by providing the enums, capability
// record, and metadata map that identity, registry, agent, and
// communication packages all depend on.
package types

// AgentType distinguishes humans from autonomous agents. The hub applies
// different delivery rules to HUMAN receivers (e.g. cooldown notices).
type AgentType string

const (
	// AgentTypeHuman marks a human participant (or a proxy for one).
	AgentTypeHuman AgentType = "human"

	// AgentTypeAI marks an autonomous agent.
	AgentTypeAI AgentType = "ai"
)

// InteractionMode declares which conversation patterns an agent accepts.
// Two agents can exchange messages only when their mode sets intersect.
type InteractionMode string

const (
	// ModeHumanToAgent permits conversations with human participants.
	ModeHumanToAgent InteractionMode = "human_to_agent"

	// ModeAgentToAgent permits autonomous agent-to-agent conversations.
	ModeAgentToAgent InteractionMode = "agent_to_agent"
)

// VerificationStatus tracks the lifecycle of an identity's verification.
// Transitions are owned by the registry, never by the agent itself.
type VerificationStatus string

const (
	// VerificationPending means the identity has not been checked yet.
	VerificationPending VerificationStatus = "pending"

	// VerificationVerified means the identity passed DID verification.
	VerificationVerified VerificationStatus = "verified"

	// VerificationFailed means DID verification was attempted and failed.
	VerificationFailed VerificationStatus = "failed"
)

// ProtocolVersion identifies the message-protocol revision a message was
// formatted under. Validation requires an exact version match.
type ProtocolVersion string

const (
	// ProtocolV1 is the baseline protocol revision.
	ProtocolV1 ProtocolVersion = "1.0"

	// ProtocolV11 adds the collaboration payload shapes.
	ProtocolV11 ProtocolVersion = "1.1"
)

// MessageType enumerates every message kind the substrate routes.
type MessageType string

const (
	// MessageTypeText is plain conversational content.
	MessageTypeText MessageType = "text"

	// MessageTypeCommand asks the receiver to perform a named action.
	MessageTypeCommand MessageType = "command"

	// MessageTypeResponse answers a prior TEXT or COMMAND.
	MessageTypeResponse MessageType = "response"

	// MessageTypeError reports a processing failure to the peer.
	MessageTypeError MessageType = "error"

	// MessageTypeVerification carries identity-verification material.
	MessageTypeVerification MessageType = "verification"

	// MessageTypeCapability carries capability advertisements.
	MessageTypeCapability MessageType = "capability"

	// MessageTypeProtocol carries protocol negotiation content.
	MessageTypeProtocol MessageType = "protocol"

	// MessageTypeStop ends a conversation.
	MessageTypeStop MessageType = "stop"

	// MessageTypeSystem is hub-internal signalling; exempt from the
	// self-send and identity checks.
	MessageTypeSystem MessageType = "system"

	// MessageTypeCooldown tells a peer the sender is rate-limited.
	MessageTypeCooldown MessageType = "cooldown"

	// MessageTypeIgnore is an acknowledgement that produces no reply.
	MessageTypeIgnore MessageType = "ignore"

	// MessageTypeRequestCollaboration delegates a task to another agent.
	MessageTypeRequestCollaboration MessageType = "request_collaboration"

	// MessageTypeCollaborationResponse answers a collaboration request.
	MessageTypeCollaborationResponse MessageType = "collaboration_response"

	// MessageTypeCollaborationError reports a collaboration failure.
	MessageTypeCollaborationError MessageType = "collaboration_error"
)

// IsSpecial reports whether the type belongs to the control-flow set
// (COOLDOWN, STOP, SYSTEM) that bypasses normal routing checks and fans
// out to sender-side handlers as well.
func (t MessageType) IsSpecial() bool {
	switch t {
	case MessageTypeCooldown, MessageTypeStop, MessageTypeSystem:
		return true
	}
	return false
}

// IsCollaboration reports whether the type is part of the collaboration
// exchange (request, response, or error).
func (t MessageType) IsCollaboration() bool {
	switch t {
	case MessageTypeRequestCollaboration, MessageTypeCollaborationResponse, MessageTypeCollaborationError:
		return true
	}
	return false
}

// Capability is a named, described unit of skill an agent advertises.
// Names are not unique across agents; (agent_id, name) is unique within
// a registration.
type Capability struct {
	// Name is the capability identifier agents search for.
	Name string `json:"name" yaml:"name"`

	// Description is free text used for semantic matching.
	Description string `json:"description" yaml:"description"`

	// InputSchema optionally constrains collaboration input payloads
	// (JSON Schema as a generic document).
	InputSchema map[string]interface{} `json:"input_schema,omitempty" yaml:"input_schema,omitempty"`

	// OutputSchema optionally describes the result shape.
	OutputSchema map[string]interface{} `json:"output_schema,omitempty" yaml:"output_schema,omitempty"`

	// Version of the capability contract. Defaults to "1.0".
	Version string `json:"version,omitempty" yaml:"version,omitempty"`
}

// DocumentText returns the text embedded for semantic search: the name
// and description joined with a single space.
func (c Capability) DocumentText() string {
	return c.Name + " " + c.Description
}
