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

// Package protocol validates message shapes per interaction pattern.
// Protocols are pluggable strategies: agents and the hub accept the
// Protocol interface, and validation failures are reported as errors for
// the caller to act on, never panics.
package protocol

import (
	"fmt"

	"github.com/teradata-labs/mesh/pkg/identity"
	"github.com/teradata-labs/mesh/pkg/message"
	"github.com/teradata-labs/mesh/pkg/types"
)

// Protocol names injected into message metadata by FormatMessage.
const (
	TypeAgent         = "agent"
	TypeCollaboration = "collaboration"
)

// Protocol validates and formats messages for one interaction pattern.
type Protocol interface {
	// Name identifies the protocol ("agent", "collaboration").
	Name() string

	// Version is the protocol revision messages must carry.
	Version() types.ProtocolVersion

	// Allows reports whether the message type belongs to this
	// protocol's permitted set.
	Allows(t types.MessageType) bool

	// ValidateMessage checks version equality and type membership.
	// A non-nil error describes the first violation found.
	ValidateMessage(m *message.Message) error

	// FormatMessage injects protocol metadata and constructs a signed
	// message from the sender's identity.
	FormatMessage(senderID, receiverID, content string, msgType types.MessageType, metadata types.Metadata, sender *identity.Identity) (*message.Message, error)
}

// base carries the shared validation mechanics for both variants.
type base struct {
	name    string
	version types.ProtocolVersion
	allowed map[types.MessageType]struct{}
}

func newBase(name string, version types.ProtocolVersion, allowedTypes []types.MessageType) base {
	allowed := make(map[types.MessageType]struct{}, len(allowedTypes))
	for _, t := range allowedTypes {
		allowed[t] = struct{}{}
	}
	return base{name: name, version: version, allowed: allowed}
}

func (b *base) Name() string { return b.name }

func (b *base) Version() types.ProtocolVersion { return b.version }

func (b *base) Allows(t types.MessageType) bool {
	_, ok := b.allowed[t]
	return ok
}

func (b *base) ValidateMessage(m *message.Message) error {
	if m.ProtocolVersion != b.version {
		return fmt.Errorf("protocol version mismatch: message has %q, %s protocol requires %q",
			m.ProtocolVersion, b.name, b.version)
	}
	if !b.Allows(m.Type) {
		return fmt.Errorf("message type %q not supported by %s protocol", m.Type, b.name)
	}
	return nil
}

func (b *base) FormatMessage(senderID, receiverID, content string, msgType types.MessageType, metadata types.Metadata, sender *identity.Identity) (*message.Message, error) {
	if !b.Allows(msgType) {
		return nil, fmt.Errorf("message type %q not supported by %s protocol", msgType, b.name)
	}

	meta := metadata.Clone()
	meta[types.MetaProtocolVersion] = string(b.version)
	meta[types.MetaProtocolType] = b.name

	return message.New(senderID, receiverID, content, msgType, meta, b.version, sender)
}

// SimpleAgentProtocol covers direct agent exchanges: conversation,
// capability advertisement, and the collaboration trio.
type SimpleAgentProtocol struct {
	base
}

// NewSimpleAgentProtocol builds the agent protocol at the baseline
// revision.
func NewSimpleAgentProtocol() *SimpleAgentProtocol {
	return &SimpleAgentProtocol{base: newBase(TypeAgent, types.ProtocolV1, []types.MessageType{
		types.MessageTypeText,
		types.MessageTypeCommand,
		types.MessageTypeResponse,
		types.MessageTypeVerification,
		types.MessageTypeSystem,
		types.MessageTypeError,
		types.MessageTypeCapability,
		types.MessageTypeProtocol,
		types.MessageTypeRequestCollaboration,
		types.MessageTypeCollaborationResponse,
		types.MessageTypeCollaborationError,
	})}
}
