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

// Package message defines the signed message record exchanged between
// agents and the digest scheme that protects it.
package message

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/teradata-labs/mesh/pkg/identity"
	"github.com/teradata-labs/mesh/pkg/types"
)

// Message is the unit of exchange between agents. JSON tags define the
// wire shape; the signature is base64 RSA-PSS-SHA256 over the canonical
// tuple returned by SignableContent.
type Message struct {
	// ID is a UUID assigned at creation.
	ID string `json:"id"`

	// SenderID and ReceiverID are registry agent IDs. They differ for
	// every non-SYSTEM message.
	SenderID   string `json:"sender_id"`
	ReceiverID string `json:"receiver_id"`

	// Content is the message body.
	Content string `json:"content"`

	// Type classifies the message for routing and protocol validation.
	Type types.MessageType `json:"message_type"`

	// Timestamp is captured when the message is created, not when it is
	// serialized; it is part of the signed tuple.
	Timestamp time.Time `json:"timestamp"`

	// Metadata carries reserved correlation keys and free-form
	// annotations.
	Metadata types.Metadata `json:"metadata,omitempty"`

	// ProtocolVersion the message was formatted under.
	ProtocolVersion types.ProtocolVersion `json:"protocol_version"`

	// Signature over SignableContent, base64 encoded. Empty only for
	// unsigned internal messages.
	Signature string `json:"signature,omitempty"`
}

// New creates and signs a message from the sender's identity. The
// timestamp is fixed here so the signed tuple never drifts from the
// record.
func New(senderID, receiverID, content string, msgType types.MessageType, metadata types.Metadata, version types.ProtocolVersion, sender *identity.Identity) (*Message, error) {
	if metadata == nil {
		metadata = types.Metadata{}
	}

	m := &Message{
		ID:              uuid.NewString(),
		SenderID:        senderID,
		ReceiverID:      receiverID,
		Content:         content,
		Type:            msgType,
		Timestamp:       time.Now().UTC(),
		Metadata:        metadata,
		ProtocolVersion: version,
	}

	sig, err := sender.Sign(m.SignableContent())
	if err != nil {
		return nil, fmt.Errorf("failed to sign message %s: %w", m.ID, err)
	}
	m.Signature = sig
	return m, nil
}

// SignableContent returns the canonical delimited tuple covered by the
// signature: id:sender:receiver:content:timestamp. Any field added later
// must extend the tuple behind a version tag so signatures cannot collide
// across revisions.
func (m *Message) SignableContent() []byte {
	return []byte(fmt.Sprintf("%s:%s:%s:%s:%s",
		m.ID, m.SenderID, m.ReceiverID, m.Content, m.Timestamp.Format(time.RFC3339Nano)))
}

// Verify checks the message signature against the sender's identity.
// It returns true only when the signature validates AND the sender's
// verification status is verified. An unverified sender is a
// *identity.SecurityError, never a silent false; a missing or invalid
// signature is a plain false.
func (m *Message) Verify(sender *identity.Identity) (bool, error) {
	if sender.Status != types.VerificationVerified {
		return false, identity.NewSecurityError("sender %s identity status is %s, expected %s",
			m.SenderID, sender.Status, types.VerificationVerified)
	}
	if m.Signature == "" {
		return false, nil
	}
	if err := sender.VerifySignature(m.SignableContent(), m.Signature); err != nil {
		return false, nil
	}
	return true, nil
}

// IsCollaborationRequest reports whether this message delegates a task.
func (m *Message) IsCollaborationRequest() bool {
	return m.Type == types.MessageTypeRequestCollaboration
}

// Clone returns a copy with independently mutable metadata.
func (m *Message) Clone() *Message {
	out := *m
	out.Metadata = m.Metadata.Clone()
	return &out
}
