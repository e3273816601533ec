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
package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/teradata-labs/mesh/pkg/types"
)

// DefaultCapabilityRequestLimit bounds capability lookups when the
// requester does not say how many results it wants.
const DefaultCapabilityRequestLimit = 10

// CollaborationProtocol is a superset of the agent protocol that also
// defines the structured payload shapes carried inside collaboration
// message content.
type CollaborationProtocol struct {
	base
}

// NewCollaborationProtocol builds the collaboration protocol.
func NewCollaborationProtocol() *CollaborationProtocol {
	return &CollaborationProtocol{base: newBase(TypeCollaboration, types.ProtocolV1, []types.MessageType{
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

// RequestCapabilityPayload asks a peer which capabilities it can serve.
type RequestCapabilityPayload struct {
	CapabilityName        string                 `json:"capability_name"`
	CapabilityDescription string                 `json:"capability_description,omitempty"`
	InputSchema           map[string]interface{} `json:"input_schema,omitempty"`
	Limit                 int                    `json:"limit,omitempty"`
}

// CapabilityResponsePayload answers a capability request.
type CapabilityResponsePayload struct {
	RequestID    string             `json:"request_id"`
	Capabilities []types.Capability `json:"capabilities"`
}

// RequestCollaborationPayload delegates a task against one capability.
type RequestCollaborationPayload struct {
	CapabilityName string                 `json:"capability_name"`
	InputData      map[string]interface{} `json:"input_data,omitempty"`
}

// CollaborationResponsePayload reports a delegated task's outcome.
type CollaborationResponsePayload struct {
	RequestID    string                 `json:"request_id"`
	Success      bool                   `json:"success"`
	OutputData   map[string]interface{} `json:"output_data,omitempty"`
	ErrorMessage string                 `json:"error_message,omitempty"`
}

// CollaborationErrorPayload reports a protocol-level collaboration
// failure.
type CollaborationErrorPayload struct {
	RequestID    string `json:"request_id"`
	ErrorCode    string `json:"error_code"`
	ErrorMessage string `json:"error_message"`
}

// EncodePayload serializes a payload for use as message content.
func EncodePayload(payload interface{}) (string, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to encode payload: %w", err)
	}
	return string(raw), nil
}

// ParseRequestCapability decodes a capability request from message
// content, applying the default result limit when unset.
func ParseRequestCapability(content string) (*RequestCapabilityPayload, error) {
	var p RequestCapabilityPayload
	if err := json.Unmarshal([]byte(content), &p); err != nil {
		return nil, fmt.Errorf("failed to decode capability request: %w", err)
	}
	if p.CapabilityName == "" {
		return nil, fmt.Errorf("capability request missing capability_name")
	}
	if p.Limit <= 0 {
		p.Limit = DefaultCapabilityRequestLimit
	}
	return &p, nil
}

// ParseRequestCollaboration decodes a collaboration request from message
// content.
func ParseRequestCollaboration(content string) (*RequestCollaborationPayload, error) {
	var p RequestCollaborationPayload
	if err := json.Unmarshal([]byte(content), &p); err != nil {
		return nil, fmt.Errorf("failed to decode collaboration request: %w", err)
	}
	if p.CapabilityName == "" {
		return nil, fmt.Errorf("collaboration request missing capability_name")
	}
	return &p, nil
}

// ParseCollaborationResponse decodes a collaboration response from
// message content.
func ParseCollaborationResponse(content string) (*CollaborationResponsePayload, error) {
	var p CollaborationResponsePayload
	if err := json.Unmarshal([]byte(content), &p); err != nil {
		return nil, fmt.Errorf("failed to decode collaboration response: %w", err)
	}
	return &p, nil
}

// ValidateInput checks the request's input document against the target
// capability's input schema.
func (p *RequestCollaborationPayload) ValidateInput(cap types.Capability) error {
	return cap.ValidateInput(p.InputData)
}
