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

// Reserved metadata keys. The substrate interprets these; everything else
// rides along untouched.
const (
	// MetaRequestID correlates a request with its eventual response.
	MetaRequestID = "request_id"

	// MetaResponseTo tags a reply with the request_id it answers.
	MetaResponseTo = "response_to"

	// MetaCollaborationChain is the ordered list of agent IDs a
	// delegated task has traversed.
	MetaCollaborationChain = "collaboration_chain"

	// MetaOriginalSender is the first agent in a collaboration chain.
	MetaOriginalSender = "original_sender"

	// MetaReason explains STOP and IGNORE messages.
	MetaReason = "reason"

	// MetaCooldownRemaining carries the seconds left in a cooldown.
	MetaCooldownRemaining = "cooldown_remaining"

	// MetaErrorType classifies ERROR responses.
	MetaErrorType = "error_type"

	// MetaOriginalMessageType records what a collaboration response
	// would have been outside a collaboration exchange.
	MetaOriginalMessageType = "original_message_type"

	// MetaProtocolVersion is injected by protocol FormatMessage.
	MetaProtocolVersion = "protocol_version"

	// MetaProtocolType names the protocol that formatted a message.
	MetaProtocolType = "protocol_type"

	// MetaTimeout optionally overrides the adaptive collaboration
	// timeout, in seconds.
	MetaTimeout = "timeout"
)

// Metadata is the free-form message annotation map. Reserved keys get
// typed accessors so call sites keep compile-time safety; values round-trip
// through JSON, so accessors tolerate the decoded generic forms
// ([]interface{}, float64) as well as the native ones.
type Metadata map[string]interface{}

// Clone returns a shallow copy, with the collaboration chain deep-copied
// since the substrate appends to it.
func (m Metadata) Clone() Metadata {
	if m == nil {
		return Metadata{}
	}
	out := make(Metadata, len(m))
	for k, v := range m {
		out[k] = v
	}
	if chain, ok := m.CollaborationChain(); ok {
		out[MetaCollaborationChain] = append([]string(nil), chain...)
	}
	return out
}

func (m Metadata) getString(key string) (string, bool) {
	v, ok := m[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok && s != ""
}

// RequestID returns the request correlation ID, if set.
func (m Metadata) RequestID() (string, bool) { return m.getString(MetaRequestID) }

// SetRequestID stores the request correlation ID.
func (m Metadata) SetRequestID(id string) { m[MetaRequestID] = id }

// ResponseTo returns the request_id this message answers, if set.
func (m Metadata) ResponseTo() (string, bool) { return m.getString(MetaResponseTo) }

// SetResponseTo tags the message as a reply to the given request.
func (m Metadata) SetResponseTo(id string) { m[MetaResponseTo] = id }

// OriginalSender returns the first agent of the collaboration chain.
func (m Metadata) OriginalSender() (string, bool) { return m.getString(MetaOriginalSender) }

// SetOriginalSender records the chain's first agent.
func (m Metadata) SetOriginalSender(id string) { m[MetaOriginalSender] = id }

// Reason returns the explanation attached to STOP/IGNORE messages.
func (m Metadata) Reason() (string, bool) { return m.getString(MetaReason) }

// SetReason attaches an explanation to the message.
func (m Metadata) SetReason(reason string) { m[MetaReason] = reason }

// ErrorType returns the error classification, if set.
func (m Metadata) ErrorType() (string, bool) { return m.getString(MetaErrorType) }

// CollaborationChain returns the ordered agent IDs a delegated task has
// traversed. Handles both []string and the JSON-decoded []interface{}.
func (m Metadata) CollaborationChain() ([]string, bool) {
	v, ok := m[MetaCollaborationChain]
	if !ok {
		return nil, false
	}
	switch chain := v.(type) {
	case []string:
		return chain, true
	case []interface{}:
		out := make([]string, 0, len(chain))
		for _, e := range chain {
			s, ok := e.(string)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	}
	return nil, false
}

// SetCollaborationChain replaces the chain.
func (m Metadata) SetCollaborationChain(chain []string) {
	m[MetaCollaborationChain] = append([]string(nil), chain...)
}

// ChainContains reports whether an agent already appears in the chain.
func (m Metadata) ChainContains(agentID string) bool {
	chain, ok := m.CollaborationChain()
	if !ok {
		return false
	}
	for _, id := range chain {
		if id == agentID {
			return true
		}
	}
	return false
}

// CooldownRemaining returns the seconds left in the sender's cooldown.
// Tolerates int, int64, and the JSON-decoded float64.
func (m Metadata) CooldownRemaining() (float64, bool) {
	v, ok := m[MetaCooldownRemaining]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

// SetCooldownRemaining records the seconds left in a cooldown.
func (m Metadata) SetCooldownRemaining(seconds float64) { m[MetaCooldownRemaining] = seconds }

// TimeoutSeconds returns the caller-supplied timeout override, if any.
func (m Metadata) TimeoutSeconds() (float64, bool) {
	v, ok := m[MetaTimeout]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}
