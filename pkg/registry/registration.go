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
package registry

import (
	"fmt"

	"github.com/teradata-labs/mesh/pkg/identity"
	"github.com/teradata-labs/mesh/pkg/types"
)

// AgentRegistration is the directory record for one agent. The registry
// owns it from a successful Register until Unregister; identity status
// transitions are made by the registry, never by the agent.
type AgentRegistration struct {
	// AgentID is the unique agent identifier.
	AgentID string `json:"agent_id" yaml:"agent_id"`

	// OrganizationID optionally groups agents by operator.
	OrganizationID string `json:"organization_id,omitempty" yaml:"organization_id,omitempty"`

	// AgentType distinguishes HUMAN participants from AI agents.
	AgentType types.AgentType `json:"agent_type" yaml:"agent_type"`

	// InteractionModes lists the conversation patterns this agent
	// accepts. Two agents can talk only when their sets intersect.
	InteractionModes []types.InteractionMode `json:"interaction_modes" yaml:"interaction_modes"`

	// Capabilities this agent advertises. (AgentID, Capability.Name) is
	// unique within the registration.
	Capabilities []types.Capability `json:"capabilities,omitempty" yaml:"capabilities,omitempty"`

	// Identity is the agent's cryptographic identity (public material).
	Identity *identity.Identity `json:"identity" yaml:"identity"`

	// OwnerID optionally names the human that operates this agent.
	OwnerID string `json:"owner_id,omitempty" yaml:"owner_id,omitempty"`

	// PaymentAddress optionally advertises where to settle paid
	// collaborations. Opaque to the core.
	PaymentAddress string `json:"payment_address,omitempty" yaml:"payment_address,omitempty"`

	// Metadata rides along untouched.
	Metadata map[string]interface{} `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// Validate checks the structural requirements before the record can
// enter the directory.
func (r *AgentRegistration) Validate() error {
	if r.AgentID == "" {
		return fmt.Errorf("registration missing agent_id")
	}
	if r.Identity == nil {
		return fmt.Errorf("registration for %s missing identity", r.AgentID)
	}
	switch r.AgentType {
	case types.AgentTypeHuman, types.AgentTypeAI:
	default:
		return fmt.Errorf("registration for %s has unknown agent_type %q", r.AgentID, r.AgentType)
	}
	if len(r.InteractionModes) == 0 {
		return fmt.Errorf("registration for %s declares no interaction modes", r.AgentID)
	}
	for _, m := range r.InteractionModes {
		switch m {
		case types.ModeHumanToAgent, types.ModeAgentToAgent:
		default:
			return fmt.Errorf("registration for %s has unknown interaction mode %q", r.AgentID, m)
		}
	}

	seen := make(map[string]struct{}, len(r.Capabilities))
	for _, c := range r.Capabilities {
		if c.Name == "" {
			return fmt.Errorf("registration for %s has a capability without a name", r.AgentID)
		}
		if _, dup := seen[c.Name]; dup {
			return fmt.Errorf("registration for %s declares capability %q twice", r.AgentID, c.Name)
		}
		seen[c.Name] = struct{}{}
		if err := c.ValidateSchemas(); err != nil {
			return err
		}
	}
	return nil
}

// HasMode reports whether the registration accepts the given interaction
// mode.
func (r *AgentRegistration) HasMode(mode types.InteractionMode) bool {
	for _, m := range r.InteractionModes {
		if m == mode {
			return true
		}
	}
	return false
}

// SharesMode reports whether two registrations have at least one
// interaction mode in common.
func (r *AgentRegistration) SharesMode(other *AgentRegistration) bool {
	for _, m := range r.InteractionModes {
		if other.HasMode(m) {
			return true
		}
	}
	return false
}

// Capability returns the named capability, if advertised.
func (r *AgentRegistration) Capability(name string) (types.Capability, bool) {
	for _, c := range r.Capabilities {
		if c.Name == name {
			return c, true
		}
	}
	return types.Capability{}, false
}

// Clone returns a deep copy safe to hand to callers while the registry
// keeps mutating its own record.
func (r *AgentRegistration) Clone() *AgentRegistration {
	out := *r
	out.InteractionModes = append([]types.InteractionMode(nil), r.InteractionModes...)
	out.Capabilities = append([]types.Capability(nil), r.Capabilities...)
	if r.Metadata != nil {
		out.Metadata = make(map[string]interface{}, len(r.Metadata))
		for k, v := range r.Metadata {
			out.Metadata[k] = v
		}
	}
	return &out
}

// RegistrationUpdate carries the mutable fields of UpdateRegistration.
// Nil fields are left unchanged; Metadata entries are merged in.
type RegistrationUpdate struct {
	Capabilities     []types.Capability
	InteractionModes []types.InteractionMode
	PaymentAddress   *string
	Metadata         map[string]interface{}
}
