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

// Package registry is the authoritative directory of agent registrations
// and the capability index built over them. It verifies identities at
// registration time, maintains secondary indexes (capability,
// interaction mode, organization, owner), and exposes exact and semantic
// capability discovery.
package registry

import (
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/teradata-labs/mesh/pkg/identity"
	"github.com/teradata-labs/mesh/pkg/types"
)

var (
	// ErrNotRegistered is returned when an agent ID is not in the
	// directory.
	ErrNotRegistered = errors.New("agent not registered")
)

// Options configures a Registry. The zero value is usable.
type Options struct {
	// Verifiers maps DID method prefixes to verification hooks.
	// Defaults to identity.DefaultVerifiers().
	Verifiers map[string]identity.MethodVerifier

	// Embedder powers semantic capability search. Nil selects the
	// built-in hashing embedder.
	Embedder Embedder

	// SnapshotPath optionally points at a SQLite file the capability
	// index snapshots to and reloads from. Empty disables persistence.
	SnapshotPath string

	// Logger for all registry operations. Nil falls back to zap.NewNop.
	Logger *zap.Logger
}

// Registry is the authoritative agent directory. All operations are safe
// for concurrent use; every one of them is idempotent on repeat with the
// same inputs.
type Registry struct {
	mu sync.RWMutex

	// Directory (agent ID → registration). The registry owns these
	// records; getters hand out clones.
	agents map[string]*AgentRegistration

	// Secondary indexes, updated in lockstep with the directory.
	byCapability   map[string]map[string]struct{}
	byMode         map[types.InteractionMode]map[string]struct{}
	byOrganization map[string]map[string]struct{}
	byOwner        map[string]map[string]struct{}

	verifiers map[string]identity.MethodVerifier
	index     *CapabilityIndex
	logger    *zap.Logger
}

// New creates a Registry with the given options.
func New(opts Options) *Registry {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	verifiers := opts.Verifiers
	if verifiers == nil {
		verifiers = identity.DefaultVerifiers()
	}

	r := &Registry{
		agents:         make(map[string]*AgentRegistration),
		byCapability:   make(map[string]map[string]struct{}),
		byMode:         make(map[types.InteractionMode]map[string]struct{}),
		byOrganization: make(map[string]map[string]struct{}),
		byOwner:        make(map[string]map[string]struct{}),
		verifiers:      verifiers,
		logger:         logger,
	}
	r.index = newCapabilityIndex(opts.Embedder, opts.SnapshotPath, logger)
	return r
}

// Index exposes the capability index for discovery calls and snapshot
// scheduling.
func (r *Registry) Index() *CapabilityIndex { return r.index }

// Register verifies the registration's identity and inserts it into the
// directory and every secondary index. A verification failure marks the
// identity failed and returns (false, error) leaving no partial state; a
// capability-index failure rolls the directory insertion back.
func (r *Registry) Register(reg *AgentRegistration) (bool, error) {
	if reg == nil {
		return false, fmt.Errorf("nil registration")
	}
	if err := reg.Validate(); err != nil {
		return false, err
	}

	if err := identity.VerifyDID(reg.Identity, r.verifiers); err != nil {
		reg.Identity.Status = types.VerificationFailed
		r.logger.Warn("identity verification failed",
			zap.String("agent_id", reg.AgentID),
			zap.String("did", reg.Identity.DID),
			zap.Error(err))
		return false, fmt.Errorf("identity verification for %s: %w", reg.AgentID, err)
	}

	record := reg.Clone()
	record.Identity = reg.Identity.PublicOnly()
	record.Identity.Status = types.VerificationVerified
	// The caller's copy observes the transition too.
	reg.Identity.Status = types.VerificationVerified

	r.mu.Lock()
	r.agents[record.AgentID] = record
	r.indexRegistration(record)
	r.mu.Unlock()

	if err := r.index.Add(record); err != nil {
		r.mu.Lock()
		r.unindexRegistration(record)
		delete(r.agents, record.AgentID)
		r.mu.Unlock()
		return false, fmt.Errorf("capability index update for %s: %w", record.AgentID, err)
	}

	r.logger.Info("agent registered",
		zap.String("agent_id", record.AgentID),
		zap.String("did", record.Identity.DID),
		zap.String("agent_type", string(record.AgentType)),
		zap.Int("capabilities", len(record.Capabilities)))
	return true, nil
}

// Unregister removes the agent from the directory, all secondary
// indexes, and the capability index. Unknown agents are a no-op.
func (r *Registry) Unregister(agentID string) error {
	r.mu.Lock()
	record, ok := r.agents[agentID]
	if ok {
		r.unindexRegistration(record)
		delete(r.agents, agentID)
	}
	r.mu.Unlock()
	if !ok {
		return nil
	}

	r.index.Remove(agentID)
	r.logger.Info("agent unregistered", zap.String("agent_id", agentID))
	return nil
}

// UpdateRegistration mutates the agent's capabilities, interaction
// modes, payment address, and metadata atomically with the index
// updates. Metadata entries are merged; other non-nil fields replace.
func (r *Registry) UpdateRegistration(agentID string, update RegistrationUpdate) error {
	r.mu.Lock()
	record, ok := r.agents[agentID]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotRegistered, agentID)
	}

	previous := record.Clone()
	r.unindexRegistration(record)

	if update.Capabilities != nil {
		record.Capabilities = append([]types.Capability(nil), update.Capabilities...)
	}
	if update.InteractionModes != nil {
		record.InteractionModes = append([]types.InteractionMode(nil), update.InteractionModes...)
	}
	if update.PaymentAddress != nil {
		record.PaymentAddress = *update.PaymentAddress
	}
	if update.Metadata != nil {
		if record.Metadata == nil {
			record.Metadata = make(map[string]interface{}, len(update.Metadata))
		}
		for k, v := range update.Metadata {
			record.Metadata[k] = v
		}
	}

	if err := record.Validate(); err != nil {
		// Restore the previous record and its index entries.
		r.agents[agentID] = previous
		r.indexRegistration(previous)
		r.mu.Unlock()
		return err
	}
	r.indexRegistration(record)
	r.mu.Unlock()

	if update.Capabilities != nil {
		if err := r.index.Update(record); err != nil {
			r.mu.Lock()
			r.unindexRegistration(record)
			r.agents[agentID] = previous
			r.indexRegistration(previous)
			r.mu.Unlock()
			if idxErr := r.index.Update(previous); idxErr != nil {
				r.logger.Error("capability index rollback failed",
					zap.String("agent_id", agentID), zap.Error(idxErr))
			}
			return fmt.Errorf("capability index update for %s: %w", agentID, err)
		}
	}

	r.logger.Info("registration updated", zap.String("agent_id", agentID))
	return nil
}

// GetRegistration returns a copy of the agent's directory record.
func (r *Registry) GetRegistration(agentID string) (*AgentRegistration, error) {
	r.mu.RLock()
	record, ok := r.agents[agentID]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotRegistered, agentID)
	}
	return record.Clone(), nil
}

// GetAgentType returns the registered type of an agent.
func (r *Registry) GetAgentType(agentID string) (types.AgentType, error) {
	r.mu.RLock()
	record, ok := r.agents[agentID]
	r.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNotRegistered, agentID)
	}
	return record.AgentType, nil
}

// GetAllAgents returns copies of every directory record.
func (r *Registry) GetAllAgents() []*AgentRegistration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*AgentRegistration, 0, len(r.agents))
	for _, record := range r.agents {
		out = append(out, record.Clone())
	}
	return out
}

// GetAllCapabilities returns the distinct capability names currently
// advertised across the directory.
func (r *Registry) GetAllCapabilities() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.byCapability))
	for name := range r.byCapability {
		out = append(out, name)
	}
	return out
}

// GetByCapability returns agents advertising the named capability via
// the forward index, falling back to semantic matching when there is no
// exact hit. See CapabilityIndex.FindByName for the threshold semantics.
func (r *Registry) GetByCapability(name string, limit int, threshold float64) ([]*AgentRegistration, error) {
	return r.index.FindByName(name, limit, threshold)
}

// GetByCapabilitySemantic searches capabilities by meaning and returns
// scored registrations, best first.
func (r *Registry) GetByCapabilitySemantic(query string, limit int, threshold float64) ([]ScoredRegistration, error) {
	return r.index.FindSemantic(query, limit, threshold)
}

// GetByInteractionMode returns agents accepting the given mode.
func (r *Registry) GetByInteractionMode(mode types.InteractionMode) []*AgentRegistration {
	return r.collect(func() map[string]struct{} { return r.byMode[mode] })
}

// GetByOrganization returns agents registered under the organization.
func (r *Registry) GetByOrganization(orgID string) []*AgentRegistration {
	return r.collect(func() map[string]struct{} { return r.byOrganization[orgID] })
}

// GetByOwner returns agents operated by the given owner.
func (r *Registry) GetByOwner(ownerID string) []*AgentRegistration {
	return r.collect(func() map[string]struct{} { return r.byOwner[ownerID] })
}

// GetVerifiedAgents returns agents whose identity is verified. Since
// registration requires verification this is normally every agent, but
// a replaced verifier may downgrade records.
func (r *Registry) GetVerifiedAgents() []*AgentRegistration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*AgentRegistration
	for _, record := range r.agents {
		if record.Identity.Status == types.VerificationVerified {
			out = append(out, record.Clone())
		}
	}
	return out
}

// VerifyAgent reports whether the agent is registered with a verified
// identity.
func (r *Registry) VerifyAgent(agentID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	record, ok := r.agents[agentID]
	return ok && record.Identity.Status == types.VerificationVerified
}

// VerifyOwner reports whether ownerID operates the agent.
func (r *Registry) VerifyOwner(agentID, ownerID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	record, ok := r.agents[agentID]
	return ok && record.OwnerID != "" && record.OwnerID == ownerID
}

// Identity returns the public identity stored for an agent, as needed by
// the hub for signature verification. The copy carries no private key
// and mutating it leaves the registry's record untouched; status
// transitions happen only through registration.
func (r *Registry) Identity(agentID string) (*identity.Identity, error) {
	r.mu.RLock()
	record, ok := r.agents[agentID]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotRegistered, agentID)
	}
	return record.Identity.PublicOnly(), nil
}

func (r *Registry) collect(pick func() map[string]struct{}) []*AgentRegistration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := pick()
	out := make([]*AgentRegistration, 0, len(ids))
	for id := range ids {
		if record, ok := r.agents[id]; ok {
			out = append(out, record.Clone())
		}
	}
	return out
}

// indexRegistration inserts the record into every secondary index.
// Caller holds r.mu.
func (r *Registry) indexRegistration(record *AgentRegistration) {
	for _, c := range record.Capabilities {
		addToIndex(r.byCapability, c.Name, record.AgentID)
	}
	for _, m := range record.InteractionModes {
		addToIndex(r.byMode, m, record.AgentID)
	}
	if record.OrganizationID != "" {
		addToIndex(r.byOrganization, record.OrganizationID, record.AgentID)
	}
	if record.OwnerID != "" {
		addToIndex(r.byOwner, record.OwnerID, record.AgentID)
	}
}

// unindexRegistration removes the record from every secondary index.
// Caller holds r.mu.
func (r *Registry) unindexRegistration(record *AgentRegistration) {
	for _, c := range record.Capabilities {
		dropFromIndex(r.byCapability, c.Name, record.AgentID)
	}
	for _, m := range record.InteractionModes {
		dropFromIndex(r.byMode, m, record.AgentID)
	}
	if record.OrganizationID != "" {
		dropFromIndex(r.byOrganization, record.OrganizationID, record.AgentID)
	}
	if record.OwnerID != "" {
		dropFromIndex(r.byOwner, record.OwnerID, record.AgentID)
	}
}

func addToIndex[K comparable](index map[K]map[string]struct{}, key K, agentID string) {
	set, ok := index[key]
	if !ok {
		set = make(map[string]struct{})
		index[key] = set
	}
	set[agentID] = struct{}{}
}

func dropFromIndex[K comparable](index map[K]map[string]struct{}, key K, agentID string) {
	set, ok := index[key]
	if !ok {
		return
	}
	delete(set, agentID)
	if len(set) == 0 {
		delete(index, key)
	}
}
