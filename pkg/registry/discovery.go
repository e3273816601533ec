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
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/teradata-labs/mesh/pkg/types"
)

// InitWaitTimeout bounds how long a semantic reader arriving before the
// first index build waits before degrading to exact-name lookup.
const InitWaitTimeout = 10 * time.Second

// ScoredRegistration pairs a discovery hit with its similarity score.
// For cosine results the score is the ORIGINAL raw cosine (threshold
// filtering happens on the (s+1)/2 normalized value); for Jaccard
// results it is the raw [0,1] overlap.
type ScoredRegistration struct {
	Registration *AgentRegistration
	Score        float64
}

// capabilityDoc is one (agent, capability) entry in the vector index.
type capabilityDoc struct {
	AgentID    string
	Capability types.Capability
	Document   string

	// Vector is nil when embedding failed; such docs participate via
	// the Jaccard fallback only.
	Vector []float64
}

func (d *capabilityDoc) id() string { return d.AgentID + ":" + d.Capability.Name }

// CapabilityIndex is the in-memory forward index (capability name →
// agents) plus an optional vector index over (agent, capability)
// documents. Entries are created and removed in lockstep with registry
// entries; mutations are serialized under one lock.
//
// With a snapshot path configured, previously computed embeddings are
// reloaded in the background as a warm cache; semantic readers that
// arrive before the load finishes wait on the init signal with a
// bounded timeout and then degrade to exact-name lookup.
type CapabilityIndex struct {
	mu sync.RWMutex

	// Forward index: capability name → agent IDs.
	byName map[string]map[string]struct{}

	// Directory mirror (agent ID → registration clone) so discovery
	// results carry full records.
	registrations map[string]*AgentRegistration

	// Vector index: doc ID → document.
	docs map[string]*capabilityDoc

	// Warm cache (document text → vector) fed by the snapshot load.
	vectorCache map[string][]float64

	embedder Embedder
	store    *VectorStore
	logger   *zap.Logger

	// initialized closes when the background snapshot load completes
	// (immediately when no snapshot is configured).
	initialized chan struct{}
	initOnce    sync.Once
}

func newCapabilityIndex(embedder Embedder, snapshotPath string, logger *zap.Logger) *CapabilityIndex {
	if embedder == nil {
		embedder = NewHashingEmbedder(0)
	}

	idx := &CapabilityIndex{
		byName:        make(map[string]map[string]struct{}),
		registrations: make(map[string]*AgentRegistration),
		docs:          make(map[string]*capabilityDoc),
		vectorCache:   make(map[string][]float64),
		embedder:      embedder,
		logger:        logger,
		initialized:   make(chan struct{}),
	}

	if snapshotPath == "" {
		idx.markInitialized()
		return idx
	}

	store, err := OpenVectorStore(snapshotPath, logger)
	if err != nil {
		logger.Warn("capability snapshot unavailable, continuing without persistence",
			zap.String("path", snapshotPath), zap.Error(err))
		idx.markInitialized()
		return idx
	}
	idx.store = store

	// Load in the background so registration is never blocked on disk.
	go idx.loadSnapshot()
	return idx
}

func (x *CapabilityIndex) markInitialized() {
	x.initOnce.Do(func() { close(x.initialized) })
}

func (x *CapabilityIndex) loadSnapshot() {
	defer x.markInitialized()

	entries, err := x.store.Load()
	if err != nil {
		x.logger.Warn("failed to load capability snapshot", zap.Error(err))
		return
	}

	x.mu.Lock()
	for _, e := range entries {
		x.vectorCache[e.Document] = e.Vector
		// Attach vectors to docs registered while the load was running.
		if doc, ok := x.docs[e.DocID]; ok && doc.Vector == nil && doc.Document == e.Document {
			doc.Vector = e.Vector
		}
	}
	x.mu.Unlock()

	x.logger.Info("capability snapshot loaded", zap.Int("entries", len(entries)))
}

// waitInitialized blocks until the first build completes, bounded by
// InitWaitTimeout. Returns false when the reader should degrade to
// exact-name lookup.
func (x *CapabilityIndex) waitInitialized() bool {
	select {
	case <-x.initialized:
		return true
	case <-time.After(InitWaitTimeout):
		x.logger.Warn("capability index init wait timed out, degrading to exact lookup")
		return false
	}
}

// Add indexes every capability of the registration. Embedding failures
// are not fatal: the affected documents fall back to token overlap.
func (x *CapabilityIndex) Add(reg *AgentRegistration) error {
	if reg == nil {
		return fmt.Errorf("nil registration")
	}

	record := reg.Clone()

	x.mu.Lock()
	defer x.mu.Unlock()

	x.removeLocked(record.AgentID)
	x.registrations[record.AgentID] = record
	for _, c := range record.Capabilities {
		addToIndex(x.byName, c.Name, record.AgentID)

		doc := &capabilityDoc{AgentID: record.AgentID, Capability: c, Document: c.DocumentText()}
		if cached, ok := x.vectorCache[doc.Document]; ok {
			doc.Vector = cached
		} else if vec, err := x.embedder.Embed(doc.Document); err == nil {
			doc.Vector = vec
			x.vectorCache[doc.Document] = vec
		} else {
			x.logger.Debug("embedding failed, capability will use token overlap",
				zap.String("agent_id", record.AgentID),
				zap.String("capability", c.Name),
				zap.Error(err))
		}
		x.docs[doc.id()] = doc
	}
	return nil
}

// Update re-indexes the registration.
func (x *CapabilityIndex) Update(reg *AgentRegistration) error { return x.Add(reg) }

// Remove drops every entry for the agent.
func (x *CapabilityIndex) Remove(agentID string) {
	x.mu.Lock()
	x.removeLocked(agentID)
	x.mu.Unlock()
}

func (x *CapabilityIndex) removeLocked(agentID string) {
	record, ok := x.registrations[agentID]
	if !ok {
		return
	}
	for _, c := range record.Capabilities {
		dropFromIndex(x.byName, c.Name, agentID)
		delete(x.docs, agentID+":"+c.Name)
	}
	delete(x.registrations, agentID)
}

// FindByName returns agents advertising the capability: exact forward
// index hits first, else a semantic fallback on the name with the given
// threshold. Limit <= 0 means unlimited.
func (x *CapabilityIndex) FindByName(name string, limit int, threshold float64) ([]*AgentRegistration, error) {
	x.mu.RLock()
	ids := x.byName[name]
	out := make([]*AgentRegistration, 0, len(ids))
	for id := range ids {
		if record, ok := x.registrations[id]; ok {
			out = append(out, record.Clone())
		}
	}
	x.mu.RUnlock()

	if len(out) > 0 {
		sort.Slice(out, func(i, j int) bool { return out[i].AgentID < out[j].AgentID })
		if limit > 0 && len(out) > limit {
			out = out[:limit]
		}
		return out, nil
	}

	scored, err := x.FindSemantic(name, limit, threshold)
	if err != nil {
		return nil, err
	}
	out = make([]*AgentRegistration, len(scored))
	for i, s := range scored {
		out[i] = s.Registration
	}
	return out, nil
}

// FindSemantic searches capability documents by meaning and returns
// scored registrations, best first, deduplicated by agent (an agent's
// best-matching capability wins).
//
// Cosine scoring: raw scores <= 0 are discarded; the remaining scores
// are mapped by (s+1)/2 into (0.5, 1] and threshold is compared against
// that normalized value, while the returned Score stays the raw cosine.
// Without usable vectors the index degrades to Jaccard token overlap
// with threshold applied directly to the raw [0,1] similarity.
func (x *CapabilityIndex) FindSemantic(query string, limit int, threshold float64) ([]ScoredRegistration, error) {
	if !x.waitInitialized() {
		regs, err := x.exactOnly(query, limit)
		if err != nil {
			return nil, err
		}
		out := make([]ScoredRegistration, len(regs))
		for i, r := range regs {
			out[i] = ScoredRegistration{Registration: r, Score: 1.0}
		}
		return out, nil
	}

	queryVec, embedErr := x.embedder.Embed(query)

	x.mu.RLock()
	defer x.mu.RUnlock()

	// Best score per agent.
	best := make(map[string]float64)
	for _, doc := range x.docs {
		var score float64
		var keep bool
		if embedErr == nil && doc.Vector != nil {
			raw := CosineSimilarity(queryVec, doc.Vector)
			if raw <= 0 {
				continue
			}
			score = raw
			keep = (raw+1)/2 >= threshold
		} else {
			score = JaccardSimilarity(query, doc.Document)
			keep = score >= threshold && score > 0
		}
		if !keep {
			continue
		}
		if prev, ok := best[doc.AgentID]; !ok || score > prev {
			best[doc.AgentID] = score
		}
	}

	out := make([]ScoredRegistration, 0, len(best))
	for agentID, score := range best {
		record, ok := x.registrations[agentID]
		if !ok {
			continue
		}
		out = append(out, ScoredRegistration{Registration: record.Clone(), Score: score})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Registration.AgentID < out[j].Registration.AgentID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (x *CapabilityIndex) exactOnly(name string, limit int) ([]*AgentRegistration, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	ids := x.byName[name]
	out := make([]*AgentRegistration, 0, len(ids))
	for id := range ids {
		if record, ok := x.registrations[id]; ok {
			out = append(out, record.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AgentID < out[j].AgentID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Snapshot persists the current vector index. No-op without a store.
func (x *CapabilityIndex) Snapshot() error {
	if x.store == nil {
		return nil
	}

	x.mu.RLock()
	entries := make([]VectorEntry, 0, len(x.docs))
	for _, doc := range x.docs {
		if doc.Vector == nil {
			continue
		}
		entries = append(entries, VectorEntry{
			DocID:          doc.id(),
			AgentID:        doc.AgentID,
			CapabilityName: doc.Capability.Name,
			Document:       doc.Document,
			Vector:         doc.Vector,
		})
	}
	x.mu.RUnlock()

	if err := x.store.Save(entries); err != nil {
		return fmt.Errorf("failed to snapshot capability index: %w", err)
	}
	x.logger.Debug("capability index snapshotted", zap.Int("entries", len(entries)))
	return nil
}

// Close releases the snapshot store.
func (x *CapabilityIndex) Close() error {
	if x.store == nil {
		return nil
	}
	return x.store.Close()
}
