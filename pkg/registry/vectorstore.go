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
	"bytes"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/klauspost/compress/zstd"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	_ "github.com/teradata-labs/mesh/internal/sqlitedriver"
)

// VectorEntry is one persisted (agent, capability) embedding.
type VectorEntry struct {
	DocID          string
	AgentID        string
	CapabilityName string
	Document       string
	Vector         []float64
}

// VectorStore snapshots capability embeddings to a local SQLite file.
// Vectors are stored as zstd-compressed little-endian float64 BLOBs;
// recomputing them is cheap, so the store is a warm cache, not a source
// of truth.
type VectorStore struct {
	db      *sql.DB
	path    string
	encoder *zstd.Encoder
	decoder *zstd.Decoder
	logger  *zap.Logger
}

// OpenVectorStore opens (and if needed initializes) the snapshot file.
func OpenVectorStore(path string, logger *zap.Logger) (*VectorStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open vector store: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		logger.Warn("failed to enable WAL mode", zap.Error(err))
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		logger.Warn("failed to set busy timeout", zap.Error(err))
	}

	schema := `
	CREATE TABLE IF NOT EXISTS capability_vectors (
		doc_id TEXT PRIMARY KEY,
		agent_id TEXT NOT NULL,
		capability_name TEXT NOT NULL,
		document TEXT NOT NULL,
		embedding BLOB NOT NULL,
		updated_at INTEGER NOT NULL DEFAULT (unixepoch())
	);

	CREATE INDEX IF NOT EXISTS idx_vectors_agent ON capability_vectors(agent_id);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create vector store schema: %w", err)
	}

	encoder, err := zstd.NewWriter(nil)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		encoder.Close()
		db.Close()
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}

	return &VectorStore{db: db, path: path, encoder: encoder, decoder: decoder, logger: logger}, nil
}

// Save replaces the snapshot with the given entries in one transaction.
func (s *VectorStore) Save(entries []VectorEntry) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin snapshot transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if _, err := tx.Exec("DELETE FROM capability_vectors"); err != nil {
		return fmt.Errorf("failed to clear snapshot: %w", err)
	}

	stmt, err := tx.Prepare(`
		INSERT INTO capability_vectors (doc_id, agent_id, capability_name, document, embedding)
		VALUES (?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare snapshot insert: %w", err)
	}
	defer stmt.Close()

	for _, e := range entries {
		blob := s.encodeVector(e.Vector)
		if _, err := stmt.Exec(e.DocID, e.AgentID, e.CapabilityName, e.Document, blob); err != nil {
			return fmt.Errorf("failed to insert vector %s: %w", e.DocID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit snapshot: %w", err)
	}
	return nil
}

// Load reads every persisted entry. Undecodable rows are skipped with a
// warning rather than failing the whole load.
func (s *VectorStore) Load() ([]VectorEntry, error) {
	rows, err := s.db.Query(`
		SELECT doc_id, agent_id, capability_name, document, embedding
		FROM capability_vectors
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query vector store: %w", err)
	}
	defer rows.Close()

	var entries []VectorEntry
	for rows.Next() {
		var e VectorEntry
		var blob []byte
		if err := rows.Scan(&e.DocID, &e.AgentID, &e.CapabilityName, &e.Document, &blob); err != nil {
			s.logger.Warn("failed to scan vector row", zap.Error(err))
			continue
		}
		vec, err := s.decodeVector(blob)
		if err != nil {
			s.logger.Warn("failed to decode vector", zap.String("doc_id", e.DocID), zap.Error(err))
			continue
		}
		e.Vector = vec
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Close releases the database and compressor resources.
func (s *VectorStore) Close() error {
	s.encoder.Close()
	s.decoder.Close()
	return s.db.Close()
}

func (s *VectorStore) encodeVector(vec []float64) []byte {
	raw := make([]byte, 8*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint64(raw[i*8:], math.Float64bits(v))
	}
	return s.encoder.EncodeAll(raw, nil)
}

func (s *VectorStore) decodeVector(blob []byte) ([]float64, error) {
	raw, err := s.decoder.DecodeAll(blob, nil)
	if err != nil {
		return nil, fmt.Errorf("zstd decode: %w", err)
	}
	if len(raw)%8 != 0 {
		return nil, fmt.Errorf("vector blob length %d not a multiple of 8", len(raw))
	}
	vec := make([]float64, len(raw)/8)
	reader := bytes.NewReader(raw)
	for i := range vec {
		var bits uint64
		if err := binary.Read(reader, binary.LittleEndian, &bits); err != nil {
			return nil, err
		}
		vec[i] = math.Float64frombits(bits)
	}
	return vec, nil
}

// SnapshotScheduler persists the capability index on a cron schedule.
type SnapshotScheduler struct {
	cron   *cron.Cron
	index  *CapabilityIndex
	logger *zap.Logger
}

// NewSnapshotScheduler schedules index snapshots using a standard cron
// expression (e.g. "@every 5m").
func NewSnapshotScheduler(index *CapabilityIndex, schedule string, logger *zap.Logger) (*SnapshotScheduler, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &SnapshotScheduler{cron: cron.New(), index: index, logger: logger}
	if _, err := s.cron.AddFunc(schedule, func() {
		if err := index.Snapshot(); err != nil {
			logger.Warn("scheduled snapshot failed", zap.Error(err))
		}
	}); err != nil {
		return nil, fmt.Errorf("invalid snapshot schedule %q: %w", schedule, err)
	}
	return s, nil
}

// Start begins the schedule.
func (s *SnapshotScheduler) Start() { s.cron.Start() }

// Stop halts the schedule, takes a final snapshot, and waits for any
// running job.
func (s *SnapshotScheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	if err := s.index.Snapshot(); err != nil {
		s.logger.Warn("final snapshot failed", zap.Error(err))
	}
}
