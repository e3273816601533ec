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
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/teradata-labs/mesh/pkg/types"
)

func TestVectorStoreSaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vectors.db")
	store, err := OpenVectorStore(path, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer store.Close()

	entries := []VectorEntry{
		{
			DocID:          "agent-a:summarize",
			AgentID:        "agent-a",
			CapabilityName: "summarize",
			Document:       "summarize produce concise summaries",
			Vector:         []float64{0.5, -0.25, 0.8, 0},
		},
		{
			DocID:          "agent-b:translate",
			AgentID:        "agent-b",
			CapabilityName: "translate",
			Document:       "translate text between languages",
			Vector:         []float64{0.1, 0.2, 0.3, 0.4},
		},
	}
	require.NoError(t, store.Save(entries))

	loaded, err := store.Load()
	require.NoError(t, err)
	require.Len(t, loaded, 2)

	byID := make(map[string]VectorEntry)
	for _, e := range loaded {
		byID[e.DocID] = e
	}
	assert.Equal(t, entries[0].Vector, byID["agent-a:summarize"].Vector)
	assert.Equal(t, "translate text between languages", byID["agent-b:translate"].Document)

	// Save replaces, never appends.
	require.NoError(t, store.Save(entries[:1]))
	loaded, err = store.Load()
	require.NoError(t, err)
	assert.Len(t, loaded, 1)
}

func TestIndexSnapshotRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snapshot.db")
	logger := zaptest.NewLogger(t)

	r := New(Options{SnapshotPath: path, Logger: logger})
	_, err := r.Register(newTestRegistration(t, "agent-a",
		types.Capability{Name: "summarize", Description: "produce concise summaries of text"}))
	require.NoError(t, err)
	require.NoError(t, r.Index().Snapshot())
	require.NoError(t, r.Index().Close())

	// A fresh registry warm-starts from the snapshot in the background;
	// re-registering the agent reuses the cached vectors and search
	// works as before.
	r2 := New(Options{SnapshotPath: path, Logger: logger})
	defer r2.Index().Close()
	_, err = r2.Register(newTestRegistration(t, "agent-a",
		types.Capability{Name: "summarize", Description: "produce concise summaries of text"}))
	require.NoError(t, err)

	scored, err := r2.Index().FindSemantic("concise text summaries", 10, 0.2)
	require.NoError(t, err)
	require.Len(t, scored, 1)
	assert.Equal(t, "agent-a", scored[0].Registration.AgentID)
}

func TestSnapshotScheduler(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scheduled.db")
	logger := zaptest.NewLogger(t)

	r := New(Options{SnapshotPath: path, Logger: logger})
	defer r.Index().Close()
	_, err := r.Register(newTestRegistration(t, "agent-a",
		types.Capability{Name: "summarize", Description: "summaries"}))
	require.NoError(t, err)

	sched, err := NewSnapshotScheduler(r.Index(), "@every 1h", logger)
	require.NoError(t, err)
	sched.Start()
	// Stop takes a final snapshot regardless of the schedule.
	sched.Stop()

	store, err := OpenVectorStore(path, logger)
	require.NoError(t, err)
	defer store.Close()
	require.Eventually(t, func() bool {
		entries, err := store.Load()
		return err == nil && len(entries) == 1
	}, 2*time.Second, 50*time.Millisecond)
}

func TestSnapshotSchedulerRejectsBadSchedule(t *testing.T) {
	r := newTestRegistry(t)
	_, err := NewSnapshotScheduler(r.Index(), "not a schedule", zaptest.NewLogger(t))
	assert.Error(t, err)
}
