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
package sqlitedriver_test

import (
	"database/sql"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "github.com/teradata-labs/mesh/internal/sqlitedriver"
)

func TestDriverRegistered(t *testing.T) {
	assert.True(t, slices.Contains(sql.Drivers(), "sqlite3"), "sqlite3 driver should be registered")
}

func TestSnapshotTableShape(t *testing.T) {
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Exec(`CREATE TABLE capability_vectors (
		doc_id TEXT PRIMARY KEY,
		agent_id TEXT NOT NULL,
		capability_name TEXT NOT NULL,
		document TEXT NOT NULL,
		embedding BLOB NOT NULL
	)`)
	require.NoError(t, err)

	_, err = db.Exec("INSERT INTO capability_vectors (doc_id, agent_id, capability_name, document, embedding) VALUES (?, ?, ?, ?, ?)",
		"agent-a:summarize", "agent-a", "summarize", "summarize produce concise summaries", []byte{0x01, 0x02})
	require.NoError(t, err)

	var agentID string
	err = db.QueryRow("SELECT agent_id FROM capability_vectors WHERE doc_id = ?", "agent-a:summarize").Scan(&agentID)
	require.NoError(t, err)
	assert.Equal(t, "agent-a", agentID)
}
