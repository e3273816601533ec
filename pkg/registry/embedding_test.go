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
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashingEmbedderNormalized(t *testing.T) {
	e := NewHashingEmbedder(0)
	assert.Equal(t, DefaultEmbeddingDim, e.Dimension())

	vec, err := e.Embed("summarize produce concise summaries of text")
	require.NoError(t, err)
	require.Len(t, vec, DefaultEmbeddingDim)

	var sum float64
	for _, v := range vec {
		sum += v * v
	}
	assert.InDelta(t, 1.0, sum, 1e-9, "embedding must be L2-normalized")
}

func TestHashingEmbedderDeterministic(t *testing.T) {
	e := NewHashingEmbedder(64)
	a, err := e.Embed("translate text between languages")
	require.NoError(t, err)
	b, err := e.Embed("translate text between languages")
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestHashingEmbedderEmptyText(t *testing.T) {
	e := NewHashingEmbedder(64)
	_, err := e.Embed("")
	assert.Error(t, err)
}

func TestHashingEmbedderSimilarityOrdering(t *testing.T) {
	e := NewHashingEmbedder(0)

	doc, err := e.Embed("summarize produce concise summaries of text")
	require.NoError(t, err)
	near, err := e.Embed("text summarization concise summaries")
	require.NoError(t, err)
	far, err := e.Embed("bake a chocolate cake with frosting")
	require.NoError(t, err)

	assert.Greater(t, CosineSimilarity(doc, near), CosineSimilarity(doc, far))
}

func TestCosineSimilarityEdges(t *testing.T) {
	assert.Equal(t, 0.0, CosineSimilarity(nil, nil))
	assert.Equal(t, 0.0, CosineSimilarity([]float64{1}, []float64{1, 2}))
	assert.Equal(t, 0.0, CosineSimilarity([]float64{0, 0}, []float64{1, 1}))
	assert.InDelta(t, 1.0, CosineSimilarity([]float64{3, 4}, []float64{3, 4}), 1e-9)
	assert.InDelta(t, -1.0, CosineSimilarity([]float64{1, 0}, []float64{-1, 0}), 1e-9)
}

func TestJaccardSimilarity(t *testing.T) {
	assert.Equal(t, 1.0, JaccardSimilarity("summarize text", "text summarize"))
	assert.Equal(t, 0.0, JaccardSimilarity("summarize", "paint"))
	assert.Equal(t, 0.0, JaccardSimilarity("", "anything"))

	// Half overlap: {a,b} vs {b,c} → 1/3.
	sim := JaccardSimilarity("alpha beta", "beta gamma")
	assert.InDelta(t, 1.0/3.0, sim, 1e-9)

	// Case-insensitive through normalization.
	assert.Equal(t, 1.0, JaccardSimilarity("Summarize TEXT", "summarize text"))
}

func TestTokenizeNormalizes(t *testing.T) {
	tokens := Tokenize("  Summarize\tTEXT  ")
	assert.Equal(t, []string{"summarize", "text"}, tokens)

	// NFKC folds full-width forms.
	tokens = Tokenize("ﬁle")
	assert.Equal(t, []string{"file"}, tokens)
}

func TestNormalizeVector(t *testing.T) {
	vec := []float64{3, 4}
	normalizeVector(vec)
	assert.InDelta(t, 0.6, vec[0], 1e-9)
	assert.InDelta(t, 0.8, vec[1], 1e-9)

	zero := []float64{0, 0}
	normalizeVector(zero)
	assert.False(t, math.IsNaN(zero[0]))
}
