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
	"hash/fnv"
	"math"
	"strings"

	"github.com/pkoukk/tiktoken-go"
	"golang.org/x/text/unicode/norm"
)

// DefaultEmbeddingDim is the vector width of the built-in hashing
// embedder.
const DefaultEmbeddingDim = 256

// Embedder turns capability text into a vector for semantic search.
// Implementations must return L2-normalized vectors of a fixed
// dimension. Callers may inject real embedding models; the substrate
// ships a deterministic feature-hashing embedder.
type Embedder interface {
	// Embed returns the normalized vector for the text.
	Embed(text string) ([]float64, error)

	// Dimension is the fixed vector width.
	Dimension() int
}

// HashingEmbedder is a deterministic, dependency-free embedder: tiktoken
// cl100k_base token IDs feature-hashed into a fixed-width vector, then
// L2-normalized. It is no substitute for a learned model but gives
// token-overlap-aware similarity without network calls, and it degrades
// to character tokenization when the encoding cannot be loaded.
type HashingEmbedder struct {
	dim     int
	encoder *tiktoken.Tiktoken
}

// NewHashingEmbedder builds the embedder. dim <= 0 selects
// DefaultEmbeddingDim.
func NewHashingEmbedder(dim int) *HashingEmbedder {
	if dim <= 0 {
		dim = DefaultEmbeddingDim
	}
	// Encoding load needs the BPE data; when unavailable the embedder
	// falls back to word tokens hashed directly.
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		enc = nil
	}
	return &HashingEmbedder{dim: dim, encoder: enc}
}

// Dimension implements Embedder.
func (e *HashingEmbedder) Dimension() int { return e.dim }

// Embed implements Embedder.
func (e *HashingEmbedder) Embed(text string) ([]float64, error) {
	ids := e.tokenIDs(text)
	if len(ids) == 0 {
		return nil, fmt.Errorf("no tokens in %q", text)
	}

	vec := make([]float64, e.dim)
	for _, id := range ids {
		bucket := id % e.dim
		// Alternate sign by the discarded high part so hash collisions
		// cancel rather than pile up.
		if (id/e.dim)%2 == 0 {
			vec[bucket]++
		} else {
			vec[bucket]--
		}
	}
	normalizeVector(vec)
	return vec, nil
}

func (e *HashingEmbedder) tokenIDs(text string) []int {
	if e.encoder != nil {
		return e.encoder.Encode(NormalizeText(text), nil, nil)
	}
	tokens := Tokenize(text)
	ids := make([]int, 0, len(tokens))
	for _, tok := range tokens {
		h := fnv.New32a()
		h.Write([]byte(tok))
		ids = append(ids, int(h.Sum32()))
	}
	return ids
}

// NormalizeText applies NFKC normalization and lowercasing, so that
// width and compatibility variants of the same word match.
func NormalizeText(text string) string {
	return strings.ToLower(norm.NFKC.String(text))
}

// Tokenize splits normalized text into whitespace-delimited tokens.
func Tokenize(text string) []string {
	return strings.Fields(NormalizeText(text))
}

// JaccardSimilarity is the token-overlap similarity in [0,1] used when
// no vector index is available.
func JaccardSimilarity(a, b string) float64 {
	setA := tokenSet(a)
	setB := tokenSet(b)
	if len(setA) == 0 || len(setB) == 0 {
		return 0
	}

	intersection := 0
	for tok := range setA {
		if _, ok := setB[tok]; ok {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	return float64(intersection) / float64(union)
}

func tokenSet(text string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, tok := range Tokenize(text) {
		set[tok] = struct{}{}
	}
	return set
}

// CosineSimilarity over two same-length vectors. With L2-normalized
// inputs this is a plain dot product; unnormalized inputs are handled
// for injected embedders that skip normalization.
func CosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

func normalizeVector(vec []float64) {
	var sum float64
	for _, v := range vec {
		sum += v * v
	}
	if sum == 0 {
		return
	}
	length := math.Sqrt(sum)
	for i := range vec {
		vec[i] /= length
	}
}
