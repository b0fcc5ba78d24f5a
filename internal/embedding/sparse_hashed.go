package embedding

import (
	"context"
	"hash/fnv"
	"math"
	"regexp"
	"sort"
	"strings"
)

// sparseHashBuckets bounds the dimensionality of the hashed sparse space.
// A larger value reduces hash collisions at the cost of a sparser, larger
// index; 2^18 keeps collision rates low for typical code-chunk vocabularies
// while staying well inside uint32 range.
const sparseHashBuckets = 1 << 18

var tokenPattern = regexp.MustCompile(`[A-Za-z_][A-Za-z0-9_]*|[0-9]+(\.[0-9]+)?`)

// SparseHashed is a term-frequency hashed sparse embedder: tokens are
// lower-cased, hashed into a fixed bucket space, and weighted by
// log(1+tf). There is no learned term-importance model behind it, so it
// behaves like a hashed bag-of-words retriever rather than SPLADE.
type SparseHashed struct {
	buckets uint32
}

// NewSparseHashed returns a SparseHashed embedder with the default bucket
// count.
func NewSparseHashed() *SparseHashed {
	return &SparseHashed{buckets: sparseHashBuckets}
}

// EmbedBatch tokenizes each text and returns one SparseVector per input,
// indices sorted ascending and deduplicated as Dot requires.
func (s *SparseHashed) EmbedBatch(ctx context.Context, texts []string) ([]SparseVector, error) {
	out := make([]SparseVector, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = s.embedOne(text)
	}
	return out, nil
}

func (s *SparseHashed) embedOne(text string) SparseVector {
	counts := make(map[uint32]int)
	for _, tok := range tokenPattern.FindAllString(text, -1) {
		h := s.hash(strings.ToLower(tok))
		counts[h]++
	}

	indices := make([]uint32, 0, len(counts))
	for idx := range counts {
		indices = append(indices, idx)
	}
	sort.Slice(indices, func(i, j int) bool { return indices[i] < indices[j] })

	values := make([]float32, len(indices))
	for i, idx := range indices {
		values[i] = float32(math.Log1p(float64(counts[idx])))
	}
	return SparseVector{Indices: indices, Values: values}
}

func (s *SparseHashed) hash(token string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(token))
	return h.Sum32() % s.buckets
}
