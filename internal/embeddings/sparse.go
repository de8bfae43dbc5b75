package embeddings

import (
	"hash/fnv"
	"math"
	"regexp"
	"sort"
	"strings"

	"github.com/fyrsmithlabs/islandd/internal/vectorstore"
)

// SparseEmbedder produces term-weight vectors for hybrid partitions.
type SparseEmbedder interface {
	EmbedSparse(text string) vectorstore.SparseVector
}

// DefaultSparseBuckets is the hashing space of HashingSparse.
const DefaultSparseBuckets = 1 << 20

var tokenPattern = regexp.MustCompile(`[\p{L}\p{N}_]+`)

// HashingSparse hashes lower-cased tokens into a fixed index space and
// weights them by 1+ln(tf). Identical text always yields the same vector.
type HashingSparse struct {
	Buckets uint32
}

// EmbedSparse returns the sparse vector of text with indices ascending.
func (h HashingSparse) EmbedSparse(text string) vectorstore.SparseVector {
	buckets := h.Buckets
	if buckets == 0 {
		buckets = DefaultSparseBuckets
	}

	tf := make(map[uint32]int)
	for _, tok := range tokenPattern.FindAllString(strings.ToLower(text), -1) {
		if len(tok) < 2 {
			continue
		}
		f := fnv.New32a()
		_, _ = f.Write([]byte(tok))
		tf[f.Sum32()%buckets]++
	}

	indices := make([]uint32, 0, len(tf))
	for idx := range tf {
		indices = append(indices, idx)
	}
	sort.Slice(indices, func(i, j int) bool { return indices[i] < indices[j] })

	values := make([]float32, len(indices))
	for i, idx := range indices {
		values[i] = float32(1 + math.Log(float64(tf[idx])))
	}
	return vectorstore.SparseVector{Indices: indices, Values: values}
}
