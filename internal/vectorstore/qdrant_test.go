package vectorstore

import (
	"testing"

	"github.com/qdrant/go-client/qdrant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestQdrantConfig_Defaults(t *testing.T) {
	var cfg QdrantConfig
	cfg.ApplyDefaults()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "localhost", cfg.Host)
	assert.Equal(t, 6334, cfg.Port)
	assert.Equal(t, 50*1024*1024, cfg.MaxMessageSize)
	assert.Equal(t, 3, cfg.Retry.MaxRetries)

	cfg.Port = 70000
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
}

func TestToQdrantPoint(t *testing.T) {
	p := testPoint("0b8e5a3c-1f2d-5e6a-9b7c-8d9e0f1a2b3c", "acme", "ds1", "a.go", 2)
	p.Sparse = &SparseVector{Indices: []uint32{7, 42}, Values: []float32{0.5, 1.5}}

	s, err := toQdrantPoint(p)
	require.NoError(t, err)
	assert.Equal(t, p.ID, s.GetId().GetUuid())

	vectors := s.GetVectors().GetVectors().GetVectors()
	require.Contains(t, vectors, denseVectorName)
	require.Contains(t, vectors, sparseVectorName)

	assert.Equal(t, "acme", s.GetPayload()[FieldProjectID].GetStringValue())
	assert.Equal(t, int64(2), s.GetPayload()[FieldChunkIndex].GetIntegerValue())
	assert.Equal(t, p.Payload, payloadFromQdrant(s.GetPayload()))
}

func TestToQdrantFilter(t *testing.T) {
	f := toQdrantFilter(FileFilter("acme", "ds1", "a.go"))
	require.Len(t, f.GetMust(), 3)

	keys := make([]string, 0, 3)
	for _, c := range f.GetMust() {
		fc := c.GetField()
		keys = append(keys, fc.GetKey())
	}
	assert.Equal(t, []string{FieldDatasetID, FieldPath, FieldProjectID}, keys)
	assert.Equal(t, "ds1", f.GetMust()[0].GetField().GetMatch().GetKeyword())
}

func TestBuildQdrantQuery(t *testing.T) {
	dense := buildQdrantQuery("isl_global", SearchRequest{Vector: []float32{1, 0}, Limit: 5})
	assert.Equal(t, denseVectorName, dense.GetUsing())
	assert.Equal(t, uint64(5), dense.GetLimit())
	assert.Empty(t, dense.GetPrefetch())
	assert.Nil(t, dense.GetFilter())

	hybrid := buildQdrantQuery("isl_global", SearchRequest{
		Vector: []float32{1, 0},
		Sparse: &SparseVector{Indices: []uint32{1}, Values: []float32{1}},
		Filter: ScopeFilter("acme", ""),
		Limit:  5,
	})
	require.Len(t, hybrid.GetPrefetch(), 2)
	assert.Equal(t, qdrant.Fusion_RRF, hybrid.GetQuery().GetFusion())
	assert.Equal(t, sparseVectorName, hybrid.GetPrefetch()[1].GetUsing())
	assert.Equal(t, uint64(20), hybrid.GetPrefetch()[0].GetLimit())
	assert.NotNil(t, hybrid.GetFilter())
}

func TestMapQdrantError(t *testing.T) {
	err := mapQdrantError("isl_global", status.Error(codes.NotFound, "Collection `isl_global` doesn't exist!"))
	assert.ErrorIs(t, err, ErrPartitionNotFound)

	other := status.Error(codes.Internal, "boom")
	assert.Equal(t, other, mapQdrantError("isl_global", other))
	assert.NoError(t, mapQdrantError("isl_global", nil))
}

func TestExtractPointID(t *testing.T) {
	assert.Equal(t, "abc", extractPointID(qdrant.NewIDUUID("abc")))
	assert.Equal(t, "42", extractPointID(qdrant.NewIDNum(42)))
	assert.Empty(t, extractPointID(nil))
}
