package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/qdrant/go-client/qdrant"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/fyrsmithlabs/islandd/internal/logging"
)

// Named vectors in every qdrant partition.
const (
	denseVectorName  = "dense"
	sparseVectorName = "sparse"
)

// QdrantConfig configures the qdrant gRPC backend.
type QdrantConfig struct {
	Host           string
	Port           int // gRPC port, not the 6333 REST port
	UseTLS         bool
	APIKey         string
	MaxMessageSize int
	DialTimeout    time.Duration
	Retry          RetryConfig
}

// ApplyDefaults sets default values for unset fields.
func (c *QdrantConfig) ApplyDefaults() {
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.Port == 0 {
		c.Port = 6334
	}
	if c.MaxMessageSize == 0 {
		c.MaxMessageSize = 50 * 1024 * 1024
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = 5 * time.Second
	}
	c.Retry.ApplyDefaults()
}

// Validate validates the configuration.
func (c *QdrantConfig) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("%w: host required", ErrInvalidConfig)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("%w: invalid port: %d", ErrInvalidConfig, c.Port)
	}
	if c.MaxMessageSize <= 0 {
		return fmt.Errorf("%w: invalid max message size: %d", ErrInvalidConfig, c.MaxMessageSize)
	}
	return nil
}

// QdrantBackend stores partitions as qdrant collections with a named dense
// vector and, for hybrid partitions, a named sparse vector. Qdrant does not
// report how many points a filtered delete or payload update touched.
type QdrantBackend struct {
	client *qdrant.Client
	config QdrantConfig
	logger *logging.Logger
	retry  *retrier
}

var _ Backend = (*QdrantBackend)(nil)

// NewQdrantBackend connects to qdrant and performs a health check.
func NewQdrantBackend(ctx context.Context, cfg QdrantConfig, logger *logging.Logger) (*QdrantBackend, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	qcfg := &qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		UseTLS: cfg.UseTLS,
		APIKey: cfg.APIKey,
		GrpcOptions: []grpc.DialOption{
			grpc.WithDefaultCallOptions(
				grpc.MaxCallRecvMsgSize(cfg.MaxMessageSize),
				grpc.MaxCallSendMsgSize(cfg.MaxMessageSize),
			),
		},
	}
	if !cfg.UseTLS {
		logger.Warn(ctx, "qdrant gRPC using plaintext (TLS disabled)")
	}

	client, err := qdrant.NewClient(qcfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	b := &QdrantBackend{
		client: client,
		config: cfg,
		logger: logger,
		retry:  newRetrier(cfg.Retry, isTransientGRPC),
	}

	hctx, cancel := context.WithTimeout(ctx, cfg.DialTimeout)
	defer cancel()
	if _, err := client.HealthCheck(hctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: health check: %v", ErrConnectionFailed, err)
	}

	logger.Info(ctx, "qdrant connection established",
		zap.String("host", cfg.Host),
		zap.Int("port", cfg.Port),
		zap.Bool("tls", cfg.UseTLS),
	)
	return b, nil
}

func (b *QdrantBackend) Name() string { return ProviderQdrant }

// isTransientGRPC classifies gRPC status codes worth retrying.
func isTransientGRPC(err error) bool {
	st, ok := status.FromError(err)
	if !ok {
		return false
	}
	switch st.Code() {
	case codes.Unavailable, codes.DeadlineExceeded, codes.Aborted, codes.ResourceExhausted:
		return true
	default:
		return false
	}
}

// mapQdrantError turns not-found statuses into ErrPartitionNotFound.
func mapQdrantError(name string, err error) error {
	if err == nil {
		return nil
	}
	if status.Code(errors.Unwrap(err)) == codes.NotFound || status.Code(err) == codes.NotFound {
		return fmt.Errorf("%w: %s", ErrPartitionNotFound, name)
	}
	if strings.Contains(err.Error(), "doesn't exist") || strings.Contains(err.Error(), "Not found") {
		return fmt.Errorf("%w: %s: %v", ErrPartitionNotFound, name, err)
	}
	return err
}

func (b *QdrantBackend) CreatePartition(ctx context.Context, name string, dim int, hybrid bool) error {
	if err := ValidatePartitionName(name); err != nil {
		return err
	}
	if dim <= 0 {
		return fmt.Errorf("%w: dimension must be positive", ErrInvalidConfig)
	}

	req := &qdrant.CreateCollection{
		CollectionName: name,
		VectorsConfig: qdrant.NewVectorsConfigMap(map[string]*qdrant.VectorParams{
			denseVectorName: {Size: uint64(dim), Distance: qdrant.Distance_Cosine},
		}),
	}
	if hybrid {
		req.SparseVectorsConfig = qdrant.NewSparseVectorsConfig(map[string]*qdrant.SparseVectorParams{
			sparseVectorName: {},
		})
	}

	err := b.retry.do(ctx, "create_partition", func(ctx context.Context) error {
		return b.client.CreateCollection(ctx, req)
	})
	if err != nil {
		if status.Code(errors.Unwrap(err)) == codes.AlreadyExists || strings.Contains(err.Error(), "already exists") {
			return fmt.Errorf("%w: %s", ErrPartitionExists, name)
		}
		return fmt.Errorf("creating collection %s: %w", name, err)
	}

	// Keyword indexes keep scope filters fast on large partitions.
	for _, field := range []string{FieldProjectID, FieldDatasetID, FieldPath} {
		_, err := b.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
			CollectionName: name,
			FieldName:      field,
			FieldType:      qdrant.FieldType_FieldTypeKeyword.Enum(),
			Wait:           qdrant.PtrOf(true),
		})
		if err != nil {
			b.logger.Warn(ctx, "creating payload index failed",
				zap.String("partition", name), zap.String("field", field), zap.Error(err))
		}
	}
	return nil
}

func (b *QdrantBackend) HasPartition(ctx context.Context, name string) (bool, error) {
	if err := ValidatePartitionName(name); err != nil {
		return false, err
	}
	var exists bool
	err := b.retry.do(ctx, "has_partition", func(ctx context.Context) error {
		var err error
		exists, err = b.client.CollectionExists(ctx, name)
		return err
	})
	return exists, err
}

func (b *QdrantBackend) DeletePartition(ctx context.Context, name string) error {
	exists, err := b.HasPartition(ctx, name)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%w: %s", ErrPartitionNotFound, name)
	}
	err = b.retry.do(ctx, "delete_partition", func(ctx context.Context) error {
		return b.client.DeleteCollection(ctx, name)
	})
	return mapQdrantError(name, err)
}

func (b *QdrantBackend) Insert(ctx context.Context, name string, points []Point) error {
	if len(points) == 0 {
		return nil
	}
	if err := ValidatePartitionName(name); err != nil {
		return err
	}
	if err := validatePoints(points, 0); err != nil {
		return err
	}

	structs := make([]*qdrant.PointStruct, len(points))
	for i, p := range points {
		s, err := toQdrantPoint(p)
		if err != nil {
			return fmt.Errorf("point %s: %w", p.ID, err)
		}
		structs[i] = s
	}

	err := b.retry.do(ctx, "insert", func(ctx context.Context) error {
		_, err := b.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: name,
			Wait:           qdrant.PtrOf(true),
			Points:         structs,
		})
		return err
	})
	return mapQdrantError(name, err)
}

func (b *QdrantBackend) DeleteByFilter(ctx context.Context, name string, f Filter) (DeleteResult, error) {
	if err := f.requireConditions(); err != nil {
		return DeleteResult{}, err
	}
	if err := ValidatePartitionName(name); err != nil {
		return DeleteResult{}, err
	}
	err := b.retry.do(ctx, "delete_by_filter", func(ctx context.Context) error {
		_, err := b.client.Delete(ctx, &qdrant.DeletePoints{
			CollectionName: name,
			Wait:           qdrant.PtrOf(true),
			Points:         qdrant.NewPointsSelectorFilter(toQdrantFilter(f)),
		})
		return err
	})
	if err != nil {
		return DeleteResult{}, mapQdrantError(name, err)
	}
	return DeleteResult{Known: false}, nil
}

func (b *QdrantBackend) SetPayload(ctx context.Context, name string, f Filter, fields map[string]string) (DeleteResult, error) {
	if err := f.requireConditions(); err != nil {
		return DeleteResult{}, err
	}
	if err := validateFields(fields); err != nil {
		return DeleteResult{}, err
	}
	payload := make(map[string]any, len(fields))
	for k, v := range fields {
		payload[k] = v
	}
	err := b.retry.do(ctx, "set_payload", func(ctx context.Context) error {
		_, err := b.client.SetPayload(ctx, &qdrant.SetPayloadPoints{
			CollectionName: name,
			Wait:           qdrant.PtrOf(true),
			Payload:        qdrant.NewValueMap(payload),
			PointsSelector: qdrant.NewPointsSelectorFilter(toQdrantFilter(f)),
		})
		return err
	})
	if err != nil {
		return DeleteResult{}, mapQdrantError(name, err)
	}
	return DeleteResult{Known: false}, nil
}

func (b *QdrantBackend) Search(ctx context.Context, name string, req SearchRequest) ([]ScoredPoint, error) {
	if req.Limit <= 0 {
		return nil, fmt.Errorf("limit must be positive, got %d", req.Limit)
	}
	if err := ValidatePartitionName(name); err != nil {
		return nil, err
	}

	query := buildQdrantQuery(name, req)
	var hits []*qdrant.ScoredPoint
	err := b.retry.do(ctx, "search", func(ctx context.Context) error {
		var err error
		hits, err = b.client.Query(ctx, query)
		return err
	})
	if err != nil {
		return nil, mapQdrantError(name, err)
	}

	out := make([]ScoredPoint, len(hits))
	for i, h := range hits {
		out[i] = ScoredPoint{
			ID:      extractPointID(h.GetId()),
			Score:   h.GetScore(),
			Payload: payloadFromQdrant(h.GetPayload()),
		}
	}
	return out, nil
}

// buildQdrantQuery searches the dense vector, or fuses dense and sparse
// prefetches with reciprocal rank fusion when a sparse query is given.
func buildQdrantQuery(name string, req SearchRequest) *qdrant.QueryPoints {
	limit := uint64(req.Limit)
	var filter *qdrant.Filter
	if len(req.Filter) > 0 {
		filter = toQdrantFilter(req.Filter)
	}

	q := &qdrant.QueryPoints{
		CollectionName: name,
		Filter:         filter,
		Limit:          qdrant.PtrOf(limit),
		WithPayload:    qdrant.NewWithPayload(true),
	}
	if req.Sparse == nil || len(req.Sparse.Indices) == 0 {
		q.Query = qdrant.NewQuery(req.Vector...)
		q.Using = qdrant.PtrOf(denseVectorName)
		return q
	}

	prefetchLimit := limit * 4
	q.Prefetch = []*qdrant.PrefetchQuery{
		{
			Query:  qdrant.NewQuery(req.Vector...),
			Using:  qdrant.PtrOf(denseVectorName),
			Filter: filter,
			Limit:  qdrant.PtrOf(prefetchLimit),
		},
		{
			Query:  qdrant.NewQuerySparse(req.Sparse.Indices, req.Sparse.Values),
			Using:  qdrant.PtrOf(sparseVectorName),
			Filter: filter,
			Limit:  qdrant.PtrOf(prefetchLimit),
		},
	}
	q.Query = qdrant.NewQueryFusion(qdrant.Fusion_RRF)
	return q
}

func (b *QdrantBackend) Stats(ctx context.Context, name string) (Stats, error) {
	if err := ValidatePartitionName(name); err != nil {
		return Stats{}, err
	}
	var n uint64
	err := b.retry.do(ctx, "stats", func(ctx context.Context) error {
		var err error
		n, err = b.client.Count(ctx, &qdrant.CountPoints{
			CollectionName: name,
			Exact:          qdrant.PtrOf(true),
		})
		return err
	})
	if err != nil {
		return Stats{}, mapQdrantError(name, err)
	}
	return Stats{PointCount: int64(n)}, nil
}

func (b *QdrantBackend) ListPartitions(ctx context.Context) ([]string, error) {
	var names []string
	err := b.retry.do(ctx, "list_partitions", func(ctx context.Context) error {
		var err error
		names, err = b.client.ListCollections(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}

func (b *QdrantBackend) Close() error {
	if b.client != nil {
		return b.client.Close()
	}
	return nil
}

func toQdrantPoint(p Point) (*qdrant.PointStruct, error) {
	payload, err := qdrant.TryValueMap(p.Payload.Map())
	if err != nil {
		return nil, err
	}
	vectors := map[string]*qdrant.Vector{
		denseVectorName: qdrant.NewVector(p.Vector...),
	}
	if p.Sparse != nil && len(p.Sparse.Indices) > 0 {
		vectors[sparseVectorName] = qdrant.NewVectorSparse(p.Sparse.Indices, p.Sparse.Values)
	}
	return &qdrant.PointStruct{
		Id:      qdrant.NewIDUUID(p.ID),
		Vectors: qdrant.NewVectorsMap(vectors),
		Payload: payload,
	}, nil
}

func toQdrantFilter(f Filter) *qdrant.Filter {
	conds := make([]*qdrant.Condition, 0, len(f))
	for _, k := range f.Keys() {
		conds = append(conds, qdrant.NewMatch(k, f[k]))
	}
	return &qdrant.Filter{Must: conds}
}

func extractPointID(id *qdrant.PointId) string {
	if id == nil {
		return ""
	}
	if u := id.GetUuid(); u != "" {
		return u
	}
	return fmt.Sprintf("%d", id.GetNum())
}

func payloadFromQdrant(m map[string]*qdrant.Value) Payload {
	str := func(k string) string { return m[k].GetStringValue() }
	num := func(k string) int { return int(m[k].GetIntegerValue()) }
	return Payload{
		ProjectID:   str(FieldProjectID),
		DatasetID:   str(FieldDatasetID),
		Path:        str(FieldPath),
		StartLine:   num(FieldStartLine),
		EndLine:     num(FieldEndLine),
		Language:    str(FieldLanguage),
		SourceKind:  str(FieldSourceKind),
		ContentHash: str(FieldContentHash),
		ChunkIndex:  num(FieldChunkIndex),
		Content:     str(FieldContent),
	}
}
