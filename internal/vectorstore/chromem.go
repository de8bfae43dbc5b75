package vectorstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"

	chromem "github.com/philippgille/chromem-go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/islandd/internal/config"
	"github.com/fyrsmithlabs/islandd/internal/logging"
)

const chromemMetaFile = "islandd_partitions.json"

var errNoEmbedding = errors.New("chromem backend requires precomputed vectors")

// ChromemConfig configures the embedded chromem-go backend.
type ChromemConfig struct {
	// Path is the persistence directory. Empty keeps everything in memory.
	Path     string
	Compress bool
}

// ChromemBackend stores each partition as a chromem collection. Counts are
// exact: deletes and payload updates hold the partition lock across the
// before/after count.
type ChromemBackend struct {
	db     *chromem.DB
	path   string
	logger *logging.Logger

	mu    sync.Mutex // guards meta and the sidecar file
	meta  map[string]partitionMeta
	locks sync.Map // partition name -> *sync.Mutex
}

// partitionMeta is what chromem cannot report back about a collection.
type partitionMeta struct {
	Dimension int  `json:"dimension"`
	Hybrid    bool `json:"hybrid"`
}

var _ Backend = (*ChromemBackend)(nil)

// NewChromemBackend opens (or creates) a chromem store.
func NewChromemBackend(ctx context.Context, cfg ChromemConfig, logger *logging.Logger) (*ChromemBackend, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	b := &ChromemBackend{logger: logger, meta: make(map[string]partitionMeta)}

	if cfg.Path == "" {
		b.db = chromem.NewDB()
		logger.Info(ctx, "chromem backend initialized in memory")
		return b, nil
	}

	path, err := config.ExpandPath(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("expanding path: %w", err)
	}
	if err := os.MkdirAll(path, 0700); err != nil {
		return nil, fmt.Errorf("creating directory %s: %w", path, err)
	}
	db, err := openChromemDB(ctx, path, cfg.Compress, logger)
	if err != nil {
		return nil, fmt.Errorf("opening chromem DB: %w", err)
	}
	b.db = db
	b.path = path
	if err := b.loadMeta(); err != nil {
		return nil, err
	}

	logger.Info(ctx, "chromem backend initialized",
		zap.String("path", path),
		zap.Bool("compress", cfg.Compress),
		zap.Int("partitions", len(db.ListCollections())),
	)
	return b, nil
}

func (b *ChromemBackend) Name() string { return ProviderChromem }

func noEmbedding(context.Context, string) ([]float32, error) {
	return nil, errNoEmbedding
}

func (b *ChromemBackend) collection(name string) (*chromem.Collection, error) {
	if err := ValidatePartitionName(name); err != nil {
		return nil, err
	}
	c := b.db.GetCollection(name, noEmbedding)
	if c == nil {
		return nil, fmt.Errorf("%w: %s", ErrPartitionNotFound, name)
	}
	return c, nil
}

func (b *ChromemBackend) lock(name string) func() {
	m, _ := b.locks.LoadOrStore(name, &sync.Mutex{})
	mu := m.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

func (b *ChromemBackend) CreatePartition(ctx context.Context, name string, dim int, hybrid bool) error {
	if err := ValidatePartitionName(name); err != nil {
		return err
	}
	if dim <= 0 {
		return fmt.Errorf("%w: dimension must be positive", ErrInvalidConfig)
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.db.GetCollection(name, noEmbedding) != nil {
		return fmt.Errorf("%w: %s", ErrPartitionExists, name)
	}
	if _, err := b.db.CreateCollection(name, map[string]string{"dimension": fmt.Sprint(dim)}, noEmbedding); err != nil {
		if strings.Contains(err.Error(), "already exists") {
			return fmt.Errorf("%w: %s", ErrPartitionExists, name)
		}
		return fmt.Errorf("creating collection %s: %w", name, err)
	}
	b.meta[name] = partitionMeta{Dimension: dim, Hybrid: hybrid}
	return b.saveMetaLocked()
}

func (b *ChromemBackend) HasPartition(_ context.Context, name string) (bool, error) {
	if err := ValidatePartitionName(name); err != nil {
		return false, err
	}
	return b.db.GetCollection(name, noEmbedding) != nil, nil
}

func (b *ChromemBackend) DeletePartition(_ context.Context, name string) error {
	if _, err := b.collection(name); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.db.DeleteCollection(name); err != nil {
		return fmt.Errorf("deleting collection %s: %w", name, err)
	}
	delete(b.meta, name)
	return b.saveMetaLocked()
}

func (b *ChromemBackend) dimension(name string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.meta[name].Dimension
}

func (b *ChromemBackend) Insert(ctx context.Context, name string, points []Point) error {
	if len(points) == 0 {
		return nil
	}
	c, err := b.collection(name)
	if err != nil {
		return err
	}
	dim := b.dimension(name)
	if err := validatePoints(points, dim); err != nil {
		return err
	}

	docs := make([]chromem.Document, len(points))
	for i, p := range points {
		docs[i] = chromem.Document{
			ID:        p.ID,
			Metadata:  p.Payload.stringMap(),
			Embedding: p.Vector,
			Content:   p.Payload.Content,
		}
	}

	unlock := b.lock(name)
	defer unlock()
	if err := c.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
		return fmt.Errorf("adding documents to %s: %w", name, err)
	}
	if dim == 0 {
		b.mu.Lock()
		b.meta[name] = partitionMeta{Dimension: len(points[0].Vector)}
		err = b.saveMetaLocked()
		b.mu.Unlock()
	}
	return err
}

func (b *ChromemBackend) DeleteByFilter(ctx context.Context, name string, f Filter) (DeleteResult, error) {
	if err := f.requireConditions(); err != nil {
		return DeleteResult{}, err
	}
	c, err := b.collection(name)
	if err != nil {
		return DeleteResult{}, err
	}

	unlock := b.lock(name)
	defer unlock()
	before := c.Count()
	if before == 0 {
		return DeleteResult{Known: true}, nil
	}
	if err := c.Delete(ctx, f, nil); err != nil {
		return DeleteResult{}, fmt.Errorf("deleting from %s: %w", name, err)
	}
	return DeleteResult{Count: int64(before - c.Count()), Known: true}, nil
}

// matching returns every document satisfying f. chromem has no scan API, so
// it queries with a unit vector and nResults equal to the collection size.
func (b *ChromemBackend) matching(ctx context.Context, name string, c *chromem.Collection, f Filter) ([]chromem.Result, error) {
	n := c.Count()
	if n == 0 {
		return nil, nil
	}
	dim := b.dimension(name)
	if dim == 0 {
		return nil, fmt.Errorf("%w: unknown dimension for %s", ErrInvalidConfig, name)
	}
	unit := make([]float32, dim)
	unit[0] = 1
	return c.QueryEmbedding(ctx, unit, n, f, nil)
}

func (b *ChromemBackend) SetPayload(ctx context.Context, name string, f Filter, fields map[string]string) (DeleteResult, error) {
	if err := f.requireConditions(); err != nil {
		return DeleteResult{}, err
	}
	if err := validateFields(fields); err != nil {
		return DeleteResult{}, err
	}
	c, err := b.collection(name)
	if err != nil {
		return DeleteResult{}, err
	}

	unlock := b.lock(name)
	defer unlock()
	results, err := b.matching(ctx, name, c, f)
	if err != nil {
		return DeleteResult{}, fmt.Errorf("scanning %s: %w", name, err)
	}
	if len(results) == 0 {
		return DeleteResult{Known: true}, nil
	}

	docs := make([]chromem.Document, len(results))
	for i, r := range results {
		p := payloadFromStrings(r.Metadata, r.Content)
		for k, v := range fields {
			p.set(k, v)
		}
		docs[i] = chromem.Document{
			ID:        r.ID,
			Metadata:  p.stringMap(),
			Embedding: r.Embedding,
			Content:   r.Content,
		}
	}
	if err := c.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
		return DeleteResult{}, fmt.Errorf("rewriting payload in %s: %w", name, err)
	}
	return DeleteResult{Count: int64(len(docs)), Known: true}, nil
}

func (b *ChromemBackend) Search(ctx context.Context, name string, req SearchRequest) ([]ScoredPoint, error) {
	if req.Limit <= 0 {
		return nil, fmt.Errorf("limit must be positive, got %d", req.Limit)
	}
	c, err := b.collection(name)
	if err != nil {
		return nil, err
	}
	if dim := b.dimension(name); dim > 0 && len(req.Vector) != dim {
		return nil, fmt.Errorf("%w: query has %d dimensions, partition has %d", ErrDimensionMismatch, len(req.Vector), dim)
	}

	n := c.Count()
	if n == 0 {
		return []ScoredPoint{}, nil
	}
	limit := req.Limit
	if limit > n {
		limit = n
	}
	var where map[string]string
	if len(req.Filter) > 0 {
		where = req.Filter
	}

	results, err := c.QueryEmbedding(ctx, req.Vector, limit, where, nil)
	if err != nil {
		return nil, fmt.Errorf("querying %s: %w", name, err)
	}
	out := make([]ScoredPoint, len(results))
	for i, r := range results {
		out[i] = ScoredPoint{
			ID:      r.ID,
			Score:   r.Similarity,
			Payload: payloadFromStrings(r.Metadata, r.Content),
		}
	}
	return out, nil
}

func (b *ChromemBackend) Stats(_ context.Context, name string) (Stats, error) {
	c, err := b.collection(name)
	if err != nil {
		return Stats{}, err
	}
	return Stats{PointCount: int64(c.Count())}, nil
}

func (b *ChromemBackend) ListPartitions(context.Context) ([]string, error) {
	cols := b.db.ListCollections()
	names := make([]string, 0, len(cols))
	for name := range cols {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Close is a no-op; chromem persists on every write.
func (b *ChromemBackend) Close() error { return nil }

func (b *ChromemBackend) loadMeta() error {
	data, err := os.ReadFile(filepath.Join(b.path, chromemMetaFile))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading partition metadata: %w", err)
	}
	if err := json.Unmarshal(data, &b.meta); err != nil {
		return fmt.Errorf("decoding partition metadata: %w", err)
	}
	return nil
}

func (b *ChromemBackend) saveMetaLocked() error {
	if b.path == "" {
		return nil
	}
	data, err := json.Marshal(b.meta)
	if err != nil {
		return err
	}
	tmp := filepath.Join(b.path, chromemMetaFile+".tmp")
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("writing partition metadata: %w", err)
	}
	return os.Rename(tmp, filepath.Join(b.path, chromemMetaFile))
}
