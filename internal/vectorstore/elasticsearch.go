package vectorstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/islandd/internal/logging"
)

// ElasticsearchConfig configures the elasticsearch backend.
type ElasticsearchConfig struct {
	Addresses  []string
	Username   string
	Password   string
	MaxRetries int
	Retry      RetryConfig
	// Transport overrides the HTTP transport (tests).
	Transport http.RoundTripper
}

// ElasticsearchBackend stores each partition as an index with a dense_vector
// field and, for hybrid partitions, a sparse_vector field.
type ElasticsearchBackend struct {
	client *elasticsearch.Client
	logger *logging.Logger
	retry  *retrier
}

var _ Backend = (*ElasticsearchBackend)(nil)

// esStatusError carries a non-2xx response.
type esStatusError struct {
	Status int
	Type   string
	Reason string
}

func (e *esStatusError) Error() string {
	if e.Type == "" {
		return fmt.Sprintf("elasticsearch: status %d", e.Status)
	}
	return fmt.Sprintf("elasticsearch: status %d: %s: %s", e.Status, e.Type, e.Reason)
}

func isTransientES(err error) bool {
	var se *esStatusError
	if errors.As(err, &se) {
		return se.Status == http.StatusTooManyRequests || se.Status >= 500
	}
	return false
}

// NewElasticsearchBackend creates a client and pings the cluster.
func NewElasticsearchBackend(ctx context.Context, cfg ElasticsearchConfig, logger *logging.Logger) (*ElasticsearchBackend, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	if len(cfg.Addresses) == 0 {
		return nil, fmt.Errorf("%w: at least one elasticsearch address required", ErrInvalidConfig)
	}
	client, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses:  cfg.Addresses,
		Username:   cfg.Username,
		Password:   cfg.Password,
		MaxRetries: cfg.MaxRetries,
		Transport:  cfg.Transport,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}
	b := &ElasticsearchBackend{
		client: client,
		logger: logger,
		retry:  newRetrier(cfg.Retry, isTransientES),
	}

	res, err := client.Ping(client.Ping.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}
	res.Body.Close()
	if res.IsError() {
		return nil, fmt.Errorf("%w: ping returned %s", ErrConnectionFailed, res.Status())
	}

	logger.Info(ctx, "elasticsearch connection established", zap.Strings("addresses", cfg.Addresses))
	return b, nil
}

func (b *ElasticsearchBackend) Name() string { return ProviderElasticsearch }

// decode reads a response, converting error statuses into esStatusError.
func decode(res *esapi.Response, out any) error {
	defer res.Body.Close()
	if res.IsError() {
		var body struct {
			Error struct {
				Type   string `json:"type"`
				Reason string `json:"reason"`
			} `json:"error"`
		}
		data, _ := io.ReadAll(res.Body)
		_ = json.Unmarshal(data, &body)
		return &esStatusError{Status: res.StatusCode, Type: body.Error.Type, Reason: body.Error.Reason}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, res.Body)
		return nil
	}
	return json.NewDecoder(res.Body).Decode(out)
}

func mapESError(name string, err error) error {
	var se *esStatusError
	if errors.As(err, &se) {
		switch {
		case se.Type == "index_not_found_exception" || (se.Status == http.StatusNotFound && se.Type == ""):
			return fmt.Errorf("%w: %s", ErrPartitionNotFound, name)
		case se.Type == "resource_already_exists_exception":
			return fmt.Errorf("%w: %s", ErrPartitionExists, name)
		}
	}
	return err
}

func jsonBody(v any) (io.Reader, error) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return &buf, nil
}

func indexMapping(dim int, hybrid bool) map[string]any {
	props := map[string]any{
		"vector": map[string]any{
			"type":       "dense_vector",
			"dims":       dim,
			"index":      true,
			"similarity": "cosine",
		},
		FieldProjectID:   map[string]any{"type": "keyword"},
		FieldDatasetID:   map[string]any{"type": "keyword"},
		FieldPath:        map[string]any{"type": "keyword"},
		FieldLanguage:    map[string]any{"type": "keyword"},
		FieldSourceKind:  map[string]any{"type": "keyword"},
		FieldContentHash: map[string]any{"type": "keyword"},
		FieldStartLine:   map[string]any{"type": "integer"},
		FieldEndLine:     map[string]any{"type": "integer"},
		FieldChunkIndex:  map[string]any{"type": "integer"},
		FieldContent:     map[string]any{"type": "text"},
	}
	if hybrid {
		props["sparse"] = map[string]any{"type": "sparse_vector"}
	}
	return map[string]any{"mappings": map[string]any{"properties": props}}
}

func (b *ElasticsearchBackend) CreatePartition(ctx context.Context, name string, dim int, hybrid bool) error {
	if err := ValidatePartitionName(name); err != nil {
		return err
	}
	if dim <= 0 {
		return fmt.Errorf("%w: dimension must be positive", ErrInvalidConfig)
	}
	err := b.retry.do(ctx, "create_partition", func(ctx context.Context) error {
		body, err := jsonBody(indexMapping(dim, hybrid))
		if err != nil {
			return err
		}
		res, err := b.client.Indices.Create(name,
			b.client.Indices.Create.WithContext(ctx),
			b.client.Indices.Create.WithBody(body),
		)
		if err != nil {
			return err
		}
		return decode(res, nil)
	})
	return mapESError(name, err)
}

func (b *ElasticsearchBackend) HasPartition(ctx context.Context, name string) (bool, error) {
	if err := ValidatePartitionName(name); err != nil {
		return false, err
	}
	var exists bool
	err := b.retry.do(ctx, "has_partition", func(ctx context.Context) error {
		res, err := b.client.Indices.Exists([]string{name}, b.client.Indices.Exists.WithContext(ctx))
		if err != nil {
			return err
		}
		defer res.Body.Close()
		switch {
		case res.StatusCode == http.StatusOK:
			exists = true
			return nil
		case res.StatusCode == http.StatusNotFound:
			exists = false
			return nil
		default:
			return &esStatusError{Status: res.StatusCode}
		}
	})
	return exists, err
}

func (b *ElasticsearchBackend) DeletePartition(ctx context.Context, name string) error {
	if err := ValidatePartitionName(name); err != nil {
		return err
	}
	err := b.retry.do(ctx, "delete_partition", func(ctx context.Context) error {
		res, err := b.client.Indices.Delete([]string{name}, b.client.Indices.Delete.WithContext(ctx))
		if err != nil {
			return err
		}
		return decode(res, nil)
	})
	return mapESError(name, err)
}

// esDocument is the indexed form of a point.
func esDocument(p Point) map[string]any {
	doc := p.Payload.Map()
	doc["vector"] = p.Vector
	if p.Sparse != nil && len(p.Sparse.Indices) > 0 {
		doc["sparse"] = sparseTerms(p.Sparse)
	}
	return doc
}

// sparseTerms encodes a sparse vector as the token/weight object
// elasticsearch expects. Weights must be positive.
func sparseTerms(s *SparseVector) map[string]float32 {
	terms := make(map[string]float32, len(s.Indices))
	for i, idx := range s.Indices {
		if i < len(s.Values) && s.Values[i] > 0 {
			terms[strconv.FormatUint(uint64(idx), 10)] = s.Values[i]
		}
	}
	return terms
}

func (b *ElasticsearchBackend) Insert(ctx context.Context, name string, points []Point) error {
	if len(points) == 0 {
		return nil
	}
	if err := ValidatePartitionName(name); err != nil {
		return err
	}
	if err := validatePoints(points, 0); err != nil {
		return err
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, p := range points {
		if err := enc.Encode(map[string]any{"index": map[string]any{"_index": name, "_id": p.ID}}); err != nil {
			return err
		}
		if err := enc.Encode(esDocument(p)); err != nil {
			return fmt.Errorf("encoding point %s: %w", p.ID, err)
		}
	}
	payload := buf.Bytes()

	err := b.retry.do(ctx, "insert", func(ctx context.Context) error {
		res, err := b.client.Bulk(bytes.NewReader(payload),
			b.client.Bulk.WithContext(ctx),
			b.client.Bulk.WithIndex(name),
			b.client.Bulk.WithRefresh("true"),
		)
		if err != nil {
			return err
		}
		var out struct {
			Errors bool `json:"errors"`
			Items  []map[string]struct {
				Status int `json:"status"`
				Error  struct {
					Type   string `json:"type"`
					Reason string `json:"reason"`
				} `json:"error"`
			} `json:"items"`
		}
		if err := decode(res, &out); err != nil {
			return err
		}
		if !out.Errors {
			return nil
		}
		for _, item := range out.Items {
			for _, r := range item {
				if r.Status >= 300 {
					return &esStatusError{Status: r.Status, Type: r.Error.Type, Reason: r.Error.Reason}
				}
			}
		}
		return nil
	})
	return mapESError(name, err)
}

func termsQuery(f Filter) map[string]any {
	terms := make([]map[string]any, 0, len(f))
	for _, k := range f.Keys() {
		terms = append(terms, map[string]any{"term": map[string]any{k: f[k]}})
	}
	return map[string]any{"bool": map[string]any{"filter": terms}}
}

func (b *ElasticsearchBackend) DeleteByFilter(ctx context.Context, name string, f Filter) (DeleteResult, error) {
	if err := f.requireConditions(); err != nil {
		return DeleteResult{}, err
	}
	if err := ValidatePartitionName(name); err != nil {
		return DeleteResult{}, err
	}
	var out struct {
		Deleted int64 `json:"deleted"`
	}
	err := b.retry.do(ctx, "delete_by_filter", func(ctx context.Context) error {
		body, err := jsonBody(map[string]any{"query": termsQuery(f)})
		if err != nil {
			return err
		}
		res, err := b.client.DeleteByQuery([]string{name}, body,
			b.client.DeleteByQuery.WithContext(ctx),
			b.client.DeleteByQuery.WithRefresh(true),
			b.client.DeleteByQuery.WithConflicts("proceed"),
		)
		if err != nil {
			return err
		}
		return decode(res, &out)
	})
	if err != nil {
		return DeleteResult{}, mapESError(name, err)
	}
	return DeleteResult{Count: out.Deleted, Known: true}, nil
}

const setFieldsScript = "for (e in params.fields.entrySet()) { ctx._source[e.getKey()] = e.getValue(); }"

func (b *ElasticsearchBackend) SetPayload(ctx context.Context, name string, f Filter, fields map[string]string) (DeleteResult, error) {
	if err := f.requireConditions(); err != nil {
		return DeleteResult{}, err
	}
	if err := validateFields(fields); err != nil {
		return DeleteResult{}, err
	}
	var out struct {
		Updated int64 `json:"updated"`
	}
	err := b.retry.do(ctx, "set_payload", func(ctx context.Context) error {
		body, err := jsonBody(map[string]any{
			"query": termsQuery(f),
			"script": map[string]any{
				"source": setFieldsScript,
				"lang":   "painless",
				"params": map[string]any{"fields": fields},
			},
		})
		if err != nil {
			return err
		}
		res, err := b.client.UpdateByQuery([]string{name},
			b.client.UpdateByQuery.WithContext(ctx),
			b.client.UpdateByQuery.WithBody(body),
			b.client.UpdateByQuery.WithRefresh(true),
			b.client.UpdateByQuery.WithConflicts("proceed"),
		)
		if err != nil {
			return err
		}
		return decode(res, &out)
	})
	if err != nil {
		return DeleteResult{}, mapESError(name, err)
	}
	return DeleteResult{Count: out.Updated, Known: true}, nil
}

// searchBody builds a knn query. With a sparse vector the sparse_vector
// query runs alongside and elasticsearch sums both scores.
func searchBody(req SearchRequest) map[string]any {
	candidates := req.Limit * 10
	if candidates < 100 {
		candidates = 100
	}
	knn := map[string]any{
		"field":          "vector",
		"query_vector":   req.Vector,
		"k":              req.Limit,
		"num_candidates": candidates,
	}
	if len(req.Filter) > 0 {
		knn["filter"] = termsQuery(req.Filter)
	}
	body := map[string]any{
		"knn":     knn,
		"size":    req.Limit,
		"_source": map[string]any{"excludes": []string{"vector", "sparse"}},
	}
	if req.Sparse != nil && len(req.Sparse.Indices) > 0 {
		sq := map[string]any{
			"sparse_vector": map[string]any{
				"field":        "sparse",
				"query_vector": sparseTerms(req.Sparse),
			},
		}
		if len(req.Filter) > 0 {
			body["query"] = map[string]any{"bool": map[string]any{
				"must":   sq,
				"filter": termsQuery(req.Filter)["bool"].(map[string]any)["filter"],
			}}
		} else {
			body["query"] = sq
		}
	}
	return body
}

type esHit struct {
	ID     string          `json:"_id"`
	Score  float32         `json:"_score"`
	Source json.RawMessage `json:"_source"`
}

func (b *ElasticsearchBackend) Search(ctx context.Context, name string, req SearchRequest) ([]ScoredPoint, error) {
	if req.Limit <= 0 {
		return nil, fmt.Errorf("limit must be positive, got %d", req.Limit)
	}
	if err := ValidatePartitionName(name); err != nil {
		return nil, err
	}
	var out struct {
		Hits struct {
			Hits []esHit `json:"hits"`
		} `json:"hits"`
	}
	err := b.retry.do(ctx, "search", func(ctx context.Context) error {
		body, err := jsonBody(searchBody(req))
		if err != nil {
			return err
		}
		res, err := b.client.Search(
			b.client.Search.WithContext(ctx),
			b.client.Search.WithIndex(name),
			b.client.Search.WithBody(body),
		)
		if err != nil {
			return err
		}
		return decode(res, &out)
	})
	if err != nil {
		return nil, mapESError(name, err)
	}

	points := make([]ScoredPoint, 0, len(out.Hits.Hits))
	for _, h := range out.Hits.Hits {
		var p Payload
		if err := json.Unmarshal(h.Source, &p); err != nil {
			return nil, fmt.Errorf("decoding hit %s: %w", h.ID, err)
		}
		points = append(points, ScoredPoint{ID: h.ID, Score: h.Score, Payload: p})
	}
	return points, nil
}

func (b *ElasticsearchBackend) Stats(ctx context.Context, name string) (Stats, error) {
	if err := ValidatePartitionName(name); err != nil {
		return Stats{}, err
	}
	var out struct {
		Count int64 `json:"count"`
	}
	err := b.retry.do(ctx, "stats", func(ctx context.Context) error {
		res, err := b.client.Count(
			b.client.Count.WithContext(ctx),
			b.client.Count.WithIndex(name),
		)
		if err != nil {
			return err
		}
		return decode(res, &out)
	})
	if err != nil {
		return Stats{}, mapESError(name, err)
	}
	return Stats{PointCount: out.Count}, nil
}

// ListPartitions lists indices that follow the partition naming scheme.
func (b *ElasticsearchBackend) ListPartitions(ctx context.Context) ([]string, error) {
	var rows []struct {
		Index string `json:"index"`
	}
	err := b.retry.do(ctx, "list_partitions", func(ctx context.Context) error {
		res, err := b.client.Cat.Indices(
			b.client.Cat.Indices.WithContext(ctx),
			b.client.Cat.Indices.WithIndex("isl_*"),
			b.client.Cat.Indices.WithFormat("json"),
			b.client.Cat.Indices.WithH("index"),
		)
		if err != nil {
			return err
		}
		return decode(res, &rows)
	})
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(rows))
	for _, r := range rows {
		if !strings.HasPrefix(r.Index, ".") {
			names = append(names, r.Index)
		}
	}
	sort.Strings(names)
	return names, nil
}

// Close is a no-op; the HTTP client has no persistent state to release.
func (b *ElasticsearchBackend) Close() error { return nil }
