package http

import (
	"time"

	"github.com/fyrsmithlabs/islandd/internal/lifecycle"
	"github.com/fyrsmithlabs/islandd/internal/metadata"
	"github.com/fyrsmithlabs/islandd/internal/router"
	"github.com/fyrsmithlabs/islandd/internal/syncer"
	"github.com/fyrsmithlabs/islandd/internal/vectorstore"
)

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status   string            `json:"status"`
	Services map[string]string `json:"services,omitempty"`
}

// SyncRequest is the request body for POST /api/v1/sync.
type SyncRequest struct {
	Project    string `json:"project"`
	Dataset    string `json:"dataset"`
	Root       string `json:"root"`
	SourceKind string `json:"source_kind,omitempty"`
	Global     bool   `json:"global,omitempty"`
	// Wait blocks on a running sync of the same dataset instead of
	// answering 409.
	Wait bool `json:"wait,omitempty"`
}

// SyncResponse is the response body for POST /api/v1/sync.
type SyncResponse struct {
	RunID                string           `json:"run_id"`
	Partition            string           `json:"partition"`
	Status               string           `json:"status"`
	Created              int              `json:"created"`
	Modified             int              `json:"modified"`
	Deleted              int              `json:"deleted"`
	Renamed              int              `json:"renamed"`
	Unchanged            int              `json:"unchanged"`
	ChunksAdded          int              `json:"chunks_added"`
	ChunksRemoved        int64            `json:"chunks_removed"`
	ChunksRemovedUnknown bool             `json:"chunks_removed_unknown,omitempty"`
	DeleteFailures       int              `json:"delete_failures"`
	FileFailures         int              `json:"file_failures"`
	Failures             []syncer.Failure `json:"failures,omitempty"`
	DurationMS           int64            `json:"duration_ms"`
	Error                string           `json:"error,omitempty"`
}

func newSyncResponse(r *syncer.Result) SyncResponse {
	return SyncResponse{
		RunID:                r.RunID,
		Partition:            r.Partition,
		Status:               r.Status,
		Created:              r.Created,
		Modified:             r.Modified,
		Deleted:              r.Deleted,
		Renamed:              r.Renamed,
		Unchanged:            r.Unchanged,
		ChunksAdded:          r.ChunksAdded,
		ChunksRemoved:        r.ChunksRemoved,
		ChunksRemovedUnknown: r.ChunksRemovedUnknown,
		DeleteFailures:       r.DeleteFailures,
		FileFailures:         r.FileFailures,
		Failures:             r.Failures,
		DurationMS:           r.Duration.Milliseconds(),
	}
}

// SearchRequest is the request body for POST /api/v1/search.
type SearchRequest struct {
	Project       string    `json:"project"`
	Dataset       string    `json:"dataset"`
	Query         string    `json:"query"`
	Vector        []float32 `json:"vector,omitempty"`
	Limit         int       `json:"limit,omitempty"`
	IncludeGlobal bool      `json:"include_global,omitempty"`
}

// SearchHit is one search result.
type SearchHit struct {
	Partition string              `json:"partition"`
	ID        string              `json:"id"`
	Score     float32             `json:"score"`
	Payload   vectorstore.Payload `json:"payload"`
}

// SearchResponse is the response body for POST /api/v1/search.
type SearchResponse struct {
	Hits       []SearchHit `json:"hits"`
	Partitions []string    `json:"partitions"`
	Fallback   bool        `json:"fallback,omitempty"`
	Failed     []string    `json:"failed,omitempty"`
}

func newSearchResponse(r *router.SearchResult) SearchResponse {
	out := SearchResponse{
		Hits:       make([]SearchHit, 0, len(r.Hits)),
		Partitions: r.Partitions,
		Fallback:   r.Fallback,
		Failed:     r.Failed,
	}
	for _, h := range r.Hits {
		out.Hits = append(out.Hits, SearchHit{Partition: h.Partition, ID: h.ID, Score: h.Score, Payload: h.Payload})
	}
	return out
}

// PartitionInfo describes one partition record.
type PartitionInfo struct {
	Name             string     `json:"name"`
	Project          string     `json:"project"`
	Dataset          string     `json:"dataset"`
	ProjectID        string     `json:"project_id,omitempty"`
	DatasetID        string     `json:"dataset_id,omitempty"`
	Backend          string     `json:"backend"`
	Dimension        int        `json:"dimension"`
	Hybrid           bool       `json:"hybrid,omitempty"`
	PointCount       int64      `json:"point_count"`
	Legacy           bool       `json:"legacy,omitempty"`
	LastIndexedAt    *time.Time `json:"last_indexed_at,omitempty"`
	LastReconciledAt *time.Time `json:"last_reconciled_at,omitempty"`
}

func newPartitionInfo(p *metadata.Partition) PartitionInfo {
	return PartitionInfo{
		Name:             p.Name,
		Project:          p.DisplayProject,
		Dataset:          p.DisplayDataset,
		ProjectID:        p.ProjectID,
		DatasetID:        p.DatasetID,
		Backend:          p.Backend,
		Dimension:        p.Dimension,
		Hybrid:           p.Hybrid,
		PointCount:       p.PointCount,
		Legacy:           p.Legacy,
		LastIndexedAt:    p.LastIndexedAt,
		LastReconciledAt: p.LastReconciledAt,
	}
}

// PartitionsResponse is the response body for GET /api/v1/partitions.
type PartitionsResponse struct {
	Partitions []PartitionInfo `json:"partitions"`
	Counts     PartitionCounts `json:"counts"`
}

// ReconcileResponse is the response body for POST /api/v1/reconcile.
type ReconcileResponse struct {
	Checked   int               `json:"checked"`
	Drift     []lifecycle.Drift `json:"drift,omitempty"`
	Recreated []string          `json:"recreated,omitempty"`
	Orphans   []string          `json:"orphans,omitempty"`
	Error     string            `json:"error,omitempty"`
}

// ShareRequest is the request body for POST /api/v1/shares.
type ShareRequest struct {
	Project  string     `json:"project"`
	Dataset  string     `json:"dataset"`
	Grantee  string     `json:"grantee"`
	CanWrite bool       `json:"can_write,omitempty"`
	Expires  *time.Time `json:"expires_at,omitempty"`
	// Revoke removes the grant instead of creating it.
	Revoke bool `json:"revoke,omitempty"`
}

// ShareResponse is the response body for POST /api/v1/shares.
type ShareResponse struct {
	ID               string     `json:"id,omitempty"`
	DatasetID        string     `json:"dataset_id"`
	GranteeProjectID string     `json:"grantee_project_id"`
	CanWrite         bool       `json:"can_write"`
	ExpiresAt        *time.Time `json:"expires_at,omitempty"`
	Revoked          bool       `json:"revoked,omitempty"`
}

// DatasetUpdate is the request body for PATCH /api/v1/datasets/:project/:dataset.
// Empty display names are left unchanged.
type DatasetUpdate struct {
	DisplayProject string `json:"display_project,omitempty"`
	DisplayDataset string `json:"display_dataset,omitempty"`
	Global         *bool  `json:"global,omitempty"`
}

// ProjectUpdate is the request body for PATCH /api/v1/projects/:project.
type ProjectUpdate struct {
	Global *bool `json:"global"`
}

// ProjectInfo describes a project.
type ProjectInfo struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Global bool   `json:"global"`
	System bool   `json:"system,omitempty"`
}
