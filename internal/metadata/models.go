package metadata

import (
	"encoding/json"
	"time"
)

// DatasetStatus is the lifecycle status of a dataset.
type DatasetStatus string

const (
	StatusActive   DatasetStatus = "active"
	StatusInactive DatasetStatus = "inactive"
)

// SourceKind is where a dataset's content comes from.
type SourceKind string

const (
	SourceLocal      SourceKind = "local"
	SourceRepository SourceKind = "repository"
	SourceCrawl      SourceKind = "crawl"
	SourceObject     SourceKind = "object"
)

// SystemProject hosts globally shared datasets. It cannot be deleted.
const SystemProject = "_global"

// Project is a tenancy boundary.
type Project struct {
	ID          string
	Name        string
	DisplayName string
	Global      bool
	System      bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// SourceMeta carries source-specific dataset metadata. Only the fields that
// apply to the dataset's SourceKind are set.
type SourceMeta struct {
	Path       string `json:"path,omitempty"`
	Repository string `json:"repository,omitempty"`
	Branch     string `json:"branch,omitempty"`
	Commit     string `json:"commit,omitempty"`
	CrawlRoot  string `json:"crawl_root,omitempty"`
	CrawlDepth int    `json:"crawl_depth,omitempty"`
	Bucket     string `json:"bucket,omitempty"`
	Prefix     string `json:"prefix,omitempty"`
}

func (m SourceMeta) encode() string {
	b, err := json.Marshal(m)
	if err != nil {
		return "{}"
	}
	return string(b)
}

func decodeSourceMeta(s string) SourceMeta {
	var m SourceMeta
	if s != "" {
		_ = json.Unmarshal([]byte(s), &m)
	}
	return m
}

// Dataset is one content source within a project.
type Dataset struct {
	ID          string
	ProjectID   string
	Name        string
	DisplayName string
	Status      DatasetStatus
	Global      bool
	SourceKind  SourceKind
	Source      SourceMeta
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Partition maps a dataset to its physical partition in the vector backend.
type Partition struct {
	ID               string
	DatasetID        string // empty for unmigrated legacy partitions
	ProjectID        string
	Name             string
	Backend          string
	Dimension        int
	Hybrid           bool
	PointCount       int64
	DisplayProject   string
	DisplayDataset   string
	Legacy           bool
	LastIndexedAt    *time.Time
	LastReconciledAt *time.Time
	CreatedAt        time.Time
}

// IndexedFile is the change-detection record of one source file.
type IndexedFile struct {
	ProjectID     string
	DatasetID     string
	Path          string
	ContentHash   string
	SizeBytes     int64
	ChunkCount    int
	PartitionName string
	IndexedAt     time.Time
}

// ShareGrant gives a grantee project read (and optionally write) access to a
// dataset owned by another project.
type ShareGrant struct {
	ID               string
	DatasetID        string
	OwnerProjectID   string
	GranteeProjectID string
	CanWrite         bool
	ExpiresAt        *time.Time
	CreatedAt        time.Time
}

// Expired reports whether the grant is no longer in effect at now.
func (g ShareGrant) Expired(now time.Time) bool {
	return g.ExpiresAt != nil && !g.ExpiresAt.After(now)
}

// PartitionRef is one row of a visibility resolution.
type PartitionRef struct {
	Name      string
	ProjectID string
	DatasetID string
}
