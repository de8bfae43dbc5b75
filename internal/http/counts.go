package http

import (
	"github.com/fyrsmithlabs/islandd/internal/metadata"
	"github.com/fyrsmithlabs/islandd/internal/scope"
)

// PartitionCounts totals a partition listing.
type PartitionCounts struct {
	Partitions int   `json:"partitions"`
	Points     int64 `json:"points"`
	Legacy     int   `json:"legacy"`
	Projects   int   `json:"projects"`
}

// CountPartitions totals recorded point counts. The counts are the ones last
// recorded by sync or reconcile, not live backend counts.
//
// Legacy partitions that were never migrated have no project and are not
// counted towards Projects.
func CountPartitions(parts []*metadata.Partition) PartitionCounts {
	var c PartitionCounts
	projects := make(map[string]bool)
	for _, p := range parts {
		c.Partitions++
		c.Points += p.PointCount
		if p.Legacy || scope.IsLegacy(p.Name) {
			c.Legacy++
		}
		if p.ProjectID != "" {
			projects[p.ProjectID] = true
		}
	}
	c.Projects = len(projects)
	return c
}

// filterByProject keeps partitions owned by projectID. An empty id keeps
// everything.
func filterByProject(parts []*metadata.Partition, projectID string) []*metadata.Partition {
	if projectID == "" {
		return parts
	}
	out := parts[:0:0]
	for _, p := range parts {
		if p.ProjectID == projectID {
			out = append(out, p)
		}
	}
	return out
}
