package scope

import (
	"strconv"

	"github.com/google/uuid"
)

// Namespace is the UUIDv5 namespace for every stable identifier in a
// deployment. Changing it re-keys all projects and datasets.
var Namespace = uuid.MustParse("6f1b6d3e-7c2a-5b8e-9a41-3d2c0e5f7a19")

// StableID derives a name-based (v5) identifier. The same kind and name
// always yield the same identifier.
func StableID(kind, name string) uuid.UUID {
	return uuid.NewSHA1(Namespace, []byte(kind+":"+name))
}

// ProjectID is the stable identifier of a project name.
func ProjectID(project string) uuid.UUID {
	return StableID("project", project)
}

// DatasetID is the stable identifier of a dataset within a project. Two
// projects may own datasets with the same name.
func DatasetID(project, dataset string) uuid.UUID {
	return StableID("dataset", ProjectID(project).String()+"/"+dataset)
}

// PointID is the identifier of one chunk of a file written by one indexing
// generation (a sync run). Re-inserting the same chunk in the same
// generation overwrites rather than duplicates it. Renamed chunks keep
// their identifier, so a later file at the old path gets a new generation
// and cannot collide with them.
func PointID(datasetID, path, generation string, chunkIndex int) uuid.UUID {
	return StableID("point", datasetID+"/"+path+"#"+strconv.Itoa(chunkIndex)+"@"+generation)
}
