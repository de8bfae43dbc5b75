package vectorstore

import (
	"strconv"
)

// Payload field names stored with every point.
const (
	FieldProjectID   = "project_id"
	FieldDatasetID   = "dataset_id"
	FieldPath        = "path"
	FieldStartLine   = "start_line"
	FieldEndLine     = "end_line"
	FieldLanguage    = "language"
	FieldSourceKind  = "source_kind"
	FieldContentHash = "content_hash"
	FieldChunkIndex  = "chunk_index"
	FieldContent     = "content"
)

// Payload is the metadata attached to a chunk vector.
type Payload struct {
	ProjectID   string `json:"project_id"`
	DatasetID   string `json:"dataset_id"`
	Path        string `json:"path"`
	StartLine   int    `json:"start_line"`
	EndLine     int    `json:"end_line"`
	Language    string `json:"language,omitempty"`
	SourceKind  string `json:"source_kind,omitempty"`
	ContentHash string `json:"content_hash"`
	ChunkIndex  int    `json:"chunk_index"`
	Content     string `json:"content"`
}

// Map returns the payload as typed fields.
func (p Payload) Map() map[string]any {
	return map[string]any{
		FieldProjectID:   p.ProjectID,
		FieldDatasetID:   p.DatasetID,
		FieldPath:        p.Path,
		FieldStartLine:   p.StartLine,
		FieldEndLine:     p.EndLine,
		FieldLanguage:    p.Language,
		FieldSourceKind:  p.SourceKind,
		FieldContentHash: p.ContentHash,
		FieldChunkIndex:  p.ChunkIndex,
		FieldContent:     p.Content,
	}
}

// stringMap flattens the payload for stores with string-only metadata.
// Content is excluded; chromem keeps it as the document body.
func (p Payload) stringMap() map[string]string {
	return map[string]string{
		FieldProjectID:   p.ProjectID,
		FieldDatasetID:   p.DatasetID,
		FieldPath:        p.Path,
		FieldStartLine:   strconv.Itoa(p.StartLine),
		FieldEndLine:     strconv.Itoa(p.EndLine),
		FieldLanguage:    p.Language,
		FieldSourceKind:  p.SourceKind,
		FieldContentHash: p.ContentHash,
		FieldChunkIndex:  strconv.Itoa(p.ChunkIndex),
	}
}

func payloadFromStrings(m map[string]string, content string) Payload {
	atoi := func(k string) int {
		n, _ := strconv.Atoi(m[k])
		return n
	}
	return Payload{
		ProjectID:   m[FieldProjectID],
		DatasetID:   m[FieldDatasetID],
		Path:        m[FieldPath],
		StartLine:   atoi(FieldStartLine),
		EndLine:     atoi(FieldEndLine),
		Language:    m[FieldLanguage],
		SourceKind:  m[FieldSourceKind],
		ContentHash: m[FieldContentHash],
		ChunkIndex:  atoi(FieldChunkIndex),
		Content:     content,
	}
}

// set applies a string field update. Unknown fields are ignored.
func (p *Payload) set(field, value string) {
	switch field {
	case FieldProjectID:
		p.ProjectID = value
	case FieldDatasetID:
		p.DatasetID = value
	case FieldPath:
		p.Path = value
	case FieldLanguage:
		p.Language = value
	case FieldSourceKind:
		p.SourceKind = value
	case FieldContentHash:
		p.ContentHash = value
	}
}

// settable reports whether SetPayload may overwrite field.
func settable(field string) bool {
	switch field {
	case FieldProjectID, FieldDatasetID, FieldPath, FieldLanguage, FieldSourceKind, FieldContentHash:
		return true
	}
	return false
}
