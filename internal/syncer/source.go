package syncer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"

	"github.com/fyrsmithlabs/islandd/internal/metadata"
)

// ErrUnsupportedSource is returned for source kinds the engine cannot scan.
var ErrUnsupportedSource = errors.New("unsupported source kind")

// FileState is the scanned state of one source file.
type FileState struct {
	Path string // slash-separated, relative to the source root
	Hash string // hex sha256 of the content
	Size int64
}

// Source enumerates and reads the files of a dataset.
type Source interface {
	// Kind is recorded on the dataset.
	Kind() metadata.SourceKind

	// Scan returns the current state of every indexable file keyed by path.
	Scan(ctx context.Context) (map[string]FileState, error)

	// Read returns the content of one scanned file.
	Read(ctx context.Context, path string) ([]byte, error)

	// Meta describes the source for the dataset record.
	Meta(ctx context.Context) metadata.SourceMeta
}

// HashContent returns the content hash used for change detection.
func HashContent(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}
