package syncer

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/fyrsmithlabs/islandd/internal/config"
	"github.com/fyrsmithlabs/islandd/internal/metadata"
)

// ObjectInfo describes one stored object.
type ObjectInfo struct {
	Key  string
	Size int64
	ETag string
}

// ObjectStore is the subset of an S3-compatible client the object source
// needs.
type ObjectStore interface {
	List(ctx context.Context, bucket, prefix string) ([]ObjectInfo, error)
	Open(ctx context.Context, bucket, key string) (io.ReadCloser, error)
}

// MinioStore adapts a minio client to ObjectStore.
type MinioStore struct {
	client *minio.Client
}

// NewMinioStore creates a client for an S3-compatible endpoint. No request
// is made until the first List or Open.
func NewMinioStore(cfg config.ObjectStoreConfig) (*MinioStore, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("object store endpoint is required")
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey.Value(), ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("creating object store client: %w", err)
	}
	return &MinioStore{client: client}, nil
}

func (m *MinioStore) List(ctx context.Context, bucket, prefix string) ([]ObjectInfo, error) {
	var out []ObjectInfo
	for obj := range m.client.ListObjects(ctx, bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("listing %s/%s: %w", bucket, prefix, obj.Err)
		}
		if strings.HasSuffix(obj.Key, "/") {
			continue
		}
		out = append(out, ObjectInfo{Key: obj.Key, Size: obj.Size, ETag: obj.ETag})
	}
	return out, nil
}

func (m *MinioStore) Open(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	obj, err := m.client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("getting %s/%s: %w", bucket, key, err)
	}
	return obj, nil
}

// ObjectSource scans the objects under a bucket prefix. Hashes are sha256
// of the object body, so a re-upload with identical content is not a
// change even when the ETag differs. Bodies are only downloaded again when
// the ETag or size changed since the previous scan by the same source.
type ObjectSource struct {
	store    ObjectStore
	bucket   string
	prefix   string
	maxBytes int64

	mu    sync.Mutex
	cache map[string]cachedObject
}

type cachedObject struct {
	etag string
	size int64
	hash string
	ok   bool // false for skipped binary objects
}

var _ Source = (*ObjectSource)(nil)

// ParseObjectRoot splits "bucket/prefix" (an optional s3:// scheme is
// accepted) into bucket and prefix.
func ParseObjectRoot(root string) (bucket, prefix string, err error) {
	root = strings.TrimPrefix(root, "s3://")
	bucket, prefix, _ = strings.Cut(root, "/")
	if bucket == "" {
		return "", "", fmt.Errorf("object root %q has no bucket", root)
	}
	return bucket, prefix, nil
}

// NewObjectSource creates a source for bucket/prefix.
func NewObjectSource(store ObjectStore, bucket, prefix string, maxBytes int64) *ObjectSource {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxFileBytes
	}
	return &ObjectSource{store: store, bucket: bucket, prefix: prefix, maxBytes: maxBytes, cache: make(map[string]cachedObject)}
}

func (s *ObjectSource) Kind() metadata.SourceKind { return metadata.SourceObject }

func (s *ObjectSource) Meta(context.Context) metadata.SourceMeta {
	return metadata.SourceMeta{Bucket: s.bucket, Prefix: s.prefix}
}

// relPath strips the prefix so paths stay stable if the dataset is
// re-rooted under another prefix.
func (s *ObjectSource) relPath(key string) string {
	return strings.TrimPrefix(strings.TrimPrefix(key, s.prefix), "/")
}

func (s *ObjectSource) key(rel string) string {
	if s.prefix == "" {
		return rel
	}
	return strings.TrimSuffix(s.prefix, "/") + "/" + rel
}

func (s *ObjectSource) Scan(ctx context.Context) (map[string]FileState, error) {
	objects, err := s.store.List(ctx, s.bucket, s.prefix)
	if err != nil {
		return nil, err
	}

	files := make(map[string]FileState, len(objects))
	for _, obj := range objects {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if obj.Size > s.maxBytes {
			continue
		}
		rel := s.relPath(obj.Key)
		if rel == "" {
			continue
		}

		s.mu.Lock()
		c, hit := s.cache[obj.Key]
		s.mu.Unlock()
		if !hit || c.etag != obj.ETag || c.size != obj.Size || obj.ETag == "" {
			content, err := s.read(ctx, obj.Key)
			if err != nil {
				return nil, err
			}
			c = cachedObject{etag: obj.ETag, size: obj.Size, ok: utf8.Valid(content)}
			if c.ok {
				c.hash = HashContent(content)
			}
			s.mu.Lock()
			s.cache[obj.Key] = c
			s.mu.Unlock()
		}
		if c.ok {
			files[rel] = FileState{Path: rel, Hash: c.hash, Size: obj.Size}
		}
	}
	return files, nil
}

func (s *ObjectSource) Read(ctx context.Context, rel string) ([]byte, error) {
	return s.read(ctx, s.key(rel))
}

func (s *ObjectSource) read(ctx context.Context, key string) ([]byte, error) {
	rc, err := s.store.Open(ctx, s.bucket, key)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	content, err := io.ReadAll(io.LimitReader(rc, s.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("reading %s/%s: %w", s.bucket, key, err)
	}
	return content, nil
}
