package syncer

import (
	"bytes"
	"context"
	"io"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/islandd/internal/metadata"
)

type memObject struct {
	body []byte
	etag string
}

// memObjects is an in-memory ObjectStore counting downloads.
type memObjects struct {
	mu      sync.Mutex
	objects map[string]memObject // bucket/key
	opens   int
}

func newMemObjects() *memObjects {
	return &memObjects{objects: make(map[string]memObject)}
}

func (m *memObjects) put(bucket, key, body, etag string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[bucket+"/"+key] = memObject{body: []byte(body), etag: etag}
}

func (m *memObjects) remove(bucket, key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, bucket+"/"+key)
}

func (m *memObjects) List(_ context.Context, bucket, prefix string) ([]ObjectInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []ObjectInfo
	for full, obj := range m.objects {
		key, ok := strings.CutPrefix(full, bucket+"/")
		if !ok || !strings.HasPrefix(key, prefix) {
			continue
		}
		out = append(out, ObjectInfo{Key: key, Size: int64(len(obj.body)), ETag: obj.etag})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (m *memObjects) Open(_ context.Context, bucket, key string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.opens++
	obj, ok := m.objects[bucket+"/"+key]
	if !ok {
		return nil, metadata.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(obj.body)), nil
}

func (m *memObjects) openCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.opens
}

func TestParseObjectRoot(t *testing.T) {
	bucket, prefix, err := ParseObjectRoot("s3://docs/team/handbook")
	require.NoError(t, err)
	assert.Equal(t, "docs", bucket)
	assert.Equal(t, "team/handbook", prefix)

	bucket, prefix, err = ParseObjectRoot("docs")
	require.NoError(t, err)
	assert.Equal(t, "docs", bucket)
	assert.Empty(t, prefix)

	_, _, err = ParseObjectRoot("/prefix")
	assert.Error(t, err)
}

func TestObjectSource_ScanAndRead(t *testing.T) {
	store := newMemObjects()
	store.put("docs", "team/a.md", "# A\n", "e1")
	store.put("docs", "team/sub/b.md", "# B\n", "e2")
	store.put("docs", "team/logo.png", "\xff\xfe\x00", "e3")
	store.put("docs", "other/c.md", "# C\n", "e4")

	src := NewObjectSource(store, "docs", "team/", 0)
	assert.Equal(t, metadata.SourceObject, src.Kind())
	assert.Equal(t, metadata.SourceMeta{Bucket: "docs", Prefix: "team/"}, src.Meta(context.Background()))

	ctx := context.Background()
	files, err := src.Scan(ctx)
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, HashContent([]byte("# A\n")), files["a.md"].Hash)
	assert.Contains(t, files, "sub/b.md")

	body, err := src.Read(ctx, "sub/b.md")
	require.NoError(t, err)
	assert.Equal(t, "# B\n", string(body))

	// Unchanged ETags are not downloaded again.
	opens := store.openCount()
	_, err = src.Scan(ctx)
	require.NoError(t, err)
	assert.Equal(t, opens, store.openCount())

	// Re-upload with the same content: new ETag, same hash.
	store.put("docs", "team/a.md", "# A\n", "e1-reupload")
	files, err = src.Scan(ctx)
	require.NoError(t, err)
	assert.Equal(t, HashContent([]byte("# A\n")), files["a.md"].Hash)
}
