package router

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/islandd/internal/embeddings"
	"github.com/fyrsmithlabs/islandd/internal/scope"
	"github.com/fyrsmithlabs/islandd/internal/vectorstore"
)

var (
	east  = []float32{1, 0, 0, 0}
	north = []float32{0, 1, 0, 0}
	ne    = []float32{0.8, 0.6, 0, 0}
)

func TestSearch_MergesByScore(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a := f.dataset(t, "acme", "backend", false, "a.go", north, ne)
	b := f.dataset(t, "acme", "frontend", false, "b.go", east)

	res, err := f.router(t, nil).Search(ctx, Query{Project: "acme", Vector: east, Limit: 2})
	require.NoError(t, err)
	require.Len(t, res.Hits, 2)
	assert.Equal(t, b.Name, res.Hits[0].Partition)
	assert.Equal(t, "b.go", res.Hits[0].Payload.Path)
	assert.Equal(t, a.Name, res.Hits[1].Partition)
	assert.InDelta(t, 0.8, res.Hits[1].Score, 1e-4)
	assert.ElementsMatch(t, []string{a.Name, b.Name}, res.Partitions)
	assert.False(t, res.Fallback)
}

func TestSearch_DatasetScopeNeverReadsSibling(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	backend := f.dataset(t, "acme", "backend", false, "main.go", north)
	f.dataset(t, "acme", "frontend", false, "main.go", east)

	res, err := f.router(t, nil).Search(ctx, Query{Project: "acme", Dataset: "backend", Vector: east, Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, []string{backend.Name}, res.Partitions)
	require.Len(t, res.Hits, 1)
	assert.Equal(t, backend.DatasetID, res.Hits[0].Payload.DatasetID)
}

func TestSearch_TextQuery(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.dataset(t, "acme", "backend", false, "main.go", embeddings.FakeVector("parse config", testDim), north)

	res, err := f.router(t, nil).Search(ctx, Query{Project: "acme", Dataset: "backend", Text: "parse config"})
	require.NoError(t, err)
	require.NotEmpty(t, res.Hits)
	assert.InDelta(t, 1.0, res.Hits[0].Score, 1e-4)

	_, err = f.router(t, nil).Search(ctx, Query{Project: "acme"})
	assert.ErrorIs(t, err, embeddings.ErrEmptyInput)
}

// unfiltered ignores payload filters, as a misbehaving backend would.
type unfiltered struct {
	vectorstore.Backend
}

func (u unfiltered) Search(ctx context.Context, name string, req vectorstore.SearchRequest) ([]vectorstore.ScoredPoint, error) {
	req.Filter = nil
	return u.Backend.Search(ctx, name, req)
}

func TestSearch_ScopeContainment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p := f.dataset(t, "acme", "backend", false, "ok.go", north)
	intruder := scope.ProjectID("other").String()
	f.insert(t, p.Name, intruder, scope.DatasetID("other", "x").String(), "leak.go", east)

	res, err := f.router(t, unfiltered{f.backend}).Search(ctx, Query{Project: "acme", Vector: east, Limit: 10})
	require.NoError(t, err)
	require.Len(t, res.Hits, 1)
	assert.Equal(t, "ok.go", res.Hits[0].Payload.Path)
	for _, h := range res.Hits {
		assert.NotEqual(t, intruder, h.Payload.ProjectID)
	}
}

func TestSearch_GlobalProjectIsVisible(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.dataset(t, "acme", "backend", false, "main.go", north)
	guides := f.dataset(t, "docs", "guides", false, "guide.md", east)
	f.dataset(t, "other", "secret", false, "secret.go", east)
	r := f.router(t, nil)

	res, err := r.Search(ctx, Query{Project: "acme", Vector: east, Limit: 10, IncludeGlobal: true})
	require.NoError(t, err)
	assert.NotContains(t, res.Partitions, guides.Name)

	p, err := f.manager.SetProjectGlobal(ctx, "docs", true)
	require.NoError(t, err)
	assert.True(t, p.Global)

	res, err = r.Search(ctx, Query{Project: "acme", Vector: east, Limit: 10, IncludeGlobal: true})
	require.NoError(t, err)
	assert.Contains(t, res.Partitions, guides.Name)
	var paths []string
	for _, h := range res.Hits {
		paths = append(paths, h.Payload.Path)
	}
	assert.Contains(t, paths, "guide.md")
	assert.NotContains(t, paths, "secret.go")

	res, err = r.Search(ctx, Query{Project: "acme", Vector: east, Limit: 10})
	require.NoError(t, err)
	assert.NotContains(t, res.Partitions, guides.Name, "global data is opt-in per query")
}

func TestSearch_LegacyPointsBelongToPartitionOwner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	legacy := scope.LegacyPathName("/srv/acme/backend")
	require.NoError(t, f.backend.CreatePartition(ctx, legacy, testDim, false))
	f.insert(t, legacy, "", "", "old.go", east)
	_, err := f.manager.MigrateLegacy(ctx, legacy, "acme", "backend")
	require.NoError(t, err)

	res, err := f.router(t, nil).Search(ctx, Query{Project: "acme", Dataset: "backend", Vector: east, Limit: 5})
	require.NoError(t, err)
	require.Len(t, res.Hits, 1)
	assert.Equal(t, legacy, res.Hits[0].Partition)
	assert.Equal(t, "old.go", res.Hits[0].Payload.Path)
}

// flaky fails Search for one partition and counts concurrent calls.
type flaky struct {
	vectorstore.Backend
	fail     string
	inFlight atomic.Int32
	peak     atomic.Int32
}

func (f *flaky) Search(ctx context.Context, name string, req vectorstore.SearchRequest) ([]vectorstore.ScoredPoint, error) {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		p := f.peak.Load()
		if n <= p || f.peak.CompareAndSwap(p, n) {
			break
		}
	}
	time.Sleep(5 * time.Millisecond)
	if name == f.fail || f.fail == "*" {
		return nil, errors.New("shard unavailable")
	}
	return f.Backend.Search(ctx, name, req)
}

func TestSearch_PartialFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	bad := f.dataset(t, "acme", "a", false, "a.go", east)
	f.dataset(t, "acme", "b", false, "b.go", east)

	b := &flaky{Backend: f.backend, fail: bad.Name}
	res, err := f.router(t, b).Search(ctx, Query{Project: "acme", Vector: east})
	require.NoError(t, err)
	assert.Equal(t, []string{bad.Name}, res.Failed)
	require.Len(t, res.Hits, 1)
	assert.Equal(t, "b.go", res.Hits[0].Payload.Path)

	b.fail = "*"
	_, err = f.router(t, b).Search(ctx, Query{Project: "acme", Vector: east})
	assert.ErrorContains(t, err, "shard unavailable")
}

func TestSearch_FanoutIsBounded(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for _, ds := range []string{"a", "b", "c", "d", "e", "f"} {
		f.dataset(t, "acme", ds, false, ds+".go", east)
	}

	b := &flaky{Backend: f.backend}
	res, err := f.router(t, b, WithMaxFanout(2)).Search(ctx, Query{Project: "acme", Vector: east, Limit: 100})
	require.NoError(t, err)
	assert.Len(t, res.Hits, 6)
	assert.LessOrEqual(t, b.peak.Load(), int32(2))
}

func TestSearch_MissingGlobalPartitionIsEmpty(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.dataset(t, "acme", "backend", false, "a.go", east)

	res, err := f.router(t, nil).Search(ctx, Query{Project: "acme", Vector: east, IncludeGlobal: true})
	require.NoError(t, err)
	assert.Contains(t, res.Partitions, scope.GlobalPartition)
	assert.Empty(t, res.Failed)
	assert.Len(t, res.Hits, 1)
}
