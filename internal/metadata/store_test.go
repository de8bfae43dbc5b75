package metadata

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/islandd/internal/logging"
	"github.com/fyrsmithlabs/islandd/internal/scope"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(context.Background(), Config{
		Driver: DriverSQLite,
		DSN:    filepath.Join(t.TempDir(), "metadata.db"),
	}, logging.NewTestLogger().Logger)
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, store.Close()) })
	return store
}

func seedPartition(t *testing.T, s *Store, project, dataset string) *Partition {
	t.Helper()
	ctx := context.Background()
	ds, err := s.EnsureDataset(ctx, DatasetSpec{ProjectName: project, Name: dataset})
	require.NoError(t, err)
	name, err := scope.LocalName(project, dataset)
	require.NoError(t, err)
	p := &Partition{
		ID:        uuid.NewString(),
		DatasetID: ds.ID,
		ProjectID: ds.ProjectID,
		Name:      name,
		Backend:   "chromem",
		Dimension: 8,
	}
	require.NoError(t, s.InsertPartition(ctx, p))
	return p
}

func TestOpen_MigratesOnce(t *testing.T) {
	dir := t.TempDir()
	cfg := Config{Driver: DriverSQLite, DSN: filepath.Join(dir, "m.db")}
	logger := logging.NewTestLogger().Logger

	s1, err := Open(context.Background(), cfg, logger)
	require.NoError(t, err)
	require.NoError(t, s1.Close())

	s2, err := Open(context.Background(), cfg, logger)
	require.NoError(t, err)
	defer s2.Close()

	var versions int
	require.NoError(t, s2.db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&versions))
	assert.Equal(t, 1, versions)
}

func TestOpen_UnsupportedDriver(t *testing.T) {
	_, err := Open(context.Background(), Config{Driver: "oracle", DSN: "x"}, logging.NewTestLogger().Logger)
	assert.ErrorIs(t, err, ErrUnsupportedDriver)
}

func TestEnsureDataset(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	ds, err := s.EnsureDataset(ctx, DatasetSpec{
		ProjectName: "acme",
		Name:        "backend",
		SourceKind:  SourceRepository,
		Source:      SourceMeta{Repository: "git@example.com:acme/backend.git", Branch: "main"},
	})
	require.NoError(t, err)
	assert.Equal(t, scope.DatasetID("acme", "backend").String(), ds.ID)
	assert.Equal(t, scope.ProjectID("acme").String(), ds.ProjectID)
	assert.Equal(t, StatusActive, ds.Status)
	assert.Equal(t, SourceRepository, ds.SourceKind)
	assert.Equal(t, "main", ds.Source.Branch)

	require.NoError(t, s.SetDatasetStatus(ctx, ds.ID, StatusInactive))

	again, err := s.EnsureDataset(ctx, DatasetSpec{
		ProjectName: "acme",
		Name:        "backend",
		SourceKind:  SourceRepository,
		Source:      SourceMeta{Branch: "develop"},
	})
	require.NoError(t, err)
	assert.Equal(t, ds.ID, again.ID)
	assert.Equal(t, StatusInactive, again.Status, "status survives re-ensure")
	assert.Equal(t, "develop", again.Source.Branch)

	list, err := s.ListDatasets(ctx, ds.ProjectID)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestSystemProjectDatasetsAreGlobal(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	ds, err := s.EnsureDataset(ctx, DatasetSpec{ProjectName: SystemProject, Name: "handbook"})
	require.NoError(t, err)
	assert.True(t, ds.Global)

	p, err := s.GetProjectByName(ctx, SystemProject)
	require.NoError(t, err)
	assert.True(t, p.System)
	assert.ErrorIs(t, s.DeleteProject(ctx, p.ID), ErrSystemProject)
}

func TestDeleteProject(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	ds, err := s.EnsureDataset(ctx, DatasetSpec{ProjectName: "acme", Name: "backend"})
	require.NoError(t, err)

	err = s.DeleteProject(ctx, ds.ProjectID)
	assert.ErrorIs(t, err, ErrProjectInUse)

	require.NoError(t, s.DeleteDataset(ctx, ds.ID))
	require.NoError(t, s.DeleteProject(ctx, ds.ProjectID))

	_, err = s.GetProject(ctx, ds.ProjectID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPartition_UniquePerDataset(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	p := seedPartition(t, s, "acme", "backend")

	dup := *p
	dup.ID = uuid.NewString()
	err := s.InsertPartition(ctx, &dup)
	assert.ErrorIs(t, err, ErrDuplicate)

	got, err := s.GetPartitionByDataset(ctx, p.DatasetID)
	require.NoError(t, err)
	assert.Equal(t, p.ID, got.ID)
	assert.Nil(t, got.LastIndexedAt)

	byName, err := s.GetPartitionByName(ctx, p.Name)
	require.NoError(t, err)
	assert.Equal(t, p.ID, byName.ID)
}

func TestPartition_StatsAndDisplay(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	p := seedPartition(t, s, "acme", "backend")

	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	require.NoError(t, s.UpdatePartitionStats(ctx, p.DatasetID, 50, at))
	require.NoError(t, s.SetPartitionDisplay(ctx, p.DatasetID, "Acme Inc", "Backend API"))

	got, err := s.GetPartitionByDataset(ctx, p.DatasetID)
	require.NoError(t, err)
	assert.Equal(t, int64(50), got.PointCount)
	require.NotNil(t, got.LastIndexedAt)
	assert.True(t, at.Equal(*got.LastIndexedAt))
	assert.Equal(t, "Acme Inc", got.DisplayProject)
	assert.Equal(t, "Backend API", got.DisplayDataset)
	assert.Equal(t, p.Name, got.Name)

	err = s.UpdatePartitionStats(ctx, "missing", 1, at)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestIndexedFiles(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	p := seedPartition(t, s, "acme", "backend")

	f := IndexedFile{
		ProjectID:     p.ProjectID,
		DatasetID:     p.DatasetID,
		Path:          "cmd/main.go",
		ContentHash:   "aaa",
		SizeBytes:     10,
		ChunkCount:    2,
		PartitionName: p.Name,
	}
	require.NoError(t, s.UpsertIndexedFile(ctx, f))

	f.ContentHash = "bbb"
	f.ChunkCount = 3
	require.NoError(t, s.UpsertIndexedFile(ctx, f))

	files, err := s.ListIndexedFiles(ctx, p.ProjectID, p.DatasetID)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "bbb", files[0].ContentHash)
	assert.Equal(t, 3, files[0].ChunkCount)

	require.NoError(t, s.MoveIndexedFile(ctx, p.ProjectID, p.DatasetID, "cmd/main.go", "cmd/app/main.go", time.Now()))
	files, err = s.ListIndexedFiles(ctx, p.ProjectID, p.DatasetID)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "cmd/app/main.go", files[0].Path)
	assert.Equal(t, "bbb", files[0].ContentHash)

	total, err := s.SumChunks(ctx, p.DatasetID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)

	require.NoError(t, s.DeleteIndexedFile(ctx, p.ProjectID, p.DatasetID, "cmd/app/main.go"))
	require.NoError(t, s.DeleteIndexedFile(ctx, p.ProjectID, p.DatasetID, "cmd/app/main.go"))
	files, err = s.ListIndexedFiles(ctx, p.ProjectID, p.DatasetID)
	require.NoError(t, err)
	assert.Empty(t, files)

	f.Path = "a.go"
	require.NoError(t, s.UpsertIndexedFile(ctx, f))
	f.Path = "b.go"
	require.NoError(t, s.UpsertIndexedFile(ctx, f))
	n, err := s.DeleteIndexedFiles(ctx, p.DatasetID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestWithTx_RollsBack(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	boom := assert.AnError
	err := s.WithTx(ctx, func(tx *Tx) error {
		if _, err := tx.EnsureDataset(ctx, DatasetSpec{ProjectName: "acme", Name: "backend"}); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	_, err = s.GetDatasetByName(ctx, "acme", "backend")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestVisiblePartitions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	acmeBackend := seedPartition(t, s, "acme", "backend")
	acmeFrontend := seedPartition(t, s, "acme", "frontend")
	other := seedPartition(t, s, "globex", "billing")
	shared := seedPartition(t, s, "initech", "reports")
	expired := seedPartition(t, s, "initech", "archive")
	handbook := seedPartition(t, s, SystemProject, "handbook")
	inactive := seedPartition(t, s, "acme", "old")
	require.NoError(t, s.SetDatasetStatus(ctx, inactive.DatasetID, StatusInactive))

	acmeID := scope.ProjectID("acme").String()
	past := time.Now().Add(-time.Hour)
	future := time.Now().Add(time.Hour)
	_, err := s.GrantShare(ctx, ShareGrant{DatasetID: shared.DatasetID, GranteeProjectID: acmeID, ExpiresAt: &future})
	require.NoError(t, err)
	_, err = s.GrantShare(ctx, ShareGrant{DatasetID: expired.DatasetID, GranteeProjectID: acmeID, ExpiresAt: &past})
	require.NoError(t, err)

	names := func(refs []PartitionRef) []string {
		out := make([]string, 0, len(refs))
		for _, r := range refs {
			out = append(out, r.Name)
		}
		return out
	}

	t.Run("single dataset", func(t *testing.T) {
		refs, err := s.VisiblePartitions(ctx, VisibilityQuery{DatasetID: acmeBackend.DatasetID})
		require.NoError(t, err)
		assert.Equal(t, []string{acmeBackend.Name}, names(refs))
	})

	t.Run("inactive dataset resolves to nothing", func(t *testing.T) {
		refs, err := s.VisiblePartitions(ctx, VisibilityQuery{DatasetID: inactive.DatasetID})
		require.NoError(t, err)
		assert.Empty(t, refs)
	})

	t.Run("owned only", func(t *testing.T) {
		refs, err := s.VisiblePartitions(ctx, VisibilityQuery{ProjectID: acmeID})
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{acmeBackend.Name, acmeFrontend.Name}, names(refs))
	})

	t.Run("owned shared and global", func(t *testing.T) {
		refs, err := s.VisiblePartitions(ctx, VisibilityQuery{ProjectID: acmeID, IncludeShared: true})
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{acmeBackend.Name, acmeFrontend.Name, shared.Name, handbook.Name}, names(refs))
		assert.NotContains(t, names(refs), other.Name)
		assert.NotContains(t, names(refs), expired.Name)
	})

	t.Run("everything", func(t *testing.T) {
		refs, err := s.VisiblePartitions(ctx, VisibilityQuery{})
		require.NoError(t, err)
		assert.Len(t, refs, 6)
		assert.NotContains(t, names(refs), inactive.Name)
	})

	t.Run("revoked share disappears", func(t *testing.T) {
		require.NoError(t, s.RevokeShare(ctx, shared.DatasetID, acmeID))
		refs, err := s.VisiblePartitions(ctx, VisibilityQuery{ProjectID: acmeID, IncludeShared: true})
		require.NoError(t, err)
		assert.NotContains(t, names(refs), shared.Name)
	})

	t.Run("global project exposes its datasets", func(t *testing.T) {
		require.NoError(t, s.SetProjectGlobal(ctx, scope.ProjectID("globex").String(), true))
		refs, err := s.VisiblePartitions(ctx, VisibilityQuery{ProjectID: acmeID, IncludeShared: true})
		require.NoError(t, err)
		assert.Contains(t, names(refs), other.Name)

		refs, err = s.VisiblePartitions(ctx, VisibilityQuery{ProjectID: acmeID})
		require.NoError(t, err)
		assert.NotContains(t, names(refs), other.Name, "owned-only resolution ignores global flags")
	})
}

func TestGrantShare_RejectsOwner(t *testing.T) {
	s := newTestStore(t)
	p := seedPartition(t, s, "acme", "backend")

	_, err := s.GrantShare(context.Background(), ShareGrant{DatasetID: p.DatasetID, GranteeProjectID: p.ProjectID})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestLegacyBinding(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	legacyName := scope.LegacyPathName("/srv/acme")
	require.NoError(t, s.InsertPartition(ctx, &Partition{
		ID: uuid.NewString(), Name: legacyName, Backend: "chromem", Dimension: 8, Legacy: true,
	}))
	require.NoError(t, s.InsertPartition(ctx, &Partition{
		ID: uuid.NewString(), Name: scope.LegacyPathName("/srv/other"), Backend: "chromem", Dimension: 8, Legacy: true,
	}), "unbound legacy records do not collide on dataset id")
	require.NoError(t, s.UpsertIndexedFile(ctx, IndexedFile{
		ProjectID: "old", DatasetID: "old", Path: "a.go", ContentHash: "h", PartitionName: legacyName,
	}))

	legacy, err := s.ListLegacyPartitions(ctx)
	require.NoError(t, err)
	assert.Len(t, legacy, 2)

	ds, err := s.EnsureDataset(ctx, DatasetSpec{ProjectName: "acme", Name: "backend"})
	require.NoError(t, err)
	require.NoError(t, s.BindLegacyPartition(ctx, legacyName, ds.ProjectID, ds.ID, "acme", "backend"))

	got, err := s.GetPartitionByDataset(ctx, ds.ID)
	require.NoError(t, err)
	assert.Equal(t, legacyName, got.Name)
	assert.True(t, got.Legacy)

	files, err := s.ListIndexedFiles(ctx, ds.ProjectID, ds.ID)
	require.NoError(t, err)
	assert.Len(t, files, 1)

	err = s.BindLegacyPartition(ctx, legacyName, ds.ProjectID, ds.ID, "acme", "backend")
	assert.ErrorIs(t, err, ErrNotFound, "a bound legacy partition cannot be bound again")
}

func TestLeases(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	ok, err := s.AcquireLease(ctx, "ds1", "a", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.AcquireLease(ctx, "ds1", "b", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = s.AcquireLease(ctx, "ds2", "b", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "other datasets are independent")

	ok, err = s.AcquireLease(ctx, "ds1", "a", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "holder may extend")

	require.NoError(t, s.ReleaseLease(ctx, "ds1", "b"))
	ok, err = s.AcquireLease(ctx, "ds1", "b", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "release by non-holder is a no-op")

	require.NoError(t, s.ReleaseLease(ctx, "ds1", "a"))
	ok, err = s.AcquireLease(ctx, "ds1", "b", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.AcquireLease(ctx, "ds3", "a", -time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = s.AcquireLease(ctx, "ds3", "b", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "expired lease is taken over")
}

func TestSplitSQL(t *testing.T) {
	stmts := splitSQL("CREATE TABLE a (x INT);\n\nCREATE TABLE b (y INT);\n")
	assert.Equal(t, []string{"CREATE TABLE a (x INT)", "CREATE TABLE b (y INT)"}, stmts)
}

func TestUpsertBuilders(t *testing.T) {
	sq := sqliteDialect{}.upsert("t", []string{"a", "b"}, []string{"a"}, []string{"b"})
	assert.Equal(t, "INSERT INTO t (a, b) VALUES (?, ?) ON CONFLICT (a) DO UPDATE SET b = excluded.b", sq)

	my := mysqlDialect{}.upsert("t", []string{"a", "b"}, []string{"a"}, nil)
	assert.Equal(t, "INSERT INTO t (a, b) VALUES (?, ?) ON DUPLICATE KEY UPDATE a = a", my)
}
