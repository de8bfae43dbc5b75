package watch

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/islandd/internal/logging"
	"github.com/fyrsmithlabs/islandd/internal/scope"
	"github.com/fyrsmithlabs/islandd/internal/syncer"
)

// fakeSyncer records requests and blocks each run until release is closed,
// when set.
type fakeSyncer struct {
	mu      sync.Mutex
	calls   []syncer.Request
	active  int
	overlap bool
	release chan struct{}
}

func (f *fakeSyncer) Sync(ctx context.Context, req syncer.Request) (*syncer.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	f.active++
	if f.active > 1 {
		f.overlap = true
	}
	release := f.release
	f.mu.Unlock()

	if release != nil {
		<-release
	}

	f.mu.Lock()
	f.active--
	f.mu.Unlock()
	return &syncer.Result{Status: syncer.StatusCompleted}, nil
}

func (f *fakeSyncer) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeSyncer) requests() []syncer.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]syncer.Request(nil), f.calls...)
}

func TestParseNotification(t *testing.T) {
	n, err := ParseNotification([]byte(`{"project":"acme","dataset":"backend","root":"/srv/acme"}`))
	require.NoError(t, err)
	assert.Equal(t, syncer.Request{Root: "/srv/acme", Project: "acme", Dataset: "backend"}, n.Request())

	for _, bad := range []string{
		`not json`,
		`{"dataset":"backend","root":"/srv"}`,
		`{"project":"acme","root":"/srv"}`,
		`{"project":"acme","dataset":"backend"}`,
	} {
		_, err := ParseNotification([]byte(bad))
		assert.ErrorIs(t, err, ErrInvalidNotification, bad)
	}

	_, err = ParseNotification([]byte(`{"dataset":"backend","root":"/srv"}`))
	assert.ErrorIs(t, err, scope.ErrProjectRequired)
}

func TestParseRoot(t *testing.T) {
	r, err := ParseRoot("acme/backend=/srv/acme/backend")
	require.NoError(t, err)
	assert.Equal(t, Root{Project: "acme", Dataset: "backend", Path: "/srv/acme/backend"}, r)

	for _, bad := range []string{"acme=/srv", "acme/backend", "/backend=/srv", "acme/backend= "} {
		_, err := ParseRoot(bad)
		assert.Error(t, err, bad)
	}

	roots, err := ParseRoots([]string{"a/x=/1", "b/y=/2"})
	require.NoError(t, err)
	assert.Len(t, roots, 2)
}

func TestRunner_CoalescesPerDataset(t *testing.T) {
	s := &fakeSyncer{release: make(chan struct{})}
	r := NewRunner(s, logging.NewNop())
	ctx := context.Background()

	r.Trigger(ctx, syncer.Request{Project: "acme", Dataset: "backend", Root: "/v1"})
	require.Eventually(t, func() bool { return s.count() == 1 }, time.Second, time.Millisecond)

	// Arrive while the first run is blocked.
	r.Trigger(ctx, syncer.Request{Project: "acme", Dataset: "backend", Root: "/v2"})
	r.Trigger(ctx, syncer.Request{Project: "acme", Dataset: "backend", Root: "/v3"})

	close(s.release)
	r.Wait()

	calls := s.requests()
	require.Len(t, calls, 2, "queued triggers collapse into one follow-up")
	assert.Equal(t, "/v3", calls[1].Root, "the latest request wins")
	assert.False(t, s.overlap)
}

func TestRunner_DatasetsRunIndependently(t *testing.T) {
	s := &fakeSyncer{release: make(chan struct{})}
	r := NewRunner(s, logging.NewNop())
	ctx := context.Background()

	r.Trigger(ctx, syncer.Request{Project: "acme", Dataset: "a"})
	r.Trigger(ctx, syncer.Request{Project: "acme", Dataset: "b"})
	require.Eventually(t, func() bool { return s.count() == 2 }, time.Second, time.Millisecond)

	close(s.release)
	r.Wait()
}

func TestFSWatcher_DebouncesChanges(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "node_modules"), 0o755))

	s := &fakeSyncer{}
	runner := NewRunner(s, logging.NewNop())
	logs := logging.NewTestLogger()

	w, err := NewFSWatcher(runner, []Root{{Project: "acme", Dataset: "backend", Path: root}}, 50*time.Millisecond, logs.Logger)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))
	defer w.Close()

	// Initial sync on start.
	require.Eventually(t, func() bool { return s.count() == 1 }, time.Second, 5*time.Millisecond)
	runner.Wait()

	for i := 0; i < 5; i++ {
		require.NoError(t, os.WriteFile(filepath.Join(root, "f.go"), []byte{byte('a' + i)}, 0o644))
	}
	require.NoError(t, os.MkdirAll(filepath.Join(root, "pkg"), 0o755))

	require.Eventually(t, func() bool { return s.count() >= 2 }, 2*time.Second, 5*time.Millisecond)
	time.Sleep(200 * time.Millisecond)
	runner.Wait()
	assert.LessOrEqual(t, s.count(), 3, "a burst of writes is debounced")

	// New directories are watched too.
	before := s.count()
	require.NoError(t, os.WriteFile(filepath.Join(root, "pkg", "util.go"), []byte("package pkg"), 0o644))
	require.Eventually(t, func() bool { return s.count() > before }, 2*time.Second, 5*time.Millisecond)

	req := s.requests()[0]
	assert.Equal(t, "acme", req.Project)
	assert.Equal(t, root, req.Root)
	logs.AssertLogged(t, zapcore.InfoLevel, "watching directories")
}

func TestNewFSWatcher_Validation(t *testing.T) {
	runner := NewRunner(&fakeSyncer{}, logging.NewNop())
	_, err := NewFSWatcher(runner, nil, 0, logging.NewNop())
	assert.Error(t, err)

	_, err = NewFSWatcher(runner, []Root{{Project: "a", Dataset: "b", Path: filepath.Join(t.TempDir(), "missing")}}, 0, logging.NewNop())
	assert.Error(t, err)
}

// startTestNATSServer starts an embedded NATS server on a random port.
func startTestNATSServer(t *testing.T) *natsserver.Server {
	opts := &natsserver.Options{
		Host:   "127.0.0.1",
		Port:   -1,
		NoLog:  true,
		NoSigs: true,
	}
	server, err := natsserver.NewServer(opts)
	require.NoError(t, err)

	go server.Start()
	if !server.ReadyForConnections(5 * time.Second) {
		t.Fatal("NATS server not ready")
	}
	t.Cleanup(func() {
		server.Shutdown()
		server.WaitForShutdown()
	})
	return server
}

func TestNATSSubscriber(t *testing.T) {
	server := startTestNATSServer(t)
	nc, err := ConnectNATS(server.ClientURL())
	require.NoError(t, err)
	defer nc.Close()

	s := &fakeSyncer{}
	logs := logging.NewTestLogger()
	sub := NewNATSSubscriber(nc, "", "workers", NewRunner(s, logs.Logger), logs.Logger)
	require.NoError(t, sub.Start(context.Background()))
	defer sub.Close()

	pub, err := nats.Connect(server.ClientURL())
	require.NoError(t, err)
	defer pub.Close()

	require.NoError(t, pub.Publish(DefaultNATSSubject, []byte(`{"project":"acme"}`)))
	data, err := json.Marshal(Notification{Project: "acme", Dataset: "backend", Root: "/srv/acme"})
	require.NoError(t, err)
	require.NoError(t, pub.Publish(DefaultNATSSubject, data))
	require.NoError(t, pub.Flush())

	require.Eventually(t, func() bool { return s.count() == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, "backend", s.requests()[0].Dataset)
	require.Eventually(t, func() bool {
		return logs.FilterMessage("dropping notification").Len() == 1
	}, time.Second, 5*time.Millisecond)
}

// fakeReader serves queued messages, then blocks until closed.
type fakeReader struct {
	mu        sync.Mutex
	queue     []kafka.Message
	committed []int64
	closed    chan struct{}
}

func newFakeReader(values ...string) *fakeReader {
	r := &fakeReader{closed: make(chan struct{})}
	for i, v := range values {
		r.queue = append(r.queue, kafka.Message{Offset: int64(i), Value: []byte(v)})
	}
	return r
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if len(r.queue) > 0 {
		m := r.queue[0]
		r.queue = r.queue[1:]
		r.mu.Unlock()
		return m, nil
	}
	r.mu.Unlock()
	select {
	case <-r.closed:
		return kafka.Message{}, io.EOF
	case <-ctx.Done():
		return kafka.Message{}, ctx.Err()
	}
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeReader) Close() error {
	close(r.closed)
	return nil
}

func (r *fakeReader) commits() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.committed...)
}

func TestKafkaConsumer(t *testing.T) {
	reader := newFakeReader(
		`{"project":"acme","dataset":"backend","root":"/srv/acme"}`,
		`garbage`,
		`{"project":"acme","dataset":"docs","root":"docs/handbook","source_kind":"object"}`,
	)
	s := &fakeSyncer{}
	logs := logging.NewTestLogger()
	runner := NewRunner(s, logs.Logger)

	c := NewKafkaConsumer(reader, runner, logs.Logger)
	c.Start(context.Background())

	require.Eventually(t, func() bool { return len(reader.commits()) == 3 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, c.Close())
	runner.Wait()

	assert.Equal(t, []int64{0, 1, 2}, reader.commits(), "malformed messages are committed too")
	assert.Equal(t, 2, s.count())
	logs.AssertLogged(t, zapcore.WarnLevel, "dropping notification")
	logs.AssertNotLogged(t, zapcore.ErrorLevel, "reading from kafka failed")
}

func TestNewKafkaReader_Validation(t *testing.T) {
	_, err := NewKafkaReader(nil, "changes", "")
	assert.Error(t, err)
	_, err = NewKafkaReader([]string{"localhost:9092"}, "", "")
	assert.Error(t, err)

	r, err := NewKafkaReader([]string{"localhost:9092"}, "changes", "")
	require.NoError(t, err)
	assert.Equal(t, DefaultKafkaGroupID, r.Config().GroupID)
	require.NoError(t, r.Close())
}
