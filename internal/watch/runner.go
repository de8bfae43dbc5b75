// Package watch turns change notifications into syncs.
//
// Three sources feed a Runner: a local directory watcher, a NATS subject
// and a Kafka topic. The runner coalesces notifications per dataset, so a
// burst of changes during a sync causes at most one follow-up run.
package watch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/islandd/internal/logging"
	"github.com/fyrsmithlabs/islandd/internal/metadata"
	"github.com/fyrsmithlabs/islandd/internal/scope"
	"github.com/fyrsmithlabs/islandd/internal/syncer"
)

// ErrInvalidNotification is returned for notifications that name no
// dataset or root.
var ErrInvalidNotification = errors.New("invalid change notification")

// Syncer runs one sync. *syncer.Syncer implements it.
type Syncer interface {
	Sync(ctx context.Context, req syncer.Request) (*syncer.Result, error)
}

// Notification is the JSON message remote producers publish when a
// dataset's content changed.
type Notification struct {
	Project    string `json:"project"`
	Dataset    string `json:"dataset"`
	Root       string `json:"root"`
	SourceKind string `json:"source_kind,omitempty"`
}

// ParseNotification decodes and validates a notification.
func ParseNotification(data []byte) (Notification, error) {
	var n Notification
	if err := json.Unmarshal(data, &n); err != nil {
		return n, fmt.Errorf("%w: %w", ErrInvalidNotification, err)
	}
	if err := scope.Validate(n.Project, n.Dataset, scope.Local); err != nil {
		return n, fmt.Errorf("%w: %w", ErrInvalidNotification, err)
	}
	if strings.TrimSpace(n.Root) == "" {
		return n, fmt.Errorf("%w: root is required", ErrInvalidNotification)
	}
	return n, nil
}

// Request converts the notification to a sync request.
func (n Notification) Request() syncer.Request {
	return syncer.Request{
		Root:       n.Root,
		Project:    n.Project,
		Dataset:    n.Dataset,
		SourceKind: metadata.SourceKind(n.SourceKind),
	}
}

// Runner runs syncs in the background, one at a time per dataset.
type Runner struct {
	syncer Syncer
	logger *logging.Logger

	mu      sync.Mutex
	running map[string]*pending
	wg      sync.WaitGroup

	// onDone is called after every run. Tests use it.
	onDone func(syncer.Request, *syncer.Result, error)
}

type pending struct {
	next *syncer.Request
}

// NewRunner creates a runner.
func NewRunner(s Syncer, logger *logging.Logger) *Runner {
	return &Runner{syncer: s, logger: logger.Named("watch"), running: make(map[string]*pending)}
}

// Trigger schedules a sync of req's dataset. While a sync of that dataset
// runs, further triggers collapse into a single follow-up run using the
// latest request. Runs use ctx, so cancelling it interrupts them.
func (r *Runner) Trigger(ctx context.Context, req syncer.Request) {
	key := req.Project + "/" + req.Dataset

	r.mu.Lock()
	if p, ok := r.running[key]; ok {
		p.next = &req
		r.mu.Unlock()
		return
	}
	r.running[key] = &pending{}
	r.wg.Add(1)
	r.mu.Unlock()

	go r.loop(ctx, key, req)
}

func (r *Runner) loop(ctx context.Context, key string, req syncer.Request) {
	defer r.wg.Done()
	for {
		r.run(ctx, req)

		r.mu.Lock()
		p := r.running[key]
		if p.next == nil {
			delete(r.running, key)
			r.mu.Unlock()
			return
		}
		req, p.next = *p.next, nil
		r.mu.Unlock()
	}
}

func (r *Runner) run(ctx context.Context, req syncer.Request) {
	ctx = logging.WithScope(ctx, req.Project, req.Dataset)
	res, err := r.syncer.Sync(ctx, req)
	switch {
	case err != nil:
		r.logger.Error(ctx, "triggered sync failed", zap.String("root", req.Root), zap.Error(err))
	case res.FileFailures > 0 || res.DeleteFailures > 0:
		r.logger.Warn(ctx, "triggered sync completed with failures",
			zap.Int("file_failures", res.FileFailures),
			zap.Int("delete_failures", res.DeleteFailures))
	default:
		r.logger.Debug(ctx, "triggered sync completed", zap.String("run_id", res.RunID))
	}
	if r.onDone != nil {
		r.onDone(req, res, err)
	}
}

// Wait blocks until every triggered sync has finished.
func (r *Runner) Wait() {
	r.wg.Wait()
}
