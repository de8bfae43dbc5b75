package watch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/islandd/internal/logging"
	"github.com/fyrsmithlabs/islandd/internal/metadata"
	"github.com/fyrsmithlabs/islandd/internal/syncer"
)

// DefaultDebounce is how long a root must be quiet before it is synced.
const DefaultDebounce = 2 * time.Second

// ErrWatcherFailed indicates the filesystem watcher failed to initialize.
var ErrWatcherFailed = errors.New("failed to initialize filesystem watcher")

// FSWatcher syncs a dataset after its root directory has been quiet for
// the debounce interval.
type FSWatcher struct {
	runner   *Runner
	roots    []Root
	debounce time.Duration
	skip     map[string]bool
	watcher  *fsnotify.Watcher
	logger   *logging.Logger

	mu     sync.Mutex
	timers map[int]*time.Timer
	stop   chan struct{}
	done   chan struct{}
}

// NewFSWatcher creates a watcher for roots. Paths are made absolute and
// must be existing directories.
func NewFSWatcher(runner *Runner, roots []Root, debounce time.Duration, logger *logging.Logger) (*FSWatcher, error) {
	if len(roots) == 0 {
		return nil, fmt.Errorf("no watch roots configured")
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	abs := make([]Root, len(roots))
	for i, r := range roots {
		p, err := filepath.Abs(r.Path)
		if err != nil {
			return nil, fmt.Errorf("resolve watch root %s: %w", r.Path, err)
		}
		info, err := os.Stat(p)
		if err != nil {
			return nil, fmt.Errorf("watch root: %w", err)
		}
		if !info.IsDir() {
			return nil, fmt.Errorf("watch root must be a directory: %s", p)
		}
		r.Path = p
		abs[i] = r
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWatcherFailed, err)
	}
	skip := make(map[string]bool, len(syncer.DefaultSkipDirs))
	for _, d := range syncer.DefaultSkipDirs {
		skip[d] = true
	}
	return &FSWatcher{
		runner:   runner,
		roots:    abs,
		debounce: debounce,
		skip:     skip,
		watcher:  w,
		logger:   logger.Named("fswatch"),
		timers:   make(map[int]*time.Timer),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}, nil
}

// Start watches every root and triggers an initial sync of each.
func (w *FSWatcher) Start(ctx context.Context) error {
	for _, r := range w.roots {
		if err := w.addTree(r.Path); err != nil {
			return err
		}
	}
	for i := range w.roots {
		w.runner.Trigger(ctx, w.request(i))
	}
	go w.loop(ctx)
	w.logger.Info(ctx, "watching directories", zap.Int("roots", len(w.roots)))
	return nil
}

// Close stops watching. Pending debounced syncs are dropped.
func (w *FSWatcher) Close() error {
	select {
	case <-w.stop:
		return nil
	default:
		close(w.stop)
	}
	err := w.watcher.Close()
	<-w.done

	w.mu.Lock()
	for _, t := range w.timers {
		t.Stop()
	}
	w.mu.Unlock()
	return err
}

func (w *FSWatcher) request(i int) syncer.Request {
	r := w.roots[i]
	return syncer.Request{Root: r.Path, Project: r.Project, Dataset: r.Dataset, SourceKind: metadata.SourceLocal}
}

// addTree watches dir and every directory below it except skipped ones.
func (w *FSWatcher) addTree(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// Directories can vanish between the event and the walk.
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != dir && w.skip[d.Name()] {
			return filepath.SkipDir
		}
		if err := w.watcher.Add(path); err != nil {
			return fmt.Errorf("watching %s: %w", path, err)
		}
		return nil
	})
}

// rootOf returns the index of the innermost root containing path.
func (w *FSWatcher) rootOf(path string) int {
	best, bestLen := -1, -1
	for i, r := range w.roots {
		if (path == r.Path || strings.HasPrefix(path, r.Path+string(filepath.Separator))) && len(r.Path) > bestLen {
			best, bestLen = i, len(r.Path)
		}
	}
	return best
}

func (w *FSWatcher) loop(ctx context.Context) {
	defer close(w.done)
	for {
		select {
		case <-w.stop:
			return
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handle(ctx, event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn(ctx, "filesystem watcher error", zap.Error(err))
		}
	}
}

func (w *FSWatcher) handle(ctx context.Context, event fsnotify.Event) {
	if event.Op == fsnotify.Chmod {
		return
	}
	i := w.rootOf(event.Name)
	if i < 0 {
		return
	}
	if event.Op.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() && !w.skip[info.Name()] {
			if err := w.addTree(event.Name); err != nil {
				w.logger.Warn(ctx, "could not watch new directory", zap.String("path", event.Name), zap.Error(err))
			}
		}
	}
	w.schedule(ctx, i)
}

// schedule (re)starts the debounce timer of root i.
func (w *FSWatcher) schedule(ctx context.Context, i int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.timers[i]; ok {
		t.Reset(w.debounce)
		return
	}
	w.timers[i] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.timers, i)
		w.mu.Unlock()
		w.runner.Trigger(ctx, w.request(i))
	})
}
