package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/fyrsmithlabs/islandd/internal/config"
	"github.com/fyrsmithlabs/islandd/internal/logging"
	"github.com/fyrsmithlabs/islandd/internal/watch"
)

// Watchers are the running change-notification sources.
type Watchers struct {
	Runner  *watch.Runner
	closers []func() error
}

// StartWatchers starts every source enabled in cfg: the directory watcher
// when watch.fs.enabled is set, the NATS subscriber when watch.nats.url is
// set and the Kafka consumer when watch.kafka.brokers is set. All of them
// feed one runner, so a dataset is never synced twice at once. Syncs run
// with ctx.
func StartWatchers(ctx context.Context, reg Registry, cfg config.WatchConfig, logger *logging.Logger) (_ *Watchers, err error) {
	w := &Watchers{Runner: watch.NewRunner(reg.Syncer(), logger)}
	defer func() {
		if err != nil {
			_ = w.Close()
		}
	}()

	if cfg.FS.Enabled {
		roots, err := watch.ParseRoots(cfg.FS.Roots)
		if err != nil {
			return nil, err
		}
		fw, err := watch.NewFSWatcher(w.Runner, roots, cfg.FS.Debounce, logger)
		if err != nil {
			return nil, err
		}
		w.closers = append(w.closers, fw.Close)
		if err := fw.Start(ctx); err != nil {
			return nil, err
		}
	}

	if cfg.NATS.URL != "" {
		nc, err := watch.ConnectNATS(cfg.NATS.URL)
		if err != nil {
			return nil, fmt.Errorf("connect to nats: %w", err)
		}
		w.closers = append(w.closers, func() error { nc.Close(); return nil })
		sub := watch.NewNATSSubscriber(nc, cfg.NATS.Subject, cfg.NATS.Queue, w.Runner, logger)
		if err := sub.Start(ctx); err != nil {
			return nil, err
		}
		w.closers = append(w.closers, sub.Close)
	}

	if len(cfg.Kafka.Brokers) > 0 {
		reader, err := watch.NewKafkaReader(cfg.Kafka.Brokers, cfg.Kafka.Topic, cfg.Kafka.GroupID)
		if err != nil {
			return nil, err
		}
		consumer := watch.NewKafkaConsumer(reader, w.Runner, logger)
		consumer.Start(ctx)
		w.closers = append(w.closers, consumer.Close)
	}
	return w, nil
}

// Close stops every source, newest first. In-flight syncs are not waited
// for; use Runner.Wait after cancelling their context.
func (w *Watchers) Close() error {
	var errs []error
	for i := len(w.closers) - 1; i >= 0; i-- {
		if err := w.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	w.closers = nil
	return errors.Join(errs...)
}
