package watch

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/islandd/internal/logging"
)

// DefaultNATSSubject is the subject notifications are published on.
const DefaultNATSSubject = "islandd.changes"

// NATSSubscriber triggers syncs from notifications published on a NATS
// subject. With a queue group, each notification is handled by one
// daemon of the group.
type NATSSubscriber struct {
	conn    *nats.Conn
	subject string
	queue   string
	runner  *Runner
	logger  *logging.Logger
	sub     *nats.Subscription
}

// ConnectNATS dials url with the reconnect policy the daemon uses.
func ConnectNATS(url string) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name("islandd"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(5),
		nats.ReconnectWait(1*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", url, err)
	}
	return nc, nil
}

// NewNATSSubscriber creates a subscriber on an existing connection.
func NewNATSSubscriber(nc *nats.Conn, subject, queue string, runner *Runner, logger *logging.Logger) *NATSSubscriber {
	if subject == "" {
		subject = DefaultNATSSubject
	}
	return &NATSSubscriber{conn: nc, subject: subject, queue: queue, runner: runner, logger: logger.Named("nats")}
}

// Start subscribes. Notifications are handled until Close is called.
func (s *NATSSubscriber) Start(ctx context.Context) error {
	handler := func(msg *nats.Msg) {
		n, err := ParseNotification(msg.Data)
		if err != nil {
			s.logger.Warn(ctx, "dropping notification", zap.String("subject", msg.Subject), zap.Error(err))
			return
		}
		s.runner.Trigger(ctx, n.Request())
	}

	var err error
	if s.queue != "" {
		s.sub, err = s.conn.QueueSubscribe(s.subject, s.queue, handler)
	} else {
		s.sub, err = s.conn.Subscribe(s.subject, handler)
	}
	if err != nil {
		return fmt.Errorf("subscribe to %s: %w", s.subject, err)
	}
	if err := s.conn.Flush(); err != nil {
		return fmt.Errorf("flush subscription to %s: %w", s.subject, err)
	}
	s.logger.Info(ctx, "subscribed to change notifications",
		zap.String("subject", s.subject),
		zap.String("queue", s.queue))
	return nil
}

// Close drains the subscription.
func (s *NATSSubscriber) Close() error {
	if s.sub == nil {
		return nil
	}
	return s.sub.Drain()
}
