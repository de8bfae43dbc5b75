package metadata

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// AcquireLease takes the sync lease of a dataset for holder until ttl
// elapses. It returns false when another holder owns an unexpired lease.
// The current holder may re-acquire to extend its lease.
func (s *Store) AcquireLease(ctx context.Context, datasetID, holder string, ttl time.Duration) (bool, error) {
	now := s.now()
	err := s.WithTx(ctx, func(tx *Tx) error {
		if _, err := tx.q.ExecContext(ctx,
			"DELETE FROM sync_leases WHERE dataset_id = ? AND (expires_at <= ? OR holder = ?)",
			datasetID, now.UnixMilli(), holder); err != nil {
			return fmt.Errorf("clear stale lease: %w", err)
		}
		if _, err := tx.q.ExecContext(ctx,
			"INSERT INTO sync_leases (dataset_id, holder, expires_at) VALUES (?, ?, ?)",
			datasetID, holder, now.Add(ttl).UnixMilli()); err != nil {
			if s.d.isUniqueViolation(err) {
				return ErrDuplicate
			}
			return fmt.Errorf("insert lease: %w", err)
		}
		return nil
	})
	if errors.Is(err, ErrDuplicate) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("acquire lease on %s: %w", datasetID, err)
	}
	return true, nil
}

// ReleaseLease drops holder's lease. Releasing a lease held by someone else
// is a no-op.
func (s *Store) ReleaseLease(ctx context.Context, datasetID, holder string) error {
	if _, err := s.q.ExecContext(ctx,
		"DELETE FROM sync_leases WHERE dataset_id = ? AND holder = ?", datasetID, holder); err != nil {
		return fmt.Errorf("release lease on %s: %w", datasetID, err)
	}
	return nil
}
