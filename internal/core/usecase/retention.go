package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kirillkom/docchat/internal/core/ports"
)

const DefaultSweepInterval = time.Hour

// RetentionSweeper deletes stored uploads older than the retention window.
type RetentionSweeper struct {
	storage   ports.ObjectStorage
	ledger    ports.UploadLedger
	retention time.Duration
	now       func() time.Time
	observe   func(removed int, err error)
}

func NewRetentionSweeper(storage ports.ObjectStorage, ledger ports.UploadLedger, retention time.Duration) *RetentionSweeper {
	return &RetentionSweeper{
		storage:   storage,
		ledger:    ledger,
		retention: retention,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// OnSweep registers a callback invoked after every sweep.
func (s *RetentionSweeper) OnSweep(fn func(removed int, err error)) {
	s.observe = fn
}

// Start runs SweepOnce every interval until ctx is cancelled. A non-positive
// retention disables the sweeper.
func (s *RetentionSweeper) Start(ctx context.Context, interval time.Duration) {
	if s.retention <= 0 {
		slog.Info("upload_retention_disabled")
		return
	}
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	go s.loop(ctx, interval)
}

func (s *RetentionSweeper) loop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := s.SweepOnce(ctx)
			if err != nil {
				slog.Warn("upload_sweep_failed", "error", err)
			}
			if s.observe != nil {
				s.observe(removed, err)
			}
		}
	}
}

func (s *RetentionSweeper) SweepOnce(ctx context.Context) (int, error) {
	if s.retention <= 0 {
		return 0, nil
	}
	cutoff := s.now().Add(-s.retention)
	removed, err := s.storage.RemoveOlderThan(ctx, cutoff)
	// Files deleted before a failure are gone; the ledger must say so.
	if len(removed) > 0 {
		if s.ledger != nil {
			if err := s.ledger.MarkPurged(ctx, removed); err != nil {
				slog.Warn("upload_ledger_purge_failed", "count", len(removed), "error", err)
			}
		}
		slog.Info("uploads_swept", "count", len(removed), "cutoff", cutoff)
	}
	if err != nil {
		return len(removed), fmt.Errorf("remove expired uploads: %w", err)
	}
	return len(removed), nil
}
