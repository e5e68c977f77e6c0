package integrity

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/aura-conference/backend/pkg/metrics"
)

const (
	defaultMaxAttempts = 10
	maxRetryDelay      = 10 * time.Minute
)

// ChangeHandler consumes one change.
type ChangeHandler interface {
	HandleChange(ctx context.Context, ch Change) error
}

// ChangeFeed drains the trigger-filled document_changes outbox. Several workers may run
// side by side; SKIP LOCKED hands each row to exactly one of them.
type ChangeFeed struct {
	pool        *pgxpool.Pool
	handler     ChangeHandler
	batchSize   int
	maxAttempts int
	interval    time.Duration
	logger      *zap.Logger
}

// NewChangeFeed creates a change feed consumer. A change that fails maxAttempts times is
// parked in the outbox with its last error and no longer claimed.
func NewChangeFeed(pool *pgxpool.Pool, handler ChangeHandler, batchSize, maxAttempts int, interval time.Duration, logger *zap.Logger) *ChangeFeed {
	if logger == nil {
		logger = zap.NewNop()
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	if interval <= 0 {
		interval = time.Second
	}
	return &ChangeFeed{pool: pool, handler: handler, batchSize: batchSize, maxAttempts: maxAttempts, interval: interval, logger: logger}
}

// RetryDelay is the backoff before a change that failed `attempts` times is claimed again:
// the poll interval doubled per attempt, capped at ten minutes.
func RetryDelay(interval time.Duration, attempts int) time.Duration {
	d := interval
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= maxRetryDelay {
			return maxRetryDelay
		}
	}
	return min(d, maxRetryDelay)
}

// RunOnce claims one batch of due changes, processes it and deletes the processed rows.
// A change whose handler fails stays in the outbox with its attempt count raised and is
// retried after RetryDelay.
func (f *ChangeFeed) RunOnce(ctx context.Context) (int, error) {
	tx, err := f.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx, `SELECT id, collection, document_id, op, before, after, created_at, attempts
		FROM document_changes
		WHERE attempts < $2 AND next_attempt_at <= NOW()
		ORDER BY id LIMIT $1 FOR UPDATE SKIP LOCKED`, f.batchSize, f.maxAttempts)
	if err != nil {
		return 0, fmt.Errorf("claim changes: %w", err)
	}
	changes, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Change, error) {
		var c Change
		err := row.Scan(&c.ID, &c.Collection, &c.DocumentID, &c.Op, &c.Before, &c.After, &c.CreatedAt, &c.Attempts)
		return c, err
	})
	if err != nil {
		return 0, fmt.Errorf("scan changes: %w", err)
	}
	if len(changes) == 0 {
		return 0, nil
	}

	done := make([]int64, 0, len(changes))
	for _, c := range changes {
		if err := f.handler.HandleChange(ctx, c); err != nil {
			if ferr := f.fail(ctx, tx, c, err); ferr != nil {
				return 0, ferr
			}
			continue
		}
		done = append(done, c.ID)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM document_changes WHERE id = ANY($1)`, done); err != nil {
		return 0, fmt.Errorf("delete processed changes: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return len(done), nil
}

func (f *ChangeFeed) fail(ctx context.Context, tx pgx.Tx, c Change, cause error) error {
	attempts := c.Attempts + 1
	delay := RetryDelay(f.interval, attempts)
	if _, err := tx.Exec(ctx, `UPDATE document_changes
		SET attempts = $2, last_error = $3, next_attempt_at = NOW() + make_interval(secs => $4)
		WHERE id = $1`, c.ID, attempts, cause.Error(), delay.Seconds()); err != nil {
		return fmt.Errorf("record failed change %d: %w", c.ID, err)
	}
	fields := []zap.Field{
		zap.Int64("change_id", c.ID),
		zap.String("collection", c.Collection),
		zap.String("document_id", c.DocumentID),
		zap.Int("attempts", attempts),
		zap.Error(cause),
	}
	if attempts >= f.maxAttempts {
		metrics.ChangeFeedParked.Inc()
		f.logger.Error("integrity check failed, change parked", fields...)
		return nil
	}
	f.logger.Warn("integrity check failed, will retry", append(fields, zap.Duration("retry_in", delay))...)
	return nil
}

// Run polls until ctx is done. A full batch is followed immediately by another pass.
func (f *ChangeFeed) Run(ctx context.Context) error {
	f.logger.Info("integrity change feed started", zap.Int("batch_size", f.batchSize), zap.Duration("interval", f.interval))
	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			f.logger.Info("integrity change feed stopping")
			return nil
		case <-timer.C:
		}
		n, err := f.RunOnce(ctx)
		if err != nil && ctx.Err() == nil {
			f.logger.Warn("change feed pass failed", zap.Error(err))
		}
		next := f.interval
		if n >= f.batchSize {
			next = 0
		}
		timer.Reset(next)
	}
}
