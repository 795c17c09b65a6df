package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/autopeer-io/fleetsync/internal/fleetsync/core"
	"github.com/autopeer-io/fleetsync/internal/fleetsync/core/model"
)

// PollingRepository is the sync-status sink and polling configuration source.
type PollingRepository struct {
	db *sql.DB
}

var _ core.PollingRepository = (*PollingRepository)(nil)

func NewPollingRepository(db *DB) *PollingRepository {
	return &PollingRepository{db: db.DB}
}

// UpdatePollingStatus calls update_polling_status, which also maintains error_count.
func (r *PollingRepository) UpdatePollingStatus(ctx context.Context, at time.Time, success bool, errMsg string) error {
	if _, err := r.db.ExecContext(ctx, `SELECT update_polling_status($1, $2, $3)`, at, success, errMsg); err != nil {
		return core.NewError(core.KindDatastore, "update polling status", err)
	}
	return nil
}

// GetPollingConfig returns the singleton polling record, or nil when the row is absent.
func (r *PollingRepository) GetPollingConfig(ctx context.Context) (*model.PollingConfig, error) {
	var (
		cfg         model.PollingConfig
		lastPoll    sql.NullTime
		lastSuccess sql.NullTime
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT interval_seconds, is_enabled, error_count, last_poll_time, last_success_time, last_error
		FROM polling_config
		WHERE id = 1`).Scan(&cfg.IntervalSeconds, &cfg.Enabled, &cfg.ErrorCount, &lastPoll, &lastSuccess, &cfg.LastError)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, core.NewError(core.KindDatastore, "get polling config", err)
	}

	if lastPoll.Valid {
		cfg.LastPollTime = &lastPoll.Time
	}
	if lastSuccess.Valid {
		cfg.LastSuccessTime = &lastSuccess.Time
	}
	return &cfg, nil
}

// SetPollingConfig stores the operator-editable part of the polling record.
func (r *PollingRepository) SetPollingConfig(ctx context.Context, intervalSeconds int, enabled bool) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO polling_config (id, interval_seconds, is_enabled, updated_at)
		VALUES (1, $1, $2, now())
		ON CONFLICT (id) DO UPDATE SET
			interval_seconds = EXCLUDED.interval_seconds,
			is_enabled = EXCLUDED.is_enabled,
			updated_at = now()`, intervalSeconds, enabled)
	if err != nil {
		return core.NewError(core.KindDatastore, "set polling config", err)
	}
	return nil
}
