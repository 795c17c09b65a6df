package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/autopeer-io/fleetsync/internal/fleetsync/core"
	"github.com/autopeer-io/fleetsync/internal/fleetsync/core/model"
)

const deviceColumns = `
	d.device_id, d.display_name, d.owner_id, d.is_active,
	p.device_id IS NOT NULL, COALESCE(p.lat, 0), COALESCE(p.lon, 0),
	COALESCE(p.speed_kph, 0), COALESCE(p.heading_deg, 0), p.captured_at, COALESCE(p.status_text, '')`

// DeviceRepository reads devices and writes positions.
type DeviceRepository struct {
	db *sql.DB
}

var _ core.DeviceRepository = (*DeviceRepository)(nil)

func NewDeviceRepository(db *DB) *DeviceRepository {
	return &DeviceRepository{db: db.DB}
}

// ListActive returns every active device with its last position. The result is not paginated.
func (r *DeviceRepository) ListActive(ctx context.Context) ([]model.TrackedDevice, error) {
	return r.query(ctx, "list active devices", `
		SELECT `+deviceColumns+`
		FROM devices d
		LEFT JOIN device_positions p ON p.device_id = d.device_id
		WHERE d.is_active
		ORDER BY d.device_id`)
}

// ListStale returns active devices whose last fix was captured before the given time or never.
func (r *DeviceRepository) ListStale(ctx context.Context, before time.Time) ([]model.TrackedDevice, error) {
	return r.query(ctx, "list stale devices", `
		SELECT `+deviceColumns+`
		FROM devices d
		LEFT JOIN device_positions p ON p.device_id = d.device_id
		WHERE d.is_active AND (p.captured_at IS NULL OR p.captured_at < $1)
		ORDER BY p.captured_at NULLS FIRST, d.device_id`, before)
}

func (r *DeviceRepository) CountActive(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT count(*) FROM devices WHERE is_active`).Scan(&n); err != nil {
		return 0, core.NewError(core.KindDatastore, "count active devices", err)
	}
	return n, nil
}

func (r *DeviceRepository) CountUpdatedSince(ctx context.Context, since time.Time) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `
		SELECT count(*)
		FROM devices d
		JOIN device_positions p ON p.device_id = d.device_id
		WHERE d.is_active AND p.captured_at >= $1`, since).Scan(&n)
	if err != nil {
		return 0, core.NewError(core.KindDatastore, "count updated devices", err)
	}
	return n, nil
}

// UpsertPosition overwrites the last position of a device.
func (r *DeviceRepository) UpsertPosition(ctx context.Context, u model.PositionUpdate) error {
	var captured sql.NullTime
	if !u.Fix.CapturedAt.IsZero() {
		captured = sql.NullTime{Time: u.Fix.CapturedAt, Valid: true}
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO device_positions (device_id, lat, lon, speed_kph, heading_deg, captured_at, status_text, status, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now())
		ON CONFLICT (device_id) DO UPDATE SET
			lat = EXCLUDED.lat,
			lon = EXCLUDED.lon,
			speed_kph = EXCLUDED.speed_kph,
			heading_deg = EXCLUDED.heading_deg,
			captured_at = EXCLUDED.captured_at,
			status_text = EXCLUDED.status_text,
			status = EXCLUDED.status,
			updated_at = now()`,
		u.Fix.DeviceID, u.Fix.Lat, u.Fix.Lon, u.Fix.SpeedKph, u.Fix.HeadingDeg,
		captured, u.Fix.StatusText, string(u.Status))
	if err != nil {
		return core.NewError(core.KindDatastore, "upsert position", err)
	}
	return nil
}

// Register inserts or updates a device. It is used by seeding and tests.
func (r *DeviceRepository) Register(ctx context.Context, d model.TrackedDevice) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO devices (device_id, display_name, owner_id, is_active)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (device_id) DO UPDATE SET
			display_name = EXCLUDED.display_name,
			owner_id = EXCLUDED.owner_id,
			is_active = EXCLUDED.is_active`,
		d.ID, d.DisplayName, d.OwnerID, d.Active)
	if err != nil {
		return core.NewError(core.KindDatastore, "register device", err)
	}
	return nil
}

func (r *DeviceRepository) query(ctx context.Context, op, q string, args ...any) ([]model.TrackedDevice, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, core.NewError(core.KindDatastore, op, err)
	}
	defer rows.Close()

	var out []model.TrackedDevice
	for rows.Next() {
		var (
			d        model.TrackedDevice
			hasFix   bool
			fix      model.PositionFix
			captured sql.NullTime
		)
		if err := rows.Scan(
			&d.ID, &d.DisplayName, &d.OwnerID, &d.Active,
			&hasFix, &fix.Lat, &fix.Lon, &fix.SpeedKph, &fix.HeadingDeg, &captured, &fix.StatusText,
		); err != nil {
			return nil, core.NewError(core.KindDatastore, op, err)
		}
		if hasFix {
			fix.DeviceID = d.ID
			if captured.Valid {
				fix.CapturedAt = captured.Time
			}
			d.LastFix = &fix
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, core.NewError(core.KindDatastore, op, err)
	}
	return out, nil
}
