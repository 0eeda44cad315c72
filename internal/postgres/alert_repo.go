package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ariefcatur/canteen-queue/internal/canteen"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const alertColumns = `id, slot_id, severity, message, occupancy, resolved, resolved_by, resolved_at, note, created_at`

type AlertRepo struct{ DB *pgxpool.Pool }

func (r *AlertRepo) CreateAlert(ctx context.Context, a canteen.Alert) error {
	_, err := r.DB.Exec(ctx, `INSERT INTO alerts (`+alertColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		a.ID, a.SlotID, string(a.Severity), a.Message, a.Occupancy, a.Resolved, a.ResolvedBy, a.ResolvedAt, a.Note, a.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert alert: %w", err)
	}
	return nil
}

func (r *AlertRepo) GetAlert(ctx context.Context, id string) (canteen.Alert, error) {
	a, err := scanAlert(r.DB.QueryRow(ctx, `SELECT `+alertColumns+` FROM alerts WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return canteen.Alert{}, fmt.Errorf("alert %s: %w", id, canteen.ErrNotFound)
	}
	return a, err
}

func (r *AlertRepo) OpenAlert(ctx context.Context, slotID string) (canteen.Alert, bool, error) {
	a, err := scanAlert(r.DB.QueryRow(ctx, `SELECT `+alertColumns+` FROM alerts
		WHERE slot_id = $1 AND NOT resolved`, slotID))
	if errors.Is(err, pgx.ErrNoRows) {
		return canteen.Alert{}, false, nil
	}
	if err != nil {
		return canteen.Alert{}, false, err
	}
	return a, true, nil
}

// ResolveAlert only touches an unresolved row, so a second resolve keeps the
// first resolver and timestamp.
func (r *AlertRepo) ResolveAlert(ctx context.Context, id, by, note string, at time.Time) (canteen.Alert, error) {
	a, err := scanAlert(r.DB.QueryRow(ctx, `
		UPDATE alerts SET resolved = TRUE, resolved_by = $2, note = $3, resolved_at = $4
		WHERE id = $1 AND NOT resolved
		RETURNING `+alertColumns, id, by, note, at))
	if err == nil {
		return a, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return canteen.Alert{}, fmt.Errorf("resolve alert %s: %w", id, err)
	}
	existing, err := r.GetAlert(ctx, id)
	if err != nil {
		return canteen.Alert{}, err
	}
	return existing, fmt.Errorf("alert %s: %w", id, canteen.ErrAlreadyResolved)
}

func (r *AlertRepo) ListAlerts(ctx context.Context, resolved *bool) ([]canteen.Alert, error) {
	rows, err := r.DB.Query(ctx, `SELECT `+alertColumns+` FROM alerts
		WHERE $1::boolean IS NULL OR resolved = $1
		ORDER BY created_at DESC, id`, resolved)
	if err != nil {
		return nil, fmt.Errorf("query alerts: %w", err)
	}
	defer rows.Close()

	var out []canteen.Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func scanAlert(row pgx.Row) (canteen.Alert, error) {
	var (
		a        canteen.Alert
		severity string
	)
	err := row.Scan(&a.ID, &a.SlotID, &severity, &a.Message, &a.Occupancy, &a.Resolved, &a.ResolvedBy, &a.ResolvedAt, &a.Note, &a.CreatedAt)
	a.Severity = canteen.Severity(severity)
	return a, err
}
