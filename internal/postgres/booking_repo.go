package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ariefcatur/canteen-queue/internal/canteen"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const bookingColumns = `id, student_id, slot_id, items, status, queue_position, token_number,
	created_at, updated_at, called_at, served_at, cancelled_at`

type BookingRepo struct{ DB *pgxpool.Pool }

// SaveBookings upserts every booking in one transaction; either all rows
// change or none do.
func (r *BookingRepo) SaveBookings(ctx context.Context, bookings ...canteen.Booking) error {
	if len(bookings) == 0 {
		return nil
	}
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	batch := &pgx.Batch{}
	for _, b := range bookings {
		items, err := json.Marshal(b.Items)
		if err != nil {
			return fmt.Errorf("encode items of %s: %w", b.ID, err)
		}
		batch.Queue(`
			INSERT INTO bookings (`+bookingColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
			ON CONFLICT (id) DO UPDATE SET
				slot_id = EXCLUDED.slot_id,
				items = EXCLUDED.items,
				status = EXCLUDED.status,
				queue_position = EXCLUDED.queue_position,
				token_number = EXCLUDED.token_number,
				created_at = EXCLUDED.created_at,
				updated_at = EXCLUDED.updated_at,
				called_at = EXCLUDED.called_at,
				served_at = EXCLUDED.served_at,
				cancelled_at = EXCLUDED.cancelled_at`,
			b.ID, b.StudentID, b.SlotID, items, string(b.Status), b.QueuePosition, b.TokenNumber,
			b.CreatedAt, b.UpdatedAt, b.CalledAt, b.ServedAt, b.CancelledAt)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("upsert bookings: %w", err)
	}
	return tx.Commit(ctx)
}

func (r *BookingRepo) GetBooking(ctx context.Context, id string) (canteen.Booking, error) {
	b, err := scanBooking(r.DB.QueryRow(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return canteen.Booking{}, fmt.Errorf("booking %s: %w", id, canteen.ErrNotFound)
	}
	return b, err
}

func (r *BookingRepo) ListByStudent(ctx context.Context, studentID string) ([]canteen.Booking, error) {
	return r.query(ctx, `SELECT `+bookingColumns+` FROM bookings
		WHERE student_id = $1 ORDER BY created_at DESC`, studentID)
}

// BookingsBetween returns the slot's bookings whose lifetime overlaps [from, to).
func (r *BookingRepo) BookingsBetween(ctx context.Context, slotID string, from, to time.Time) ([]canteen.Booking, error) {
	return r.query(ctx, `SELECT `+bookingColumns+` FROM bookings
		WHERE slot_id = $1
		  AND created_at < $3
		  AND COALESCE(served_at, cancelled_at, 'infinity'::timestamptz) > $2
		ORDER BY created_at`, slotID, from, to)
}

func (r *BookingRepo) ActiveCount(ctx context.Context, slotID string) (int, error) {
	var n int
	err := r.DB.QueryRow(ctx, `SELECT COUNT(*) FROM bookings WHERE slot_id = $1 AND status = ANY($2)`,
		slotID, activeStatusNames()).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count active %s: %w", slotID, err)
	}
	return n, nil
}

// LoadLive returns every active booking plus everything created since.
func (r *BookingRepo) LoadLive(ctx context.Context, since time.Time) ([]canteen.Booking, error) {
	return r.query(ctx, `SELECT `+bookingColumns+` FROM bookings
		WHERE status = ANY($1) OR created_at >= $2
		ORDER BY created_at`, activeStatusNames(), since)
}

func (r *BookingRepo) query(ctx context.Context, sql string, args ...any) ([]canteen.Booking, error) {
	rows, err := r.DB.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query bookings: %w", err)
	}
	defer rows.Close()

	var out []canteen.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func scanBooking(row pgx.Row) (canteen.Booking, error) {
	var (
		b      canteen.Booking
		items  []byte
		status string
	)
	if err := row.Scan(&b.ID, &b.StudentID, &b.SlotID, &items, &status, &b.QueuePosition, &b.TokenNumber,
		&b.CreatedAt, &b.UpdatedAt, &b.CalledAt, &b.ServedAt, &b.CancelledAt); err != nil {
		return canteen.Booking{}, err
	}
	if err := json.Unmarshal(items, &b.Items); err != nil {
		return canteen.Booking{}, fmt.Errorf("decode items of %s: %w", b.ID, err)
	}
	b.Status = canteen.Status(status)
	return b, nil
}

func activeStatusNames() []string {
	out := make([]string, 0, len(canteen.ActiveStatuses))
	for _, s := range canteen.ActiveStatuses {
		out = append(out, string(s))
	}
	return out
}
