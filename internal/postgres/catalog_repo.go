package postgres

import (
	"context"
	"fmt"

	"github.com/ariefcatur/canteen-queue/internal/canteen"
	"github.com/jackc/pgx/v5/pgxpool"
)

// CatalogRepo stores meal slots and menu items.
type CatalogRepo struct{ DB *pgxpool.Pool }

func (r *CatalogRepo) ListSlots(ctx context.Context) ([]canteen.Slot, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT id, name, start_minute, end_minute, capacity, active, token_prefix, avg_service_minutes
		FROM slots ORDER BY start_minute, id`)
	if err != nil {
		return nil, fmt.Errorf("query slots: %w", err)
	}
	defer rows.Close()

	var out []canteen.Slot
	for rows.Next() {
		var s canteen.Slot
		if err := rows.Scan(&s.ID, &s.Name, &s.Start, &s.End, &s.Capacity, &s.Active, &s.TokenPrefix, &s.AvgServiceMinutes); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *CatalogRepo) UpsertSlot(ctx context.Context, s canteen.Slot) error {
	_, err := r.DB.Exec(ctx, `
		INSERT INTO slots (id, name, start_minute, end_minute, capacity, active, token_prefix, avg_service_minutes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			start_minute = EXCLUDED.start_minute,
			end_minute = EXCLUDED.end_minute,
			capacity = EXCLUDED.capacity,
			active = EXCLUDED.active,
			token_prefix = EXCLUDED.token_prefix,
			avg_service_minutes = EXCLUDED.avg_service_minutes`,
		s.ID, s.Name, s.Start, s.End, s.Capacity, s.Active, s.TokenPrefix, s.AvgServiceMinutes)
	if err != nil {
		return fmt.Errorf("upsert slot %s: %w", s.ID, err)
	}
	return nil
}

func (r *CatalogRepo) ListMenu(ctx context.Context) ([]canteen.MenuItem, error) {
	rows, err := r.DB.Query(ctx, `SELECT id, name, price_cents, slot_ids, available FROM menu_items ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query menu: %w", err)
	}
	defer rows.Close()

	var out []canteen.MenuItem
	for rows.Next() {
		var it canteen.MenuItem
		if err := rows.Scan(&it.ID, &it.Name, &it.PriceCents, &it.SlotIDs, &it.Available); err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func (r *CatalogRepo) UpsertMenuItem(ctx context.Context, it canteen.MenuItem) error {
	slotIDs := it.SlotIDs
	if slotIDs == nil {
		slotIDs = []string{}
	}
	_, err := r.DB.Exec(ctx, `
		INSERT INTO menu_items (id, name, price_cents, slot_ids, available)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			price_cents = EXCLUDED.price_cents,
			slot_ids = EXCLUDED.slot_ids,
			available = EXCLUDED.available`,
		it.ID, it.Name, it.PriceCents, slotIDs, it.Available)
	if err != nil {
		return fmt.Errorf("upsert menu item %s: %w", it.ID, err)
	}
	return nil
}
