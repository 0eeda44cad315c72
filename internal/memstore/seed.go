package memstore

import (
	"context"

	"github.com/ariefcatur/canteen-queue/internal/canteen"
)

// Seed loads the default meal slots and menu, the same rows the Postgres
// seed migration inserts.
func (s *Store) Seed(ctx context.Context) error {
	for _, sl := range []canteen.Slot{
		{ID: "breakfast", Name: "Breakfast", Start: 450, End: 570, Capacity: 40, Active: true, TokenPrefix: "B", AvgServiceMinutes: 2},
		{ID: "lunch", Name: "Lunch", Start: 720, End: 870, Capacity: 60, Active: true, TokenPrefix: "L", AvgServiceMinutes: 3},
		{ID: "snacks", Name: "Snacks", Start: 960, End: 1050, Capacity: 30, Active: true, TokenPrefix: "S", AvgServiceMinutes: 2},
		{ID: "dinner", Name: "Dinner", Start: 1170, End: 1290, Capacity: 60, Active: true, TokenPrefix: "D", AvgServiceMinutes: 3},
	} {
		if err := s.UpsertSlot(ctx, sl); err != nil {
			return err
		}
	}
	for _, it := range []canteen.MenuItem{
		{ID: "idli", Name: "Idli Sambar", PriceCents: 3000, SlotIDs: []string{"breakfast"}, Available: true},
		{ID: "poha", Name: "Poha", PriceCents: 2500, SlotIDs: []string{"breakfast", "snacks"}, Available: true},
		{ID: "veg-thali", Name: "Veg Thali", PriceCents: 8000, SlotIDs: []string{"lunch", "dinner"}, Available: true},
		{ID: "rice-bowl", Name: "Rice Bowl", PriceCents: 6000, SlotIDs: []string{"lunch", "dinner"}, Available: true},
		{ID: "samosa", Name: "Samosa", PriceCents: 1500, SlotIDs: []string{"snacks"}, Available: true},
		{ID: "tea", Name: "Tea", PriceCents: 1000, SlotIDs: []string{"breakfast", "snacks"}, Available: true},
		{ID: "water", Name: "Water Bottle", PriceCents: 2000, SlotIDs: []string{"breakfast", "lunch", "snacks", "dinner"}, Available: true},
	} {
		if err := s.UpsertMenuItem(ctx, it); err != nil {
			return err
		}
	}
	return nil
}
