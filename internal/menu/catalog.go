package menu

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/ariefcatur/canteen-queue/internal/canteen"
)

// Catalog is the set of menu items and the slots they are served in.
type Catalog struct {
	mu    sync.RWMutex
	items map[string]canteen.MenuItem
}

func NewCatalog(items ...canteen.MenuItem) (*Catalog, error) {
	c := &Catalog{items: make(map[string]canteen.MenuItem, len(items))}
	for _, it := range items {
		if err := c.Put(it); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func ValidateItem(it canteen.MenuItem) error {
	if strings.TrimSpace(it.ID) == "" || strings.TrimSpace(it.Name) == "" {
		return fmt.Errorf("%w: menu item id and name are required", canteen.ErrValidation)
	}
	if it.PriceCents < 0 {
		return fmt.Errorf("%w: price must not be negative", canteen.ErrValidation)
	}
	return nil
}

func (c *Catalog) Put(it canteen.MenuItem) error {
	if err := ValidateItem(it); err != nil {
		return err
	}
	it.SlotIDs = append([]string(nil), it.SlotIDs...)
	c.mu.Lock()
	c.items[it.ID] = it
	c.mu.Unlock()
	return nil
}

func (c *Catalog) Get(id string) (canteen.MenuItem, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	it, ok := c.items[id]
	if !ok {
		return canteen.MenuItem{}, fmt.Errorf("menu item %s: %w", id, canteen.ErrNotFound)
	}
	return it, nil
}

func (c *Catalog) List() []canteen.MenuItem {
	c.mu.RLock()
	out := make([]canteen.MenuItem, 0, len(c.items))
	for _, it := range c.items {
		out = append(out, it)
	}
	c.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ForSlot lists the available items on a slot's menu.
func (c *Catalog) ForSlot(slotID string) []canteen.MenuItem {
	var out []canteen.MenuItem
	for _, it := range c.List() {
		if it.Available && it.ServedIn(slotID) {
			out = append(out, it)
		}
	}
	return out
}

// Validate checks an order line list against the slot's menu.
func (c *Catalog) Validate(slotID string, items []canteen.ItemQty) error {
	if len(items) == 0 {
		return fmt.Errorf("%w: at least one item is required", canteen.ErrInvalidItem)
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, line := range items {
		it, ok := c.items[line.MenuItemID]
		switch {
		case !ok:
			return fmt.Errorf("%w: unknown item %s", canteen.ErrInvalidItem, line.MenuItemID)
		case line.Qty <= 0:
			return fmt.Errorf("%w: quantity for %s must be positive", canteen.ErrInvalidItem, line.MenuItemID)
		case !it.Available:
			return fmt.Errorf("%w: %s is unavailable", canteen.ErrInvalidItem, line.MenuItemID)
		case !it.ServedIn(slotID):
			return fmt.Errorf("%w: %s is not served in slot %s", canteen.ErrInvalidItem, line.MenuItemID, slotID)
		}
	}
	return nil
}

// Total prices the lines at current catalog prices. Unknown items count 0.
func (c *Catalog) Total(items []canteen.ItemQty) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	total := 0
	for _, line := range items {
		total += c.items[line.MenuItemID].PriceCents * line.Qty
	}
	return total
}

type Lister interface {
	ListMenu(ctx context.Context) ([]canteen.MenuItem, error)
}

func (c *Catalog) Reload(ctx context.Context, src Lister) error {
	list, err := src.ListMenu(ctx)
	if err != nil {
		return fmt.Errorf("list menu: %w", err)
	}
	next, err := NewCatalog(list...)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.items = next.items
	c.mu.Unlock()
	return nil
}
