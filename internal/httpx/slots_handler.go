package httpx

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/ariefcatur/canteen-queue/internal/analytics"
	"github.com/ariefcatur/canteen-queue/internal/booking"
	"github.com/ariefcatur/canteen-queue/internal/canteen"
	"github.com/ariefcatur/canteen-queue/internal/menu"
	"github.com/ariefcatur/canteen-queue/internal/slots"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// CatalogStore persists admin changes to slots and menu items.
type CatalogStore interface {
	UpsertSlot(ctx context.Context, s canteen.Slot) error
	UpsertMenuItem(ctx context.Context, it canteen.MenuItem) error
}

type SlotsHandler struct {
	Slots     *slots.Registry
	Menu      *menu.Catalog
	Store     CatalogStore
	Bookings  *booking.Service
	Analytics *analytics.Aggregator
	Log       *zap.Logger
}

type SlotResp struct {
	canteen.Slot
	Start string `json:"start"`
	End   string `json:"end"`
}

type PutSlotReq struct {
	Name              string `json:"name"`
	Start             string `json:"start"`
	End               string `json:"end"`
	Capacity          int    `json:"capacity"`
	Active            *bool  `json:"active,omitempty"`
	TokenPrefix       string `json:"token_prefix,omitempty"`
	AvgServiceMinutes int    `json:"avg_service_minutes,omitempty"`
}

type PutMenuItemReq struct {
	Name       string   `json:"name"`
	PriceCents int      `json:"price_cents"`
	SlotIDs    []string `json:"slot_ids"`
	Available  *bool    `json:"available,omitempty"`
}

type OccupancyResp struct {
	SlotID     string             `json:"slot_id"`
	Occupancy  float64            `json:"occupancy"`
	CrowdLevel canteen.CrowdLevel `json:"crowd_level"`
}

func (h *SlotsHandler) Register(r chi.Router) {
	r.Get("/slots", h.listSlots)
	r.With(requireCap(canteen.CapAdminister)).Put("/slots/{id}", h.putSlot)
	r.With(requireCap(canteen.CapCallQueue, canteen.CapAdminister)).Get("/slots/{id}/queue", h.slotQueue)
	r.With(requireCap(canteen.CapCallQueue)).Post("/slots/{id}/call-next", h.callNext)
	r.Get("/slots/{id}/occupancy", h.occupancy)

	r.Get("/menu", h.listMenu)
	r.With(requireCap(canteen.CapAdminister)).Put("/menu/{id}", h.putMenuItem)
}

func slotResp(s canteen.Slot) SlotResp {
	return SlotResp{Slot: s, Start: canteen.ClockString(s.Start), End: canteen.ClockString(s.End)}
}

func (h *SlotsHandler) listSlots(w http.ResponseWriter, r *http.Request) {
	list := h.Slots.List()
	out := make([]SlotResp, 0, len(list))
	for _, s := range list {
		out = append(out, slotResp(s))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *SlotsHandler) putSlot(w http.ResponseWriter, r *http.Request) {
	var req PutSlotReq
	if err := decode(r, &req); err != nil {
		handleError(w, h.Log, err)
		return
	}
	start, err := canteen.ParseClock(req.Start)
	if err != nil {
		handleError(w, h.Log, err)
		return
	}
	end, err := canteen.ParseClock(req.End)
	if err != nil {
		handleError(w, h.Log, err)
		return
	}
	s := canteen.Slot{
		ID:                chi.URLParam(r, "id"),
		Name:              req.Name,
		Start:             start,
		End:               end,
		Capacity:          req.Capacity,
		Active:            req.Active == nil || *req.Active,
		TokenPrefix:       req.TokenPrefix,
		AvgServiceMinutes: req.AvgServiceMinutes,
	}
	if err := slots.Validate(s); err != nil {
		handleError(w, h.Log, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()
	if err := h.Store.UpsertSlot(ctx, s); err != nil {
		handleError(w, h.Log, err)
		return
	}
	if err := h.Slots.Put(s); err != nil {
		handleError(w, h.Log, err)
		return
	}
	saved, _ := h.Slots.Get(s.ID)
	h.Log.Info("slot saved", zap.String("slot_id", s.ID), zap.Int("capacity", s.Capacity), zap.Bool("active", s.Active))
	writeJSON(w, http.StatusOK, slotResp(saved))
}

func (h *SlotsHandler) slotQueue(w http.ResponseWriter, r *http.Request) {
	vs, err := h.Bookings.SlotQueue(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, vs)
}

func (h *SlotsHandler) callNext(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	v, err := h.Bookings.CallNext(ctx, chi.URLParam(r, "id"), middleware.GetReqID(r.Context()))
	if err != nil {
		handleError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (h *SlotsHandler) occupancy(w http.ResponseWriter, r *http.Request) {
	slotID := chi.URLParam(r, "id")
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	occ, err := h.Analytics.CurrentOccupancy(ctx, slotID)
	if err != nil {
		handleError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, OccupancyResp{SlotID: slotID, Occupancy: occ, CrowdLevel: h.Analytics.CrowdLevel(occ)})
}

// listMenu filters by ?slot_id= when given, returning only available items.
func (h *SlotsHandler) listMenu(w http.ResponseWriter, r *http.Request) {
	if slotID := r.URL.Query().Get("slot_id"); slotID != "" {
		if _, err := h.Slots.Get(slotID); err != nil {
			handleError(w, h.Log, err)
			return
		}
		writeJSON(w, http.StatusOK, h.Menu.ForSlot(slotID))
		return
	}
	writeJSON(w, http.StatusOK, h.Menu.List())
}

func (h *SlotsHandler) putMenuItem(w http.ResponseWriter, r *http.Request) {
	var req PutMenuItemReq
	if err := decode(r, &req); err != nil {
		handleError(w, h.Log, err)
		return
	}
	it := canteen.MenuItem{
		ID:         chi.URLParam(r, "id"),
		Name:       req.Name,
		PriceCents: req.PriceCents,
		SlotIDs:    req.SlotIDs,
		Available:  req.Available == nil || *req.Available,
	}
	for _, id := range it.SlotIDs {
		if _, err := h.Slots.Get(id); err != nil {
			handleError(w, h.Log, fmt.Errorf("%w: unknown slot %s", canteen.ErrValidation, id))
			return
		}
	}
	if err := menu.ValidateItem(it); err != nil {
		handleError(w, h.Log, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()
	if err := h.Store.UpsertMenuItem(ctx, it); err != nil {
		handleError(w, h.Log, err)
		return
	}
	if err := h.Menu.Put(it); err != nil {
		handleError(w, h.Log, err)
		return
	}
	h.Log.Info("menu item saved", zap.String("item_id", it.ID), zap.Int("price_cents", it.PriceCents))
	writeJSON(w, http.StatusOK, it)
}
