package httpx

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/ariefcatur/canteen-queue/internal/alerting"
	"github.com/ariefcatur/canteen-queue/internal/analytics"
	"github.com/ariefcatur/canteen-queue/internal/canteen"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// AdminHandler serves the dashboard: analytics and overcrowding alerts.
type AdminHandler struct {
	Analytics *analytics.Aggregator
	Alerts    *alerting.Policy
	Log       *zap.Logger
}

type ResolveAlertReq struct {
	Note string `json:"note"`
}

func (h *AdminHandler) Register(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(requireCap(canteen.CapAdminister))
		r.Get("/analytics", h.analytics)
		r.Get("/alerts", h.listAlerts)
		r.Post("/alerts/{id}/resolve", h.resolveAlert)
	})
}

func (h *AdminHandler) analytics(w http.ResponseWriter, r *http.Request) {
	days := analytics.DefaultDays
	if s := r.URL.Query().Get("days"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			handleError(w, h.Log, fmt.Errorf("%w: days must be a number", canteen.ErrValidation))
			return
		}
		days = n
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	snap, err := h.Analytics.Snapshot(ctx, days)
	if err != nil {
		handleError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (h *AdminHandler) listAlerts(w http.ResponseWriter, r *http.Request) {
	var resolved *bool
	if s := r.URL.Query().Get("resolved"); s != "" {
		b, err := strconv.ParseBool(s)
		if err != nil {
			handleError(w, h.Log, fmt.Errorf("%w: resolved must be true or false", canteen.ErrValidation))
			return
		}
		resolved = &b
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	list, err := h.Alerts.List(ctx, resolved)
	if err != nil {
		handleError(w, h.Log, err)
		return
	}
	if list == nil {
		list = []canteen.Alert{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *AdminHandler) resolveAlert(w http.ResponseWriter, r *http.Request) {
	var req ResolveAlertReq
	if r.ContentLength != 0 {
		if err := decode(r, &req); err != nil {
			handleError(w, h.Log, err)
			return
		}
	}
	actor, _ := ActorFrom(r.Context())

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	a, err := h.Alerts.Resolve(ctx, chi.URLParam(r, "id"), actor.ID, req.Note)
	if err != nil {
		handleError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}
