package httpx

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/ariefcatur/canteen-queue/internal/booking"
	"github.com/ariefcatur/canteen-queue/internal/canteen"
	"github.com/ariefcatur/canteen-queue/internal/redisx"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// StatusStore is the token status cache behind GET /bookings/{id}/status.
type StatusStore interface {
	GetStatus(ctx context.Context, bookingID string) ([]byte, bool, error)
	PutStatus(ctx context.Context, v booking.View) error
}

type BookingsHandler struct {
	Service *booking.Service
	// Status may be nil; the status endpoint then reads the service directly.
	Status StatusStore
	Log    *zap.Logger
}

type CreateBookingReq struct {
	SlotID string            `json:"slot_id"`
	Items  []canteen.ItemQty `json:"items"`
}

type ModifyBookingReq struct {
	SlotID string            `json:"slot_id,omitempty"`
	Items  []canteen.ItemQty `json:"items,omitempty"`
}

func (h *BookingsHandler) Register(r chi.Router) {
	r.With(requireCap(canteen.CapBook)).Post("/bookings", h.createBooking)
	r.Get("/bookings/{id}", h.getBooking)
	r.Get("/bookings/{id}/status", h.getStatus)
	r.With(requireCap(canteen.CapBook)).Put("/bookings/{id}", h.modifyBooking)
	r.With(requireCap(canteen.CapBook)).Delete("/bookings/{id}", h.cancelBooking)
	r.With(requireCap(canteen.CapCallQueue)).Put("/bookings/{id}/mark-served", h.markServed)
	r.Get("/students/{id}/bookings", h.listStudentBookings)
}

func (h *BookingsHandler) createBooking(w http.ResponseWriter, r *http.Request) {
	var req CreateBookingReq
	if err := decode(r, &req); err != nil {
		handleError(w, h.Log, err)
		return
	}
	actor, _ := ActorFrom(r.Context())

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	v, err := h.Service.Create(ctx, booking.CreateInput{
		StudentID:      actor.ID,
		SlotID:         req.SlotID,
		Items:          req.Items,
		IdempotencyKey: r.Header.Get("Idempotency-Key"),
		TraceID:        middleware.GetReqID(r.Context()),
	})
	if err != nil {
		handleError(w, h.Log, err)
		return
	}
	code := http.StatusCreated
	if v.Idempotent {
		code = http.StatusOK
	}
	writeJSON(w, code, v)
}

func (h *BookingsHandler) getBooking(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFrom(r.Context())
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	v, err := h.Service.Get(ctx, actor, chi.URLParam(r, "id"))
	if err != nil {
		handleError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// getStatus is the cheap polling endpoint: cache first, then the service.
func (h *BookingsHandler) getStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	actor, _ := ActorFrom(r.Context())
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	if h.Status != nil {
		raw, ok, err := h.Status.GetStatus(ctx, id)
		if err != nil {
			h.Log.Warn("status cache read failed", zap.String("booking_id", id), zap.Error(err))
		}
		if ok {
			var st redisx.TokenStatus
			if err := json.Unmarshal(raw, &st); err == nil {
				if actor.Role == canteen.RoleStudent && st.StudentID != actor.ID {
					handleError(w, h.Log, fmt.Errorf("booking %s: %w", id, canteen.ErrForbidden))
					return
				}
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusOK)
				_, _ = w.Write(raw)
				return
			}
		}
	}

	v, err := h.Service.Get(ctx, actor, id)
	if err != nil {
		handleError(w, h.Log, err)
		return
	}
	if h.Status != nil {
		if err := h.Status.PutStatus(ctx, v); err != nil {
			h.Log.Warn("status cache update failed", zap.String("booking_id", id), zap.Error(err))
		}
	}
	writeJSON(w, http.StatusOK, redisx.StatusOf(v))
}

func (h *BookingsHandler) modifyBooking(w http.ResponseWriter, r *http.Request) {
	var req ModifyBookingReq
	if err := decode(r, &req); err != nil {
		handleError(w, h.Log, err)
		return
	}
	if req.Items == nil && req.SlotID == "" {
		writeError(w, http.StatusBadRequest, "nothing to modify")
		return
	}
	actor, _ := ActorFrom(r.Context())
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	v, err := h.Service.Modify(ctx, actor, chi.URLParam(r, "id"), booking.ModifyInput{
		Items:   req.Items,
		SlotID:  req.SlotID,
		TraceID: middleware.GetReqID(r.Context()),
	})
	if err != nil {
		handleError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (h *BookingsHandler) cancelBooking(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFrom(r.Context())
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	v, err := h.Service.Cancel(ctx, actor, chi.URLParam(r, "id"), middleware.GetReqID(r.Context()))
	if err != nil {
		handleError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (h *BookingsHandler) markServed(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	v, err := h.Service.MarkServed(ctx, chi.URLParam(r, "id"), middleware.GetReqID(r.Context()))
	if err != nil {
		handleError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (h *BookingsHandler) listStudentBookings(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFrom(r.Context())
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	vs, err := h.Service.ListByStudent(ctx, actor, chi.URLParam(r, "id"))
	if err != nil {
		handleError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, vs)
}
