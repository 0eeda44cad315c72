package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/ariefcatur/canteen-queue/internal/canteen"
	"go.uber.org/zap"
)

type errorResp struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, errorResp{Error: msg})
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, canteen.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, canteen.ErrInvalidTransition),
		errors.Is(err, canteen.ErrDuplicateBooking),
		errors.Is(err, canteen.ErrCapacityExceeded),
		errors.Is(err, canteen.ErrEmptyQueue),
		errors.Is(err, canteen.ErrAlreadyResolved),
		errors.Is(err, canteen.ErrSlotClosed):
		return http.StatusConflict
	case errors.Is(err, canteen.ErrInvalidItem), errors.Is(err, canteen.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, canteen.ErrForbidden):
		return http.StatusForbidden
	}
	return http.StatusInternalServerError
}

func handleError(w http.ResponseWriter, log *zap.Logger, err error) {
	code := statusFor(err)
	if code == http.StatusInternalServerError {
		log.Error("request failed", zap.Error(err))
		writeError(w, code, "internal error")
		return
	}
	writeError(w, code, err.Error())
}

func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: invalid json", canteen.ErrValidation)
	}
	return nil
}
