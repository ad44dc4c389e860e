package http

import (
	"encoding/json"
	"net/http"

	"github.com/atl5d/pwyc-booking/internal/adapters/calcom"
	"github.com/atl5d/pwyc-booking/internal/domain"
	"github.com/atl5d/pwyc-booking/internal/observability"
	"github.com/cockroachdb/errors"
)

type errorBody struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

// writeError maps a service error to its HTTP status and error envelope.
func writeError(w http.ResponseWriter, r *http.Request, logger observability.Logger, msg string, err error) {
	log := observability.FromContext(r.Context(), logger).WithError(err)

	var verr *domain.ValidationError
	if errors.As(err, &verr) {
		writeMessage(w, http.StatusBadRequest, verr.Error())
		return
	}

	body := errorBody{Error: msg}
	var apiErr *calcom.APIError
	if errors.As(err, &apiErr) {
		body.Details = apiErr.Detail
	}

	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		status = http.StatusBadRequest
		body.Details = err.Error()
	case errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrConflict), errors.Is(err, domain.ErrSerializationFailure):
		status = http.StatusConflict
		body.Details = err.Error()
	case errors.Is(err, domain.ErrPaymentFailed):
		body.Details = err.Error()
	}

	if status >= 500 {
		log.Error(msg)
	} else {
		log.Warn(msg)
	}
	writeJSON(w, status, body)
}
