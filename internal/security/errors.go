package security

import (
	"encoding/json"
	"net/http"

	"github.com/example/clinic-finance/internal/fault"
)

// ErrorResponse is the JSON shape of every error the API returns. Kind
// is the machine-checkable classification; clients must never branch on
// the message text.
type ErrorResponse struct {
	Error         string `json:"error"`
	Kind          string `json:"kind,omitempty"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

func WriteJSONError(w http.ResponseWriter, r *http.Request, status int, code string) {
	writeError(w, r, status, code, "")
}

// WriteFault maps a service error to its HTTP status by kind.
func WriteFault(w http.ResponseWriter, r *http.Request, err error) {
	kind := fault.KindOf(err)

	var status int
	switch kind {
	case fault.Validation:
		status = http.StatusBadRequest
	case fault.NotFound:
		status = http.StatusNotFound
	case fault.Conflict:
		status = http.StatusConflict
	case fault.Contention:
		status = http.StatusServiceUnavailable
	case fault.Partial:
		status = http.StatusMultiStatus
	default:
		status = http.StatusInternalServerError
	}

	msg := err.Error()
	if kind == fault.Internal {
		// Internal details stay in the logs.
		msg = "internal error"
	}
	writeError(w, r, status, msg, string(kind))
}

func writeError(w http.ResponseWriter, r *http.Request, status int, msg, kind string) {
	cid := CorrelationIDFromContext(r.Context())
	if cid != "" {
		w.Header().Set(CorrelationIDHeader, cid)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Error:         msg,
		Kind:          kind,
		CorrelationID: cid,
	})
}
