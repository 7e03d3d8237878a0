package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/BearBump/OrderDesk/internal/models"
	"github.com/go-playground/validator/v10"
)

// Problem is an RFC7807 problem details body. Reason carries the domain
// reason code so clients do not have to parse Detail.
type Problem struct {
	Type   string `json:"type,omitempty"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
	Reason string `json:"reason,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeProblem(w http.ResponseWriter, status int, title, detail, reason string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(Problem{
		Title:  title,
		Status: status,
		Detail: detail,
		Reason: reason,
	})
}

// respondError maps domain error kinds onto HTTP codes. Anything unknown is
// logged and hidden behind a 500.
func respondError(w http.ResponseWriter, r *http.Request, err error) {
	reason := models.ReasonCode(err)

	var verr validator.ValidationErrors
	switch {
	case errors.As(err, &verr):
		writeProblem(w, http.StatusBadRequest, "Validation Failed", validationDetail(verr), "validation_failed")
	case errors.Is(err, models.ErrInvalid):
		writeProblem(w, http.StatusBadRequest, "Invalid Request", err.Error(), reason)
	case errors.Is(err, models.ErrNotFound):
		writeProblem(w, http.StatusNotFound, "Not Found", err.Error(), reason)
	case errors.Is(err, models.ErrConflict):
		writeProblem(w, http.StatusConflict, "Conflict", err.Error(), reason)
	default:
		slog.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"error", err.Error(),
		)
		writeProblem(w, http.StatusInternalServerError, "Internal Error", "", "")
	}
}

func validationDetail(errs validator.ValidationErrors) string {
	parts := make([]string, 0, len(errs))
	for _, fe := range errs {
		parts = append(parts, fe.Field()+": failed '"+fe.Tag()+"'")
	}
	return strings.Join(parts, "; ")
}
