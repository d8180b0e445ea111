package httpx

import (
	"errors"
	"net/http"

	"github.com/meridian-pm/meridian-pm/internal/shared"
	"github.com/meridian-pm/meridian-pm/internal/workflow"
)

// RespondError maps domain errors to HTTP responses using RFC7807.
//
// Unauthorized maps to 403: the caller is known, the action is not
// permitted. InvalidTransition and StaleState map to 409 so clients
// re-read and retry instead of treating the failure as their mistake.
func RespondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, shared.ErrNotFound):
		Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, shared.ErrDuplicate):
		Problem(w, http.StatusConflict, "Duplicate", err.Error())
	case errors.Is(err, shared.ErrValidation):
		Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, workflow.ErrUnauthorized):
		Problem(w, http.StatusForbidden, "Forbidden", "you do not have permission to perform this action")
	case errors.Is(err, workflow.ErrStaleState):
		Problem(w, http.StatusConflict, "Conflict", "this item was already updated by someone else - please refresh and retry")
	case errors.Is(err, workflow.ErrInvalidTransition):
		Problem(w, http.StatusConflict, "Invalid Transition", err.Error())
	default:
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
