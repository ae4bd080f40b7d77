// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"net/http"

	"github.com/quarryline/quarryline/internal/shared"
)

// ErrBadRequest marks malformed requests (unparsable body, bad path params).
var ErrBadRequest = errors.New("bad request")

// RespondError maps domain errors to HTTP responses using RFC7807.
func RespondError(w http.ResponseWriter, err error) {
	if errors.Is(err, ErrBadRequest) {
		Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
		return
	}
	switch shared.KindOf(err) {
	case shared.KindValidation:
		Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case shared.KindPrecondition:
		Problem(w, http.StatusUnprocessableEntity, "Precondition Failed", err.Error())
	case shared.KindConflict:
		Problem(w, http.StatusConflict, "Conflict", err.Error())
	case shared.KindNotFound:
		Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case shared.KindUnavailable:
		Problem(w, http.StatusServiceUnavailable, "Store Unavailable", err.Error())
	default:
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}

// StatusFor returns the status code RespondError would write for err.
func StatusFor(err error) int {
	if errors.Is(err, ErrBadRequest) {
		return http.StatusBadRequest
	}
	switch shared.KindOf(err) {
	case shared.KindNone:
		return http.StatusOK
	case shared.KindValidation:
		return http.StatusBadRequest
	case shared.KindPrecondition:
		return http.StatusUnprocessableEntity
	case shared.KindConflict:
		return http.StatusConflict
	case shared.KindNotFound:
		return http.StatusNotFound
	case shared.KindUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
