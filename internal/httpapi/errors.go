package httpapi

import (
	"net/http"

	"github.com/abathur/swarm/internal/swarmerr"
)

// httpStatusForError maps a swarmerr.Kind to its HTTP status: 400 for
// validation, 404 for not-found, 409 for conflict, 503 for transient,
// 500 otherwise.
func httpStatusForError(err error) (int, string) {
	se, ok := swarmerr.As(err)
	if !ok {
		return http.StatusInternalServerError, "internal"
	}
	switch se.Kind {
	case swarmerr.KindValidation:
		return http.StatusBadRequest, se.Code
	case swarmerr.KindNotFound:
		return http.StatusNotFound, se.Code
	case swarmerr.KindConflict:
		return http.StatusConflict, se.Code
	case swarmerr.KindTransient:
		return http.StatusServiceUnavailable, se.Code
	default:
		return http.StatusInternalServerError, se.Code
	}
}
