// Package httpx provides HTTP response utilities.
package httpx

import (
	"net/http"

	"github.com/bastion-iam/bastion/internal/shared"
)

// statusForKind maps the engine error taxonomy onto HTTP statuses.
var statusForKind = map[shared.Kind]int{
	shared.KindValidation:         http.StatusBadRequest,
	shared.KindNotFound:           http.StatusNotFound,
	shared.KindAlreadyExists:      http.StatusConflict,
	shared.KindCycle:              http.StatusConflict,
	shared.KindSeparationOfDuty:   http.StatusConflict,
	shared.KindTemporalConstraint: http.StatusConflict,
	shared.KindNoActivatableRole:  http.StatusConflict,
	shared.KindNotAuthorized:      http.StatusForbidden,
	shared.KindSessionClosed:      http.StatusGone,
	shared.KindNotActive:          http.StatusConflict,
	shared.KindStoreUnavailable:   http.StatusServiceUnavailable,
}

// RespondError maps engine errors to RFC7807 problem responses. The error
// kind name doubles as the problem title so callers can branch on it without
// parsing the detail text.
func RespondError(w http.ResponseWriter, err error) {
	kind := shared.KindOf(err)
	status, ok := statusForKind[kind]
	if !ok {
		Problem(w, http.StatusInternalServerError, "internal error", "")
		return
	}
	Problem(w, status, kind.String(), err.Error())
}
