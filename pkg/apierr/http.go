package apierr

import (
	"encoding/json"
	"net/http"
)

// statusByKind maps the taxonomy onto wire status codes per spec.md §7.
var statusByKind = map[Kind]int{
	KindInputInvalid:       http.StatusBadRequest,
	KindAuthRequired:       http.StatusUnauthorized,
	KindInvalidCredentials: http.StatusUnauthorized,
	KindSessionInvalid:     http.StatusUnauthorized,
	KindDisabled:           http.StatusUnauthorized,
	KindLocked:             http.StatusTooManyRequests,
	KindPermissionDenied:   http.StatusForbidden,
	KindNotFound:           http.StatusNotFound,
	KindConflict:           http.StatusConflict,
	KindWrongState:         http.StatusBadRequest,
	KindKeyNotActive:       http.StatusBadRequest,
	KindUnknownSigner:      http.StatusBadRequest,
	KindSignatureInvalid:   http.StatusBadRequest,
	KindAlreadyRotated:     http.StatusBadRequest,
	KindChainBroken:        http.StatusBadRequest,
	KindHashMismatch:       http.StatusBadRequest,
	KindGenesisPrevHash:    http.StatusBadRequest,
	KindStorageFailure:     http.StatusInternalServerError,
	KindEncoding:           http.StatusBadRequest,
	KindInternal:           http.StatusInternalServerError,
}

// StatusFor returns the HTTP status code for err, defaulting to 500 for
// anything not wrapped in an *Error (an uncaught condition, per spec.md
// §7 "Internal").
func StatusFor(err error) int {
	var e *Error
	if !asError(err, &e) {
		return http.StatusInternalServerError
	}
	if status, ok := statusByKind[e.Kind]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// problemDetail is an RFC 7807 Problem Details response body.
type problemDetail struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// WriteJSON writes err as an RFC 7807 problem+json response: the Kind as
// title, the error's message as detail, and for SessionInvalid and
// Disabled the same message again as `reason` (e.g. "session revoked").
// WriteJSON rewrites no Kind itself. Login failures arrive already
// coarsened by pkg/session.Login, which reports an unknown operator and a
// wrong passphrase alike as InvalidCredentials and passes Locked and
// Disabled through; its LOGIN_FAILED audit entry records the operator and
// source address, not which of those causes applied.
func WriteJSON(w http.ResponseWriter, err error) {
	var e *Error
	if !asError(err, &e) {
		e = &Error{Kind: KindInternal, Message: "internal error"}
	}

	status := StatusFor(e)
	body := problemDetail{
		Type:   "https://munin.internal/errors/" + string(e.Kind),
		Title:  string(e.Kind),
		Status: status,
		Detail: e.Message,
	}
	if e.Kind == KindSessionInvalid || e.Kind == KindDisabled {
		body.Reason = e.Message
	}

	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
