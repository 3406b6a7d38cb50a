package relay

import (
	"errors"
	"net/http"
	"strings"
)

// Error kinds for request outcomes. Handlers map these to HTTP statuses;
// everything unrecognized is an internal error.
var (
	ErrAuthDenied          = errors.New("auth denied")
	ErrNotFound            = errors.New("not found")
	ErrBadRequest          = errors.New("bad request")
	ErrTimeout             = errors.New("request timed out")
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
)

// httpStatus maps an error kind to its HTTP status.
func httpStatus(err error) int {
	switch {
	case errors.Is(err, ErrAuthDenied):
		return http.StatusUnauthorized
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, ErrTimeout):
		return http.StatusRequestTimeout
	case errors.Is(err, ErrUpstreamUnavailable):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// peerErrorStatus maps a peer-reported error string to an HTTP status.
// Peers report plain strings; "not found" style messages become 404,
// everything else is a 400 on a validated request type.
func peerErrorStatus(errMsg string) int {
	m := strings.ToLower(errMsg)
	if strings.Contains(m, "not found") || strings.Contains(m, "no such") {
		return http.StatusNotFound
	}
	return http.StatusBadRequest
}

// outcome labels for metrics and the request log.
func outcomeFor(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrAuthDenied):
		return "auth_denied"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrBadRequest):
		return "bad_request"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrUpstreamUnavailable):
		return "upstream_unavailable"
	default:
		return "internal"
	}
}
