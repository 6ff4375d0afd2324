package models

import (
	"errors"
	"net/http"
)

// Request failure taxonomy. Handlers wrap these sentinels with request
// context via `fmt.Errorf("... [%w]", ...)` and map them back to HTTP
// statuses with `HTTPStatus`.
var (
	// ErrUnauthorized no or invalid identity
	ErrUnauthorized = errors.New("unauthorized")
	// ErrForbidden authenticated but not entitled
	ErrForbidden = errors.New("forbidden")
	// ErrNotFound course, video, or user absent
	ErrNotFound = errors.New("not found")
	// ErrBadRequest malformed path, body, or missing params
	ErrBadRequest = errors.New("bad request")
	// ErrTooManyRequests rate limit tripped
	ErrTooManyRequests = errors.New("too many requests")
	// ErrKeyNotFound no ciphertext in any keystore source
	ErrKeyNotFound = errors.New("key not found")
	// ErrUnwrapFailure KMS decrypt error or wrong-length plaintext
	ErrUnwrapFailure = errors.New("key unwrap failed")
	// ErrUpstreamError asset origin fetch failed
	ErrUpstreamError = errors.New("upstream error")
	// ErrUpstreamTimeout external call exceeded its deadline
	ErrUpstreamTimeout = errors.New("upstream timeout")
	// ErrInternal unexpected failure
	ErrInternal = errors.New("internal error")
)

/*
HTTPStatus map a request failure to the nearest HTTP status code

	@param err error - the failure
	@return HTTP status code
*/
func HTTPStatus(err error) int {
	switch {
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, ErrTooManyRequests):
		return http.StatusTooManyRequests
	case errors.Is(err, ErrKeyNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrUpstreamTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, ErrUpstreamError):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

/*
PublicMessage generic client-facing message for a request failure

No internal detail leaves the process through this path.

	@param err error - the failure
	@return client safe message
*/
func PublicMessage(err error) string {
	switch {
	case errors.Is(err, ErrUnauthorized):
		return "Unauthorized"
	case errors.Is(err, ErrForbidden):
		return "Forbidden"
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrKeyNotFound):
		return "Not found"
	case errors.Is(err, ErrBadRequest):
		return "Invalid request"
	case errors.Is(err, ErrTooManyRequests):
		return "Too many requests"
	case errors.Is(err, ErrUpstreamTimeout), errors.Is(err, ErrUpstreamError):
		return "Upstream error"
	default:
		return "Internal server error"
	}
}
