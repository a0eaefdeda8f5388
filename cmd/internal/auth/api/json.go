package authapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
)

// errCode is the machine-readable code in the {"error":{...}} envelope the
// dashboard scripts switch on.
type errCode string

const (
	codeInvalidRequest errCode = "invalid_request"
	codeRateLimited    errCode = "rate_limited"
	codeCrossOrigin    errCode = "cross_origin"
	codeSuperseded     errCode = "superseded"
	codeServerError    errCode = "server_error"
)

// status is the HTTP status each code is always sent with.
func (c errCode) status() int {
	switch c {
	case codeInvalidRequest:
		return http.StatusBadRequest
	case codeRateLimited:
		return http.StatusTooManyRequests
	case codeCrossOrigin:
		return http.StatusForbidden
	case codeSuperseded:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

var (
	errEmptyBody    = errors.New("empty request body")
	errTrailingData = errors.New("trailing data after login object")
)

type apiError struct {
	Code    errCode `json:"code"`
	Message string  `json:"message"`
	// RetryAfter mirrors the Retry-After header for scripts that cannot
	// read response headers.
	RetryAfter int64 `json:"retry_after_seconds,omitempty"`
}

type errorResponse struct {
	Error apiError `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code errCode, msg string) {
	writeJSON(w, code.status(), errorResponse{Error: apiError{Code: code, Message: msg}})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, maxBytes int64, dst any) error {
	if r.Body == nil || r.Body == http.NoBody {
		return errEmptyBody
	}
	defer func() { _ = r.Body.Close() }()

	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errEmptyBody
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return errTrailingData
	}
	return nil
}
