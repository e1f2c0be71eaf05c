package middleware

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/MrEthical07/clinicguard"
	"github.com/MrEthical07/clinicguard/ratelimit"
)

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Message string `json:"message"`
	Status  int    `json:"status"`
}

// WriteError writes err as {"error":{"message":...,"status":...}} using
// the client-safe mapping of [clinicguard.Public]. Every 429 carries
// Retry-After: the wait held by a [ratelimit.LimitError] when err has one,
// else one second.
func WriteError(w http.ResponseWriter, err error) {
	status, msg := clinicguard.Public(err)
	switch status {
	case http.StatusOK:
		status, msg = http.StatusInternalServerError, "internal error"
	case http.StatusUnauthorized:
		w.Header().Set("WWW-Authenticate", `Bearer realm="clinicguard"`)
	case http.StatusTooManyRequests:
		if w.Header().Get(HeaderRetryAfter) == "" {
			wait, _ := ratelimit.RetryAfter(err)
			w.Header().Set(HeaderRetryAfter, strconv.FormatInt(retrySeconds(wait), 10))
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorBody{Error: errorDetail{Message: msg, Status: status}})
}
