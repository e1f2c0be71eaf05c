package middleware

import (
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/MrEthical07/clinicguard"
	"github.com/MrEthical07/clinicguard/ratelimit"
)

// Rate-limit response headers.
const (
	HeaderLimit      = "X-RateLimit-Limit"
	HeaderRemaining  = "X-RateLimit-Remaining"
	HeaderReset      = "X-RateLimit-Reset"
	HeaderRetryAfter = "Retry-After"
)

// SetRateLimitHeaders writes the limit, remaining budget and reset time of
// rr. Dual-window results also get -Short and -Long variants; the plain
// headers describe the binding window.
func SetRateLimitHeaders(h http.Header, rr clinicguard.RateLimitResult) {
	writeDecision(h, "", rr.Decision)
	if rr.Dual != nil {
		writeDecision(h, "-Short", rr.Dual.Short)
		writeDecision(h, "-Long", rr.Dual.Long)
	}
	if !rr.Allowed {
		h.Set(HeaderRetryAfter, strconv.FormatInt(retrySeconds(rr.Decision.RetryAfter), 10))
	}
}

func writeDecision(h http.Header, suffix string, d ratelimit.Decision) {
	h.Set(HeaderLimit+suffix, strconv.Itoa(d.Limit))
	h.Set(HeaderRemaining+suffix, strconv.Itoa(d.Remaining))
	if !d.ResetAt.IsZero() {
		h.Set(HeaderReset+suffix, strconv.FormatInt(int64(math.Ceil(float64(d.ResetAt.UnixNano())/float64(time.Second))), 10))
	}
}

// retrySeconds rounds up so clients never retry early.
func retrySeconds(d time.Duration) int64 {
	if d <= 0 {
		return 1
	}
	return int64(math.Ceil(d.Seconds()))
}
