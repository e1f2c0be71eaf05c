package middleware

import (
	"net"
	"net/http"
	"strings"

	"github.com/MrEthical07/clinicguard"
	"github.com/MrEthical07/clinicguard/permission"
	"github.com/MrEthical07/clinicguard/ratelimit"
	"github.com/google/uuid"
)

// HeaderRequestID carries the correlation id in both directions.
const HeaderRequestID = "X-Request-ID"

// Route describes what a guarded handler requires.
type Route struct {
	// Class selects the rate-limit policy; empty skips rate limiting.
	Class ratelimit.Class
	// Action is authorized when set. Resource builds its target from the
	// request; nil authorizes against the zero resource.
	Action   permission.Action
	Resource func(*http.Request) permission.Resource
	// RequireAuth rejects requests without a credential.
	RequireAuth bool
}

// Option customizes [Guard].
type Option func(*options)

type options struct {
	origin  func(*http.Request) string
	secure  func(*http.Request) bool
	onError func(http.ResponseWriter, *http.Request, error)
}

// WithOriginFunc overrides how the client address is derived. The default
// is the host part of RemoteAddr; deployments behind a proxy plug in their
// trusted header parsing here.
func WithOriginFunc(f func(*http.Request) string) Option {
	return func(o *options) { o.origin = f }
}

// WithSecureFunc overrides how TLS is detected. The default is r.TLS != nil.
func WithSecureFunc(f func(*http.Request) bool) Option {
	return func(o *options) { o.secure = f }
}

// WithErrorHandler replaces [WriteError] for rejected requests.
func WithErrorHandler(f func(http.ResponseWriter, *http.Request, error)) Option {
	return func(o *options) { o.onError = f }
}

// Guard enforces route on every request. Rejections are written as JSON
// errors; accepted requests reach next with the identity attached through
// [clinicguard.WithIdentity].
func Guard(engine *clinicguard.Engine, route Route, opts ...Option) func(http.Handler) http.Handler {
	o := options{
		origin: RemoteHost,
		secure: func(r *http.Request) bool { return r.TLS != nil },
		onError: func(w http.ResponseWriter, _ *http.Request, err error) {
			WriteError(w, err)
		},
	}
	for _, opt := range opts {
		opt(&o)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if engine == nil {
				o.onError(w, r, clinicguard.ErrUnauthenticated)
				return
			}

			var token string
			if h := r.Header.Get("Authorization"); h != "" {
				t, ok := bearerToken(h)
				if !ok {
					o.onError(w, r, clinicguard.ErrMalformedToken)
					return
				}
				token = t
			}

			sid, err := ReadSession(engine, r)
			if err != nil {
				o.onError(w, r, err)
				return
			}

			req := clinicguard.Request{
				Token:         token,
				Secure:        o.secure(r),
				Origin:        o.origin(r),
				UserAgent:     r.UserAgent(),
				SessionID:     sid,
				Class:         route.Class,
				Action:        route.Action,
				RequireAuth:   route.RequireAuth,
				CorrelationID: requestID(r),
			}
			if route.Resource != nil {
				req.Resource = route.Resource(r)
			}

			id, err := engine.Authenticate(r.Context(), req)
			if id.CorrelationID != "" {
				w.Header().Set(HeaderRequestID, id.CorrelationID)
			}
			if id.RateLimit != nil {
				SetRateLimitHeaders(w.Header(), *id.RateLimit)
			}
			if err != nil {
				o.onError(w, r, err)
				return
			}

			ctx := clinicguard.WithCorrelationID(r.Context(), id.CorrelationID)
			ctx = clinicguard.WithIdentity(ctx, id)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// Protect requires a credential and authorizes action.
func Protect(engine *clinicguard.Engine, class ratelimit.Class, action permission.Action, resource func(*http.Request) permission.Resource, opts ...Option) func(http.Handler) http.Handler {
	return Guard(engine, Route{Class: class, Action: action, Resource: resource, RequireAuth: true}, opts...)
}

// Public admits anonymous callers but still rate limits them and
// validates any credential they present.
func Public(engine *clinicguard.Engine, class ratelimit.Class, opts ...Option) func(http.Handler) http.Handler {
	return Guard(engine, Route{Class: class}, opts...)
}

// RemoteHost returns the host part of r.RemoteAddr.
func RemoteHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if len(value) < len(bearer) || !strings.EqualFold(value[:len(bearer)], bearer) {
		return "", false
	}

	token := strings.TrimSpace(value[len(bearer):])
	if token == "" {
		return "", false
	}

	return token, true
}

// requestID accepts a caller supplied correlation id only when it is a
// UUID so arbitrary text never reaches the audit trail.
func requestID(r *http.Request) string {
	v := r.Header.Get(HeaderRequestID)
	if v == "" {
		return ""
	}
	if _, err := uuid.Parse(v); err != nil {
		return ""
	}
	return v
}
