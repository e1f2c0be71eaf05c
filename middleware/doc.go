// Package middleware adapts [clinicguard.Engine] to net/http.
//
// [Guard] reads the bearer token and the signed session cookies, runs
// [clinicguard.Engine.Authenticate] for the route, writes rate-limit
// headers and either rejects the request with a JSON error or passes the
// validated identity to the next handler through the request context.
//
// # Cookies
//
// A browser session travels in three cookies:
//
//   - __Host-session holds the session id (HttpOnly).
//   - csrf_token holds the anti-forgery token, readable by scripts.
//   - __Host-session-sig binds the two with an HMAC keyed by the engine.
//
// State-changing methods must echo csrf_token in the X-CSRF-Token header.
//
// This package makes no decisions of its own; every pass or reject comes
// from the engine.
package middleware
