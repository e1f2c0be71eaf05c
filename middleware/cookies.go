package middleware

import (
	"crypto/subtle"
	"fmt"
	"net/http"
	"time"

	"github.com/MrEthical07/clinicguard"
	"github.com/MrEthical07/clinicguard/internal"
)

// Cookie and header names.
const (
	SessionCookie   = "__Host-session"
	CSRFCookie      = "csrf_token"
	SignatureCookie = "__Host-session-sig"
	CSRFHeader      = "X-CSRF-Token"
)

const csrfTokenBytes = 32

var (
	// ErrCookieSignature reports session cookies that were not issued
	// together by this engine.
	ErrCookieSignature = fmt.Errorf("%w: cookie signature", clinicguard.ErrSessionNotFound)
	// ErrCSRF reports a state-changing request without a matching
	// X-CSRF-Token header.
	ErrCSRF = fmt.Errorf("%w: csrf token mismatch", clinicguard.ErrInsufficientPermission)
)

// IssueSessionCookies writes the cookie trio for sessionID and returns the
// CSRF token the client must echo. maxAge of zero issues browser-session
// cookies.
func IssueSessionCookies(w http.ResponseWriter, engine *clinicguard.Engine, sessionID string, maxAge time.Duration) (string, error) {
	csrf, err := internal.NewToken(csrfTokenBytes)
	if err != nil {
		return "", err
	}
	secs := int(maxAge / time.Second)

	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    sessionID,
		Path:     "/",
		MaxAge:   secs,
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteStrictMode,
	})
	http.SetCookie(w, &http.Cookie{
		Name:     CSRFCookie,
		Value:    csrf,
		Path:     "/",
		MaxAge:   secs,
		Secure:   true,
		SameSite: http.SameSiteStrictMode,
	})
	http.SetCookie(w, &http.Cookie{
		Name:     SignatureCookie,
		Value:    engine.SignSessionCookie(sessionID, csrf),
		Path:     "/",
		MaxAge:   secs,
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteStrictMode,
	})
	return csrf, nil
}

// ClearSessionCookies expires the cookie trio.
func ClearSessionCookies(w http.ResponseWriter) {
	for _, name := range []string{SessionCookie, CSRFCookie, SignatureCookie} {
		http.SetCookie(w, &http.Cookie{
			Name:     name,
			Value:    "",
			Path:     "/",
			MaxAge:   -1,
			HttpOnly: name != CSRFCookie,
			Secure:   true,
			SameSite: http.SameSiteStrictMode,
		})
	}
}

// ReadSession returns the session id carried by r's cookies or "" when
// there is none. The signature must match and, for state-changing
// methods, the CSRF header must equal the CSRF cookie.
func ReadSession(engine *clinicguard.Engine, r *http.Request) (string, error) {
	sc, err := r.Cookie(SessionCookie)
	if err != nil || sc.Value == "" {
		return "", nil
	}
	csrf := cookieValue(r, CSRFCookie)
	sig := cookieValue(r, SignatureCookie)
	if !engine.VerifySessionCookie(sc.Value, csrf, sig) {
		return "", ErrCookieSignature
	}

	if !safeMethod(r.Method) {
		got := r.Header.Get(CSRFHeader)
		if got == "" || subtle.ConstantTimeCompare([]byte(got), []byte(csrf)) != 1 {
			return "", ErrCSRF
		}
	}
	return sc.Value, nil
}

func cookieValue(r *http.Request, name string) string {
	c, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return c.Value
}

func safeMethod(m string) bool {
	switch m {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace:
		return true
	}
	return false
}
