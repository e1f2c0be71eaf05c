package clinicguard

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/MrEthical07/clinicguard/store"
)

func TestKindOfAndPublic(t *testing.T) {
	tests := []struct {
		err    error
		kind   Kind
		status int
	}{
		{nil, KindNone, http.StatusOK},
		{ErrUnauthenticated, KindUnauthenticated, http.StatusUnauthorized},
		{ErrMalformedToken, KindToken, http.StatusUnauthorized},
		{fmt.Errorf("%w: unknown kid", ErrInvalidSignature), KindToken, http.StatusUnauthorized},
		{ErrExpiredClaim, KindToken, http.StatusUnauthorized},
		{fmt.Errorf("%w: tenant", ErrPolicyViolation), KindToken, http.StatusUnauthorized},
		{ErrInsecureTransport, KindTransport, http.StatusUnauthorized},
		{ErrRevoked, KindRevoked, http.StatusUnauthorized},
		{ErrSessionExpired, KindSession, http.StatusUnauthorized},
		{ErrOriginMismatch, KindSession, http.StatusUnauthorized},
		{ErrSessionPrincipal, KindSession, http.StatusUnauthorized},
		{ErrStepUpRequired, KindStepUp, http.StatusUnauthorized},
		{ErrRateLimited, KindRateLimited, http.StatusTooManyRequests},
		{ErrTooManySessions, KindSessionCap, http.StatusTooManyRequests},
		{ErrInsufficientPermission, KindPermission, http.StatusForbidden},
		{ErrBindingMismatch, KindPermission, http.StatusForbidden},
		{ErrConsentRequired, KindConsent, http.StatusForbidden},
		{ErrUpstreamTimeout, KindUpstream, http.StatusServiceUnavailable},
		{fmt.Errorf("%w: dial tcp", ErrBackendUnavailable), KindUpstream, http.StatusServiceUnavailable},
		{store.ErrContention, KindUpstream, http.StatusServiceUnavailable},
		{errors.New("boom"), KindInternal, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		if got := KindOf(tt.err); got != tt.kind {
			t.Fatalf("KindOf(%v) = %v, want %v", tt.err, got, tt.kind)
		}
		if code, _ := Public(tt.err); code != tt.status {
			t.Fatalf("Public(%v) = %d, want %d", tt.err, code, tt.status)
		}
	}
}

func TestPublicMessagesDoNotLeakCause(t *testing.T) {
	_, sig := Public(ErrInvalidSignature)
	_, exp := Public(ErrExpiredClaim)
	_, rev := Public(ErrRevoked)
	if sig != exp || exp != rev {
		t.Fatalf("token failures must share one message: %q %q %q", sig, exp, rev)
	}

	_, perm := Public(ErrInsufficientPermission)
	_, consent := Public(ErrConsentRequired)
	if perm != consent {
		t.Fatalf("denials must share one message: %q %q", perm, consent)
	}
}

func TestStepUpIsAlsoOriginMismatch(t *testing.T) {
	if !errors.Is(ErrStepUpRequired, ErrOriginMismatch) {
		t.Fatal("step-up must match origin mismatch")
	}
}
