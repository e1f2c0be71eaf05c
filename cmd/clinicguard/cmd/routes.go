package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/MrEthical07/clinicguard"
	"github.com/MrEthical07/clinicguard/identity/memory"
	"github.com/MrEthical07/clinicguard/middleware"
	"github.com/MrEthical07/clinicguard/permission"
	"github.com/MrEthical07/clinicguard/ratelimit"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// consentStore records and withdraws consent grants.
type consentStore interface {
	RecordConsent(ctx context.Context, tenantID, subjectID string, purpose permission.Purpose, ttl time.Duration) error
	WithdrawConsent(ctx context.Context, tenantID, subjectID string, purpose permission.Purpose) (bool, error)
}

// memoryConsents adapts the in-memory consent source.
type memoryConsents struct{ c *memory.Consents }

func (m memoryConsents) RecordConsent(_ context.Context, tenantID, subjectID string, purpose permission.Purpose, ttl time.Duration) error {
	m.c.Record(tenantID, subjectID, purpose, ttl)
	return nil
}

func (m memoryConsents) WithdrawConsent(_ context.Context, tenantID, subjectID string, purpose permission.Purpose) (bool, error) {
	return m.c.Withdraw(tenantID, subjectID, purpose), nil
}

type server struct {
	engine     *clinicguard.Engine
	log        *zap.Logger
	consents   consentStore
	metrics    http.Handler
	trustProxy bool
}

func (s *server) routes() http.Handler {
	r := chi.NewRouter()
	if s.trustProxy {
		r.Use(chimw.RealIP)
	}
	r.Use(chimw.Recoverer)
	r.Use(s.accessLog)

	opts := []middleware.Option{middleware.WithSecureFunc(s.secure)}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics)
	}

	r.Route("/v1", func(r chi.Router) {
		r.With(middleware.Public(s.engine, ratelimit.ClassGeneral, opts...)).Get("/whoami", s.whoami)

		r.With(
			s.loginThrottle,
			middleware.Guard(s.engine, middleware.Route{RequireAuth: true}, append(opts, middleware.WithErrorHandler(s.loginFailed))...),
		).Post("/sessions", s.createSession)
		r.With(middleware.Public(s.engine, ratelimit.ClassGeneral, opts...)).Delete("/sessions/current", s.removeSession)
		r.With(middleware.Protect(s.engine, ratelimit.ClassGeneral, "", nil, opts...)).Post("/logout-everywhere", s.logoutEverywhere)

		r.Route("/tenants/{tenantID}", func(r chi.Router) {
			r.With(middleware.Protect(s.engine, ratelimit.ClassGeneral, permission.ActionAuditRead, tenantResource, opts...)).
				Get("/security-report", s.securityReport)

			r.Route("/subjects/{subjectID}", func(r chi.Router) {
				r.With(middleware.Protect(s.engine, ratelimit.ClassSensitive, permission.ActionRecordRead, subjectResource("medical_record"), opts...)).
					Get("/records", s.readRecords)
				r.With(middleware.Protect(s.engine, ratelimit.ClassChat, permission.ActionAssistantChat, subjectResource("assistant"), opts...)).
					Post("/assistant", s.assistant)
				r.With(middleware.Protect(s.engine, ratelimit.ClassSensitive, permission.ActionProfileWrite, subjectResource("profile"), opts...)).
					Put("/consents/{purpose}", s.recordConsent)
				r.With(middleware.Protect(s.engine, ratelimit.ClassSensitive, permission.ActionProfileWrite, subjectResource("profile"), opts...)).
					Delete("/consents/{purpose}", s.withdrawConsent)
			})
		})
	})
	return r
}

// secure trusts X-Forwarded-Proto only behind a trusted proxy.
func (s *server) secure(r *http.Request) bool {
	if r.TLS != nil {
		return true
	}
	return s.trustProxy && r.Header.Get("X-Forwarded-Proto") == "https"
}

func (s *server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		s.log.Info("request",
			zap.String("method", r.Method),
			zap.String("route", route),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", ww.Header().Get(middleware.HeaderRequestID)),
		)
	})
}

func tenantResource(r *http.Request) permission.Resource {
	tenant := chi.URLParam(r, "tenantID")
	return permission.Resource{Type: "tenant", ID: tenant, TenantID: tenant}
}

func subjectResource(kind string) func(*http.Request) permission.Resource {
	return func(r *http.Request) permission.Resource {
		subject := chi.URLParam(r, "subjectID")
		return permission.Resource{
			Type:      kind,
			ID:        subject,
			TenantID:  chi.URLParam(r, "tenantID"),
			SubjectID: subject,
		}
	}
}

func loginKey(r *http.Request) string {
	return ratelimit.Key("", middleware.RemoteHost(r))
}

// loginThrottle refuses session creation from an origin that spent its
// failure budget.
func (s *server) loginThrottle(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		d, err := s.engine.LoginBlocked(r.Context(), loginKey(r))
		if err != nil {
			middleware.WriteError(w, err)
			return
		}
		if !d.Allowed {
			middleware.SetRateLimitHeaders(w.Header(), clinicguard.RateLimitResult{Class: ratelimit.ClassAuth, Decision: d})
			middleware.WriteError(w, clinicguard.ErrRateLimited)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *server) loginFailed(w http.ResponseWriter, r *http.Request, err error) {
	kind := clinicguard.KindOf(err)
	if kind != clinicguard.KindRateLimited && kind != clinicguard.KindUpstream {
		d, recErr := s.engine.RecordLoginAttempt(r.Context(), clinicguard.LoginAttempt{
			Key:    loginKey(r),
			Origin: middleware.RemoteHost(r),
			Reason: kind.String(),
		})
		if recErr == nil && !d.Allowed {
			middleware.SetRateLimitHeaders(w.Header(), clinicguard.RateLimitResult{Class: ratelimit.ClassAuth, Decision: d})
		}
	}
	middleware.WriteError(w, err)
}

func (s *server) whoami(w http.ResponseWriter, r *http.Request) {
	id, _ := clinicguard.IdentityFromContext(r.Context())
	out := map[string]any{"authenticated": id.Authenticated}
	if id.Authenticated {
		out["subject"] = id.Claims.Subject
		out["role"] = id.Claims.Role
		out["tenant"] = id.Claims.TenantID
		out["expires_at"] = id.Claims.ExpiresAt.UTC()
	}
	if id.Session != nil {
		out["session"] = map[string]any{
			"principal":  id.Session.PrincipalID,
			"tenant":     id.Session.TenantID,
			"created_at": id.Session.CreatedAt.UTC(),
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *server) createSession(w http.ResponseWriter, r *http.Request) {
	id, _ := clinicguard.IdentityFromContext(r.Context())
	ctx := r.Context()

	sid, err := s.engine.CreateSession(ctx, id.Claims.Subject, clinicguard.SessionMetadata{
		TenantID:  id.Claims.TenantID,
		Role:      id.Claims.Role,
		Origin:    middleware.RemoteHost(r),
		UserAgent: r.UserAgent(),
	})
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	if _, err := s.engine.RecordLoginAttempt(ctx, clinicguard.LoginAttempt{
		Key:         loginKey(r),
		PrincipalID: id.Claims.Subject,
		TenantID:    id.Claims.TenantID,
		Origin:      middleware.RemoteHost(r),
		Success:     true,
	}); err != nil {
		s.log.Warn("login attempt not recorded", zap.Error(err))
	}

	csrf, err := middleware.IssueSessionCookies(w, s.engine, sid, s.engine.Config().Session.AbsoluteTimeout)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"csrf_token": csrf})
}

func (s *server) removeSession(w http.ResponseWriter, r *http.Request) {
	id, _ := clinicguard.IdentityFromContext(r.Context())
	if id.Session == nil {
		middleware.WriteError(w, clinicguard.ErrSessionNotFound)
		return
	}
	if err := s.engine.RemoveSession(r.Context(), id.Session.ID); err != nil && !errors.Is(err, clinicguard.ErrSessionNotFound) {
		middleware.WriteError(w, err)
		return
	}
	middleware.ClearSessionCookies(w)
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) logoutEverywhere(w http.ResponseWriter, r *http.Request) {
	id, _ := clinicguard.IdentityFromContext(r.Context())
	n, err := s.engine.LogoutEverywhere(r.Context(), id.Claims.Subject, id.Claims.TenantID)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	middleware.ClearSessionCookies(w)
	writeJSON(w, http.StatusOK, map[string]int{"sessions_removed": n})
}

func (s *server) securityReport(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.SecurityReport())
}

func (s *server) readRecords(w http.ResponseWriter, r *http.Request) {
	id, _ := clinicguard.IdentityFromContext(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"tenant":  chi.URLParam(r, "tenantID"),
		"subject": chi.URLParam(r, "subjectID"),
		"rule":    id.Decision.RuleID,
		"records": []any{},
	})
}

func (s *server) assistant(w http.ResponseWriter, r *http.Request) {
	id, _ := clinicguard.IdentityFromContext(r.Context())
	writeJSON(w, http.StatusAccepted, map[string]any{
		"accepted":   true,
		"conditions": id.Decision.Conditions,
	})
}

func parsePurpose(s string) (permission.Purpose, bool) {
	switch p := permission.Purpose(s); p {
	case permission.PurposeDataProcessing, permission.PurposeMarketing, permission.PurposeAIInteraction:
		return p, true
	}
	return "", false
}

type consentRequest struct {
	TTL string `json:"ttl"`
}

func (s *server) recordConsent(w http.ResponseWriter, r *http.Request) {
	purpose, ok := parsePurpose(chi.URLParam(r, "purpose"))
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown consent purpose"})
		return
	}
	var req consentRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<10)).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid body"})
			return
		}
	}
	var ttl time.Duration
	if req.TTL != "" {
		d, err := time.ParseDuration(req.TTL)
		if err != nil || d < 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid ttl"})
			return
		}
		ttl = d
	}

	tenant, subject := chi.URLParam(r, "tenantID"), chi.URLParam(r, "subjectID")
	if err := s.consents.RecordConsent(r.Context(), tenant, subject, purpose, ttl); err != nil {
		s.log.Error("record consent", zap.Error(err))
		middleware.WriteError(w, clinicguard.ErrBackendUnavailable)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) withdrawConsent(w http.ResponseWriter, r *http.Request) {
	purpose, ok := parsePurpose(chi.URLParam(r, "purpose"))
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown consent purpose"})
		return
	}
	found, err := s.consents.WithdrawConsent(r.Context(), chi.URLParam(r, "tenantID"), chi.URLParam(r, "subjectID"), purpose)
	if err != nil {
		s.log.Error("withdraw consent", zap.Error(err))
		middleware.WriteError(w, clinicguard.ErrBackendUnavailable)
		return
	}
	if !found {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no active consent"})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
