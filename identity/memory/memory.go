// Package memory provides in-process identity collaborators.
package memory

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/MrEthical07/clinicguard/permission"
)

type assignmentKey struct {
	tenant, professional, subject string
}

// Assignment is the care relationship between a professional and a data
// subject. Until zero means open ended.
type Assignment struct {
	TenantID       string
	ProfessionalID string
	SubjectID      string
	From           time.Time
	Until          time.Time
}

func (a Assignment) activeAt(now time.Time) bool {
	if !a.From.IsZero() && now.Before(a.From) {
		return false
	}
	return a.Until.IsZero() || now.Before(a.Until)
}

// Assignments is a concurrency-safe [permission.AssignmentSource].
type Assignments struct {
	mu  sync.RWMutex
	m   map[assignmentKey]Assignment
	now func() time.Time
}

// NewAssignments returns an empty source. A nil now selects time.Now.
func NewAssignments(now func() time.Time) *Assignments {
	if now == nil {
		now = time.Now
	}
	return &Assignments{m: make(map[assignmentKey]Assignment), now: now}
}

// Assign records or replaces an assignment.
func (s *Assignments) Assign(a Assignment) error {
	if a.TenantID == "" || a.ProfessionalID == "" || a.SubjectID == "" {
		return errors.New("assignment requires tenant, professional and subject")
	}
	s.mu.Lock()
	s.m[assignmentKey{a.TenantID, a.ProfessionalID, a.SubjectID}] = a
	s.mu.Unlock()
	return nil
}

// End closes an assignment at the current time.
func (s *Assignments) End(tenantID, professionalID, subjectID string) {
	k := assignmentKey{tenantID, professionalID, subjectID}
	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := s.m[k]; ok {
		a.Until = s.now()
		s.m[k] = a
	}
}

func (s *Assignments) ActiveAssignment(ctx context.Context, tenantID, professionalID, subjectID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.RLock()
	a, ok := s.m[assignmentKey{tenantID, professionalID, subjectID}]
	s.mu.RUnlock()
	return ok && a.activeAt(s.now()), nil
}

type consentKey struct {
	tenant, subject string
	purpose         permission.Purpose
}

// Consents is a concurrency-safe [permission.ConsentSource].
type Consents struct {
	mu  sync.RWMutex
	m   map[consentKey]permission.Consent
	now func() time.Time
}

// NewConsents returns an empty source. A nil now selects time.Now.
func NewConsents(now func() time.Time) *Consents {
	if now == nil {
		now = time.Now
	}
	return &Consents{m: make(map[consentKey]permission.Consent), now: now}
}

// Record grants consent for purpose, valid for ttl (zero never expires).
// Recording again replaces a previous withdrawal.
func (s *Consents) Record(tenantID, subjectID string, purpose permission.Purpose, ttl time.Duration) permission.Consent {
	now := s.now()
	c := permission.Consent{Purpose: purpose, Granted: true, GrantedAt: now}
	if ttl > 0 {
		c.ExpiresAt = now.Add(ttl)
	}
	s.mu.Lock()
	s.m[consentKey{tenantID, subjectID, purpose}] = c
	s.mu.Unlock()
	return c
}

// Withdraw marks a recorded consent as withdrawn. It reports whether a
// consent existed.
func (s *Consents) Withdraw(tenantID, subjectID string, purpose permission.Purpose) bool {
	k := consentKey{tenantID, subjectID, purpose}
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.m[k]
	if !ok {
		return false
	}
	c.WithdrawnAt = s.now()
	s.m[k] = c
	return true
}

func (s *Consents) Consent(ctx context.Context, tenantID, subjectID string, purpose permission.Purpose) (permission.Consent, bool, error) {
	if err := ctx.Err(); err != nil {
		return permission.Consent{}, false, err
	}
	s.mu.RLock()
	c, ok := s.m[consentKey{tenantID, subjectID, purpose}]
	s.mu.RUnlock()
	return c, ok, nil
}

// Bindings is a concurrency-safe [permission.BindingSource].
type Bindings struct {
	mu sync.RWMutex
	m  map[string]permission.Principal
}

func NewBindings() *Bindings {
	return &Bindings{m: make(map[string]permission.Principal)}
}

func bindingKey(tenantID, principalID string) string {
	return tenantID + "\x00" + principalID
}

// Put stores the binding of p.
func (b *Bindings) Put(p permission.Principal) error {
	if p.ID == "" {
		return errors.New("binding requires a principal id")
	}
	p.Consents = maps.Clone(p.Consents)
	b.mu.Lock()
	b.m[bindingKey(p.TenantID, p.ID)] = p
	b.mu.Unlock()
	return nil
}

// Delete removes a binding.
func (b *Bindings) Delete(tenantID, principalID string) {
	b.mu.Lock()
	delete(b.m, bindingKey(tenantID, principalID))
	b.mu.Unlock()
}

func (b *Bindings) Binding(ctx context.Context, tenantID, principalID string) (permission.Principal, error) {
	if err := ctx.Err(); err != nil {
		return permission.Principal{}, err
	}
	b.mu.RLock()
	p, ok := b.m[bindingKey(tenantID, principalID)]
	b.mu.RUnlock()
	if !ok {
		return permission.Principal{}, fmt.Errorf("%w: %s", permission.ErrUnknownPrincipal, principalID)
	}
	p.Consents = maps.Clone(p.Consents)
	return p, nil
}

var (
	_ permission.AssignmentSource = (*Assignments)(nil)
	_ permission.ConsentSource    = (*Consents)(nil)
	_ permission.BindingSource    = (*Bindings)(nil)
)
