package session

import (
	"maps"
	"net/netip"
	"time"
)

// Session is the server-side state behind a session id.
//
// Sessions are copied by value out of the store; callers never see the
// stored instance.
type Session struct {
	ID          string `json:"id"`
	PrincipalID string `json:"principal_id"`
	TenantID    string `json:"tenant_id,omitempty"`
	Role        string `json:"role,omitempty"`

	CreatedAt      time.Time `json:"created_at"`
	LastActivityAt time.Time `json:"last_activity_at"`

	Origin    Origin   `json:"origin"`
	AgentHash [32]byte `json:"agent_hash"`

	IdleTimeout     time.Duration `json:"idle_timeout"`
	AbsoluteTimeout time.Duration `json:"absolute_timeout"`

	// Slot is the per-principal sequence number assigned at creation.
	Slot     uint64            `json:"slot"`
	Elevated bool              `json:"elevated,omitempty"`
	Values   map[string]string `json:"values,omitempty"`
}

// Origin is the network origin a session is bound to. A zero Addr means
// the session is not origin-bound.
type Origin struct {
	Addr    netip.Addr `json:"addr"`
	Country string     `json:"country,omitempty"`
}

// Bound reports whether the origin carries an address.
func (o Origin) Bound() bool {
	return o.Addr.IsValid()
}

// IdleDeadline is the instant the session expires without further activity.
func (s Session) IdleDeadline() time.Time {
	return s.LastActivityAt.Add(s.IdleTimeout)
}

// AbsoluteDeadline is the instant the session expires regardless of activity.
func (s Session) AbsoluteDeadline() time.Time {
	return s.CreatedAt.Add(s.AbsoluteTimeout)
}

// Expired reports whether now is past either deadline. A session is still
// valid at the deadline instant itself.
func (s Session) Expired(now time.Time) bool {
	return now.After(s.IdleDeadline()) || now.After(s.AbsoluteDeadline())
}

func (s Session) clone() Session {
	s.Values = maps.Clone(s.Values)
	return s
}

// Metadata is supplied by the caller when a session is created.
type Metadata struct {
	TenantID  string
	Role      string
	Origin    string
	UserAgent string
	Values    map[string]string
}

// Info is returned by a successful validation.
type Info struct {
	Session
	ExpiresAt time.Time
}

func newInfo(s Session) Info {
	exp := s.IdleDeadline()
	if abs := s.AbsoluteDeadline(); abs.Before(exp) {
		exp = abs
	}
	return Info{Session: s.clone(), ExpiresAt: exp}
}

// Index lists the sessions a principal holds. It is stored separately
// from the sessions and is the source of truth for the concurrency cap.
type Index struct {
	Next  uint64 `json:"next"`
	Slots []Slot `json:"slots,omitempty"`
}

// Slot is one entry of an [Index].
type Slot struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	Seq       uint64    `json:"seq"`
}
