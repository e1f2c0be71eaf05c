package session

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"slices"
	"strings"
	"time"

	"github.com/MrEthical07/clinicguard/internal"
	"github.com/MrEthical07/clinicguard/store"
)

// CapPolicy decides what Create does when a principal is at the cap.
type CapPolicy int

const (
	// CapEvictOldest removes the principal's oldest session.
	CapEvictOldest CapPolicy = iota
	// CapReject fails with [ErrTooManySessions].
	CapReject
)

// UnmarshalText accepts "evict_oldest" or "reject".
func (p *CapPolicy) UnmarshalText(b []byte) error {
	switch strings.ToLower(string(b)) {
	case "evict_oldest", "":
		*p = CapEvictOldest
	case "reject":
		*p = CapReject
	default:
		return fmt.Errorf("unknown session cap policy %q", string(b))
	}
	return nil
}

// AnomalyPolicy decides what Validate does on an origin or fingerprint
// anomaly.
type AnomalyPolicy int

const (
	// AnomalyReject terminates the session.
	AnomalyReject AnomalyPolicy = iota
	// AnomalyStepUp keeps the session untouched and asks for
	// re-authentication.
	AnomalyStepUp
)

// UnmarshalText accepts "reject" or "step_up".
func (p *AnomalyPolicy) UnmarshalText(b []byte) error {
	switch strings.ToLower(string(b)) {
	case "reject", "":
		*p = AnomalyReject
	case "step_up", "stepup":
		*p = AnomalyStepUp
	default:
		return fmt.Errorf("unknown session anomaly policy %q", string(b))
	}
	return nil
}

// Config controls session lifetimes and bindings.
type Config struct {
	IdleTimeout     time.Duration  `yaml:"idle_timeout"`
	AbsoluteTimeout time.Duration  `yaml:"absolute_timeout"`
	MaxConcurrent   int            `yaml:"max_concurrent"`
	CapPolicy       CapPolicy      `yaml:"cap_policy"`
	Tolerance       Tolerance      `yaml:"tolerance"`
	Anomaly         AnomalyPolicy  `yaml:"anomaly"`
	BindAgent       bool           `yaml:"bind_agent"`
	CarrierPrefixes []netip.Prefix `yaml:"carrier_prefixes"`
}

// DefaultConfig returns conservative defaults for clinical workloads.
func DefaultConfig() Config {
	return Config{
		IdleTimeout:     30 * time.Minute,
		AbsoluteTimeout: 12 * time.Hour,
		MaxConcurrent:   5,
		CapPolicy:       CapEvictOldest,
		Tolerance:       ToleranceNetwork,
		Anomaly:         AnomalyReject,
		BindAgent:       true,
		CarrierPrefixes: slices.Clone(DefaultCarrierPrefixes),
	}
}

// Validate reports configuration errors.
func (c Config) Validate() error {
	if c.IdleTimeout <= 0 {
		return errors.New("session idle timeout must be > 0")
	}
	if c.AbsoluteTimeout < c.IdleTimeout {
		return errors.New("session absolute timeout must be >= idle timeout")
	}
	if c.MaxConcurrent <= 0 {
		return errors.New("session max concurrent must be > 0")
	}
	if c.Tolerance < ToleranceExact || c.Tolerance > ToleranceCountry {
		return errors.New("session origin tolerance is invalid")
	}
	for _, p := range c.CarrierPrefixes {
		if !p.IsValid() {
			return errors.New("session carrier prefix is invalid")
		}
	}
	return nil
}

// Option configures a [Manager].
type Option func(*Manager)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithGeoResolver enables country resolution for [ToleranceCountry].
func WithGeoResolver(g GeoResolver) Option {
	return func(m *Manager) { m.origins.geo = g }
}

// Manager owns the session lifecycle. Sessions and per-principal indexes
// live in separate stores so either can be process-local or shared.
type Manager struct {
	sessions store.Store[Session]
	index    store.Store[Index]
	cfg      Config
	origins  originMatcher
	now      func() time.Time
}

const (
	sessionPrefix = "s:"
	indexPrefix   = "i:"
)

func sessionKey(id string) string        { return sessionPrefix + id }
func indexKey(principalID string) string { return indexPrefix + principalID }

// NewManager validates cfg and returns a manager over the given stores.
func NewManager(sessions store.Store[Session], index store.Store[Index], cfg Config, opts ...Option) (*Manager, error) {
	if sessions == nil || index == nil {
		return nil, errors.New("session stores are required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	m := &Manager{
		sessions: sessions,
		index:    index,
		cfg:      cfg,
		origins:  originMatcher{tolerance: cfg.Tolerance, carriers: cfg.CarrierPrefixes},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Config returns the active configuration.
func (m *Manager) Config() Config {
	return m.cfg
}

// Create starts a session for principalID and returns its id. When the
// principal is at the cap the oldest session is evicted, or the call fails
// with [ErrTooManySessions] under [CapReject].
func (m *Manager) Create(ctx context.Context, principalID string, md Metadata) (string, error) {
	if principalID == "" {
		return "", errors.New("session principal id is required")
	}
	now := m.now()

	var origin Origin
	if md.Origin != "" {
		addr, err := ParseOrigin(md.Origin)
		if err != nil {
			return "", err
		}
		origin = Origin{Addr: addr, Country: m.origins.country(ctx, addr)}
	}

	sid, err := internal.NewSessionID()
	if err != nil {
		return "", err
	}
	s := Session{
		ID:              sid.String(),
		PrincipalID:     principalID,
		TenantID:        md.TenantID,
		Role:            md.Role,
		CreatedAt:       now,
		LastActivityAt:  now,
		Origin:          origin,
		IdleTimeout:     m.cfg.IdleTimeout,
		AbsoluteTimeout: m.cfg.AbsoluteTimeout,
		Values:          cloneValues(md.Values),
	}
	if m.cfg.BindAgent {
		s.AgentHash = internal.HashBindingValue(md.UserAgent)
	}

	reserved, _, err := store.Update[Index](ctx, m.index, indexKey(principalID), 0, func(cur Index, _ bool) (Index, bool, error) {
		cur.Next++
		return cur, true, nil
	})
	if err != nil {
		return "", err
	}
	s.Slot = reserved.Next

	// The session must exist before it is indexed: deadSlots treats an
	// indexed id without a session as dead.
	if _, loaded, err := m.sessions.GetOrInit(ctx, sessionKey(s.ID), s, m.retention()); err != nil {
		return "", err
	} else if loaded {
		return "", errors.New("session id collision")
	}

	dead, err := m.deadSlots(ctx, principalID, now)
	if err != nil {
		_ = m.sessions.Delete(ctx, sessionKey(s.ID))
		return "", err
	}

	var evicted []string
	_, _, err = store.Update[Index](ctx, m.index, indexKey(principalID), 0, func(cur Index, _ bool) (Index, bool, error) {
		evicted = evicted[:0]
		next := Index{Next: cur.Next}
		for _, slot := range cur.Slots {
			if _, gone := dead[slot.ID]; !gone {
				next.Slots = append(next.Slots, slot)
			}
		}
		for len(next.Slots) >= m.cfg.MaxConcurrent {
			if m.cfg.CapPolicy == CapReject {
				return cur, true, ErrTooManySessions
			}
			oldest := oldestSlot(next.Slots)
			evicted = append(evicted, next.Slots[oldest].ID)
			next.Slots = slices.Delete(next.Slots, oldest, oldest+1)
		}
		next.Slots = append(next.Slots, Slot{ID: s.ID, CreatedAt: now, Seq: s.Slot})
		return next, true, nil
	})
	if err != nil {
		_ = m.sessions.Delete(ctx, sessionKey(s.ID))
		return "", err
	}

	for _, id := range evicted {
		if err := m.sessions.Delete(ctx, sessionKey(id)); err != nil {
			return s.ID, err
		}
	}
	return s.ID, nil
}

// retention is the store TTL of a session record. Records outlive the
// absolute deadline by one second; [Session.Expired] decides validity.
func (m *Manager) retention() time.Duration {
	return m.cfg.AbsoluteTimeout + time.Second
}

// Validate checks the session against its timeouts and bindings and, on
// success, records the activity in the same atomic update.
func (m *Manager) Validate(ctx context.Context, id, origin, agent string) (Info, error) {
	if id == "" {
		return Info{}, ErrSessionNotFound
	}
	now := m.now()

	cur, _ := ParseOrigin(origin)
	country := m.origins.country(ctx, cur)
	agentHash := internal.HashBindingValue(agent)

	var (
		out       Info
		outcome   error
		principal string
	)
	_, _, err := store.Update[Session](ctx, m.sessions, sessionKey(id), m.retention(), func(s Session, exists bool) (Session, bool, error) {
		outcome = nil
		if !exists {
			return s, false, ErrSessionNotFound
		}
		principal = s.PrincipalID
		if s.Expired(now) {
			outcome = ErrSessionExpired
			return s, false, nil
		}
		if !m.origins.allows(s.Origin, cur, country) || !agentMatches(s.AgentHash, agentHash) {
			if m.cfg.Anomaly == AnomalyStepUp {
				return s, true, ErrStepUpRequired
			}
			outcome = ErrOriginMismatch
			return s, false, nil
		}
		s.LastActivityAt = now
		out = newInfo(s)
		return s, true, nil
	})
	if err != nil {
		return Info{}, err
	}
	if outcome != nil {
		_ = m.unindex(ctx, principal, id)
		return Info{}, outcome
	}
	return out, nil
}

// Regenerate moves the session to a fresh id. The old id stops working
// before the new id is returned. CreatedAt is preserved.
func (m *Manager) Regenerate(ctx context.Context, oldID string) (string, error) {
	return m.regenerate(ctx, oldID, false)
}

// Elevate regenerates the session and marks it elevated. Call it after a
// successful re-authentication.
func (m *Manager) Elevate(ctx context.Context, oldID string) (string, error) {
	return m.regenerate(ctx, oldID, true)
}

func (m *Manager) regenerate(ctx context.Context, oldID string, elevate bool) (string, error) {
	if oldID == "" {
		return "", ErrSessionNotFound
	}
	for attempt := 0; attempt < store.MaxUpdateRetries; attempt++ {
		now := m.now()
		e, err := m.sessions.Get(ctx, sessionKey(oldID))
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return "", ErrSessionNotFound
			}
			return "", err
		}
		old := e.Value
		if old.Expired(now) {
			if _, err := m.sessions.CompareAndDelete(ctx, sessionKey(oldID), e.Version); err != nil {
				return "", err
			}
			_ = m.unindex(ctx, old.PrincipalID, oldID)
			return "", ErrSessionExpired
		}

		sid, err := internal.NewSessionID()
		if err != nil {
			return "", err
		}
		next := old.clone()
		next.ID = sid.String()
		next.LastActivityAt = now
		if elevate {
			next.Elevated = true
		}

		if _, loaded, err := m.sessions.GetOrInit(ctx, sessionKey(next.ID), next, m.retention()); err != nil {
			return "", err
		} else if loaded {
			continue
		}

		ok, err := m.sessions.CompareAndDelete(ctx, sessionKey(oldID), e.Version)
		if err != nil || !ok {
			_ = m.sessions.Delete(ctx, sessionKey(next.ID))
			if err != nil {
				return "", err
			}
			continue
		}

		_, _, err = store.Update[Index](ctx, m.index, indexKey(old.PrincipalID), 0, func(cur Index, exists bool) (Index, bool, error) {
			if !exists {
				return cur, false, nil
			}
			out := Index{Next: cur.Next, Slots: make([]Slot, 0, len(cur.Slots))}
			for _, slot := range cur.Slots {
				if slot.ID == oldID {
					slot.ID = next.ID
				}
				out.Slots = append(out.Slots, slot)
			}
			return out, true, nil
		})
		return next.ID, err
	}
	return "", store.ErrContention
}

// Remove terminates one session. Removing an unknown id is not an error.
func (m *Manager) Remove(ctx context.Context, id string) error {
	if id == "" {
		return nil
	}
	e, err := m.sessions.Get(ctx, sessionKey(id))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return err
	}
	if err := m.sessions.Delete(ctx, sessionKey(id)); err != nil {
		return err
	}
	return m.unindex(ctx, e.Value.PrincipalID, id)
}

// RemoveAll terminates every session of principalID and returns how many
// were indexed.
func (m *Manager) RemoveAll(ctx context.Context, principalID string) (int, error) {
	var slots []Slot
	_, _, err := store.Update[Index](ctx, m.index, indexKey(principalID), 0, func(cur Index, _ bool) (Index, bool, error) {
		slots = cur.Slots
		return Index{}, false, nil
	})
	if err != nil {
		return 0, err
	}
	for _, slot := range slots {
		if err := m.sessions.Delete(ctx, sessionKey(slot.ID)); err != nil {
			return 0, err
		}
	}
	return len(slots), nil
}

// Count returns the number of live sessions held by principalID.
func (m *Manager) Count(ctx context.Context, principalID string) (int, error) {
	e, err := m.index.Get(ctx, indexKey(principalID))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return 0, nil
		}
		return 0, err
	}
	now := m.now()
	n := 0
	for _, slot := range e.Value.Slots {
		se, err := m.sessions.Get(ctx, sessionKey(slot.ID))
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			return 0, err
		}
		if !se.Value.Expired(now) {
			n++
		}
	}
	return n, nil
}

// Sweep deletes expired sessions and prunes index entries that point at
// missing sessions. It returns the number of sessions removed.
func (m *Manager) Sweep(ctx context.Context) (int, error) {
	now := m.now()
	removed, err := store.Sweep[Session](ctx, m.sessions, sessionPrefix, func(_ string, s Session) bool {
		return s.Expired(now)
	})
	if err != nil {
		return removed, err
	}

	var principals []string
	err = m.index.Scan(ctx, indexPrefix, func(key string, _ store.Entry[Index]) bool {
		principals = append(principals, strings.TrimPrefix(key, indexPrefix))
		return ctx.Err() == nil
	})
	if err != nil {
		return removed, err
	}
	for _, p := range principals {
		dead, err := m.deadSlots(ctx, p, now)
		if err != nil {
			return removed, err
		}
		_, _, err = store.Update[Index](ctx, m.index, indexKey(p), 0, func(cur Index, exists bool) (Index, bool, error) {
			if !exists {
				return cur, false, nil
			}
			out := Index{Next: cur.Next}
			for _, slot := range cur.Slots {
				if _, gone := dead[slot.ID]; !gone {
					out.Slots = append(out.Slots, slot)
				}
			}
			return out, len(out.Slots) > 0, nil
		})
		if err != nil {
			return removed, err
		}
	}
	return removed, nil
}

// deadSlots returns the indexed ids of principalID whose session is gone
// or expired.
func (m *Manager) deadSlots(ctx context.Context, principalID string, now time.Time) (map[string]struct{}, error) {
	e, err := m.index.Get(ctx, indexKey(principalID))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	dead := make(map[string]struct{})
	for _, slot := range e.Value.Slots {
		se, err := m.sessions.Get(ctx, sessionKey(slot.ID))
		switch {
		case errors.Is(err, store.ErrNotFound):
			dead[slot.ID] = struct{}{}
		case err != nil:
			return nil, err
		case se.Value.Expired(now):
			dead[slot.ID] = struct{}{}
		}
	}
	return dead, nil
}

func (m *Manager) unindex(ctx context.Context, principalID, id string) error {
	if principalID == "" {
		return nil
	}
	_, _, err := store.Update[Index](ctx, m.index, indexKey(principalID), 0, func(cur Index, exists bool) (Index, bool, error) {
		if !exists {
			return cur, false, nil
		}
		out := Index{Next: cur.Next}
		for _, slot := range cur.Slots {
			if slot.ID != id {
				out.Slots = append(out.Slots, slot)
			}
		}
		return out, len(out.Slots) > 0, nil
	})
	return err
}

func oldestSlot(slots []Slot) int {
	oldest := 0
	for i, s := range slots[1:] {
		o := slots[oldest]
		if s.CreatedAt.Before(o.CreatedAt) || (s.CreatedAt.Equal(o.CreatedAt) && s.Seq < o.Seq) {
			oldest = i + 1
		}
	}
	return oldest
}

func agentMatches(bound, current [32]byte) bool {
	return bound == [32]byte{} || bound == current
}

func cloneValues(v map[string]string) map[string]string {
	if len(v) == 0 {
		return nil
	}
	out := make(map[string]string, len(v))
	for k, val := range v {
		out[k] = val
	}
	return out
}
