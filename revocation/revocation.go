package revocation

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/MrEthical07/clinicguard/store"
)

// Reason records why a credential was revoked.
type Reason string

const (
	ReasonLogout     Reason = "logout"
	ReasonCompromise Reason = "compromise"
	ReasonRoleChange Reason = "role_change"
	ReasonAdmin      Reason = "admin"
)

const (
	tokenPrefix   = "jti:"
	subjectPrefix = "sub:"
)

// DefaultTTL keeps an entry for the longest token lifetime accepted by the
// validator; after that no token it could match is still valid.
const DefaultTTL = 24 * time.Hour

var (
	// ErrInvalidRequest is returned when neither a token id nor a subject id is given.
	ErrInvalidRequest = errors.New("revocation: token id or subject id required")
	// ErrRevoked is the sentinel for a credential matched by a blacklist entry.
	ErrRevoked = errors.New("credential revoked")
)

// Entry is a single blacklist record. Exactly one of TokenID or SubjectID is
// the lookup key: a TokenID entry revokes that token, a SubjectID entry
// revokes every token of the subject issued at or before BlockedAt.
type Entry struct {
	SubjectID string    `json:"sub,omitempty"`
	TokenID   string    `json:"jti,omitempty"`
	BlockedAt time.Time `json:"blocked_at"`
	ExpiresAt time.Time `json:"expires_at"`
	Reason    Reason    `json:"reason"`
}

func (e Entry) expired(now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}

// Record is the stored value for one key. A subject may carry several
// entries when it is revoked more than once.
type Record struct {
	Entries []Entry `json:"entries"`
}

// Request describes a revocation. If TokenID is set the revocation is
// narrow even when SubjectID is also given.
type Request struct {
	Reason    Reason
	TokenID   string
	SubjectID string
	TTL       time.Duration
}

// Option configures a [List].
type Option func(*List)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(l *List) { l.now = now }
}

// WithDefaultTTL sets the TTL used when a request does not carry one.
func WithDefaultTTL(ttl time.Duration) Option {
	return func(l *List) {
		if ttl > 0 {
			l.defaultTTL = ttl
		}
	}
}

// List owns the blacklist.
type List struct {
	store      store.Store[Record]
	now        func() time.Time
	defaultTTL time.Duration
}

// New creates a revocation list over s.
func New(s store.Store[Record], opts ...Option) *List {
	l := &List{store: s, now: time.Now, defaultTTL: DefaultTTL}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Revoke inserts a blacklist entry and returns it.
func (l *List) Revoke(ctx context.Context, req Request) (Entry, error) {
	tokenID := strings.TrimSpace(req.TokenID)
	subjectID := strings.TrimSpace(req.SubjectID)
	if tokenID == "" && subjectID == "" {
		return Entry{}, ErrInvalidRequest
	}

	ttl := req.TTL
	if ttl <= 0 {
		ttl = l.defaultTTL
	}
	reason := req.Reason
	if reason == "" {
		reason = ReasonAdmin
	}

	now := l.now()
	entry := Entry{
		SubjectID: subjectID,
		TokenID:   tokenID,
		BlockedAt: now,
		ExpiresAt: now.Add(ttl),
		Reason:    reason,
	}

	key := subjectPrefix + subjectID
	if tokenID != "" {
		key = tokenPrefix + tokenID
	}

	// Records carry no store TTL: a later, shorter revocation must not cut an
	// earlier, longer one short. Expired entries are pruned by Sweep.
	_, _, err := store.Update[Record](ctx, l.store, key, 0, func(cur Record, _ bool) (Record, bool, error) {
		next := Record{Entries: make([]Entry, 0, len(cur.Entries)+1)}
		for _, e := range cur.Entries {
			if !e.expired(now) {
				next.Entries = append(next.Entries, e)
			}
		}
		next.Entries = append(next.Entries, entry)
		return next, true, nil
	})
	if err != nil {
		return Entry{}, err
	}
	return entry, nil
}

// Check reports whether a token is revoked. issuedAt is the token's iat;
// a zero value matches every subject entry.
func (l *List) Check(ctx context.Context, tokenID, subjectID string, issuedAt time.Time) (Entry, bool, error) {
	now := l.now()

	if tokenID != "" {
		e, ok, err := l.match(ctx, tokenPrefix+tokenID, now, func(Entry) bool { return true })
		if err != nil || ok {
			return e, ok, err
		}
	}

	if subjectID != "" {
		return l.match(ctx, subjectPrefix+subjectID, now, func(e Entry) bool {
			return issuedAt.IsZero() || !issuedAt.After(e.BlockedAt)
		})
	}

	return Entry{}, false, nil
}

func (l *List) match(ctx context.Context, key string, now time.Time, applies func(Entry) bool) (Entry, bool, error) {
	rec, err := l.store.Get(ctx, key)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Entry{}, false, nil
		}
		return Entry{}, false, err
	}
	for _, e := range rec.Value.Entries {
		if e.expired(now) {
			continue
		}
		if applies(e) {
			return e, true, nil
		}
	}
	return Entry{}, false, nil
}

// Sweep removes expired entries and drops records left empty. It returns
// the number of entries removed; a second call with no newly expired
// entries returns zero and changes nothing.
func (l *List) Sweep(ctx context.Context) (int, error) {
	now := l.now()

	var stale []string
	err := l.store.Scan(ctx, "", func(key string, e store.Entry[Record]) bool {
		for _, entry := range e.Value.Entries {
			if entry.expired(now) {
				stale = append(stale, key)
				break
			}
		}
		return ctx.Err() == nil
	})
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, key := range stale {
		pruned := 0
		_, _, err := store.Update[Record](ctx, l.store, key, 0, func(cur Record, exists bool) (Record, bool, error) {
			pruned = 0
			if !exists {
				return cur, false, nil
			}
			kept := make([]Entry, 0, len(cur.Entries))
			for _, e := range cur.Entries {
				if e.expired(now) {
					pruned++
					continue
				}
				kept = append(kept, e)
			}
			return Record{Entries: kept}, len(kept) > 0, nil
		})
		if err != nil {
			return removed, err
		}
		removed += pruned
	}
	return removed, nil
}
