package audit

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Emitter is the [Sink] components write to. It stamps, redacts and
// pseudonymizes events before handing them to the underlying sink.
type Emitter struct {
	sink      Sink
	redactor  *Redactor
	originKey []byte
	now       func() time.Time
}

// EmitterOption configures an [Emitter].
type EmitterOption func(*Emitter)

// WithRedactor replaces the default redactor.
func WithRedactor(r *Redactor) EmitterOption {
	return func(e *Emitter) { e.redactor = r }
}

// WithClock overrides time.Now for event timestamps.
func WithClock(now func() time.Time) EmitterOption {
	return func(e *Emitter) { e.now = now }
}

// NewEmitter writes to sink. originKey keys the origin HMAC; without it
// origins are dropped instead of hashed.
func NewEmitter(sink Sink, originKey []byte, opts ...EmitterOption) *Emitter {
	if sink == nil {
		sink = NoOpSink{}
	}
	e := &Emitter{
		sink:      sink,
		redactor:  NewRedactor(),
		originKey: append([]byte(nil), originKey...),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Emit implements [Sink].
func (e *Emitter) Emit(ctx context.Context, ev Event) {
	if e == nil {
		return
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = e.now().UTC()
	}
	if ev.CorrelationID == "" {
		ev.CorrelationID = CorrelationID(ctx)
	}
	if ev.Decision == "" {
		ev.Decision = DecisionDenied
	}
	if ev.Origin != "" {
		ev.OriginHash = e.HashOrigin(ev.Origin)
		ev.Origin = ""
	}
	if e.redactor.Sensitive(ev.PrincipalID) {
		ev.PrincipalID = e.pseudonym(ev.PrincipalID)
	}
	e.sink.Emit(ctx, e.redactor.Event(ev))
}

// HashOrigin returns the hex HMAC-SHA256 of origin under the origin key.
func (e *Emitter) HashOrigin(origin string) string {
	if origin == "" || len(e.originKey) == 0 {
		return ""
	}
	return e.mac("origin|", origin)
}

// pseudonym replaces a document-shaped principal id with a stable keyed
// hash so events of one principal still correlate. Without a key the id
// is redacted outright.
func (e *Emitter) pseudonym(id string) string {
	if len(e.originKey) == 0 {
		return redacted
	}
	return "pid:" + e.mac("principal|", id)[:32]
}

func (e *Emitter) mac(domain, v string) string {
	m := hmac.New(sha256.New, e.originKey)
	m.Write([]byte(domain))
	m.Write([]byte(v))
	return hex.EncodeToString(m.Sum(nil))
}
