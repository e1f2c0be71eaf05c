package audit

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Event types emitted by the pipeline.
const (
	TypeTokenValidation = "auth.token"
	TypeLogin           = "auth.login"
	TypeLogout          = "auth.logout"
	TypeRevocation      = "auth.revocation"
	TypeSession         = "session.lifecycle"
	TypeSessionAnomaly  = "session.anomaly"
	TypeRateLimit       = "ratelimit.denied"
	TypeAuthorization   = "authz.decision"
	TypeDegraded        = "system.degraded"
)

// Decision values.
const (
	DecisionGranted = "granted"
	DecisionDenied  = "denied"
)

// Event is one immutable audit record.
//
// Origin is the raw network origin. It is never serialized: [Emitter]
// replaces it with OriginHash before the event reaches a sink.
type Event struct {
	Timestamp     time.Time         `json:"timestamp"`
	Type          string            `json:"type"`
	PrincipalID   string            `json:"principal_id,omitempty"`
	TenantID      string            `json:"tenant_id,omitempty"`
	Action        string            `json:"action,omitempty"`
	Resource      string            `json:"resource,omitempty"`
	Decision      string            `json:"decision"`
	Reason        string            `json:"reason,omitempty"`
	RuleID        string            `json:"rule_id,omitempty"`
	ErrorKind     string            `json:"error_kind,omitempty"`
	Origin        string            `json:"-"`
	OriginHash    string            `json:"origin_hash,omitempty"`
	CorrelationID string            `json:"correlation_id,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// Granted reports whether the event records an allowed outcome.
func (e Event) Granted() bool { return e.Decision == DecisionGranted }

// Sink receives emitted audit events.
type Sink interface {
	Emit(ctx context.Context, event Event)
}

// NoOpSink drops audit events.
type NoOpSink struct{}

func (NoOpSink) Emit(context.Context, Event) {}

// ChannelSink writes audit events into a buffered channel.
type ChannelSink struct {
	events chan Event
}

func NewChannelSink(buffer int) *ChannelSink {
	if buffer <= 0 {
		buffer = 1
	}
	return &ChannelSink{
		events: make(chan Event, buffer),
	}
}

func (s *ChannelSink) Emit(ctx context.Context, event Event) {
	select {
	case s.events <- event:
	case <-ctx.Done():
	}
}

func (s *ChannelSink) Events() <-chan Event {
	return s.events
}

// JSONWriterSink writes one JSON object per line.
type JSONWriterSink struct {
	writer io.Writer
	mu     sync.Mutex
}

func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return &JSONWriterSink{
		writer: w,
	}
}

func (s *JSONWriterSink) Emit(ctx context.Context, event Event) {
	if s == nil || s.writer == nil {
		return
	}
	data, err := json.Marshal(event)
	if err != nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, _ = s.writer.Write(data)
	_, _ = s.writer.Write([]byte("\n"))
}

// ZapSink logs events through a zap logger at info level, denials at warn.
type ZapSink struct {
	log *zap.Logger
}

func NewZapSink(log *zap.Logger) *ZapSink {
	if log == nil {
		log = zap.NewNop()
	}
	return &ZapSink{log: log.Named("audit")}
}

func (s *ZapSink) Emit(_ context.Context, e Event) {
	fields := []zap.Field{
		zap.Time("ts", e.Timestamp),
		zap.String("decision", e.Decision),
		zap.String("principal_id", e.PrincipalID),
		zap.String("tenant_id", e.TenantID),
		zap.String("action", e.Action),
		zap.String("resource", e.Resource),
		zap.String("rule_id", e.RuleID),
		zap.String("correlation_id", e.CorrelationID),
	}
	if e.Reason != "" {
		fields = append(fields, zap.String("reason", e.Reason))
	}
	if e.ErrorKind != "" {
		fields = append(fields, zap.String("error_kind", e.ErrorKind))
	}
	if e.OriginHash != "" {
		fields = append(fields, zap.String("origin_hash", e.OriginHash))
	}
	if len(e.Metadata) > 0 {
		fields = append(fields, zap.Any("metadata", e.Metadata))
	}

	if e.Granted() {
		s.log.Info(e.Type, fields...)
		return
	}
	s.log.Warn(e.Type, fields...)
}

type correlationKey struct{}

// WithCorrelationID returns a context carrying id.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationKey{}, id)
}

// CorrelationID returns the id set by [WithCorrelationID].
func CorrelationID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(correlationKey{}).(string)
	return id
}
