package clinicguard

import (
	"crypto/rand"
	"errors"
	"time"

	"github.com/MrEthical07/clinicguard/audit"
	"github.com/MrEthical07/clinicguard/internal/keys"
	"github.com/MrEthical07/clinicguard/jwt"
	"github.com/MrEthical07/clinicguard/permission"
	"github.com/MrEthical07/clinicguard/ratelimit"
	"github.com/MrEthical07/clinicguard/revocation"
	"github.com/MrEthical07/clinicguard/session"
	"github.com/MrEthical07/clinicguard/store"
	"github.com/MrEthical07/clinicguard/store/redisstore"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Builder wires an [Engine]. Configure it during initialization and call
// [Builder.Build] once.
type Builder struct {
	config Config
	redis  redis.UniversalClient
	keys   jwt.KeyStore

	assignments permission.AssignmentSource
	consents    permission.ConsentSource
	bindings    permission.BindingSource
	geo         session.GeoResolver
	actions     []permission.ActionSpec

	auditSink audit.Sink
	log       *zap.Logger
	now       func() time.Time

	built bool
}

// New returns a builder over [DefaultConfig].
func New() *Builder {
	return &Builder{config: DefaultConfig()}
}

// WithConfig replaces the configuration. cfg is copied.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis stores revocations, counters and sessions in Redis so every
// process shares them. Without it state is process-local.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithKeys sets the verification key store. Required.
func (b *Builder) WithKeys(ks jwt.KeyStore) *Builder {
	b.keys = ks
	return b
}

func (b *Builder) WithAssignments(s permission.AssignmentSource) *Builder {
	b.assignments = s
	return b
}

func (b *Builder) WithConsents(s permission.ConsentSource) *Builder {
	b.consents = s
	return b
}

// WithBindings enables role binding lookups against the identity store.
func (b *Builder) WithBindings(s permission.BindingSource) *Builder {
	b.bindings = s
	return b
}

// WithGeoResolver is required by the country origin tolerance.
func (b *Builder) WithGeoResolver(g session.GeoResolver) *Builder {
	b.geo = g
	return b
}

// WithActions registers actions beyond the built-in catalog.
func (b *Builder) WithActions(specs ...permission.ActionSpec) *Builder {
	b.actions = append(b.actions, specs...)
	return b
}

func (b *Builder) WithAuditSink(sink audit.Sink) *Builder {
	b.auditSink = sink
	return b
}

func (b *Builder) WithLogger(l *zap.Logger) *Builder {
	b.log = l
	return b
}

// WithClock overrides time.Now across every component. Intended for tests.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

// WithMetricsEnabled toggles in-process counters.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// Build validates the configuration and wires every component.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if b.keys == nil {
		return nil, errors.New("key store required")
	}
	if cfg.Session.Tolerance == session.ToleranceCountry && b.geo == nil {
		return nil, errors.New("country origin tolerance requires a geo resolver")
	}

	log := b.log
	if log == nil {
		log = zap.NewNop()
	}
	now := b.now
	if now == nil {
		now = time.Now
	}

	// -------- KEYS --------
	master := cfg.MasterSecret
	if len(master) == 0 {
		master = make([]byte, keys.MinMasterLength)
		if _, err := rand.Read(master); err != nil {
			return nil, err
		}
		log.Warn("no master secret configured, using an ephemeral one; cookie signatures and origin hashes will not survive restarts")
	}
	subkeys, err := keys.DeriveSet(master)
	if err != nil {
		return nil, err
	}

	// -------- STORES --------
	st := b.stores(cfg, now)

	// -------- TOKEN --------
	verifier, err := jwt.NewVerifier(jwt.Config{
		Algorithms:   cfg.Token.Algorithms,
		Issuers:      cfg.Token.Issuers,
		Audiences:    cfg.Token.Audiences,
		AllowedRoles: cfg.Token.AllowedRoles,
		MaxLifetime:  cfg.Token.MaxLifetime,
		Leeway:       cfg.Token.Leeway,
		MaxFutureIAT: cfg.Token.MaxFutureIAT,
		RequireKeyID: cfg.Token.RequireKeyID,
	}, b.keys)
	if err != nil {
		return nil, err
	}
	verifier = verifier.WithClock(now)

	revocations := revocation.New(st.revocations,
		revocation.WithClock(now),
		revocation.WithDefaultTTL(cfg.Token.MaxLifetime))

	// -------- RATE LIMITS --------
	limiter := ratelimit.New(st.counters, ratelimit.WithClock(now))
	authLimiter, err := limiter.NewAuthLimiter(cfg.RateLimits.Auth, cfg.RateLimits.AuthBlock)
	if err != nil {
		return nil, err
	}
	burst, err := ratelimit.NewBurstGuard(cfg.RateLimits.Validation, now)
	if err != nil {
		return nil, err
	}

	// -------- SESSIONS --------
	sessOpts := []session.Option{session.WithClock(now)}
	if b.geo != nil {
		sessOpts = append(sessOpts, session.WithGeoResolver(b.geo))
	}
	sessions, err := session.NewManager(st.sessions, st.index, cfg.Session, sessOpts...)
	if err != nil {
		return nil, err
	}

	// -------- AUDIT --------
	sink := b.auditSink
	if sink == nil {
		sink = audit.NoOpSink{}
	}
	dispatcher := audit.NewDispatcher(cfg.Audit.Config, sink, log)
	emitter := audit.NewEmitter(dispatcher, subkeys.OriginHash,
		audit.WithRedactor(audit.NewRedactor(cfg.Audit.RedactKeys...)),
		audit.WithClock(now))

	// -------- PERMISSIONS --------
	registry, err := permission.DefaultRegistry(b.actions...)
	if err != nil {
		return nil, err
	}
	evalOpts := []permission.Option{
		permission.WithAuditSink(emitter),
		permission.WithLogger(log),
		permission.WithClock(now),
		permission.WithStrictAssignments(cfg.Permission.StrictAssignments),
	}
	if b.assignments != nil {
		evalOpts = append(evalOpts, permission.WithAssignments(b.assignments))
	}
	if b.consents != nil {
		evalOpts = append(evalOpts, permission.WithConsents(b.consents))
	}
	evaluator, err := permission.NewEvaluator(registry, cfg.Permission.Guard, evalOpts...)
	if err != nil {
		return nil, err
	}
	bindings := permission.NewBindingCache(b.bindings, cfg.Permission.Bindings, log)

	e := &Engine{
		config:      cfg,
		log:         log,
		now:         now,
		keys:        subkeys,
		verifier:    verifier,
		revocations: revocations,
		limiter:     limiter,
		authLimiter: authLimiter,
		burst:       burst,
		sessions:    sessions,
		evaluator:   evaluator,
		bindings:    bindings,
		dispatcher:  dispatcher,
		audit:       emitter,
		metrics:     NewMetrics(cfg.Metrics),
		shared:      b.redis != nil,
	}
	e.flows = e.buildFlows()

	b.built = true
	return e, nil
}

type stores struct {
	revocations store.Store[revocation.Record]
	counters    store.Store[ratelimit.Counter]
	sessions    store.Store[session.Session]
	index       store.Store[session.Index]
}

func (b *Builder) stores(cfg Config, now func() time.Time) stores {
	if b.redis != nil {
		ns := cfg.Store.Namespace
		return stores{
			revocations: redisstore.New[revocation.Record](b.redis, ns+":rev", nil),
			counters:    redisstore.New[ratelimit.Counter](b.redis, ns+":rl", nil),
			sessions:    redisstore.New[session.Session](b.redis, ns+":sess", session.Codec{}),
			index:       redisstore.New[session.Index](b.redis, ns+":sidx", nil),
		}
	}
	opts := []store.Option{store.WithClock(now)}
	if cfg.Store.Shards > 0 {
		opts = append(opts, store.WithShards(cfg.Store.Shards))
	}
	return stores{
		revocations: store.NewSharded[revocation.Record](opts...),
		counters:    store.NewSharded[ratelimit.Counter](opts...),
		sessions:    store.NewSharded[session.Session](opts...),
		index:       store.NewSharded[session.Index](opts...),
	}
}
