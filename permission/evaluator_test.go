package permission

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrEthical07/clinicguard/audit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAssignments struct {
	mu     sync.Mutex
	active map[string]bool
	calls  atomic.Int64
}

func (f *fakeAssignments) set(prof, subject string, on bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.active == nil {
		f.active = map[string]bool{}
	}
	f.active[prof+"|"+subject] = on
}

func (f *fakeAssignments) ActiveAssignment(_ context.Context, _, prof, subject string) (bool, error) {
	f.calls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active[prof+"|"+subject], nil
}

type fakeConsents struct {
	mu       sync.Mutex
	consents map[string]Consent
}

func (f *fakeConsents) record(subject string, c Consent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.consents == nil {
		f.consents = map[string]Consent{}
	}
	f.consents[subject+"|"+string(c.Purpose)] = c
}

func (f *fakeConsents) Consent(_ context.Context, _, subject string, p Purpose) (Consent, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.consents[subject+"|"+string(p)]
	return c, ok, nil
}

type hangingAssignments struct {
	calls atomic.Int64
}

func (h *hangingAssignments) ActiveAssignment(ctx context.Context, _, _, _ string) (bool, error) {
	h.calls.Add(1)
	<-ctx.Done()
	return false, ctx.Err()
}

type recordingSink struct {
	mu     sync.Mutex
	events []audit.Event
}

func (s *recordingSink) Emit(_ context.Context, e audit.Event) {
	s.mu.Lock()
	s.events = append(s.events, e)
	s.mu.Unlock()
}

func (s *recordingSink) last() audit.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.events[len(s.events)-1]
}

var testNow = time.Unix(1_760_000_000, 0)

func newTestEvaluator(t *testing.T, opts ...Option) *Evaluator {
	t.Helper()
	reg, err := DefaultRegistry()
	require.NoError(t, err)
	cfg := GuardConfig{LookupTimeout: 20 * time.Millisecond, BreakerFailures: 3, BreakerCooldown: time.Minute}
	e, err := NewEvaluator(reg, cfg, append([]Option{WithClock(func() time.Time { return testNow })}, opts...)...)
	require.NoError(t, err)
	return e
}

func TestProfessionalNeedsActiveAssignment(t *testing.T) {
	assignments := &fakeAssignments{}
	e := newTestEvaluator(t, WithAssignments(assignments))
	ctx := context.Background()

	doc := Principal{ID: "doc-1", Role: RoleProfessional, TenantID: "clinic-1"}
	patient := Resource{Type: "patient", ID: "p-9", TenantID: "clinic-1", SubjectID: "p-9"}

	d := e.Authorize(ctx, doc, ActionPatientRead, patient)
	assert.False(t, d.Granted)
	assert.Equal(t, RuleProfessionalAssignment, d.RuleID)
	assert.ErrorIs(t, d.Err(), ErrInsufficientPermission)

	assignments.set("doc-1", "p-9", true)
	d = e.Authorize(ctx, doc, ActionPatientRead, patient)
	assert.True(t, d.Granted)
	assert.NoError(t, d.Err())
	assert.Equal(t, RuleProfessionalAssignment, d.RuleID)

	list := e.Authorize(ctx, doc, ActionPatientRead, Resource{Type: "patient", TenantID: "clinic-1"})
	assert.True(t, list.Granted)
	assert.Contains(t, list.Conditions, ConditionAssignedSubjects)

	fin := e.Authorize(ctx, doc, ActionFinancialRead, Resource{Type: "invoice", TenantID: "clinic-1"})
	assert.False(t, fin.Granted)
}

func TestStrictAssignmentsDenyUnscopedProfessionalActions(t *testing.T) {
	assignments := &fakeAssignments{}
	e := newTestEvaluator(t, WithAssignments(assignments), WithStrictAssignments(true))
	ctx := context.Background()
	doc := Principal{ID: "doc-1", Role: RoleProfessional, TenantID: "clinic-1"}

	list := e.Authorize(ctx, doc, ActionPatientRead, Resource{Type: "patient", TenantID: "clinic-1"})
	assert.False(t, list.Granted)
	assert.Equal(t, RuleProfessionalAssignment, list.RuleID)
	assert.ErrorIs(t, list.Err(), ErrInsufficientPermission)

	assignments.set("doc-1", "p-9", true)
	d := e.Authorize(ctx, doc, ActionPatientRead, Resource{Type: "patient", TenantID: "clinic-1", SubjectID: "p-9"})
	assert.True(t, d.Granted, "subject-scoped requests still go through the assignment check")
	assert.Empty(t, d.Conditions)
}

func TestConsentGate(t *testing.T) {
	consents := &fakeConsents{}
	e := newTestEvaluator(t, WithConsents(consents))
	ctx := context.Background()
	subject := Principal{ID: "p-1", Role: RoleSubject, TenantID: "clinic-1"}

	d := e.Authorize(ctx, subject, ActionAssistantChat, Resource{Type: "assistant", TenantID: "clinic-1"})
	assert.False(t, d.Granted)
	assert.ErrorIs(t, d.Err(), ErrConsentRequired)
	assert.Equal(t, "consent.ai_interaction", d.RuleID)

	consents.record("p-1", Consent{Purpose: PurposeAIInteraction, Granted: true, GrantedAt: testNow.Add(-time.Hour)})
	d = e.Authorize(ctx, subject, ActionAssistantChat, Resource{Type: "assistant", TenantID: "clinic-1"})
	assert.True(t, d.Granted)
	assert.Contains(t, d.Conditions, "consent:ai_interaction")

	consents.record("p-1", Consent{Purpose: PurposeAIInteraction, Granted: true, WithdrawnAt: testNow})
	d = e.Authorize(ctx, subject, ActionAssistantChat, Resource{Type: "assistant", TenantID: "clinic-1"})
	assert.ErrorIs(t, d.Err(), ErrConsentRequired, "withdrawn consent")

	consents.record("p-1", Consent{Purpose: PurposeAIInteraction, Granted: true, ExpiresAt: testNow})
	d = e.Authorize(ctx, subject, ActionAssistantChat, Resource{Type: "assistant", TenantID: "clinic-1"})
	assert.ErrorIs(t, d.Err(), ErrConsentRequired, "expired consent")
}

func TestConsentFromPrincipalWithoutSource(t *testing.T) {
	e := newTestEvaluator(t)
	p := Principal{ID: "p-1", Role: RoleSubject, TenantID: "clinic-1", Consents: map[Purpose]Consent{
		PurposeMarketing: {Purpose: PurposeMarketing, Granted: true},
	}}
	assert.True(t, e.Authorize(context.Background(), p, ActionMarketingContact, Resource{}).Granted)
	assert.False(t, e.Authorize(context.Background(), p, ActionAnalyticsProcess, Resource{}).Granted)
}

func TestTenantScope(t *testing.T) {
	e := newTestEvaluator(t)
	ctx := context.Background()
	other := Resource{Type: "patient", ID: "p-1", TenantID: "clinic-2"}

	d := e.Authorize(ctx, Principal{ID: "ta", Role: RoleTenantAdmin, TenantID: "clinic-1"}, ActionPatientRead, other)
	assert.False(t, d.Granted)
	assert.Equal(t, RuleTenantScope, d.RuleID)

	d = e.Authorize(ctx, Principal{ID: "root", Role: RoleAdmin}, ActionPatientRead, other)
	assert.True(t, d.Granted)
	assert.Equal(t, RuleAdmin, d.RuleID)

	d = e.Authorize(ctx, Principal{ID: "s", Role: RoleStaff}, ActionAppointmentRead, Resource{})
	assert.Equal(t, RuleTenantScope, d.RuleID, "non-admin without tenant")
}

func TestStaffFinancialDenyIsHard(t *testing.T) {
	e := newTestEvaluator(t)
	staff := Principal{
		ID: "s-1", Role: RoleStaff, TenantID: "clinic-1",
		ExplicitPermissions: []Action{ActionFinancialRead, ActionPatientWrite},
	}
	res := Resource{TenantID: "clinic-1"}

	d := e.Authorize(context.Background(), staff, ActionFinancialRead, res)
	assert.False(t, d.Granted)
	assert.Equal(t, RuleStaffFinancialDeny, d.RuleID)

	d = e.Authorize(context.Background(), staff, ActionPatientWrite, res)
	assert.True(t, d.Granted, "explicit grant extends the base rule")
	assert.Equal(t, RuleExplicit, d.RuleID)

	d = e.Authorize(context.Background(), staff, ActionRecordWrite, res)
	assert.False(t, d.Granted)
	assert.Equal(t, RuleStaff, d.RuleID)
}

func TestSubjectOnlyOwnData(t *testing.T) {
	e := newTestEvaluator(t)
	p := Principal{ID: "p-1", Role: RoleSubject, TenantID: "clinic-1"}

	assert.True(t, e.Authorize(context.Background(), p, ActionRecordRead, Resource{SubjectID: "p-1"}).Granted)
	d := e.Authorize(context.Background(), p, ActionRecordRead, Resource{SubjectID: "p-2"})
	assert.False(t, d.Granted)
	assert.Equal(t, RuleSubjectSelf, d.RuleID)
	assert.False(t, e.Authorize(context.Background(), p, ActionRecordWrite, Resource{SubjectID: "p-1"}).Granted)
}

func TestUnknownActionAndRole(t *testing.T) {
	e := newTestEvaluator(t)
	d := e.Authorize(context.Background(), Principal{ID: "a", Role: RoleAdmin}, Action("nuke.all"), Resource{})
	assert.Equal(t, RuleUnknownAction, d.RuleID)
	d = e.Authorize(context.Background(), Principal{ID: "a", TenantID: "t"}, ActionPatientRead, Resource{})
	assert.Equal(t, RuleUnknownRole, d.RuleID)
}

func TestLookupTimeoutFailsClosedAndTripsBreaker(t *testing.T) {
	hanging := &hangingAssignments{}
	sink := &recordingSink{}
	e := newTestEvaluator(t, WithAssignments(hanging), WithAuditSink(sink))
	doc := Principal{ID: "doc-1", Role: RoleProfessional, TenantID: "clinic-1"}
	res := Resource{Type: "patient", TenantID: "clinic-1", SubjectID: "p-1"}

	for i := 0; i < 3; i++ {
		start := time.Now()
		d := e.Authorize(context.Background(), doc, ActionRecordRead, res)
		assert.ErrorIs(t, d.Err(), ErrUpstreamTimeout)
		assert.Less(t, time.Since(start), time.Second)
	}
	require.Equal(t, int64(3), hanging.calls.Load())

	d := e.Authorize(context.Background(), doc, ActionRecordRead, res)
	assert.ErrorIs(t, d.Err(), ErrUpstreamTimeout)
	assert.Equal(t, int64(3), hanging.calls.Load(), "open breaker must not call the dependency")
	assert.Equal(t, "open", e.guard.state().String())

	last := sink.last()
	assert.Equal(t, audit.TypeAuthorization, last.Type)
	assert.Equal(t, "upstream_timeout", last.ErrorKind)
	assert.Equal(t, RuleUpstream, last.RuleID)
}

func TestEveryDecisionIsAudited(t *testing.T) {
	sink := &recordingSink{}
	e := newTestEvaluator(t, WithAuditSink(sink))
	admin := Principal{ID: "root", Role: RoleAdmin}

	e.Authorize(context.Background(), admin, ActionAuditRead, Resource{Type: "audit"})
	e.Authorize(context.Background(), Principal{ID: "s", Role: RoleStaff, TenantID: "c"}, ActionFinancialWrite, Resource{Type: "invoice", ID: "9"})

	require.Len(t, sink.events, 2)
	assert.Equal(t, audit.DecisionGranted, sink.events[0].Decision)
	assert.Equal(t, RuleAdmin, sink.events[0].RuleID)
	assert.Equal(t, audit.DecisionDenied, sink.events[1].Decision)
	assert.Equal(t, RuleStaffFinancialDeny, sink.events[1].RuleID)
	assert.Equal(t, "invoice/9", sink.events[1].Resource)
	assert.Equal(t, "insufficient_permission", sink.events[1].ErrorKind)
}

func TestDecisionTableCoversEveryRoleAndAction(t *testing.T) {
	reg, err := DefaultRegistry()
	require.NoError(t, err)
	table, err := NewTable(reg)
	require.NoError(t, err)

	for _, role := range Roles() {
		for _, spec := range reg.Specs() {
			allowed := table.Allows(role, spec.Name)
			switch role {
			case RoleAdmin, RoleTenantAdmin:
				assert.True(t, allowed, "%s %s", role, spec.Name)
			case RoleStaff:
				if spec.Category == CategoryFinancial {
					assert.False(t, allowed, "%s %s", role, spec.Name)
				}
			case RoleSubject:
				if spec.Category == CategoryAdministration || spec.Category == CategoryFinancial {
					assert.False(t, allowed, "%s %s", role, spec.Name)
				}
			case RoleProfessional, RoleUnknown:
			}
		}
	}
	assert.False(t, table.Allows(RoleAdmin, "missing"))
}

func TestRegistryRules(t *testing.T) {
	r := NewRegistry()
	_, err := r.Register(ActionSpec{Name: "x"})
	assert.Error(t, err, "category required")
	bit, err := r.Register(ActionSpec{Name: "x", Category: CategoryClinical})
	require.NoError(t, err)
	assert.Equal(t, 0, bit)
	_, err = r.Register(ActionSpec{Name: "x", Category: CategoryClinical})
	assert.Error(t, err)
	_, err = NewTable(r)
	assert.Error(t, err, "table needs a frozen registry")
	r.Freeze()
	_, err = r.Register(ActionSpec{Name: "y", Category: CategoryClinical})
	assert.Error(t, err)
}

func TestParseRole(t *testing.T) {
	for _, name := range RoleNames() {
		r, err := ParseRole(name)
		require.NoError(t, err)
		assert.Equal(t, name, r.String())
	}
	r, err := ParseRole("tenantAdmin")
	require.NoError(t, err)
	assert.Equal(t, RoleTenantAdmin, r)
	_, err = ParseRole("root")
	assert.True(t, errors.Is(err, ErrUnknownRole))
}
