package permission

import (
	"errors"
	"sync"
)

// Action names an operation, e.g. "patient.read".
type Action string

// Category groups actions for the role decision table.
type Category uint8

const (
	CategoryClinical Category = iota + 1
	CategoryScheduling
	CategoryFinancial
	CategoryAssistant
	CategoryEngagement
	CategoryProfile
	CategoryAdministration
)

// Purpose names a consent purpose.
type Purpose string

const (
	PurposeDataProcessing Purpose = "data_processing"
	PurposeMarketing      Purpose = "marketing"
	PurposeAIInteraction  Purpose = "ai_interaction"
)

// ActionSpec describes one registered action.
type ActionSpec struct {
	Name     Action
	Category Category
	// Write is false for read-only actions.
	Write bool
	// Consent, when set, requires an active consent of the data subject.
	Consent Purpose
}

// Built-in actions registered by [DefaultRegistry].
const (
	ActionPatientRead      Action = "patient.read"
	ActionPatientWrite     Action = "patient.write"
	ActionRecordRead       Action = "medical_record.read"
	ActionRecordWrite      Action = "medical_record.write"
	ActionAppointmentRead  Action = "appointment.read"
	ActionAppointmentWrite Action = "appointment.write"
	ActionFinancialRead    Action = "financial.read"
	ActionFinancialWrite   Action = "financial.write"
	ActionAssistantChat    Action = "assistant.chat"
	ActionAnalyticsProcess Action = "analytics.process"
	ActionMarketingContact Action = "marketing.contact"
	ActionProfileRead      Action = "profile.read"
	ActionProfileWrite     Action = "profile.write"
	ActionTenantManage     Action = "tenant.manage"
	ActionUserManage       Action = "user.manage"
	ActionAuditRead        Action = "audit.read"
)

// DefaultActions is the built-in action catalog.
func DefaultActions() []ActionSpec {
	return []ActionSpec{
		{Name: ActionPatientRead, Category: CategoryClinical},
		{Name: ActionPatientWrite, Category: CategoryClinical, Write: true},
		{Name: ActionRecordRead, Category: CategoryClinical},
		{Name: ActionRecordWrite, Category: CategoryClinical, Write: true},
		{Name: ActionAppointmentRead, Category: CategoryScheduling},
		{Name: ActionAppointmentWrite, Category: CategoryScheduling, Write: true},
		{Name: ActionFinancialRead, Category: CategoryFinancial},
		{Name: ActionFinancialWrite, Category: CategoryFinancial, Write: true},
		{Name: ActionAssistantChat, Category: CategoryAssistant, Consent: PurposeAIInteraction},
		{Name: ActionAnalyticsProcess, Category: CategoryEngagement, Consent: PurposeDataProcessing},
		{Name: ActionMarketingContact, Category: CategoryEngagement, Write: true, Consent: PurposeMarketing},
		{Name: ActionProfileRead, Category: CategoryProfile},
		{Name: ActionProfileWrite, Category: CategoryProfile, Write: true},
		{Name: ActionTenantManage, Category: CategoryAdministration, Write: true},
		{Name: ActionUserManage, Category: CategoryAdministration, Write: true},
		{Name: ActionAuditRead, Category: CategoryAdministration},
	}
}

// Registry maps actions to bit positions within a [Mask64].
type Registry struct {
	mu        sync.RWMutex
	nameToBit map[Action]int
	specs     []ActionSpec
	frozen    bool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		nameToBit: make(map[Action]int),
	}
}

// DefaultRegistry returns a frozen registry holding [DefaultActions] plus
// extra.
func DefaultRegistry(extra ...ActionSpec) (*Registry, error) {
	r := NewRegistry()
	for _, spec := range append(DefaultActions(), extra...) {
		if _, err := r.Register(spec); err != nil {
			return nil, err
		}
	}
	r.Freeze()
	return r, nil
}

// Register assigns the next available bit to spec. Returns the assigned
// bit index. Must be called before [Registry.Freeze].
func (r *Registry) Register(spec ActionSpec) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return -1, errors.New("registry frozen")
	}

	if spec.Name == "" {
		return -1, errors.New("action name cannot be empty")
	}
	if spec.Category == 0 {
		return -1, errors.New("action category is required")
	}

	if _, exists := r.nameToBit[spec.Name]; exists {
		return -1, errors.New("action already registered")
	}

	nextBit := len(r.specs)
	if nextBit >= 64 {
		return -1, errors.New("action limit exceeded")
	}

	r.nameToBit[spec.Name] = nextBit
	r.specs = append(r.specs, spec)

	return nextBit, nil
}

// Lookup returns the spec and bit of action.
func (r *Registry) Lookup(action Action) (ActionSpec, int, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	bit, ok := r.nameToBit[action]
	if !ok {
		return ActionSpec{}, -1, false
	}
	return r.specs[bit], bit, true
}

// Specs returns the registered actions in bit order.
func (r *Registry) Specs() []ActionSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]ActionSpec(nil), r.specs...)
}

// Freeze prevents further registrations. Must be called before the
// registry is used for evaluation.
func (r *Registry) Freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frozen = true
}

// Frozen reports whether [Registry.Freeze] was called.
func (r *Registry) Frozen() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.frozen
}

// Count returns the number of registered actions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.specs)
}
