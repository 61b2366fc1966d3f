package auth

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/medclinic/clinic/internal/platform/apperr"
)

// Entity is a resource type governed by the authority matrix.
type Entity string

const (
	EntityAppointment  Entity = "appointment"
	EntityConsultation Entity = "consultation"
	EntityPrescription Entity = "prescription"
)

// Action is an operation on an Entity.
type Action string

const (
	ActionRead   Action = "read"
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

var (
	Entities = []Entity{EntityAppointment, EntityConsultation, EntityPrescription}
	Actions  = []Action{ActionRead, ActionCreate, ActionUpdate, ActionDelete}
)

// Rule is the outcome configured for one (entity, action, role) cell. The
// zero value is deliberately invalid so that a missing cell is detectable.
type Rule int

const (
	ruleUndefined Rule = iota
	Deny
	Allow
	// AllowOwn allows the action only on resources whose patient reference is
	// the caller's own Patient record.
	AllowOwn
)

func (r Rule) String() string {
	switch r {
	case Deny:
		return "deny"
	case Allow:
		return "allow"
	case AllowOwn:
		return "allow-own"
	default:
		return "undefined"
	}
}

// Matrix maps entity × action × role to a Rule.
type Matrix map[Entity]map[Action]map[Role]Rule

// Validate reports the first (entity, action, role) combination that has no
// defined rule.
func (m Matrix) Validate() error {
	for _, e := range Entities {
		for _, a := range Actions {
			for _, r := range Roles {
				rule := m[e][a][r]
				if rule != Deny && rule != Allow && rule != AllowOwn {
					return fmt.Errorf("policy matrix has no rule for %s/%s/%s", e, a, r)
				}
			}
		}
	}
	return nil
}

func (m Matrix) clone() Matrix {
	out := make(Matrix, len(m))
	for e, actions := range m {
		out[e] = make(map[Action]map[Role]Rule, len(actions))
		for a, roles := range actions {
			out[e][a] = make(map[Role]Rule, len(roles))
			for r, rule := range roles {
				out[e][a][r] = rule
			}
		}
	}
	return out
}

func mustMatrix(m Matrix) Matrix {
	if err := m.Validate(); err != nil {
		panic(err)
	}
	return m
}

// row builds the per-role rules for one cell; roles not listed are denied.
func row(rules map[Role]Rule) map[Role]Rule {
	out := make(map[Role]Rule, len(Roles))
	for _, r := range Roles {
		out[r] = Deny
	}
	for r, rule := range rules {
		out[r] = rule
	}
	return out
}

var staffOnly = map[Role]Rule{RoleAdmin: Allow, RoleSecretary: Allow, RoleDoctor: Allow}

var defaultMatrix = mustMatrix(Matrix{
	EntityAppointment: {
		ActionRead:   row(map[Role]Rule{RoleAdmin: Allow, RoleSecretary: Allow, RoleDoctor: Allow, RolePatient: AllowOwn}),
		ActionCreate: row(map[Role]Rule{RoleAdmin: Allow, RoleSecretary: Allow, RolePatient: AllowOwn}),
		ActionUpdate: row(map[Role]Rule{RoleAdmin: Allow, RoleSecretary: Allow}),
		ActionDelete: row(map[Role]Rule{RoleAdmin: Allow, RoleSecretary: Allow}),
	},
	EntityConsultation: {
		ActionRead:   row(staffOnly),
		ActionCreate: row(map[Role]Rule{RoleAdmin: Allow, RoleDoctor: Allow}),
		ActionUpdate: row(map[Role]Rule{RoleAdmin: Allow, RoleDoctor: Allow}),
		ActionDelete: row(map[Role]Rule{RoleAdmin: Allow}),
	},
	EntityPrescription: {
		ActionRead:   row(staffOnly),
		ActionCreate: row(map[Role]Rule{RoleAdmin: Allow, RoleDoctor: Allow}),
		ActionUpdate: row(map[Role]Rule{RoleAdmin: Allow, RoleDoctor: Allow}),
		ActionDelete: row(map[Role]Rule{RoleAdmin: Allow}),
	},
})

// DefaultMatrix returns a copy of the clinic authority matrix.
func DefaultMatrix() Matrix {
	return defaultMatrix.clone()
}

// Decision is the result of a policy evaluation.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason"`
	// OwnershipRequired is set on role-level decisions when the action is
	// only allowed on the caller's own resources.
	OwnershipRequired bool `json:"ownership_required,omitempty"`
}

// DecisionObserver is notified of every resource-level decision.
type DecisionObserver func(entity Entity, action Action, role Role, allowed bool)

// Enforcer evaluates the authority matrix.
type Enforcer struct {
	matrix   Matrix
	observer DecisionObserver
}

// NewEnforcer validates m and returns an enforcer over a private copy of it.
func NewEnforcer(m Matrix) (*Enforcer, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &Enforcer{matrix: m.clone()}, nil
}

// NewDefaultEnforcer returns an enforcer over the clinic authority matrix.
func NewDefaultEnforcer() *Enforcer {
	return &Enforcer{matrix: defaultMatrix.clone()}
}

// SetObserver registers a callback for decisions, used for metrics.
func (e *Enforcer) SetObserver(o DecisionObserver) {
	e.observer = o
}

// Rule returns the configured rule for a cell. Unknown entities, actions or
// roles yield Deny.
func (e *Enforcer) Rule(role Role, entity Entity, action Action) Rule {
	rule, ok := e.matrix[entity][action][role]
	if !ok {
		return Deny
	}
	return rule
}

// Permits is the role-level decision taken before a handler runs, when the
// specific resource is not known yet.
func (e *Enforcer) Permits(role Role, entity Entity, action Action) Decision {
	switch e.Rule(role, entity, action) {
	case Allow:
		return Decision{Allowed: true, Reason: "role allowed"}
	case AllowOwn:
		return Decision{Allowed: true, Reason: "role allowed on own resources", OwnershipRequired: true}
	default:
		return Decision{Allowed: false, Reason: denyReason(role, entity, action)}
	}
}

// Decide is the resource-level decision once the resource's patient
// reference is known.
func (e *Enforcer) Decide(p Principal, entity Entity, action Action, resourcePatientID uuid.UUID) Decision {
	var d Decision
	switch e.Rule(p.Role, entity, action) {
	case Allow:
		d = Decision{Allowed: true, Reason: "role allowed"}
	case AllowOwn:
		if ownsResource(p, resourcePatientID) {
			d = Decision{Allowed: true, Reason: "caller owns resource"}
		} else {
			d = Decision{Allowed: false, Reason: fmt.Sprintf("you may only %s your own %ss", action, entity)}
		}
	default:
		d = Decision{Allowed: false, Reason: denyReason(p.Role, entity, action)}
	}
	e.observe(entity, action, p.Role, d.Allowed)
	return d
}

func (e *Enforcer) observe(entity Entity, action Action, role Role, allowed bool) {
	if e.observer != nil {
		e.observer(entity, action, role, allowed)
	}
}

// Authorize returns an authorization error when Decide denies.
func (e *Enforcer) Authorize(p Principal, entity Entity, action Action, resourcePatientID uuid.UUID) error {
	if d := e.Decide(p, entity, action, resourcePatientID); !d.Allowed {
		return apperr.Authorization(d.Reason)
	}
	return nil
}

// OwnershipScoped reports whether the caller's reads of entity must be
// restricted to their own resources.
func (e *Enforcer) OwnershipScoped(p Principal, entity Entity) bool {
	return e.Rule(p.Role, entity, ActionRead) == AllowOwn
}

// ownsResource is the single ownership predicate: the caller has a resolved
// Patient record and the resource references it.
func ownsResource(p Principal, resourcePatientID uuid.UUID) bool {
	return p.PatientID != uuid.Nil && p.PatientID == resourcePatientID
}

func denyReason(role Role, entity Entity, action Action) string {
	return fmt.Sprintf("role %s is not permitted to %s %ss", role, action, entity)
}
