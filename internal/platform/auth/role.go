package auth

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/healpoint/clinic/internal/platform/apperr"
)

type Role string

const (
	RoleAdmin        Role = "admin"
	RoleDoctor       Role = "doctor"
	RoleReceptionist Role = "receptionist"
)

func ParseRole(s string) (Role, error) {
	switch r := Role(s); r {
	case RoleAdmin, RoleDoctor, RoleReceptionist:
		return r, nil
	default:
		return "", fmt.Errorf("unknown role %q", s)
	}
}

type Action string

const (
	ActionCreate Action = "create"
	ActionRead   Action = "read"
	ActionList   Action = "list"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
	ActionCancel Action = "cancel"
)

type Resource string

const (
	ResourcePatient     Resource = "patient"
	ResourceAppointment Resource = "appointment"
	ResourceTreatment   Resource = "treatment"
	ResourcePayment     Resource = "payment"
	ResourceUser        Resource = "user"
)

// Authorizer decides whether a role may perform an action on a resource.
type Authorizer interface {
	CanPerform(role Role, action Action, resource Resource) bool
}

type capability struct {
	action   Action
	resource Resource
}

// Policy is a fixed capability set per role. Admin holds every capability.
type Policy struct {
	grants map[Role]map[capability]bool
}

func grant(resource Resource, actions ...Action) []capability {
	out := make([]capability, 0, len(actions))
	for _, a := range actions {
		out = append(out, capability{action: a, resource: resource})
	}
	return out
}

func NewPolicy(grants map[Role][]capability) *Policy {
	p := &Policy{grants: make(map[Role]map[capability]bool, len(grants))}
	for role, caps := range grants {
		set := make(map[capability]bool, len(caps))
		for _, c := range caps {
			set[c] = true
		}
		p.grants[role] = set
	}
	return p
}

// DefaultPolicy encodes the clinic's staff roles.
func DefaultPolicy() *Policy {
	var receptionist, doctor []capability

	receptionist = append(receptionist, grant(ResourcePatient, ActionCreate, ActionUpdate, ActionRead, ActionList)...)
	receptionist = append(receptionist, grant(ResourceAppointment, ActionRead, ActionList, ActionCancel)...)
	receptionist = append(receptionist, grant(ResourceTreatment, ActionRead, ActionList)...)
	receptionist = append(receptionist, grant(ResourcePayment, ActionCreate, ActionRead, ActionList)...)

	doctor = append(doctor, grant(ResourcePatient, ActionRead)...)
	doctor = append(doctor, grant(ResourceAppointment, ActionCreate, ActionUpdate, ActionRead, ActionList, ActionCancel)...)
	doctor = append(doctor, grant(ResourceTreatment, ActionCreate, ActionUpdate, ActionRead, ActionList)...)

	return NewPolicy(map[Role][]capability{
		RoleReceptionist: receptionist,
		RoleDoctor:       doctor,
	})
}

func (p *Policy) CanPerform(role Role, action Action, resource Resource) bool {
	if role == RoleAdmin {
		return true
	}
	return p.grants[role][capability{action: action, resource: resource}]
}

// Principal is the authenticated caller.
type Principal struct {
	UserID   uuid.UUID
	Username string
	Role     Role
}

const principalKey contextKey = "principal"

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey).(Principal)
	return p, ok
}

// Authorize resolves the caller from ctx and checks the capability.
func Authorize(ctx context.Context, a Authorizer, action Action, resource Resource) (Principal, error) {
	p, ok := PrincipalFromContext(ctx)
	if !ok {
		return Principal{}, apperr.Permission(string(action), string(resource), "no authenticated user")
	}
	if !a.CanPerform(p.Role, action, resource) {
		return p, apperr.Permission(string(action), string(resource), fmt.Sprintf("role %s is not allowed", p.Role))
	}
	return p, nil
}
