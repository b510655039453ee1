package service

import (
	"fmt"

	"github.com/noah-isme/campus-leave-api/internal/models"
)

// Action names a permission checked by handlers and the lifecycle engine.
type Action string

const (
	ActionRequestCreate       Action = "request:create"
	ActionRequestViewOwn      Action = "request:view_own"
	ActionRequestViewQueue    Action = "request:view_queue"
	ActionRequestDecide       Action = "request:decide"
	ActionRequestRecordReturn Action = "request:record_return"
	ActionRequestViewAny      Action = "request:view_any"
	ActionIngestionSubmit     Action = "ingestion:submit"
	ActionIngestionView       Action = "ingestion:view"
)

var rolePermissions = map[models.UserRole][]Action{
	models.RoleStudent: {ActionRequestCreate, ActionRequestViewOwn},
	models.RoleWarden: {
		ActionRequestViewQueue, ActionRequestDecide, ActionRequestRecordReturn, ActionRequestViewAny,
	},
	models.RoleDean:     {ActionRequestViewQueue, ActionRequestDecide, ActionRequestViewAny},
	models.RoleSecurity: {ActionRequestRecordReturn, ActionRequestViewAny},
	models.RoleAdmin:    {ActionRequestViewAny, ActionIngestionSubmit, ActionIngestionView},
	models.RoleSuperAdmin: {
		ActionRequestViewAny, ActionIngestionSubmit, ActionIngestionView,
	},
}

// RoleResolver answers permission and approval chain lookups. It is immutable after construction.
type RoleResolver struct {
	chains      map[models.LeaveKind][]models.UserRole
	grants      map[models.UserRole][]Action
	permissions map[models.UserRole]map[Action]struct{}
}

// DefaultChains returns the built-in approval chains.
func DefaultChains() map[models.LeaveKind][]models.UserRole {
	return map[models.LeaveKind][]models.UserRole{
		models.LeaveKindOuting:  {models.RoleWarden},
		models.LeaveKindOutpass: {models.RoleWarden, models.RoleDean},
	}
}

// NewRoleResolver validates chains and builds the lookup tables. Every kind needs a non-empty
// chain of approver roles without repeats. Roles placed in a chain are granted the queue and
// decide actions so the route gate never strands a request at their level.
func NewRoleResolver(chains map[models.LeaveKind][]models.UserRole) (*RoleResolver, error) {
	if chains == nil {
		chains = DefaultChains()
	}
	resolved := make(map[models.LeaveKind][]models.UserRole, 2)
	for _, kind := range []models.LeaveKind{models.LeaveKindOuting, models.LeaveKindOutpass} {
		chain := chains[kind]
		if len(chain) == 0 {
			return nil, fmt.Errorf("approval chain for %s is empty", kind)
		}
		seen := make(map[models.UserRole]struct{}, len(chain))
		for _, role := range chain {
			if !isApproverRole(role) {
				return nil, fmt.Errorf("approval chain for %s has unsupported role %q", kind, role)
			}
			if _, dup := seen[role]; dup {
				return nil, fmt.Errorf("approval chain for %s repeats role %q", kind, role)
			}
			seen[role] = struct{}{}
		}
		resolved[kind] = append([]models.UserRole(nil), chain...)
	}

	grants := make(map[models.UserRole][]Action, len(rolePermissions))
	for role, actions := range rolePermissions {
		grants[role] = append([]Action(nil), actions...)
	}
	for _, chain := range resolved {
		for _, role := range chain {
			grants[role] = withAction(grants[role], ActionRequestViewQueue)
			grants[role] = withAction(grants[role], ActionRequestDecide)
		}
	}

	permissions := make(map[models.UserRole]map[Action]struct{}, len(grants))
	for role, actions := range grants {
		set := make(map[Action]struct{}, len(actions))
		for _, action := range actions {
			set[action] = struct{}{}
		}
		permissions[role] = set
	}
	return &RoleResolver{chains: resolved, grants: grants, permissions: permissions}, nil
}

func withAction(actions []Action, action Action) []Action {
	for _, existing := range actions {
		if existing == action {
			return actions
		}
	}
	return append(actions, action)
}

// ChainsFromConfig converts configured role names into chains.
func ChainsFromConfig(outing, outpass []string) map[models.LeaveKind][]models.UserRole {
	convert := func(raw []string) []models.UserRole {
		roles := make([]models.UserRole, 0, len(raw))
		for _, name := range raw {
			roles = append(roles, models.ParseRole(name))
		}
		return roles
	}
	return map[models.LeaveKind][]models.UserRole{
		models.LeaveKindOuting:  convert(outing),
		models.LeaveKindOutpass: convert(outpass),
	}
}

func isApproverRole(role models.UserRole) bool {
	switch role {
	case models.RoleWarden, models.RoleDean, models.RoleAdmin, models.RoleSuperAdmin:
		return true
	default:
		return false
	}
}

// Permissions lists the actions granted to role. Unknown roles get none.
func (r *RoleResolver) Permissions(role models.UserRole) []Action {
	actions := r.grants[role]
	out := make([]Action, len(actions))
	copy(out, actions)
	return out
}

// Can reports whether role may perform action.
func (r *RoleResolver) Can(role models.UserRole, action Action) bool {
	set, ok := r.permissions[role]
	if !ok {
		return false
	}
	_, allowed := set[action]
	return allowed
}

// Chain returns the ordered approvers for kind.
func (r *RoleResolver) Chain(kind models.LeaveKind) []models.UserRole {
	chain := r.chains[kind]
	out := make([]models.UserRole, len(chain))
	copy(out, chain)
	return out
}

// FirstApprover returns the role a new request of kind waits on.
func (r *RoleResolver) FirstApprover(kind models.LeaveKind) (models.UserRole, bool) {
	chain := r.chains[kind]
	if len(chain) == 0 {
		return "", false
	}
	return chain[0], true
}

// NextApprover returns the role after current in the chain for kind. The boolean is false
// when current is the final approver or not part of the chain.
func (r *RoleResolver) NextApprover(kind models.LeaveKind, current models.UserRole) (models.UserRole, bool) {
	chain := r.chains[kind]
	for i, role := range chain {
		if role == current && i+1 < len(chain) {
			return chain[i+1], true
		}
	}
	return "", false
}

// IsFinalApprover reports whether role closes the chain for kind.
func (r *RoleResolver) IsFinalApprover(kind models.LeaveKind, role models.UserRole) bool {
	chain := r.chains[kind]
	return len(chain) > 0 && chain[len(chain)-1] == role
}

// IsApprover reports whether role appears anywhere in a chain.
func (r *RoleResolver) IsApprover(role models.UserRole) bool {
	for _, chain := range r.chains {
		for _, candidate := range chain {
			if candidate == role {
				return true
			}
		}
	}
	return false
}
