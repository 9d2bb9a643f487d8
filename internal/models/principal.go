package models

import "strings"

// Role is the category an authenticated actor belongs to. Roles are fixed
// for the lifetime of a session; changing role requires a fresh login.
type Role string

const (
	RoleAdministrator   Role = "administrator"
	RoleShipper         Role = "shipper"
	RoleCarrier         Role = "carrier"
	RoleDriver          Role = "driver"
	RoleDispatcher      Role = "dispatcher"
	RoleCustomerService Role = "customer_service"
	RoleFinance         Role = "finance"
)

// AllRoles lists every role the platform knows about.
var AllRoles = []Role{
	RoleAdministrator,
	RoleShipper,
	RoleCarrier,
	RoleDriver,
	RoleDispatcher,
	RoleCustomerService,
	RoleFinance,
}

// ParseRole normalizes a role string. Unknown roles come back as-is with
// ok=false so callers can decide whether to reject or deny.
func ParseRole(s string) (Role, bool) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range AllRoles {
		if r == known {
			return r, true
		}
	}
	return r, false
}

// Action is the closed set of things a principal can do to a resource.
type Action string

const (
	ActionCreate Action = "create"
	ActionRead   Action = "read"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
	ActionManage Action = "manage"
)

// ParseAction rejects anything outside the enum. Loose action strings at the
// boundary deny rather than accidentally match.
func ParseAction(s string) (Action, bool) {
	switch a := Action(strings.ToLower(strings.TrimSpace(s))); a {
	case ActionCreate, ActionRead, ActionUpdate, ActionDelete, ActionManage:
		return a, true
	default:
		return "", false
	}
}

// WildcardResource grants every action on every resource.
const WildcardResource = "*"

// Permission pairs a resource identifier with the actions allowed on it.
type Permission struct {
	Resource string   `json:"resource" yaml:"resource"`
	Actions  []Action `json:"actions" yaml:"actions"`
}

// Allows reports whether this entry covers the given resource/action pair.
func (p Permission) Allows(resource string, action Action) bool {
	if p.Resource == WildcardResource {
		return true
	}
	if p.Resource != resource {
		return false
	}
	for _, a := range p.Actions {
		if a == action {
			return true
		}
	}
	return false
}

// Principal is a logged-in actor. Permissions are copied from the role table
// at login time and never mutated afterwards; a stale snapshot is refreshed
// only by re-authenticating.
type Principal struct {
	ID          string       `json:"id"`
	Login       string       `json:"login"`
	Role        Role         `json:"role"`
	Permissions []Permission `json:"permissions"`
}
