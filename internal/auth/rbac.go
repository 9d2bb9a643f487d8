package auth

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/Newton-b/raphtrack-core/internal/models"
)

// RBAC answers authorization queries against a static role->permission
// table. The table is configuration data loaded once at startup and
// read-only afterwards, so every method is safe for concurrent use
// without locking.
type RBAC struct {
	rolePermissions map[models.Role][]models.Permission
}

// NewRBAC builds the compiled-in default table.
func NewRBAC() *RBAC {
	r := &RBAC{rolePermissions: make(map[models.Role][]models.Permission)}
	r.initializePermissions()
	return r
}

// NewRBACFromFile loads the role table from a YAML file. Unknown role names
// and unknown actions are rejected so a typo in config cannot silently
// create an unreachable grant.
func NewRBACFromFile(path string) (*RBAC, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("rbac: read role table: %w", err)
	}
	var file struct {
		Roles map[string][]models.Permission `yaml:"roles"`
	}
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("rbac: parse role table: %w", err)
	}
	table := make(map[models.Role][]models.Permission, len(file.Roles))
	for name, perms := range file.Roles {
		role, ok := models.ParseRole(name)
		if !ok {
			return nil, fmt.Errorf("rbac: unknown role %q in %s", name, path)
		}
		for _, p := range perms {
			if p.Resource == "" {
				return nil, fmt.Errorf("rbac: role %q has a permission with an empty resource", name)
			}
			for _, a := range p.Actions {
				if _, ok := models.ParseAction(string(a)); !ok {
					return nil, fmt.Errorf("rbac: role %q resource %q has unknown action %q", name, p.Resource, a)
				}
			}
		}
		table[role] = perms
	}
	return &RBAC{rolePermissions: table}, nil
}

func (r *RBAC) initializePermissions() {
	all := []models.Action{models.ActionCreate, models.ActionRead, models.ActionUpdate, models.ActionDelete, models.ActionManage}
	crud := []models.Action{models.ActionCreate, models.ActionRead, models.ActionUpdate}
	readOnly := []models.Action{models.ActionRead}
	readUpdate := []models.Action{models.ActionRead, models.ActionUpdate}

	// Administrator gets the wildcard: every action on every resource.
	r.rolePermissions[models.RoleAdministrator] = []models.Permission{
		{Resource: models.WildcardResource, Actions: all},
	}

	r.rolePermissions[models.RoleShipper] = []models.Permission{
		{Resource: "shipments", Actions: crud},
		{Resource: "quotes", Actions: []models.Action{models.ActionCreate, models.ActionRead}},
		{Resource: "payments", Actions: []models.Action{models.ActionCreate, models.ActionRead}},
		{Resource: "notifications", Actions: readUpdate},
		{Resource: "dashboard", Actions: readOnly},
	}

	r.rolePermissions[models.RoleCarrier] = []models.Permission{
		{Resource: "shipments", Actions: readUpdate},
		{Resource: "routes", Actions: crud},
		{Resource: "fleet", Actions: crud},
		{Resource: "notifications", Actions: readUpdate},
		{Resource: "dashboard", Actions: readOnly},
	}

	r.rolePermissions[models.RoleDriver] = []models.Permission{
		{Resource: "shipments", Actions: readUpdate},
		{Resource: "routes", Actions: readOnly},
		{Resource: "notifications", Actions: readUpdate},
	}

	r.rolePermissions[models.RoleDispatcher] = []models.Permission{
		{Resource: "shipments", Actions: []models.Action{models.ActionCreate, models.ActionRead, models.ActionUpdate, models.ActionDelete}},
		{Resource: "routes", Actions: []models.Action{models.ActionCreate, models.ActionRead, models.ActionUpdate, models.ActionDelete}},
		{Resource: "fleet", Actions: readOnly},
		{Resource: "notifications", Actions: readUpdate},
		{Resource: "dashboard", Actions: readOnly},
	}

	r.rolePermissions[models.RoleCustomerService] = []models.Permission{
		{Resource: "shipments", Actions: readOnly},
		{Resource: "customers", Actions: readUpdate},
		{Resource: "notifications", Actions: []models.Action{models.ActionCreate, models.ActionRead, models.ActionUpdate}},
		{Resource: "dashboard", Actions: readOnly},
	}

	r.rolePermissions[models.RoleFinance] = []models.Permission{
		{Resource: "payments", Actions: []models.Action{models.ActionCreate, models.ActionRead, models.ActionUpdate, models.ActionManage}},
		{Resource: "invoices", Actions: crud},
		{Resource: "reports", Actions: []models.Action{models.ActionCreate, models.ActionRead}},
		{Resource: "dashboard", Actions: readOnly},
	}
}

// PermissionsForRole returns a copy of the role's table entry. The copy is
// the principal's login-time snapshot; handing out the backing slice would
// let callers mutate shared configuration.
func (r *RBAC) PermissionsForRole(role models.Role) []models.Permission {
	perms, ok := r.rolePermissions[role]
	if !ok {
		return nil
	}
	out := make([]models.Permission, len(perms))
	copy(out, perms)
	return out
}

// Roles returns which roles the table defines.
func (r *RBAC) Roles() []models.Role {
	out := make([]models.Role, 0, len(r.rolePermissions))
	for role := range r.rolePermissions {
		out = append(out, role)
	}
	return out
}

// Authorize reports whether the principal may perform action on resource.
// Pure function of the principal's permission snapshot: any-match semantics,
// no precedence or deny rules. A nil principal, empty resource, or unknown
// action always denies and never errors.
func Authorize(p *models.Principal, resource string, action models.Action) bool {
	if p == nil || resource == "" || len(p.Permissions) == 0 {
		return false
	}
	if _, ok := models.ParseAction(string(action)); !ok {
		return false
	}
	for _, perm := range p.Permissions {
		if perm.Allows(resource, action) {
			return true
		}
	}
	return false
}
