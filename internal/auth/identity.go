package auth

import (
	"errors"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/Newton-b/raphtrack-core/internal/models"
)

// Common errors
var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUserNotFound       = errors.New("user not found")
	ErrUnknownRole        = errors.New("unknown role")
)

type staticUser struct {
	id       string
	login    string
	password string // bcrypt hash or plaintext for demo specs
	role     models.Role
}

// StaticIdentityProvider holds in-memory users for demos and tests. The real
// platform hands authentication to an external identity provider; this core
// only needs the (principal id, role) pair it produces.
type StaticIdentityProvider struct {
	users map[string]staticUser // key: login, lowercase
	rbac  *RBAC
}

// NewStaticIdentityProvider parses user specs of the form
// "login:password:role", comma handling left to the config layer. Malformed
// entries are skipped.
func NewStaticIdentityProvider(specs []string, rbac *RBAC) *StaticIdentityProvider {
	p := &StaticIdentityProvider{users: map[string]staticUser{}, rbac: rbac}
	for _, s := range specs {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		parts := strings.SplitN(s, ":", 3)
		if len(parts) < 3 {
			continue
		}
		role, ok := models.ParseRole(parts[2])
		if !ok {
			continue
		}
		login := strings.ToLower(parts[0])
		p.users[login] = staticUser{
			id:       "usr-" + login,
			login:    parts[0],
			password: parts[1],
			role:     role,
		}
	}
	return p
}

// Authenticate checks credentials and returns a Principal whose permission
// list is snapshotted from the role table at this moment. The snapshot is
// never refreshed in place; a role-table change only reaches the principal
// through a fresh login.
func (p *StaticIdentityProvider) Authenticate(login, password string) (*models.Principal, error) {
	u, ok := p.users[strings.ToLower(login)]
	if !ok {
		return nil, ErrUserNotFound
	}
	if !verifyPassword(password, u.password) {
		return nil, ErrInvalidCredentials
	}
	return p.PrincipalFor(u.id, u.login, u.role)
}

// PrincipalFor materializes a principal for an already-authenticated actor,
// copying the role's permissions. Used by the login path and by the
// middleware when it rebuilds a principal from token claims.
func (p *StaticIdentityProvider) PrincipalFor(id, login string, role models.Role) (*models.Principal, error) {
	perms := p.rbac.PermissionsForRole(role)
	if perms == nil {
		return nil, ErrUnknownRole
	}
	return &models.Principal{
		ID:          id,
		Login:       login,
		Role:        role,
		Permissions: perms,
	}, nil
}

func verifyPassword(given, stored string) bool {
	if strings.HasPrefix(stored, "$2a$") || strings.HasPrefix(stored, "$2b$") || strings.HasPrefix(stored, "$2y$") {
		return bcrypt.CompareHashAndPassword([]byte(stored), []byte(given)) == nil
	}
	// Plaintext spec entries are accepted for local demos.
	return stored != "" && stored == given
}

// HashPassword produces a bcrypt hash for static user specs.
func HashPassword(password string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}
