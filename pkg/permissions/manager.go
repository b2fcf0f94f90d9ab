package permissions

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nostalgiatan/bey-sub000/pkg/beyerr"
)

// Manager owns the role/assignment registry, the effective-permission
// cache, and the audit log, per spec.md §4.G.
type Manager struct {
	mu          sync.RWMutex
	roles       map[string]*Role
	assignments map[string][]*Assignment // userID -> assignments

	cacheMu sync.Mutex
	cache   map[string]map[Permission]struct{} // userID -> effective permission set

	audit *auditLog
}

// NewManager creates a Manager seeded with the default admin/user/guest
// roles created on first run.
func NewManager(maxAuditEntries, auditRetentionDays int) *Manager {
	m := &Manager{
		roles:       make(map[string]*Role),
		assignments: make(map[string][]*Assignment),
		cache:       make(map[string]map[Permission]struct{}),
		audit:       newAuditLog(maxAuditEntries, auditRetentionDays),
	}
	for _, r := range defaultRoles(time.Now()) {
		m.roles[r.ID] = r
	}
	return m
}

// CreateRole registers a new role. Returns an error if the ID is taken or
// the parent role does not exist.
func (m *Manager) CreateRole(operator string, r *Role) error {
	m.mu.Lock()
	if _, exists := m.roles[r.ID]; exists {
		m.mu.Unlock()
		m.record(operator, "create_role", r.ID, "", ResultFailure, "role already exists")
		return beyerr.Validation(beyerr.CodePermissionsBase+1, "role already exists: "+r.ID)
	}
	if r.ParentRoleID != "" {
		if _, ok := m.roles[r.ParentRoleID]; !ok {
			m.mu.Unlock()
			m.record(operator, "create_role", r.ID, "", ResultFailure, "parent role not found")
			return beyerr.Validation(beyerr.CodePermissionsBase+2, "parent role not found: "+r.ParentRoleID)
		}
	}
	if r.Permissions == nil {
		r.Permissions = make(map[Permission]struct{})
	}
	r.CreatedAt = time.Now()
	m.roles[r.ID] = r
	m.mu.Unlock()

	m.record(operator, "create_role", r.ID, "", ResultSuccess, "")
	return nil
}

// DeleteRole removes a role. Roles referenced as another role's parent
// cannot be deleted.
func (m *Manager) DeleteRole(operator, roleID string) error {
	m.mu.Lock()
	for _, r := range m.roles {
		if r.ParentRoleID == roleID {
			m.mu.Unlock()
			m.record(operator, "delete_role", roleID, "", ResultFailure, "role is a parent of another role")
			return beyerr.Validation(beyerr.CodePermissionsBase+3, "role is referenced as a parent: "+roleID)
		}
	}
	delete(m.roles, roleID)
	m.mu.Unlock()

	m.invalidateAll()
	m.record(operator, "delete_role", roleID, "", ResultSuccess, "")
	return nil
}

// Grant adds a permission to a role.
func (m *Manager) Grant(operator, roleID string, p Permission) error {
	m.mu.Lock()
	r, ok := m.roles[roleID]
	if !ok {
		m.mu.Unlock()
		m.record(operator, "grant", roleID, string(p), ResultFailure, "role not found")
		return beyerr.Validation(beyerr.CodePermissionsBase+4, "role not found: "+roleID)
	}
	r.Permissions[p] = struct{}{}
	m.mu.Unlock()

	m.invalidateAll()
	m.record(operator, "grant", roleID, string(p), ResultSuccess, "")
	return nil
}

// Revoke removes a permission from a role.
func (m *Manager) Revoke(operator, roleID string, p Permission) error {
	m.mu.Lock()
	r, ok := m.roles[roleID]
	if !ok {
		m.mu.Unlock()
		m.record(operator, "revoke", roleID, string(p), ResultFailure, "role not found")
		return beyerr.Validation(beyerr.CodePermissionsBase+4, "role not found: "+roleID)
	}
	delete(r.Permissions, p)
	m.mu.Unlock()

	m.invalidateAll()
	m.record(operator, "revoke", roleID, string(p), ResultSuccess, "")
	return nil
}

// Assign assigns userID to roleID, with an optional expiry.
func (m *Manager) Assign(operator, userID, roleID string, expiresAt *time.Time) error {
	m.mu.Lock()
	if _, ok := m.roles[roleID]; !ok {
		m.mu.Unlock()
		m.record(operator, "assign", userID, "", ResultFailure, "role not found: "+roleID)
		return beyerr.Validation(beyerr.CodePermissionsBase+4, "role not found: "+roleID)
	}
	m.assignments[userID] = append(m.assignments[userID], &Assignment{
		UserID: userID, RoleID: roleID, ExpiresAt: expiresAt, Enabled: true, CreatedAt: time.Now(),
	})
	m.mu.Unlock()

	m.invalidateUser(userID)
	m.record(operator, "assign", userID, "", ResultSuccess, "role="+roleID)
	return nil
}

// Unassign disables userID's assignment to roleID.
func (m *Manager) Unassign(operator, userID, roleID string) error {
	m.mu.Lock()
	found := false
	for _, a := range m.assignments[userID] {
		if a.RoleID == roleID && a.Enabled {
			a.Enabled = false
			found = true
		}
	}
	m.mu.Unlock()

	if !found {
		m.record(operator, "unassign", userID, "", ResultFailure, "assignment not found: "+roleID)
		return beyerr.Validation(beyerr.CodePermissionsBase+5, "assignment not found for role: "+roleID)
	}
	m.invalidateUser(userID)
	m.record(operator, "unassign", userID, "", ResultSuccess, "role="+roleID)
	return nil
}

// EffectivePermissions computes the union of permissions granted to userID
// through every active assignment and the transitive closure of parent
// roles, per spec.md §3. Results are cached until invalidated.
func (m *Manager) EffectivePermissions(userID string) map[Permission]struct{} {
	m.cacheMu.Lock()
	if cached, ok := m.cache[userID]; ok {
		m.cacheMu.Unlock()
		return cached
	}
	m.cacheMu.Unlock()

	m.mu.RLock()
	now := time.Now()
	effective := make(map[Permission]struct{})
	for _, a := range m.assignments[userID] {
		if !a.active(now) {
			continue
		}
		m.collectRolePermissions(a.RoleID, effective, make(map[string]struct{}))
	}
	m.mu.RUnlock()

	m.cacheMu.Lock()
	m.cache[userID] = effective
	m.cacheMu.Unlock()
	return effective
}

// collectRolePermissions walks parent_role_id, skipping disabled roles and
// guarding against cycles via visited. Caller holds m.mu for reading.
func (m *Manager) collectRolePermissions(roleID string, out map[Permission]struct{}, visited map[string]struct{}) {
	if _, seen := visited[roleID]; seen {
		return
	}
	visited[roleID] = struct{}{}

	r, ok := m.roles[roleID]
	if !ok || !r.Enabled {
		return
	}
	for p := range r.Permissions {
		out[p] = struct{}{}
	}
	if r.ParentRoleID != "" {
		m.collectRolePermissions(r.ParentRoleID, out, visited)
	}
}

// CheckPermission reports whether userID's effective permissions include p
// (or the PermAdmin wildcard), recording an audit entry either way.
func (m *Manager) CheckPermission(operator, userID string, p Permission) bool {
	perms := m.EffectivePermissions(userID)
	_, direct := perms[p]
	_, admin := perms[PermAdmin]
	allowed := direct || admin

	result := ResultDenied
	if allowed {
		result = ResultSuccess
	}
	m.record(operator, "check_permission", userID, string(p), result, "")
	return allowed
}

func (m *Manager) invalidateUser(userID string) {
	m.cacheMu.Lock()
	delete(m.cache, userID)
	m.cacheMu.Unlock()
}

func (m *Manager) invalidateAll() {
	m.cacheMu.Lock()
	m.cache = make(map[string]map[Permission]struct{})
	m.cacheMu.Unlock()
}

func (m *Manager) record(operator, operation, target, permission string, result Result, desc string) {
	m.audit.append(AuditEntry{
		ID:          uuid.NewString(),
		Operation:   operation,
		Operator:    operator,
		Target:      target,
		Permission:  Permission(permission),
		Timestamp:   time.Now(),
		Result:      result,
		Description: desc,
	})
}

// AuditEntries returns a snapshot of the retained audit log.
func (m *Manager) AuditEntries() []AuditEntry { return m.audit.all() }

// Role returns a role by ID, or false if it does not exist.
func (m *Manager) Role(roleID string) (*Role, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.roles[roleID]
	return r, ok
}
