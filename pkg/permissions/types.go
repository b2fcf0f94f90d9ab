// Package permissions implements the RBAC engine of spec.md §4.G:
// roles with single inheritance, user role assignments with optional
// expiry, effective-permission computation with invalidated caching,
// and a bounded, retention-governed audit log.
package permissions

import "time"

// Permission enumerates the operations a role may grant, per spec.md §3.
type Permission string

const (
	PermFileRead     Permission = "file.read"
	PermFileWrite    Permission = "file.write"
	PermFileDelete   Permission = "file.delete"
	PermClipboardRead  Permission = "clipboard.read"
	PermClipboardWrite Permission = "clipboard.write"
	PermMessageSend    Permission = "message.send"
	PermMessageReceive Permission = "message.receive"
	PermDeviceConnect  Permission = "device.connect"
	PermDeviceManage   Permission = "device.manage"
	PermStorageRead    Permission = "storage.read"
	PermStorageWrite   Permission = "storage.write"
	PermCertIssue      Permission = "cert.issue"
	PermCertRevoke     Permission = "cert.revoke"
	PermAdmin          Permission = "admin.*"
)

// Role owns a permission set and may inherit from a single parent role.
type Role struct {
	ID           string
	Name         string
	Permissions  map[Permission]struct{}
	ParentRoleID string
	Enabled      bool
	CreatedAt    time.Time
}

// HasDirect reports whether the role itself (ignoring inheritance) grants p.
func (r *Role) HasDirect(p Permission) bool {
	if r.Permissions == nil {
		return false
	}
	_, ok := r.Permissions[p]
	return ok
}

// Assignment binds a user to a role, with an optional expiry.
type Assignment struct {
	UserID    string
	RoleID    string
	ExpiresAt *time.Time
	Enabled   bool
	CreatedAt time.Time
}

func (a *Assignment) active(now time.Time) bool {
	if !a.Enabled {
		return false
	}
	if a.ExpiresAt != nil && now.After(*a.ExpiresAt) {
		return false
	}
	return true
}

// Result is the outcome recorded against an audit entry.
type Result string

const (
	ResultSuccess Result = "success"
	ResultDenied  Result = "denied"
	ResultFailure Result = "failure"
)

// AuditEntry records one mutation or permission check, per spec.md §4.G.
type AuditEntry struct {
	ID          string
	Operation   string
	Operator    string
	Target      string
	Permission  Permission
	Timestamp   time.Time
	Result      Result
	Description string
}

// defaultRoles returns the admin/user/guest roles created on first run.
func defaultRoles(now time.Time) []*Role {
	return []*Role{
		{
			ID:   "admin",
			Name: "admin",
			Permissions: map[Permission]struct{}{
				PermAdmin: {},
			},
			Enabled:   true,
			CreatedAt: now,
		},
		{
			ID:   "user",
			Name: "user",
			Permissions: map[Permission]struct{}{
				PermFileRead: {}, PermFileWrite: {},
				PermClipboardRead: {}, PermClipboardWrite: {},
				PermMessageSend: {}, PermMessageReceive: {},
				PermDeviceConnect: {},
				PermStorageRead:   {}, PermStorageWrite: {},
			},
			Enabled:   true,
			CreatedAt: now,
		},
		{
			ID:   "guest",
			Name: "guest",
			Permissions: map[Permission]struct{}{
				PermFileRead:      {},
				PermClipboardRead: {},
				PermMessageReceive: {},
			},
			Enabled:   true,
			CreatedAt: now,
		},
	}
}
