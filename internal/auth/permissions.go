package auth

// Permission represents a named capability in the system.
type Permission string

// Permission constants.
const (
	PermScanView     Permission = "scan:view"
	PermScanOwn      Permission = "scan:own"
	PermTagManage    Permission = "tag:manage"
	PermDeviceManage Permission = "device:manage"
	PermAPIKeyManage Permission = "apikey:manage"
	PermSecurityView Permission = "security:view"
	PermUserManage   Permission = "user:manage"
	PermAdminManage  Permission = "user:manage:admin"
)

// rolePermissions maps each role to its granted permissions.
// This is the single source of truth for the authorisation model.
var rolePermissions = map[Role][]Permission{
	RoleDriver: {
		PermScanOwn,
	},
	RoleAdmin: {
		PermScanView,
		PermScanOwn,
		PermTagManage,
		PermDeviceManage,
		PermAPIKeyManage,
		PermSecurityView,
		PermUserManage,
	},
	RoleSuperAdmin: {
		PermScanView,
		PermScanOwn,
		PermTagManage,
		PermDeviceManage,
		PermAPIKeyManage,
		PermSecurityView,
		PermUserManage,
		PermAdminManage,
	},
}

// HasPermission returns true if the given role has the specified permission.
func HasPermission(role Role, perm Permission) bool {
	for _, p := range rolePermissions[role] {
		if p == perm {
			return true
		}
	}
	return false
}

// PermissionsForRole returns all permissions granted to a role.
// Returns nil for unknown roles.
func PermissionsForRole(role Role) []Permission {
	perms := rolePermissions[role]
	if perms == nil {
		return nil
	}
	result := make([]Permission, len(perms))
	copy(result, perms)
	return result
}
