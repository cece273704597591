package auth

import "strings"

// rolePermissions maps each role to its grants. A trailing "*" in a grant
// matches any permission with that prefix; the bare "*" grants everything.
var rolePermissions = map[string][]string{
	"admin":   {"*"},
	"manager": {"read:*", "write:campaigns", "write:analytics"},
	"analyst": {"read:*", "write:analytics"},
	"editor":  {"read:campaigns", "write:campaigns"},
	"viewer":  {"read:campaigns", "read:analytics"},
}

// PermissionsForRole returns the grants for a role. Unknown roles get none.
func PermissionsForRole(role string) []string {
	return rolePermissions[role]
}

// HasPermission reports whether the grants cover the required permission.
func HasPermission(granted []string, required string) bool {
	for _, permission := range granted {
		if permission == "*" || permission == required {
			return true
		}
		if strings.HasSuffix(permission, "*") &&
			strings.HasPrefix(required, strings.TrimSuffix(permission, "*")) {
			return true
		}
	}
	return false
}
