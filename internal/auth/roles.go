package auth

import (
	"fmt"
	"strings"
)

// Role names admitted by the allow-list. Any stored value outside this set
// is treated as data corruption and rejected, never silently defaulted.
const (
	RoleAdmin      = "admin"
	RoleUser       = "user"
	RoleManager    = "manager"
	RoleSubAccount = "subaccount"
)

var allowedRoles = map[string]struct{}{
	RoleAdmin:      {},
	RoleUser:       {},
	RoleManager:    {},
	RoleSubAccount: {},
}

// rolePermissions maps each allowed role to its default permission list.
var rolePermissions = map[string][]string{
	RoleAdmin: {
		PermProfileRead,
		PermProfileWrite,
		PermLinksRead,
		PermLinksWrite,
		PermAppearanceWrite,
		PermAnalyticsRead,
		PermAPIKeysManage,
		PermBillingManage,
		PermAccountManage,
		PermAdminUsers,
	},
	RoleUser: {
		PermProfileRead,
		PermProfileWrite,
		PermLinksRead,
		PermLinksWrite,
		PermAppearanceWrite,
		PermAnalyticsRead,
		PermAPIKeysManage,
		PermBillingManage,
		PermAccountManage,
	},
	RoleManager: {
		PermProfileRead,
		PermProfileWrite,
		PermLinksRead,
		PermLinksWrite,
		PermAppearanceWrite,
		PermAnalyticsRead,
	},
	RoleSubAccount: {
		PermProfileRead,
		PermProfileWrite,
		PermLinksRead,
		PermLinksWrite,
		PermAppearanceWrite,
	},
}

// delegateScope bounds what any delegation edge may grant, regardless of the
// edge's role. Billing and administration never cross a delegation boundary.
var delegateScope = map[string]struct{}{
	PermProfileRead:     {},
	PermProfileWrite:    {},
	PermLinksRead:       {},
	PermLinksWrite:      {},
	PermAppearanceWrite: {},
	PermAnalyticsRead:   {},
}

// CanonicalRole resolves a user record's role: the single role field when
// present, otherwise the first element of the legacy roles list. A value
// outside the allow-list is a hard error so corrupted data cannot escalate
// or de-escalate privilege silently.
func CanonicalRole(role string, legacyRoles []string) (string, error) {
	candidate := strings.TrimSpace(strings.ToLower(role))
	if candidate == "" {
		for _, r := range legacyRoles {
			r = strings.TrimSpace(strings.ToLower(r))
			if r != "" {
				candidate = r
				break
			}
		}
	}
	if candidate == "" {
		return "", fmt.Errorf("%w: empty role", ErrUnknownRole)
	}
	if _, ok := allowedRoles[candidate]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownRole, candidate)
	}
	return candidate, nil
}

// PermissionsForRole returns a copy of the role's default permission list.
// Unknown roles yield an empty list; callers are expected to have resolved
// the role through CanonicalRole first.
func PermissionsForRole(role string) []string {
	perms, ok := rolePermissions[role]
	if !ok {
		return nil
	}
	out := make([]string, len(perms))
	copy(out, perms)
	return out
}

// DelegatePermissionsForRole derives the permission set a management edge
// grants: the edge role's defaults intersected with the delegate scope.
func DelegatePermissionsForRole(role string) []string {
	var out []string
	for _, p := range rolePermissions[role] {
		if _, ok := delegateScope[p]; ok {
			out = append(out, p)
		}
	}
	return out
}
