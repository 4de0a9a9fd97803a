package auth

// Permission keys checked by the resolver. The endpoint→permission table in
// the HTTP layer references these; both are versioned together with feature
// rollout.
const (
	PermProfileRead     = "profile.read"
	PermProfileWrite    = "profile.write"
	PermLinksRead       = "links.read"
	PermLinksWrite      = "links.write"
	PermAppearanceWrite = "appearance.write"
	PermAnalyticsRead   = "analytics.read"
	PermAPIKeysManage   = "apikeys.manage"
	PermBillingManage   = "billing.manage"
	PermAccountManage   = "account.manage"
	PermAdminUsers      = "admin.users"
)
