package httpapi

import "linkto.me/internal/auth"

// endpointPermissions is the static endpoint→permission table. Endpoints on
// the api/v1 surface are aliased into the admin namespace before lookup, so
// this table covers both. An endpoint absent from the table fails closed
// with 403 on both the session and API-key paths.
var endpointPermissions = map[string][]string{
	"admin/getProfile":    {auth.PermProfileRead},
	"admin/updateProfile": {auth.PermProfileWrite},
	"admin/getLinks":      {auth.PermLinksRead},
	"admin/createApiKey":  {auth.PermAPIKeysManage},
	"admin/getApiKeys":    {auth.PermAPIKeysManage},
	"admin/revokeApiKey":  {auth.PermAPIKeysManage},
}

// publicEndpoints names the anonymous handlers; the sensitive set runs the
// suspicion and anonymous rate-limit gates first.
var sensitivePublicEndpoints = map[string]struct{}{
	"public/login":   {},
	"public/signup":  {},
	"public/refresh": {},
}
