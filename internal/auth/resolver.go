package auth

import "fmt"

// Decision is the outcome of an authorization check. Reason is a
// human-readable diagnostic for the log sink; it is never returned to the
// caller verbatim in production.
type Decision struct {
	Allowed bool
	Reason  string
}

func deny(format string, args ...any) Decision {
	return Decision{Allowed: false, Reason: fmt.Sprintf(format, args...)}
}

var allowed = Decision{Allowed: true}

// Authorize computes whether the principal may perform an operation
// requiring the given permissions in the requested context. Evaluation
// order is fixed:
//
//  1. company context: the membership's permission set alone decides;
//  2. delegated context (contextUserID differs from the owner): an
//     accepted management edge must cover every required permission, and
//     for API key credentials the key's own scope must cover them too;
//  3. own context: the credential's own permission set decides.
func Authorize(required []string, p Principal, contextUserID, contextCompanyID string) Decision {
	if contextCompanyID != "" {
		membership, ok := p.MembershipFor(contextCompanyID)
		if !ok {
			return deny("user %s has no membership in company %s", p.UserID, contextCompanyID)
		}
		if missing, ok := containsAll(membership.Permissions, required); !ok {
			return deny("company membership %s lacks permission %s", contextCompanyID, missing)
		}
		return allowed
	}

	if contextUserID != "" && contextUserID != p.UserID {
		link, ok := p.LinkFor(contextUserID)
		if !ok {
			return deny("no management relationship from %s to %s", p.UserID, contextUserID)
		}
		if missing, ok := containsAll(link.Permissions, required); !ok {
			return deny("management edge to %s lacks permission %s", contextUserID, missing)
		}
		// A key cannot reach further than it was issued for, even with
		// a valid delegation.
		if p.AuthMode == ModeAPIKey {
			if missing, ok := containsAll(p.Permissions, required); !ok {
				return deny("api key scope lacks permission %s for delegated access to %s", missing, contextUserID)
			}
		}
		return allowed
	}

	if missing, ok := containsAll(p.Permissions, required); !ok {
		return deny("credential lacks permission %s", missing)
	}
	return allowed
}

// containsAll reports whether every required key is present in the set,
// returning the first missing key on failure.
func containsAll(set, required []string) (string, bool) {
	for _, want := range required {
		found := false
		for _, have := range set {
			if have == want {
				found = true
				break
			}
		}
		if !found {
			return want, false
		}
	}
	return "", true
}
