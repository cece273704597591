package oauth2

// Scopes maps every grantable scope to its consent-screen description.
var Scopes = map[string]string{
	"read:campaigns":  "Read access to marketing campaigns",
	"write:campaigns": "Write access to marketing campaigns",
	"read:analytics":  "Read access to analytics data",
	"write:analytics": "Write access to analytics data",
	"read:users":      "Read access to user data",
	"write:users":     "Write access to user data",
	"admin":           "Full administrative access",
}

// DefaultScope applies when a client registers or requests tokens without
// naming any scope.
const DefaultScope = "read:campaigns"

// filterScopes drops unknown scopes instead of rejecting the request.
func filterScopes(requested []string) []string {
	var valid []string
	for _, scope := range requested {
		if _, ok := Scopes[scope]; ok {
			valid = append(valid, scope)
		}
	}
	return valid
}

// ScopeDescription is one consent-screen line item.
type ScopeDescription struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

func describeScopes(scopes []string) []ScopeDescription {
	out := make([]ScopeDescription, 0, len(scopes))
	for _, scope := range scopes {
		description, ok := Scopes[scope]
		if !ok {
			description = scope
		}
		out = append(out, ScopeDescription{Name: scope, Description: description})
	}
	return out
}
