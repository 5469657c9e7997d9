package authz

import "strings"

// Capability is the access level a route demands.
type Capability int

const (
	// Public routes proceed with or without an identity.
	Public Capability = iota
	// Authenticated routes require any verified identity.
	Authenticated
	// Restricted routes require an identity whose role is in the rule's set.
	Restricted
)

// Rule binds one (method, path pattern) pair to a required capability.
// Patterns are literal path segments with chi-style placeholders, e.g.
// "/schools/{id}/validate-teacher/{teacherId}".
type Rule struct {
	Method     string
	Pattern    string
	Capability Capability
	Roles      []string
}

func Allow(method, pattern string) Rule {
	return Rule{Method: method, Pattern: pattern, Capability: Public}
}

func Authed(method, pattern string) Rule {
	return Rule{Method: method, Pattern: pattern, Capability: Authenticated}
}

func RoleIn(method, pattern string, roles ...string) Rule {
	return Rule{Method: method, Pattern: pattern, Capability: Restricted, Roles: roles}
}

// Policy is the static route table consulted by the middleware. It is
// built once at startup and never mutated afterwards.
type Policy struct {
	rules []Rule
}

func NewPolicy(rules ...Rule) *Policy {
	return &Policy{rules: rules}
}

// Lookup returns the first rule matching the request. Routes absent from
// the table fail closed: the second return is false and callers must
// treat the route as denied.
func (p *Policy) Lookup(method, path string) (Rule, bool) {
	for _, rule := range p.rules {
		if rule.Method == method && matchPattern(rule.Pattern, path) {
			return rule, true
		}
	}
	return Rule{}, false
}

// Permits reports whether the rule admits the given role.
func (r Rule) Permits(role string) bool {
	if r.Capability != Restricted {
		return true
	}
	for _, allowed := range r.Roles {
		if allowed == role {
			return true
		}
	}
	return false
}

func matchPattern(pattern, path string) bool {
	patternParts := splitPath(pattern)
	pathParts := splitPath(path)
	if len(patternParts) != len(pathParts) {
		return false
	}
	for i, part := range patternParts {
		if strings.HasPrefix(part, "{") && strings.HasSuffix(part, "}") {
			if pathParts[i] == "" {
				return false
			}
			continue
		}
		if part != pathParts[i] {
			return false
		}
	}
	return true
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}
