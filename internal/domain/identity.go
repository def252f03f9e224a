package domain

import "strings"

// Identity addresses a service either by alias or by owner/name.
// A resolved Identity never carries both.
type Identity struct {
	Alias string
	Owner string
	Name  string
}

// ResolveIdentity applies the lookup precedence rules.
//
// An alias of the form "owner/name" (exactly one slash, both sides
// non-empty) is read as an owner/name pair. This means an alias registered
// literally with a slash in it cannot be looked up by alias.
func ResolveIdentity(alias, owner, name string) Identity {
	if alias != "" {
		if o, n, ok := splitQualified(alias); ok {
			return Identity{Owner: o, Name: n}
		}
		return Identity{Alias: alias}
	}
	return Identity{Owner: owner, Name: name}
}

func splitQualified(s string) (string, string, bool) {
	if strings.Count(s, "/") != 1 {
		return "", "", false
	}
	owner, name, _ := strings.Cut(s, "/")
	if owner == "" || name == "" {
		return "", "", false
	}
	return owner, name, true
}

// ByAlias reports whether the identity is an alias lookup.
func (id Identity) ByAlias() bool {
	return id.Alias != ""
}

// Valid reports whether the identity can address a service at all.
func (id Identity) Valid() bool {
	return id.Alias != "" || (id.Owner != "" && id.Name != "")
}

// QualifiedName returns "owner/name".
func QualifiedName(owner, name string) string {
	return owner + "/" + name
}

// String is the alias, or the qualified name.
func (id Identity) String() string {
	if id.ByAlias() {
		return id.Alias
	}
	return QualifiedName(id.Owner, id.Name)
}
