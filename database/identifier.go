package database

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
)

// ErrInvalidIdentifier is returned when a table or column name fails the allow-list.
var ErrInvalidIdentifier = errors.New("invalid identifier")

// ErrInvalidLiteral is returned when a catalog value fails the literal allow-list.
var ErrInvalidLiteral = errors.New("invalid literal")

// Identifiers are interpolated into SQL, so only plain names are accepted:
// a letter or underscore followed by letters, digits, underscores or '$',
// at most 63 bytes (the PostgreSQL NAMEDATALEN limit).
var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_$]{0,62}$`)

// Literal values come from the catalog (module names, model names, registry
// states, asset prefixes) and are restricted to dotted names with inner spaces.
var literalPattern = regexp.MustCompile(`^[A-Za-z0-9_][A-Za-z0-9_. \-]{0,127}$`)

// ValidateIdentifier checks that name is safe to interpolate as an identifier.
func ValidateIdentifier(name string) error {
	if !identifierPattern.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidIdentifier, name)
	}
	return nil
}

// ValidateLiteral checks that value is safe to interpolate as a quoted literal.
func ValidateLiteral(value string) error {
	if !literalPattern.MatchString(value) {
		return fmt.Errorf("%w: %q", ErrInvalidLiteral, value)
	}
	return nil
}

// Allowlist is the set of identifiers enumerated from a live schema.
// A name is usable only if it passes ValidateIdentifier and was enumerated.
type Allowlist struct {
	names map[string]struct{}
}

// NewAllowlist builds an allow-list from enumerated names. Names that fail
// ValidateIdentifier are dropped so they can never be interpolated.
func NewAllowlist(names ...string) *Allowlist {
	a := &Allowlist{names: make(map[string]struct{}, len(names))}
	for _, n := range names {
		if ValidateIdentifier(n) == nil {
			a.names[n] = struct{}{}
		}
	}
	return a
}

// Contains reports whether name was enumerated and is a valid identifier.
func (a *Allowlist) Contains(name string) bool {
	if a == nil {
		return false
	}
	_, ok := a.names[name]
	return ok
}

// Check returns an error unless name is allowed.
func (a *Allowlist) Check(name string) error {
	if err := ValidateIdentifier(name); err != nil {
		return err
	}
	if !a.Contains(name) {
		return fmt.Errorf("%w: %q is not part of the enumerated schema", ErrInvalidIdentifier, name)
	}
	return nil
}

// Names returns the allowed names in sorted order.
func (a *Allowlist) Names() []string {
	if a == nil {
		return nil
	}
	out := make([]string, 0, len(a.names))
	for n := range a.names {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
