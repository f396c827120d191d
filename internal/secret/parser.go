package secret

import (
	"fmt"
	"regexp"
	"strings"
)

// refPattern matches ${type:name}
var refPattern = regexp.MustCompile(`\$\{([^:}]+):([^}]+)\}`)

// Parse parses a string that consists of exactly one reference
func Parse(input string) (Ref, error) {
	trimmed := strings.TrimSpace(input)
	m := refPattern.FindStringSubmatch(trimmed)
	if m == nil || m[0] != trimmed {
		return Ref{}, fmt.Errorf("invalid secret reference: %q", input)
	}
	return Ref{
		Type:     strings.TrimSpace(m[1]),
		Name:     strings.TrimSpace(m[2]),
		Original: m[0],
	}, nil
}

// IsRef reports whether input contains a reference
func IsRef(input string) bool {
	return refPattern.MatchString(input)
}

// FindRefs returns every reference in input, in order
func FindRefs(input string) []Ref {
	matches := refPattern.FindAllStringSubmatch(input, -1)
	refs := make([]Ref, 0, len(matches))
	for _, m := range matches {
		refs = append(refs, Ref{
			Type:     strings.TrimSpace(m[1]),
			Name:     strings.TrimSpace(m[2]),
			Original: m[0],
		})
	}
	return refs
}

// Format renders a reference in its ${type:name} form
func Format(secretType, name string) string {
	return fmt.Sprintf("${%s:%s}", secretType, name)
}
