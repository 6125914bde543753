package render

import (
	"fmt"
	"regexp"
	"strings"
)

var unresolvedPattern = regexp.MustCompile(`\{\{\{?[^{}]*\}?\}\}`)

// UnresolvedTokens returns the distinct token-like fragments left in the
// given rendered parts, in order of first appearance
func UnresolvedTokens(parts ...string) []string {
	seen := map[string]bool{}
	var found []string
	for _, part := range parts {
		for _, m := range unresolvedPattern.FindAllString(part, -1) {
			if !seen[m] {
				seen[m] = true
				found = append(found, m)
			}
		}
	}
	return found
}

// UnknownTokenError is returned when rendered output still contains token syntax
type UnknownTokenError struct {
	Tokens []string
}

func (e *UnknownTokenError) Error() string {
	return fmt.Sprintf("unknown token(s): %s", strings.Join(e.Tokens, ", "))
}

// Gate fails when any part still contains unresolved tokens
func Gate(parts ...string) error {
	if tokens := UnresolvedTokens(parts...); len(tokens) > 0 {
		return &UnknownTokenError{Tokens: tokens}
	}
	return nil
}
