package indexer

import (
	"fmt"
	"regexp"
	"strings"
)

var accountIDPattern = regexp.MustCompile(`^(([a-z\d]+[\-_])*[a-z\d]+\.)*([a-z\d]+[\-_])*[a-z\d]+$`)

// ParseAccountIDs trims and validates NEAR account ids. Empty entries are
// skipped.
func ParseAccountIDs(inputs []string) ([]string, error) {
	ids := make([]string, 0, len(inputs))
	for _, input := range inputs {
		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		if !IsValidAccountID(input) {
			return nil, fmt.Errorf("invalid account id: %s", input)
		}
		ids = append(ids, input)
	}
	return ids, nil
}

// IsValidAccountID reports whether id follows NEAR account naming rules.
// Implicit 64 character hex accounts pass as well.
func IsValidAccountID(id string) bool {
	if len(id) < 2 || len(id) > 64 {
		return false
	}
	return accountIDPattern.MatchString(id)
}
