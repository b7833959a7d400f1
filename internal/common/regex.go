package common

import (
	"fmt"
	"regexp"
	"strings"
)

// CompileInsensitive compiles pattern as a case-insensitive regex. A pattern
// that already carries an (?i) flag is compiled as-is.
func CompileInsensitive(pattern string) (*regexp.Regexp, error) {
	if strings.TrimSpace(pattern) == "" {
		return nil, NewValidationError("pattern", "must not be empty")
	}
	if !strings.HasPrefix(pattern, "(?i)") {
		pattern = "(?i)" + pattern
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidation, err)
	}
	return re, nil
}
