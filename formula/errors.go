package formula

import (
	"fmt"
	"strings"
)

// ConfigurationError reports a malformed formula or channel selection.
// It is not retryable: the input has to be fixed.
type ConfigurationError struct {
	// Formula is the formula name or file, if known.
	Formula  string
	Problems []string
}

func (e *ConfigurationError) Error() string {
	var sb strings.Builder
	sb.WriteString("invalid formula")
	if e.Formula != "" {
		sb.WriteString(" ")
		sb.WriteString(e.Formula)
	}
	sb.WriteString(": ")
	sb.WriteString(strings.Join(e.Problems, "; "))
	return sb.String()
}

func configErrorf(formula, format string, args ...any) *ConfigurationError {
	return &ConfigurationError{Formula: formula, Problems: []string{fmt.Sprintf(format, args...)}}
}
