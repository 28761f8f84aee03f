package build

import (
	"fmt"
	"strings"
)

// PrefixConflictError reports an install prefix that cannot be used: it holds
// an unrelated install and the policy is RejectPrefix, or another install is
// running against it.
type PrefixConflictError struct {
	Prefix string
	Reason string
}

func (e *PrefixConflictError) Error() string {
	return fmt.Sprintf("install prefix %s: %s", e.Prefix, e.Reason)
}

// BuildError reports a failed build step. Output holds the captured output of
// the external tool, verbatim. Build errors are never retried.
type BuildError struct {
	// Op is the failing step: "dependency", "build", "install" or "toolchain".
	Op      string
	Command []string
	Dir     string
	// ExitCode is the exit code of the command, or -1 if it did not run to completion.
	ExitCode int
	Output   string
	Err      error
}

func (e *BuildError) Error() string {
	var sb strings.Builder
	sb.WriteString(e.Op)
	sb.WriteString(" failed")
	if len(e.Command) > 0 {
		sb.WriteString(": ")
		sb.WriteString(strings.Join(e.Command, " "))
	}
	if e.Err != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Err.Error())
	}
	if out := strings.TrimSpace(e.Output); out != "" {
		sb.WriteString("\n")
		sb.WriteString(out)
	}
	return sb.String()
}

func (e *BuildError) Unwrap() error {
	return e.Err
}
