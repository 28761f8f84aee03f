// Package verify runs smoke tests against a generated launcher.
package verify

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/goplus/llinstall/formula"
)

// VerificationFailure reports a test case whose run did not meet its
// expectations. Output is the captured combined output, verbatim.
type VerificationFailure struct {
	Index       int
	Name        string
	Args        []string
	WantExit    int
	GotExit     int
	MustContain string
	Output      string
	Reason      string
}

func (e *VerificationFailure) Error() string {
	return fmt.Sprintf("%s %q: %s", e.Name, strings.Join(e.Args, " "), e.Reason)
}

// Outcome is the result of one test case. Failure is nil if it passed.
type Outcome struct {
	Index    int
	Name     string
	Args     []string
	ExitCode int
	Output   string
	Failure  *VerificationFailure
}

// Passed reports whether the case met all its expectations.
func (o Outcome) Passed() bool {
	return o.Failure == nil
}

// Options configures Run.
type Options struct {
	// WorkDir is where test sandboxes are created. Defaults to os.TempDir().
	WorkDir string
	// Env is added to the environment of every case.
	Env []string
	// Keep leaves the sandboxes in place for inspection.
	Keep   bool
	Logger *log.Logger
}

// Run runs every case against the launcher at wrapper, in order, and
// returns their outcomes. A failing case never stops later cases.
//
// Each case runs in a fresh sandbox directory, used as both the working
// directory and HOME, populated from the case's setup.
func Run(ctx context.Context, wrapper string, cases []formula.TestCase, opts Options) []Outcome {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	outcomes := make([]Outcome, 0, len(cases))
	for i, tc := range cases {
		o := runCase(ctx, wrapper, i, tc, opts)
		if o.Passed() {
			logger.Info("test passed", "test", o.Name)
		} else {
			logger.Error("test failed", "test", o.Name, "reason", o.Failure.Reason)
		}
		outcomes = append(outcomes, o)
	}
	return outcomes
}

func runCase(ctx context.Context, wrapper string, i int, tc formula.TestCase, opts Options) Outcome {
	o := Outcome{
		Index:    i,
		Name:     tc.Label(i),
		Args:     tc.Args,
		ExitCode: -1,
	}
	fail := func(reason string) Outcome {
		o.Failure = &VerificationFailure{
			Index:       i,
			Name:        o.Name,
			Args:        tc.Args,
			WantExit:    tc.ExitCode,
			GotExit:     o.ExitCode,
			MustContain: tc.MustContain,
			Output:      o.Output,
			Reason:      reason,
		}
		return o
	}

	sandbox, err := os.MkdirTemp(opts.WorkDir, "llinstall-test-*")
	if err != nil {
		return fail("sandbox: " + err.Error())
	}
	if !opts.Keep {
		defer os.RemoveAll(sandbox)
	}
	if err := setup(sandbox, tc.Setup); err != nil {
		return fail("sandbox: " + err.Error())
	}

	cmd := exec.CommandContext(ctx, wrapper, tc.Args...)
	cmd.Dir = sandbox
	cmd.Env = append(append(os.Environ(), opts.Env...), "HOME="+sandbox)
	out, err := cmd.CombinedOutput()
	o.Output = string(out)
	var exitErr *exec.ExitError
	switch {
	case err == nil:
		o.ExitCode = 0
	case errors.As(err, &exitErr):
		o.ExitCode = exitErr.ExitCode()
	default:
		return fail("run: " + err.Error())
	}

	var reasons []string
	if o.ExitCode != tc.ExitCode {
		reasons = append(reasons, fmt.Sprintf("exit code %d, want %d", o.ExitCode, tc.ExitCode))
	}
	if !strings.Contains(o.Output, tc.MustContain) {
		reasons = append(reasons, fmt.Sprintf("output does not contain %q", tc.MustContain))
	}
	if tc.Match != "" {
		re, err := regexp.Compile(tc.Match)
		if err != nil {
			reasons = append(reasons, fmt.Sprintf("match: %v", err))
		} else if !re.MatchString(o.Output) {
			reasons = append(reasons, fmt.Sprintf("output does not match %q", tc.Match))
		}
	}
	if len(reasons) > 0 {
		return fail(strings.Join(reasons, "; "))
	}
	return o
}

// setup materializes the directories and empty files of s inside dir.
func setup(dir string, s formula.TestSetup) error {
	for _, d := range s.Dirs {
		if err := os.MkdirAll(filepath.Join(dir, d), 0o755); err != nil {
			return err
		}
	}
	for _, f := range s.Files {
		path := filepath.Join(dir, f)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return err
		}
		if err := os.WriteFile(path, nil, 0o644); err != nil {
			return err
		}
	}
	return nil
}
