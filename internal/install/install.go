// Package install runs the installation pipeline for one formula:
// resolve, fetch, build, derive, wrap and verify.
package install

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"

	"github.com/charmbracelet/log"

	"github.com/goplus/llinstall/formula"
	"github.com/goplus/llinstall/internal/build"
	"github.com/goplus/llinstall/internal/env"
	"github.com/goplus/llinstall/internal/fetch"
	"github.com/goplus/llinstall/internal/verify"
	"github.com/goplus/llinstall/internal/wrapper"
)

// Stage names a pipeline stage.
type Stage string

const (
	StageResolve Stage = "resolve"
	StageFetch   Stage = "fetch"
	StageBuild   Stage = "build"
	StageDerive  Stage = "derive"
	StageWrap    Stage = "wrap"
	StageVerify  Stage = "verify"
)

// StageError is the first failure of a run, tagged with the stage that
// produced it. Err is the typed error of that stage.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// Options configures a run.
type Options struct {
	Mode formula.Mode
	// Prefix is the install tree. It must be distinct across concurrent runs.
	Prefix string
	// WrapperPath is where the launcher is written.
	WrapperPath  string
	PrefixPolicy build.PrefixPolicy

	// Fetcher retrieves the source. Defaults to fetch.New.
	Fetcher fetch.Fetcher
	// SourceDir is where the source is fetched. Defaults to
	// <sources>/<name>/<version> under the work directory.
	SourceDir string

	Logger *log.Logger
	// BuildOutput, if set, receives the build tool output as it runs.
	BuildOutput io.Writer
	// LookPath resolves dependency executables. Defaults to exec.LookPath.
	LookPath func(string) (string, error)
	// Verify configures the smoke tests.
	Verify verify.Options
}

// Result is the outcome of a run that reached the verifier.
type Result struct {
	WrapperPath string
	Env         env.Set
	Outcomes    []verify.Outcome

	Resolution *formula.Resolution
	Source     *fetch.Source
	Tree       *build.InstallTree
}

// Passed reports whether every test case passed.
func (r *Result) Passed() bool {
	for _, o := range r.Outcomes {
		if !o.Passed() {
			return false
		}
	}
	return true
}

// Err joins the verification failures of r, or returns nil if it passed.
func (r *Result) Err() error {
	var errs []error
	for _, o := range r.Outcomes {
		if o.Failure != nil {
			errs = append(errs, o.Failure)
		}
	}
	return errors.Join(errs...)
}

// Run installs spec through every stage in order. The first failing stage
// halts the run and is returned as a *StageError; files written by earlier
// stages are left in place. A failed verification is not an error: inspect
// Result.Passed.
func Run(ctx context.Context, spec *formula.FormulaSpec, opts Options) (*Result, error) {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	if opts.Prefix == "" || opts.WrapperPath == "" {
		return nil, &StageError{Stage: StageResolve, Err: errors.New("prefix and wrapper path are required")}
	}
	builder, err := build.NewBuilder(build.Options{
		PrefixPolicy: opts.PrefixPolicy,
		Output:       opts.BuildOutput,
		Logger:       logger,
		LookPath:     opts.LookPath,
	})
	if err != nil {
		// Options are checked up front, before any stage has run.
		return nil, &StageError{Stage: StageResolve, Err: err}
	}

	res, err := formula.Resolve(spec, opts.Mode)
	if err != nil {
		return nil, &StageError{Stage: StageResolve, Err: err}
	}
	logger.Info("resolved", "formula", spec.Name, "channel", res.Mode(), "version", res.Version)

	sourceDir := opts.SourceDir
	if sourceDir == "" {
		sources, err := env.SourcesDir()
		if err != nil {
			return nil, &StageError{Stage: StageFetch, Err: err}
		}
		sourceDir = filepath.Join(sources, spec.Name, res.Version)
	}
	fetcher := opts.Fetcher
	if fetcher == nil {
		fetcher = fetch.New(fetch.Options{Logger: logger})
	}
	src, err := fetcher.Fetch(ctx, res.Channel, sourceDir)
	if err != nil {
		return nil, &StageError{Stage: StageFetch, Err: err}
	}

	tree, err := builder.Build(ctx, build.Request{
		Formula:    spec,
		Resolution: res,
		SourceDir:  src.Dir,
		Prefix:     opts.Prefix,
		Digest:     src.Digest,
		Revision:   src.Revision,
	})
	if err != nil {
		return nil, &StageError{Stage: StageBuild, Err: err}
	}

	set, err := env.Derive(tree, spec.Wrapper)
	if err != nil {
		return nil, &StageError{Stage: StageDerive, Err: err}
	}

	wrapperPath, err := wrapper.Generate(wrapper.Options{
		Output: opts.WrapperPath,
		Tree:   tree,
		Binary: spec.Wrapper.Binary,
		Env:    set,
	})
	if err != nil {
		return nil, &StageError{Stage: StageWrap, Err: err}
	}
	logger.Info("wrapper written", "path", wrapperPath)

	vopts := opts.Verify
	if vopts.Logger == nil {
		vopts.Logger = logger
	}
	return &Result{
		WrapperPath: wrapperPath,
		Env:         set,
		Outcomes:    verify.Run(ctx, wrapperPath, spec.Tests, vopts),
		Resolution:  res,
		Source:      src,
		Tree:        tree,
	}, nil
}
