package build

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/goplus/llinstall/formula"
)

// InstallTree is the result of a build: an install prefix and the version
// of the runtime toolchain it was built against.
type InstallTree struct {
	Name    string
	Root    string
	Version string
	// Toolchain is the version string reported by the toolchain, e.g.
	// "Lua 5.4.6  Copyright (C) 1994-2023 Lua.org, PUC-Rio".
	Toolchain string
}

// Options configures a Builder.
type Options struct {
	// PrefixPolicy decides what happens to a non-empty prefix. It must be set.
	PrefixPolicy PrefixPolicy
	// Output, if set, receives the build tool output as it is produced.
	Output io.Writer
	Logger *log.Logger
	// LookPath resolves dependency executables. Defaults to exec.LookPath.
	LookPath func(file string) (string, error)
}

// Builder runs the external build tool of a formula into an isolated prefix.
type Builder struct {
	policy   PrefixPolicy
	output   io.Writer
	logger   *log.Logger
	lookPath func(string) (string, error)
}

// Request is a single build.
type Request struct {
	Formula    *formula.FormulaSpec
	Resolution *formula.Resolution
	// SourceDir is the fetched source; the build tool runs in it.
	SourceDir string
	Prefix    string

	// Digest and Revision identify the fetched source in the install receipt.
	Digest   string
	Revision string
}

// NewBuilder returns a Builder. The prefix policy has no default.
func NewBuilder(opts Options) (*Builder, error) {
	if opts.PrefixPolicy != WipePrefix && opts.PrefixPolicy != RejectPrefix {
		return nil, errors.New(`build: prefix conflict policy must be "wipe" or "reject"`)
	}
	b := &Builder{
		policy:   opts.PrefixPolicy,
		output:   opts.Output,
		logger:   opts.Logger,
		lookPath: opts.LookPath,
	}
	if b.logger == nil {
		b.logger = log.Default()
	}
	if b.lookPath == nil {
		b.lookPath = exec.LookPath
	}
	return b, nil
}

// Build runs the resolved build descriptor against req.SourceDir with
// req.Prefix as the install target and returns the resulting tree.
//
// The command is expanded before the prefix is touched, so a malformed
// command leaves an existing install alone. The prefix is then created fresh
// according to the builder's policy. A failing build tool yields a
// *BuildError carrying its output; there is no internal timeout, cancel ctx
// to kill the build tool.
func (b *Builder) Build(ctx context.Context, req Request) (*InstallTree, error) {
	f, res := req.Formula, req.Resolution
	prefix, err := filepath.Abs(req.Prefix)
	if err != nil {
		return nil, err
	}
	sourceDir, err := filepath.Abs(req.SourceDir)
	if err != nil {
		return nil, err
	}

	argv, err := formula.ExpandCommand(res.Build.Command, map[string]string{
		formula.VarPrefix:     prefix,
		formula.VarDescriptor: res.Build.File,
		formula.VarVersion:    res.Version,
		formula.VarName:       f.Name,
		formula.VarSource:     sourceDir,
	})
	if err != nil {
		return nil, &formula.ConfigurationError{Formula: f.Name, Problems: []string{err.Error()}}
	}

	if err := b.checkDependencies(f); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(prefix), 0o755); err != nil {
		return nil, err
	}
	unlock, err := lockPrefix(prefix)
	if errors.Is(err, errPrefixLocked) {
		return nil, &PrefixConflictError{Prefix: prefix, Reason: err.Error()}
	}
	if err != nil {
		return nil, fmt.Errorf("lock prefix: %w", err)
	}
	defer unlock()

	if err := preparePrefix(prefix, b.policy); err != nil {
		return nil, err
	}

	b.logger.Info("building", "formula", f.Name, "version", res.Version, "channel", res.Mode(), "prefix", prefix)
	start := time.Now()
	if err := b.run(ctx, argv, sourceDir, res.Build.Env); err != nil {
		return nil, err
	}
	b.logger.Debug("build finished", "formula", f.Name, "elapsed", time.Since(start).Round(time.Millisecond))

	if err := installExtras(f, sourceDir, prefix); err != nil {
		return nil, &BuildError{Op: "install", Dir: prefix, ExitCode: -1, Err: err}
	}

	toolchain, err := b.probeToolchain(ctx, f.Toolchain)
	if err != nil {
		return nil, err
	}

	receipt := &Receipt{
		Formula:   f.Name,
		Version:   res.Version,
		Mode:      string(res.Mode()),
		Digest:    req.Digest,
		Revision:  req.Revision,
		Command:   argv,
		Toolchain: toolchain,
		BuildTime: time.Now().UTC(),
	}
	if err := writeReceipt(prefix, receipt); err != nil {
		return nil, &BuildError{Op: "install", Dir: prefix, ExitCode: -1, Err: err}
	}

	return &InstallTree{
		Name:      f.Name,
		Root:      prefix,
		Version:   res.Version,
		Toolchain: toolchain,
	}, nil
}

func (b *Builder) checkDependencies(f *formula.FormulaSpec) error {
	for _, dep := range f.Dependencies {
		path, err := b.lookPath(dep.Executable())
		if err != nil {
			return &BuildError{
				Op:       "dependency",
				ExitCode: -1,
				Err:      fmt.Errorf("%s dependency %q not found: %w", dep.At, dep.Name, err),
			}
		}
		b.logger.Debug("dependency", "name", dep.Name, "at", dep.At, "path", path)
	}
	return nil
}

// run executes argv in dir and captures its combined output.
func (b *Builder) run(ctx context.Context, argv []string, dir string, env map[string]string) error {
	var out bytes.Buffer
	w := io.Writer(&out)
	if b.output != nil {
		w = io.MultiWriter(&out, b.output)
	}

	b.logger.Debug("exec", "argv", argv, "dir", dir)
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = dir
	cmd.Env = mergeEnv(os.Environ(), env)
	cmd.Stdout = w
	cmd.Stderr = w

	if err := cmd.Run(); err != nil {
		be := &BuildError{
			Op:       "build",
			Command:  argv,
			Dir:      dir,
			ExitCode: -1,
			Output:   out.String(),
			Err:      err,
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			be.ExitCode = exitErr.ExitCode()
		}
		return be
	}
	return nil
}

// probeToolchain returns the toolchain version string: the static version
// of the formula, or the trimmed combined output of its version command.
func (b *Builder) probeToolchain(ctx context.Context, tc formula.Toolchain) (string, error) {
	if tc.Version != "" || len(tc.Command) == 0 {
		return tc.Version, nil
	}
	cmd := exec.CommandContext(ctx, tc.Command[0], tc.Command[1:]...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		be := &BuildError{
			Op:       "toolchain",
			Command:  tc.Command,
			ExitCode: -1,
			Output:   string(out),
			Err:      err,
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			be.ExitCode = exitErr.ExitCode()
		}
		return "", be
	}
	version := strings.TrimSpace(string(out))
	b.logger.Debug("toolchain", "command", tc.Command, "version", version)
	return version, nil
}

// installExtras applies the formula's post-build steps.
func installExtras(f *formula.FormulaSpec, sourceDir, prefix string) error {
	for _, rel := range f.Install.Executables {
		if err := os.Chmod(filepath.Join(prefix, rel), 0o755); err != nil {
			return err
		}
	}
	if len(f.Install.Docs) == 0 {
		return nil
	}
	docDir := filepath.Join(prefix, "share", "doc", f.Name)
	if err := os.MkdirAll(docDir, 0o755); err != nil {
		return err
	}
	for _, rel := range f.Install.Docs {
		if err := copyFile(filepath.Join(sourceDir, rel), filepath.Join(docDir, filepath.Base(rel))); err != nil {
			return err
		}
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
