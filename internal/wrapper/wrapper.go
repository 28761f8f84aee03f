// Package wrapper generates launchers that fix the environment of an
// installed binary before executing it.
package wrapper

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"mvdan.cc/sh/v3/syntax"

	"github.com/goplus/llinstall/internal/build"
	"github.com/goplus/llinstall/internal/env"
)

// WriteError reports a launcher that could not be written: the target
// binary is missing from the tree, or the output location is unwritable.
type WriteError struct {
	Path string
	Err  error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("write wrapper %s: %v", e.Path, e.Err)
}

func (e *WriteError) Unwrap() error {
	return e.Err
}

// Options describes a launcher.
type Options struct {
	// Output is where the launcher is written. Parent directories are created.
	Output string
	Tree   *build.InstallTree
	// Binary is the tree-relative path of the real executable.
	Binary string
	Env    env.Set
}

// Generate writes a POSIX sh launcher to opts.Output and returns its
// absolute path. The launcher exports every variable of opts.Env, replacing
// any inherited value, and then execs the binary with all arguments.
func Generate(opts Options) (string, error) {
	out, err := filepath.Abs(opts.Output)
	if err != nil {
		return "", &WriteError{Path: opts.Output, Err: err}
	}

	target := filepath.Join(opts.Tree.Root, opts.Binary)
	fi, err := os.Stat(target)
	if err != nil {
		return "", &WriteError{Path: out, Err: fmt.Errorf("target binary: %w", err)}
	}
	if fi.IsDir() || fi.Mode().Perm()&0o111 == 0 {
		return "", &WriteError{Path: out, Err: fmt.Errorf("target binary %s is not executable", target)}
	}

	script, err := Script(target, opts.Env)
	if err != nil {
		return "", &WriteError{Path: out, Err: err}
	}
	if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
		return "", &WriteError{Path: out, Err: err}
	}
	if err := writeFileAtomic(out, script, 0o755); err != nil {
		return "", &WriteError{Path: out, Err: err}
	}
	return out, nil
}

// Script renders the launcher for target with the variables of set.
func Script(target string, set env.Set) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString("#!/bin/sh\n")
	buf.WriteString("# Generated by llinstall. DO NOT EDIT.\n")
	for _, v := range set {
		if !syntax.ValidName(v.Name) {
			return nil, fmt.Errorf("invalid variable name %q", v.Name)
		}
		value, err := syntax.Quote(v.Value, syntax.LangPOSIX)
		if err != nil {
			return nil, fmt.Errorf("quote %s: %w", v.Name, err)
		}
		fmt.Fprintf(&buf, "export %s=%s\n", v.Name, value)
	}
	exe, err := syntax.Quote(target, syntax.LangPOSIX)
	if err != nil {
		return nil, fmt.Errorf("quote %s: %w", target, err)
	}
	fmt.Fprintf(&buf, "exec %s \"$@\"\n", exe)

	parser := syntax.NewParser(syntax.Variant(syntax.LangPOSIX))
	if _, err := parser.Parse(bytes.NewReader(buf.Bytes()), "wrapper"); err != nil {
		return nil, fmt.Errorf("generated launcher does not parse: %w", err)
	}
	return buf.Bytes(), nil
}

// writeFileAtomic replaces path with data so that readers never observe a
// partially written launcher.
func writeFileAtomic(path string, data []byte, perm os.FileMode) (err error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			os.Remove(tmp.Name())
		}
	}()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		if fi, statErr := os.Stat(path); statErr == nil && fi.IsDir() {
			return errors.New("output path is a directory")
		}
		return err
	}
	return nil
}
