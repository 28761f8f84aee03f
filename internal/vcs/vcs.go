// Package vcs checks out head-channel sources with the git command line.
package vcs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// VCS is the source control surface the fetcher needs for head installs.
type VCS interface {
	// Sync makes dir a pristine checkout of ref from remote. dir is created
	// and initialized when missing. Tracked changes are discarded and
	// untracked files, ignored ones included, are removed, so a re-run
	// builds from exactly what the remote holds.
	Sync(ctx context.Context, remote, ref, dir string) error

	// Latest returns the commit ref names in remote without fetching it.
	Latest(ctx context.Context, remote, ref string) (string, error)

	// Revision returns the commit checked out in dir.
	Revision(ctx context.Context, dir string) (string, error)
}

type gitVCS struct {
	git string
}

// GitOption configures the git backed VCS.
type GitOption func(*gitVCS)

// WithGitPath runs path instead of the git found on PATH.
func WithGitPath(path string) GitOption {
	return func(g *gitVCS) {
		g.git = path
	}
}

// NewGitVCS returns a VCS driving the git executable.
func NewGitVCS(opts ...GitOption) VCS {
	g := &gitVCS{git: "git"}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *gitVCS) Sync(ctx context.Context, remote, ref, dir string) error {
	if _, err := os.Stat(filepath.Join(dir, ".git")); errors.Is(err, os.ErrNotExist) {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
		if _, err := g.cmd(ctx, dir, "init", "--quiet"); err != nil {
			return err
		}
	}
	steps := [][]string{
		{"fetch", "--quiet", "--no-tags", "--depth", "1", remote, ref},
		{"checkout", "--quiet", "--force", "--detach", "FETCH_HEAD"},
		{"clean", "--quiet", "-ffdx"},
	}
	for _, args := range steps {
		if _, err := g.cmd(ctx, dir, args...); err != nil {
			return fmt.Errorf("sync %s %s: %w", remote, ref, err)
		}
	}
	return nil
}

func (g *gitVCS) Latest(ctx context.Context, remote, ref string) (string, error) {
	out, err := g.cmd(ctx, "", "ls-remote", remote, ref)
	if err != nil {
		return "", err
	}
	if hash := matchRef(out, ref); hash != "" {
		return hash, nil
	}
	return "", fmt.Errorf("ref %s not found in remote %s", ref, remote)
}

// matchRef picks the hash for ref out of ls-remote output. ls-remote matches
// patterns by trailing path components, so "main" also lists branches such
// as "feature/main"; only exact names count.
func matchRef(lsRemote, ref string) string {
	names := []string{ref, "refs/heads/" + ref, "refs/tags/" + ref}
	for _, name := range names {
		for _, line := range strings.Split(lsRemote, "\n") {
			hash, got, ok := strings.Cut(strings.TrimSpace(line), "\t")
			if ok && got == name {
				return hash
			}
		}
	}
	return ""
}

func (g *gitVCS) Revision(ctx context.Context, dir string) (string, error) {
	out, err := g.cmd(ctx, dir, "rev-parse", "--verify", "HEAD")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// cmd runs git with args in dir and returns its stdout. Prompts for
// credentials are disabled; a private remote fails instead of hanging.
func (g *gitVCS) cmd(ctx context.Context, dir string, args ...string) (string, error) {
	c := exec.CommandContext(ctx, g.git, args...)
	c.Dir = dir
	c.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0")
	var stdout, stderr bytes.Buffer
	c.Stdout = &stdout
	c.Stderr = &stderr
	if err := c.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return "", fmt.Errorf("git %s: %s", args[0], msg)
		}
		return "", fmt.Errorf("git %s: %w", args[0], err)
	}
	return stdout.String(), nil
}
