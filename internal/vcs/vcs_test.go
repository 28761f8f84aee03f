package vcs

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

// newUpstream creates a local repository with a single commit on main and
// returns its path.
func newUpstream(t *testing.T) string {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available")
	}
	dir := t.TempDir()
	gitIn(t, dir, "init", "--quiet")
	gitIn(t, dir, "symbolic-ref", "HEAD", "refs/heads/main")
	if err := os.WriteFile(filepath.Join(dir, "vlip-scm-1.rockspec"), []byte("package = 'vlip'\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	gitIn(t, dir, "add", ".")
	gitIn(t, dir, "-c", "user.name=llinstall", "-c", "user.email=llinstall@example.com", "-c", "commit.gpgsign=false", "commit", "--quiet", "-m", "initial")
	return dir
}

func commit(t *testing.T, dir, file string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, file), []byte(file), 0o644); err != nil {
		t.Fatal(err)
	}
	gitIn(t, dir, "add", ".")
	gitIn(t, dir, "-c", "user.name=llinstall", "-c", "user.email=llinstall@example.com", "-c", "commit.gpgsign=false", "commit", "--quiet", "-m", file)
}

func gitIn(t *testing.T, dir string, args ...string) string {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("git %s failed: %v\n%s", strings.Join(args, " "), err, out)
	}
	return strings.TrimSpace(string(out))
}

func TestGitVCS_Sync(t *testing.T) {
	upstream := newUpstream(t)
	vcs := NewGitVCS()
	ctx := context.Background()

	dir := filepath.Join(t.TempDir(), "checkout")
	if err := vcs.Sync(ctx, "file://"+upstream, "main", dir); err != nil {
		t.Fatalf("Sync (clone) failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "vlip-scm-1.rockspec")); err != nil {
		t.Fatalf("rockspec not checked out: %v", err)
	}

	rev1, err := vcs.Revision(ctx, dir)
	if err != nil {
		t.Fatalf("Revision failed: %v", err)
	}
	if want := gitIn(t, upstream, "rev-parse", "HEAD"); rev1 != want {
		t.Errorf("Revision = %s, want %s", rev1, want)
	}

	// The branch moves; syncing again follows it.
	commit(t, upstream, "NEWS")
	if err := vcs.Sync(ctx, "file://"+upstream, "main", dir); err != nil {
		t.Fatalf("Sync (update) failed: %v", err)
	}
	rev2, err := vcs.Revision(ctx, dir)
	if err != nil {
		t.Fatalf("Revision failed: %v", err)
	}
	if rev1 == rev2 {
		t.Errorf("HEAD should have changed after the branch moved, got %s both times", rev1)
	}
}

func TestGitVCS_SyncRemovesUntracked(t *testing.T) {
	upstream := newUpstream(t)
	vcs := NewGitVCS()
	ctx := context.Background()

	dir := filepath.Join(t.TempDir(), "checkout")
	if err := vcs.Sync(ctx, "file://"+upstream, "main", dir); err != nil {
		t.Fatalf("Sync failed: %v", err)
	}
	// Leftovers of an earlier build, ignored files included.
	for _, d := range []string{"build", filepath.Join(".git", "info")} {
		if err := os.MkdirAll(filepath.Join(dir, d), 0o755); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.WriteFile(filepath.Join(dir, "build", "vlip.o"), []byte("obj"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, ".git", "info", "exclude"), []byte("*.lock\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "luarocks.lock"), []byte("lock"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "vlip-scm-1.rockspec"), []byte("edited"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := vcs.Sync(ctx, "file://"+upstream, "main", dir); err != nil {
		t.Fatalf("Sync (again) failed: %v", err)
	}
	for _, name := range []string{"build", "luarocks.lock"} {
		if _, err := os.Stat(filepath.Join(dir, name)); !os.IsNotExist(err) {
			t.Errorf("%s survived a re-sync: %v", name, err)
		}
	}
	data, err := os.ReadFile(filepath.Join(dir, "vlip-scm-1.rockspec"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "package = 'vlip'\n" {
		t.Errorf("rockspec = %q, want the upstream content", data)
	}
}

func TestGitVCS_Latest(t *testing.T) {
	upstream := newUpstream(t)
	vcs := NewGitVCS()

	hash, err := vcs.Latest(context.Background(), "file://"+upstream, "main")
	if err != nil {
		t.Fatalf("Latest failed: %v", err)
	}
	if len(hash) != 40 {
		t.Errorf("expected 40-char hash, got %d chars: %s", len(hash), hash)
	}

	if _, err := vcs.Latest(context.Background(), "file://"+upstream, "no-such-branch"); err == nil {
		t.Error("Latest of a missing ref succeeded")
	}
}

func TestGitVCS_LatestExactRef(t *testing.T) {
	upstream := newUpstream(t)
	// feature/main sorts before main in ls-remote output and also matches
	// the pattern "main".
	gitIn(t, upstream, "branch", "feature/main")
	commit(t, upstream, "NEWS")
	want := gitIn(t, upstream, "rev-parse", "main")

	got, err := NewGitVCS().Latest(context.Background(), "file://"+upstream, "main")
	if err != nil {
		t.Fatalf("Latest failed: %v", err)
	}
	if got != want {
		t.Errorf("Latest = %s, want main at %s", got, want)
	}
}

func TestMatchRef(t *testing.T) {
	out := "aaa\trefs/heads/feature/main\nbbb\trefs/heads/main\nccc\trefs/tags/v1.0\n"
	tests := []struct {
		ref, want string
	}{
		{"main", "bbb"},
		{"feature/main", "aaa"},
		{"v1.0", "ccc"},
		{"refs/tags/v1.0", "ccc"},
		{"dev", ""},
	}
	for _, tt := range tests {
		if got := matchRef(out, tt.ref); got != tt.want {
			t.Errorf("matchRef(%q) = %q, want %q", tt.ref, got, tt.want)
		}
	}
}

func TestGitVCS_SyncMissingRemote(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available")
	}
	vcs := NewGitVCS()
	dir := filepath.Join(t.TempDir(), "checkout")
	err := vcs.Sync(context.Background(), "file://"+filepath.Join(t.TempDir(), "missing"), "main", dir)
	if err == nil {
		t.Fatal("Sync from a missing remote succeeded")
	}
}

func TestWithGitPath(t *testing.T) {
	g := NewGitVCS(WithGitPath("/opt/git/bin/git")).(*gitVCS)
	if g.git != "/opt/git/bin/git" {
		t.Errorf("git = %q", g.git)
	}
}
