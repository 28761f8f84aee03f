package wrapper

import (
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/goplus/llinstall/internal/build"
	"github.com/goplus/llinstall/internal/env"
)

// fakeVlip prints LUA_PATH and its arguments, then exits with $VLIP_EXIT
// (default 3).
const fakeVlip = `#!/bin/sh
echo "LUA_PATH=$LUA_PATH"
for a in "$@"; do echo "arg=$a"; done
exit "${VLIP_EXIT:-3}"
`

func newTree(t *testing.T) *build.InstallTree {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("launchers are POSIX shell scripts")
	}
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "bin"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "bin", "vlip"), []byte(fakeVlip), 0o755); err != nil {
		t.Fatal(err)
	}
	return &build.InstallTree{Name: "vlip", Root: root, Version: "0.20.5", Toolchain: "Lua 5.4.6"}
}

func exitCode(t *testing.T, err error) int {
	t.Helper()
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		t.Fatalf("run failed: %v", err)
	}
	return exitErr.ExitCode()
}

func TestGenerate_RoundTrip(t *testing.T) {
	tree := newTree(t)
	out := filepath.Join(t.TempDir(), "bin", "vlip")
	path, err := Generate(Options{
		Output: out,
		Tree:   tree,
		Binary: "bin/vlip",
		Env:    env.Set{{Name: "LUA_PATH", Value: tree.Root + "/share/lua/5.4/?.lua;;"}},
	})
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if path != out {
		t.Errorf("path = %q, want %q", path, out)
	}
	fi, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if fi.Mode().Perm() != 0o755 {
		t.Errorf("mode = %v, want 0755", fi.Mode().Perm())
	}

	direct := exitCode(t, exec.Command(filepath.Join(tree.Root, "bin", "vlip")).Run())
	wrapped := exitCode(t, exec.Command(path).Run())
	if direct != 3 || wrapped != direct {
		t.Errorf("exit code: direct %d, wrapped %d", direct, wrapped)
	}
}

func TestGenerate_EnvOverride(t *testing.T) {
	tree := newTree(t)
	value := tree.Root + "/share/lua/5.4/?.lua;it's $HOME;;"
	path, err := Generate(Options{
		Output: filepath.Join(t.TempDir(), "vlip"),
		Tree:   tree,
		Binary: "bin/vlip",
		Env:    env.Set{{Name: "LUA_PATH", Value: value}},
	})
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	cmd := exec.Command(path, "--version", "two words", "")
	cmd.Env = append(os.Environ(), "LUA_PATH=/caller/path", "VLIP_EXIT=0")
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("wrapper failed: %v\n%s", err, out)
	}
	want := "LUA_PATH=" + value + "\narg=--version\narg=two words\narg=\n"
	if string(out) != want {
		t.Errorf("output = %q, want %q", out, want)
	}
}

func TestGenerate_Overwrite(t *testing.T) {
	tree := newTree(t)
	out := filepath.Join(t.TempDir(), "vlip")
	if err := os.WriteFile(out, []byte("stale"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Generate(Options{Output: out, Tree: tree, Binary: "bin/vlip"}); err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(string(data), "#!/bin/sh\n") {
		t.Errorf("launcher = %q", data)
	}
	entries, _ := os.ReadDir(filepath.Dir(out))
	if len(entries) != 1 {
		t.Errorf("temporary files left behind: %v", entries)
	}
}

func TestGenerate_Errors(t *testing.T) {
	tree := newTree(t)
	if err := os.WriteFile(filepath.Join(tree.Root, "README.md"), []byte("doc"), 0o644); err != nil {
		t.Fatal(err)
	}
	blocker := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(blocker, nil, 0o644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name   string
		output string
		binary string
		want   string
	}{
		{"missing binary", filepath.Join(t.TempDir(), "w"), "bin/missing", "target binary"},
		{"not executable", filepath.Join(t.TempDir(), "w"), "README.md", "not executable"},
		{"directory binary", filepath.Join(t.TempDir(), "w"), "bin", "not executable"},
		{"unwritable output", filepath.Join(blocker, "w"), "bin/vlip", "not a directory"},
		{"output is a directory", t.TempDir(), "bin/vlip", "is a directory"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Generate(Options{Output: tt.output, Tree: tree, Binary: tt.binary})
			var we *WriteError
			if !errors.As(err, &we) {
				t.Fatalf("Generate error = %v, want *WriteError", err)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not contain %q", err, tt.want)
			}
		})
	}
}

func TestScript(t *testing.T) {
	got, err := Script("/opt/vlip/bin/vlip", env.Set{
		{Name: "LUA_PATH", Value: "/opt/vlip/share/lua/5.4/?.lua;;"},
		{Name: "PLAIN", Value: "simple"},
	})
	if err != nil {
		t.Fatalf("Script failed: %v", err)
	}
	want := `#!/bin/sh
# Generated by llinstall. DO NOT EDIT.
export LUA_PATH='/opt/vlip/share/lua/5.4/?.lua;;'
export PLAIN=simple
exec /opt/vlip/bin/vlip "$@"
`
	if string(got) != want {
		t.Errorf("Script =\n%s\nwant\n%s", got, want)
	}

	if _, err := Script("/bin/x", env.Set{{Name: "BAD-NAME", Value: "x"}}); err == nil {
		t.Error("Script accepted an invalid variable name")
	}
}
