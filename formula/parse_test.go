package formula

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestLoadYAML(t *testing.T) {
	spec, err := Load(filepath.Join("testdata", "vlip.yaml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if spec.Name != "vlip" {
		t.Errorf("Name = %q, want %q", spec.Name, "vlip")
	}
	if got, want := spec.Modes(), []Mode{Stable, Head}; !cmp.Equal(got, want) {
		t.Errorf("Modes() = %v, want %v", got, want)
	}

	stable, ok := spec.Channel(Stable).(*StableChannel)
	if !ok {
		t.Fatalf("stable channel has type %T", spec.Channel(Stable))
	}
	if want := "sha256:5f70bf18a086007016e948b04aed3b82103a36bea41755b6cddfaf10ace3c6ef"; stable.Digest != want {
		t.Errorf("Digest = %q, want %q", stable.Digest, want)
	}
	if stable.Version != "0.20.5" {
		t.Errorf("Version = %q, want %q", stable.Version, "0.20.5")
	}

	head, ok := spec.Channel(Head).(*HeadChannel)
	if !ok {
		t.Fatalf("head channel has type %T", spec.Channel(Head))
	}
	if head.Branch != "main" || head.Descriptor != "vlip-scm-1.rockspec" {
		t.Errorf("head = %+v", head)
	}

	wantDeps := []Dependency{
		{Name: "luarocks", At: BuildTime},
		{Name: "lua", At: RunTime},
	}
	if diff := cmp.Diff(wantDeps, spec.Dependencies); diff != "" {
		t.Errorf("Dependencies mismatch (-want +got):\n%s", diff)
	}
	if got := spec.DepsAt(BuildTime); len(got) != 1 || got[0].Executable() != "luarocks" {
		t.Errorf("DepsAt(build) = %+v", got)
	}

	if diff := cmp.Diff([]string{"lua", "-v"}, spec.Toolchain.Command); diff != "" {
		t.Errorf("Toolchain.Command mismatch (-want +got):\n%s", diff)
	}
	if len(spec.Wrapper.Env) != 2 || spec.Wrapper.Env[0].Name != "LUA_PATH" || spec.Wrapper.Env[1].Name != "LUA_CPATH" {
		t.Errorf("Wrapper.Env = %+v", spec.Wrapper.Env)
	}

	if len(spec.Tests) != 2 {
		t.Fatalf("got %d tests, want 2", len(spec.Tests))
	}
	usage := spec.Tests[1]
	if usage.MustContain != "Usage:" || len(usage.Args) != 0 {
		t.Errorf("usage test = %+v", usage)
	}
	if len(usage.Setup.Dirs) != 2 || len(usage.Setup.Files) != 1 {
		t.Errorf("usage setup = %+v", usage.Setup)
	}
}

func TestLoadTOML(t *testing.T) {
	spec, err := Load(filepath.Join("testdata", "vlip.toml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if got, want := spec.Modes(), []Mode{Head}; !cmp.Equal(got, want) {
		t.Errorf("Modes() = %v, want %v", got, want)
	}
	if spec.Toolchain.Version == "" {
		t.Error("Toolchain.Version is empty")
	}
	if len(spec.Tests) != 1 || spec.Tests[0].Label(0) != "test #1" {
		t.Errorf("Tests = %+v", spec.Tests)
	}
}

const minimal = `
name: tool
head:
  url: https://example.com/tool.git
build:
  command: make install PREFIX="$PREFIX"
wrapper:
  binary: bin/tool
`

func TestParseDefaults(t *testing.T) {
	spec, err := Parse("tool.yaml", []byte(minimal))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	head := spec.Channel(Head).(*HeadChannel)
	if head.Branch != "HEAD" {
		t.Errorf("Branch = %q, want HEAD", head.Branch)
	}
	if spec.Channel(Stable) != nil {
		t.Error("unexpected stable channel")
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		file string
		data string
		want []string
	}{
		{
			name: "empty",
			file: "f.yaml",
			data: "",
			want: []string{"empty formula"},
		},
		{
			name: "unknown key",
			file: "f.yaml",
			data: minimal + "bogus: 1\n",
			want: []string{"bogus"},
		},
		{
			name: "unknown toml key",
			file: "f.toml",
			data: "name = \"x\"\nbogus = 1\n",
			want: []string{"decode toml"},
		},
		{
			name: "missing everything",
			file: "f.yaml",
			data: "desc: nothing\n",
			want: []string{
				"name is required",
				"at least one of stable or head is required",
				"build: command is required",
				"wrapper: binary is required",
			},
		},
		{
			name: "stable without digest",
			file: "f.yaml",
			data: `
name: tool
stable: {url: https://example.com/tool.tgz, version: 1.0.0}
build: {command: 'make PREFIX=$PREFIX'}
wrapper: {binary: bin/tool}
`,
			want: []string{"stable: an integrity digest (sha256 or digest) is required"},
		},
		{
			name: "bad version",
			file: "f.yaml",
			data: `
name: tool
stable: {url: https://example.com/tool.tgz, sha256: abc, version: latest}
build: {command: 'make PREFIX=$PREFIX'}
wrapper: {binary: bin/tool}
`,
			want: []string{`stable: version "latest" is not a semantic version`},
		},
		{
			name: "command without prefix",
			file: "f.yaml",
			data: `
name: tool
head: {url: https://example.com/tool.git}
build: {command: 'make install $DESTDIR'}
wrapper: {binary: bin/tool}
`,
			want: []string{
				"build: command must reference $PREFIX",
				"build: command references unknown variable $DESTDIR",
			},
		},
		{
			name: "pipeline command",
			file: "f.yaml",
			data: `
name: tool
head: {url: https://example.com/tool.git}
build: {command: 'make PREFIX=$PREFIX | tee log'}
wrapper: {binary: bin/tool}
`,
			want: []string{"not a simple command"},
		},
		{
			name: "command substitution",
			file: "f.yaml",
			data: `
name: tool
head: {url: https://example.com/tool.git}
build: {command: 'sh build.sh $(echo x) "$PREFIX"'}
wrapper: {binary: bin/tool}
`,
			want: []string{"command substitution at 1:13 is not supported"},
		},
		{
			name: "nested substitution",
			file: "f.yaml",
			data: `
name: tool
head: {url: https://example.com/tool.git}
build: {command: 'make "PREFIX=${PREFIX}" "V=${VERSION:-$(date)}"'}
wrapper: {binary: bin/tool}
`,
			want: []string{"command substitution"},
		},
		{
			name: "escaping paths",
			file: "f.yaml",
			data: `
name: tool
head: {url: https://example.com/tool.git}
build: {command: 'make PREFIX=$PREFIX'}
install: {docs: [../secret]}
wrapper: {binary: /usr/bin/tool}
`,
			want: []string{
				`install: docs: "../secret" must be a relative path inside the tree`,
				`wrapper: binary: "/usr/bin/tool" must be a relative path inside the tree`,
			},
		},
		{
			name: "toolchain needed",
			file: "f.yaml",
			data: `
name: tool
head: {url: https://example.com/tool.git}
build: {command: 'make PREFIX=$PREFIX'}
wrapper:
  binary: bin/tool
  env:
    - {name: LUA_PATH, value: '$ROOT/share/lua/$TOOLCHAIN/?.lua'}
    - {name: LUA_PATH, value: '$HOME'}
`,
			want: []string{
				`wrapper: env[1]: duplicate variable "LUA_PATH"`,
				"wrapper: env[1]: unknown variable $HOME",
				"toolchain: required because wrapper env references $TOOLCHAIN",
			},
		},
		{
			name: "bad test case",
			file: "f.yaml",
			data: minimal + `
test:
  - {name: broken, exit_code: 300, match: '('}
`,
			want: []string{
				"test broken: exit_code 300 out of range",
				"test broken: match:",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.file, []byte(tt.data))
			var cfgErr *ConfigurationError
			if !errors.As(err, &cfgErr) {
				t.Fatalf("Parse error = %v, want *ConfigurationError", err)
			}
			msg := cfgErr.Error()
			for _, want := range tt.want {
				if !strings.Contains(msg, want) {
					t.Errorf("error %q does not contain %q", msg, want)
				}
			}
		})
	}
}
