package formula

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"golang.org/x/mod/semver"
	"gopkg.in/yaml.v3"
)

// Formula file layout, shared by the YAML and TOML encodings:
//
//	name: vlip
//	stable: {url: ..., sha256: ..., version: 0.20.5}
//	head: {url: ..., branch: main, descriptor: vlip-scm-1.rockspec}
//	depends_on: [{name: luarocks, at: build}, {name: lua}]
//	build: {command: 'luarocks make "$DESCRIPTOR" --tree="$PREFIX"', descriptor: vlip-$VERSION-1.rockspec}
//	toolchain: {command: [lua, -v]}
//	wrapper: {binary: bin/vlip, env: [{name: LUA_PATH, value: ...}]}
//	test: [{args: [--version], must_contain: vlip version}]
type file struct {
	Name      string        `yaml:"name" toml:"name"`
	Desc      string        `yaml:"desc" toml:"desc"`
	Homepage  string        `yaml:"homepage" toml:"homepage"`
	Stable    *stableFile   `yaml:"stable" toml:"stable"`
	Head      *headFile     `yaml:"head" toml:"head"`
	DependsOn []depFile     `yaml:"depends_on" toml:"depends_on"`
	Build     buildFile     `yaml:"build" toml:"build"`
	Toolchain toolchainFile `yaml:"toolchain" toml:"toolchain"`
	Install   installFile   `yaml:"install" toml:"install"`
	Wrapper   wrapperFile   `yaml:"wrapper" toml:"wrapper"`
	Test      []testFile    `yaml:"test" toml:"test"`
}

type stableFile struct {
	URL        string `yaml:"url" toml:"url"`
	Digest     string `yaml:"digest" toml:"digest"`
	SHA256     string `yaml:"sha256" toml:"sha256"`
	Version    string `yaml:"version" toml:"version"`
	Descriptor string `yaml:"descriptor" toml:"descriptor"`
}

type headFile struct {
	URL        string `yaml:"url" toml:"url"`
	Branch     string `yaml:"branch" toml:"branch"`
	Descriptor string `yaml:"descriptor" toml:"descriptor"`
}

type depFile struct {
	Name    string `yaml:"name" toml:"name"`
	At      string `yaml:"at" toml:"at"`
	Command string `yaml:"command" toml:"command"`
}

type buildFile struct {
	Command    string            `yaml:"command" toml:"command"`
	Descriptor string            `yaml:"descriptor" toml:"descriptor"`
	Env        map[string]string `yaml:"env" toml:"env"`
}

type toolchainFile struct {
	Command []string `yaml:"command" toml:"command"`
	Version string   `yaml:"version" toml:"version"`
}

type installFile struct {
	Executables []string `yaml:"executables" toml:"executables"`
	Docs        []string `yaml:"docs" toml:"docs"`
}

type wrapperFile struct {
	Binary string    `yaml:"binary" toml:"binary"`
	Env    []envFile `yaml:"env" toml:"env"`
}

type envFile struct {
	Name  string `yaml:"name" toml:"name"`
	Value string `yaml:"value" toml:"value"`
}

type testFile struct {
	Name        string    `yaml:"name" toml:"name"`
	Args        []string  `yaml:"args" toml:"args"`
	ExitCode    int       `yaml:"exit_code" toml:"exit_code"`
	MustContain string    `yaml:"must_contain" toml:"must_contain"`
	Match       string    `yaml:"match" toml:"match"`
	Setup       setupFile `yaml:"setup" toml:"setup"`
}

type setupFile struct {
	Dirs  []string `yaml:"dirs" toml:"dirs"`
	Files []string `yaml:"files" toml:"files"`
}

var (
	nameRE   = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._+-]*$`)
	envVarRE = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
)

// Load reads and validates the formula file at path.
func Load(path string) (*FormulaSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load formula: %w", err)
	}
	return Parse(path, data)
}

// Parse decodes and validates a formula. The encoding is chosen from the
// extension of name: .toml is TOML, anything else is YAML. Unknown keys are
// rejected. Every problem found is reported in a single *ConfigurationError.
func Parse(name string, data []byte) (*FormulaSpec, error) {
	var f file
	if err := decode(name, data, &f); err != nil {
		return nil, &ConfigurationError{Formula: name, Problems: []string{err.Error()}}
	}
	spec, problems := f.validate()
	if len(problems) > 0 {
		formula := f.Name
		if formula == "" {
			formula = name
		}
		return nil, &ConfigurationError{Formula: formula, Problems: problems}
	}
	return spec, nil
}

func decode(name string, data []byte, f *file) error {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".toml":
		dec := toml.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(f); err != nil {
			return fmt.Errorf("decode toml: %w", err)
		}
	default:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(f); err != nil {
			if errors.Is(err, io.EOF) {
				return errors.New("empty formula")
			}
			return fmt.Errorf("decode yaml: %w", err)
		}
	}
	return nil
}

type problems []string

func (p *problems) addf(format string, args ...any) {
	*p = append(*p, fmt.Sprintf(format, args...))
}

func (f *file) validate() (*FormulaSpec, []string) {
	var errs problems

	spec := &FormulaSpec{
		Name:     f.Name,
		Desc:     f.Desc,
		Homepage: f.Homepage,
	}
	switch {
	case f.Name == "":
		errs.addf("name is required")
	case !nameRE.MatchString(f.Name):
		errs.addf("name %q contains invalid characters", f.Name)
	}

	if f.Stable == nil && f.Head == nil {
		errs.addf("at least one of stable or head is required")
	}
	if s := f.Stable; s != nil {
		ch := &StableChannel{
			ArchiveURL: s.URL,
			Digest:     s.Digest,
			Version:    strings.TrimPrefix(s.Version, "v"),
			Descriptor: s.Descriptor,
		}
		if s.SHA256 != "" {
			if s.Digest != "" {
				errs.addf("stable: digest and sha256 are mutually exclusive")
			}
			ch.Digest = "sha256:" + s.SHA256
		}
		if ch.ArchiveURL == "" {
			errs.addf("stable: url is required")
		}
		if ch.Digest == "" {
			errs.addf("stable: an integrity digest (sha256 or digest) is required")
		}
		switch {
		case ch.Version == "":
			errs.addf("stable: version is required")
		case !semver.IsValid("v" + ch.Version):
			errs.addf("stable: version %q is not a semantic version", s.Version)
		}
		checkTemplate(&errs, "stable: descriptor", ch.Descriptor, descriptorVars)
		spec.Channels = append(spec.Channels, ch)
	}
	if h := f.Head; h != nil {
		ch := &HeadChannel{
			RepoURL:    h.URL,
			Branch:     h.Branch,
			Descriptor: h.Descriptor,
		}
		if ch.Branch == "" {
			ch.Branch = "HEAD"
		}
		if ch.RepoURL == "" {
			errs.addf("head: url is required")
		}
		checkTemplate(&errs, "head: descriptor", ch.Descriptor, descriptorVars)
		spec.Channels = append(spec.Channels, ch)
	}

	for i, d := range f.DependsOn {
		dep := Dependency{Name: d.Name, At: DepKind(d.At), Command: d.Command}
		if dep.At == "" {
			dep.At = RunTime
		}
		if dep.Name == "" {
			errs.addf("depends_on[%d]: name is required", i)
		}
		if dep.At != BuildTime && dep.At != RunTime {
			errs.addf("depends_on[%d]: at must be %q or %q, got %q", i, BuildTime, RunTime, d.At)
		}
		if slices.ContainsFunc(spec.Dependencies, func(o Dependency) bool { return o.Name == dep.Name }) {
			errs.addf("depends_on[%d]: duplicate dependency %q", i, dep.Name)
		}
		spec.Dependencies = append(spec.Dependencies, dep)
	}

	spec.Build = BuildDescriptor{
		Command: f.Build.Command,
		File:    f.Build.Descriptor,
		Env:     f.Build.Env,
	}
	if f.Build.Command == "" {
		errs.addf("build: command is required")
	} else if call, err := parseCommand(f.Build.Command); err != nil {
		errs.addf("build: %v", err)
	} else {
		refs := commandReferences(call)
		if !slices.Contains(refs, VarPrefix) {
			errs.addf("build: command must reference $%s", VarPrefix)
		}
		for _, ref := range refs {
			if !slices.Contains(commandVars, ref) {
				errs.addf("build: command references unknown variable $%s", ref)
			}
		}
	}
	checkTemplate(&errs, "build: descriptor", f.Build.Descriptor, descriptorVars)
	for _, k := range sortedKeys(f.Build.Env) {
		if !envVarRE.MatchString(k) {
			errs.addf("build: env: invalid variable name %q", k)
		}
	}

	spec.Toolchain = Toolchain{Command: f.Toolchain.Command, Version: f.Toolchain.Version}
	if len(f.Toolchain.Command) > 0 && f.Toolchain.Version != "" {
		errs.addf("toolchain: command and version are mutually exclusive")
	}
	if len(f.Toolchain.Command) > 0 && f.Toolchain.Command[0] == "" {
		errs.addf("toolchain: command is empty")
	}

	spec.Install = Install{Executables: f.Install.Executables, Docs: f.Install.Docs}
	for _, p := range f.Install.Executables {
		checkLocal(&errs, "install: executables", p)
	}
	for _, p := range f.Install.Docs {
		checkLocal(&errs, "install: docs", p)
	}

	spec.Wrapper.Binary = f.Wrapper.Binary
	if f.Wrapper.Binary == "" {
		errs.addf("wrapper: binary is required")
	} else {
		checkLocal(&errs, "wrapper: binary", f.Wrapper.Binary)
	}
	usesToolchain := false
	for i, e := range f.Wrapper.Env {
		if !envVarRE.MatchString(e.Name) {
			errs.addf("wrapper: env[%d]: invalid variable name %q", i, e.Name)
		}
		if slices.ContainsFunc(spec.Wrapper.Env, func(o EnvTemplate) bool { return o.Name == e.Name }) {
			errs.addf("wrapper: env[%d]: duplicate variable %q", i, e.Name)
		}
		checkTemplate(&errs, fmt.Sprintf("wrapper: env[%d]", i), e.Value, envVars)
		if slices.Contains(References(e.Value), VarToolchain) {
			usesToolchain = true
		}
		spec.Wrapper.Env = append(spec.Wrapper.Env, EnvTemplate{Name: e.Name, Value: e.Value})
	}
	if usesToolchain && len(f.Toolchain.Command) == 0 && f.Toolchain.Version == "" {
		errs.addf("toolchain: required because wrapper env references $%s", VarToolchain)
	}

	for i, t := range f.Test {
		tc := TestCase{
			Name:        t.Name,
			Args:        t.Args,
			ExitCode:    t.ExitCode,
			MustContain: t.MustContain,
			Match:       t.Match,
			Setup:       TestSetup{Dirs: t.Setup.Dirs, Files: t.Setup.Files},
		}
		label := tc.Label(i)
		if tc.ExitCode < 0 || tc.ExitCode > 255 {
			errs.addf("test %s: exit_code %d out of range", label, tc.ExitCode)
		}
		if tc.Match != "" {
			if _, err := regexp.Compile(tc.Match); err != nil {
				errs.addf("test %s: match: %v", label, err)
			}
		}
		for _, p := range tc.Setup.Dirs {
			checkLocal(&errs, "test "+label+": setup dirs", p)
		}
		for _, p := range tc.Setup.Files {
			checkLocal(&errs, "test "+label+": setup files", p)
		}
		spec.Tests = append(spec.Tests, tc)
	}

	return spec, errs
}

func checkTemplate(errs *problems, field, tmpl string, allowed []string) {
	for _, ref := range References(tmpl) {
		if !slices.Contains(allowed, ref) {
			errs.addf("%s: unknown variable $%s (allowed: $%s)", field, ref, strings.Join(allowed, ", $"))
		}
	}
}

func checkLocal(errs *problems, field, path string) {
	if !filepath.IsLocal(path) {
		errs.addf("%s: %q must be a relative path inside the tree", field, path)
	}
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
