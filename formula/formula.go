package formula

import (
	"slices"
	"strconv"
)

// Mode selects the release channel of a formula.
type Mode string

const (
	Stable Mode = "stable"
	Head   Mode = "head"
)

// HeadVersion is the package version reported for head builds.
const HeadVersion = "HEAD"

// DepKind tells when a dependency is needed.
type DepKind string

const (
	BuildTime DepKind = "build"
	RunTime   DepKind = "run"
)

// FormulaSpec is a validated formula. Values are produced by Parse or Load
// and must not be modified afterwards.
type FormulaSpec struct {
	Name     string
	Desc     string
	Homepage string

	// Channels holds at most one channel per Mode.
	Channels     []Channel
	Dependencies []Dependency

	Build     BuildDescriptor
	Toolchain Toolchain
	Install   Install
	Wrapper   WrapperSpec
	Tests     []TestCase
}

// Channel is a release track. It is either a *StableChannel or a *HeadChannel.
type Channel interface {
	Mode() Mode

	// DescriptorFile returns the per-channel build descriptor override, if any.
	DescriptorFile() string

	isChannel()
}

// StableChannel is a pinned release archive.
type StableChannel struct {
	ArchiveURL string
	Digest     string
	Version    string
	Descriptor string
}

func (*StableChannel) Mode() Mode { return Stable }
func (c *StableChannel) DescriptorFile() string { return c.Descriptor }
func (*StableChannel) isChannel() {}

// HeadChannel tracks a mutable branch of a repository.
type HeadChannel struct {
	RepoURL    string
	Branch     string
	Descriptor string
}

func (*HeadChannel) Mode() Mode { return Head }
func (c *HeadChannel) DescriptorFile() string { return c.Descriptor }
func (*HeadChannel) isChannel() {}

// Dependency declares an external tool the formula needs.
type Dependency struct {
	Name string
	At   DepKind
	// Command is the executable looked up on PATH. Defaults to Name.
	Command string
}

// BuildDescriptor describes how the external build tool is invoked.
type BuildDescriptor struct {
	// Command is a single shell command template, e.g.
	//
	//	luarocks make "$DESCRIPTOR" --tree="$PREFIX"
	Command string
	// File is the build descriptor file name template, e.g. vlip-$VERSION-1.rockspec.
	File string
	// Env overrides variables of the build subprocess environment.
	Env map[string]string
}

// Toolchain tells how to learn the version of the runtime toolchain.
// Exactly one of Command and Version is set.
type Toolchain struct {
	Command []string
	Version string
}

// Install lists post-build steps applied to the install tree.
type Install struct {
	// Executables are tree-relative paths made executable after the build.
	Executables []string
	// Docs are source-relative files copied into share/doc/<name>.
	Docs []string
}

// WrapperSpec describes the generated launcher.
type WrapperSpec struct {
	// Binary is the tree-relative path of the real executable.
	Binary string
	Env    []EnvTemplate
}

// EnvTemplate is a variable the launcher sets. Value may reference
// $ROOT, $PREFIX, $TOOLCHAIN, $NAME and $VERSION.
type EnvTemplate struct {
	Name  string
	Value string
}

// TestCase is a smoke test run against the launcher.
type TestCase struct {
	Name     string
	Args     []string
	ExitCode int
	// MustContain must occur in the combined stdout and stderr.
	MustContain string
	// Match is an optional regular expression the combined output must match.
	Match string
	Setup TestSetup
}

// TestSetup describes the sandbox a test case runs in.
type TestSetup struct {
	Dirs  []string
	Files []string
}

// Channel returns the channel for the given mode, or nil.
func (f *FormulaSpec) Channel(mode Mode) Channel {
	for _, ch := range f.Channels {
		if ch.Mode() == mode {
			return ch
		}
	}
	return nil
}

// Modes returns the modes the formula offers, stable first.
func (f *FormulaSpec) Modes() []Mode {
	var modes []Mode
	for _, m := range []Mode{Stable, Head} {
		if f.Channel(m) != nil {
			modes = append(modes, m)
		}
	}
	return modes
}

// DepsAt returns the dependencies needed at the given time.
func (f *FormulaSpec) DepsAt(kind DepKind) []Dependency {
	var deps []Dependency
	for _, d := range f.Dependencies {
		if d.At == kind {
			deps = append(deps, d)
		}
	}
	return slices.Clip(deps)
}

// Executable returns the command looked up on PATH for d.
func (d Dependency) Executable() string {
	if d.Command != "" {
		return d.Command
	}
	return d.Name
}

// Label returns a human readable name for the test case.
func (tc TestCase) Label(index int) string {
	if tc.Name != "" {
		return tc.Name
	}
	return "test #" + strconv.Itoa(index+1)
}
