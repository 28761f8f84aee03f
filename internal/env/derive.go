package env

import (
	"bytes"
	"fmt"
	"regexp"
	"slices"
	"strings"

	"github.com/goplus/llinstall/formula"
	"github.com/goplus/llinstall/internal/build"
)

// Var is a single environment variable.
type Var struct {
	Name  string
	Value string
}

// Set is an ordered environment. The order is the declaration order of the
// wrapper spec it was derived from.
type Set []Var

// Lookup returns the value of name.
func (s Set) Lookup(name string) (string, bool) {
	for _, v := range s {
		if v.Name == name {
			return v.Value, true
		}
	}
	return "", false
}

// Names returns the variable names in order.
func (s Set) Names() []string {
	names := make([]string, len(s))
	for i, v := range s {
		names[i] = v.Name
	}
	return names
}

// Environ returns the set in os.Environ form.
func (s Set) Environ() []string {
	out := make([]string, len(s))
	for i, v := range s {
		out[i] = v.Name + "=" + v.Value
	}
	return out
}

// Bytes returns the canonical encoding of the set: NAME=value pairs, each
// terminated by a NUL byte, in order.
func (s Set) Bytes() []byte {
	var buf bytes.Buffer
	for _, v := range s {
		buf.WriteString(v.Name)
		buf.WriteByte('=')
		buf.WriteString(v.Value)
		buf.WriteByte(0)
	}
	return buf.Bytes()
}

// Equal reports whether s and o are byte-identical.
func (s Set) Equal(o Set) bool {
	return bytes.Equal(s.Bytes(), o.Bytes())
}

// VersionParseError is returned when no major.minor version can be found in
// the version string reported by the toolchain.
type VersionParseError struct {
	Reported string
}

func (e *VersionParseError) Error() string {
	return fmt.Sprintf("cannot parse toolchain version: no major.minor number in %q", e.Reported)
}

var majorMinorRE = regexp.MustCompile(`(\d+)\.(\d+)`)

// ToolchainVersion extracts the first major.minor number from a toolchain's
// reported version, e.g. "Lua 5.4.6  Copyright (C) 1994-2023" yields "5.4".
func ToolchainVersion(reported string) (string, error) {
	m := majorMinorRE.FindStringSubmatch(reported)
	if m == nil {
		return "", &VersionParseError{Reported: reported}
	}
	return trimZeros(m[1]) + "." + trimZeros(m[2]), nil
}

// trimZeros drops leading zeros from a run of digits, keeping one for zero.
func trimZeros(digits string) string {
	if s := strings.TrimLeft(digits, "0"); s != "" {
		return s
	}
	return "0"
}

// Derive computes the launcher environment for tree from the templates of
// spec. It is a pure function of its inputs.
//
// The toolchain version is only parsed when a template references
// $TOOLCHAIN; a reported version without a major.minor number is then a
// *VersionParseError.
func Derive(tree *build.InstallTree, spec formula.WrapperSpec) (Set, error) {
	vars := map[string]string{
		formula.VarRoot:    tree.Root,
		formula.VarPrefix:  tree.Root,
		formula.VarName:    tree.Name,
		formula.VarVersion: tree.Version,
	}
	for _, tmpl := range spec.Env {
		if slices.Contains(formula.References(tmpl.Value), formula.VarToolchain) {
			toolchain, err := ToolchainVersion(tree.Toolchain)
			if err != nil {
				return nil, err
			}
			vars[formula.VarToolchain] = toolchain
			break
		}
	}

	set := make(Set, 0, len(spec.Env))
	for _, tmpl := range spec.Env {
		value, err := formula.Expand(tmpl.Value, vars)
		if err != nil {
			return nil, fmt.Errorf("derive %s: %w", tmpl.Name, err)
		}
		set = append(set, Var{Name: tmpl.Name, Value: value})
	}
	return set, nil
}
