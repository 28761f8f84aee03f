package formula

import (
	"fmt"
	"os"
	"slices"
	"sort"
	"strings"

	"mvdan.cc/sh/v3/expand"
	"mvdan.cc/sh/v3/syntax"
)

// Template variables.
const (
	VarPrefix     = "PREFIX"
	VarDescriptor = "DESCRIPTOR"
	VarVersion    = "VERSION"
	VarName       = "NAME"
	VarSource     = "SOURCE"
	VarRoot       = "ROOT"
	VarToolchain  = "TOOLCHAIN"
)

var (
	commandVars    = []string{VarPrefix, VarDescriptor, VarVersion, VarName, VarSource}
	descriptorVars = []string{VarVersion, VarName}
	envVars        = []string{VarRoot, VarPrefix, VarToolchain, VarName, VarVersion}
)

// Expand replaces $VAR and ${VAR} references in tmpl with values from vars.
// A reference to a variable missing from vars is an error.
func Expand(tmpl string, vars map[string]string) (string, error) {
	var missing []string
	s := os.Expand(tmpl, func(name string) string {
		v, ok := vars[name]
		if !ok && !slices.Contains(missing, name) {
			missing = append(missing, name)
		}
		return v
	})
	if len(missing) > 0 {
		return "", fmt.Errorf("undefined variable $%s in %q", strings.Join(missing, ", $"), tmpl)
	}
	return s, nil
}

// References reports the variables referenced by tmpl.
func References(tmpl string) []string {
	var names []string
	os.Expand(tmpl, func(name string) string {
		if !slices.Contains(names, name) {
			names = append(names, name)
		}
		return ""
	})
	return names
}

// ExpandCommand expands a build command template into an argument vector.
// The template is one simple shell command; quoting follows POSIX shell rules
// and every referenced variable must be present in vars.
func ExpandCommand(tmpl string, vars map[string]string) ([]string, error) {
	call, err := parseCommand(tmpl)
	if err != nil {
		return nil, err
	}
	pairs := make([]string, 0, len(vars))
	for k, v := range vars {
		pairs = append(pairs, k+"="+v)
	}
	sort.Strings(pairs)
	cfg := &expand.Config{
		Env:     expand.ListEnviron(pairs...),
		NoUnset: true,
	}
	argv, err := expand.Fields(cfg, call.Args...)
	if err != nil {
		return nil, fmt.Errorf("expand command %q: %w", tmpl, err)
	}
	if len(argv) == 0 || argv[0] == "" {
		return nil, fmt.Errorf("expand command %q: empty command", tmpl)
	}
	return argv, nil
}

func parseCommand(tmpl string) (*syntax.CallExpr, error) {
	file, err := syntax.NewParser().Parse(strings.NewReader(tmpl), "command")
	if err != nil {
		return nil, fmt.Errorf("parse command %q: %w", tmpl, err)
	}
	if len(file.Stmts) != 1 {
		return nil, fmt.Errorf("command %q: want exactly one command, got %d", tmpl, len(file.Stmts))
	}
	stmt := file.Stmts[0]
	if stmt.Negated || stmt.Background || stmt.Coprocess || len(stmt.Redirs) > 0 {
		return nil, fmt.Errorf("command %q: operators and redirections are not supported", tmpl)
	}
	call, ok := stmt.Cmd.(*syntax.CallExpr)
	if !ok || len(call.Args) == 0 {
		return nil, fmt.Errorf("command %q: not a simple command", tmpl)
	}
	if len(call.Assigns) > 0 {
		return nil, fmt.Errorf("command %q: inline assignments are not supported, use build.env", tmpl)
	}
	if node, kind := unsupportedExpansion(call); node != nil {
		return nil, fmt.Errorf("command %q: %s at %s is not supported", tmpl, kind, node.Pos())
	}
	return call, nil
}

// unsupportedExpansion returns the first word part of call that would run
// code or cannot be expanded from variables alone.
func unsupportedExpansion(call *syntax.CallExpr) (found syntax.Node, kind string) {
	syntax.Walk(call, func(node syntax.Node) bool {
		if found != nil {
			return false
		}
		switch node.(type) {
		case *syntax.CmdSubst:
			kind = "command substitution"
		case *syntax.ProcSubst:
			kind = "process substitution"
		case *syntax.ArithmExp:
			kind = "arithmetic expansion"
		case *syntax.ExtGlob:
			kind = "extended glob"
		default:
			return true
		}
		found = node
		return false
	})
	return found, kind
}

// commandReferences returns the parameters referenced by a parsed command.
func commandReferences(call *syntax.CallExpr) []string {
	var names []string
	syntax.Walk(call, func(node syntax.Node) bool {
		if pe, ok := node.(*syntax.ParamExp); ok && pe.Param != nil {
			if !slices.Contains(names, pe.Param.Value) {
				names = append(names, pe.Param.Value)
			}
		}
		return true
	})
	return names
}
