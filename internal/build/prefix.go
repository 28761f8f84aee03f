package build

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// PrefixPolicy decides what happens when the install prefix already has content.
type PrefixPolicy int

const (
	// PolicyUnset is rejected by NewBuilder: the policy must be chosen by the caller.
	PolicyUnset PrefixPolicy = iota
	// WipePrefix removes the existing content before building.
	WipePrefix
	// RejectPrefix fails the build with a *PrefixConflictError.
	RejectPrefix
)

func (p PrefixPolicy) String() string {
	switch p {
	case WipePrefix:
		return "wipe"
	case RejectPrefix:
		return "reject"
	}
	return "unset"
}

// ParsePrefixPolicy converts "wipe" or "reject" into a PrefixPolicy.
func ParsePrefixPolicy(s string) (PrefixPolicy, error) {
	switch s {
	case "wipe":
		return WipePrefix, nil
	case "reject":
		return RejectPrefix, nil
	case "":
		return PolicyUnset, errors.New(`prefix conflict policy is not set, choose "wipe" or "reject"`)
	}
	return PolicyUnset, fmt.Errorf(`unknown prefix conflict policy %q, want "wipe" or "reject"`, s)
}

var errPrefixLocked = errors.New("prefix is locked by another install")

// preparePrefix makes sure prefix exists and is empty, applying policy to
// pre-existing content.
func preparePrefix(prefix string, policy PrefixPolicy) error {
	if filepath.Dir(prefix) == prefix {
		return &PrefixConflictError{Prefix: prefix, Reason: "refusing to install into a filesystem root"}
	}
	entries, err := os.ReadDir(prefix)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return os.MkdirAll(prefix, 0o755)
	case err != nil:
		if info, statErr := os.Stat(prefix); statErr == nil && !info.IsDir() {
			return &PrefixConflictError{Prefix: prefix, Reason: "exists and is not a directory"}
		}
		return err
	case len(entries) == 0:
		return nil
	}

	switch policy {
	case WipePrefix:
		if err := os.RemoveAll(prefix); err != nil {
			return fmt.Errorf("wipe prefix: %w", err)
		}
		return os.MkdirAll(prefix, 0o755)
	case RejectPrefix:
		return &PrefixConflictError{
			Prefix: prefix,
			Reason: fmt.Sprintf("not empty (%d entries) and policy is reject", len(entries)),
		}
	}
	return fmt.Errorf("invalid prefix policy %v", policy)
}
