//go:build !unix

package build

// lockPrefix is a no-op where flock is unavailable; callers must keep
// prefixes of concurrent installs distinct.
func lockPrefix(prefix string) (unlock func(), err error) {
	return func() {}, nil
}
