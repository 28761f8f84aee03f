//go:build unix

package build

import (
	"errors"
	"os"

	"golang.org/x/sys/unix"
)

// lockPrefix takes an exclusive advisory lock on <prefix>.lock without
// blocking. The lock file lives next to the prefix so that wiping the
// prefix leaves it in place.
func lockPrefix(prefix string) (unlock func(), err error) {
	f, err := os.OpenFile(prefix+".lock", os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, err
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, errPrefixLocked
		}
		return nil, err
	}
	return func() {
		unix.Flock(int(f.Fd()), unix.LOCK_UN)
		f.Close()
	}, nil
}
