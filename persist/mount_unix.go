//go:build unix

package persist

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// isMountPoint reports whether dir is the root of a mounted filesystem: its
// device differs from its parent's, or it is "/". A missing dir is not a
// mount point. Bind mounts of the same filesystem are not detected.
func isMountPoint(dir string) (bool, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return false, err
	}
	var st, parent unix.Stat_t
	if err := unix.Stat(abs, &st); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("persist: stat %s: %w", abs, err)
	}
	if err := unix.Stat(filepath.Dir(abs), &parent); err != nil {
		return false, fmt.Errorf("persist: stat %s: %w", filepath.Dir(abs), err)
	}
	if st.Dev != parent.Dev {
		return true, nil
	}
	return st.Ino == parent.Ino, nil
}
