//go:build !unix

package persist

// isMountPoint cannot tell on this platform; the mount command always runs.
func isMountPoint(string) (bool, error) { return false, nil }
