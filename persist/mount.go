package persist

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
)

// Mounter attaches an external storage volume at mountPoint. It must be a
// no-op when the volume is already attached.
type Mounter interface {
	Mount(ctx context.Context, mountPoint string) error
}

// MounterFunc adapts a function to Mounter.
type MounterFunc func(ctx context.Context, mountPoint string) error

func (f MounterFunc) Mount(ctx context.Context, mountPoint string) error { return f(ctx, mountPoint) }

// CommandMounter mounts by running an external program, e.g. a FUSE client.
// The mount point is appended as the last argument. The command is skipped
// only when a filesystem is already mounted there; files left in the plain
// directory do not count.
type CommandMounter struct {
	Name string
	Args []string
	// Stdout and Stderr receive the program's output. Default: os.Stderr.
	Stdout io.Writer
	Stderr io.Writer
}

// Mount implements Mounter.
func (m *CommandMounter) Mount(ctx context.Context, mountPoint string) error {
	if ok, err := isMountPoint(mountPoint); err != nil {
		return err
	} else if ok {
		return nil
	}
	if err := os.MkdirAll(mountPoint, 0o755); err != nil {
		return fmt.Errorf("persist: create mount point: %w", err)
	}

	args := append(append([]string(nil), m.Args...), mountPoint)
	cmd := exec.CommandContext(ctx, m.Name, args...)
	cmd.Stdout, cmd.Stderr = m.Stdout, m.Stderr
	if cmd.Stdout == nil {
		cmd.Stdout = os.Stderr
	}
	if cmd.Stderr == nil {
		cmd.Stderr = os.Stderr
	}
	return cmd.Run()
}
