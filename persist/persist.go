// CLAUDE:SUMMARY Idempotent checkpoint/log directory layout on an externally mounted drive, mount delegated to a Mounter.
// Package persist prepares the directory layout a trainer writes checkpoints
// into. It asks an external facility to mount the storage volume, then
// creates <root>/<project>/checkpoints and <root>/<project>/logs if they are
// missing. Running it twice is harmless.
package persist

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Default locations of the notebook drive mount.
const (
	DefaultMountPoint = "/content/drive"
	DefaultRoot       = "/content/drive/MyDrive"
)

// Subdirectory names created under each project.
const (
	CheckpointsDir = "checkpoints"
	LogsDir        = "logs"
)

// ErrInvalidProject is returned for an empty project name or one that would
// resolve outside the project's own directory.
var ErrInvalidProject = errors.New("persist: invalid project name")

// Layout is the resolved directory layout of a project.
type Layout struct {
	Project     string `json:"project"`
	Base        string `json:"base"`
	Checkpoints string `json:"checkpoints"`
	Logs        string `json:"logs"`
}

// Record describes one completed setup.
type Record struct {
	Layout
	At time.Time `json:"at"`
}

// Recorder receives every completed setup. sink.Router satisfies it.
type Recorder interface {
	SendSetup(ctx context.Context, r Record) error
}

// Options configures an Initializer.
type Options struct {
	// MountPoint is handed to the Mounter. Default: DefaultMountPoint.
	MountPoint string
	// Root is the directory projects are created under. Default: DefaultRoot.
	Root string
	// Mounter attaches the volume. Nil means the volume is assumed mounted.
	Mounter Mounter
	// Out receives the confirmation line. Default: os.Stdout.
	Out io.Writer
	// Recorder receives every completed setup. Optional.
	Recorder Recorder
	// Perm is the mode of created directories. Default: 0o755.
	Perm   os.FileMode
	Logger *slog.Logger
}

func (o *Options) defaults() {
	if o.MountPoint == "" {
		o.MountPoint = DefaultMountPoint
	}
	if o.Root == "" {
		o.Root = DefaultRoot
	}
	if o.Out == nil {
		o.Out = os.Stdout
	}
	if o.Perm == 0 {
		o.Perm = 0o755
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Initializer performs the setup. It holds no state between calls.
type Initializer struct {
	opts Options
}

// New creates an Initializer.
func New(opts Options) *Initializer {
	opts.defaults()
	return &Initializer{opts: opts}
}

// Root returns the directory projects are created under.
func (i *Initializer) Root() string { return i.opts.Root }

// Resolve computes the layout of project without touching the filesystem.
func (i *Initializer) Resolve(project string) (Layout, error) {
	if err := validProject(project); err != nil {
		return Layout{}, err
	}
	base := filepath.Join(i.opts.Root, project)
	return Layout{
		Project:     project,
		Base:        base,
		Checkpoints: filepath.Join(base, CheckpointsDir),
		Logs:        filepath.Join(base, LogsDir),
	}, nil
}

// Setup mounts the volume, creates the project layout and returns the
// checkpoint directory.
func (i *Initializer) Setup(ctx context.Context, project string) (string, error) {
	l, err := i.Prepare(ctx, project)
	if err != nil {
		return "", err
	}
	return l.Checkpoints, nil
}

// Prepare is Setup returning the whole layout. Mount errors are returned
// unchanged so the caller sees exactly what the mount facility reported.
func (i *Initializer) Prepare(ctx context.Context, project string) (Layout, error) {
	l, err := i.Resolve(project)
	if err != nil {
		return Layout{}, err
	}

	if i.opts.Mounter != nil {
		if err := i.opts.Mounter.Mount(ctx, i.opts.MountPoint); err != nil {
			return Layout{}, err
		}
	}

	for _, dir := range []string{l.Checkpoints, l.Logs} {
		if err := os.MkdirAll(dir, i.opts.Perm); err != nil {
			return Layout{}, fmt.Errorf("persist: create %s: %w", dir, err)
		}
	}

	fmt.Fprintf(i.opts.Out, "Directorios listos en: %s\n", l.Base)
	i.opts.Logger.Info("persist: layout ready", "project", project, "base", l.Base)

	if i.opts.Recorder != nil {
		rec := Record{Layout: l, At: time.Now()}
		if err := i.opts.Recorder.SendSetup(ctx, rec); err != nil {
			i.opts.Logger.Warn("persist: record setup failed", "project", project, "error", err)
		}
	}
	return l, nil
}

func validProject(name string) error {
	switch {
	case strings.TrimSpace(name) == "":
		return fmt.Errorf("%w: empty", ErrInvalidProject)
	case name == "." || name == "..":
		return fmt.Errorf("%w: %q", ErrInvalidProject, name)
	case strings.ContainsAny(name, `/\`) || strings.ContainsRune(name, 0):
		return fmt.Errorf("%w: %q contains a path separator", ErrInvalidProject, name)
	}
	return nil
}
