// CLAUDE:SUMMARY CLI entry point for sentinel: keep-alive loop on a notebook tab, control server, and drive layout setup.
// Command sentinel keeps a hosted notebook session from idling out and
// prepares the checkpoint layout on its mounted drive.
//
// Usage:
//
//	sentinel run -config sentinel.yaml          # click the connect button until interrupted
//	sentinel run -remote ws://... -attach colab # attach to an open tab of a running Chrome
//	sentinel serve -config sentinel.yaml        # run + HTTP API and MCP tools
//	sentinel setup -project Test                # mount the drive, create checkpoints/ and logs/
//	sentinel probe -config sentinel.yaml        # a single firing, then exit
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/hazyhaar/sentinel/config"
	"github.com/hazyhaar/sentinel/persist"
)

func main() {
	if len(os.Args) < 2 {
		usage(os.Stderr)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var err error
	switch cmd, args := os.Args[1], os.Args[2:]; cmd {
	case "run":
		err = cmdRun(ctx, args, false)
	case "serve":
		err = cmdRun(ctx, args, true)
	case "probe":
		err = cmdProbe(ctx, args)
	case "setup":
		err = cmdSetup(ctx, args)
	case "-h", "-help", "--help", "help":
		usage(os.Stdout)
		return
	default:
		fmt.Fprintf(os.Stderr, "sentinel: unknown command %q\n", cmd)
		usage(os.Stderr)
		os.Exit(2)
	}
	if err != nil {
		slog.Error("sentinel: fatal", "error", err)
		os.Exit(1)
	}
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "usage: sentinel run|serve|probe [-config file] [-url url | -remote ws -attach match] [-interval d]")
	fmt.Fprintln(w, "       sentinel setup -project name [-root dir] [-mount-point dir] [-mount-cmd cmd]")
}

// sessionFlags are shared by run, serve and probe.
type sessionFlags struct {
	configPath string
	url        string
	remote     string
	attach     string
	userData   string
	interval   time.Duration
	addr       string
	logLevel   string
}

func (f *sessionFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&f.configPath, "config", env("SENTINEL_CONFIG", ""), "path to sentinel.yaml")
	fs.StringVar(&f.url, "url", "", "notebook URL to open")
	fs.StringVar(&f.remote, "remote", env("SENTINEL_REMOTE", ""), "DevTools WebSocket URL of a running Chrome")
	fs.StringVar(&f.attach, "attach", "", "attach to the open tab whose URL contains this")
	fs.StringVar(&f.userData, "user-data-dir", "", "Chrome profile to reuse")
	fs.DurationVar(&f.interval, "interval", 0, "firing interval (default 60s)")
	fs.StringVar(&f.addr, "addr", env("SENTINEL_ADDR", ""), "control server listen address (serve)")
	fs.StringVar(&f.logLevel, "log-level", env("LOG_LEVEL", ""), "log level: debug, info, warn, error")
}

// load reads the config file (if any) and lets flags override it.
func (f *sessionFlags) load() (*config.Config, error) {
	var cfg *config.Config
	if f.configPath != "" {
		c, err := config.LoadFile(f.configPath)
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
		cfg = c
	} else {
		cfg = config.Default()
	}

	f.applyOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Browser.URL == "" && cfg.Browser.Attach == "" {
		return nil, fmt.Errorf("a notebook is required: set browser.url or browser.attach (-url / -attach)")
	}
	return cfg, nil
}

// applyOverrides writes the flags that were set over cfg. It is applied to
// every reloaded config file too, so flags keep winning after an edit.
func (f *sessionFlags) applyOverrides(cfg *config.Config) {
	if f.url != "" {
		cfg.Browser.URL = f.url
	}
	if f.remote != "" {
		cfg.Browser.Remote = f.remote
	}
	if f.attach != "" {
		cfg.Browser.Attach = f.attach
	}
	if f.userData != "" {
		cfg.Browser.UserDataDir = f.userData
	}
	if f.interval != 0 {
		cfg.KeepAlive.Interval = f.interval
	}
	if f.addr != "" {
		cfg.Server.Addr = f.addr
	}
	if f.logLevel != "" {
		cfg.LogLevel = f.logLevel
	}
}

func env(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func newLogger(level string) *slog.Logger {
	lvl, err := config.ParseLevel(level)
	if err != nil {
		lvl = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)
	return logger
}

func cmdSetup(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("setup", flag.ExitOnError)
	configPath := fs.String("config", env("SENTINEL_CONFIG", ""), "path to sentinel.yaml")
	project := fs.String("project", "", "project name")
	root := fs.String("root", "", "directory projects are created under (default "+persist.DefaultRoot+")")
	mountPoint := fs.String("mount-point", "", "mount point handed to the mount command (default "+persist.DefaultMountPoint+")")
	mountCmd := fs.String("mount-cmd", "", "command that mounts the drive; the mount point is appended")
	logLevel := fs.String("log-level", "warn", "log level: debug, info, warn, error")
	fs.Parse(args)

	cfg := config.Default()
	if *configPath != "" {
		c, err := config.LoadFile(*configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c
	}
	if *project != "" {
		cfg.Persistence.Project = *project
	}
	if *root != "" {
		cfg.Persistence.Root = *root
	}
	if *mountPoint != "" {
		cfg.Persistence.MountPoint = *mountPoint
	}
	if *mountCmd != "" {
		cfg.Persistence.MountCommand = strings.Fields(*mountCmd)
	}
	logger := newLogger(*logLevel)

	rt, err := newRuntime(ctx, cfg, logger, false)
	if err != nil {
		return err
	}
	defer rt.Close()

	path, err := rt.init.Setup(ctx, cfg.Persistence.Project)
	if err != nil {
		return err
	}
	fmt.Println(path)
	return nil
}

func cmdProbe(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("probe", flag.ExitOnError)
	var sf sessionFlags
	sf.register(fs)
	fs.Parse(args)

	cfg, err := sf.load()
	if err != nil {
		return err
	}
	logger := newLogger(cfg.LogLevel)

	rt, err := newRuntime(ctx, cfg, logger, true)
	if err != nil {
		return err
	}
	defer rt.Close()

	f := rt.loop.Probe(ctx)
	logger.Info("sentinel: probe done", "found", f.Found(), "activated", f.Activated, "selector", f.Selector)
	return nil
}
