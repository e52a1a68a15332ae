package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"golang.org/x/sync/errgroup"

	"github.com/hazyhaar/sentinel/config"
	"github.com/hazyhaar/sentinel/control"
	"github.com/hazyhaar/sentinel/keepalive"
)

const version = "0.3.0"

func cmdRun(ctx context.Context, args []string, serve bool) error {
	name := "run"
	if serve {
		name = "serve"
	}
	fs := flag.NewFlagSet(name, flag.ExitOnError)
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

	auto := &autoTask{loop: rt.loop}
	if cfg.KeepAlive.AutoStartEnabled() {
		if err := auto.restart(ctx, cfg.KeepAlive.Interval); err != nil {
			return err
		}
	}

	if sf.configPath != "" {
		w, err := config.Watch(sf.configPath, 500*time.Millisecond, logger, auto.onReload(ctx, &sf, logger))
		if err != nil {
			logger.Warn("sentinel: config watch disabled", "error", err)
		} else {
			defer w.Close()
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	if rt.ledger != nil {
		g.Go(func() error {
			pruneLoop(gctx, rt)
			return nil
		})
	}

	if serve {
		svc := control.New(ctx, rt.loop, rt.init, control.WithLedger(rt.ledger), control.WithLogger(logger))

		mcpSrv := mcp.NewServer(&mcp.Implementation{Name: "sentinel", Version: version}, nil)
		svc.RegisterMCP(mcpSrv)

		var auth func(http.Handler) http.Handler
		if cfg.Server.PasswordHash != "" {
			auth = control.BasicAuth(cfg.Server.User, cfg.Server.PasswordHash)
		}
		r := svc.Router(auth)
		if auth != nil {
			r.With(auth).Handle("/mcp", control.MCPHandler(mcpSrv))
		} else {
			r.Handle("/mcp", control.MCPHandler(mcpSrv))
		}

		srv := &http.Server{Addr: cfg.Server.Addr, Handler: r, ReadHeaderTimeout: 10 * time.Second}
		g.Go(func() error {
			logger.Info("sentinel: control server listening", "addr", cfg.Server.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutCtx)
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		return nil
	})

	err = g.Wait()
	logger.Info("sentinel: stopped")
	return err
}

// autoTask tracks the task started from configuration so a reload can
// replace it when the interval changes.
type autoTask struct {
	loop *keepalive.Loop

	mu     sync.Mutex
	handle keepalive.Handle
	every  time.Duration
}

// restart starts a task at interval and only then cancels the previous one,
// so a failed start leaves the running task in place.
func (a *autoTask) restart(ctx context.Context, interval time.Duration) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	h, err := a.loop.Start(ctx, interval)
	if err != nil {
		return err
	}
	a.loop.Cancel(a.handle)
	a.handle, a.every = h, interval
	return nil
}

// onReload applies an edited config file: flags are laid over it again, the
// targets are replaced and the task is restarted if its interval changed.
func (a *autoTask) onReload(ctx context.Context, sf *sessionFlags, logger *slog.Logger) func(*config.Config) {
	return func(next *config.Config) {
		sf.applyOverrides(next)
		if err := next.Validate(); err != nil {
			logger.Warn("sentinel: reloaded config rejected", "error", err)
			return
		}
		a.loop.SetTargets(next.KeepAlive.Targets)
		if a.running() && next.KeepAlive.Interval != a.interval() {
			if err := a.restart(ctx, next.KeepAlive.Interval); err != nil {
				logger.Error("sentinel: restart after reload failed", "error", err)
			}
		}
	}
}

func (a *autoTask) running() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.handle == "" {
		return false
	}
	_, ok := a.loop.Task(a.handle)
	return ok
}

func (a *autoTask) interval() time.Duration {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.every
}

// pruneLoop applies ledger retention once an hour.
func pruneLoop(ctx context.Context, rt *runtime) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := rt.ledger.Cleanup(ctx, rt.cfg.Ledger.Retention)
			if err != nil {
				rt.logger.Warn("sentinel: ledger cleanup failed", "error", err)
				continue
			}
			if n > 0 {
				rt.logger.Info("sentinel: ledger pruned", "deleted", n)
			}
		}
	}
}
