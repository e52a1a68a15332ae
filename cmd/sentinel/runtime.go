package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/go-rod/rod"

	"github.com/hazyhaar/sentinel/config"
	"github.com/hazyhaar/sentinel/internal/browser"
	"github.com/hazyhaar/sentinel/keepalive"
	"github.com/hazyhaar/sentinel/ledger"
	"github.com/hazyhaar/sentinel/persist"
	"github.com/hazyhaar/sentinel/sink"
)

// runtime holds everything a command wires together.
type runtime struct {
	cfg    *config.Config
	logger *slog.Logger
	sinks  *sink.Router
	ledger *ledger.Ledger
	mgr    *browser.Manager
	page   *rod.Page
	loop   *keepalive.Loop
	init   *persist.Initializer
}

// newRuntime builds sinks, ledger and initializer; with withBrowser it also
// reaches the notebook tab and builds the loop on it.
func newRuntime(ctx context.Context, cfg *config.Config, logger *slog.Logger, withBrowser bool) (*runtime, error) {
	rt := &runtime{cfg: cfg, logger: logger, sinks: sink.NewRouter(logger)}

	for _, sc := range cfg.Sinks {
		switch sc.Type {
		case "console":
			rt.sinks.Add(sink.NewConsole(nil))
		case "stdout":
			rt.sinks.Add(sink.NewStdout(nil))
		case "webhook":
			opts := []sink.WebhookOption{sink.WithWebhookLogger(logger)}
			if sc.ClicksOnly {
				opts = append(opts, sink.WithWebhookClicksOnly())
			}
			rt.sinks.Add(sink.NewWebhook(sc.URL, opts...))
		default:
			logger.Warn("sentinel: unknown sink type", "type", sc.Type)
		}
	}

	if cfg.Ledger.Path != "" {
		l, err := ledger.Open(cfg.Ledger.Path)
		if err != nil {
			return nil, fmt.Errorf("ledger: %w", err)
		}
		rt.ledger = l.WithLogger(logger)
		rt.sinks.Add(rt.ledger)
	}

	var mounter persist.Mounter
	if mc := cfg.Persistence.MountCommand; len(mc) > 0 {
		mounter = &persist.CommandMounter{Name: mc[0], Args: mc[1:]}
	}
	rt.init = persist.New(persist.Options{
		MountPoint: cfg.Persistence.MountPoint,
		Root:       cfg.Persistence.Root,
		Mounter:    mounter,
		Recorder:   rt.sinks,
		Logger:     logger,
	})

	if !withBrowser {
		return rt, nil
	}

	rt.mgr = browser.NewManager(browser.Config{
		RemoteURL:   cfg.Browser.Remote,
		Bin:         cfg.Browser.Bin,
		UserDataDir: cfg.Browser.UserDataDir,
		Stealth:     browser.ParseStealth(cfg.Browser.Stealth),
		XvfbDisplay: cfg.Browser.XvfbDisplay,
		Logger:      logger,
	})
	if _, err := rt.mgr.Start(ctx); err != nil {
		rt.Close()
		return nil, err
	}

	var err error
	if cfg.Browser.Attach != "" {
		rt.page, err = browser.AttachTab(rt.mgr, cfg.Browser.Attach)
	} else {
		rt.page, err = browser.OpenTab(ctx, rt.mgr, cfg.Browser.URL)
	}
	if err != nil {
		rt.Close()
		return nil, err
	}

	rt.loop = keepalive.New(browser.NewPageLocator(rt.page), keepalive.Options{
		Targets:  cfg.KeepAlive.Targets,
		Recorder: rt.sinks,
		Logger:   logger,
	})
	return rt, nil
}

// Close stops the loop, then releases the browser and the sinks.
func (rt *runtime) Close() {
	if rt.loop != nil {
		rt.loop.Close()
	}
	if rt.mgr != nil {
		rt.mgr.Close()
	}
	if err := rt.sinks.Close(); err != nil {
		rt.logger.Warn("sentinel: close sinks", "error", err)
	}
}
