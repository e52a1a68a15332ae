// Package sink defines output backends for firings and persistence setups.
package sink

import (
	"context"

	"github.com/hazyhaar/sentinel/keepalive"
	"github.com/hazyhaar/sentinel/persist"
)

// Sink is the output interface. Implementations deliver events to
// different backends (console, stdout, webhook, ledger, in-process callback).
type Sink interface {
	SendFiring(ctx context.Context, f keepalive.Firing) error
	SendSetup(ctx context.Context, r persist.Record) error
	Close() error
}

type envelope struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}
