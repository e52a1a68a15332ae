package sink

import (
	"context"

	"github.com/hazyhaar/sentinel/keepalive"
	"github.com/hazyhaar/sentinel/persist"
)

// FiringFunc is called for each firing.
type FiringFunc func(ctx context.Context, f keepalive.Firing) error

// SetupFunc is called for each completed setup.
type SetupFunc func(ctx context.Context, r persist.Record) error

// Callback delivers events via Go function calls, with no serialisation.
type Callback struct {
	onFiring FiringFunc
	onSetup  SetupFunc
}

// NewCallback creates a Callback sink. Either handler may be nil.
func NewCallback(onFiring FiringFunc, onSetup SetupFunc) *Callback {
	return &Callback{onFiring: onFiring, onSetup: onSetup}
}

func (c *Callback) SendFiring(ctx context.Context, f keepalive.Firing) error {
	if c.onFiring != nil {
		return c.onFiring(ctx, f)
	}
	return nil
}

func (c *Callback) SendSetup(ctx context.Context, r persist.Record) error {
	if c.onSetup != nil {
		return c.onSetup(ctx, r)
	}
	return nil
}

func (c *Callback) Close() error { return nil }
