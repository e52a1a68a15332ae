// CLAUDE:SUMMARY Human-readable operator lines for firings and setups, stamped with local time.
package sink

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/hazyhaar/sentinel/keepalive"
	"github.com/hazyhaar/sentinel/persist"
)

// Console prints the operator-facing lines: one check line per firing, a
// click line when a target was activated.
type Console struct {
	mu sync.Mutex
	w  io.Writer
}

// NewConsole creates a Console sink. If w is nil, os.Stdout is used.
func NewConsole(w io.Writer) *Console {
	if w == nil {
		w = os.Stdout
	}
	return &Console{w: w}
}

func (c *Console) SendFiring(_ context.Context, f keepalive.Firing) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := fmt.Fprintf(c.w, "[%s] Sentinel: Verificando conexión...\n", f.At.Local().Format("15:04:05")); err != nil {
		return err
	}
	if f.Activated {
		_, err := fmt.Fprintln(c.w, "Haciendo clic en el botón de conexión.")
		return err
	}
	return nil
}

// SendSetup prints nothing: persist.Initializer writes its own confirmation.
func (c *Console) SendSetup(context.Context, persist.Record) error { return nil }

func (c *Console) Close() error { return nil }
