package browser

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// xvfbReadyTimeout bounds the wait for the virtual display's socket.
const xvfbReadyTimeout = 5 * time.Second

// displaySocket returns the Unix socket an X server listens on for display,
// e.g. ":99" or ":99.0" -> /tmp/.X11-unix/X99. Remote displays have none.
func displaySocket(display string) (string, bool) {
	if !strings.HasPrefix(display, ":") {
		return "", false
	}
	num, _, _ := strings.Cut(display[1:], ".")
	if num == "" {
		return "", false
	}
	return filepath.Join("/tmp/.X11-unix", "X"+num), true
}

// startXvfb runs a virtual display for headful Chrome and waits until it
// accepts connections.
func (m *Manager) startXvfb() error {
	if m.xvfb != nil {
		return nil
	}

	display := m.cfg.XvfbDisplay
	cmd := exec.Command("Xvfb", display, "-screen", "0", "1280x800x24", "-ac", "-nolisten", "tcp")
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start xvfb on %s: %w", display, err)
	}
	m.xvfb = cmd

	if sock, ok := displaySocket(display); ok {
		deadline := time.Now().Add(xvfbReadyTimeout)
		for {
			if _, err := os.Stat(sock); err == nil {
				break
			}
			if time.Now().After(deadline) {
				m.stopXvfb()
				return fmt.Errorf("xvfb on %s: no socket at %s after %s", display, sock, xvfbReadyTimeout)
			}
			time.Sleep(50 * time.Millisecond)
		}
	}

	m.cfg.Logger.Info("browser: virtual display ready", "display", display, "pid", cmd.Process.Pid)
	return nil
}

// stopXvfb terminates the virtual display, if one was started.
func (m *Manager) stopXvfb() {
	if m.xvfb == nil {
		return
	}
	if p := m.xvfb.Process; p != nil {
		_ = p.Kill()
		_ = m.xvfb.Wait()
	}
	m.cfg.Logger.Info("browser: virtual display stopped", "display", m.cfg.XvfbDisplay)
	m.xvfb = nil
}
