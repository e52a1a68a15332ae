package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hazyhaar/sentinel/keepalive"
	"github.com/hazyhaar/sentinel/persist"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func TestConsole_Lines(t *testing.T) {
	var buf bytes.Buffer
	c := NewConsole(&buf)
	at := time.Date(2026, 10, 16, 14, 3, 9, 0, time.Local)

	if err := c.SendFiring(context.Background(), keepalive.Firing{At: at, Target: -1}); err != nil {
		t.Fatal(err)
	}
	if err := c.SendFiring(context.Background(), keepalive.Firing{At: at, Target: 0, Activated: true}); err != nil {
		t.Fatal(err)
	}

	want := "[14:03:09] Sentinel: Verificando conexión...\n" +
		"[14:03:09] Sentinel: Verificando conexión...\n" +
		"Haciendo clic en el botón de conexión.\n"
	if buf.String() != want {
		t.Fatalf("console output:\ngot  %q\nwant %q", buf.String(), want)
	}
}

func TestStdout_Envelope(t *testing.T) {
	var buf bytes.Buffer
	s := NewStdout(&buf)
	if err := s.SendFiring(context.Background(), keepalive.Firing{Task: "ka_1", Seq: 3, Target: 1, Activated: true}); err != nil {
		t.Fatal(err)
	}
	if err := s.SendSetup(context.Background(), persist.Record{Layout: persist.Layout{Project: "p"}}); err != nil {
		t.Fatal(err)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("lines: got %d, want 2", len(lines))
	}
	var env struct {
		Type string           `json:"type"`
		Data keepalive.Firing `json:"data"`
	}
	if err := json.Unmarshal([]byte(lines[0]), &env); err != nil {
		t.Fatal(err)
	}
	if env.Type != "firing" || env.Data.Task != "ka_1" || env.Data.Seq != 3 {
		t.Fatalf("envelope: got %+v", env)
	}
	if !strings.Contains(lines[1], `"type":"setup"`) {
		t.Fatalf("setup line: got %s", lines[1])
	}
}

func TestRouter_OneFailureDoesNotBlockOthers(t *testing.T) {
	errBoom := errors.New("boom")
	var got atomic.Int32
	failing := NewCallback(func(context.Context, keepalive.Firing) error { return errBoom }, nil)
	counting := NewCallback(func(context.Context, keepalive.Firing) error {
		got.Add(1)
		return nil
	}, nil)

	r := NewRouter(quiet, failing, counting)
	err := r.SendFiring(context.Background(), keepalive.Firing{})
	if !errors.Is(err, errBoom) {
		t.Fatalf("error: got %v, want %v", err, errBoom)
	}
	if got.Load() != 1 {
		t.Fatal("second sink was not called")
	}
	if err := r.SendSetup(context.Background(), persist.Record{}); err != nil {
		t.Fatalf("nil setup handlers must succeed: %v", err)
	}
}

func TestWebhook_RetriesUntilSuccess(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("content type: got %q", ct)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	w := NewWebhook(srv.URL, WithWebhookBackoff(time.Millisecond), WithWebhookLogger(quiet))
	if err := w.SendFiring(context.Background(), keepalive.Firing{Activated: true}); err != nil {
		t.Fatal(err)
	}
	if calls.Load() != 3 {
		t.Fatalf("calls: got %d, want 3", calls.Load())
	}
}

func TestWebhook_ExhaustsRetries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	w := NewWebhook(srv.URL, WithWebhookRetries(1), WithWebhookBackoff(time.Millisecond), WithWebhookLogger(quiet))
	if err := w.SendSetup(context.Background(), persist.Record{}); err == nil {
		t.Fatal("expected error after retries")
	}
}

func TestWebhook_ClicksOnly(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	w := NewWebhook(srv.URL, WithWebhookClicksOnly())
	_ = w.SendFiring(context.Background(), keepalive.Firing{Target: -1})
	_ = w.SendFiring(context.Background(), keepalive.Firing{Target: 0, Activated: true})
	if calls.Load() != 1 {
		t.Fatalf("calls: got %d, want 1", calls.Load())
	}
}
