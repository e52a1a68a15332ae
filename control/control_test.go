package control

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"golang.org/x/crypto/bcrypt"

	"github.com/hazyhaar/sentinel/keepalive"
	"github.com/hazyhaar/sentinel/ledger"
	"github.com/hazyhaar/sentinel/persist"
	"github.com/hazyhaar/sentinel/sink"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

type button struct{ clicks atomic.Int32 }

func (b *button) Activate(context.Context) error {
	b.clicks.Add(1)
	return nil
}

// pageWith exposes a single element under one selector.
type pageWith struct {
	sel string
	el  *button
}

func (p pageWith) Find(_ context.Context, sel string) (keepalive.Element, error) {
	if sel == p.sel {
		return p.el, nil
	}
	return nil, nil
}

type fixture struct {
	svc    *Service
	loop   *keepalive.Loop
	ledger *ledger.Ledger
	root   string
	btn    *button
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	led := ledger.OpenMemory(t)
	router := sink.NewRouter(quiet, led)
	btn := &button{}

	loop := keepalive.New(pageWith{sel: "#fallback", el: btn}, keepalive.Options{
		Targets:  []string{"#primary", "#fallback"},
		Recorder: router,
		Logger:   quiet,
	})
	t.Cleanup(loop.Close)

	root := t.TempDir()
	ini := persist.New(persist.Options{Root: root, Out: io.Discard, Recorder: router, Logger: quiet})

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	svc := New(ctx, loop, ini, WithLedger(led), WithLogger(quiet))
	return &fixture{svc: svc, loop: loop, ledger: led, root: root, btn: btn}
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHTTP_TaskLifecycle(t *testing.T) {
	f := newFixture(t)
	h := f.svc.Router(nil)

	rec := do(t, h, http.MethodPost, "/api/tasks", `{"interval_ms": 3600000}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("start: %d %s", rec.Code, rec.Body)
	}
	var v TaskView
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatal(err)
	}
	if v.Handle == "" || v.IntervalMS != 3600000 {
		t.Fatalf("view: got %+v", v)
	}

	rec = do(t, h, http.MethodGet, "/api/tasks/"+string(v.Handle), "")
	if rec.Code != http.StatusOK {
		t.Fatalf("get: %d %s", rec.Code, rec.Body)
	}
	if !strings.Contains(rec.Body.String(), `"history"`) {
		t.Fatalf("ledger summary missing: %s", rec.Body)
	}

	for range 2 {
		rec = do(t, h, http.MethodDelete, "/api/tasks/"+string(v.Handle), "")
		if rec.Code != http.StatusNoContent {
			t.Fatalf("cancel: %d", rec.Code)
		}
	}
	rec = do(t, h, http.MethodGet, "/api/tasks/"+string(v.Handle), "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("get after cancel: %d", rec.Code)
	}
}

func TestHTTP_StartDefaultsAndRejectsNegative(t *testing.T) {
	f := newFixture(t)
	h := f.svc.Router(nil)

	rec := do(t, h, http.MethodPost, "/api/tasks", "")
	if rec.Code != http.StatusCreated {
		t.Fatalf("start: %d %s", rec.Code, rec.Body)
	}
	if !strings.Contains(rec.Body.String(), `"interval_ms":60000`) {
		t.Fatalf("default interval: %s", rec.Body)
	}

	rec = do(t, h, http.MethodPost, "/api/tasks", `{"interval_ms": -1}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("negative interval: %d", rec.Code)
	}
}

func TestHTTP_ProbeAndFirings(t *testing.T) {
	f := newFixture(t)
	h := f.svc.Router(nil)

	rec := do(t, h, http.MethodPost, "/api/probe", "")
	var fr keepalive.Firing
	if err := json.Unmarshal(rec.Body.Bytes(), &fr); err != nil {
		t.Fatal(err)
	}
	if !fr.Activated || fr.Selector != "#fallback" {
		t.Fatalf("probe: got %+v", fr)
	}
	if f.btn.clicks.Load() != 1 {
		t.Fatalf("clicks: got %d", f.btn.clicks.Load())
	}

	rec = do(t, h, http.MethodGet, "/api/firings?limit=5", "")
	var list []keepalive.Firing
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || !list[0].Activated {
		t.Fatalf("firings: got %+v", list)
	}
}

func TestHTTP_Targets(t *testing.T) {
	f := newFixture(t)
	h := f.svc.Router(nil)

	rec := do(t, h, http.MethodPut, "/api/targets", `{"targets": ["#a"]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("put: %d %s", rec.Code, rec.Body)
	}
	if got := f.loop.Targets(); len(got) != 1 || got[0] != "#a" {
		t.Fatalf("targets: got %v", got)
	}
	rec = do(t, h, http.MethodPut, "/api/targets", `{"targets": []}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("empty targets: %d", rec.Code)
	}
}

func TestHTTP_Persistence(t *testing.T) {
	f := newFixture(t)
	h := f.svc.Router(nil)

	rec := do(t, h, http.MethodPost, "/api/persistence", `{"project": "Test"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("setup: %d %s", rec.Code, rec.Body)
	}
	var l persist.Layout
	if err := json.Unmarshal(rec.Body.Bytes(), &l); err != nil {
		t.Fatal(err)
	}
	if l.Checkpoints != filepath.Join(f.root, "Test", "checkpoints") {
		t.Fatalf("checkpoints: got %q", l.Checkpoints)
	}

	rec = do(t, h, http.MethodPost, "/api/persistence", `{"project": "../x"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("invalid project: %d", rec.Code)
	}

	setups, err := f.ledger.Setups(context.Background(), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(setups) != 1 {
		t.Fatalf("recorded setups: got %d", len(setups))
	}
}

func TestHTTP_FiringsWithoutLedger(t *testing.T) {
	loop := keepalive.New(pageWith{}, keepalive.Options{Logger: quiet})
	defer loop.Close()
	svc := New(context.Background(), loop, persist.New(persist.Options{Root: t.TempDir(), Out: io.Discard}))

	rec := do(t, svc.Router(nil), http.MethodGet, "/api/firings", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("firings without ledger: %d", rec.Code)
	}
}

func TestBasicAuth(t *testing.T) {
	f := newFixture(t)
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	h := f.svc.Router(BasicAuth("ops", string(hash)))

	if rec := do(t, h, http.MethodGet, "/health", ""); rec.Code != http.StatusOK {
		t.Fatalf("health must stay public: %d", rec.Code)
	}
	if rec := do(t, h, http.MethodGet, "/api/tasks", ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("no credentials: %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/tasks", nil)
	req.SetBasicAuth("ops", "wrong")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("wrong password: %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/tasks", nil)
	req.SetBasicAuth("ops", "s3cret")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("valid credentials: %d", rec.Code)
	}
}

// --- MCP ---

var testImpl = &mcp.Implementation{Name: "sentinel-test", Version: "0.1.0"}

func mcpSession(t *testing.T) (*fixture, *mcp.ClientSession) {
	t.Helper()
	f := newFixture(t)

	srv := mcp.NewServer(testImpl, nil)
	f.svc.RegisterMCP(srv)

	serverT, clientT := mcp.NewInMemoryTransports()
	ctx := context.Background()
	go func() {
		_ = srv.Run(ctx, serverT)
	}()

	client := mcp.NewClient(testImpl, nil)
	session, err := client.Connect(ctx, clientT, nil)
	if err != nil {
		t.Fatalf("client connect: %v", err)
	}
	t.Cleanup(func() { session.Close() })
	return f, session
}

func callTool(t *testing.T, session *mcp.ClientSession, name string, args any) string {
	t.Helper()
	result, err := session.CallTool(context.Background(), &mcp.CallToolParams{Name: name, Arguments: args})
	if err != nil {
		t.Fatalf("CallTool(%s): %v", name, err)
	}
	if err := result.GetError(); err != nil {
		t.Fatalf("CallTool(%s) tool error: %v", name, err)
	}
	if len(result.Content) == 0 {
		t.Fatalf("CallTool(%s): empty content", name)
	}
	tc, ok := result.Content[0].(*mcp.TextContent)
	if !ok {
		t.Fatalf("CallTool(%s): expected TextContent, got %T", name, result.Content[0])
	}
	return tc.Text
}

func TestMCP_StartListCancel(t *testing.T) {
	f, session := mcpSession(t)

	var v TaskView
	if err := json.Unmarshal([]byte(callTool(t, session, "sentinel_start", map[string]any{"interval_ms": 3600000})), &v); err != nil {
		t.Fatal(err)
	}
	if v.Handle == "" {
		t.Fatal("no handle returned")
	}

	list := callTool(t, session, "sentinel_list", map[string]any{})
	if !strings.Contains(list, string(v.Handle)) {
		t.Fatalf("list: %s", list)
	}

	callTool(t, session, "sentinel_cancel", map[string]any{"handle": string(v.Handle)})
	callTool(t, session, "sentinel_cancel", map[string]any{"handle": string(v.Handle)})
	if n := len(f.loop.Tasks()); n != 0 {
		t.Fatalf("tasks after cancel: %d", n)
	}
}

func TestMCP_SetupAndProbe(t *testing.T) {
	f, session := mcpSession(t)

	out := callTool(t, session, "sentinel_setup_persistence", map[string]any{"project": "Test"})
	var l persist.Layout
	if err := json.Unmarshal([]byte(out), &l); err != nil {
		t.Fatal(err)
	}
	if l.Checkpoints != filepath.Join(f.root, "Test", "checkpoints") {
		t.Fatalf("layout: got %+v", l)
	}

	out = callTool(t, session, "sentinel_probe", map[string]any{})
	if !strings.Contains(out, `"activated":true`) {
		t.Fatalf("probe: %s", out)
	}

	out = callTool(t, session, "sentinel_firings", map[string]any{"limit": 10})
	if !strings.Contains(out, "#fallback") {
		t.Fatalf("firings: %s", out)
	}
}

func TestMCP_InvalidProjectIsToolError(t *testing.T) {
	_, session := mcpSession(t)

	result, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      "sentinel_setup_persistence",
		Arguments: map[string]any{"project": ".."},
	})
	if err != nil {
		t.Fatalf("protocol error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected tool error")
	}
}
