package ledger

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/hazyhaar/sentinel/keepalive"
	"github.com/hazyhaar/sentinel/persist"
)

func TestFirings_RoundTripAndFilter(t *testing.T) {
	l := OpenMemory(t)
	ctx := context.Background()
	base := time.Now().Add(-time.Minute).Truncate(time.Millisecond)

	for i := range 3 {
		f := keepalive.Firing{Task: "ka_a", Seq: int64(i + 1), At: base.Add(time.Duration(i) * time.Second), Target: -1}
		if i == 2 {
			f.Target, f.Selector, f.Activated = 0, "#connect", true
		}
		if err := l.SendFiring(ctx, f); err != nil {
			t.Fatal(err)
		}
	}
	if err := l.SendFiring(ctx, keepalive.Firing{Task: "ka_b", Seq: 1, At: base, Target: -1}); err != nil {
		t.Fatal(err)
	}

	got, err := l.Firings(ctx, "ka_a", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("firings: got %d, want 3", len(got))
	}
	newest := got[0]
	if newest.Seq != 3 || !newest.Activated || newest.Selector != "#connect" || !newest.At.Equal(base.Add(2*time.Second)) {
		t.Fatalf("newest: got %+v", newest)
	}

	all, err := l.Firings(ctx, "", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 4 {
		t.Fatalf("all firings: got %d, want 4", len(all))
	}

	limited, err := l.Firings(ctx, "", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(limited) != 2 {
		t.Fatalf("limited: got %d, want 2", len(limited))
	}
}

func TestSummarize(t *testing.T) {
	l := OpenMemory(t)
	ctx := context.Background()
	click := time.Now().Truncate(time.Millisecond)

	_ = l.SendFiring(ctx, keepalive.Firing{Task: "ka_a", Seq: 1, At: click.Add(-time.Minute), Target: -1})
	_ = l.SendFiring(ctx, keepalive.Firing{Task: "ka_a", Seq: 2, At: click, Target: 1, Activated: true})

	s, err := l.Summarize(ctx, "ka_a")
	if err != nil {
		t.Fatal(err)
	}
	if s.Firings != 2 || s.Activations != 1 || !s.LastClick.Equal(click) {
		t.Fatalf("summary: got %+v", s)
	}

	empty, err := l.Summarize(ctx, "ka_none")
	if err != nil {
		t.Fatal(err)
	}
	if empty.Firings != 0 || !empty.LastClick.IsZero() {
		t.Fatalf("empty summary: got %+v", empty)
	}
}

func TestSetups(t *testing.T) {
	l := OpenMemory(t)
	ctx := context.Background()

	rec := persist.Record{
		Layout: persist.Layout{Project: "Test", Base: "/d/Test", Checkpoints: "/d/Test/checkpoints", Logs: "/d/Test/logs"},
		At:     time.Now().Truncate(time.Millisecond),
	}
	if err := l.SendSetup(ctx, rec); err != nil {
		t.Fatal(err)
	}
	got, err := l.Setups(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Layout != rec.Layout || !got[0].At.Equal(rec.At) {
		t.Fatalf("setups: got %+v", got)
	}
}

func TestCleanup(t *testing.T) {
	l := OpenMemory(t)
	ctx := context.Background()

	_ = l.SendFiring(ctx, keepalive.Firing{Seq: 1, At: time.Now().Add(-72 * time.Hour), Target: -1})
	_ = l.SendFiring(ctx, keepalive.Firing{Seq: 2, At: time.Now(), Target: -1})

	n, err := l.Cleanup(ctx, 24*time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("deleted: got %d, want 1", n)
	}
	if n, _ := l.Cleanup(ctx, 0); n != 0 {
		t.Fatalf("zero retention must not delete, got %d", n)
	}
}

func TestOpen_CreatesParentDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "ledger.db")
	l, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()
	if err := l.SendFiring(context.Background(), keepalive.Firing{At: time.Now(), Target: -1}); err != nil {
		t.Fatal(err)
	}
}

func TestLedgerAsRecorder(t *testing.T) {
	l := OpenMemory(t)
	var _ keepalive.Recorder = l
	var _ persist.Recorder = l
}
