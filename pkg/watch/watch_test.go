package watch

import (
	"bufio"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/agtrace/agtrace/pkg/index"
	"github.com/agtrace/agtrace/pkg/provider/claude"
)

func splitFixtureLines(t *testing.T, path string) []string {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		t.Fatal(err)
	}
	return lines
}

func collectUntil[T any](t *testing.T, out <-chan Outcome, timeout time.Duration) (T, bool) {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case o, ok := <-out:
			if !ok {
				var zero T
				return zero, false
			}
			if v, ok := o.(T); ok {
				return v, true
			}
		case <-deadline:
			var zero T
			return zero, false
		}
	}
}

func TestWatcherEmitsNewSessionOnFileCreate(t *testing.T) {
	root := t.TempDir()
	lines := splitFixtureLines(t, "../provider/claude/testdata/session_basic.jsonl")

	w, err := New([]RootConfig{{Vendor: "claude", Root: root, Provider: claude.New()}}, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)
	defer w.Close()

	time.Sleep(50 * time.Millisecond)

	path := filepath.Join(root, "session.jsonl")
	if err := os.WriteFile(path, []byte(lines[0]+"\n"+lines[1]+"\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	ns, ok := collectUntil[DiscoveryNewSession](t, w.Out(), 2*time.Second)
	if !ok {
		t.Fatal("expected a DiscoveryNewSession outcome")
	}
	if ns.SessionID != "claude-session-abc" {
		t.Errorf("session id = %q, want claude-session-abc", ns.SessionID)
	}
	if ns.Provider != "claude" {
		t.Errorf("provider = %q, want claude", ns.Provider)
	}
}

func TestWatcherTailsAppendedEvents(t *testing.T) {
	root := t.TempDir()
	lines := splitFixtureLines(t, "../provider/claude/testdata/session_basic.jsonl")

	w, err := New([]RootConfig{{Vendor: "claude", Root: root, Provider: claude.New()}}, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)
	defer w.Close()

	time.Sleep(50 * time.Millisecond)

	path := filepath.Join(root, "session.jsonl")
	if err := os.WriteFile(path, []byte(lines[0]+"\n"+lines[1]+"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, ok := collectUntil[StreamAttached](t, w.Out(), 2*time.Second); !ok {
		t.Fatal("expected StreamAttached after initial write")
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.WriteString(lines[2] + "\n" + lines[3] + "\n"); err != nil {
		t.Fatal(err)
	}
	f.Close()

	se, ok := collectUntil[StreamEvents](t, w.Out(), 2*time.Second)
	if !ok {
		t.Fatal("expected StreamEvents for the appended lines")
	}
	if len(se.Events) == 0 {
		t.Error("expected at least one new event from the append")
	}
}

func TestWatcherDropsUnderProjectFilterMismatch(t *testing.T) {
	root := t.TempDir()
	lines := splitFixtureLines(t, "../provider/claude/testdata/session_basic.jsonl")

	mismatch := index.ProjectHash("does-not-match-anything")
	w, err := New([]RootConfig{{Vendor: "claude", Root: root, Provider: claude.New()}}, &mismatch, nil)
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)
	defer w.Close()

	time.Sleep(50 * time.Millisecond)

	path := filepath.Join(root, "session.jsonl")
	if err := os.WriteFile(path, []byte(lines[0]+"\n"+lines[1]+"\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, ok := collectUntil[StreamAttached](t, w.Out(), 500*time.Millisecond); ok {
		t.Fatal("expected no attachment when the project hash does not match the filter")
	}
}

func TestClassifyPicksLongestPrefix(t *testing.T) {
	w := &Watcher{roots: []RootConfig{
		{Vendor: "outer", Root: "/a"},
		{Vendor: "inner", Root: "/a/b"},
	}}

	_, _, ok := w.classify("/a/b/c/session.jsonl")
	if !ok {
		t.Fatal("expected a match")
	}
	root, _, _ := w.classify("/a/b/c/session.jsonl")
	if root.Vendor != "inner" {
		t.Errorf("vendor = %q, want inner (longest prefix)", root.Vendor)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	w, err := New(nil, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	w.Close()
	w.Close()
}
