package daemon

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestWatcherEmitsTemplates(t *testing.T) {
	mock := NewMockRPC()
	w := NewWatcher(mock, 50*time.Millisecond, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)

	select {
	case tmpl := <-w.Templates():
		if tmpl.Height != 800000 {
			t.Errorf("height = %d, want 800000", tmpl.Height)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no template emitted")
	}
}

func TestWatcherRefreshFastPath(t *testing.T) {
	mock := NewMockRPC()
	// Long interval so only Refresh can trigger a second fetch quickly.
	w := NewWatcher(mock, time.Hour, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)

	// Initial fetch.
	select {
	case <-w.Templates():
	case <-time.After(2 * time.Second):
		t.Fatal("no initial template")
	}

	w.Refresh()
	select {
	case <-w.Templates():
	case <-time.After(2 * time.Second):
		t.Fatal("refresh did not trigger a fetch")
	}
}

func TestBackoffDuration(t *testing.T) {
	base := 5 * time.Second
	if backoffDuration(0, base) != base {
		t.Error("no failures should use the base interval")
	}
	if backoffDuration(1, base) != base {
		t.Error("first failure should use the base interval")
	}
	if backoffDuration(2, base) != 2*base {
		t.Error("second failure should double")
	}
	if backoffDuration(20, base) != 60*time.Second {
		t.Error("backoff should cap at 60s")
	}
}

func TestWatcherKeepsCadenceOnDaemonError(t *testing.T) {
	mock := NewMockRPC()
	calls := 0
	mock.TemplateFn = func() (*BlockTemplate, error) {
		calls++
		if calls < 3 {
			return nil, &RPCError{Code: -10, Message: "warming up"}
		}
		return mock.Template, nil
	}

	w := NewWatcher(mock, 30*time.Millisecond, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)

	// Daemon-side refusals do not back off, so the third poll succeeds
	// within a few intervals.
	select {
	case tmpl := <-w.Templates():
		if tmpl.Height != 800000 {
			t.Errorf("height = %d, want 800000", tmpl.Height)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("watcher backed off on a daemon-side error")
	}
}
