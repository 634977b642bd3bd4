package events

import (
	"context"
	"errors"
	"testing"

	"github.com/loykin/swabra/internal/build"
)

func TestHandlersRunInOrderAndSurviveFailures(t *testing.T) {
	bus := NewBus(nil)
	var calls []string
	boom := errors.New("boom")
	bus.OnBuildFinished("first", func(_ context.Context, run build.Run) error {
		calls = append(calls, "first:"+run.ID)
		return boom
	})
	bus.OnBuildFinished("second", func(_ context.Context, run build.Run) error {
		calls = append(calls, "second:"+run.ID)
		return nil
	})

	err := bus.PublishBuildFinished(context.Background(), build.Run{ID: "7"})
	if !errors.Is(err, boom) {
		t.Fatalf("expected joined handler error, got %v", err)
	}
	if len(calls) != 2 || calls[0] != "first:7" || calls[1] != "second:7" {
		t.Fatalf("unexpected calls %v", calls)
	}
}

func TestPublishWithoutHandlers(t *testing.T) {
	if err := NewBus(nil).PublishBuildFinished(context.Background(), build.Run{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestPublishCancelledContext(t *testing.T) {
	bus := NewBus(nil)
	called := false
	bus.OnBuildFinished("h", func(context.Context, build.Run) error {
		called = true
		return nil
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := bus.PublishBuildFinished(ctx, build.Run{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if called {
		t.Fatal("handler must not run on a cancelled context")
	}
}
