package eventbus

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

func newTestBus(t *testing.T) *Bus {
	t.Helper()
	pub, sub, err := NewPubSub("gochannel", "")
	if err != nil {
		t.Fatalf("NewPubSub: %v", err)
	}
	bus := New(pub, sub, zerolog.Nop())
	t.Cleanup(func() { _ = bus.Close() })
	return bus
}

func TestPublishProjectRenamedDeliversToSubscriber(t *testing.T) {
	bus := newTestBus(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	ch, err := bus.SubscribeProjectRenamed(ctx)
	if err != nil {
		t.Fatalf("SubscribeProjectRenamed: %v", err)
	}

	want := ProjectRenamed{ProjectID: uuid.New(), Owner: "ada", OldName: "untitled", NewName: "orbits", At: time.Now()}
	bus.PublishProjectRenamed(ctx, want)

	select {
	case got := <-ch:
		if got.ProjectID != want.ProjectID || got.NewName != want.NewName {
			t.Fatalf("got %+v, want %+v", got, want)
		}
	case <-ctx.Done():
		t.Fatal("timed out waiting for published event")
	}
}

func TestSubscribersAreIsolatedByTopic(t *testing.T) {
	bus := newTestBus(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	renamed, err := bus.SubscribeProjectRenamed(ctx)
	if err != nil {
		t.Fatalf("SubscribeProjectRenamed: %v", err)
	}
	deleted, err := bus.SubscribeProjectDeleted(ctx)
	if err != nil {
		t.Fatalf("SubscribeProjectDeleted: %v", err)
	}

	bus.PublishProjectDeleted(ctx, ProjectDeleted{ProjectID: uuid.New(), Owner: "ada", Name: "orbits", At: time.Now()})

	select {
	case <-deleted:
	case <-ctx.Done():
		t.Fatal("timed out waiting for ProjectDeleted")
	}

	select {
	case ev := <-renamed:
		t.Fatalf("unexpected event on renamed topic: %+v", ev)
	case <-time.After(100 * time.Millisecond):
	}
}
