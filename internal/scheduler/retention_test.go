package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/syncmarks/syncmarks/internal/domain"
	"github.com/syncmarks/syncmarks/internal/fanout"
	"github.com/syncmarks/syncmarks/internal/logger"
	"github.com/syncmarks/syncmarks/internal/merge"
	"github.com/syncmarks/syncmarks/internal/registry"
)

type nullStore struct{}

func (nullStore) WriteEvent(context.Context, *domain.AcceptedEvent) error { return nil }
func (nullStore) LoadAccount(context.Context, string) (*domain.AccountSnapshot, error) {
	return nil, nil
}
func (nullStore) PurgeNodes(context.Context, string, []string) error { return nil }
func (nullStore) TrimJournal(context.Context, string, uint64) error  { return nil }

func apply(t *testing.T, e *merge.Engine, ev *domain.MutationEvent) *domain.AcceptedEvent {
	t.Helper()
	accepted, _, err := e.Apply(context.Background(), "acct", "sess", ev)
	if err != nil {
		t.Fatalf("Apply() failed: %v", err)
	}
	return accepted
}

func seed(t *testing.T, e *merge.Engine) {
	t.Helper()
	apply(t, e, &domain.MutationEvent{
		Type:           domain.MutationCreate,
		Node:           &domain.BookmarkNode{NativeID: "root", Title: "root", IsFolder: true},
		OriginDeviceID: "dev-1",
	})
	apply(t, e, &domain.MutationEvent{
		Type: domain.MutationCreate,
		Node: &domain.BookmarkNode{
			NativeID: "a", ParentNativeID: "root", Title: "a",
			URL: "https://a.example", URLNormalized: "https://a.example",
		},
		OriginDeviceID: "dev-1",
	})
}

func TestSweepPurgesAckedTombstones(t *testing.T) {
	log := logger.New("error", false)
	engine := merge.NewEngine(nullStore{}, log)
	reg := registry.NewRegistry()
	seed(t, engine)

	deleted := apply(t, engine, &domain.MutationEvent{
		Type:           domain.MutationDelete,
		Node:           &domain.BookmarkNode{NativeID: "a"},
		OriginDeviceID: "dev-1",
	})

	reg.Register(&domain.ClientSession{SessionID: "s1", AccountID: "acct", ConnectedAt: time.Now()})
	reg.UpdateAck("s1", deleted.AssignedRevision)

	// Window of zero: age never protects a fully acked tombstone.
	sweeper := NewRetentionSweeper(engine, reg, log, time.Hour, time.Nanosecond)
	sweeper.Sweep(context.Background())

	events, _, ok, err := engine.Replay(context.Background(), "acct", 0)
	if err != nil {
		t.Fatalf("Replay() failed: %v", err)
	}
	if ok && len(events) > 0 {
		t.Errorf("journal should have been trimmed, got %d events", len(events))
	}
}

func TestSweepSparesUnackedTombstones(t *testing.T) {
	log := logger.New("error", false)
	engine := merge.NewEngine(nullStore{}, log)
	reg := registry.NewRegistry()
	seed(t, engine)

	deleted := apply(t, engine, &domain.MutationEvent{
		Type:           domain.MutationDelete,
		Node:           &domain.BookmarkNode{NativeID: "a"},
		OriginDeviceID: "dev-1",
	})

	// A lagging session has not acked the delete yet.
	reg.Register(&domain.ClientSession{SessionID: "lag", AccountID: "acct", ConnectedAt: time.Now()})
	reg.UpdateAck("lag", deleted.AssignedRevision-1)

	sweeper := NewRetentionSweeper(engine, reg, log, time.Hour, time.Nanosecond)
	sweeper.Sweep(context.Background())

	events, _, ok, err := engine.Replay(context.Background(), "acct", deleted.AssignedRevision-1)
	if err != nil {
		t.Fatalf("Replay() failed: %v", err)
	}
	if !ok {
		t.Fatal("replay from the lagging cursor must still be possible")
	}
	found := false
	for _, ev := range events {
		if ev.AssignedRevision == deleted.AssignedRevision {
			found = true
		}
	}
	if !found {
		t.Error("delete event swept away before the lagging session acked it")
	}
}

func TestLivenessEvictsAfterTwoMissedIntervals(t *testing.T) {
	log := logger.New("error", false)
	reg := registry.NewRegistry()
	dispatcher := fanout.NewDispatcher(reg, log, 4)

	reg.Register(&domain.ClientSession{
		SessionID:   "stale",
		AccountID:   "acct",
		ConnectedAt: time.Now().Add(-time.Minute),
	})
	outbox := dispatcher.Attach("stale")

	reg.Register(&domain.ClientSession{SessionID: "fresh", AccountID: "acct", ConnectedAt: time.Now()})
	dispatcher.Attach("fresh")
	reg.Heartbeat("fresh")

	sweeper := NewLivenessSweeper(reg, dispatcher, log, 10*time.Second)
	sweeper.Evict(time.Now())

	if reg.Count() != 1 {
		t.Errorf("Count() = %d, want 1 after eviction", reg.Count())
	}
	if _, ok := <-outbox.Frames(); ok {
		t.Error("evicted session's outbox should be closed")
	}
}
