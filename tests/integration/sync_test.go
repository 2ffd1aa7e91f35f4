package integration

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/syncmarks/syncmarks/internal/domain"
	"github.com/syncmarks/syncmarks/internal/fanout"
	"github.com/syncmarks/syncmarks/internal/logger"
	"github.com/syncmarks/syncmarks/internal/merge"
	"github.com/syncmarks/syncmarks/internal/protocol"
	"github.com/syncmarks/syncmarks/internal/registry"
)

// memStore keeps accepted events in memory; enough durability for
// exercising the engine, registry and dispatcher together.
type memStore struct {
	mu     sync.Mutex
	events []*domain.AcceptedEvent
}

func (s *memStore) WriteEvent(_ context.Context, ev *domain.AcceptedEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

func (s *memStore) LoadAccount(context.Context, string) (*domain.AccountSnapshot, error) {
	return nil, nil
}

func (s *memStore) PurgeNodes(context.Context, string, []string) error { return nil }

func (s *memStore) TrimJournal(context.Context, string, uint64) error { return nil }

type fixture struct {
	engine     *merge.Engine
	registry   *registry.Registry
	dispatcher *fanout.Dispatcher
}

func newFixture(buffer int) *fixture {
	log := logger.New("error", false)
	engine := merge.NewEngine(&memStore{}, log)
	reg := registry.NewRegistry()
	dispatcher := fanout.NewDispatcher(reg, log, buffer)
	engine.SetPublisher(dispatcher)
	return &fixture{engine: engine, registry: reg, dispatcher: dispatcher}
}

func (f *fixture) connect(sessionID, accountID string) *fanout.Outbox {
	f.registry.Register(&domain.ClientSession{
		SessionID: sessionID,
		AccountID: accountID,
		DeviceID:  "dev-" + sessionID,
	})
	return f.dispatcher.Attach(sessionID)
}

func create(id, parent, url string, isFolder bool, index int) *domain.MutationEvent {
	return &domain.MutationEvent{
		Type: domain.MutationCreate,
		Node: &domain.BookmarkNode{
			NativeID:       id,
			ParentNativeID: parent,
			Title:          id,
			URL:            url,
			URLNormalized:  url,
			IsFolder:       isFolder,
		},
		SiblingIndex:   index,
		OriginDeviceID: "dev-origin",
	}
}

// drain reads every frame currently buffered in the outbox.
func drain(out *fanout.Outbox) []protocol.ServerFrame {
	var frames []protocol.ServerFrame
	for {
		select {
		case f, ok := <-out.Frames():
			if !ok {
				return frames
			}
			frames = append(frames, f)
		default:
			return frames
		}
	}
}

// fold applies event frames to a node map the way a client mirrors the
// server tree.
func fold(nodes map[string]domain.BookmarkNode, frames []protocol.ServerFrame) {
	for _, f := range frames {
		if f.Type != protocol.FrameEvent {
			continue
		}
		for _, n := range f.Event.Nodes {
			nodes[n.NativeID] = n
		}
	}
}

func TestFanOutSkipsOriginatorAndFollowsRevisionOrder(t *testing.T) {
	f := newFixture(64)
	ctx := context.Background()

	originOut := f.connect("origin", "acct")
	peerOut := f.connect("peer", "acct")
	otherOut := f.connect("stranger", "other-acct")

	_, _, err := f.engine.Apply(ctx, "acct", "origin", create("bar", "", "", true, 0))
	require.NoError(t, err)
	_, _, err = f.engine.Apply(ctx, "acct", "origin", create("a", "bar", "https://a.example", false, 0))
	require.NoError(t, err)
	_, _, err = f.engine.Apply(ctx, "acct", "origin", create("b", "bar", "https://b.example", false, 1))
	require.NoError(t, err)

	require.Empty(t, drain(originOut), "originator must not receive its own events")
	require.Empty(t, drain(otherOut), "other accounts must not see the events")

	frames := drain(peerOut)
	require.Len(t, frames, 3)
	var last uint64
	for _, fr := range frames {
		require.Equal(t, protocol.FrameEvent, fr.Type)
		require.Greater(t, fr.Event.AssignedRevision, last)
		last = fr.Event.AssignedRevision
	}
}

func TestCatchUpViaReplayMatchesLiveClient(t *testing.T) {
	f := newFixture(64)
	ctx := context.Background()

	liveOut := f.connect("live", "acct")

	_, _, err := f.engine.Apply(ctx, "acct", "origin", create("bar", "", "", true, 0))
	require.NoError(t, err)
	_, _, err = f.engine.Apply(ctx, "acct", "origin", create("a", "bar", "https://a.example", false, 0))
	require.NoError(t, err)

	// A second device was connected up to here, then dropped off.
	cursor := uint64(2)

	_, _, err = f.engine.Apply(ctx, "acct", "origin", create("b", "bar", "https://b.example", false, 1))
	require.NoError(t, err)
	_, _, err = f.engine.Apply(ctx, "acct", "origin", &domain.MutationEvent{
		Type:           domain.MutationDelete,
		Node:           &domain.BookmarkNode{NativeID: "a"},
		OriginDeviceID: "dev-origin",
	})
	require.NoError(t, err)

	// Live client folds fan-out frames as they arrive.
	liveNodes := map[string]domain.BookmarkNode{}
	fold(liveNodes, drain(liveOut))

	// Returning client folds the pre-drop state plus the replay.
	events, end, ok, err := f.engine.Replay(ctx, "acct", cursor)
	require.NoError(t, err)
	require.True(t, ok)
	replayNodes := map[string]domain.BookmarkNode{
		"bar": liveNodes["bar"],
		"a":   {NativeID: "a", ParentNativeID: "bar"},
	}
	for i := range events {
		for _, n := range events[i].Nodes {
			replayNodes[n.NativeID] = n
		}
	}

	snapshot, rev, err := f.engine.Snapshot(ctx, "acct")
	require.NoError(t, err)
	require.Equal(t, rev, end)

	for _, want := range snapshot {
		require.Equal(t, want, liveNodes[want.NativeID])
		require.Equal(t, want, replayNodes[want.NativeID])
	}
	require.True(t, replayNodes["a"].Deleted)
	require.True(t, liveNodes["a"].Deleted)
}

func TestBackpressureDisconnectThenCatchUp(t *testing.T) {
	f := newFixture(1)
	ctx := context.Background()

	slowOut := f.connect("slow", "acct")
	f.registry.UpdateAck("slow", 0)

	_, _, err := f.engine.Apply(ctx, "acct", "origin", create("bar", "", "", true, 0))
	require.NoError(t, err)
	_, _, err = f.engine.Apply(ctx, "acct", "origin", create("a", "bar", "https://a.example", false, 0))
	require.NoError(t, err)

	// Buffer of one: the second event overflows and drops the session.
	require.Equal(t, 0, f.registry.Count())

	frames := drain(slowOut)
	require.Len(t, frames, 1)
	acked := frames[0].Event.AssignedRevision

	// Reconnect path: replay from the last delivered revision.
	events, end, ok, err := f.engine.Replay(ctx, "acct", acked)
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, events, 1)
	require.Equal(t, uint64(2), end)
}

func TestDuplicateAdvisoriesFanOutWithEvent(t *testing.T) {
	f := newFixture(64)
	ctx := context.Background()

	peerOut := f.connect("peer", "acct")

	_, _, err := f.engine.Apply(ctx, "acct", "origin", create("bar", "", "", true, 0))
	require.NoError(t, err)
	_, _, err = f.engine.Apply(ctx, "acct", "origin", create("misc", "", "", true, 1))
	require.NoError(t, err)
	_, _, err = f.engine.Apply(ctx, "acct", "origin", create("a", "bar", "https://same.example", false, 0))
	require.NoError(t, err)

	_, dups, err := f.engine.Apply(ctx, "acct", "origin", create("a2", "misc", "https://same.example", false, 0))
	require.NoError(t, err)
	require.Len(t, dups, 1)
	require.False(t, dups[0].SameFolder)

	frames := drain(peerOut)
	require.Len(t, frames, 5)
	last := frames[len(frames)-1]
	require.Equal(t, protocol.FrameDuplicate, last.Type)
	require.Equal(t, "https://same.example", last.Duplicate.URLNormalized)

	prev := frames[len(frames)-2]
	require.Equal(t, protocol.FrameEvent, prev.Type)
	require.Equal(t, "a2", prev.Event.Nodes[0].NativeID)
}

func TestReorderRejectionLeavesPeersUntouched(t *testing.T) {
	f := newFixture(64)
	ctx := context.Background()

	_, _, err := f.engine.Apply(ctx, "acct", "origin", create("bar", "", "", true, 0))
	require.NoError(t, err)
	_, _, err = f.engine.Apply(ctx, "acct", "origin", create("a", "bar", "https://a.example", false, 0))
	require.NoError(t, err)
	_, _, err = f.engine.Apply(ctx, "acct", "origin", create("b", "bar", "https://b.example", false, 1))
	require.NoError(t, err)

	peerOut := f.connect("peer", "acct")

	_, _, err = f.engine.Apply(ctx, "acct", "origin", &domain.MutationEvent{
		Type:           domain.MutationReorder,
		ParentNativeID: "bar",
		Reorder: []domain.ReorderEntry{
			{NativeID: "a", Position: 1},
			{NativeID: "a", Position: 0},
		},
		OriginDeviceID: "dev-origin",
	})
	require.ErrorIs(t, err, domain.ErrInconsistentReorder)
	require.Empty(t, drain(peerOut), "rejected batches must not fan out")

	snapshot, rev, err := f.engine.Snapshot(ctx, "acct")
	require.NoError(t, err)
	require.Equal(t, uint64(3), rev)
	require.Len(t, snapshot, 3)
}
