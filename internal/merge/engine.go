package merge

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/syncmarks/syncmarks/internal/domain"
	"github.com/syncmarks/syncmarks/internal/logger"
	"github.com/syncmarks/syncmarks/internal/tree"
)

// Store is the durable record boundary the engine writes through.
// All conflict resolution happens before a write is issued; the store
// only ever sees whole-record replacements.
type Store interface {
	WriteEvent(ctx context.Context, ev *domain.AcceptedEvent) error
	LoadAccount(ctx context.Context, accountID string) (*domain.AccountSnapshot, error)
	PurgeNodes(ctx context.Context, accountID string, ids []string) error
	TrimJournal(ctx context.Context, accountID string, upTo uint64) error
}

// Publisher receives accepted events for fan-out. Called inside the
// account's critical section so delivery order matches revision order;
// implementations must not block.
type Publisher interface {
	Publish(accountID, originSessionID string, ev *domain.AcceptedEvent, dups []domain.DuplicateAdvisory)
}

// Engine is the single authority over each account's tree. Mutations
// for one account are serialized through that account's lock; accounts
// proceed independently.
type Engine struct {
	store Store
	pub   Publisher
	log   logger.Logger

	mu       sync.Mutex
	accounts map[string]*accountState
}

type accountState struct {
	id string

	mu       sync.Mutex
	loaded   bool
	tree     *tree.Index
	revision uint64
	journal  []domain.AcceptedEvent
	// journalFloor is the highest revision already trimmed away;
	// replay is only possible from cursors >= floor.
	journalFloor uint64
}

// NewEngine creates an engine over the given store. Accounts are
// bootstrapped lazily from the store on first touch.
func NewEngine(store Store, log logger.Logger) *Engine {
	return &Engine{
		store:    store,
		log:      log,
		accounts: make(map[string]*accountState),
	}
}

// SetPublisher wires the fan-out dispatcher. Must be called before the
// first Apply.
func (e *Engine) SetPublisher(pub Publisher) {
	e.pub = pub
}

// Accounts lists every account currently resident in memory.
func (e *Engine) Accounts() []string {
	e.mu.Lock()
	defer e.mu.Unlock()

	ids := make([]string, 0, len(e.accounts))
	for id := range e.accounts {
		ids = append(ids, id)
	}
	return ids
}

// Apply runs one mutation through the full pipeline: validate, resolve
// against the tree, durable write, commit, fan out. On a store failure
// nothing is committed and the caller receives ErrPersistence.
func (e *Engine) Apply(ctx context.Context, accountID, originSessionID string, ev *domain.MutationEvent) (*domain.AcceptedEvent, []domain.DuplicateAdvisory, error) {
	if err := domain.ValidateEvent(ev); err != nil {
		return nil, nil, err
	}

	st, err := e.account(ctx, accountID)
	if err != nil {
		return nil, nil, err
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	now := time.Now()
	var (
		touched []domain.BookmarkNode
		dups    []domain.DuplicateAdvisory
		noopRev uint64
		noop    bool
	)

	switch ev.Type {
	case domain.MutationCreate:
		touched, dups, err = e.resolveCreate(st, ev)
	case domain.MutationUpdate:
		touched, dups, err = e.resolveUpdate(st, ev)
	case domain.MutationMove:
		touched, err = e.resolveMove(st, ev)
	case domain.MutationDelete:
		touched, noopRev, noop, err = e.resolveDelete(st, ev)
	case domain.MutationReorder:
		touched, noop, err = e.resolveReorder(st, ev)
		noopRev = st.revision
	}
	if err != nil {
		return nil, nil, err
	}

	if noop {
		// Idempotent acceptance: nothing to persist, nothing to fan out.
		ev.AssignedRevision = noopRev
		return &domain.AcceptedEvent{
			Type:             ev.Type,
			AccountID:        accountID,
			AssignedRevision: noopRev,
			OriginDeviceID:   ev.OriginDeviceID,
			AcceptedAt:       now,
		}, nil, nil
	}

	prevRevision := st.revision
	for i := range touched {
		st.revision++
		touched[i].Revision = st.revision
		touched[i].UpdatedAt = now
	}

	// A create over a tombstone starts a new incarnation of the id; its
	// revision is the bar an update's RevisionSeen must clear. The tree
	// still holds the tombstone here, commit happens below.
	if ev.Type == domain.MutationCreate {
		if prior, ok := st.tree.Get(ev.Node.NativeID); ok && prior.Deleted {
			last := len(touched) - 1
			touched[last].ClearedRevision = touched[last].Revision
		}
	}

	accepted := &domain.AcceptedEvent{
		Type:             ev.Type,
		AccountID:        accountID,
		AssignedRevision: st.revision,
		OriginDeviceID:   ev.OriginDeviceID,
		Nodes:            touched,
		AcceptedAt:       now,
	}

	if err := e.store.WriteEvent(ctx, accepted); err != nil {
		st.revision = prevRevision
		e.log.Error("durable write failed, mutation rolled back",
			logger.String("account_id", accountID),
			logger.String("type", string(ev.Type)),
			logger.Error(err))
		return nil, nil, fmt.Errorf("%w: %v", domain.ErrPersistence, err)
	}

	st.tree.Commit(touched)
	st.journal = append(st.journal, *accepted)
	ev.AssignedRevision = accepted.AssignedRevision

	e.log.Debug("mutation accepted",
		logger.String("account_id", accountID),
		logger.String("type", string(ev.Type)),
		logger.Uint64("revision", accepted.AssignedRevision),
		logger.Int("nodes_touched", len(touched)))

	// Fan-out happens only after the durable write, still inside the
	// critical section so subscribers observe revision order.
	if e.pub != nil {
		e.pub.Publish(accountID, originSessionID, accepted, dups)
	}

	return accepted, dups, nil
}

// Snapshot returns the full non-deleted tree and the cursor a client
// must persist to resume incrementally.
func (e *Engine) Snapshot(ctx context.Context, accountID string) ([]domain.BookmarkNode, uint64, error) {
	st, err := e.account(ctx, accountID)
	if err != nil {
		return nil, 0, err
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	return st.tree.Snapshot(), st.revision, nil
}

// Replay returns all accepted events with revision > from, in revision
// order, plus the cursor at the end of the stream. ok is false when the
// cursor predates the journal floor and the caller must fall back to a
// snapshot.
func (e *Engine) Replay(ctx context.Context, accountID string, from uint64) ([]domain.AcceptedEvent, uint64, bool, error) {
	st, err := e.account(ctx, accountID)
	if err != nil {
		return nil, 0, false, err
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	if from < st.journalFloor {
		return nil, 0, false, nil
	}

	events := make([]domain.AcceptedEvent, 0)
	for _, entry := range st.journal {
		if entry.AssignedRevision > from {
			events = append(events, entry)
		}
	}
	return events, st.revision, true, nil
}

// Sweep purges tombstones and journal entries that are both older than
// cutoff and acknowledged by every session (revision <= minAcked).
func (e *Engine) Sweep(ctx context.Context, accountID string, minAcked uint64, cutoff time.Time) (purged, trimmed int, err error) {
	st, err := e.account(ctx, accountID)
	if err != nil {
		return 0, 0, err
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	tombs := st.tree.Tombstones()
	eligible := make(map[string]bool, len(tombs))
	for _, t := range tombs {
		if t.Revision <= minAcked && t.UpdatedAt.Before(cutoff) {
			eligible[t.NativeID] = true
		}
	}
	// A deleted folder carries a lower revision than its tombstoned
	// descendants; purging it alone would leave them with a dangling
	// parent. Hold a tombstone back while any descendant tombstone stays.
	for changed := true; changed; {
		changed = false
		for _, t := range tombs {
			if !eligible[t.NativeID] && eligible[t.ParentNativeID] {
				delete(eligible, t.ParentNativeID)
				changed = true
			}
		}
	}

	var ids []string
	for _, t := range tombs {
		if eligible[t.NativeID] {
			ids = append(ids, t.NativeID)
		}
	}
	if len(ids) > 0 {
		if err := e.store.PurgeNodes(ctx, accountID, ids); err != nil {
			return 0, 0, fmt.Errorf("%w: %v", domain.ErrPersistence, err)
		}
		for _, id := range ids {
			st.tree.Remove(id)
		}
	}

	cut := 0
	for cut < len(st.journal) {
		entry := st.journal[cut]
		if entry.AssignedRevision > minAcked || !entry.AcceptedAt.Before(cutoff) {
			break
		}
		cut++
	}
	if cut > 0 {
		floor := st.journal[cut-1].AssignedRevision
		if err := e.store.TrimJournal(ctx, accountID, floor); err != nil {
			return len(ids), 0, fmt.Errorf("%w: %v", domain.ErrPersistence, err)
		}
		st.journal = append([]domain.AcceptedEvent(nil), st.journal[cut:]...)
		if floor > st.journalFloor {
			st.journalFloor = floor
		}
	}

	return len(ids), cut, nil
}

// account returns the resident state for accountID, bootstrapping it
// from the store on first touch.
func (e *Engine) account(ctx context.Context, accountID string) (*accountState, error) {
	e.mu.Lock()
	st, ok := e.accounts[accountID]
	if !ok {
		st = &accountState{id: accountID, tree: tree.NewIndex()}
		e.accounts[accountID] = st
	}
	e.mu.Unlock()

	st.mu.Lock()
	defer st.mu.Unlock()

	if st.loaded {
		return st, nil
	}

	snap, err := e.store.LoadAccount(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("%w: load account %s: %v", domain.ErrPersistence, accountID, err)
	}
	if snap != nil {
		st.tree.Commit(snap.Nodes)
		st.revision = snap.Revision
		st.journal = snap.Journal
		if len(snap.Journal) > 0 {
			st.journalFloor = snap.Journal[0].AssignedRevision - 1
		} else {
			st.journalFloor = snap.Revision
		}
	}
	st.loaded = true

	e.log.Info("account state loaded",
		logger.String("account_id", accountID),
		logger.Int("nodes", st.tree.Len()),
		logger.Uint64("revision", st.revision))

	return st, nil
}

// ─────────────────────────────────────────────────────────────────
// Per-type resolution. All run under the account lock and only read
// the tree; nothing is committed until the durable write succeeds.
// ─────────────────────────────────────────────────────────────────

func (e *Engine) resolveCreate(st *accountState, ev *domain.MutationEvent) ([]domain.BookmarkNode, []domain.DuplicateAdvisory, error) {
	n := *ev.Node

	if existing, ok := st.tree.Get(n.NativeID); ok && !existing.Deleted {
		return nil, nil, fmt.Errorf("%w: %s", domain.ErrDuplicateID, n.NativeID)
	}

	path, err := e.checkParent(st, n.ParentNativeID)
	if err != nil {
		return nil, nil, err
	}
	n.Path = path
	n.Deleted = false

	touched, pos := e.slotFor(st, n.ParentNativeID, ev.SiblingIndex, "")
	n.Position = pos
	touched = append(touched, n)

	return touched, e.advisories(st, n), nil
}

func (e *Engine) resolveUpdate(st *accountState, ev *domain.MutationEvent) ([]domain.BookmarkNode, []domain.DuplicateAdvisory, error) {
	existing, ok := st.tree.Get(ev.Node.NativeID)
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", domain.ErrNotFound, ev.Node.NativeID)
	}
	if existing.Deleted {
		// A stale update raced a delete; the client resolves by re-creating.
		return nil, nil, fmt.Errorf("%w: %s is tombstoned", domain.ErrNotFound, ev.Node.NativeID)
	}
	if existing.ClearedRevision > 0 && ev.RevisionSeen < existing.ClearedRevision {
		// The id was deleted and re-created after this client last
		// synced; its update must not overwrite the new incarnation.
		return nil, nil, fmt.Errorf("%w: %s was re-created at revision %d", domain.ErrNotFound, ev.Node.NativeID, existing.ClearedRevision)
	}

	// Last writer wins at field granularity: the later assigned
	// revision is the one every replica converges on.
	n := existing
	n.Title = ev.Node.Title
	if !n.IsFolder && ev.Node.URL != "" {
		n.URL = ev.Node.URL
		n.URLNormalized = ev.Node.URLNormalized
	}

	return []domain.BookmarkNode{n}, e.advisories(st, n), nil
}

func (e *Engine) resolveMove(st *accountState, ev *domain.MutationEvent) ([]domain.BookmarkNode, error) {
	id := ev.Node.NativeID
	existing, ok := st.tree.Get(id)
	if !ok || existing.Deleted {
		return nil, fmt.Errorf("%w: %s", domain.ErrNotFound, id)
	}

	newParent := ev.Node.ParentNativeID
	path, err := e.checkParent(st, newParent)
	if err != nil {
		return nil, err
	}

	// Cycle invariant: rejected, never silently corrected.
	if newParent == id || st.tree.IsAncestor(id, newParent) {
		return nil, fmt.Errorf("%w: %s under its own descendant %s", domain.ErrInvalidMove, id, newParent)
	}

	n := existing
	n.ParentNativeID = newParent
	n.Path = path

	touched, pos := e.slotFor(st, newParent, ev.SiblingIndex, id)
	n.Position = pos
	touched = append(touched, n)

	return touched, nil
}

func (e *Engine) resolveDelete(st *accountState, ev *domain.MutationEvent) (touched []domain.BookmarkNode, noopRev uint64, noop bool, err error) {
	existing, ok := st.tree.Get(ev.Node.NativeID)
	if !ok {
		return nil, 0, false, fmt.Errorf("%w: %s", domain.ErrNotFound, ev.Node.NativeID)
	}
	if existing.Deleted {
		// Idempotent: re-deleting acks the existing tombstone revision.
		return nil, existing.Revision, true, nil
	}

	existing.Deleted = true
	touched = append(touched, existing)
	for _, desc := range st.tree.Descendants(existing.NativeID) {
		desc.Deleted = true
		touched = append(touched, desc)
	}
	return touched, 0, false, nil
}

func (e *Engine) resolveReorder(st *accountState, ev *domain.MutationEvent) ([]domain.BookmarkNode, bool, error) {
	seenID := make(map[string]struct{}, len(ev.Reorder))
	seenPos := make(map[int]struct{}, len(ev.Reorder))
	for _, entry := range ev.Reorder {
		if _, dup := seenID[entry.NativeID]; dup {
			return nil, false, fmt.Errorf("%w: %s listed twice", domain.ErrInconsistentReorder, entry.NativeID)
		}
		if _, dup := seenPos[entry.Position]; dup {
			return nil, false, fmt.Errorf("%w: duplicate target position %d", domain.ErrInconsistentReorder, entry.Position)
		}
		seenID[entry.NativeID] = struct{}{}
		seenPos[entry.Position] = struct{}{}
	}

	sibs := st.tree.Children(ev.ParentNativeID)
	byID := make(map[string]domain.BookmarkNode, len(sibs))
	for _, s := range sibs {
		byID[s.NativeID] = s
	}
	for _, entry := range ev.Reorder {
		if _, ok := byID[entry.NativeID]; !ok {
			return nil, false, fmt.Errorf("%w: %s is not a live child of %q", domain.ErrNotFound, entry.NativeID, ev.ParentNativeID)
		}
	}

	// Rebuild the group: unlisted siblings keep their relative order,
	// listed ones are inserted at their target indexes, low to high.
	rest := make([]domain.BookmarkNode, 0, len(sibs))
	for _, s := range sibs {
		if _, listed := seenID[s.NativeID]; !listed {
			rest = append(rest, s)
		}
	}
	entries := append([]domain.ReorderEntry(nil), ev.Reorder...)
	sort.Slice(entries, func(i, j int) bool { return entries[i].Position < entries[j].Position })
	result := rest
	for _, entry := range entries {
		at := entry.Position
		if at > len(result) {
			at = len(result)
		}
		result = append(result, domain.BookmarkNode{})
		copy(result[at+1:], result[at:])
		result[at] = byID[entry.NativeID]
	}

	// One atomic compaction of the whole group.
	var touched []domain.BookmarkNode
	for i := range result {
		want := tree.PositionStep * int64(i+1)
		if result[i].Position != want {
			result[i].Position = want
			touched = append(touched, result[i])
		}
	}
	if len(touched) == 0 {
		return nil, true, nil
	}
	return touched, false, nil
}

// checkParent validates a parent reference and returns the display path
// for a child of that parent.
func (e *Engine) checkParent(st *accountState, parentID string) (string, error) {
	if parentID == "" {
		return "", nil
	}
	p, ok := st.tree.Get(parentID)
	if !ok || p.Deleted {
		return "", fmt.Errorf("%w: parent %s", domain.ErrNotFound, parentID)
	}
	if !p.IsFolder {
		return "", fmt.Errorf("%w: parent %s is not a folder", domain.ErrNotFound, parentID)
	}
	if p.Path == "" {
		return p.Title, nil
	}
	return p.Path + " / " + p.Title, nil
}

// slotFor yields the position for an insert at the given sibling index.
// When the surrounding gap is exhausted it renumbers the whole group
// (excluding excludeID, for same-parent moves) and returns the touched
// siblings alongside the slot.
func (e *Engine) slotFor(st *accountState, parentID string, index int, excludeID string) ([]domain.BookmarkNode, int64) {
	pos, compact := st.tree.PositionFor(parentID, index)
	if !compact {
		return nil, pos
	}

	sibs := st.tree.Children(parentID)
	group := make([]domain.BookmarkNode, 0, len(sibs))
	for _, s := range sibs {
		if s.NativeID != excludeID {
			group = append(group, s)
		}
	}
	if index < 0 {
		index = 0
	}
	if index > len(group) {
		index = len(group)
	}

	touched := make([]domain.BookmarkNode, 0, len(group))
	for i := range group {
		want := tree.PositionStep * int64(i+1)
		if group[i].Position != want {
			group[i].Position = want
			touched = append(touched, group[i])
		}
	}
	return touched, tree.PositionStep*int64(index) + tree.PositionStep/2
}

// advisories reports normalized-URL collisions with other live links.
// Advisory only; the write itself is already accepted.
func (e *Engine) advisories(st *accountState, n domain.BookmarkNode) []domain.DuplicateAdvisory {
	if n.IsFolder || n.URLNormalized == "" {
		return nil
	}

	var dups []domain.DuplicateAdvisory
	for _, m := range st.tree.FindByNormalizedURL(n.URLNormalized) {
		if m.NativeID == n.NativeID {
			continue
		}
		dups = append(dups, domain.DuplicateAdvisory{
			URLNormalized: n.URLNormalized,
			NodeID:        n.NativeID,
			OtherID:       m.NativeID,
			OtherParentID: m.ParentNativeID,
			SameFolder:    m.ParentNativeID == n.ParentNativeID,
		})
	}
	return dups
}
