package tree

import (
	"sort"
	"sync"

	"github.com/syncmarks/syncmarks/internal/domain"
)

// PositionStep is the gap left between sibling positions so that most
// inserts touch only the inserted node. When a gap closes the merge
// engine compacts the whole sibling group back to multiples of the step.
const PositionStep int64 = 1024

// Index is one account's in-memory bookmark forest: a primary map by
// NativeID, an ordered sibling index by parent, and a secondary index
// by normalized URL for dedup lookups.
//
// All writes go through Commit and are issued only by the merge engine
// under its per-account serialization; reads take the read lock.
type Index struct {
	mu       sync.RWMutex
	nodes    map[string]*domain.BookmarkNode
	children map[string][]string            // parent -> ordered non-deleted child ids
	byURL    map[string]map[string]struct{} // urlNormalized -> non-deleted link ids
}

// NewIndex creates an empty index.
func NewIndex() *Index {
	return &Index{
		nodes:    make(map[string]*domain.BookmarkNode),
		children: make(map[string][]string),
		byURL:    make(map[string]map[string]struct{}),
	}
}

// Get retrieves a node (tombstones included) by NativeID.
func (ix *Index) Get(id string) (domain.BookmarkNode, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	node, ok := ix.nodes[id]
	if !ok {
		return domain.BookmarkNode{}, false
	}
	return *node, true
}

// Children returns the non-deleted children of a parent in position order.
func (ix *Index) Children(parentID string) []domain.BookmarkNode {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	ids := ix.children[parentID]
	out := make([]domain.BookmarkNode, 0, len(ids))
	for _, id := range ids {
		out = append(out, *ix.nodes[id])
	}
	return out
}

// FindByNormalizedURL returns all non-deleted links sharing a
// normalized URL, account-wide.
func (ix *Index) FindByNormalizedURL(u string) []domain.BookmarkNode {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	ids, ok := ix.byURL[u]
	if !ok {
		return nil
	}
	out := make([]domain.BookmarkNode, 0, len(ids))
	for id := range ids {
		out = append(out, *ix.nodes[id])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NativeID < out[j].NativeID })
	return out
}

// Snapshot returns every non-deleted node, ordered by parent then
// position. This is the full-tree bootstrap payload.
func (ix *Index) Snapshot() []domain.BookmarkNode {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	out := make([]domain.BookmarkNode, 0, len(ix.nodes))
	parents := make([]string, 0, len(ix.children))
	for parent := range ix.children {
		parents = append(parents, parent)
	}
	sort.Strings(parents)
	for _, parent := range parents {
		for _, id := range ix.children[parent] {
			out = append(out, *ix.nodes[id])
		}
	}
	return out
}

// Tombstones returns every deleted node still retained for replay.
func (ix *Index) Tombstones() []domain.BookmarkNode {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	out := make([]domain.BookmarkNode, 0)
	for _, node := range ix.nodes {
		if node.Deleted {
			out = append(out, *node)
		}
	}
	return out
}

// Len returns the number of nodes, tombstones included.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	return len(ix.nodes)
}

// IsAncestor reports whether ancestorID appears on id's parent chain.
// A node is not its own ancestor.
func (ix *Index) IsAncestor(ancestorID, id string) bool {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	seen := 0
	for cur := ix.nodes[id]; cur != nil && cur.ParentNativeID != ""; {
		if cur.ParentNativeID == ancestorID {
			return true
		}
		cur = ix.nodes[cur.ParentNativeID]
		// Committed state never cycles, but cap the walk anyway.
		if seen++; seen > len(ix.nodes) {
			return false
		}
	}
	return false
}

// Descendants returns every non-deleted node below id, depth-first.
func (ix *Index) Descendants(id string) []domain.BookmarkNode {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	var out []domain.BookmarkNode
	var walk func(parent string)
	walk = func(parent string) {
		for _, childID := range ix.children[parent] {
			out = append(out, *ix.nodes[childID])
			walk(childID)
		}
	}
	walk(id)
	return out
}

// PositionFor computes the position for an insert at the given sibling
// index (clamped into range). needCompact reports that the surrounding
// gap is exhausted and the engine must renumber the group first.
func (ix *Index) PositionFor(parentID string, index int) (pos int64, needCompact bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	ids := ix.children[parentID]
	if index < 0 {
		index = 0
	}
	if index > len(ids) {
		index = len(ids)
	}

	switch {
	case len(ids) == 0:
		return PositionStep, false
	case index == 0:
		return ix.nodes[ids[0]].Position - PositionStep, false
	case index == len(ids):
		return ix.nodes[ids[len(ids)-1]].Position + PositionStep, false
	default:
		prev := ix.nodes[ids[index-1]].Position
		next := ix.nodes[ids[index]].Position
		mid := prev + (next-prev)/2
		if mid == prev || mid == next {
			return 0, true
		}
		return mid, false
	}
}

// Commit upserts a batch of nodes and rebuilds the affected secondary
// indexes. The batch is the full post-state of one accepted mutation;
// partial application is never visible to readers.
func (ix *Index) Commit(nodes []domain.BookmarkNode) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	for i := range nodes {
		ix.upsertLocked(nodes[i])
	}
}

// Remove physically deletes a node. Only the retention sweep calls
// this, and only for acked tombstones.
func (ix *Index) Remove(id string) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	node, ok := ix.nodes[id]
	if !ok {
		return
	}
	ix.detachLocked(node)
	delete(ix.nodes, id)
}

func (ix *Index) upsertLocked(n domain.BookmarkNode) {
	if old, ok := ix.nodes[n.NativeID]; ok {
		ix.detachLocked(old)
	}

	stored := n
	ix.nodes[n.NativeID] = &stored

	if stored.Deleted {
		return
	}

	ix.insertChildLocked(&stored)

	if !stored.IsFolder && stored.URLNormalized != "" {
		ids, ok := ix.byURL[stored.URLNormalized]
		if !ok {
			ids = make(map[string]struct{})
			ix.byURL[stored.URLNormalized] = ids
		}
		ids[stored.NativeID] = struct{}{}
	}
}

// detachLocked removes a node from the secondary indexes (not from the
// primary map).
func (ix *Index) detachLocked(n *domain.BookmarkNode) {
	ids := ix.children[n.ParentNativeID]
	for i, id := range ids {
		if id == n.NativeID {
			ix.children[n.ParentNativeID] = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	if len(ix.children[n.ParentNativeID]) == 0 {
		delete(ix.children, n.ParentNativeID)
	}

	if n.URLNormalized != "" {
		if ids := ix.byURL[n.URLNormalized]; ids != nil {
			delete(ids, n.NativeID)
			if len(ids) == 0 {
				delete(ix.byURL, n.URLNormalized)
			}
		}
	}
}

// insertChildLocked places a node into its parent's ordered id list.
func (ix *Index) insertChildLocked(n *domain.BookmarkNode) {
	ids := ix.children[n.ParentNativeID]
	at := sort.Search(len(ids), func(i int) bool {
		return ix.nodes[ids[i]].Position >= n.Position
	})
	ids = append(ids, "")
	copy(ids[at+1:], ids[at:])
	ids[at] = n.NativeID
	ix.children[n.ParentNativeID] = ids
}
