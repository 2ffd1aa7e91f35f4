package domain

import "time"

// MutationType enumerates the operations a client may submit.
type MutationType string

const (
	MutationCreate  MutationType = "create"
	MutationUpdate  MutationType = "update"
	MutationMove    MutationType = "move"
	MutationDelete  MutationType = "delete"
	MutationReorder MutationType = "reorder"
)

// ReorderEntry is one (node, target sibling index) pair of a Reorder batch.
type ReorderEntry struct {
	NativeID string `json:"nativeId"`
	Position int    `json:"position"`
}

// MutationEvent is the unit exchanged between clients and the engine.
// Which fields are meaningful depends on Type:
//
//	create:  Node (full payload), SiblingIndex
//	update:  Node (NativeID + changed Title/URL), RevisionSeen
//	move:    Node (NativeID + new ParentNativeID), SiblingIndex
//	delete:  Node (NativeID)
//	reorder: ParentNativeID + Reorder batch
//
// AssignedRevision is filled in by the engine on acceptance.
type MutationEvent struct {
	Type            MutationType   `json:"type"`
	Node            *BookmarkNode  `json:"node,omitempty"`
	SiblingIndex    int            `json:"siblingIndex,omitempty"`
	RevisionSeen    uint64         `json:"revisionSeen,omitempty"`
	ParentNativeID  string         `json:"parentNativeId,omitempty"`
	Reorder         []ReorderEntry `json:"reorder,omitempty"`
	OriginDeviceID  string         `json:"originDeviceId"`
	ClientTimestamp time.Time      `json:"clientTimestamp,omitempty"`

	AssignedRevision uint64 `json:"assignedRevision,omitempty"`
}

// AcceptedEvent is the journal/fan-out form of an accepted mutation.
// Nodes carries the post-state of every node the mutation touched
// (a transitive folder delete or a position compaction touches many).
type AcceptedEvent struct {
	Type             MutationType   `json:"type"`
	AccountID        string         `json:"accountId"`
	AssignedRevision uint64         `json:"assignedRevision"`
	OriginDeviceID   string         `json:"originDeviceId"`
	Nodes            []BookmarkNode `json:"nodes"`
	AcceptedAt       time.Time      `json:"acceptedAt"`
}

// DuplicateAdvisory flags a normalized-URL collision between two live
// nodes. Advisory only: the write it accompanies is already accepted,
// and clients decide whether to offer a merge.
type DuplicateAdvisory struct {
	URLNormalized string `json:"urlNormalized"`
	NodeID        string `json:"nodeId"`
	OtherID       string `json:"otherId"`
	OtherParentID string `json:"otherParentId,omitempty"`
	SameFolder    bool   `json:"sameFolder"`
}

// AccountSnapshot is the durable state of one account as reloaded from
// the record store on startup.
type AccountSnapshot struct {
	Nodes    []BookmarkNode
	Revision uint64
	Journal  []AcceptedEvent
}
