// Package protocol defines the wire frames exchanged over a sync
// session. The protocol is revision-based: correctness never depends on
// transport-level ordering, and a persisted cursor plus replay is the
// recovery path for drops and reordering.
package protocol

import "github.com/syncmarks/syncmarks/internal/domain"

type FrameType string

const (
	// Client → server.
	FrameMutation  FrameType = "mutation"
	FrameAck       FrameType = "ack"
	FrameHeartbeat FrameType = "heartbeat" // both directions

	// Server → client.
	FrameEvent     FrameType = "event"
	FrameDuplicate FrameType = "duplicate"
	FrameRejected  FrameType = "rejected"
	FrameSnapshot  FrameType = "snapshot"
	FrameReplay    FrameType = "replay"
	FrameReplayEnd FrameType = "replay_end"
	FrameAccepted  FrameType = "accepted"
)

// ClientFrame is one message from a client session.
type ClientFrame struct {
	Type     FrameType             `json:"type"`
	Mutation *domain.MutationEvent `json:"mutation,omitempty"`
	// Cursor acknowledges receipt up to a revision (type "ack").
	Cursor uint64 `json:"cursor,omitempty"`
}

// ServerFrame is one message to a client session.
//
//	accepted:   the session's own mutation, with its assigned revision
//	event:      another session's accepted mutation (fan-out or replay body)
//	duplicate:  advisory normalized-URL collision
//	rejected:   the session's own mutation, refused; tree unchanged
//	snapshot:   full current tree + cursor (bootstrap)
//	replay:     event stream opener; replay_end carries the cursor to persist
type ServerFrame struct {
	Type      FrameType                 `json:"type"`
	Event     *domain.AcceptedEvent     `json:"event,omitempty"`
	Duplicate *domain.DuplicateAdvisory `json:"duplicate,omitempty"`
	Nodes     []domain.BookmarkNode     `json:"nodes,omitempty"`
	Cursor    uint64                    `json:"cursor,omitempty"`
	Rejection *Rejection                `json:"rejection,omitempty"`
}

// Rejection explains why a mutation was refused. Sent only to the
// originating session.
type Rejection struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Heartbeat builds a liveness frame.
func Heartbeat() ServerFrame {
	return ServerFrame{Type: FrameHeartbeat}
}

// Accepted acknowledges the originator's own mutation.
func Accepted(rev uint64) ServerFrame {
	return ServerFrame{Type: FrameAccepted, Cursor: rev}
}

// Rejected builds a rejection frame from a pipeline error.
func Rejected(err error) ServerFrame {
	return ServerFrame{Type: FrameRejected, Rejection: &Rejection{
		Code:    domain.RejectionCode(err),
		Message: err.Error(),
	}}
}

// Snapshot builds the full-tree bootstrap frame.
func Snapshot(nodes []domain.BookmarkNode, cursor uint64) ServerFrame {
	return ServerFrame{Type: FrameSnapshot, Nodes: nodes, Cursor: cursor}
}

// Event wraps an accepted mutation for fan-out or replay.
func Event(ev *domain.AcceptedEvent) ServerFrame {
	return ServerFrame{Type: FrameEvent, Event: ev}
}

// Duplicate wraps a dedup advisory.
func Duplicate(d *domain.DuplicateAdvisory) ServerFrame {
	return ServerFrame{Type: FrameDuplicate, Duplicate: d}
}
