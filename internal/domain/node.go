package domain

import "time"

// FolderType classifies the well-known browser root folders.
// Regular folders and links carry FolderNone.
type FolderType string

const (
	FolderNone         FolderType = ""
	FolderBookmarksBar FolderType = "bookmarks-bar"
	FolderOther        FolderType = "other"
	FolderMobile       FolderType = "mobile"
)

// BookmarkNode is the canonical server-side representation of a bookmark
// or folder. Identity is NativeID; everything else is mutable through
// accepted MutationEvents only.
type BookmarkNode struct {
	// ─────────────────────────────
	// Identity (immutable)
	// ─────────────────────────────

	// NativeID is the client-assigned identifier, unique per installing
	// browser and stable across sessions for the same bookmark.
	NativeID string `json:"nativeId"`

	// ParentNativeID links the node into the tree.
	// Empty only for synthetic roots.
	ParentNativeID string `json:"parentNativeId,omitempty"`

	// ─────────────────────────────
	// Content
	// ─────────────────────────────

	// Title is the display title.
	Title string `json:"title"`

	// URL is the raw URL as submitted by the client.
	// Empty iff IsFolder.
	URL string `json:"url,omitempty"`

	// URLNormalized is the dedup key: URL with tracking parameters
	// stripped and scheme/host lowercased. Equals URL when the URL
	// could not be parsed.
	URLNormalized string `json:"urlNormalized,omitempty"`

	// IsFolder marks container nodes.
	IsFolder bool `json:"isFolder"`

	// FolderType is set for well-known roots, FolderNone otherwise.
	FolderType FolderType `json:"folderType,omitempty"`

	// Path is the human-readable ancestor chain at mapping time.
	// Display-only; never an identity field.
	Path string `json:"path,omitempty"`

	// ─────────────────────────────
	// Ordering & versioning
	// ─────────────────────────────

	// Position is the ordinal among siblings under ParentNativeID.
	// Unique among non-deleted siblings at any committed instant.
	Position int64 `json:"position"`

	// Revision is the per-account logical clock value assigned on the
	// last accepted mutation touching this node.
	Revision uint64 `json:"revision"`

	// ClearedRevision is the revision of the create that last cleared a
	// tombstone for this id, zero if the id was never resurrected.
	// Updates whose RevisionSeen predates it target the dead incarnation
	// and are refused.
	ClearedRevision uint64 `json:"clearedRevision,omitempty"`

	// ─────────────────────────────
	// Liveness & cleanup
	// ─────────────────────────────

	// Deleted marks a tombstone. Tombstones are retained for replay
	// and purged by the retention sweep once every known session has
	// acknowledged a revision past them.
	Deleted bool `json:"deleted,omitempty"`

	// UpdatedAt is bumped on every accepted mutation.
	UpdatedAt time.Time `json:"updatedAt"`
}

// ClientSession describes one live transport connection.
type ClientSession struct {
	SessionID         string    `json:"sessionId"`
	AccountID         string    `json:"accountId"`
	DeviceID          string    `json:"deviceId"`
	ConnectedAt       time.Time `json:"connectedAt"`
	LastAckedRevision uint64    `json:"lastAckedRevision"`
	LastHeartbeatAt   time.Time `json:"lastHeartbeatAt"`
}
