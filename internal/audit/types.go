// Package audit implements the Audit Log / Rollback Engine (C12): an
// append-only journal of every state-changing operation, with a
// handler-registry based rollback mechanism keyed by mutation kind.
package audit

import (
	"context"
	"time"
)

// Mutation kinds a RollbackHandler may be registered against. These are
// the only actions the engine knows how to undo; any other action
// string may still be logged but rejects a rollback request.
const (
	ActionUpsertNote   = "upsert_note"
	ActionDeleteNote   = "delete_note"
	ActionAddChunks    = "add_chunks"
	ActionDeleteChunks = "delete_chunks"
	ActionRewriteFile  = "rewrite_file"
)

// Entry is one immutable audit record. Only RolledBack/RollbackAt are
// ever mutated after insertion, and only by a successful Rollback call.
type Entry struct {
	ID             string
	Timestamp      time.Time
	Action         string
	Target         string // empty means no single addressable target
	SnapshotBefore string // empty means "no prior state" (e.g. a create)
	SnapshotAfter  string // empty means "no resulting state" (e.g. a delete)
	ChecksumBefore string // sha256(SnapshotBefore), empty if SnapshotBefore is empty
	ChecksumAfter  string // sha256(SnapshotAfter), empty if SnapshotAfter is empty
	UserApproved   bool
	Reversible     bool
	Metadata       map[string]any
	RolledBack     bool
	RollbackAt     time.Time
}

// Stats summarizes the audit log for stats().
type Stats struct {
	Total      int
	RolledBack int
	ByAction   map[string]int
}

// RollbackHandler restores the state described by entry.SnapshotBefore
// and is responsible for writing its own compensating entry (via log,
// with Reversible=false) before returning. It must not attempt to
// mutate entry itself; the caller marks the original entry rolled back
// only after the handler returns successfully.
type RollbackHandler func(ctx context.Context, log *Log, entry *Entry) error

// HandlerRegistry maps an Action to the handler capable of reversing it.
// Exactly one handler is expected per mutation kind in this package's
// constant list, registered once at startup.
type HandlerRegistry map[string]RollbackHandler

// Register adds or replaces the handler for action.
func (r HandlerRegistry) Register(action string, handler RollbackHandler) {
	r[action] = handler
}
