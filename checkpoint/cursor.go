package checkpoint

// CursorKind distinguishes the reserved persistence cursor from named
// replication (DCP-style) cursors — both walk the same checkpoint list.
type CursorKind uint8

const (
	CursorPersistence CursorKind = iota
	CursorReplication
)

// PersistenceCursorName is the one cursor every CheckpointManager
// always has (spec.md §3, CheckpointManager.cursors).
const PersistenceCursorName = "persistence"

// Cursor is a named position (checkpoint, offset, kind) into a
// partition's checkpoint list (spec.md §3).
type Cursor struct {
	Name     string
	Kind     CursorKind
	ckptIdx  int // index into manager.checkpoints
	offset   int // next item.items[offset] to be returned by nextItem
	mustSendCheckpointEnd bool
}

// clone returns a value copy suitable for read-only external reporting
// (e.g. stats snapshots) without exposing the live cursor.
func (cu *Cursor) clone() Cursor { return *cu }
