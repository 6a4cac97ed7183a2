package models

// -----------------------------------------------------------------------------
// Change Feed Types
// -----------------------------------------------------------------------------

// MChangeKind classifies a store mutation.
type MChangeKind string

const (
	ChangeInsert  MChangeKind = "insert"
	ChangeUpdate  MChangeKind = "update"
	ChangeReplace MChangeKind = "replace"
)

// -----------------------------------------------------------------------------

// MStoreNotification is the raw per-mutation signal emitted by a store,
// before the watcher re-reads the record. The payload may be partial:
// only the operation and the affected address are guaranteed.
type MStoreNotification struct {
	Op      string `json:"op"`
	Address string `json:"address"`
}

// -----------------------------------------------------------------------------

// MChangeEvent carries the full current record state for one observed
// store mutation. It is not a diff.
type MChangeEvent struct {
	Kind    MChangeKind `json:"kind"`
	Address string      `json:"address"`
	Token   MToken      `json:"token"`
}
