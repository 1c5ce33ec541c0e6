package syncer

import "github.com/TBit-services/davsync/registry"

// FlagRemotelyPresent marks a resource whose presence on the server has been
// confirmed by a listing or download.
const FlagRemotelyPresent uint8 = 1

// LocalResource is one member of a local collection as the sync engine sees
// it: payload bytes plus the bookkeeping needed for reconciliation.
type LocalResource struct {
	FileName string
	ETag     string // last known remote ETag, empty if never round-tripped
	Data     []byte
	Dirty    bool // locally modified since last sync
	Deleted  bool // marked for deletion, remote copy not yet removed
	Flags    uint8
}

// Scope identifies one logical local collection: a remote collection synced
// as one kind of data. A calendar carrying both events and tasks is two
// logical collections with independent resources and checkpoints, so the
// event pass can never delete stored tasks or advance the task checkpoint.
type Scope struct {
	CollectionURL string
	Kind          string // Strategy.Kind of the pass owning the data
}

// LocalStore is the local persistence contract of the sync engine. All
// operations are scoped to one logical local collection.
type LocalStore interface {
	// All lists every resource of the scope, including deleted-marked ones.
	All(scope Scope) ([]*LocalResource, error)
	// Find returns the resource with the given file name, or nil if absent.
	Find(scope Scope, fileName string) (*LocalResource, error)
	// Save upserts a resource keyed by its file name.
	Save(scope Scope, res *LocalResource) error
	// Delete removes a resource row.
	Delete(scope Scope, fileName string) error

	// SyncState returns the persisted sync checkpoint, or nil if none.
	SyncState(scope Scope) (*registry.SyncState, error)
	// SetSyncState persists the checkpoint; a nil state clears it.
	SetSyncState(scope Scope, state *registry.SyncState) error
}
