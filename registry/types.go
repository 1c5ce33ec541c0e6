// Package registry holds the persisted entities describing a DAV account:
// services, home sets and collections, plus the per-collection sync state.
// Entities are mutated only by the discovery engine inside one atomic
// reconciliation commit.
package registry

import "fmt"

// ServiceType selects the protocol a service speaks.
type ServiceType string

const (
	ServiceCardDAV ServiceType = "carddav"
	ServiceCalDAV  ServiceType = "caldav"
)

// Service is one protocol endpoint of an account. There is at most one
// service per protocol per account.
type Service struct {
	ID           int64
	AccountName  string
	Type         ServiceType
	PrincipalURL string // empty until principal discovery succeeded
}

// HomeSet is a collection-of-collections URL advertised by a principal.
// Personal home sets were discovered from the account's own principal and
// are eligible for proxy/group recursion; non-personal ones were reached
// through a proxy-for or group-membership relation.
type HomeSet struct {
	ID          int64
	ServiceID   int64
	URL         string // normalized, unique per service
	Personal    bool
	PrivBind    bool
	DisplayName string
}

// Key returns the reconciliation key of the home set.
func (h *HomeSet) Key() string { return h.URL }

// Clone returns a copy safe to mutate without corrupting the persisted
// snapshot.
func (h *HomeSet) Clone() *HomeSet {
	dup := *h
	return &dup
}

// CollectionType classifies a syncable collection.
type CollectionType string

const (
	TypeAddressBook CollectionType = "addressbook"
	TypeCalendar    CollectionType = "calendar"
	TypeWebcal      CollectionType = "webcal"
)

// ValidFor reports whether a collection of this type may exist under a
// service of the given protocol.
func (t CollectionType) ValidFor(s ServiceType) bool {
	switch t {
	case TypeAddressBook:
		return s == ServiceCardDAV
	case TypeCalendar, TypeWebcal:
		return s == ServiceCalDAV
	}
	return false
}

// Collection is one syncable address book, calendar or webcal subscription.
type Collection struct {
	ID        int64
	ServiceID int64
	HomeSetID *int64 // nil when orphaned from its home set
	URL       string // normalized, unique per service
	Type      CollectionType

	DisplayName    string
	Description    string
	Color          string
	SupportsEvents *bool // calendars only, nil if the server did not say
	SupportsTasks  *bool
	Source         string // webcal only, the origin URL
	Owner          string

	// user choices, preserved across refreshes
	ForceReadOnly bool
	Sync          bool

	// transient state used during one refresh pass, never persisted
	Confirmed bool
	HomeSet   *HomeSet
}

// Key returns the reconciliation key of the collection.
func (c *Collection) Key() string { return c.URL }

// Clone returns a copy safe to mutate without corrupting the persisted
// snapshot.
func (c *Collection) Clone() *Collection {
	dup := *c
	if c.HomeSetID != nil {
		id := *c.HomeSetID
		dup.HomeSetID = &id
	}
	if c.SupportsEvents != nil {
		v := *c.SupportsEvents
		dup.SupportsEvents = &v
	}
	if c.SupportsTasks != nil {
		v := *c.SupportsTasks
		dup.SupportsTasks = &v
	}
	return &dup
}

// Validate checks the invariants a collection must satisfy before commit.
func (c *Collection) Validate(serviceType ServiceType) error {
	if !c.Type.ValidFor(serviceType) {
		return fmt.Errorf("collection type %q is invalid for a %s service", c.Type, serviceType)
	}
	if c.Type == TypeWebcal && c.Source == "" {
		return fmt.Errorf("webcal collection %s has no source URL", c.URL)
	}
	return nil
}

// SyncStateKind distinguishes the two change detection tokens a server may
// offer.
type SyncStateKind string

const (
	SyncStateCTag      SyncStateKind = "ctag"
	SyncStateSyncToken SyncStateKind = "sync-token"
)

// SyncState is the opaque per-collection checkpoint persisted by the local
// store. The engine only ever compares it for equality.
type SyncState struct {
	Kind  SyncStateKind
	Value string
}

// Equal reports whether two states are of the same kind and value. A nil
// state never equals anything.
func (s *SyncState) Equal(other *SyncState) bool {
	if s == nil || other == nil {
		return false
	}
	return s.Kind == other.Kind && s.Value == other.Value
}
