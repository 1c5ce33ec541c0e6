package registry

import "errors"

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("registry: not found")

// Store is the registry persistence contract. Implementations must make
// CommitRefresh atomic: either all rows of a refresh are written or none.
type Store interface {
	// services
	InsertService(s *Service) error
	ServiceByID(id int64) (*Service, error)
	ServiceByAccountAndType(account string, t ServiceType) (*Service, error)
	ServicesByAccount(account string) ([]*Service, error)
	UpdateServicePrincipal(id int64, principalURL string) error
	DeleteServicesByAccount(account string) error

	// home sets and collections, as persisted by the last refresh
	HomeSetsByService(serviceID int64) ([]*HomeSet, error)
	CollectionsByService(serviceID int64) ([]*Collection, error)

	// user choices
	SetCollectionSync(serviceID int64, url string, sync bool) error
	SetCollectionForceReadOnly(serviceID int64, url string, forceReadOnly bool) error

	// CommitRefresh diff-reconciles the persisted home sets and collections
	// of a service against the working maps of one refresh pass, matched by
	// URL, in a single transaction. ForceReadOnly is carried forward from
	// overwritten collection rows.
	CommitRefresh(serviceID int64, homeSets map[string]*HomeSet, collections map[string]*Collection) error
}
