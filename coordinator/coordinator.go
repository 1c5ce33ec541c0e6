// Package coordinator serializes refresh and sync runs. At most one refresh
// runs per service and at most one sync per authority/account pair; a run
// requested while its key is held is rejected immediately instead of queued.
package coordinator

import (
	"errors"
	"log/slog"
	"sync"
)

// Authorities group collections by the kind of data they carry. Contacts,
// events and tasks sync independently even when they live on the same
// account.
const (
	AuthorityContacts  = "contacts"
	AuthorityCalendars = "calendars"
	AuthorityTasks     = "tasks"
)

// ErrAlreadyRunning is returned when a run is requested while another run
// holds the same key.
var ErrAlreadyRunning = errors.New("coordinator: run already in progress")

// RefreshListener is notified when a service's refresh starts or finishes.
type RefreshListener interface {
	OnRefreshStatusChanged(serviceID int64, refreshing bool)
}

type lockKey struct {
	kind      string
	serviceID int64
	name      string
}

func refreshKey(serviceID int64) lockKey {
	return lockKey{kind: "refresh", serviceID: serviceID}
}

func syncKey(authority, account string) lockKey {
	return lockKey{kind: "sync", name: authority + "/" + account}
}

// Coordinator hands out run locks and fans out refresh status changes.
type Coordinator struct {
	logger *slog.Logger

	mu        sync.Mutex
	running   map[lockKey]struct{}
	listeners []RefreshListener

	// OnSyncRequested is invoked when a refresh asks for a follow-up sync
	// of an account. It runs on the caller's goroutine; wire it to
	// something that schedules rather than blocks.
	OnSyncRequested func(account string)
}

func New(logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		logger:  logger,
		running: make(map[lockKey]struct{}),
	}
}

// AddListener registers a refresh status listener. When reportRunning is
// true the listener immediately receives a callback for every refresh that
// is currently in flight.
func (c *Coordinator) AddListener(l RefreshListener, reportRunning bool) {
	c.mu.Lock()
	c.listeners = append(c.listeners, l)
	var inFlight []int64
	if reportRunning {
		for key := range c.running {
			if key.kind == "refresh" {
				inFlight = append(inFlight, key.serviceID)
			}
		}
	}
	c.mu.Unlock()

	for _, id := range inFlight {
		l.OnRefreshStatusChanged(id, true)
	}
}

// RemoveListener unregisters a previously added listener.
func (c *Coordinator) RemoveListener(l RefreshListener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, existing := range c.listeners {
		if existing == l {
			c.listeners = append(c.listeners[:i], c.listeners[i+1:]...)
			return
		}
	}
}

// IsRefreshing reports whether a refresh for the service is in flight.
func (c *Coordinator) IsRefreshing(serviceID int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.running[refreshKey(serviceID)]
	return ok
}

func (c *Coordinator) tryAcquire(key lockKey) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, held := c.running[key]; held {
		return false
	}
	c.running[key] = struct{}{}
	return true
}

func (c *Coordinator) release(key lockKey) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.running, key)
}

func (c *Coordinator) notifyRefresh(serviceID int64, refreshing bool) {
	c.mu.Lock()
	listeners := make([]RefreshListener, len(c.listeners))
	copy(listeners, c.listeners)
	c.mu.Unlock()

	for _, l := range listeners {
		l.OnRefreshStatusChanged(serviceID, refreshing)
	}
}

// RunRefresh runs fn under the service's refresh lock, notifying listeners
// around it. Returns ErrAlreadyRunning if a refresh for the service is
// already in flight.
func (c *Coordinator) RunRefresh(serviceID int64, fn func() error) error {
	key := refreshKey(serviceID)
	if !c.tryAcquire(key) {
		c.logger.Debug("refresh already running, rejecting", "service_id", serviceID)
		return ErrAlreadyRunning
	}
	c.notifyRefresh(serviceID, true)
	defer func() {
		c.release(key)
		c.notifyRefresh(serviceID, false)
	}()
	return fn()
}

// RunSync runs fn under the authority/account sync lock. Returns
// ErrAlreadyRunning if a sync for the pair is already in flight.
func (c *Coordinator) RunSync(authority, account string, fn func() error) error {
	key := syncKey(authority, account)
	if !c.tryAcquire(key) {
		c.logger.Debug("sync already running, rejecting",
			"authority", authority, "account", account)
		return ErrAlreadyRunning
	}
	defer c.release(key)
	return fn()
}

// RequestSync forwards a follow-up sync request for an account, typically
// raised by a refresh that changed the collection count.
func (c *Coordinator) RequestSync(account string) {
	if c.OnSyncRequested == nil {
		c.logger.Debug("sync requested but no handler wired", "account", account)
		return
	}
	c.OnSyncRequested(account)
}
