// Package discovery crawls a server's principal, home sets and proxy/group
// relations to build the authoritative list of syncable collections, and
// reconciles it against the persisted registry while preserving user
// choices.
package discovery

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/TBit-services/davsync/internal/davxml"
	"github.com/TBit-services/davsync/internal/httpclient"
	"github.com/TBit-services/davsync/notify"
	"github.com/TBit-services/davsync/registry"
)

// collectionProperties is the property set requested for every home set
// member and for direct collection checks.
var collectionProperties = []string{
	"resourcetype",
	"current-user-privilege-set",
	"displayname",
	"owner",
	"addressbook-description",
	"supported-address-data",
	"calendar-description",
	"calendar-color",
	"supported-calendar-component-set",
	"source",
}

// relationProperties are the principal relations followed one level deep
// from the account's own principal.
var relationProperties = []string{
	"calendar-proxy-read-for",
	"calendar-proxy-write-for",
	"group-membership",
}

// SyncRequester is notified when a refresh changed the collection count and
// an immediate synchronization pass should follow.
type SyncRequester interface {
	RequestSync(account string)
}

// Refresher is the collection discovery/refresh engine.
type Refresher struct {
	store    registry.Store
	http     httpclient.Wrapper
	notifier notify.Notifier
	syncReq  SyncRequester
	logger   *slog.Logger
}

// NewRefresher creates a refresh engine. syncReq may be nil; the logger is
// required.
func NewRefresher(store registry.Store, http httpclient.Wrapper, notifier notify.Notifier, syncReq SyncRequester, logger *slog.Logger) (*Refresher, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if notifier == nil {
		notifier = &notify.LogNotifier{Logger: logger}
	}
	return &Refresher{
		store:    store,
		http:     http,
		notifier: notifier,
		syncReq:  syncReq,
		logger:   logger,
	}, nil
}

// Refresh runs one discovery pass for a service. A missing service is a
// configuration error and fails; an account that vanishes while the refresh
// is running is treated as a benign no-op. Any other failure is reported to
// the notifier, silently for automatic runs and alerting for manual ones.
func (r *Refresher) Refresh(serviceID int64, automatic bool) error {
	service, err := r.store.ServiceByID(serviceID)
	if errors.Is(err, registry.ErrNotFound) {
		return fmt.Errorf("service %d does not exist: %w", serviceID, err)
	}
	if err != nil {
		return err
	}

	r.logger.Info("refreshing collections",
		"service_id", serviceID,
		"account", service.AccountName,
		"type", service.Type,
		"automatic", automatic)

	if err := r.refreshService(service); err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			r.logger.Info("account vanished during refresh, ignoring",
				"service_id", serviceID, "account", service.AccountName)
			return nil
		}
		r.logger.Error("refresh failed", "service_id", serviceID, "error", err)
		severity := notify.SeverityDefault
		if automatic {
			severity = notify.SeverityLow
		}
		r.notifier.Notify(notify.Notification{
			Severity:  severity,
			Account:   service.AccountName,
			ServiceID: serviceID,
			Message:   "couldn't refresh collection list",
			Err:       err,
			Report:    r.debugReport(service, err),
		})
		return err
	}
	return nil
}

func (r *Refresher) refreshService(service *registry.Service) error {
	// working maps are clones of the persisted snapshot, so in-place edits
	// don't corrupt it if the refresh aborts
	homeSets := make(map[string]*registry.HomeSet)
	persistedHS, err := r.store.HomeSetsByService(service.ID)
	if err != nil {
		return err
	}
	for _, h := range persistedHS {
		homeSets[h.URL] = h.Clone()
	}

	collections := make(map[string]*registry.Collection)
	persistedColl, err := r.store.CollectionsByService(service.ID)
	if err != nil {
		return err
	}
	for _, c := range persistedColl {
		collections[c.URL] = c.Clone()
	}

	if service.PrincipalURL != "" {
		visited := make(map[string]bool)
		if err := r.discoverHomeSets(service, service.PrincipalURL, true, homeSets, visited); err != nil {
			return err
		}
	}

	// snapshot user choices before metadata gets rebuilt
	selected := make(map[string]bool)
	deselected := make(map[string]bool)
	for url, c := range collections {
		if c.Sync {
			selected[url] = true
		} else {
			deselected[url] = true
		}
	}
	countBefore := len(collections)

	if err := r.listHomeSets(service, homeSets, collections); err != nil {
		return err
	}
	if err := r.checkOrphans(service, collections); err != nil {
		return err
	}

	// restore user intent even for collections rebuilt from scratch
	for url := range selected {
		if c, ok := collections[url]; ok {
			c.Sync = true
		}
	}
	for url := range deselected {
		if c, ok := collections[url]; ok {
			c.Sync = false
		}
	}

	if err := r.store.CommitRefresh(service.ID, homeSets, collections); err != nil {
		return err
	}
	r.logger.Info("refresh committed",
		"service_id", service.ID,
		"home_sets", len(homeSets),
		"collections", len(collections))

	if len(collections) != countBefore && r.syncReq != nil {
		r.logger.Info("collection count changed, requesting sync",
			"account", service.AccountName,
			"before", countBefore,
			"after", len(collections))
		r.syncReq.RequestSync(service.AccountName)
	}
	return nil
}

// discoverHomeSets queries a principal for its home sets and, for the
// account's own principal, follows proxy/group relations one level deep.
// The visited set guards against servers advertising relation cycles.
func (r *Refresher) discoverHomeSets(service *registry.Service, principalURL string, personal bool, homeSets map[string]*registry.HomeSet, visited map[string]bool) error {
	principal, err := r.http.Resolve(principalURL)
	if err != nil {
		return err
	}
	if visited[principal] {
		return nil
	}
	visited[principal] = true

	props := []string{"displayname", homeSetProp(service.Type)}
	if personal {
		props = append(props, relationProperties...)
	}

	r.logger.Debug("querying principal", "url", principal, "personal", personal)
	ms, err := r.http.DoPROPFIND(principal, 0, props...)
	if err != nil {
		if httpclient.IsClientError(err) {
			// the principal is not accessible; discovery yields nothing from it
			r.logger.Warn("principal not accessible, skipping", "url", principal, "error", err)
			return nil
		}
		return fmt.Errorf("failed to query principal %s: %w", principal, err)
	}

	relatedSeen := make(map[string]bool)
	var related []string

	for _, resp := range ms.Responses {
		respURL, err := httpclient.ResolveHref(principal, resp.Href)
		if err != nil {
			continue
		}

		for _, href := range resp.Props.Hrefs(homeSetProp(service.Type)) {
			hsURL, err := httpclient.ResolveHref(respURL, href)
			if err != nil {
				r.logger.Warn("skipping unparseable home set href", "href", href)
				continue
			}
			hsURL = httpclient.NormalizeCollectionURL(hsURL)
			if existing, ok := homeSets[hsURL]; ok {
				existing.Personal = personal
			} else {
				r.logger.Debug("discovered home set", "url", hsURL, "personal", personal)
				homeSets[hsURL] = &registry.HomeSet{
					ServiceID: service.ID,
					URL:       hsURL,
					Personal:  personal,
					PrivBind:  true,
				}
			}
		}

		if personal {
			for _, prop := range relationProperties {
				for _, href := range resp.Props.Hrefs(prop) {
					target, err := httpclient.ResolveHref(respURL, href)
					if err != nil {
						continue
					}
					if !relatedSeen[target] {
						relatedSeen[target] = true
						related = append(related, target)
					}
				}
			}
		}
	}

	// related principals are followed after the current level; they are not
	// scanned for further relations themselves
	sort.Strings(related)
	for _, target := range related {
		if err := r.discoverHomeSets(service, target, false, homeSets, visited); err != nil {
			return err
		}
	}
	return nil
}

// listHomeSets lists every home set's members and upserts the usable
// collections into the working map. A home set answering 403/404/410 is
// removed without aborting the refresh.
func (r *Refresher) listHomeSets(service *registry.Service, homeSets map[string]*registry.HomeSet, collections map[string]*registry.Collection) error {
	for url, hs := range homeSets {
		r.logger.Debug("listing home set", "url", url)
		ms, err := r.http.DoPROPFIND(url, 1, collectionProperties...)
		if err != nil {
			if httpclient.IsDefinitiveAbsence(err) {
				r.logger.Info("home set is gone, removing", "url", url, "error", err)
				delete(homeSets, url)
				continue
			}
			return fmt.Errorf("failed to list home set %s: %w", url, err)
		}

		for _, resp := range ms.Responses {
			if resp.Status >= 400 {
				continue
			}
			resolved, err := httpclient.ResolveHref(url, resp.Href)
			if err != nil {
				r.logger.Warn("skipping member with unparseable href", "href", resp.Href)
				continue
			}
			resolved = httpclient.NormalizeCollectionURL(resolved)

			if resolved == url {
				// the home set itself
				if dn, ok := resp.Props.Text("displayname").Get(); ok {
					hs.DisplayName = dn
				}
				hs.PrivBind = resp.Props.MayBind().OrElse(true)
			}

			// the home set's own response may also describe a usable collection
			col := collectionFromProps(service.Type, resolved, resp.Props)
			if col == nil {
				continue
			}
			col.ServiceID = service.ID
			col.HomeSet = hs
			col.Confirmed = true
			if old, ok := collections[resolved]; ok {
				col.ID = old.ID
				col.Sync = old.Sync
				col.ForceReadOnly = old.ForceReadOnly
			}
			collections[resolved] = col
		}
	}
	return nil
}

// checkOrphans re-checks every collection no longer reachable through a
// surviving home set with a direct PROPFIND, keeping it (without home set)
// when it still answers with a valid type and dropping it otherwise.
func (r *Refresher) checkOrphans(service *registry.Service, collections map[string]*registry.Collection) error {
	for url, col := range collections {
		if col.Confirmed {
			continue
		}
		col.HomeSet = nil
		col.HomeSetID = nil

		r.logger.Debug("checking orphaned collection", "url", url)
		ms, err := r.http.DoPROPFIND(url, 0, collectionProperties...)
		if err != nil {
			if httpclient.IsDefinitiveAbsence(err) {
				r.logger.Info("orphaned collection is gone, removing", "url", url)
				delete(collections, url)
				continue
			}
			return fmt.Errorf("failed to check collection %s: %w", url, err)
		}

		rebuilt := false
		for _, resp := range ms.Responses {
			fresh := collectionFromProps(service.Type, url, resp.Props)
			if fresh == nil {
				continue
			}
			fresh.ServiceID = service.ID
			fresh.ID = col.ID
			fresh.Sync = col.Sync
			fresh.ForceReadOnly = col.ForceReadOnly
			fresh.Confirmed = true
			collections[url] = fresh
			rebuilt = true
			break
		}
		if !rebuilt {
			r.logger.Info("orphaned collection no longer usable, removing", "url", url)
			delete(collections, url)
		}
	}
	return nil
}

// collectionFromProps builds a collection record from a PROPFIND response,
// or returns nil if the response does not describe a usable collection for
// this protocol.
func collectionFromProps(serviceType registry.ServiceType, url string, props davxml.PropSet) *registry.Collection {
	col := &registry.Collection{URL: url}

	switch {
	case serviceType == registry.ServiceCardDAV && props.IsAddressBook():
		col.Type = registry.TypeAddressBook
		col.Description = props.Text("addressbook-description").OrElse("")

	case serviceType == registry.ServiceCalDAV && props.IsCalendar():
		col.Type = registry.TypeCalendar
		col.Description = props.Text("calendar-description").OrElse("")
		col.Color = props.Text("calendar-color").OrElse("")
		if comps, ok := props.Components().Get(); ok {
			events := containsString(comps, "VEVENT")
			tasks := containsString(comps, "VTODO")
			col.SupportsEvents = &events
			col.SupportsTasks = &tasks
		}

	case serviceType == registry.ServiceCalDAV && props.IsSubscription():
		source, ok := props.Href("source").Get()
		if !ok || source == "" {
			return nil // a subscription without a source is unusable
		}
		col.Type = registry.TypeWebcal
		col.Source = source
		col.Color = props.Text("calendar-color").OrElse("")

	default:
		return nil
	}

	col.DisplayName = props.Text("displayname").OrElse("")
	if owner, ok := props.Href("owner").Get(); ok && owner != "" {
		if resolved, err := httpclient.ResolveHref(url, owner); err == nil {
			col.Owner = resolved
		}
	}
	return col
}

func homeSetProp(t registry.ServiceType) string {
	if t == registry.ServiceCardDAV {
		return "addressbook-home-set"
	}
	return "calendar-home-set"
}

func containsString(list []string, want string) bool {
	for _, s := range list {
		if s == want {
			return true
		}
	}
	return false
}

// debugReport assembles a plain-text diagnostic bundle for an uncaught
// refresh failure.
func (r *Refresher) debugReport(service *registry.Service, cause error) string {
	var b strings.Builder
	fmt.Fprintf(&b, "davsync refresh failure report\n\n")
	fmt.Fprintf(&b, "account:   %s\n", service.AccountName)
	fmt.Fprintf(&b, "service:   %d (%s)\n", service.ID, service.Type)
	fmt.Fprintf(&b, "principal: %s\n\n", service.PrincipalURL)

	fmt.Fprintf(&b, "error chain:\n")
	for err := cause; err != nil; err = errors.Unwrap(err) {
		fmt.Fprintf(&b, "  - %v\n", err)
	}

	if homeSets, err := r.store.HomeSetsByService(service.ID); err == nil {
		fmt.Fprintf(&b, "\npersisted home sets (%d):\n", len(homeSets))
		for _, h := range homeSets {
			fmt.Fprintf(&b, "  - %s (personal=%v privBind=%v)\n", h.URL, h.Personal, h.PrivBind)
		}
	}
	if collections, err := r.store.CollectionsByService(service.ID); err == nil {
		fmt.Fprintf(&b, "\npersisted collections (%d):\n", len(collections))
		for _, c := range collections {
			fmt.Fprintf(&b, "  - %s (type=%s sync=%v readOnly=%v)\n", c.URL, c.Type, c.Sync, c.ForceReadOnly)
		}
	}
	return b.String()
}
