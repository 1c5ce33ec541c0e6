package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/TBit-services/davsync/config"
	"github.com/TBit-services/davsync/coordinator"
	"github.com/TBit-services/davsync/discovery"
	"github.com/TBit-services/davsync/internal/httpclient"
	"github.com/TBit-services/davsync/notify"
	"github.com/TBit-services/davsync/registry"
	"github.com/TBit-services/davsync/storage"
	"github.com/TBit-services/davsync/syncer"
)

type accountRef = config.Account

// app ties the configuration, database, coordinator and per-account
// transports together for one CLI invocation.
type app struct {
	cfg      *config.Config
	db       *storage.DB
	logger   *slog.Logger
	coord    *coordinator.Coordinator
	notifier notify.Notifier
}

func newApp(configPath string) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.SlogLevel(),
	}))

	db, err := storage.Open(cfg.Database)
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:      cfg,
		db:       db,
		logger:   logger,
		coord:    coordinator.New(logger),
		notifier: &notify.LogNotifier{Logger: logger},
	}
	a.coord.OnSyncRequested = func(account string) {
		// a refresh noticed new or removed collections; sync right away
		if acct := cfg.Account(account); acct != nil {
			if err := a.syncAccount(*acct, false, false); err != nil {
				logger.Warn("follow-up sync failed", "account", account, "error", err)
			}
		}
	}
	return a, nil
}

func (a *app) close() {
	if err := a.db.Close(); err != nil {
		a.logger.Warn("failed to close database", "error", err)
	}
}

// forAccounts runs fn for every named account, or for all configured
// accounts when names is empty. Per-account failures are collected so one
// broken account doesn't stop the rest.
func (a *app) forAccounts(names []string, fn func(acct accountRef) error) error {
	var accounts []accountRef
	if len(names) == 0 {
		accounts = a.cfg.Accounts
	} else {
		for _, name := range names {
			acct := a.cfg.Account(name)
			if acct == nil {
				return fmt.Errorf("account %q is not configured", name)
			}
			accounts = append(accounts, *acct)
		}
	}

	var errs []error
	for _, acct := range accounts {
		if err := fn(acct); err != nil {
			errs = append(errs, fmt.Errorf("account %s: %w", acct.Name, err))
		}
	}
	return errors.Join(errs...)
}

// services returns the persisted service records for an account, creating
// them from the configuration on first use. Each returned service is paired
// with a transport rooted at its configured URL.
func (a *app) services(acct accountRef) ([]*registry.Service, map[int64]httpclient.Wrapper, error) {
	type endpoint struct {
		t        registry.ServiceType
		location string
	}
	var endpoints []endpoint
	if acct.CardDAV != "" {
		endpoints = append(endpoints, endpoint{registry.ServiceCardDAV, acct.CardDAV})
	}
	if acct.CalDAV != "" {
		endpoints = append(endpoints, endpoint{registry.ServiceCalDAV, acct.CalDAV})
	}

	var services []*registry.Service
	wrappers := make(map[int64]httpclient.Wrapper)
	for _, ep := range endpoints {
		service, err := a.db.ServiceByAccountAndType(acct.Name, ep.t)
		if errors.Is(err, registry.ErrNotFound) {
			service = &registry.Service{AccountName: acct.Name, Type: ep.t}
			if err := a.db.InsertService(service); err != nil {
				return nil, nil, err
			}
			a.logger.Info("registered service", "account", acct.Name, "type", ep.t)
		} else if err != nil {
			return nil, nil, err
		}

		wrapper, err := a.wrapperFor(acct, ep.location)
		if err != nil {
			return nil, nil, err
		}

		if service.PrincipalURL == "" {
			principal, err := discovery.FindCurrentUserPrincipal(wrapper, ep.t, ep.location)
			if err != nil {
				return nil, nil, fmt.Errorf("principal discovery for %s failed: %w", ep.location, err)
			}
			if err := a.db.UpdateServicePrincipal(service.ID, principal); err != nil {
				return nil, nil, err
			}
			service.PrincipalURL = principal
			a.logger.Info("discovered principal", "account", acct.Name, "type", ep.t, "principal", principal)
		}

		services = append(services, service)
		wrappers[service.ID] = wrapper
	}
	return services, wrappers, nil
}

func (a *app) wrapperFor(acct accountRef, location string) (httpclient.Wrapper, error) {
	base, err := url.Parse(location)
	if err != nil {
		return nil, fmt.Errorf("invalid URL %s: %w", location, err)
	}
	client := &http.Client{
		Transport: httpclient.NewBasicAuthTransport(acct.Username, acct.Password, nil, a.logger),
		Timeout:   90 * time.Second,
	}
	return httpclient.NewWrapper(client, *base, a.logger)
}

func (a *app) refreshAccount(acct accountRef, manual bool) error {
	services, wrappers, err := a.services(acct)
	if err != nil {
		return err
	}

	var errs []error
	for _, service := range services {
		refresher, err := discovery.NewRefresher(a.db, wrappers[service.ID], a.notifier, a.coord, a.logger)
		if err != nil {
			return err
		}
		err = a.coord.RunRefresh(service.ID, func() error {
			return refresher.Refresh(service.ID, !manual)
		})
		if err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (a *app) syncAccount(acct accountRef, manual, fullResync bool) error {
	services, wrappers, err := a.services(acct)
	if err != nil {
		return err
	}
	opts := syncer.Options{Manual: manual, ForceFullResync: fullResync}

	// collections grouped by authority so each data kind syncs under its
	// own account-wide lock
	type job struct {
		service    *registry.Service
		collection *registry.Collection
		strategy   syncer.Strategy
	}
	jobs := make(map[string][]job)

	for _, service := range services {
		collections, err := a.db.CollectionsByService(service.ID)
		if err != nil {
			return err
		}
		for _, coll := range collections {
			if !coll.Sync {
				continue
			}
			switch coll.Type {
			case registry.TypeAddressBook:
				jobs[coordinator.AuthorityContacts] = append(jobs[coordinator.AuthorityContacts],
					job{service, coll, syncer.NewContactsStrategy(a.logger)})
			case registry.TypeCalendar:
				if coll.SupportsEvents == nil || *coll.SupportsEvents {
					jobs[coordinator.AuthorityCalendars] = append(jobs[coordinator.AuthorityCalendars],
						job{service, coll, syncer.NewEventsStrategy(a.logger)})
				}
				if coll.SupportsTasks == nil || *coll.SupportsTasks {
					jobs[coordinator.AuthorityTasks] = append(jobs[coordinator.AuthorityTasks],
						job{service, coll, syncer.NewTasksStrategy(a.logger)})
				}
			case registry.TypeWebcal:
				// subscriptions are registered for external consumers, not synced
				a.logger.Debug("skipping webcal subscription", "url", coll.URL)
			}
		}
	}

	var errs []error
	for _, authority := range []string{coordinator.AuthorityContacts, coordinator.AuthorityCalendars, coordinator.AuthorityTasks} {
		batch := jobs[authority]
		if len(batch) == 0 {
			continue
		}
		err := a.coord.RunSync(authority, acct.Name, func() error {
			var runErrs []error
			for _, j := range batch {
				engine, err := syncer.New(wrappers[j.service.ID], a.db, j.strategy, a.notifier, acct.Name, a.logger)
				if err != nil {
					return err
				}
				if _, err := engine.PerformSync(j.collection, opts); err != nil {
					a.logger.Error("sync failed", "url", j.collection.URL, "error", err)
					runErrs = append(runErrs, fmt.Errorf("%s: %w", j.collection.URL, err))
				}
			}
			return errors.Join(runErrs...)
		})
		if err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (a *app) listCollections(out io.Writer) error {
	for _, acct := range a.cfg.Accounts {
		services, err := a.db.ServicesByAccount(acct.Name)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%s\n", acct.Name)
		for _, service := range services {
			fmt.Fprintf(out, "  %s (principal: %s)\n", service.Type, service.PrincipalURL)
			collections, err := a.db.CollectionsByService(service.ID)
			if err != nil {
				return err
			}
			for _, coll := range collections {
				marker := " "
				if coll.Sync {
					marker = "*"
				}
				readOnly := ""
				if coll.ForceReadOnly {
					readOnly = " [read-only]"
				}
				name := coll.DisplayName
				if name == "" {
					name = httpclient.LastPathSegment(coll.URL)
				}
				fmt.Fprintf(out, "    [%s] %-12s %s (%s)%s\n", marker, coll.Type, name, coll.URL, readOnly)
			}
		}
	}
	return nil
}

func (a *app) setCollectionSync(account, collectionURL string, sync bool) error {
	serviceID, err := a.findCollectionService(account, collectionURL)
	if err != nil {
		return err
	}
	return a.db.SetCollectionSync(serviceID, collectionURL, sync)
}

func (a *app) setCollectionReadOnly(account, collectionURL string, readOnly bool) error {
	serviceID, err := a.findCollectionService(account, collectionURL)
	if err != nil {
		return err
	}
	return a.db.SetCollectionForceReadOnly(serviceID, collectionURL, readOnly)
}

func (a *app) findCollectionService(account, collectionURL string) (int64, error) {
	services, err := a.db.ServicesByAccount(account)
	if err != nil {
		return 0, err
	}
	for _, service := range services {
		collections, err := a.db.CollectionsByService(service.ID)
		if err != nil {
			return 0, err
		}
		for _, coll := range collections {
			if coll.URL == collectionURL {
				return service.ID, nil
			}
		}
	}
	return 0, fmt.Errorf("no collection %s on account %s: %w", collectionURL, account, registry.ErrNotFound)
}
