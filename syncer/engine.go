// Package syncer implements one synchronization pass for a single
// collection: determine what changed since the last run, upload local edits,
// download remote edits in bounded batches, and reconcile the local store.
// Format-specific behavior is supplied by a Strategy.
package syncer

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/TBit-services/davsync/internal/httpclient"
	"github.com/TBit-services/davsync/notify"
	"github.com/TBit-services/davsync/registry"
)

// maxMultigetResources bounds how many hrefs are fetched per multiget
// request.
const maxMultigetResources = 10

// Strategy supplies the format-specific parts of a sync pass.
type Strategy interface {
	// Kind names the data kind the strategy syncs. It scopes the local
	// resources and the checkpoint, so different kinds sharing one remote
	// collection never see each other's state.
	Kind() string
	// Prepare validates that this strategy can sync the collection.
	Prepare(c *registry.Collection) error
	// ListQuery builds the REPORT body listing all member hrefs with ETags.
	ListQuery() ([]byte, error)
	// MultigetQuery builds the REPORT body fetching the given hrefs.
	MultigetQuery(hrefs []string) ([]byte, error)
	// Decode parses raw resource data, returning an error for malformed items.
	Decode(data []byte) error
	// Encode produces the upload payload and content type for a resource.
	Encode(res *LocalResource) (data []byte, contentType string, err error)
	// NewFileName returns a member file name for a freshly created resource.
	NewFileName() string
	// PostProcess runs after all adds and updates of a pass are visible.
	PostProcess(store LocalStore, scope Scope) error
}

// Options control one sync pass.
type Options struct {
	Manual          bool // user-initiated run
	ForceFullResync bool // ignore an unchanged sync state
}

// Result reports what one pass did.
type Result struct {
	UpToDate        bool // sync state unchanged, nothing transferred
	Uploaded        int
	Downloaded      int
	DeletedLocally  int
	DeletedRemotely int
	Conflicts       int
	Invalid         int
	Failed          int
}

// Engine drives the sync state machine for one collection at a time.
type Engine struct {
	http     httpclient.Wrapper
	store    LocalStore
	strategy Strategy
	notifier notify.Notifier
	account  string
	logger   *slog.Logger
}

// New creates a sync engine for one account. The notifier receives
// invalid-resource notices; the logger is required.
func New(http httpclient.Wrapper, store LocalStore, strategy Strategy, notifier notify.Notifier, account string, logger *slog.Logger) (*Engine, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if notifier == nil {
		notifier = &notify.LogNotifier{Logger: logger}
	}
	return &Engine{
		http:     http,
		store:    store,
		strategy: strategy,
		notifier: notifier,
		account:  account,
		logger:   logger,
	}, nil
}

type remoteEntry struct {
	href string
	etag string
}

// PerformSync runs one full synchronization pass. The sync state is only
// persisted when the pass completes without an aborting error, so an aborted
// pass retries from the same baseline.
func (e *Engine) PerformSync(coll *registry.Collection, opts Options) (*Result, error) {
	result := &Result{}

	// prepare
	if coll.URL == "" {
		return nil, fmt.Errorf("collection has no remote URL")
	}
	collectionURL := httpclient.NormalizeCollectionURL(coll.URL)
	scope := Scope{CollectionURL: collectionURL, Kind: e.strategy.Kind()}
	if err := e.strategy.Prepare(coll); err != nil {
		return nil, fmt.Errorf("cannot sync %s: %w", collectionURL, err)
	}

	// query capabilities
	remoteState, err := e.queryCapabilities(collectionURL)
	if err != nil {
		return nil, err
	}
	localState, err := e.store.SyncState(scope)
	if err != nil {
		return nil, err
	}

	locals, err := e.store.All(scope)
	if err != nil {
		return nil, err
	}
	localByName := make(map[string]*LocalResource, len(locals))
	pending := false
	for _, res := range locals {
		localByName[res.FileName] = res
		if res.Dirty || res.Deleted {
			pending = true
		}
	}

	// an unchanged state only ends the pass when there is nothing to push
	if !opts.ForceFullResync && !pending && localState.Equal(remoteState) {
		e.logger.Info("collection unchanged since last sync", "url", collectionURL)
		result.UpToDate = true
		if err := e.strategy.PostProcess(e.store, scope); err != nil {
			return nil, err
		}
		return result, nil
	}

	// full listing of member hrefs with ETags
	remote, err := e.listRemote(collectionURL)
	if err != nil {
		return nil, err
	}

	// locally deleted resources are removed remotely, then locally
	if err := e.processLocallyDeleted(scope, coll.ForceReadOnly, locals, remote, result); err != nil {
		return nil, err
	}

	// dirty resources whose remote copy did not change are uploaded
	skipDownload := make(map[string]bool)
	if coll.ForceReadOnly {
		for _, res := range locals {
			if res.Dirty && !res.Deleted {
				e.logger.Warn("not uploading to read-only collection", "resource", res.FileName)
			}
		}
	} else if err := e.uploadDirty(scope, locals, remote, skipDownload, result); err != nil {
		return nil, err
	}

	// resources no longer listed remotely are removed locally
	for _, res := range locals {
		if res.Deleted || skipDownload[res.FileName] {
			continue
		}
		if _, listed := remote[res.FileName]; listed {
			continue
		}
		if res.ETag == "" && res.Flags&FlagRemotelyPresent == 0 {
			continue // never was on the server
		}
		e.logger.Info("deleting local resource no longer on server", "resource", res.FileName)
		if err := e.store.Delete(scope, res.FileName); err != nil {
			return nil, err
		}
		result.DeletedLocally++
	}

	// changed or new remote resources are downloaded in bounded batches
	var queue []string
	for name, entry := range remote {
		local := localByName[name]
		if local != nil && local.ETag == entry.etag {
			continue
		}
		queue = append(queue, entry.href)
	}
	sort.Strings(queue)

	for start := 0; start < len(queue); start += maxMultigetResources {
		end := min(start+maxMultigetResources, len(queue))
		if err := e.downloadBatch(scope, queue[start:end], result); err != nil {
			return nil, err
		}
	}

	if err := e.strategy.PostProcess(e.store, scope); err != nil {
		return nil, err
	}

	if err := e.store.SetSyncState(scope, remoteState); err != nil {
		return nil, err
	}

	e.logger.Info("sync pass complete",
		"url", collectionURL,
		"uploaded", result.Uploaded,
		"downloaded", result.Downloaded,
		"deleted_locally", result.DeletedLocally,
		"deleted_remotely", result.DeletedRemotely,
		"conflicts", result.Conflicts,
		"invalid", result.Invalid,
		"failed", result.Failed)
	return result, nil
}

// queryCapabilities asks the collection for its CTag and sync-token and
// returns the preferred state, or nil if the server supports neither.
func (e *Engine) queryCapabilities(collectionURL string) (*registry.SyncState, error) {
	ms, err := e.http.DoPROPFIND(collectionURL, 0, "getctag", "sync-token")
	if err != nil {
		return nil, fmt.Errorf("failed to query collection capabilities: %w", err)
	}
	for _, resp := range ms.Responses {
		if token, ok := resp.Props.Text("sync-token").Get(); ok && token != "" {
			return &registry.SyncState{Kind: registry.SyncStateSyncToken, Value: token}, nil
		}
		if ctag, ok := resp.Props.Text("getctag").Get(); ok && ctag != "" {
			return &registry.SyncState{Kind: registry.SyncStateCTag, Value: ctag}, nil
		}
	}
	return nil, nil
}

// listRemote runs the strategy's listing REPORT and indexes the members by
// file name.
func (e *Engine) listRemote(collectionURL string) (map[string]remoteEntry, error) {
	body, err := e.strategy.ListQuery()
	if err != nil {
		return nil, err
	}
	ms, err := e.http.DoREPORT(collectionURL, 1, body)
	if err != nil {
		return nil, fmt.Errorf("failed to list collection members: %w", err)
	}

	remote := make(map[string]remoteEntry, len(ms.Responses))
	for _, resp := range ms.Responses {
		if resp.Status >= 400 {
			continue
		}
		etag, ok := resp.Props.Text("getetag").Get()
		if !ok || etag == "" {
			continue
		}
		resolved, err := httpclient.ResolveHref(collectionURL, resp.Href)
		if err != nil {
			e.logger.Warn("skipping member with unparseable href", "href", resp.Href)
			continue
		}
		if httpclient.NormalizeCollectionURL(resolved) == collectionURL {
			continue // the collection itself
		}
		name := httpclient.LastPathSegment(resp.Href)
		remote[name] = remoteEntry{href: resp.Href, etag: etag}
	}
	e.logger.Debug("listed remote members", "url", collectionURL, "count", len(remote))
	return remote, nil
}

func (e *Engine) processLocallyDeleted(scope Scope, readOnly bool, locals []*LocalResource, remote map[string]remoteEntry, result *Result) error {
	for _, res := range locals {
		if !res.Deleted {
			continue
		}
		if res.ETag != "" && !readOnly {
			err := e.http.DoDELETE(scope.CollectionURL+res.FileName, res.ETag)
			switch {
			case err == nil:
				result.DeletedRemotely++
			case httpclient.IsPreconditionFailed(err):
				// the remote copy changed after the local deletion; the
				// deletion is dropped and the remote version re-downloaded
				e.logger.Warn("remote copy changed, dropping local deletion",
					"resource", res.FileName)
				result.Conflicts++
				continue
			case httpclient.IsClientError(err):
				// already gone or changed meanwhile; the local deletion
				// intent still wins
				e.logger.Warn("remote DELETE rejected, removing locally anyway",
					"resource", res.FileName, "error", err)
			default:
				return fmt.Errorf("failed to delete %s remotely: %w", res.FileName, err)
			}
		}
		if err := e.store.Delete(scope, res.FileName); err != nil {
			return err
		}
		delete(remote, res.FileName)
	}
	return nil
}

func (e *Engine) uploadDirty(scope Scope, locals []*LocalResource, remote map[string]remoteEntry, skipDownload map[string]bool, result *Result) error {
	for _, res := range locals {
		if !res.Dirty || res.Deleted {
			continue
		}
		if res.FileName == "" {
			res.FileName = e.strategy.NewFileName()
		}

		if entry, listed := remote[res.FileName]; listed && entry.etag != res.ETag {
			// remote copy changed concurrently, it wins via the download queue
			e.logger.Warn("not uploading concurrently modified resource", "resource", res.FileName)
			result.Conflicts++
			continue
		}

		payload, contentType, err := e.strategy.Encode(res)
		if err != nil {
			e.logger.Warn("failed to encode local resource", "resource", res.FileName, "error", err)
			result.Failed++
			skipDownload[res.FileName] = true
			continue
		}

		e.logger.Debug("uploading dirty resource", "resource", res.FileName, "etag", res.ETag)
		newEtag, err := e.http.DoPUT(scope.CollectionURL+res.FileName, res.ETag, contentType, payload)
		if err != nil {
			switch {
			case httpclient.IsPreconditionFailed(err):
				// precondition failed: leave dirty, the next pass re-evaluates
				e.logger.Warn("upload precondition failed", "resource", res.FileName)
				result.Conflicts++
				delete(remote, res.FileName)
				skipDownload[res.FileName] = true
			case httpclient.IsClientError(err):
				e.logger.Warn("upload rejected", "resource", res.FileName, "error", err)
				result.Failed++
				skipDownload[res.FileName] = true
			default:
				return fmt.Errorf("failed to upload %s: %w", res.FileName, err)
			}
			continue
		}

		// an empty ETag in the PUT response means unknown; the next listing
		// re-fetches the authoritative copy
		res.ETag = newEtag
		res.Dirty = false
		res.Flags |= FlagRemotelyPresent
		if err := e.store.Save(scope, res); err != nil {
			return err
		}
		delete(remote, res.FileName)
		skipDownload[res.FileName] = true
		result.Uploaded++
	}
	return nil
}

func (e *Engine) downloadBatch(scope Scope, hrefs []string, result *Result) error {
	e.logger.Info("downloading batch", "url", scope.CollectionURL, "count", len(hrefs))
	body, err := e.strategy.MultigetQuery(hrefs)
	if err != nil {
		return err
	}
	ms, err := e.http.DoREPORT(scope.CollectionURL, 1, body)
	if err != nil {
		return fmt.Errorf("multiget failed: %w", err)
	}

	for _, resp := range ms.Responses {
		name := httpclient.LastPathSegment(resp.Href)
		if resp.Status >= 400 {
			e.logger.Warn("multiget member failed", "resource", name, "status", resp.Status)
			result.Failed++
			continue
		}
		etag, ok := resp.Props.Text("getetag").Get()
		if !ok || etag == "" {
			return fmt.Errorf("multiget response for %s has no ETag", name)
		}
		data, ok := resp.Props.Text("calendar-data").Get()
		if !ok {
			data, ok = resp.Props.Text("address-data").Get()
		}
		if !ok {
			return fmt.Errorf("multiget response for %s has no resource data", name)
		}

		if err := e.strategy.Decode([]byte(data)); err != nil {
			e.logger.Warn("received invalid resource, skipping", "resource", name, "error", err)
			e.notifier.Notify(notify.Notification{
				Severity:   notify.SeverityDefault,
				Account:    e.account,
				Collection: scope.CollectionURL,
				Resource:   name,
				Message:    "received invalid resource",
				Err:        err,
			})
			result.Invalid++
			continue
		}

		local, err := e.store.Find(scope, name)
		if err != nil {
			return err
		}
		if local == nil {
			local = &LocalResource{FileName: name}
		}
		local.Data = []byte(data)
		local.ETag = etag
		local.Dirty = false
		local.Deleted = false
		local.Flags |= FlagRemotelyPresent
		if err := e.store.Save(scope, local); err != nil {
			return err
		}
		result.Downloaded++
	}
	return nil
}
