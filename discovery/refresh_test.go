package discovery

import (
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TBit-services/davsync/internal/davxml"
	"github.com/TBit-services/davsync/internal/httpclient"
	"github.com/TBit-services/davsync/notify"
	"github.com/TBit-services/davsync/registry"
	"github.com/TBit-services/davsync/storage"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// Mock types for testing
type mockWrapper struct {
	t        *testing.T
	propfind map[string]string // url -> multistatus body
	errors   map[string]error  // url -> forced error
	calls    []string
}

func (m *mockWrapper) DoPROPFIND(url string, depth int, props ...string) (*davxml.Multistatus, error) {
	m.calls = append(m.calls, url)
	if err, ok := m.errors[url]; ok {
		return nil, err
	}
	body, ok := m.propfind[url]
	if !ok {
		return nil, &httpclient.HTTPError{StatusCode: 404, Status: "404 Not Found"}
	}
	ms, err := davxml.ParseMultistatus([]byte(body))
	require.NoError(m.t, err)
	return ms, nil
}

func (m *mockWrapper) DoREPORT(url string, depth int, body []byte) (*davxml.Multistatus, error) {
	m.t.Fatal("refresh must never issue REPORT requests")
	return nil, nil
}

func (m *mockWrapper) DoPUT(url, etag, contentType string, data []byte) (string, error) {
	m.t.Fatal("refresh must never issue PUT requests")
	return "", nil
}

func (m *mockWrapper) DoDELETE(url, etag string) error {
	m.t.Fatal("refresh must never issue DELETE requests")
	return nil
}

func (m *mockWrapper) Resolve(href string) (string, error) {
	resolved, err := httpclient.ResolveHref("https://x.test/", href)
	if err != nil {
		return "", err
	}
	return resolved, nil
}

func (m *mockWrapper) countCalls(url string) int {
	n := 0
	for _, call := range m.calls {
		if call == url {
			n++
		}
	}
	return n
}

type recordingNotifier struct {
	notes []notify.Notification
}

func (n *recordingNotifier) Notify(note notify.Notification) {
	n.notes = append(n.notes, note)
}

type recordingSyncRequester struct {
	accounts []string
}

func (r *recordingSyncRequester) RequestSync(account string) {
	r.accounts = append(r.accounts, account)
}

const (
	alicePrincipal = "https://x.test/principals/alice/"
	teamPrincipal  = "https://x.test/principals/team/"
	aliceHome      = "https://x.test/ab/alice/"
	teamHome       = "https://x.test/ab/team/"
	defaultBook    = "https://x.test/ab/alice/default/"
	sharedBook     = "https://x.test/ab/team/shared/"
)

func principalXML(homeSet string, memberships ...string) string {
	body := `<?xml version="1.0"?>
<d:multistatus xmlns:d="DAV:" xmlns:card="urn:ietf:params:xml:ns:carddav">
  <d:response>
    <d:href>` + homeSet + `principal/</d:href>
    <d:propstat>
      <d:prop>
        <card:addressbook-home-set><d:href>` + homeSet + `</d:href></card:addressbook-home-set>`
	if len(memberships) > 0 {
		body += "\n        <d:group-membership>"
		for _, m := range memberships {
			body += "<d:href>" + m + "</d:href>"
		}
		body += "</d:group-membership>"
	}
	body += `
      </d:prop>
      <d:status>HTTP/1.1 200 OK</d:status>
    </d:propstat>
  </d:response>
</d:multistatus>`
	return body
}

func homeSetXML(homeSet, homeName string, books map[string]string) string {
	body := fmt.Sprintf(`<?xml version="1.0"?>
<d:multistatus xmlns:d="DAV:" xmlns:card="urn:ietf:params:xml:ns:carddav">
  <d:response>
    <d:href>%s</d:href>
    <d:propstat>
      <d:prop>
        <d:displayname>%s</d:displayname>
        <d:resourcetype><d:collection/></d:resourcetype>
        <d:current-user-privilege-set><d:privilege><d:write/></d:privilege></d:current-user-privilege-set>
      </d:prop>
      <d:status>HTTP/1.1 200 OK</d:status>
    </d:propstat>
  </d:response>`, homeSet, homeName)
	for url, name := range books {
		body += addressbookResponse(url, name)
	}
	return body + "\n</d:multistatus>"
}

func addressbookResponse(url, name string) string {
	return fmt.Sprintf(`
  <d:response>
    <d:href>%s</d:href>
    <d:propstat>
      <d:prop>
        <d:displayname>%s</d:displayname>
        <d:resourcetype><d:collection/><card:addressbook/></d:resourcetype>
        <card:addressbook-description>%s description</card:addressbook-description>
      </d:prop>
      <d:status>HTTP/1.1 200 OK</d:status>
    </d:propstat>
  </d:response>`, url, name, name)
}

func addressbookXML(url, name string) string {
	return `<?xml version="1.0"?>
<d:multistatus xmlns:d="DAV:" xmlns:card="urn:ietf:params:xml:ns:carddav">` +
		addressbookResponse(url, name) + `
</d:multistatus>`
}

func newTestStore(t *testing.T) (*storage.DB, *registry.Service) {
	t.Helper()
	db, err := storage.Open(filepath.Join(t.TempDir(), "davsync.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	service := &registry.Service{
		AccountName:  "alice",
		Type:         registry.ServiceCardDAV,
		PrincipalURL: alicePrincipal,
	}
	require.NoError(t, db.InsertService(service))
	return db, service
}

func fullServerMock(t *testing.T) *mockWrapper {
	return &mockWrapper{
		t: t,
		propfind: map[string]string{
			alicePrincipal: principalXML("/ab/alice/", teamPrincipal),
			teamPrincipal:  principalXML("/ab/team/"),
			aliceHome: homeSetXML(aliceHome, "Alice's books",
				map[string]string{defaultBook: "Contacts"}),
			teamHome: homeSetXML(teamHome, "Team books",
				map[string]string{sharedBook: "Shared"}),
		},
	}
}

func newTestRefresher(t *testing.T, db *storage.DB, http httpclient.Wrapper, notifier notify.Notifier, syncReq SyncRequester) *Refresher {
	t.Helper()
	r, err := NewRefresher(db, http, notifier, syncReq, testLogger())
	require.NoError(t, err)
	return r
}

func TestRefreshDiscoversHomeSetsAndCollections(t *testing.T) {
	db, service := newTestStore(t)
	http := fullServerMock(t)

	require.NoError(t, newTestRefresher(t, db, http, nil, nil).Refresh(service.ID, false))

	homeSets, err := db.HomeSetsByService(service.ID)
	require.NoError(t, err)
	require.Len(t, homeSets, 2)
	byURL := make(map[string]*registry.HomeSet)
	for _, h := range homeSets {
		byURL[h.URL] = h
	}
	require.Contains(t, byURL, aliceHome)
	require.Contains(t, byURL, teamHome)
	assert.True(t, byURL[aliceHome].Personal)
	assert.False(t, byURL[teamHome].Personal, "a home set reached through group membership is not personal")
	assert.Equal(t, "Alice's books", byURL[aliceHome].DisplayName)
	assert.True(t, byURL[aliceHome].PrivBind)

	collections, err := db.CollectionsByService(service.ID)
	require.NoError(t, err)
	require.Len(t, collections, 2)
	collByURL := make(map[string]*registry.Collection)
	for _, c := range collections {
		collByURL[c.URL] = c
	}
	require.Contains(t, collByURL, defaultBook)
	require.Contains(t, collByURL, sharedBook)
	assert.Equal(t, registry.TypeAddressBook, collByURL[defaultBook].Type)
	assert.Equal(t, "Contacts", collByURL[defaultBook].DisplayName)
	assert.Equal(t, "Contacts description", collByURL[defaultBook].Description)
	require.NotNil(t, collByURL[defaultBook].HomeSetID)
	assert.Equal(t, byURL[aliceHome].ID, *collByURL[defaultBook].HomeSetID)
	assert.False(t, collByURL[defaultBook].Sync, "new collections start deselected")
}

func TestRefreshIsIdempotent(t *testing.T) {
	db, service := newTestStore(t)
	http := fullServerMock(t)
	refresher := newTestRefresher(t, db, http, nil, nil)

	require.NoError(t, refresher.Refresh(service.ID, false))
	first, err := db.CollectionsByService(service.ID)
	require.NoError(t, err)

	require.NoError(t, refresher.Refresh(service.ID, false))
	second, err := db.CollectionsByService(service.ID)
	require.NoError(t, err)

	require.Equal(t, len(first), len(second))
	for i := range first {
		assert.Equal(t, first[i].ID, second[i].ID, "a stable collection keeps its row across refreshes")
		assert.Equal(t, first[i].URL, second[i].URL)
	}
}

func TestRefreshPreservesUserChoices(t *testing.T) {
	db, service := newTestStore(t)
	http := fullServerMock(t)
	refresher := newTestRefresher(t, db, http, nil, nil)

	require.NoError(t, refresher.Refresh(service.ID, false))
	require.NoError(t, db.SetCollectionSync(service.ID, defaultBook, true))
	require.NoError(t, db.SetCollectionForceReadOnly(service.ID, sharedBook, true))

	// the server renames the collection between refreshes
	http.propfind[aliceHome] = homeSetXML(aliceHome, "Alice's books",
		map[string]string{defaultBook: "Renamed Contacts"})
	require.NoError(t, refresher.Refresh(service.ID, false))

	collections, err := db.CollectionsByService(service.ID)
	require.NoError(t, err)
	byURL := make(map[string]*registry.Collection)
	for _, c := range collections {
		byURL[c.URL] = c
	}
	assert.Equal(t, "Renamed Contacts", byURL[defaultBook].DisplayName)
	assert.True(t, byURL[defaultBook].Sync, "the selection survives a metadata rewrite")
	assert.True(t, byURL[sharedBook].ForceReadOnly)
}

func TestRefreshRemovesGoneHomeSet(t *testing.T) {
	db, service := newTestStore(t)
	http := fullServerMock(t)
	refresher := newTestRefresher(t, db, http, nil, nil)
	require.NoError(t, refresher.Refresh(service.ID, false))

	// the team principal and its home set disappear; the shared book still
	// answers directly, so it survives as an orphan
	http.propfind[alicePrincipal] = principalXML("/ab/alice/")
	delete(http.propfind, teamHome)
	http.propfind[sharedBook] = addressbookXML(sharedBook, "Shared")
	require.NoError(t, refresher.Refresh(service.ID, false))

	homeSets, err := db.HomeSetsByService(service.ID)
	require.NoError(t, err)
	require.Len(t, homeSets, 1)
	assert.Equal(t, aliceHome, homeSets[0].URL)

	collections, err := db.CollectionsByService(service.ID)
	require.NoError(t, err)
	byURL := make(map[string]*registry.Collection)
	for _, c := range collections {
		byURL[c.URL] = c
	}
	require.Contains(t, byURL, sharedBook)
	assert.Nil(t, byURL[sharedBook].HomeSetID, "an orphaned collection loses its home set link")

	// once the orphan stops answering too, it is dropped
	delete(http.propfind, sharedBook)
	require.NoError(t, refresher.Refresh(service.ID, false))
	collections, err = db.CollectionsByService(service.ID)
	require.NoError(t, err)
	require.Len(t, collections, 1)
	assert.Equal(t, defaultBook, collections[0].URL)
}

func TestRefreshGuardsAgainstMembershipCycles(t *testing.T) {
	db, service := newTestStore(t)
	http := fullServerMock(t)
	// the account's principal lists itself as a group membership
	http.propfind[alicePrincipal] = principalXML("/ab/alice/", alicePrincipal, teamPrincipal)

	require.NoError(t, newTestRefresher(t, db, http, nil, nil).Refresh(service.ID, false))
	assert.Equal(t, 1, http.countCalls(alicePrincipal), "a principal is queried at most once per refresh")

	homeSets, err := db.HomeSetsByService(service.ID)
	require.NoError(t, err)
	assert.Len(t, homeSets, 2)
}

func TestRefreshSkipsInaccessibleRelatedPrincipal(t *testing.T) {
	db, service := newTestStore(t)
	http := fullServerMock(t)
	http.errors = map[string]error{
		teamPrincipal: &httpclient.HTTPError{StatusCode: 403, Status: "403 Forbidden"},
	}

	require.NoError(t, newTestRefresher(t, db, http, nil, nil).Refresh(service.ID, false))

	homeSets, err := db.HomeSetsByService(service.ID)
	require.NoError(t, err)
	require.Len(t, homeSets, 1)
	assert.Equal(t, aliceHome, homeSets[0].URL)
}

func TestRefreshRequestsSyncOnCountChange(t *testing.T) {
	db, service := newTestStore(t)
	http := fullServerMock(t)
	syncReq := &recordingSyncRequester{}
	refresher := newTestRefresher(t, db, http, nil, syncReq)

	require.NoError(t, refresher.Refresh(service.ID, false))
	assert.Equal(t, []string{"alice"}, syncReq.accounts, "new collections trigger a follow-up sync")

	require.NoError(t, refresher.Refresh(service.ID, false))
	assert.Len(t, syncReq.accounts, 1, "an unchanged collection count requests nothing")
}

func TestRefreshNotifiesOnFailure(t *testing.T) {
	tests := []struct {
		name      string
		automatic bool
		severity  notify.Severity
	}{
		{name: "manual run alerts", automatic: false, severity: notify.SeverityDefault},
		{name: "automatic run stays quiet", automatic: true, severity: notify.SeverityLow},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, service := newTestStore(t)
			http := &mockWrapper{
				t: t,
				errors: map[string]error{
					alicePrincipal: &httpclient.HTTPError{StatusCode: 500, Status: "500 Internal Server Error"},
				},
			}
			notifier := &recordingNotifier{}

			err := newTestRefresher(t, db, http, notifier, nil).Refresh(service.ID, tt.automatic)
			require.Error(t, err)
			require.Len(t, notifier.notes, 1)
			assert.Equal(t, tt.severity, notifier.notes[0].Severity)
			assert.Equal(t, "alice", notifier.notes[0].Account)
			assert.Contains(t, notifier.notes[0].Report, "refresh failure report")
		})
	}
}

func TestRefreshUnknownService(t *testing.T) {
	db, _ := newTestStore(t)
	err := newTestRefresher(t, db, &mockWrapper{t: t}, nil, nil).Refresh(999, false)
	assert.ErrorIs(t, err, registry.ErrNotFound)
}

func TestFindCurrentUserPrincipal(t *testing.T) {
	principalResponse := `<?xml version="1.0"?>
<d:multistatus xmlns:d="DAV:">
  <d:response>
    <d:href>/</d:href>
    <d:propstat>
      <d:prop>
        <d:current-user-principal><d:href>/principals/alice/</d:href></d:current-user-principal>
      </d:prop>
      <d:status>HTTP/1.1 200 OK</d:status>
    </d:propstat>
  </d:response>
</d:multistatus>`

	t.Run("configured URL answers directly", func(t *testing.T) {
		http := &mockWrapper{t: t, propfind: map[string]string{
			"https://x.test/dav/": principalResponse,
		}}
		principal, err := FindCurrentUserPrincipal(http, registry.ServiceCardDAV, "https://x.test/dav/")
		require.NoError(t, err)
		assert.Equal(t, alicePrincipal, principal)
	})

	t.Run("falls back to well-known", func(t *testing.T) {
		http := &mockWrapper{t: t, propfind: map[string]string{
			"https://x.test/.well-known/carddav": principalResponse,
		}}
		principal, err := FindCurrentUserPrincipal(http, registry.ServiceCardDAV, "https://x.test/dav/")
		require.NoError(t, err)
		assert.Equal(t, alicePrincipal, principal)
		assert.Contains(t, http.calls, "https://x.test/dav/")
	})

	t.Run("falls back to server root", func(t *testing.T) {
		http := &mockWrapper{t: t, propfind: map[string]string{
			"https://x.test/": principalResponse,
		}}
		principal, err := FindCurrentUserPrincipal(http, registry.ServiceCalDAV, "https://x.test/caldav/")
		require.NoError(t, err)
		assert.Equal(t, alicePrincipal, principal)
	})

	t.Run("nothing answers", func(t *testing.T) {
		http := &mockWrapper{t: t}
		_, err := FindCurrentUserPrincipal(http, registry.ServiceCardDAV, "https://x.test/dav/")
		assert.Error(t, err)
	})
}
