package syncer

import (
	"io"
	"log/slog"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/TBit-services/davsync/internal/davxml"
	"github.com/TBit-services/davsync/registry"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// Mock types for testing
type mockWrapper struct {
	doPropfind func(url string, depth int, props ...string) (*davxml.Multistatus, error)
	doReport   func(url string, depth int, body []byte) (*davxml.Multistatus, error)
	doPut      func(url, etag, contentType string, data []byte) (string, error)
	doDelete   func(url, etag string) error

	putCalls    []string
	deleteCalls []string
}

func (m *mockWrapper) DoPROPFIND(url string, depth int, props ...string) (*davxml.Multistatus, error) {
	if m.doPropfind != nil {
		return m.doPropfind(url, depth, props...)
	}
	return &davxml.Multistatus{}, nil
}

func (m *mockWrapper) DoREPORT(url string, depth int, body []byte) (*davxml.Multistatus, error) {
	if m.doReport != nil {
		return m.doReport(url, depth, body)
	}
	return &davxml.Multistatus{}, nil
}

func (m *mockWrapper) DoPUT(url string, etag string, contentType string, data []byte) (string, error) {
	m.putCalls = append(m.putCalls, url)
	if m.doPut != nil {
		return m.doPut(url, etag, contentType, data)
	}
	return `"put-etag"`, nil
}

func (m *mockWrapper) DoDELETE(url string, etag string) error {
	m.deleteCalls = append(m.deleteCalls, url)
	if m.doDelete != nil {
		return m.doDelete(url, etag)
	}
	return nil
}

func (m *mockWrapper) Resolve(href string) (string, error) {
	return href, nil
}

// memStore is an in-memory LocalStore keyed by scope, so tests can cover
// several logical collections sharing one remote URL.
type memStore struct {
	resources map[Scope]map[string]*LocalResource
	states    map[Scope]*registry.SyncState
}

func newMemStore() *memStore {
	return &memStore{
		resources: make(map[Scope]map[string]*LocalResource),
		states:    make(map[Scope]*registry.SyncState),
	}
}

func (s *memStore) All(scope Scope) ([]*LocalResource, error) {
	scoped := s.resources[scope]
	names := make([]string, 0, len(scoped))
	for name := range scoped {
		names = append(names, name)
	}
	sort.Strings(names)
	all := make([]*LocalResource, 0, len(names))
	for _, name := range names {
		all = append(all, scoped[name])
	}
	return all, nil
}

func (s *memStore) Find(scope Scope, fileName string) (*LocalResource, error) {
	return s.resources[scope][fileName], nil
}

func (s *memStore) Save(scope Scope, res *LocalResource) error {
	if s.resources[scope] == nil {
		s.resources[scope] = make(map[string]*LocalResource)
	}
	s.resources[scope][res.FileName] = res
	return nil
}

func (s *memStore) Delete(scope Scope, fileName string) error {
	delete(s.resources[scope], fileName)
	return nil
}

func (s *memStore) SyncState(scope Scope) (*registry.SyncState, error) {
	return s.states[scope], nil
}

func (s *memStore) SetSyncState(scope Scope, state *registry.SyncState) error {
	s.states[scope] = state
	return nil
}

func mustParseMultistatus(t *testing.T, body string) *davxml.Multistatus {
	t.Helper()
	ms, err := davxml.ParseMultistatus([]byte(body))
	require.NoError(t, err)
	return ms
}
