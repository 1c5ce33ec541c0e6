// Package httpclient wraps an http.Client with the WebDAV verbs the
// discovery and sync engines need. HTTP-level failures are surfaced as
// *HTTPError so callers can distinguish them from transport I/O failures.
package httpclient

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/TBit-services/davsync/internal/davxml"
)

// Wrapper is the DAV transport contract consumed by the engines.
type Wrapper interface {
	DoPROPFIND(url string, depth int, props ...string) (*davxml.Multistatus, error)
	DoREPORT(url string, depth int, body []byte) (*davxml.Multistatus, error)
	// DoPUT uploads data. An empty etag means "create new" (If-None-Match: *),
	// a non-empty etag is sent as an If-Match precondition.
	DoPUT(url string, etag string, contentType string, data []byte) (newEtag string, err error)
	DoDELETE(url string, etag string) error
	// Resolve resolves a server-returned href against the wrapper's base URL.
	Resolve(href string) (string, error)
}

type httpClientWrapper struct {
	client  *http.Client
	baseURL url.URL
	logger  *slog.Logger
}

// NewWrapper creates a new client wrapper. The logger is required.
func NewWrapper(client *http.Client, baseURL url.URL, logger *slog.Logger) (Wrapper, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	return &httpClientWrapper{client: client, baseURL: baseURL, logger: logger}, nil
}

// resolveURL resolves a URL string against the base URL.
func (c *httpClientWrapper) resolveURL(urlStr string) (*url.URL, error) {
	ref, err := url.Parse(urlStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse URL %q: %w", urlStr, err)
	}
	return c.baseURL.ResolveReference(ref), nil
}

func (c *httpClientWrapper) Resolve(href string) (string, error) {
	u, err := c.resolveURL(href)
	if err != nil {
		return "", err
	}
	return u.String(), nil
}

// ResolveHref resolves a href against the URL the response came from.
func ResolveHref(responseURL, href string) (string, error) {
	base, err := url.Parse(responseURL)
	if err != nil {
		return "", fmt.Errorf("failed to parse base URL %q: %w", responseURL, err)
	}
	ref, err := url.Parse(href)
	if err != nil {
		return "", fmt.Errorf("failed to parse href %q: %w", href, err)
	}
	return base.ResolveReference(ref).String(), nil
}

// NormalizeCollectionURL brings a collection or home-set URL into its
// canonical trailing-slash form so URLs compare equal across servers that
// report them inconsistently.
func NormalizeCollectionURL(urlStr string) string {
	if !strings.HasSuffix(urlStr, "/") {
		return urlStr + "/"
	}
	return urlStr
}

// LastPathSegment returns the last path segment of a URL, the usual member
// file name inside a collection.
func LastPathSegment(urlStr string) string {
	trimmed := strings.TrimSuffix(urlStr, "/")
	if idx := strings.LastIndex(trimmed, "/"); idx >= 0 {
		return trimmed[idx+1:]
	}
	return trimmed
}
