package discovery

import (
	"fmt"
	"net/url"

	"github.com/TBit-services/davsync/internal/httpclient"
	"github.com/TBit-services/davsync/registry"
)

// FindCurrentUserPrincipal locates the current-user-principal for a service,
// trying the configured location first, then the protocol's well-known path,
// then the server root. DNS-based discovery is not attempted.
func FindCurrentUserPrincipal(client httpclient.Wrapper, serviceType registry.ServiceType, location string) (string, error) {
	base, err := url.Parse(location)
	if err != nil {
		return "", fmt.Errorf("invalid service URL %s: %w", location, err)
	}
	if base.Scheme == "" || base.Host == "" {
		return "", fmt.Errorf("service URL %s must be absolute", location)
	}

	// the well-known path and the final fallback live at the server root,
	// not under the configured path
	root := url.URL{Scheme: base.Scheme, Host: base.Host, Path: "/"}

	var candidates []string
	if base.Path != "" && base.Path != "/" {
		candidates = append(candidates, base.String())
	}
	candidates = append(candidates,
		root.JoinPath(".well-known", wellKnownPath(serviceType)).String(),
		root.String())

	for _, candidate := range candidates {
		ms, err := client.DoPROPFIND(candidate, 0, "current-user-principal")
		if err != nil {
			if httpclient.IsClientError(err) {
				continue
			}
			return "", fmt.Errorf("failed to query %s: %w", candidate, err)
		}
		for _, resp := range ms.Responses {
			if href, ok := resp.Props.Href("current-user-principal").Get(); ok && href != "" {
				principal, err := httpclient.ResolveHref(candidate, href)
				if err != nil {
					continue
				}
				return principal, nil
			}
		}
	}
	return "", fmt.Errorf("no current-user-principal found at %s", location)
}

func wellKnownPath(t registry.ServiceType) string {
	if t == registry.ServiceCardDAV {
		return "carddav"
	}
	return "caldav"
}
