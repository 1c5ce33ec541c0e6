package httpclient

import (
	"bytes"
	"fmt"
	"net/http"

	"github.com/TBit-services/davsync/internal/davxml"
)

// DoPROPFIND performs a PROPFIND request and parses the multistatus body.
func (c *httpClientWrapper) DoPROPFIND(urlStr string, depth int, props ...string) (*davxml.Multistatus, error) {
	c.logger.Debug("starting PROPFIND request",
		"url", urlStr,
		"depth", depth,
		"properties", props)

	body, err := davxml.Propfind(props...)
	if err != nil {
		return nil, fmt.Errorf("failed to build PROPFIND body: %w", err)
	}

	resolvedURL, err := c.resolveURL(urlStr)
	if err != nil {
		c.logger.Debug("failed to resolve URL", "url", urlStr, "error", err)
		return nil, fmt.Errorf("failed to resolve URL %q: %w", urlStr, err)
	}

	req, err := http.NewRequest("PROPFIND", resolvedURL.String(), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Depth", fmt.Sprintf("%d", depth))
	req.Header.Set("Content-Type", "application/xml; charset=utf-8")

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Debug("request failed", "error", err)
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusMultiStatus {
		c.logger.Debug("unexpected response status",
			"status_code", resp.StatusCode,
			"status", resp.Status)
		return nil, errorFromResponse(resp)
	}

	ms, err := parseMultistatusBody(resp)
	if err != nil {
		c.logger.Debug("failed to parse multistatus response", "error", err)
		return nil, err
	}

	c.logger.Debug("PROPFIND request complete", "response_count", len(ms.Responses))
	return ms, nil
}
