package httpclient

import (
	"bytes"
	"fmt"
	"io"
	"net/http"

	"github.com/TBit-services/davsync/internal/davxml"
)

// DoREPORT executes a CalDAV/CardDAV REPORT request with a prepared body
// and parses the multistatus response.
func (c *httpClientWrapper) DoREPORT(urlStr string, depth int, body []byte) (*davxml.Multistatus, error) {
	c.logger.Debug("starting REPORT request",
		"url", urlStr,
		"depth", depth,
		"body_length", len(body))

	resolvedURL, err := c.resolveURL(urlStr)
	if err != nil {
		c.logger.Debug("failed to resolve URL", "url", urlStr, "error", err)
		return nil, fmt.Errorf("failed to resolve URL %q: %w", urlStr, err)
	}

	req, err := http.NewRequest("REPORT", resolvedURL.String(), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/xml; charset=utf-8")
	req.Header.Set("Depth", fmt.Sprintf("%d", depth))

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

	c.logger.Debug("REPORT request complete", "response_count", len(ms.Responses))
	return ms, nil
}

func parseMultistatusBody(resp *http.Response) (*davxml.Multistatus, error) {
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	ms, err := davxml.ParseMultistatus(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to parse multistatus response: %w", err)
	}
	return ms, nil
}
