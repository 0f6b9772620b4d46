package proxy

import (
	"fmt"
	"net/url"
	"strings"
)

// parseUpstream validates the configured API base URL once, at startup.
func parseUpstream(baseURL string) (*url.URL, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse upstream url %q: %w", baseURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("upstream url %q: scheme must be http or https", baseURL)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("upstream url %q: missing host", baseURL)
	}
	if u.RawQuery != "" || u.Fragment != "" {
		return nil, fmt.Errorf("upstream url %q: must not carry a query or fragment", baseURL)
	}
	return u, nil
}

// targetURL maps a proxied request path onto the upstream, keeping any base
// path prefix (e.g. a gateway mounted under /anthropic).
func targetURL(upstream *url.URL, path, rawQuery string) string {
	u := *upstream
	u.Path = strings.TrimRight(upstream.Path, "/") + path
	u.RawPath = ""
	u.RawQuery = rawQuery
	return u.String()
}
