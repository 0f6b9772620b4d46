package proxy

import "net/http"

// Hop-by-hop headers that must not be forwarded.
var hopByHopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailers",
	"Transfer-Encoding",
	"Upgrade",
}

func copyHeaders(dst, src http.Header) {
	for k, vv := range src {
		for _, v := range vv {
			dst.Add(k, v)
		}
	}
}

func stripHopByHop(h http.Header) {
	for _, key := range hopByHopHeaders {
		h.Del(key)
	}
}

func prepareUpstreamHeaders(original http.Header, apiKey, version string) http.Header {
	h := make(http.Header)
	copyHeaders(h, original)
	stripHopByHop(h)

	h.Del("Host")

	// Inject the key only when the client sent no credentials of its own
	if apiKey != "" && h.Get("X-Api-Key") == "" && h.Get("Authorization") == "" {
		h.Set("X-Api-Key", apiKey)
	}
	if version != "" && h.Get("Anthropic-Version") == "" {
		h.Set("Anthropic-Version", version)
	}

	// Remove accept-encoding to get uncompressed responses for SSE parsing
	h.Del("Accept-Encoding")

	return h
}

func prepareClientHeaders(upstream http.Header) http.Header {
	h := make(http.Header)
	copyHeaders(h, upstream)
	stripHopByHop(h)
	// Remove content-encoding since we stripped accept-encoding upstream
	h.Del("Content-Encoding")
	h.Del("Content-Length") // will be set by http.ResponseWriter
	return h
}
