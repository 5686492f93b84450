// Package providers holds the HTTP plumbing shared by every provider
// adapter. Adapters in the llm, stt and tts subpackages all talk to
// their vendors through HTTPClient, one connection-pooled client built
// here and passed nowhere else, so concurrent sessions reuse keep-alive
// connections instead of each dialing fresh.
package providers

import (
	"net/http"
	"time"
)

// HTTPClient is the pooled client used by every HTTP-based adapter.
// Per-request deadlines come from the caller's context, so the client
// itself carries no timeout.
var HTTPClient = &http.Client{
	Transport: &http.Transport{
		MaxIdleConns:        64,
		MaxIdleConnsPerHost: 8,
		IdleConnTimeout:     90 * time.Second,
	},
}
