// Package llm contains the language-model adapters. Each vendor gets
// one batch adapter (Complete) and, where the vendor streams, a
// StreamComplete implementation over its server-sent-events wire
// format. All of them share the pooled HTTP client from pkg/providers.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// postJSON marshals payload and issues a POST through client with the
// given headers. Callers own closing the response body.
func postJSON(ctx context.Context, client *http.Client, url string, headers map[string]string, payload interface{}) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	return client.Do(req)
}

// vendorError drains a non-200 response into an error that carries the
// vendor's own diagnostic payload.
func vendorError(vendor string, resp *http.Response) error {
	var detail interface{}
	json.NewDecoder(resp.Body).Decode(&detail)
	return fmt.Errorf("%s completion failed (status %d): %v", vendor, resp.StatusCode, detail)
}
