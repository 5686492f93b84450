package retrieval

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/lokutor-ai/lokutor-orchestrator/pkg/providers"
)

// HTTPRetriever queries a JSON retrieval endpoint over HTTP, mirroring the
// request/response shape of pkg/providers/llm's REST adapters.
type HTTPRetriever struct {
	url        string
	apiKey     string
	httpClient *http.Client
}

// NewHTTPRetriever returns an HTTPRetriever posting queries to url.
// client may be nil, in which case the pooled client shared by the
// provider adapters is used.
func NewHTTPRetriever(url, apiKey string, client *http.Client) *HTTPRetriever {
	if client == nil {
		client = providers.HTTPClient
	}
	return &HTTPRetriever{url: url, apiKey: apiKey, httpClient: client}
}

type httpRetrieveRequest struct {
	Query string `json:"query"`
	TopK  int    `json:"top_k"`
}

type httpRetrieveResponse struct {
	Results []struct {
		Source string  `json:"source"`
		Text   string  `json:"text"`
		Score  float64 `json:"score"`
	} `json:"results"`
}

func (r *HTTPRetriever) Retrieve(ctx context.Context, query string, topK int) ([]Context, error) {
	body, err := json.Marshal(httpRetrieveRequest{Query: query, TopK: topK})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", r.url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if r.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+r.apiKey)
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var errResp interface{}
		json.NewDecoder(resp.Body).Decode(&errResp)
		return nil, fmt.Errorf("retrieval error (status %d): %v", resp.StatusCode, errResp)
	}

	var parsed httpRetrieveResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, err
	}

	out := make([]Context, 0, len(parsed.Results))
	for _, res := range parsed.Results {
		out = append(out, Context{Source: res.Source, Text: res.Text, Score: res.Score})
	}
	return out, nil
}

func (r *HTTPRetriever) Name() string { return "http-retrieval" }
