// Package lexical queries the keyword search sidecar that BM25-indexes
// incident reports and runbooks.
package lexical

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"incident-orchestrator/internal/domain"
)

type searchResponse struct {
	Query string      `json:"query"`
	Hits  []searchHit `json:"hits"`
}

type searchHit struct {
	ID      string  `json:"id"`
	Title   string  `json:"title"`
	Source  string  `json:"source"`
	Content string  `json:"content"`
	Score   float64 `json:"score"`
}

// IndexerClient calls the search indexer's HTTP API.
type IndexerClient struct {
	BaseURL string
	Client  *http.Client
}

// NewIndexerClient constructs a client for the given indexer endpoint.
func NewIndexerClient(baseURL string, client *http.Client) *IndexerClient {
	return &IndexerClient{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Client:  client,
	}
}

func (c *IndexerClient) Search(ctx context.Context, query string, topK int) ([]domain.Document, error) {
	u, err := url.Parse(c.BaseURL + "/v1/search")
	if err != nil {
		return nil, fmt.Errorf("invalid indexer url: %w", err)
	}
	q := u.Query()
	q.Set("q", query)
	q.Set("limit", strconv.Itoa(topK))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create search request: %w", err)
	}

	resp, err := c.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search indexer returned status: %d", resp.StatusCode)
	}

	var sResp searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&sResp); err != nil {
		return nil, fmt.Errorf("failed to decode search response: %w", err)
	}

	docs := make([]domain.Document, 0, len(sResp.Hits))
	for _, h := range sResp.Hits {
		docs = append(docs, domain.Document{
			Content: h.Content,
			Metadata: map[string]any{
				"id":     h.ID,
				"title":  h.Title,
				"source": h.Source,
				"score":  h.Score,
			},
		})
	}
	return docs, nil
}

var _ domain.LexicalSearcher = (*IndexerClient)(nil)
