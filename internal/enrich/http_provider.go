// ABOUTME: HTTP enrichment provider: posts the lead's profile URL to the
// ABOUTME: enrichment API and decodes company/title/confidence/credits.
package enrich

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/leadpilot/leadpilot/internal/model"
)

// HTTPProvider calls an external enrichment API. The injected client should
// be the safeurl-wrapped production client.
type HTTPProvider struct {
	client  *http.Client
	baseURL string
	token   string
}

// NewHTTPProvider creates an HTTPProvider.
func NewHTTPProvider(client *http.Client, baseURL, token string) *HTTPProvider {
	return &HTTPProvider{client: client, baseURL: baseURL, token: token}
}

type enrichRequest struct {
	ProfileURL string `json:"profile_url"`
	Platform   string `json:"platform"`
	FullName   string `json:"full_name"`
}

type enrichResponse struct {
	Company         string  `json:"company"`
	Title           string  `json:"title"`
	ConfidenceScore float64 `json:"confidence_score"`
	CreditsUsed     int     `json:"credits_used"`
}

// Enrich resolves enrichment data for lead.
func (p *HTTPProvider) Enrich(ctx context.Context, lead *model.Lead) (*Enrichment, error) {
	body, err := json.Marshal(enrichRequest{
		ProfileURL: lead.ProfileURL,
		Platform:   string(lead.Platform),
		FullName:   lead.FullName,
	})
	if err != nil {
		return nil, fmt.Errorf("enrich provider: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/enrich", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("enrich provider: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.token != "" {
		req.Header.Set("Authorization", "Bearer "+p.token)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("enrich provider: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return nil, fmt.Errorf("enrich provider: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("enrich provider: unexpected status %d", resp.StatusCode)
	}

	var out enrichResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("enrich provider: decode response: %w", err)
	}
	return &Enrichment{
		Company:         out.Company,
		Title:           out.Title,
		ConfidenceScore: out.ConfidenceScore,
		CreditsUsed:     out.CreditsUsed,
	}, nil
}
