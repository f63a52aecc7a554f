// ABOUTME: Shared HTTP plumbing for automation-gateway messenger adapters.
// ABOUTME: Transport faults surface as retryable NETWORK_ERROR results, not errors.
package messenger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/leadpilot/leadpilot/internal/model"
)

// GatewayConfig holds the connection parameters for the automation gateway.
type GatewayConfig struct {
	BaseURL string
	Token   string
}

// gateway performs the send call for one platform. The gateway process owns
// the browser sessions and the human-simulation behaviour; this side is a
// plain request/response exchange.
type gateway struct {
	client   *http.Client
	cfg      GatewayConfig
	platform model.Platform
}

type gatewaySendRequest struct {
	Target      string            `json:"target"`
	Content     string            `json:"content"`
	MessageType model.MessageType `json:"message_type"`
}

type gatewaySendResponse struct {
	Success   bool           `json:"success"`
	MessageID string         `json:"message_id"`
	Metadata  map[string]any `json:"metadata"`
	Error     string         `json:"error"`
	Retryable bool           `json:"retryable"`
}

// send posts the payload to /v1/{platform}/send and interprets the response.
// Transport-level failures (connection refused, deadline exceeded) are
// delivery outcomes the dispatcher should retry, so they come back as a
// NETWORK_ERROR result rather than an error. A non-nil error is reserved for
// responses the adapter cannot interpret at all.
func (g *gateway) send(ctx context.Context, target, content string, messageType model.MessageType) (*Result, error) {
	body, err := json.Marshal(gatewaySendRequest{
		Target:      target,
		Content:     content,
		MessageType: messageType,
	})
	if err != nil {
		return nil, fmt.Errorf("%s gateway: marshal request: %w", g.platform, err)
	}

	url := fmt.Sprintf("%s/v1/%s/send", g.cfg.BaseURL, g.platform)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%s gateway: build request: %w", g.platform, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if g.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+g.cfg.Token)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return &Result{
			Success:   false,
			ErrorCode: CodeNetworkError,
			Retryable: true,
		}, nil
	}
	defer resp.Body.Close() //nolint:errcheck

	// 64 KiB is far beyond any legitimate gateway response.
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return nil, fmt.Errorf("%s gateway: read response: %w", g.platform, err)
	}

	var out gatewaySendResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("%s gateway: unexpected status %d: %w", g.platform, resp.StatusCode, err)
	}

	if out.Success {
		return &Result{
			Success:   true,
			MessageID: out.MessageID,
			Metadata:  out.Metadata,
		}, nil
	}
	if out.Error == "" {
		return nil, fmt.Errorf("%s gateway: status %d with empty error code", g.platform, resp.StatusCode)
	}
	return &Result{
		Success:   false,
		ErrorCode: out.Error,
		Retryable: Retryable(out.Error, out.Retryable),
	}, nil
}
