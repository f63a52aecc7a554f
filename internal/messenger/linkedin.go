package messenger

import (
	"context"
	"net/http"

	"github.com/leadpilot/leadpilot/internal/model"
)

// LinkedIn delivers connection requests and DMs through the LinkedIn
// automation gateway sessions.
type LinkedIn struct {
	gw gateway
}

// NewLinkedIn creates the LinkedIn messenger. client should be the production
// safeurl-wrapped client from BuildSafeClient.
func NewLinkedIn(client *http.Client, cfg GatewayConfig) *LinkedIn {
	return &LinkedIn{gw: gateway{client: client, cfg: cfg, platform: model.PlatformLinkedIn}}
}

// Send delivers one message to the target profile URL.
func (l *LinkedIn) Send(ctx context.Context, target, content string, messageType model.MessageType) (*Result, error) {
	return l.gw.send(ctx, target, content, messageType)
}
