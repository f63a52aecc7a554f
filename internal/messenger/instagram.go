package messenger

import (
	"context"
	"net/http"

	"github.com/leadpilot/leadpilot/internal/model"
)

// Instagram delivers DMs through the Instagram automation gateway sessions.
// Instagram has no connection-request primitive; the gateway maps
// connection_request to a follow-plus-DM flow.
type Instagram struct {
	gw gateway
}

// NewInstagram creates the Instagram messenger.
func NewInstagram(client *http.Client, cfg GatewayConfig) *Instagram {
	return &Instagram{gw: gateway{client: client, cfg: cfg, platform: model.PlatformInstagram}}
}

// Send delivers one message to the target profile URL.
func (i *Instagram) Send(ctx context.Context, target, content string, messageType model.MessageType) (*Result, error) {
	return i.gw.send(ctx, target, content, messageType)
}
