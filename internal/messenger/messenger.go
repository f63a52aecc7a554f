// Package messenger is the capability boundary for platform-specific message
// delivery. Each platform gets one Messenger implementation; callers select a
// variant through the Registry and never branch on platform beyond that.
//
// The actual human-simulation browser automation lives behind the automation
// gateway; the adapters here are thin HTTP clients over it.
package messenger

import (
	"context"
	"fmt"

	"github.com/leadpilot/leadpilot/internal/model"
)

// Result is the outcome of one send attempt. Exactly one of the success and
// failure field groups is meaningful: MessageID/Metadata on success,
// ErrorCode/Retryable on reported failure.
type Result struct {
	Success   bool           `json:"success"`
	MessageID string         `json:"message_id,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	ErrorCode string         `json:"error,omitempty"`
	Retryable bool           `json:"retryable,omitempty"`
}

// Messenger sends one message to a target profile on a single platform.
// Implementations are stateless and safe for concurrent use from any worker.
// A non-nil error means the adapter itself failed (infrastructure fault);
// a delivery refusal by the platform comes back as a Result with Success=false.
type Messenger interface {
	Send(ctx context.Context, target, content string, messageType model.MessageType) (*Result, error)
}

// Registry maps platforms to their Messenger variant. Built once at startup;
// read-only afterwards, so no synchronization is needed.
type Registry struct {
	messengers map[model.Platform]Messenger
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{messengers: make(map[model.Platform]Messenger)}
}

// Register binds m as the variant for platform, replacing any previous binding.
func (r *Registry) Register(platform model.Platform, m Messenger) {
	r.messengers[platform] = m
}

// For returns the Messenger for platform or an error when no variant is bound.
func (r *Registry) For(platform model.Platform) (Messenger, error) {
	m, ok := r.messengers[platform]
	if !ok {
		return nil, fmt.Errorf("no messenger registered for platform %q", platform)
	}
	return m, nil
}
