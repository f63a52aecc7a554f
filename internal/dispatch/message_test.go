// ABOUTME: State-machine tests for message job handling, using an in-memory
// ABOUTME: store and a scripted messenger. No database required.
package dispatch_test

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/leadpilot/leadpilot/internal/dispatch"
	"github.com/leadpilot/leadpilot/internal/enrich"
	"github.com/leadpilot/leadpilot/internal/messenger"
	"github.com/leadpilot/leadpilot/internal/model"
	"github.com/leadpilot/leadpilot/internal/store"
)

// fakeStore implements dispatch.Store in memory.
type fakeStore struct {
	mu sync.Mutex

	item  *model.MessageQueueItem
	lead  *model.Lead
	agent *model.Agent

	status       model.MessageStatus
	lastError    string
	sentMetadata map[string]any
	requeueDelay time.Duration

	markProcessingErr error
	markSentErr       error

	enrichedCompany    string
	enrichedTitle      string
	enrichedConfidence float64
	enrichCalls        int
}

func (f *fakeStore) MarkMessageProcessing(_ context.Context, id uuid.UUID) (*model.MessageQueueItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.markProcessingErr != nil {
		return nil, f.markProcessingErr
	}
	if f.item == nil || f.item.ID != id || f.item.Status.Terminal() || f.item.Status == model.MessageStatusProcessing {
		return nil, nil
	}
	f.item.Status = model.MessageStatusProcessing
	f.status = model.MessageStatusProcessing
	cp := *f.item
	return &cp, nil
}

func (f *fakeStore) MarkMessageSent(_ context.Context, id uuid.UUID, metadata map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.markSentErr != nil {
		return f.markSentErr
	}
	f.status = model.MessageStatusSent
	f.item.Status = model.MessageStatusSent
	f.sentMetadata = metadata
	return nil
}

func (f *fakeStore) MarkMessageFailed(_ context.Context, id uuid.UUID, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status = model.MessageStatusFailed
	f.item.Status = model.MessageStatusFailed
	f.item.Attempts++
	f.lastError = reason
	return nil
}

func (f *fakeStore) RequeueMessage(_ context.Context, id uuid.UUID, reason string, retryAfter time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status = model.MessageStatusQueued
	f.item.Status = model.MessageStatusQueued
	f.item.Attempts++
	f.lastError = reason
	f.requeueDelay = retryAfter
	return nil
}

func (f *fakeStore) GetLead(_ context.Context, id, workspaceID uuid.UUID) (*model.Lead, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.lead == nil || f.lead.ID != id || f.lead.WorkspaceID != workspaceID {
		return nil, store.ErrNotFound
	}
	cp := *f.lead
	return &cp, nil
}

func (f *fakeStore) GetAgent(_ context.Context, id, workspaceID uuid.UUID) (*model.Agent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.agent == nil || f.agent.ID != id || f.agent.WorkspaceID != workspaceID {
		return nil, store.ErrNotFound
	}
	cp := *f.agent
	return &cp, nil
}

func (f *fakeStore) UpdateLeadEnrichment(_ context.Context, id uuid.UUID, company, title string, confidence float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enrichCalls++
	f.enrichedCompany = company
	f.enrichedTitle = title
	f.enrichedConfidence = confidence
	now := time.Now()
	f.lead.EnrichedAt = &now
	return nil
}

// fakeMessenger returns a scripted result and counts invocations.
type fakeMessenger struct {
	mu     sync.Mutex
	result *messenger.Result
	err    error
	calls  int
	target string
}

func (m *fakeMessenger) Send(_ context.Context, target, content string, _ model.MessageType) (*messenger.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	m.target = target
	if m.err != nil {
		return nil, m.err
	}
	return m.result, nil
}

// fixture builds a store holding one queued message with resolvable lead and
// agent, plus the job carrying its payload.
func fixture(t *testing.T) (*fakeStore, *store.Job, model.MessageJobData) {
	t.Helper()
	workspaceID := uuid.New()
	lead := &model.Lead{
		ID:          uuid.New(),
		WorkspaceID: workspaceID,
		FullName:    "Grace Hopper",
		ProfileURL:  "https://www.linkedin.com/in/grace-hopper",
		Platform:    model.PlatformLinkedIn,
	}
	agent := &model.Agent{
		ID:          uuid.New(),
		WorkspaceID: workspaceID,
		DisplayName: "SDR One",
		Platform:    model.PlatformLinkedIn,
		AccountID:   "li-acct-1",
		Active:      true,
	}
	item := &model.MessageQueueItem{
		ID:          uuid.New(),
		WorkspaceID: workspaceID,
		LeadID:      lead.ID,
		AgentID:     agent.ID,
		Platform:    model.PlatformLinkedIn,
		MessageType: model.MessageTypeConnectionRequest,
		Content:     "Hello!",
		Status:      model.MessageStatusQueued,
	}
	data := model.MessageJobData{
		MessageQueueID: item.ID,
		Platform:       item.Platform,
		MessageType:    item.MessageType,
		Content:        item.Content,
		LeadID:         lead.ID,
		AgentID:        agent.ID,
		WorkspaceID:    workspaceID,
	}
	payload, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	job := &store.Job{
		ID:      uuid.New(),
		Queue:   model.QueueMessaging,
		JobKey:  model.SendJobKey(item.ID),
		Payload: payload,
	}
	return &fakeStore{item: item, lead: lead, agent: agent}, job, data
}

func newDispatcher(st dispatch.Store, m messenger.Messenger) *dispatch.Dispatcher {
	reg := messenger.NewRegistry()
	if m != nil {
		reg.Register(model.PlatformLinkedIn, m)
	}
	return dispatch.New(st, reg, enrich.Provider(nil), dispatch.Config{
		MaxMessageAttempts: 5,
		RetryBase:          time.Minute,
	})
}

func decodeResult(t *testing.T, raw json.RawMessage) model.MessageJobResult {
	t.Helper()
	var r model.MessageJobResult
	if err := json.Unmarshal(raw, &r); err != nil {
		t.Fatalf("decode job result: %v", err)
	}
	return r
}

func TestHandleMessageSuccess(t *testing.T) {
	t.Parallel()
	st, job, _ := fixture(t)
	m := &fakeMessenger{result: &messenger.Result{
		Success:   true,
		MessageID: "li-msg-123",
		Metadata:  map[string]any{"thread_id": "th-9"},
	}}

	raw, err := newDispatcher(st, m).HandleMessage(context.Background(), job)
	if err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}

	if st.status != model.MessageStatusSent {
		t.Errorf("status = %s, want sent", st.status)
	}
	if got := st.sentMetadata["message_id"]; got != "li-msg-123" {
		t.Errorf("metadata message_id = %v, want li-msg-123", got)
	}
	if got := st.sentMetadata["thread_id"]; got != "th-9" {
		t.Errorf("metadata thread_id = %v, want th-9", got)
	}

	res := decodeResult(t, raw)
	if !res.Success || res.Status != model.MessageStatusSent || res.MessageID != "li-msg-123" {
		t.Errorf("result = %+v, want success/sent/li-msg-123", res)
	}
}

func TestHandleMessageUsesLeadURLWhenPayloadOmitsTarget(t *testing.T) {
	t.Parallel()
	st, job, _ := fixture(t)
	m := &fakeMessenger{result: &messenger.Result{Success: true, MessageID: "x"}}

	if _, err := newDispatcher(st, m).HandleMessage(context.Background(), job); err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	if m.target != st.lead.ProfileURL {
		t.Errorf("send target = %q, want lead profile URL %q", m.target, st.lead.ProfileURL)
	}
}

func TestHandleMessageRetryableRequeues(t *testing.T) {
	t.Parallel()
	st, job, data := fixture(t)
	m := &fakeMessenger{result: &messenger.Result{
		ErrorCode: messenger.CodeRateLimited,
		Retryable: true,
	}}

	raw, err := newDispatcher(st, m).HandleMessage(context.Background(), job)
	if err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}

	if st.status != model.MessageStatusQueued {
		t.Errorf("status = %s, want queued", st.status)
	}
	if st.item.Attempts != 1 {
		t.Errorf("attempts = %d, want 1", st.item.Attempts)
	}
	if st.requeueDelay != time.Minute {
		t.Errorf("requeue delay = %s, want 1m", st.requeueDelay)
	}

	res := decodeResult(t, raw)
	if res.Status != model.MessageStatusQueued || res.ErrorCode != messenger.CodeRateLimited {
		t.Errorf("result = %+v, want queued/RATE_LIMITED", res)
	}
	if res.LeadID != data.LeadID {
		t.Errorf("result lead = %s, want %s", res.LeadID, data.LeadID)
	}
}

func TestHandleMessageRetryDelayDoubles(t *testing.T) {
	t.Parallel()
	for _, tc := range []struct {
		attempts int32
		want     time.Duration
	}{
		{0, time.Minute},
		{1, 2 * time.Minute},
		{2, 4 * time.Minute},
		{3, 8 * time.Minute},
	} {
		st, job, _ := fixture(t)
		st.item.Attempts = tc.attempts
		m := &fakeMessenger{result: &messenger.Result{
			ErrorCode: messenger.CodeTimeout,
			Retryable: true,
		}}
		if _, err := newDispatcher(st, m).HandleMessage(context.Background(), job); err != nil {
			t.Fatalf("attempts=%d: %v", tc.attempts, err)
		}
		if st.requeueDelay != tc.want {
			t.Errorf("attempts=%d: delay = %s, want %s", tc.attempts, st.requeueDelay, tc.want)
		}
	}
}

func TestHandleMessageRetryBudgetExhausted(t *testing.T) {
	t.Parallel()
	st, job, _ := fixture(t)
	st.item.Attempts = 4 // next attempt would reach the bound of 5
	m := &fakeMessenger{result: &messenger.Result{
		ErrorCode: messenger.CodeRateLimited,
		Retryable: true,
	}}

	raw, err := newDispatcher(st, m).HandleMessage(context.Background(), job)
	if err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	if st.status != model.MessageStatusFailed {
		t.Errorf("status = %s, want failed (budget exhausted)", st.status)
	}
	if res := decodeResult(t, raw); res.Status != model.MessageStatusFailed {
		t.Errorf("result status = %s, want failed", res.Status)
	}
}

func TestHandleMessageAccountBlockedFailsTerminally(t *testing.T) {
	t.Parallel()
	st, job, _ := fixture(t)
	m := &fakeMessenger{result: &messenger.Result{
		ErrorCode: messenger.CodeAccountBlocked,
	}}

	raw, err := newDispatcher(st, m).HandleMessage(context.Background(), job)
	if err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	if st.status != model.MessageStatusFailed {
		t.Errorf("status = %s, want failed", st.status)
	}
	if st.item.Attempts != 1 {
		t.Errorf("attempts = %d, want 1", st.item.Attempts)
	}
	if st.lastError != messenger.CodeAccountBlocked {
		t.Errorf("last error = %q, want ACCOUNT_BLOCKED", st.lastError)
	}
	if res := decodeResult(t, raw); res.Status != model.MessageStatusFailed {
		t.Errorf("result status = %s, want failed", res.Status)
	}
}

func TestHandleMessagePrivateAccountFailsTerminally(t *testing.T) {
	t.Parallel()
	st, job, data := fixture(t)

	// Private accounts are an Instagram concern; route through that adapter.
	st.lead.Platform = model.PlatformInstagram
	st.agent.Platform = model.PlatformInstagram
	st.item.Platform = model.PlatformInstagram
	data.Platform = model.PlatformInstagram
	payload, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	job.Payload = payload

	m := &fakeMessenger{result: &messenger.Result{
		ErrorCode: messenger.CodePrivateAccount,
	}}
	reg := messenger.NewRegistry()
	reg.Register(model.PlatformInstagram, m)
	d := dispatch.New(st, reg, enrich.Provider(nil), dispatch.Config{
		MaxMessageAttempts: 5,
		RetryBase:          time.Minute,
	})

	if _, err := d.HandleMessage(context.Background(), job); err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	if m.calls != 1 {
		t.Errorf("messenger called %d times, want 1", m.calls)
	}
	if st.status != model.MessageStatusFailed {
		t.Errorf("status = %s, want failed", st.status)
	}
	if st.lastError != messenger.CodePrivateAccount {
		t.Errorf("last error = %q, want PRIVATE_ACCOUNT", st.lastError)
	}
}

func TestHandleMessageLeadMissing(t *testing.T) {
	t.Parallel()
	st, job, data := fixture(t)
	st.lead = nil
	m := &fakeMessenger{result: &messenger.Result{Success: true}}

	raw, err := newDispatcher(st, m).HandleMessage(context.Background(), job)
	if err != nil {
		t.Fatalf("HandleMessage: %v (validation failures must not retry)", err)
	}
	if m.calls != 0 {
		t.Errorf("messenger called %d times, want 0", m.calls)
	}
	if st.status != model.MessageStatusFailed {
		t.Errorf("status = %s, want failed", st.status)
	}
	want := "Lead not found: " + data.LeadID.String()
	if st.lastError != want {
		t.Errorf("last error = %q, want %q", st.lastError, want)
	}
	if res := decodeResult(t, raw); res.ErrorCode != want {
		t.Errorf("result error = %q, want %q", res.ErrorCode, want)
	}
}

func TestHandleMessageAgentMissing(t *testing.T) {
	t.Parallel()
	st, job, data := fixture(t)
	st.agent = nil
	m := &fakeMessenger{result: &messenger.Result{Success: true}}

	_, err := newDispatcher(st, m).HandleMessage(context.Background(), job)
	if err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	if m.calls != 0 {
		t.Errorf("messenger called %d times, want 0", m.calls)
	}
	want := "Agent not found: " + data.AgentID.String()
	if st.lastError != want {
		t.Errorf("last error = %q, want %q", st.lastError, want)
	}
}

func TestHandleMessageUnregisteredPlatform(t *testing.T) {
	t.Parallel()
	st, job, _ := fixture(t)

	// Registry with no linkedin binding.
	_, err := newDispatcher(st, nil).HandleMessage(context.Background(), job)
	if err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	if st.status != model.MessageStatusFailed {
		t.Errorf("status = %s, want failed", st.status)
	}
	if !strings.Contains(st.lastError, "no messenger registered") {
		t.Errorf("last error = %q, want registry failure", st.lastError)
	}
}

func TestHandleMessageAdapterFaultPropagates(t *testing.T) {
	t.Parallel()
	st, job, _ := fixture(t)
	cause := errors.New("gateway: status 502 with empty error code")
	m := &fakeMessenger{err: cause}

	_, err := newDispatcher(st, m).HandleMessage(context.Background(), job)
	if !errors.Is(err, cause) {
		t.Fatalf("err = %v, want the adapter fault to propagate for queue backoff", err)
	}
	if st.status != model.MessageStatusFailed {
		t.Errorf("status = %s, want failed recorded before propagating", st.status)
	}
}

func TestHandleMessageNotClaimableSkips(t *testing.T) {
	t.Parallel()
	st, job, _ := fixture(t)
	st.item.Status = model.MessageStatusSent // already terminal
	m := &fakeMessenger{result: &messenger.Result{Success: true}}

	raw, err := newDispatcher(st, m).HandleMessage(context.Background(), job)
	if err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	if raw != nil {
		t.Errorf("result = %s, want nil for a skipped message", raw)
	}
	if m.calls != 0 {
		t.Errorf("messenger called %d times, want 0", m.calls)
	}
}

func TestHandleMessageMalformedPayload(t *testing.T) {
	t.Parallel()
	st, job, _ := fixture(t)
	job.Payload = json.RawMessage(`{"message_queue_id": 42}`)
	m := &fakeMessenger{result: &messenger.Result{Success: true}}

	if _, err := newDispatcher(st, m).HandleMessage(context.Background(), job); err == nil {
		t.Fatal("expected decode error for malformed payload")
	}
	if m.calls != 0 {
		t.Errorf("messenger called %d times, want 0", m.calls)
	}
}

func TestHandleMessageClaimErrorPropagates(t *testing.T) {
	t.Parallel()
	st, job, _ := fixture(t)
	st.markProcessingErr = errors.New("connection refused")
	m := &fakeMessenger{result: &messenger.Result{Success: true}}

	if _, err := newDispatcher(st, m).HandleMessage(context.Background(), job); err == nil {
		t.Fatal("expected persistence error to propagate")
	}
}
