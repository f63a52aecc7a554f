// ABOUTME: Tests for the enrichment job handler: cache skip, provider errors
// ABOUTME: propagating for queue-level retry, and the credit fallback.
package dispatch_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/leadpilot/leadpilot/internal/dispatch"
	"github.com/leadpilot/leadpilot/internal/enrich"
	"github.com/leadpilot/leadpilot/internal/messenger"
	"github.com/leadpilot/leadpilot/internal/model"
	"github.com/leadpilot/leadpilot/internal/store"
)

type fakeProvider struct {
	enrichment *enrich.Enrichment
	err        error
	calls      int
}

func (p *fakeProvider) Enrich(_ context.Context, _ *model.Lead) (*enrich.Enrichment, error) {
	p.calls++
	if p.err != nil {
		return nil, p.err
	}
	return p.enrichment, nil
}

func enrichmentFixture(t *testing.T) (*fakeStore, *store.Job, model.EnrichmentJobData) {
	t.Helper()
	workspaceID := uuid.New()
	lead := &model.Lead{
		ID:          uuid.New(),
		WorkspaceID: workspaceID,
		FullName:    "Grace Hopper",
		ProfileURL:  "https://www.linkedin.com/in/grace-hopper",
		Platform:    model.PlatformLinkedIn,
	}
	data := model.EnrichmentJobData{LeadID: lead.ID, WorkspaceID: workspaceID}
	payload, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	job := &store.Job{
		ID:      uuid.New(),
		Queue:   model.QueueEnrichment,
		JobKey:  model.EnrichJobKey(lead.ID),
		Payload: payload,
	}
	return &fakeStore{lead: lead}, job, data
}

func newEnrichmentDispatcher(st dispatch.Store, p enrich.Provider) *dispatch.Dispatcher {
	return dispatch.New(st, messenger.NewRegistry(), p, dispatch.Config{
		EnrichCreditsPerCall: 1,
	})
}

func decodeEnrichmentResult(t *testing.T, raw json.RawMessage) model.EnrichmentJobResult {
	t.Helper()
	var r model.EnrichmentJobResult
	if err := json.Unmarshal(raw, &r); err != nil {
		t.Fatalf("decode enrichment result: %v", err)
	}
	return r
}

func TestHandleEnrichmentSuccess(t *testing.T) {
	t.Parallel()
	st, job, _ := enrichmentFixture(t)
	p := &fakeProvider{enrichment: &enrich.Enrichment{
		Company:         "Initech",
		Title:           "VP Engineering",
		ConfidenceScore: 0.92,
		CreditsUsed:     2,
	}}

	raw, err := newEnrichmentDispatcher(st, p).HandleEnrichment(context.Background(), job)
	if err != nil {
		t.Fatalf("HandleEnrichment: %v", err)
	}
	if st.enrichCalls != 1 {
		t.Errorf("enrichment writes = %d, want 1", st.enrichCalls)
	}
	if st.enrichedCompany != "Initech" || st.enrichedTitle != "VP Engineering" {
		t.Errorf("stored %q/%q, want Initech/VP Engineering", st.enrichedCompany, st.enrichedTitle)
	}
	res := decodeEnrichmentResult(t, raw)
	if !res.Success || res.Status != "enriched" {
		t.Errorf("result = %+v, want success/enriched", res)
	}
	if res.CreditsUsed != 2 {
		t.Errorf("credits = %d, want provider-reported 2", res.CreditsUsed)
	}
	if res.ConfidenceScore != 0.92 {
		t.Errorf("confidence = %v, want 0.92", res.ConfidenceScore)
	}
}

func TestHandleEnrichmentCreditFallback(t *testing.T) {
	t.Parallel()
	st, job, _ := enrichmentFixture(t)
	p := &fakeProvider{enrichment: &enrich.Enrichment{Company: "Initech"}}

	raw, err := newEnrichmentDispatcher(st, p).HandleEnrichment(context.Background(), job)
	if err != nil {
		t.Fatalf("HandleEnrichment: %v", err)
	}
	if res := decodeEnrichmentResult(t, raw); res.CreditsUsed != 1 {
		t.Errorf("credits = %d, want configured default 1", res.CreditsUsed)
	}
}

func TestHandleEnrichmentAlreadyEnrichedSkipsProvider(t *testing.T) {
	t.Parallel()
	st, job, _ := enrichmentFixture(t)
	enrichedAt := time.Now().Add(-24 * time.Hour)
	confidence := 0.7
	st.lead.EnrichedAt = &enrichedAt
	st.lead.Confidence = &confidence
	p := &fakeProvider{enrichment: &enrich.Enrichment{}}

	raw, err := newEnrichmentDispatcher(st, p).HandleEnrichment(context.Background(), job)
	if err != nil {
		t.Fatalf("HandleEnrichment: %v", err)
	}
	if p.calls != 0 {
		t.Errorf("provider called %d times, want 0", p.calls)
	}
	res := decodeEnrichmentResult(t, raw)
	if res.Status != "already_enriched" {
		t.Errorf("status = %q, want already_enriched", res.Status)
	}
	if res.ConfidenceScore != 0.7 {
		t.Errorf("confidence = %v, want cached 0.7", res.ConfidenceScore)
	}
	if res.CreditsUsed != 0 {
		t.Errorf("credits = %d, want 0 for a cache hit", res.CreditsUsed)
	}
}

func TestHandleEnrichmentForceBypassesCache(t *testing.T) {
	t.Parallel()
	st, job, data := enrichmentFixture(t)
	enrichedAt := time.Now().Add(-24 * time.Hour)
	st.lead.EnrichedAt = &enrichedAt
	data.Force = true
	payload, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	job.Payload = payload
	p := &fakeProvider{enrichment: &enrich.Enrichment{Company: "Hooli", ConfidenceScore: 0.5}}

	if _, err := newEnrichmentDispatcher(st, p).HandleEnrichment(context.Background(), job); err != nil {
		t.Fatalf("HandleEnrichment: %v", err)
	}
	if p.calls != 1 {
		t.Errorf("provider called %d times, want 1 with force", p.calls)
	}
}

func TestHandleEnrichmentProviderErrorPropagates(t *testing.T) {
	t.Parallel()
	st, job, _ := enrichmentFixture(t)
	cause := errors.New("enrich provider: unexpected status 503")
	p := &fakeProvider{err: cause}

	if _, err := newEnrichmentDispatcher(st, p).HandleEnrichment(context.Background(), job); !errors.Is(err, cause) {
		t.Fatalf("err = %v, want provider error to propagate for queue backoff", err)
	}
	if st.enrichCalls != 0 {
		t.Errorf("enrichment writes = %d, want 0", st.enrichCalls)
	}
}

func TestHandleEnrichmentLeadMissingPropagates(t *testing.T) {
	t.Parallel()
	st, job, _ := enrichmentFixture(t)
	st.lead = nil
	p := &fakeProvider{enrichment: &enrich.Enrichment{}}

	if _, err := newEnrichmentDispatcher(st, p).HandleEnrichment(context.Background(), job); err == nil {
		t.Fatal("expected error for a missing lead (queue retries cover late commits)")
	}
	if p.calls != 0 {
		t.Errorf("provider called %d times, want 0", p.calls)
	}
}
