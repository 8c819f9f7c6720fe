package nats

import (
	"fmt"
	"testing"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/kirillkom/policy-router/internal/core/domain"
	"github.com/kirillkom/policy-router/internal/infrastructure/resilience"
)

func TestPlanEventRoundTrip(t *testing.T) {
	plan := &domain.ExecutionPlan{ID: "plan-1", Query: "GO Ms No 45", Selected: []string{"gos"}, ForcedAdditions: []string{}}
	data, err := encodePlanEvent(plan, time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := decodePlanEvent(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.ID != "plan-1" || got.Selected[0] != "gos" {
		t.Fatalf("unexpected plan %+v", got)
	}
}

func TestEncodePlanEventRejectsMissingID(t *testing.T) {
	if _, err := encodePlanEvent(&domain.ExecutionPlan{}, time.Now()); !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestDecodePlanEventRejectsForeignPayloads(t *testing.T) {
	for _, raw := range []string{
		`not json`,
		`{"event":"document.ingested","version":1,"plan":{"plan_id":"x"}}`,
		`{"event":"plan.recorded","version":2,"plan":{"plan_id":"x"}}`,
		`{"event":"plan.recorded","version":1}`,
	} {
		if _, err := decodePlanEvent([]byte(raw)); err == nil {
			t.Fatalf("expected error for %s", raw)
		}
	}
}

func TestClassifyNATSError(t *testing.T) {
	if c := classifyNATSError(fmt.Errorf("publish: %w", nats.ErrConnectionClosed)); !c.Retryable || !c.RecordFailure {
		t.Fatalf("closed connection should be retryable, got %+v", c)
	}
	if c := classifyNATSError(nats.ErrMaxPayload); c.Retryable || c.RecordFailure {
		t.Fatalf("oversized payload is a caller error, got %+v", c)
	}
	if err := resilience.WrapTemporary("nats publish", nats.ErrTimeout, classifyNATSError); !domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("expected temporary wrap, got %v", err)
	}
}
