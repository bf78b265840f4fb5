package metrics

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric/noop"
)

func TestFilterAttributesDropsForbiddenLabels(t *testing.T) {
	attrs := FilterAttributes(
		attribute.String("org_id", "123"),
		attribute.String("identity", "ip:203.0.113.9"),
		attribute.String("contact_id", "456"),
		attribute.String("policy", "public_donation"),
	)
	if len(attrs) != 2 {
		t.Fatalf("expected 2 attributes, got %d", len(attrs))
	}
	for _, attr := range attrs {
		if attr.Key == "identity" || attr.Key == "contact_id" {
			t.Fatalf("expected %s to be dropped", attr.Key)
		}
	}
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	m.RecordDonationAdmitted(context.Background(), "1", "public", "approved", 12)
	m.RecordRateLimitDenied(context.Background(), "public_donation", "limit_exceeded")
}

func TestNewRegistersInstruments(t *testing.T) {
	m, err := New(Config{ServiceName: "donorflow"}, noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	m.RecordRateLimitAllowed(context.Background(), "staff_donation", true)
	m.RecordDonationAdmitted(context.Background(), "1", "staff", "pending_review", 45)
	m.RecordPaymentEvent(context.Background(), "stripe", "checkout.session.completed")
}
