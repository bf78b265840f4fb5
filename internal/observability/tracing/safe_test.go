package tracing

import (
	"errors"
	"testing"

	"go.opentelemetry.io/otel/attribute"
)

func TestSafeAttributesDropsDonorFields(t *testing.T) {
	attrs := SafeAttributes(
		attribute.String("http.route", "/public/orgs/:org_id/donations"),
		attribute.String("donor.email", "donor@example.org"),
		attribute.String("captcha_token", "tok"),
	)
	if len(attrs) != 1 {
		t.Fatalf("expected 1 attribute, got %d", len(attrs))
	}
	if attrs[0].Key != "http.route" {
		t.Fatalf("unexpected attribute %s", attrs[0].Key)
	}
}

func TestSafeErrorRedactsEmails(t *testing.T) {
	if err := SafeError(errors.New("contact donor@example.org not found")); err.Error() != "redacted error" {
		t.Fatalf("expected redaction, got %q", err.Error())
	}
	if err := SafeError(errors.New("timeout")); err.Error() != "timeout" {
		t.Fatalf("expected passthrough, got %q", err.Error())
	}
	if SafeError(nil) != nil {
		t.Fatalf("expected nil")
	}
}
