package identity

import (
	"context"
	"testing"
)

func TestWithDeviceIDAndDeviceIDFromContext(t *testing.T) {
	ctx := WithDeviceID(context.Background(), "dev-123")

	got, ok := DeviceIDFromContext(ctx)
	if !ok {
		t.Fatalf("expected device id to be present")
	}
	if got != "dev-123" {
		t.Fatalf("expected dev-123, got %s", got)
	}
	if _, ok := PatientIDFromContext(ctx); ok {
		t.Fatalf("device id must not imply authentication")
	}
}

func TestPatientIDFromContext_EmptyOrMissing(t *testing.T) {
	ctx := context.Background()
	if _, ok := PatientIDFromContext(ctx); ok {
		t.Fatalf("expected missing patient id to return false")
	}

	ctx = context.WithValue(ctx, patientKey, 42)
	if _, ok := PatientIDFromContext(ctx); ok {
		t.Fatalf("expected non-string patient id to return false")
	}

	ctx = WithPatientID(context.Background(), "")
	if _, ok := PatientIDFromContext(ctx); ok {
		t.Fatalf("expected empty patient id to return false")
	}

	ctx = WithPatientID(context.Background(), "p-1")
	if got, ok := PatientIDFromContext(ctx); !ok || got != "p-1" {
		t.Fatalf("expected p-1, got %q", got)
	}
}
