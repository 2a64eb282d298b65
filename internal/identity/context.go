// Package identity carries the caller's device and patient identity through
// request contexts.
package identity

import "context"

type ctxKey string

const (
	deviceKey  ctxKey = "booking.device_id"
	patientKey ctxKey = "booking.patient_id"
)

// WithDeviceID stores the device id in context.
func WithDeviceID(ctx context.Context, deviceID string) context.Context {
	return context.WithValue(ctx, deviceKey, deviceID)
}

// DeviceIDFromContext extracts the device id if present.
func DeviceIDFromContext(ctx context.Context) (string, bool) {
	return stringValue(ctx, deviceKey)
}

// WithPatientID marks the context as authenticated for patientID.
func WithPatientID(ctx context.Context, patientID string) context.Context {
	return context.WithValue(ctx, patientKey, patientID)
}

// PatientIDFromContext returns the authenticated patient, if any.
func PatientIDFromContext(ctx context.Context) (string, bool) {
	return stringValue(ctx, patientKey)
}

func stringValue(ctx context.Context, key ctxKey) (string, bool) {
	val := ctx.Value(key)
	if val == nil {
		return "", false
	}
	s, ok := val.(string)
	return s, ok && s != ""
}
