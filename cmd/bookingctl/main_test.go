package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/clinic-booking-core/internal/payments"
	"github.com/wolfman30/clinic-booking-core/internal/slots"
)

const slotFixture = `[
  {"id":"s1","resourceId":"dr-1","roomId":"room-a","startTime":"2026-03-02T09:00:00Z","endTime":"2026-03-02T09:15:00Z","status":"available","isActive":true},
  {"id":"s2","resourceId":"dr-1","roomId":"room-a","startTime":"2026-03-02T09:15:00Z","endTime":"2026-03-02T09:30:00Z","status":"available","isActive":true},
  {"id":"s3","resourceId":"dr-1","roomId":"room-a","startTime":"2026-03-02T09:30:00Z","endTime":"2026-03-02T09:45:00Z","status":"booked","isActive":true}
]`

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestWindowsFromStdin(t *testing.T) {
	out, err := execute(t, slotFixture, "windows", "--duration", "30")
	require.NoError(t, err)

	var windows []slots.Window
	require.NoError(t, json.Unmarshal([]byte(out), &windows))
	require.Len(t, windows, 2)
	assert.True(t, windows[0].Available)
	assert.False(t, windows[1].Available)
	assert.Equal(t, slots.StatusBooked, windows[1].BlockingReason)
}

func TestWindowsFromFileByShift(t *testing.T) {
	path := filepath.Join(t.TempDir(), "slots.json")
	require.NoError(t, os.WriteFile(path, []byte(slotFixture), 0o600))

	out, err := execute(t, "", "windows", "-f", path, "-d", "15", "--by-shift")
	require.NoError(t, err)

	var groups []slots.ShiftGroup
	require.NoError(t, json.Unmarshal([]byte(out), &groups))
	require.Len(t, groups, 1)
	assert.Len(t, groups[0].Windows, 3)
}

func TestWindowsRejectsNonPositiveDuration(t *testing.T) {
	_, err := execute(t, slotFixture, "windows", "--duration", "0")
	require.Error(t, err)
}

func TestOutcomeClassifiesGatewayCode(t *testing.T) {
	terminal := payments.ResultURL("https://app.example.com/payments/result",
		payments.OutcomeFailed, "order-1", "24", "", payments.GatewayVNPay)

	out, err := execute(t, "", "outcome", terminal)
	require.NoError(t, err)

	var res payments.Resolution
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, payments.OutcomeFailed, res.Outcome)
	assert.Equal(t, payments.ReasonUserCancelled, res.Reason)
	assert.Equal(t, payments.NextRetryFromServiceSelection, res.NextAction)
}

func TestOutcomeRequiresURL(t *testing.T) {
	_, err := execute(t, "", "outcome")
	require.Error(t, err)
}
