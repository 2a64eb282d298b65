package payments

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRegistry() *Registry {
	return NewRegistry(nil,
		NewVNPayGateway("https://pay.example.com", nil),
		NewMoMoGateway("https://pay.example.com", nil),
		NewFakeGateway("https://app.example.com", nil),
		nil,
	)
}

func TestRegistry(t *testing.T) {
	r := testRegistry()
	assert.Equal(t, []string{"vnpay", "momo", "fake"}, r.Names())

	g, ok := r.Get("VNPay")
	require.True(t, ok)
	assert.Equal(t, GatewayVNPay, g.Name())

	_, err := r.Initiate(context.Background(), "paypal", InitiateParams{OrderID: "o", AmountCents: 1})
	assert.True(t, errors.Is(err, ErrGatewayNotFound))

	init, err := r.Initiate(context.Background(), "fake", InitiateParams{OrderID: "o", AmountCents: 1})
	require.NoError(t, err)
	assert.Equal(t, GatewayFake, init.Gateway)
}

func TestResolver_NextActions(t *testing.T) {
	res := NewResolver(testRegistry(), "hotline 1900 0000")

	success := res.Resolve("vnpay", mustParse(t, testResultEndpoint+"?outcome=success&orderId=o1&code=00"))
	assert.Equal(t, OutcomeSuccess, success.Outcome)
	assert.Equal(t, NextViewAppointment, success.NextAction)
	assert.Empty(t, success.SupportContact)

	failed := res.Resolve("momo", mustParse(t, testResultEndpoint+"?outcome=failed&orderId=o1&code=1006"))
	assert.Equal(t, NextRetryFromServiceSelection, failed.NextAction)
	assert.True(t, failed.Retriable())
	assert.Equal(t, MessageFor(ReasonUserCancelled), failed.Message)

	ambiguous := res.Resolve("vnpay", mustParse(t, testResultEndpoint+"?outcome=error&orderId=o1&code=99&message=timeout"))
	assert.Equal(t, NextContactSupport, ambiguous.NextAction)
	assert.Equal(t, "hotline 1900 0000", ambiguous.SupportContact)
	assert.Equal(t, "timeout", ambiguous.GatewayMessage)
	assert.False(t, ambiguous.Retriable())
}

func TestResolver_GatewayFromQueryAndUnknownGateway(t *testing.T) {
	res := NewResolver(testRegistry(), "")

	r := res.Resolve("", mustParse(t, testResultEndpoint+"?outcome=failed&code=24&gateway=vnpay"))
	assert.Equal(t, "vnpay", r.Gateway)
	assert.Equal(t, ReasonUserCancelled, r.Reason)

	r = res.Resolve("", mustParse(t, testResultEndpoint+"?outcome=failed&code=24"))
	assert.Equal(t, ReasonOther, r.Reason, "no gateway means no vocabulary")
	assert.Equal(t, MessageFor(ReasonOther), r.Message)
	assert.Equal(t, "24", r.Code)
}

func TestMessageFor_UnknownReason(t *testing.T) {
	assert.Equal(t, MessageFor(ReasonOther), MessageFor(Reason("mystery")))
}

func TestResultHandler(t *testing.T) {
	h := NewResultHandler(NewResolver(testRegistry(), "support@example.com"), nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/payments/result?outcome=error&orderId=o9&gateway=momo&code=7000", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
	var body Resolution
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, OutcomeError, body.Outcome)
	assert.Equal(t, "o9", body.OrderID)
	assert.Equal(t, NextContactSupport, body.NextAction)
	assert.Equal(t, "support@example.com", body.SupportContact)
}
