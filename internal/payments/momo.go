package payments

import (
	"strings"

	"github.com/wolfman30/clinic-booking-core/pkg/logging"
)

// GatewayMoMo is the registry name of the MoMo wallet gateway.
const GatewayMoMo = "momo"

// MoMo resultCode vocabulary.
var momoCodes = codeTable{
	"0":    {OutcomeSuccess, ReasonPaid},
	"9000": {OutcomeSuccess, ReasonPaid}, // authorized, capture pending
	"1001": {OutcomeFailed, ReasonInsufficientFunds},
	"1002": {OutcomeFailed, ReasonDeclined},
	"1003": {OutcomeFailed, ReasonUserCancelled}, // cancelled by merchant or wallet
	"1004": {OutcomeFailed, ReasonLimitExceeded},
	"1005": {OutcomeFailed, ReasonTimeout}, // payment link expired
	"1006": {OutcomeFailed, ReasonUserCancelled},
	"1017": {OutcomeFailed, ReasonUserCancelled},
	"7000": {OutcomeError, ReasonOther}, // transaction still processing
}

// NewMoMoGateway returns the MoMo gateway served by the payment backend.
func NewMoMoGateway(backendURL string, logger *logging.Logger) *BackendGateway {
	g := newBackendGateway(GatewayMoMo, backendURL, momoCodes, logger)
	// MoMo occasionally zero-pads result codes.
	g.normalize = func(code string) string {
		trimmed := strings.TrimLeft(code, "0")
		if trimmed == "" && code != "" {
			return "0"
		}
		return trimmed
	}
	return g
}
