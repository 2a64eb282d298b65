package payments

import "github.com/wolfman30/clinic-booking-core/pkg/logging"

// GatewayVNPay is the registry name of the VNPay gateway.
const GatewayVNPay = "vnpay"

// vnp_ResponseCode vocabulary.
var vnpayCodes = codeTable{
	"00": {OutcomeSuccess, ReasonPaid},
	"07": {OutcomeError, ReasonSuspectedFraud},
	"09": {OutcomeFailed, ReasonAuthFailed}, // internet banking not registered
	"10": {OutcomeFailed, ReasonAuthFailed}, // card verification failed 3 times
	"11": {OutcomeFailed, ReasonTimeout},
	"12": {OutcomeFailed, ReasonAccountLocked},
	"13": {OutcomeFailed, ReasonAuthFailed}, // wrong OTP
	"24": {OutcomeFailed, ReasonUserCancelled},
	"51": {OutcomeFailed, ReasonInsufficientFunds},
	"65": {OutcomeFailed, ReasonLimitExceeded},
	"75": {OutcomeFailed, ReasonGatewayUnavailable},
	"79": {OutcomeFailed, ReasonAuthFailed}, // wrong password too many times
	"99": {OutcomeError, ReasonOther},
}

// NewVNPayGateway returns the VNPay gateway served by the payment backend.
func NewVNPayGateway(backendURL string, logger *logging.Logger) *BackendGateway {
	return newBackendGateway(GatewayVNPay, backendURL, vnpayCodes, logger)
}
