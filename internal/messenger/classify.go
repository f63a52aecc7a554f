// ABOUTME: Failure taxonomy: which gateway error codes are worth retrying.
// ABOUTME: Unknown codes default to non-retryable unless the gateway says otherwise.
package messenger

// Gateway error codes with fixed retry semantics.
const (
	CodeRateLimited    = "RATE_LIMITED"
	CodeNetworkError   = "NETWORK_ERROR"
	CodeTimeout        = "TIMEOUT"
	CodeAccountBlocked = "ACCOUNT_BLOCKED"
	CodePrivateAccount = "PRIVATE_ACCOUNT"
	CodeInvalidProfile = "INVALID_PROFILE"
	CodeNotConnected   = "NOT_CONNECTED"
)

var retryableCodes = map[string]bool{
	CodeRateLimited:  true,
	CodeNetworkError: true,
	CodeTimeout:      true,
}

var terminalCodes = map[string]bool{
	CodeAccountBlocked: true,
	CodePrivateAccount: true,
	CodeInvalidProfile: true,
	CodeNotConnected:   true,
}

// Retryable reports whether a failure with the given code may succeed on a
// later attempt. gatewayHint is the retryable flag reported by the gateway;
// it is honoured for codes the taxonomy does not recognize, but a code with
// fixed semantics always wins over the hint.
func Retryable(code string, gatewayHint bool) bool {
	if retryableCodes[code] {
		return true
	}
	if terminalCodes[code] {
		return false
	}
	return gatewayHint
}
