package paypalexpress

import "fmt"

// ErrorKind classifies a failure surfaced by the plugin.
type ErrorKind string

const (
	// KindValidation covers missing or malformed caller input.
	KindValidation ErrorKind = "validation"
	// KindToken covers missing, unauthorized, or reused checkout tokens.
	KindToken ErrorKind = "token"
	// KindGateway covers transport-level failures reaching PayPal. These are
	// never mapped to a transaction status; they propagate so the platform's
	// retry layer can decide.
	KindGateway ErrorKind = "gateway"
	// KindBusinessDecline covers payments PayPal explicitly rejected.
	KindBusinessDecline ErrorKind = "business_decline"
)

// RuntimeErrorCode marks failures detected on our side before a gateway
// verdict exists (missing or unauthorized token). Gateway declines carry no
// code, so callers can tell a caller-side problem from a decline.
const RuntimeErrorCode = "RuntimeError"

// Canonical messages. The exact wording is part of the plugin's external
// contract.
const (
	MsgTokenMissing       = "Could not find the payer_id: the token is missing"
	MsgTokenReused        = "A successful transaction has already been completed for this token."
	MsgSuccess            = "Success"
	MsgPendingPlaceholder = `{"payment_plugin_status":"PENDING"}`
)

// MsgPayerNotFound renders the unauthorized-token message for a token.
func MsgPayerNotFound(token string) string {
	return fmt.Sprintf("Could not find the payer_id for token %s", token)
}

// PluginError is a payment-specific error with an optional error code.
// Code is empty for gateway declines and RuntimeErrorCode for our-side
// validation failures.
type PluginError struct {
	Kind    ErrorKind
	Code    string
	Message string
}

func (e *PluginError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	return fmt.Sprintf("%s (%s): %s", e.Kind, e.Code, e.Message)
}

// NewValidationError creates a caller-input error.
func NewValidationError(message string) *PluginError {
	return &PluginError{Kind: KindValidation, Code: RuntimeErrorCode, Message: message}
}

// NewTokenError creates a token lifecycle error. Reuse errors carry no code
// so they surface with decline semantics.
func NewTokenError(code, message string) *PluginError {
	return &PluginError{Kind: KindToken, Code: code, Message: message}
}

// NewBusinessDecline creates an error for a gateway-rejected payment.
func NewBusinessDecline(message string) *PluginError {
	return &PluginError{Kind: KindBusinessDecline, Message: message}
}
