// Package nvp implements the PayPal Classic NVP (name-value-pair) API
// surface used by the Express Checkout redirect flow.
package nvp

import "net/url"

// NVP API method names.
const (
	MethodSetExpressCheckout        = "SetExpressCheckout"
	MethodGetExpressCheckoutDetails = "GetExpressCheckoutDetails"
	MethodDoExpressCheckoutPayment  = "DoExpressCheckoutPayment"
	MethodGetTransactionDetails     = "GetTransactionDetails"
	MethodRefundTransaction         = "RefundTransaction"
)

// ACK values reported by the gateway.
const (
	AckSuccess            = "Success"
	AckSuccessWithWarning = "SuccessWithWarning"
	AckFailure            = "Failure"
)

// Response is one parsed NVP exchange. Request holds the outbound
// parameters with credentials stripped; Values holds the raw decoded
// response.
type Response struct {
	Method  string
	Request url.Values
	Values  url.Values
}

// Ack returns the gateway acknowledgment field.
func (r *Response) Ack() string { return r.Values.Get("ACK") }

// Success reports whether the gateway acknowledged the call, with or
// without warnings.
func (r *Response) Success() bool {
	ack := r.Ack()
	return ack == AckSuccess || ack == AckSuccessWithWarning
}

// Token returns the checkout token, when present.
func (r *Response) Token() string { return r.Values.Get("TOKEN") }

// PayerID returns the gateway-assigned payer id, empty until the end user
// approved the checkout.
func (r *Response) PayerID() string { return r.Values.Get("PAYERID") }

// TransactionID returns the capture transaction id from a payment call.
func (r *Response) TransactionID() string {
	if v := r.Values.Get("PAYMENTINFO_0_TRANSACTIONID"); v != "" {
		return v
	}
	return r.Values.Get("TRANSACTIONID")
}

// RefundTransactionID returns the id assigned to a refund.
func (r *Response) RefundTransactionID() string {
	return r.Values.Get("REFUNDTRANSACTIONID")
}

// CheckoutStatus returns the express checkout status field.
func (r *Response) CheckoutStatus() string { return r.Values.Get("CHECKOUTSTATUS") }

// CorrelationID returns the gateway's debugging correlation id.
func (r *Response) CorrelationID() string { return r.Values.Get("CORRELATIONID") }

// Message returns the human-readable outcome: the first long error message
// on failure, falling back to the short message.
func (r *Response) Message() string {
	if v := r.Values.Get("L_LONGMESSAGE0"); v != "" {
		return v
	}
	return r.Values.Get("L_SHORTMESSAGE0")
}

// ErrorCode returns the first gateway error code, empty on success.
func (r *Response) ErrorCode() string { return r.Values.Get("L_ERRORCODE0") }
