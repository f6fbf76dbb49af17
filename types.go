package paypalexpress

import (
	"sort"

	"github.com/shopspring/decimal"
)

// TransactionStatus is the reconciled state of one payment attempt.
type TransactionStatus string

const (
	StatusPending   TransactionStatus = "PENDING"
	StatusProcessed TransactionStatus = "PROCESSED"
	StatusError     TransactionStatus = "ERROR"
	StatusCanceled  TransactionStatus = "CANCELED"
)

// TransactionType distinguishes the two attempt flavors the plugin records.
type TransactionType string

const (
	TypePurchase TransactionType = "PURCHASE"
	TypeRefund   TransactionType = "REFUND"
)

// Property is one entry of an ordered key/value bag. Callers may pass
// arbitrary keys; unrecognized ones are tolerated and passed through.
type Property struct {
	Key   string
	Value string
}

// Recognized property keys.
const (
	PropToken                = "token"
	PropOrderID              = "order_id"
	PropAmount               = "amount"
	PropCurrency             = "currency"
	PropKBPaymentID          = "kb_payment_id"
	PropTransactionExtKey    = "kb_transaction_external_key"
	PropExternalKey          = "transaction_external_key"
	PropCreatePendingPayment = "create_pending_payment"
)

// FindProperty returns the value for key and whether it was present.
func FindProperty(props []Property, key string) (string, bool) {
	for _, p := range props {
		if p.Key == key {
			return p.Value, true
		}
	}
	return "", false
}

// PropertiesFromMap builds an ordered property list from a map, sorted by
// key so repeated calls produce a stable bag.
func PropertiesFromMap(m map[string]string) []Property {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	props := make([]Property, 0, len(m))
	for _, k := range keys {
		props = append(props, Property{Key: k, Value: m[k]})
	}
	return props
}

// FormDescriptor describes the redirect the caller must present to the end
// user to start the off-site checkout.
type FormDescriptor struct {
	KBAccountID string
	FormURL     string
	Properties  []Property
}

// PaymentTransactionInfo is the reconciled projection of one payment
// attempt, as returned by purchase, refund, and get-payment-info calls.
// Amount is nil and Currency empty for attempts that never reached a
// successful gateway capture.
type PaymentTransactionInfo struct {
	KBPaymentID              string
	KBTransactionExternalKey string
	TransactionType          TransactionType
	Amount                   *decimal.Decimal
	Currency                 string
	Status                   TransactionStatus
	GatewayError             string
	// GatewayErrorCode is RuntimeErrorCode for our-side validation failures
	// and empty for gateway declines and successes.
	GatewayErrorCode string
	// FirstPaymentReferenceID carries the PayPal transaction id once a
	// capture or refund succeeds.
	FirstPaymentReferenceID string
}

// CallContext carries the tenant identity of the calling platform. It is
// treated as opaque and passed through unchanged.
type CallContext struct {
	TenantID string
}

// Account is the opaque handle the billing platform resolves for an
// account id.
type Account struct {
	ID string
}

// AccountService is the narrow lookup interface consumed from the billing
// platform.
type AccountService interface {
	GetAccountByID(kbAccountID string, ctx CallContext) (*Account, error)
}
