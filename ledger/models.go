// Package ledger persists the plugin-owned record of every payment attempt
// and every raw gateway exchange.
package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// Transaction is one logical payment attempt (purchase or refund). A row is
// created per attempt and its status moves PENDING -> terminal exactly once;
// rows are never deleted outside test teardown.
type Transaction struct {
	ID                       uint   `gorm:"primaryKey"`
	KBAccountID              string `gorm:"index"`
	KBPaymentID              string `gorm:"index"`
	KBPaymentMethodID        string
	KBTransactionExternalKey string `gorm:"index"`
	TransactionType          string
	Status                   string
	// PaypalTxnID stays nil until the gateway reports a capture or refund id.
	PaypalTxnID      *string
	Amount           decimal.NullDecimal `gorm:"type:decimal(15,9)"`
	Currency         string
	GatewayError     string
	GatewayErrorCode *string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Response is an immutable snapshot of one gateway exchange: the sanitized
// outbound parameters and the raw decoded reply. Local terminal failures
// that never reach the gateway snapshot one row as well. Append-only.
//
// A row whose MappedStatus is set is the reconciled outcome of a failed
// attempt: failed attempts never get a Transaction row, so the projection
// for a payment falls back to its outcome responses.
type Response struct {
	ID           uint   `gorm:"primaryKey"`
	KBAccountID  string `gorm:"index"`
	KBPaymentID  string `gorm:"index"`
	APICall      string
	Success      bool
	Message      string
	Token        string
	PayerID      string
	PaypalTxnID  string
	RequestData  string
	ResponseData string

	// Reconciled outcome, set only on rows that terminate an attempt.
	TransactionType string
	MappedStatus    string
	MappedError     string
	MappedErrorCode *string

	CreatedAt time.Time
}

// PaymentMethod is the plugin-owned cache row for one platform payment
// method. PayerID, Token, and BillingAgreementID stay nil unless a purchase
// establishes a billing agreement; the covered redirect flows never do.
type PaymentMethod struct {
	ID                 uint   `gorm:"primaryKey"`
	KBAccountID        string `gorm:"index"`
	KBTenantID         string `gorm:"index"`
	KBPaymentMethodID  string `gorm:"index"`
	PayerID            *string
	Token              *string
	BillingAgreementID *string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}
