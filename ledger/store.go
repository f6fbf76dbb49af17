package ledger

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("ledger: not found")

// Store wraps the ledger database.
type Store struct {
	db *gorm.DB
}

// Open connects to the ledger database and migrates the plugin tables.
func Open(dsn string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger database: %w", err)
	}

	if err := db.AutoMigrate(&Transaction{}, &Response{}, &PaymentMethod{}); err != nil {
		return nil, fmt.Errorf("failed to migrate ledger schema: %w", err)
	}

	// The in-memory sqlite backend is per-connection; a single connection
	// keeps every gorm session on the same database.
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to access ledger connection pool: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	return &Store{db: db}, nil
}

// OpenMemory opens a fresh in-memory ledger, used by tests and single-run
// tooling.
func OpenMemory() (*Store, error) {
	return Open(":memory:")
}

// ============================================================================
// Transactions
// ============================================================================

// CreateTransaction appends one payment attempt row.
func (s *Store) CreateTransaction(txn *Transaction) error {
	if err := s.db.Create(txn).Error; err != nil {
		return fmt.Errorf("failed to create transaction: %w", err)
	}
	return nil
}

// TerminalUpdate carries the fields applied when an attempt reaches a
// terminal status.
type TerminalUpdate struct {
	Status           string
	Amount           decimal.NullDecimal
	Currency         string
	PaypalTxnID      *string
	GatewayError     string
	GatewayErrorCode *string
}

// CompletePending transitions the PENDING attempt for kbPaymentID to a
// terminal status. The update is guarded on the current status so the
// transition happens at most once; a second caller finds no PENDING row and
// gets ErrNotFound.
func (s *Store) CompletePending(kbPaymentID string, update TerminalUpdate) error {
	result := s.db.Model(&Transaction{}).
		Where("kb_payment_id = ? AND status = ?", kbPaymentID, "PENDING").
		Updates(map[string]interface{}{
			"status":             update.Status,
			"amount":             update.Amount,
			"currency":           update.Currency,
			"paypal_txn_id":      update.PaypalTxnID,
			"gateway_error":      update.GatewayError,
			"gateway_error_code": update.GatewayErrorCode,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to complete pending transaction: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// HasPending reports whether kbPaymentID has a PENDING attempt.
func (s *Store) HasPending(kbPaymentID string) (bool, error) {
	var count int64
	if err := s.db.Model(&Transaction{}).
		Where("kb_payment_id = ? AND status = ?", kbPaymentID, "PENDING").
		Count(&count).Error; err != nil {
		return false, fmt.Errorf("failed to check pending transaction: %w", err)
	}
	return count > 0, nil
}

// TransactionsForPayment returns every attempt for kbPaymentID in creation
// order, purchases before the refunds that followed them.
func (s *Store) TransactionsForPayment(kbPaymentID string) ([]Transaction, error) {
	var txns []Transaction
	if err := s.db.Where("kb_payment_id = ?", kbPaymentID).
		Order("id ASC").
		Find(&txns).Error; err != nil {
		return nil, fmt.Errorf("failed to load transactions: %w", err)
	}
	return txns, nil
}

// ProcessedPurchase returns the successfully captured PURCHASE attempt for
// kbPaymentID, or ErrNotFound when the payment never completed.
func (s *Store) ProcessedPurchase(kbPaymentID string) (*Transaction, error) {
	var txn Transaction
	err := s.db.Where(
		"kb_payment_id = ? AND transaction_type = ? AND status = ?",
		kbPaymentID, "PURCHASE", "PROCESSED",
	).First(&txn).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load processed purchase: %w", err)
	}
	return &txn, nil
}

// CountTransactions returns the total number of attempt rows.
func (s *Store) CountTransactions() (int64, error) {
	var count int64
	if err := s.db.Model(&Transaction{}).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("failed to count transactions: %w", err)
	}
	return count, nil
}

// ============================================================================
// Responses
// ============================================================================

// AppendResponse appends one gateway-exchange snapshot.
func (s *Store) AppendResponse(resp *Response) error {
	if err := s.db.Create(resp).Error; err != nil {
		return fmt.Errorf("failed to append response: %w", err)
	}
	return nil
}

// OutcomeResponsesForPayment returns the responses that terminated a failed
// attempt for kbPaymentID, in creation order.
func (s *Store) OutcomeResponsesForPayment(kbPaymentID string) ([]Response, error) {
	var resps []Response
	if err := s.db.Where("kb_payment_id = ? AND mapped_status <> ''", kbPaymentID).
		Order("id ASC").
		Find(&resps).Error; err != nil {
		return nil, fmt.Errorf("failed to load outcome responses: %w", err)
	}
	return resps, nil
}

// CountResponses returns the total number of response rows.
func (s *Store) CountResponses() (int64, error) {
	var count int64
	if err := s.db.Model(&Response{}).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("failed to count responses: %w", err)
	}
	return count, nil
}

// ============================================================================
// Payment methods
// ============================================================================

// CreatePaymentMethod registers the plugin-owned row for a platform payment
// method.
func (s *Store) CreatePaymentMethod(pm *PaymentMethod) error {
	if err := s.db.Create(pm).Error; err != nil {
		return fmt.Errorf("failed to create payment method: %w", err)
	}
	return nil
}

// PaymentMethodsForAccount returns the rows for one account and tenant.
func (s *Store) PaymentMethodsForAccount(kbAccountID, kbTenantID string) ([]PaymentMethod, error) {
	var pms []PaymentMethod
	if err := s.db.Where("kb_account_id = ? AND kb_tenant_id = ?", kbAccountID, kbTenantID).
		Find(&pms).Error; err != nil {
		return nil, fmt.Errorf("failed to load payment methods: %w", err)
	}
	return pms, nil
}

// SaveBillingAgreement records the billing agreement the gateway issued for
// a payment method, along with the payer that established it. Only called
// when a capture actually returns one.
func (s *Store) SaveBillingAgreement(kbPaymentMethodID, payerID, token, baid string) error {
	result := s.db.Model(&PaymentMethod{}).
		Where("kb_payment_method_id = ?", kbPaymentMethodID).
		Updates(map[string]interface{}{
			"payer_id":             payerID,
			"token":                token,
			"billing_agreement_id": baid,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to save billing agreement: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
