// Package paypalexpress bridges a billing platform to PayPal's Express
// Checkout redirect flow: it issues redirect forms, tracks checkout tokens
// through validation, purchase, and refund, and reconciles gateway
// responses into a durable transaction ledger.
package paypalexpress

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/openbilling/paypal-express-go/ledger"
	"github.com/openbilling/paypal-express-go/nvp"
	"github.com/openbilling/paypal-express-go/session"
)

// GatewayClient is the NVP surface the plugin drives. *nvp.Client satisfies
// it; tests may substitute their own.
type GatewayClient interface {
	SetExpressCheckout(ctx context.Context, req nvp.CheckoutRequest) (*nvp.Response, error)
	GetExpressCheckoutDetails(ctx context.Context, token string) (*nvp.Response, error)
	DoExpressCheckoutPayment(ctx context.Context, req nvp.PaymentRequest) (*nvp.Response, error)
	GetTransactionDetails(ctx context.Context, transactionID string) (*nvp.Response, error)
	RefundTransaction(ctx context.Context, req nvp.RefundRequest) (*nvp.Response, error)
}

// Plugin is the payment orchestrator: the public entry points the billing
// platform calls.
type Plugin struct {
	gateway  GatewayClient
	sessions *session.Store
	store    *ledger.Store
	accounts AccountService
	log      *zap.Logger

	redirectBase string
	returnURL    string
	cancelURL    string
}

// Option configures the plugin.
type Option func(*Plugin)

// WithLogger sets the structured logger. Defaults to a no-op logger.
func WithLogger(log *zap.Logger) Option {
	return func(p *Plugin) { p.log = log }
}

// WithAccountService wires the billing platform's account lookup. When set,
// every entry point resolves the account before touching the gateway.
func WithAccountService(accounts AccountService) Option {
	return func(p *Plugin) { p.accounts = accounts }
}

// WithRedirectBase overrides the hosted checkout base URL (defaults to the
// PayPal sandbox).
func WithRedirectBase(base string) Option {
	return func(p *Plugin) { p.redirectBase = base }
}

// WithReturnURLs sets the URLs the hosted page sends the end user back to.
func WithReturnURLs(returnURL, cancelURL string) Option {
	return func(p *Plugin) {
		p.returnURL = returnURL
		p.cancelURL = cancelURL
	}
}

// New creates the plugin around a gateway client and a ledger store.
func New(gateway GatewayClient, store *ledger.Store, opts ...Option) *Plugin {
	p := &Plugin{
		gateway:      gateway,
		sessions:     session.NewStore(),
		store:        store,
		log:          zap.NewNop(),
		redirectBase: nvp.SandboxRedirectBase,
		returnURL:    "http://localhost/return",
		cancelURL:    "http://localhost/cancel",
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Ledger exposes the plugin-owned ledger store.
func (p *Plugin) Ledger() *ledger.Store { return p.store }

// Sessions exposes the token store.
func (p *Plugin) Sessions() *session.Store { return p.sessions }

func (p *Plugin) resolveAccount(kbAccountID string, callCtx CallContext) error {
	if p.accounts == nil {
		return nil
	}
	if _, err := p.accounts.GetAccountByID(kbAccountID, callCtx); err != nil {
		return fmt.Errorf("failed to resolve account %s: %w", kbAccountID, err)
	}
	return nil
}

// PurchasePayment executes a purchase against a checkout token carried in
// the property bag. Token and gateway declines are reconciled into a
// terminal status and returned as a normal result; callers must inspect
// Status, not the error, to learn the outcome. Only transport failures
// return an error, and those leave the ledger untouched.
func (p *Plugin) PurchasePayment(
	ctx context.Context,
	kbAccountID, kbPaymentID, kbTransactionExternalKey, kbPaymentMethodID string,
	amount decimal.Decimal,
	currency string,
	properties []Property,
	callCtx CallContext,
) (*PaymentTransactionInfo, error) {
	if err := p.resolveAccount(kbAccountID, callCtx); err != nil {
		return nil, err
	}

	ac := attemptContext{
		kbAccountID:     kbAccountID,
		kbPaymentID:     kbPaymentID,
		externalKey:     kbTransactionExternalKey,
		transactionType: TypePurchase,
	}

	token, _ := FindProperty(properties, PropToken)
	if token == "" {
		p.log.Info("purchase rejected: no token",
			zap.String("kb_payment_id", kbPaymentID))
		return p.recordLocalFailure(ac, StatusCanceled, MsgTokenMissing, RuntimeErrorCode, "")
	}

	// Ask the gateway for the real-time token state.
	details, err := p.gateway.GetExpressCheckoutDetails(ctx, token)
	if err != nil {
		return nil, err
	}

	if !details.Success() || details.PayerID() == "" {
		p.log.Info("purchase rejected: token not authorized",
			zap.String("kb_payment_id", kbPaymentID),
			zap.String("token", token))
		// The validation exchange itself is the reconciled outcome row.
		return p.recordFailedExchange(ac, details, StatusCanceled, MsgPayerNotFound(token), RuntimeErrorCode)
	}
	if err := p.appendExchange(kbAccountID, kbPaymentID, details); err != nil {
		return nil, err
	}

	// Tokens issued by another instance still have to be tracked before the
	// single-use transition below.
	if _, ok := p.sessions.Get(token); !ok {
		p.sessions.Issue(token, kbAccountID, amount, currency)
	}
	if err := p.sessions.Authorize(token, details.PayerID()); err != nil {
		return nil, fmt.Errorf("failed to record payer for token %s: %w", token, err)
	}

	payerID, err := p.sessions.Consume(token)
	if err != nil {
		// Exactly one caller wins the ISSUED -> CONSUMED transition; every
		// other purchase attempt on the token lands here, whatever
		// kb_payment_id it targets. The reuse rejection mirrors the
		// gateway's verdict, so it carries no error code.
		p.log.Info("purchase rejected: token already consumed",
			zap.String("kb_payment_id", kbPaymentID),
			zap.String("token", token))
		return p.recordLocalFailure(ac, StatusError, MsgTokenReused, "", token)
	}

	capture, err := p.gateway.DoExpressCheckoutPayment(ctx, nvp.PaymentRequest{
		Token:    token,
		PayerID:  payerID,
		Amount:   amount,
		Currency: currency,
	})
	if err != nil {
		// The gateway never confirmed the capture: free the token so the
		// platform's retry layer can replay the purchase.
		p.sessions.Release(token)
		return nil, err
	}

	if !capture.Success() {
		p.log.Info("purchase declined by gateway",
			zap.String("kb_payment_id", kbPaymentID),
			zap.String("gateway_message", capture.Message()))
		return p.recordFailedExchange(ac, capture, StatusError, capture.Message(), "")
	}
	if err := p.appendExchange(kbAccountID, kbPaymentID, capture); err != nil {
		return nil, err
	}

	transactionID := capture.TransactionID()
	p.log.Info("purchase processed",
		zap.String("kb_payment_id", kbPaymentID),
		zap.String("paypal_txn_id", transactionID))

	// A billing agreement only comes back on reference transactions; the
	// plain redirect flow never stores payer secrets.
	if baid := capture.Values.Get("BILLINGAGREEMENTID"); baid != "" {
		if err := p.store.SaveBillingAgreement(kbPaymentMethodID, payerID, token, baid); err != nil {
			return nil, err
		}
	}

	return p.recordProcessed(ac, amount, currency, transactionID)
}

// RefundPayment refunds a previously captured purchase. The originating
// attempt must be PROCESSED; anything else is a caller error and returns a
// typed error without ledger mutation.
func (p *Plugin) RefundPayment(
	ctx context.Context,
	kbAccountID, kbPaymentID, kbTransactionExternalKey, kbPaymentMethodID string,
	amount decimal.Decimal,
	currency string,
	properties []Property,
	callCtx CallContext,
) (*PaymentTransactionInfo, error) {
	if err := p.resolveAccount(kbAccountID, callCtx); err != nil {
		return nil, err
	}

	ac := attemptContext{
		kbAccountID:     kbAccountID,
		kbPaymentID:     kbPaymentID,
		externalKey:     kbTransactionExternalKey,
		transactionType: TypeRefund,
	}

	purchase, err := p.store.ProcessedPurchase(kbPaymentID)
	if err != nil {
		return nil, NewValidationError(fmt.Sprintf("no processed purchase found for payment %s", kbPaymentID))
	}
	if purchase.PaypalTxnID == nil || *purchase.PaypalTxnID == "" {
		return nil, NewValidationError(fmt.Sprintf("purchase for payment %s has no gateway transaction id", kbPaymentID))
	}

	// Pre-check the captured transaction before moving money back.
	details, err := p.gateway.GetTransactionDetails(ctx, *purchase.PaypalTxnID)
	if err != nil {
		return nil, err
	}
	if !details.Success() {
		return p.recordFailedExchange(ac, details, StatusError, details.Message(), "")
	}
	if err := p.appendExchange(kbAccountID, kbPaymentID, details); err != nil {
		return nil, err
	}

	refund, err := p.gateway.RefundTransaction(ctx, nvp.RefundRequest{
		TransactionID: *purchase.PaypalTxnID,
		Amount:        amount,
		Currency:      currency,
	})
	if err != nil {
		return nil, err
	}

	if !refund.Success() {
		p.log.Info("refund declined by gateway",
			zap.String("kb_payment_id", kbPaymentID),
			zap.String("gateway_message", refund.Message()))
		return p.recordFailedExchange(ac, refund, StatusError, refund.Message(), "")
	}
	if err := p.appendExchange(kbAccountID, kbPaymentID, refund); err != nil {
		return nil, err
	}

	refundTxnID := refund.RefundTransactionID()
	p.log.Info("refund processed",
		zap.String("kb_payment_id", kbPaymentID),
		zap.String("paypal_txn_id", refundTxnID))

	return p.recordProcessed(ac, amount, currency, refundTxnID)
}

// GetPaymentInfo returns the reconciled projection of every attempt for
// kbPaymentID, in creation order (purchases before the refunds that
// followed them). Attempts that never produced a durable transaction are
// projected from their reconciled outcome in the response ledger.
func (p *Plugin) GetPaymentInfo(
	ctx context.Context,
	kbAccountID, kbPaymentID string,
	properties []Property,
	callCtx CallContext,
) ([]PaymentTransactionInfo, error) {
	if err := p.resolveAccount(kbAccountID, callCtx); err != nil {
		return nil, err
	}

	txns, err := p.store.TransactionsForPayment(kbPaymentID)
	if err != nil {
		return nil, err
	}
	if len(txns) > 0 {
		infos := make([]PaymentTransactionInfo, 0, len(txns))
		for _, txn := range txns {
			infos = append(infos, infoFromTransaction(txn))
		}
		return infos, nil
	}

	outcomes, err := p.store.OutcomeResponsesForPayment(kbPaymentID)
	if err != nil {
		return nil, err
	}
	infos := make([]PaymentTransactionInfo, 0, len(outcomes))
	for _, resp := range outcomes {
		infos = append(infos, infoFromOutcome(resp))
	}
	return infos, nil
}

// ============================================================================
// Attempt recording
// ============================================================================

// attemptContext identifies the attempt an outcome belongs to.
type attemptContext struct {
	kbAccountID     string
	kbPaymentID     string
	externalKey     string
	transactionType TransactionType
}

// recordProcessed records a successful capture or refund. It completes the
// pre-created PENDING attempt for the payment when one exists, and appends
// a fresh transaction row otherwise. Either way the PENDING -> terminal
// transition happens at most once per row.
func (p *Plugin) recordProcessed(ac attemptContext, amount decimal.Decimal, currency, paypalTxnID string) (*PaymentTransactionInfo, error) {
	update := ledger.TerminalUpdate{
		Status:       string(StatusProcessed),
		Amount:       decimal.NullDecimal{Decimal: amount, Valid: true},
		Currency:     currency,
		PaypalTxnID:  &paypalTxnID,
		GatewayError: MsgSuccess,
	}

	if ac.transactionType == TypePurchase {
		err := p.store.CompletePending(ac.kbPaymentID, update)
		if err == nil {
			return p.latestInfo(ac.kbPaymentID, TypePurchase)
		}
		if !errors.Is(err, ledger.ErrNotFound) {
			return nil, err
		}
	}

	txn := &ledger.Transaction{
		KBAccountID:              ac.kbAccountID,
		KBPaymentID:              ac.kbPaymentID,
		KBTransactionExternalKey: ac.externalKey,
		TransactionType:          string(ac.transactionType),
		Status:                   update.Status,
		Amount:                   update.Amount,
		Currency:                 update.Currency,
		PaypalTxnID:              update.PaypalTxnID,
		GatewayError:             update.GatewayError,
	}
	if err := p.store.CreateTransaction(txn); err != nil {
		return nil, err
	}

	info := infoFromTransaction(*txn)
	return &info, nil
}

// recordFailedExchange appends a gateway exchange as the reconciled outcome
// of a failed attempt. Failed attempts never get a transaction row; the
// outcome response is their durable record.
func (p *Plugin) recordFailedExchange(ac attemptContext, resp *nvp.Response, status TransactionStatus, message, code string) (*PaymentTransactionInfo, error) {
	row := responseFromExchange(ac.kbAccountID, ac.kbPaymentID, resp)
	row.TransactionType = string(ac.transactionType)
	row.MappedStatus = string(status)
	row.MappedError = message
	if code != "" {
		row.MappedErrorCode = &code
	}
	if err := p.store.AppendResponse(row); err != nil {
		return nil, err
	}

	info := infoFromOutcome(*row)
	return &info, nil
}

// recordLocalFailure snapshots a terminal failure that produced no gateway
// exchange (missing token, reused token).
func (p *Plugin) recordLocalFailure(ac attemptContext, status TransactionStatus, message, code, token string) (*PaymentTransactionInfo, error) {
	row := &ledger.Response{
		KBAccountID:     ac.kbAccountID,
		KBPaymentID:     ac.kbPaymentID,
		APICall:         "purchase",
		Success:         false,
		Message:         message,
		Token:           token,
		TransactionType: string(ac.transactionType),
		MappedStatus:    string(status),
		MappedError:     message,
	}
	if code != "" {
		row.MappedErrorCode = &code
	}
	if err := p.store.AppendResponse(row); err != nil {
		return nil, err
	}

	info := infoFromOutcome(*row)
	return &info, nil
}

// appendExchange snapshots one successful mid-flight NVP exchange into the
// response ledger.
func (p *Plugin) appendExchange(kbAccountID, kbPaymentID string, resp *nvp.Response) error {
	return p.store.AppendResponse(responseFromExchange(kbAccountID, kbPaymentID, resp))
}

func responseFromExchange(kbAccountID, kbPaymentID string, resp *nvp.Response) *ledger.Response {
	return &ledger.Response{
		KBAccountID:  kbAccountID,
		KBPaymentID:  kbPaymentID,
		APICall:      resp.Method,
		Success:      resp.Success(),
		Message:      resp.Message(),
		Token:        resp.Token(),
		PayerID:      resp.PayerID(),
		PaypalTxnID:  resp.TransactionID(),
		RequestData:  resp.Request.Encode(),
		ResponseData: resp.Values.Encode(),
	}
}

func (p *Plugin) latestInfo(kbPaymentID string, txnType TransactionType) (*PaymentTransactionInfo, error) {
	txns, err := p.store.TransactionsForPayment(kbPaymentID)
	if err != nil {
		return nil, err
	}
	for i := len(txns) - 1; i >= 0; i-- {
		if txns[i].TransactionType == string(txnType) {
			info := infoFromTransaction(txns[i])
			return &info, nil
		}
	}
	return nil, ledger.ErrNotFound
}

// infoFromTransaction maps a transaction row into the caller-facing
// projection. PENDING attempts report no amount or currency and carry the
// structured pending placeholder as their gateway error.
func infoFromTransaction(txn ledger.Transaction) PaymentTransactionInfo {
	info := PaymentTransactionInfo{
		KBPaymentID:              txn.KBPaymentID,
		KBTransactionExternalKey: txn.KBTransactionExternalKey,
		TransactionType:          TransactionType(txn.TransactionType),
		Status:                   TransactionStatus(txn.Status),
		GatewayError:             txn.GatewayError,
	}
	if txn.GatewayErrorCode != nil {
		info.GatewayErrorCode = *txn.GatewayErrorCode
	}
	if txn.PaypalTxnID != nil {
		info.FirstPaymentReferenceID = *txn.PaypalTxnID
	}
	if txn.Status == string(StatusPending) {
		info.GatewayError = MsgPendingPlaceholder
		return info
	}
	if txn.Amount.Valid {
		amount := txn.Amount.Decimal
		info.Amount = &amount
		info.Currency = txn.Currency
	}
	return info
}

// infoFromOutcome maps a reconciled outcome response into the caller-facing
// projection. Failed attempts never carry an amount or currency.
func infoFromOutcome(resp ledger.Response) PaymentTransactionInfo {
	info := PaymentTransactionInfo{
		KBPaymentID:     resp.KBPaymentID,
		TransactionType: TransactionType(resp.TransactionType),
		Status:          TransactionStatus(resp.MappedStatus),
		GatewayError:    resp.MappedError,
	}
	if resp.MappedErrorCode != nil {
		info.GatewayErrorCode = *resp.MappedErrorCode
	}
	return info
}
