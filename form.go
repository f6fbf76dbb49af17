package paypalexpress

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/openbilling/paypal-express-go/ledger"
	"github.com/openbilling/paypal-express-go/nvp"
)

// BuildFormDescriptor opens a checkout session at the gateway and returns
// the redirect descriptor the caller presents to the end user. The token
// property is unique per call, so concurrent redirect sessions for the same
// form fields never collide.
//
// When the create_pending_payment property is truthy, a PENDING purchase
// attempt is pre-created under a fresh kb_payment_id and both kb_payment_id
// and kb_transaction_external_key are exposed as form properties. Without
// it, those two keys are absent from the returned properties.
func (p *Plugin) BuildFormDescriptor(
	ctx context.Context,
	kbAccountID string,
	formFields []Property,
	properties []Property,
	callCtx CallContext,
) (*FormDescriptor, error) {
	if err := p.resolveAccount(kbAccountID, callCtx); err != nil {
		return nil, err
	}

	amountStr, ok := FindProperty(formFields, PropAmount)
	if !ok {
		return nil, NewValidationError("form field amount is missing")
	}
	amount, err := decimal.NewFromString(amountStr)
	if err != nil {
		return nil, NewValidationError(fmt.Sprintf("form field amount is malformed: %s", amountStr))
	}
	currency, ok := FindProperty(formFields, PropCurrency)
	if !ok {
		return nil, NewValidationError("form field currency is missing")
	}
	orderID, _ := FindProperty(formFields, PropOrderID)

	checkout, err := p.gateway.SetExpressCheckout(ctx, nvp.CheckoutRequest{
		Amount:    amount,
		Currency:  currency,
		OrderID:   orderID,
		ReturnURL: p.returnURL,
		CancelURL: p.cancelURL,
	})
	if err != nil {
		return nil, err
	}
	if !checkout.Success() || checkout.Token() == "" {
		return nil, fmt.Errorf("gateway refused to open a checkout session: %s", checkout.Message())
	}

	token := checkout.Token()
	p.sessions.Issue(token, kbAccountID, amount, currency)
	p.log.Info("checkout session opened",
		zap.String("kb_account_id", kbAccountID),
		zap.String("token", token))

	pendingPaymentID := ""
	pendingExternalKey := ""
	if isTruthy(properties, PropCreatePendingPayment) {
		pendingPaymentID = uuid.NewString()
		pendingExternalKey, _ = FindProperty(properties, PropExternalKey)
		if pendingExternalKey == "" {
			pendingExternalKey = uuid.NewString()
		}

		if err := p.store.CreateTransaction(&ledger.Transaction{
			KBAccountID:              kbAccountID,
			KBPaymentID:              pendingPaymentID,
			KBTransactionExternalKey: pendingExternalKey,
			TransactionType:          string(TypePurchase),
			Status:                   string(StatusPending),
		}); err != nil {
			return nil, err
		}
		p.log.Info("pending payment pre-created",
			zap.String("kb_payment_id", pendingPaymentID),
			zap.String("kb_transaction_external_key", pendingExternalKey))
	}

	if err := p.appendExchange(kbAccountID, pendingPaymentID, checkout); err != nil {
		return nil, err
	}

	// The pre-created attempt gets an initial checkout-state snapshot so
	// the pending row is traceable to a gateway-visible session.
	if pendingPaymentID != "" {
		details, err := p.gateway.GetExpressCheckoutDetails(ctx, token)
		if err != nil {
			return nil, err
		}
		if err := p.appendExchange(kbAccountID, pendingPaymentID, details); err != nil {
			return nil, err
		}
	}

	props := []Property{
		{Key: PropToken, Value: token},
		{Key: PropOrderID, Value: orderID},
		{Key: PropAmount, Value: amount.StringFixed(2)},
		{Key: PropCurrency, Value: currency},
	}
	if pendingPaymentID != "" {
		props = append(props,
			Property{Key: PropKBPaymentID, Value: pendingPaymentID},
			Property{Key: PropTransactionExtKey, Value: pendingExternalKey},
		)
	}
	// Unrecognized caller properties pass through untouched.
	for _, prop := range properties {
		switch prop.Key {
		case PropCreatePendingPayment, PropExternalKey, PropToken:
			continue
		}
		props = append(props, prop)
	}

	return &FormDescriptor{
		KBAccountID: kbAccountID,
		FormURL:     fmt.Sprintf("%s?cmd=_express-checkout&token=%s", p.redirectBase, url.QueryEscape(token)),
		Properties:  props,
	}, nil
}

// isTruthy reports whether the property is present and parses as true.
func isTruthy(props []Property, key string) bool {
	v, ok := FindProperty(props, key)
	if !ok {
		return false
	}
	b, err := strconv.ParseBool(v)
	return err == nil && b
}
