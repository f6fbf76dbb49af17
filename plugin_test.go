package paypalexpress

import (
	"context"
	"errors"
	"net/url"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/openbilling/paypal-express-go/ledger"
	"github.com/openbilling/paypal-express-go/nvp"
	"github.com/openbilling/paypal-express-go/session"
)

// mockGateway implements GatewayClient for testing
type mockGateway struct {
	setResp     *nvp.Response
	detailsResp *nvp.Response
	doResp      *nvp.Response
	txnResp     *nvp.Response
	refundResp  *nvp.Response

	setErr     error
	detailsErr error
	doErr      error
	txnErr     error
	refundErr  error

	doCalls int
}

func (m *mockGateway) SetExpressCheckout(ctx context.Context, req nvp.CheckoutRequest) (*nvp.Response, error) {
	return m.setResp, m.setErr
}

func (m *mockGateway) GetExpressCheckoutDetails(ctx context.Context, token string) (*nvp.Response, error) {
	return m.detailsResp, m.detailsErr
}

func (m *mockGateway) DoExpressCheckoutPayment(ctx context.Context, req nvp.PaymentRequest) (*nvp.Response, error) {
	m.doCalls++
	return m.doResp, m.doErr
}

func (m *mockGateway) GetTransactionDetails(ctx context.Context, transactionID string) (*nvp.Response, error) {
	return m.txnResp, m.txnErr
}

func (m *mockGateway) RefundTransaction(ctx context.Context, req nvp.RefundRequest) (*nvp.Response, error) {
	return m.refundResp, m.refundErr
}

func gatewayResponse(method string, fields map[string]string) *nvp.Response {
	values := url.Values{}
	for k, v := range fields {
		values.Set(k, v)
	}
	return &nvp.Response{Method: method, Request: url.Values{}, Values: values}
}

func newTestPlugin(t *testing.T, gateway GatewayClient) *Plugin {
	t.Helper()
	store, err := ledger.OpenMemory()
	if err != nil {
		t.Fatalf("failed to open ledger: %v", err)
	}
	return New(gateway, store)
}

func TestPurchaseTransportFailureLeavesLedgerUntouched(t *testing.T) {
	gateway := &mockGateway{
		detailsResp: gatewayResponse(nvp.MethodGetExpressCheckoutDetails, map[string]string{
			"ACK":     nvp.AckSuccess,
			"TOKEN":   "EC-1",
			"PAYERID": "payer-1",
		}),
		doErr: errors.New("connection reset by peer"),
	}
	p := newTestPlugin(t, gateway)

	props := []Property{{Key: PropToken, Value: "EC-1"}}
	_, err := p.PurchasePayment(context.Background(), "account-1", "payment-1", "ext-1", "pm-1",
		decimal.NewFromInt(100), "USD", props, CallContext{})
	if err == nil {
		t.Fatal("expected the transport failure to propagate")
	}

	// No attempt was recorded: the platform's retry layer decides.
	count, err := p.Ledger().CountTransactions()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if count != 0 {
		t.Errorf("expected no transaction rows, got %d", count)
	}

	// The token went back to ISSUED so a retry can consume it again.
	tok, ok := p.Sessions().Get("EC-1")
	if !ok {
		t.Fatal("expected the token to be tracked")
	}
	if tok.State != session.StateIssued {
		t.Errorf("expected token released to ISSUED, got %s", tok.State)
	}
}

func TestPurchaseGatewayDeclineSurfacesVerbatim(t *testing.T) {
	gateway := &mockGateway{
		detailsResp: gatewayResponse(nvp.MethodGetExpressCheckoutDetails, map[string]string{
			"ACK":     nvp.AckSuccess,
			"TOKEN":   "EC-1",
			"PAYERID": "payer-1",
		}),
		doResp: gatewayResponse(nvp.MethodDoExpressCheckoutPayment, map[string]string{
			"ACK":            nvp.AckFailure,
			"L_ERRORCODE0":   "10486",
			"L_LONGMESSAGE0": "This transaction couldn't be completed.",
		}),
	}
	p := newTestPlugin(t, gateway)

	props := []Property{{Key: PropToken, Value: "EC-1"}}
	resp, err := p.PurchasePayment(context.Background(), "account-1", "payment-1", "ext-1", "pm-1",
		decimal.NewFromInt(100), "USD", props, CallContext{})
	if err != nil {
		t.Fatalf("a decline is a result, not an error: %v", err)
	}
	if resp.Status != StatusError {
		t.Errorf("expected ERROR, got %s", resp.Status)
	}
	if resp.GatewayError != "This transaction couldn't be completed." {
		t.Errorf("expected the gateway message verbatim, got %q", resp.GatewayError)
	}
	// Declines carry no error code, unlike our-side validation failures.
	if resp.GatewayErrorCode != "" {
		t.Errorf("expected empty error code, got %q", resp.GatewayErrorCode)
	}
	if resp.Amount != nil {
		t.Errorf("expected nil amount on a declined purchase, got %v", resp.Amount)
	}
}

func TestPurchaseMissingTokenNeverReachesGateway(t *testing.T) {
	gateway := &mockGateway{}
	p := newTestPlugin(t, gateway)

	resp, err := p.PurchasePayment(context.Background(), "account-1", "payment-1", "ext-1", "pm-1",
		decimal.NewFromInt(100), "USD", nil, CallContext{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Status != StatusCanceled {
		t.Errorf("expected CANCELED, got %s", resp.Status)
	}
	if resp.GatewayError != MsgTokenMissing {
		t.Errorf("unexpected message %q", resp.GatewayError)
	}
	if resp.GatewayErrorCode != RuntimeErrorCode {
		t.Errorf("expected %s, got %q", RuntimeErrorCode, resp.GatewayErrorCode)
	}
	if gateway.doCalls != 0 {
		t.Errorf("expected no capture call, got %d", gateway.doCalls)
	}

	// The local failure still snapshots exactly one response row.
	count, err := p.Ledger().CountResponses()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if count != 1 {
		t.Errorf("expected 1 response row, got %d", count)
	}
}

func TestRefundRequiresProcessedPurchase(t *testing.T) {
	p := newTestPlugin(t, &mockGateway{})

	_, err := p.RefundPayment(context.Background(), "account-1", "payment-1", "ext-1", "pm-1",
		decimal.NewFromInt(100), "USD", nil, CallContext{})
	if err == nil {
		t.Fatal("expected a validation error")
	}
	var pluginErr *PluginError
	if !errors.As(err, &pluginErr) {
		t.Fatalf("expected a *PluginError, got %T", err)
	}
	if pluginErr.Kind != KindValidation {
		t.Errorf("expected validation kind, got %s", pluginErr.Kind)
	}
	if pluginErr.Code != RuntimeErrorCode {
		t.Errorf("expected %s, got %q", RuntimeErrorCode, pluginErr.Code)
	}

	count, err := p.Ledger().CountResponses()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if count != 0 {
		t.Errorf("expected no ledger mutation, got %d response rows", count)
	}
}
