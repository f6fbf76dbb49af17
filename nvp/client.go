package nvp

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Well-known PayPal endpoints.
const (
	SandboxEndpoint    = "https://api-3t.sandbox.paypal.com/nvp"
	ProductionEndpoint = "https://api-3t.paypal.com/nvp"

	// SandboxRedirectBase is the hosted checkout page end users are sent to
	// in the sandbox environment.
	SandboxRedirectBase    = "https://www.sandbox.paypal.com/cgi-bin/webscr"
	ProductionRedirectBase = "https://www.paypal.com/cgi-bin/webscr"
)

// APIVersion is the NVP protocol version sent with every call.
const APIVersion = "124"

// Config configures the NVP client.
type Config struct {
	// Endpoint is the NVP API endpoint (defaults to SandboxEndpoint).
	Endpoint string

	// API credentials.
	User      string
	Password  string
	Signature string

	// HTTPClient is the HTTP client to use (optional).
	HTTPClient *http.Client

	// Timeout for requests (optional, defaults to 30s). Ignored when
	// HTTPClient is set.
	Timeout time.Duration

	// Logger for per-call debug logging (optional, defaults to no-op).
	Logger *zap.Logger
}

// Client performs NVP calls against one PayPal endpoint.
type Client struct {
	endpoint   string
	user       string
	password   string
	signature  string
	httpClient *http.Client
	log        *zap.Logger
}

// NewClient creates an NVP client. A nil config targets the sandbox with
// default timeouts and no credentials.
func NewClient(config *Config) *Client {
	if config == nil {
		config = &Config{}
	}

	endpoint := config.Endpoint
	if endpoint == "" {
		endpoint = SandboxEndpoint
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		timeout := config.Timeout
		if timeout == 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	log := config.Logger
	if log == nil {
		log = zap.NewNop()
	}

	return &Client{
		endpoint:   endpoint,
		user:       config.User,
		password:   config.Password,
		signature:  config.Signature,
		httpClient: httpClient,
		log:        log,
	}
}

// CheckoutRequest carries the parameters of a SetExpressCheckout call.
type CheckoutRequest struct {
	Amount    decimal.Decimal
	Currency  string
	OrderID   string
	ReturnURL string
	CancelURL string
}

// PaymentRequest carries the parameters of a DoExpressCheckoutPayment call.
type PaymentRequest struct {
	Token    string
	PayerID  string
	Amount   decimal.Decimal
	Currency string
}

// RefundRequest carries the parameters of a RefundTransaction call.
type RefundRequest struct {
	TransactionID string
	Amount        decimal.Decimal
	Currency      string
}

// SetExpressCheckout opens a checkout session and returns the token the end
// user completes it with.
func (c *Client) SetExpressCheckout(ctx context.Context, req CheckoutRequest) (*Response, error) {
	params := url.Values{}
	params.Set("AMT", formatAmount(req.Amount))
	params.Set("CURRENCYCODE", req.Currency)
	params.Set("INVNUM", req.OrderID)
	params.Set("RETURNURL", req.ReturnURL)
	params.Set("CANCELURL", req.CancelURL)
	params.Set("PAYMENTACTION", "Sale")
	return c.call(ctx, MethodSetExpressCheckout, params)
}

// GetExpressCheckoutDetails queries the real-time state of a checkout
// token, including the payer id once the end user approved it.
func (c *Client) GetExpressCheckoutDetails(ctx context.Context, token string) (*Response, error) {
	params := url.Values{}
	params.Set("TOKEN", token)
	return c.call(ctx, MethodGetExpressCheckoutDetails, params)
}

// DoExpressCheckoutPayment captures the payment for an approved token.
func (c *Client) DoExpressCheckoutPayment(ctx context.Context, req PaymentRequest) (*Response, error) {
	params := url.Values{}
	params.Set("TOKEN", req.Token)
	params.Set("PAYERID", req.PayerID)
	params.Set("AMT", formatAmount(req.Amount))
	params.Set("CURRENCYCODE", req.Currency)
	params.Set("PAYMENTACTION", "Sale")
	return c.call(ctx, MethodDoExpressCheckoutPayment, params)
}

// GetTransactionDetails queries the state of a captured transaction.
func (c *Client) GetTransactionDetails(ctx context.Context, transactionID string) (*Response, error) {
	params := url.Values{}
	params.Set("TRANSACTIONID", transactionID)
	return c.call(ctx, MethodGetTransactionDetails, params)
}

// RefundTransaction refunds a captured transaction, fully or partially.
func (c *Client) RefundTransaction(ctx context.Context, req RefundRequest) (*Response, error) {
	params := url.Values{}
	params.Set("TRANSACTIONID", req.TransactionID)
	params.Set("REFUNDTYPE", "Partial")
	params.Set("AMT", formatAmount(req.Amount))
	params.Set("CURRENCYCODE", req.Currency)
	return c.call(ctx, MethodRefundTransaction, params)
}

// call performs one NVP round trip. A non-nil error means the exchange
// never produced a gateway verdict (transport failure, malformed body);
// gateway-level failures come back as a Response with ACK=Failure.
func (c *Client) call(ctx context.Context, method string, params url.Values) (*Response, error) {
	body := url.Values{}
	for k, vs := range params {
		body[k] = vs
	}
	body.Set("METHOD", method)
	body.Set("VERSION", APIVersion)
	body.Set("USER", c.user)
	body.Set("PWD", c.password)
	body.Set("SIGNATURE", c.signature)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, strings.NewReader(body.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s request failed: %w", method, err)
	}
	defer resp.Body.Close()

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s response body: %w", method, err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s failed (%d): %s", method, resp.StatusCode, string(responseBody))
	}

	values, err := url.ParseQuery(string(responseBody))
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s response: %w", method, err)
	}

	result := &Response{Method: method, Request: sanitize(body), Values: values}

	c.log.Debug("nvp call",
		zap.String("method", method),
		zap.String("ack", result.Ack()),
		zap.String("correlation_id", result.CorrelationID()),
	)

	return result, nil
}

// sanitize strips credentials from outbound parameters before they are
// retained for the response ledger.
func sanitize(params url.Values) url.Values {
	clean := url.Values{}
	for k, vs := range params {
		switch k {
		case "USER", "PWD", "SIGNATURE":
			continue
		}
		clean[k] = vs
	}
	return clean
}

func formatAmount(amount decimal.Decimal) string {
	return amount.StringFixed(2)
}
