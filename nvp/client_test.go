package nvp

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/shopspring/decimal"
)

func TestNewClientDefaults(t *testing.T) {
	client := NewClient(nil)
	if client == nil {
		t.Fatal("expected client to be created")
	}
	if client.endpoint != SandboxEndpoint {
		t.Errorf("expected default endpoint %s, got %s", SandboxEndpoint, client.endpoint)
	}

	client = NewClient(&Config{Endpoint: "https://api.example.com/nvp"})
	if client.endpoint != "https://api.example.com/nvp" {
		t.Errorf("unexpected endpoint %s", client.endpoint)
	}
}

func TestSetExpressCheckout(t *testing.T) {
	ctx := context.Background()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if err := r.ParseForm(); err != nil {
			t.Fatalf("failed to parse form: %v", err)
		}
		if got := r.PostForm.Get("METHOD"); got != MethodSetExpressCheckout {
			t.Errorf("expected METHOD %s, got %s", MethodSetExpressCheckout, got)
		}
		if got := r.PostForm.Get("AMT"); got != "100.00" {
			t.Errorf("expected AMT 100.00, got %s", got)
		}
		if got := r.PostForm.Get("CURRENCYCODE"); got != "USD" {
			t.Errorf("expected CURRENCYCODE USD, got %s", got)
		}
		if got := r.PostForm.Get("USER"); got != "api-user" {
			t.Errorf("expected USER api-user, got %s", got)
		}

		reply := url.Values{}
		reply.Set("ACK", AckSuccess)
		reply.Set("TOKEN", "EC-123")
		reply.Set("CORRELATIONID", "abc")
		w.Write([]byte(reply.Encode()))
	}))
	defer server.Close()

	client := NewClient(&Config{
		Endpoint: server.URL,
		User:     "api-user",
		Password: "api-pwd",
	})

	resp, err := client.SetExpressCheckout(ctx, CheckoutRequest{
		Amount:   decimal.NewFromInt(100),
		Currency: "USD",
		OrderID:  "1234",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !resp.Success() {
		t.Error("expected success ack")
	}
	if resp.Token() != "EC-123" {
		t.Errorf("expected token EC-123, got %s", resp.Token())
	}

	// Credentials must not survive in the retained request params.
	for _, k := range []string{"USER", "PWD", "SIGNATURE"} {
		if _, ok := resp.Request[k]; ok {
			t.Errorf("expected %s to be stripped from retained request", k)
		}
	}
	if resp.Request.Get("AMT") != "100.00" {
		t.Errorf("expected retained AMT 100.00, got %s", resp.Request.Get("AMT"))
	}
}

func TestGatewayFailureIsNotAnError(t *testing.T) {
	ctx := context.Background()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reply := url.Values{}
		reply.Set("ACK", AckFailure)
		reply.Set("L_ERRORCODE0", "11607")
		reply.Set("L_LONGMESSAGE0", "A successful transaction has already been completed for this token.")
		w.Write([]byte(reply.Encode()))
	}))
	defer server.Close()

	client := NewClient(&Config{Endpoint: server.URL})

	resp, err := client.DoExpressCheckoutPayment(ctx, PaymentRequest{
		Token:    "EC-used",
		PayerID:  "payer-1",
		Amount:   decimal.NewFromInt(100),
		Currency: "USD",
	})
	if err != nil {
		t.Fatalf("gateway decline must not surface as a transport error: %v", err)
	}
	if resp.Success() {
		t.Error("expected failure ack")
	}
	if resp.ErrorCode() != "11607" {
		t.Errorf("expected error code 11607, got %s", resp.ErrorCode())
	}
	if resp.Message() != "A successful transaction has already been completed for this token." {
		t.Errorf("unexpected message: %s", resp.Message())
	}
}

func TestTransportFailureIsAnError(t *testing.T) {
	ctx := context.Background()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client := NewClient(&Config{Endpoint: server.URL})

	if _, err := client.GetExpressCheckoutDetails(ctx, "EC-1"); err == nil {
		t.Fatal("expected an error for a 502 response")
	}

	server.Close()
	if _, err := client.GetExpressCheckoutDetails(ctx, "EC-1"); err == nil {
		t.Fatal("expected an error for a refused connection")
	}
}

func TestResponseAccessors(t *testing.T) {
	resp := &Response{Values: url.Values{
		"ACK":                         []string{AckSuccessWithWarning},
		"PAYMENTINFO_0_TRANSACTIONID": []string{"TXN-1"},
		"PAYERID":                     []string{"payer-9"},
		"L_SHORTMESSAGE0":             []string{"short"},
	}}

	if !resp.Success() {
		t.Error("SuccessWithWarning must count as success")
	}
	if resp.TransactionID() != "TXN-1" {
		t.Errorf("unexpected transaction id %s", resp.TransactionID())
	}
	if resp.Message() != "short" {
		t.Errorf("expected short-message fallback, got %s", resp.Message())
	}
}
