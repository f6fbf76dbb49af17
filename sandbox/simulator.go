// Package sandbox provides an in-process PayPal sandbox simulator speaking
// just enough of the NVP API for the Express Checkout redirect flow. Tests
// point the NVP client at it and drive the end user's off-site approval
// programmatically.
package sandbox

import (
	"fmt"
	"net/http"
	"net/url"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type checkout struct {
	token     string
	amount    string
	currency  string
	orderID   string
	payerID   string
	completed bool
}

type capture struct {
	transactionID string
	amount        string
	currency      string
	refunded      bool
}

// Simulator holds the gateway-side state of every checkout session and
// captured transaction.
type Simulator struct {
	mu        sync.Mutex
	checkouts map[string]*checkout
	captures  map[string]*capture
}

// New creates an empty simulator.
func New() *Simulator {
	return &Simulator{
		checkouts: make(map[string]*checkout),
		captures:  make(map[string]*capture),
	}
}

// Handler returns the HTTP handler exposing the NVP endpoint at /nvp.
func (s *Simulator) Handler() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.POST("/nvp", s.handleNVP)
	return router
}

// Authorize simulates the end user approving the hosted checkout page:
// the gateway binds a payer id to the token. Returns false for unknown
// tokens.
func (s *Simulator) Authorize(token, payerID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	co, ok := s.checkouts[token]
	if !ok {
		return false
	}
	co.payerID = payerID
	return true
}

func (s *Simulator) handleNVP(c *gin.Context) {
	if err := c.Request.ParseForm(); err != nil {
		c.String(http.StatusBadRequest, "malformed request")
		return
	}
	params := c.Request.PostForm

	var reply url.Values
	switch params.Get("METHOD") {
	case "SetExpressCheckout":
		reply = s.setExpressCheckout(params)
	case "GetExpressCheckoutDetails":
		reply = s.getExpressCheckoutDetails(params)
	case "DoExpressCheckoutPayment":
		reply = s.doExpressCheckoutPayment(params)
	case "GetTransactionDetails":
		reply = s.getTransactionDetails(params)
	case "RefundTransaction":
		reply = s.refundTransaction(params)
	default:
		reply = failure("81002", fmt.Sprintf("Method %q specified is not supported", params.Get("METHOD")))
	}

	reply.Set("CORRELATIONID", uuid.NewString()[:13])
	c.String(http.StatusOK, reply.Encode())
}

func (s *Simulator) setExpressCheckout(params url.Values) url.Values {
	s.mu.Lock()
	defer s.mu.Unlock()

	token := "EC-" + uuid.NewString()
	s.checkouts[token] = &checkout{
		token:    token,
		amount:   params.Get("AMT"),
		currency: params.Get("CURRENCYCODE"),
		orderID:  params.Get("INVNUM"),
	}

	reply := success()
	reply.Set("TOKEN", token)
	return reply
}

func (s *Simulator) getExpressCheckoutDetails(params url.Values) url.Values {
	s.mu.Lock()
	defer s.mu.Unlock()

	co, ok := s.checkouts[params.Get("TOKEN")]
	if !ok {
		return failure("10410", "Invalid token.")
	}

	reply := success()
	reply.Set("TOKEN", co.token)
	reply.Set("AMT", co.amount)
	reply.Set("CURRENCYCODE", co.currency)
	if co.completed {
		reply.Set("CHECKOUTSTATUS", "PaymentActionCompleted")
	} else {
		reply.Set("CHECKOUTSTATUS", "PaymentActionNotInitiated")
	}
	if co.payerID != "" {
		reply.Set("PAYERID", co.payerID)
	}
	return reply
}

func (s *Simulator) doExpressCheckoutPayment(params url.Values) url.Values {
	s.mu.Lock()
	defer s.mu.Unlock()

	co, ok := s.checkouts[params.Get("TOKEN")]
	if !ok {
		return failure("10410", "Invalid token.")
	}
	if co.completed {
		return failure("11607", "A successful transaction has already been completed for this token.")
	}
	if co.payerID == "" || co.payerID != params.Get("PAYERID") {
		return failure("10417", "The transaction cannot complete successfully. Instruct the customer to use an alternative payment method.")
	}

	co.completed = true
	transactionID := "TXN-" + uuid.NewString()[:18]
	s.captures[transactionID] = &capture{
		transactionID: transactionID,
		amount:        params.Get("AMT"),
		currency:      params.Get("CURRENCYCODE"),
	}

	reply := success()
	reply.Set("TOKEN", co.token)
	reply.Set("PAYMENTINFO_0_TRANSACTIONID", transactionID)
	reply.Set("PAYMENTINFO_0_PAYMENTSTATUS", "Completed")
	reply.Set("PAYMENTINFO_0_AMT", params.Get("AMT"))
	reply.Set("PAYMENTINFO_0_CURRENCYCODE", params.Get("CURRENCYCODE"))
	return reply
}

func (s *Simulator) getTransactionDetails(params url.Values) url.Values {
	s.mu.Lock()
	defer s.mu.Unlock()

	txn, ok := s.captures[params.Get("TRANSACTIONID")]
	if !ok {
		return failure("10004", "The transaction id is not valid")
	}

	reply := success()
	reply.Set("TRANSACTIONID", txn.transactionID)
	reply.Set("AMT", txn.amount)
	reply.Set("CURRENCYCODE", txn.currency)
	if txn.refunded {
		reply.Set("PAYMENTSTATUS", "Refunded")
	} else {
		reply.Set("PAYMENTSTATUS", "Completed")
	}
	return reply
}

func (s *Simulator) refundTransaction(params url.Values) url.Values {
	s.mu.Lock()
	defer s.mu.Unlock()

	txn, ok := s.captures[params.Get("TRANSACTIONID")]
	if !ok {
		return failure("10004", "The transaction id is not valid")
	}
	if txn.refunded {
		return failure("10009", "This transaction has already been fully refunded")
	}

	txn.refunded = true
	reply := success()
	reply.Set("REFUNDTRANSACTIONID", "TXN-"+uuid.NewString()[:18])
	reply.Set("GROSSREFUNDAMT", params.Get("AMT"))
	return reply
}

func success() url.Values {
	reply := url.Values{}
	reply.Set("ACK", "Success")
	reply.Set("VERSION", "124")
	return reply
}

func failure(code, message string) url.Values {
	reply := url.Values{}
	reply.Set("ACK", "Failure")
	reply.Set("VERSION", "124")
	reply.Set("L_ERRORCODE0", code)
	reply.Set("L_SHORTMESSAGE0", message)
	reply.Set("L_LONGMESSAGE0", message)
	return reply
}
