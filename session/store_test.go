package session

import (
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
)

func TestConsumeLifecycle(t *testing.T) {
	s := NewStore()
	amount := decimal.NewFromInt(100)

	s.Issue("EC-1", "account-1", amount, "USD")

	// Not authorized yet: consume must fail and leave the token ISSUED.
	if _, err := s.Consume("EC-1"); !errors.Is(err, ErrPayerMissing) {
		t.Fatalf("expected ErrPayerMissing, got %v", err)
	}
	tok, ok := s.Get("EC-1")
	if !ok || tok.State != StateIssued {
		t.Fatalf("expected token to stay ISSUED, got %+v", tok)
	}

	if err := s.Authorize("EC-1", "payer-1"); err != nil {
		t.Fatalf("unexpected authorize error: %v", err)
	}

	payerID, err := s.Consume("EC-1")
	if err != nil {
		t.Fatalf("unexpected consume error: %v", err)
	}
	if payerID != "payer-1" {
		t.Errorf("expected payer-1, got %s", payerID)
	}

	// Second consume always fails, whatever happened downstream.
	if _, err := s.Consume("EC-1"); !errors.Is(err, ErrTokenAlreadyUsed) {
		t.Fatalf("expected ErrTokenAlreadyUsed, got %v", err)
	}
}

func TestConsumeUnknownToken(t *testing.T) {
	s := NewStore()
	if _, err := s.Consume("EC-unknown"); !errors.Is(err, ErrTokenNotFound) {
		t.Fatalf("expected ErrTokenNotFound, got %v", err)
	}
	if err := s.Authorize("EC-unknown", "payer-1"); !errors.Is(err, ErrTokenNotFound) {
		t.Fatalf("expected ErrTokenNotFound, got %v", err)
	}
}

func TestConcurrentConsumeSingleWinner(t *testing.T) {
	s := NewStore()
	s.Issue("EC-race", "account-1", decimal.NewFromInt(100), "USD")
	if err := s.Authorize("EC-race", "payer-1"); err != nil {
		t.Fatalf("unexpected authorize error: %v", err)
	}

	const callers = 32
	var wg sync.WaitGroup
	var mu sync.Mutex
	wins, reuses := 0, 0

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Consume("EC-race")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, ErrTokenAlreadyUsed):
				reuses++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if wins != 1 {
		t.Errorf("expected exactly 1 winner, got %d", wins)
	}
	if reuses != callers-1 {
		t.Errorf("expected %d reuse failures, got %d", callers-1, reuses)
	}
}

func TestIssueDistinctTokens(t *testing.T) {
	s := NewStore()
	amount := decimal.NewFromInt(100)

	s.Issue("EC-a", "account-1", amount, "USD")
	s.Issue("EC-b", "account-1", amount, "USD")

	for _, token := range []string{"EC-a", "EC-b"} {
		tok, ok := s.Get(token)
		if !ok {
			t.Fatalf("token %s not stored", token)
		}
		if tok.State != StateIssued {
			t.Errorf("token %s: expected ISSUED, got %s", token, tok.State)
		}
		if !tok.Amount.Equal(amount) || tok.Currency != "USD" {
			t.Errorf("token %s: binding not preserved: %+v", token, tok)
		}
	}
}
