// Package session tracks Express Checkout tokens issued for redirect
// sessions and enforces their single-use lifecycle.
package session

import (
	"errors"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// State is the lifecycle state of a checkout token.
type State string

const (
	// StateIssued means the token exists but has not funded a payment.
	StateIssued State = "ISSUED"
	// StateConsumed means the token has funded exactly one payment.
	StateConsumed State = "CONSUMED"
)

var (
	// ErrTokenNotFound is returned for tokens this store never issued.
	ErrTokenNotFound = errors.New("token not found")
	// ErrPayerMissing is returned when consuming a token the end user has
	// not authorized yet (no payer id on record).
	ErrPayerMissing = errors.New("payer_id missing")
	// ErrTokenAlreadyUsed is returned when a token already funded a payment.
	ErrTokenAlreadyUsed = errors.New("token already used")
)

// Token is the stored state for one issued checkout token.
type Token struct {
	Value       string
	KBAccountID string
	Amount      decimal.Decimal
	Currency    string
	PayerID     string
	State       State
	IssuedAt    time.Time
}

// Store is an in-memory keyed token store.
//
// This implementation is suitable for single-instance deployments. For
// load-balanced clusters, implement the same contract over a shared backend
// so the consume transition stays atomic across processes.
type Store struct {
	mu     sync.Mutex
	tokens map[string]*Token
}

// NewStore creates an empty token store.
func NewStore() *Store {
	return &Store{tokens: make(map[string]*Token)}
}

// Issue registers a token in ISSUED state, bound to the account and the
// amount/currency of the checkout it was created for.
func (s *Store) Issue(token, kbAccountID string, amount decimal.Decimal, currency string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tokens[token] = &Token{
		Value:       token,
		KBAccountID: kbAccountID,
		Amount:      amount,
		Currency:    currency,
		State:       StateIssued,
		IssuedAt:    time.Now(),
	}
}

// Authorize records the payer id the gateway reported for the token. Called
// after the end user completed the off-site approval and the gateway
// confirmed the token state.
func (s *Store) Authorize(token, payerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tokens[token]
	if !ok {
		return ErrTokenNotFound
	}
	t.PayerID = payerID
	return nil
}

// Consume atomically transitions the token ISSUED -> CONSUMED and returns
// the payer id. Exactly one concurrent caller wins; every later (or losing)
// caller gets ErrTokenAlreadyUsed regardless of the winner's final outcome.
// A token without a recorded payer id fails with ErrPayerMissing and stays
// ISSUED.
func (s *Store) Consume(token string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tokens[token]
	if !ok {
		return "", ErrTokenNotFound
	}
	if t.State == StateConsumed {
		return "", ErrTokenAlreadyUsed
	}
	if t.PayerID == "" {
		return "", ErrPayerMissing
	}

	t.State = StateConsumed
	return t.PayerID, nil
}

// Release reverts a consumed token to ISSUED. Only used when the capture
// round trip never produced a gateway verdict, so the gateway still holds
// the token usable and the platform's retry layer may replay the purchase.
func (s *Store) Release(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t, ok := s.tokens[token]; ok && t.State == StateConsumed {
		t.State = StateIssued
	}
}

// Get returns a copy of the stored token state.
func (s *Store) Get(token string) (Token, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tokens[token]
	if !ok {
		return Token{}, false
	}
	return *t, true
}
