/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package sandbox fabricates a deterministic payment for test-mode intents so
// checkout flows can be exercised without funds moving on a real ledger.
package sandbox

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/blnkfinance/paywatch/model"
)

const (
	// PaymentDelay is how long after creation the simulated payment lands.
	PaymentDelay = 5 * time.Second
	// ConfirmationInterval is the simulated time between ledger closes.
	ConfirmationInterval = 10 * time.Second
	MaxConfirmations     = 6
)

type Source struct {
	now func() time.Time
}

func NewSource() *Source {
	return &Source{now: time.Now}
}

// WithClock replaces the wall clock, for tests.
func (s *Source) WithClock(now func() time.Time) *Source {
	s.now = now
	return s
}

// TxHash is the simulated hash for an intent.
func TxHash(intentID string) string {
	sum := sha256.Sum256([]byte(intentID))
	return strings.ToUpper(hex.EncodeToString(sum[:]))
}

func (s *Source) simulate(intent *model.PaymentIntent) (model.LedgerTransaction, bool) {
	landed := intent.CreatedAt.Add(PaymentDelay)
	now := s.now()
	if now.Before(landed) {
		return model.LedgerTransaction{}, false
	}

	confirmations := 1 + int(now.Sub(landed)/ConfirmationInterval)
	if confirmations > MaxConfirmations {
		confirmations = MaxConfirmations
	}

	return model.LedgerTransaction{
		Hash:           TxHash(intent.IntentID),
		Destination:    intent.Address,
		Amount:         intent.NativeAmount,
		Timestamp:      landed,
		DestinationTag: intent.DestinationTag,
		Confirmations:  confirmations,
	}, true
}

// Candidates returns the simulated payment once it has landed.
func (s *Source) Candidates(_ context.Context, intent *model.PaymentIntent) ([]model.LedgerTransaction, error) {
	tx, ok := s.simulate(intent)
	if !ok {
		return nil, nil
	}
	return []model.LedgerTransaction{tx}, nil
}

// Lookup resolves the simulated hash; any other hash is unknown.
func (s *Source) Lookup(_ context.Context, intent *model.PaymentIntent, hash string) (*model.LedgerTransaction, error) {
	tx, ok := s.simulate(intent)
	if !ok || !strings.EqualFold(hash, tx.Hash) {
		return nil, nil
	}
	return &tx, nil
}
