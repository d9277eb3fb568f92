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

package paywatch

import (
	"context"
	"fmt"
	"time"

	"github.com/blnkfinance/paywatch/ledger"
	"github.com/blnkfinance/paywatch/model"
)

// CandidateSource yields ledger transactions that may pay an intent.
type CandidateSource interface {
	// Candidates lists incoming transactions to the intent's address.
	Candidates(ctx context.Context, intent *model.PaymentIntent) ([]model.LedgerTransaction, error)
	// Lookup resolves one hash, returning nil when it is unknown.
	Lookup(ctx context.Context, intent *model.PaymentIntent, hash string) (*model.LedgerTransaction, error)
}

// lookbackSkew tolerates small clock drift between the service and the ledger.
const lookbackSkew = time.Minute

// ledgerSource reads candidates from a live ledger client. Every call is
// bounded by timeout.
type ledgerSource struct {
	client  ledger.Client
	timeout time.Duration
}

func NewLedgerSource(client ledger.Client, timeout time.Duration) CandidateSource {
	return &ledgerSource{client: client, timeout: timeout}
}

func (s *ledgerSource) Candidates(ctx context.Context, intent *model.PaymentIntent) ([]model.LedgerTransaction, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	txs, err := s.client.AccountTransactions(ctx, intent.Address, intent.CreatedAt.Add(-lookbackSkew))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLedgerQueryFailed, err)
	}
	return txs, nil
}

func (s *ledgerSource) Lookup(ctx context.Context, _ *model.PaymentIntent, hash string) (*model.LedgerTransaction, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	tx, err := s.client.Transaction(ctx, hash)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLedgerQueryFailed, err)
	}
	return tx, nil
}
