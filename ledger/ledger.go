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

// Package ledger defines how paywatch reads an external ledger: point queries
// for recent and single transactions, and optionally a live subscription
// scoped to a receiving address.
package ledger

import (
	"context"
	"time"

	"github.com/blnkfinance/paywatch/model"
)

// Client queries incoming payments to an address.
type Client interface {
	// AccountTransactions returns incoming payments to address not older than since,
	// newest first.
	AccountTransactions(ctx context.Context, address string, since time.Time) ([]model.LedgerTransaction, error)

	// Transaction returns a single transaction by hash with its current
	// confirmation count, or nil when the ledger does not know the hash.
	Transaction(ctx context.Context, hash string) (*model.LedgerTransaction, error)
}

// Subscriber is implemented by clients that can push transactions as they
// reach the ledger.
type Subscriber interface {
	Subscribe(ctx context.Context, address string) (Subscription, error)
}

// Subscription is a live stream of incoming payments to one address. Err
// delivers at most one error, after which Events is closed.
type Subscription interface {
	Events() <-chan model.LedgerTransaction
	Err() <-chan error
	Close() error
}

// SupportsPush reports whether client exposes a subscription API.
func SupportsPush(client Client) (Subscriber, bool) {
	sub, ok := client.(Subscriber)
	return sub, ok
}
