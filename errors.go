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

import "errors"

var (
	// Address allocation.
	ErrNoAddressesConfigured   = errors.New("no receiving addresses configured for organization")
	ErrAddressPoolExhausted    = errors.New("every receiving address has already been used")
	ErrOrganizationNotEligible = errors.New("organization is not enabled for crypto payments")

	// Quoting.
	ErrUnsupportedAsset        = errors.New("unsupported asset")
	ErrUnsupportedFiatCurrency = errors.New("unsupported fiat currency")
	ErrRateUnavailable         = errors.New("exchange rate unavailable")
	ErrInvalidAmount           = errors.New("amount must be greater than zero")

	// Intents.
	ErrIntentNotFound = errors.New("payment intent not found")

	// Ledger access. Both are recoverable: the next poll retries.
	ErrLedgerQueryFailed  = errors.New("ledger query failed")
	ErrSubscriptionFailed = errors.New("ledger subscription failed")
)
