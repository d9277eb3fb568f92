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

package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// PaymentStatus is surfaced verbatim to API callers.
type PaymentStatus string

const (
	StatusPending   PaymentStatus = "pending"
	StatusConfirmed PaymentStatus = "confirmed"
	StatusUnderpaid PaymentStatus = "underpaid"
	StatusExpired   PaymentStatus = "expired"
)

// IsTerminal reports whether no further observation is needed for the status.
// Underpaid intents can still be promoted by a top-up, so they are not terminal.
func (s PaymentStatus) IsTerminal() bool {
	return s == StatusConfirmed || s == StatusExpired
}

// PaymentIntent is one requested payment awaiting ledger confirmation. It is
// never deleted; once confirmed it is the audit record of the payment.
type PaymentIntent struct {
	IntentID                 string                 `json:"intent_id"`
	OrganizationID           string                 `json:"organization_id"`
	InvoiceID                string                 `json:"invoice_id"`
	FiatAmount               decimal.Decimal        `json:"fiat_amount"`
	FiatCurrency             string                 `json:"fiat_currency"`
	Asset                    string                 `json:"asset"`
	NativeAmount             decimal.Decimal        `json:"native_amount"`
	ExchangeRate             decimal.Decimal        `json:"exchange_rate"`
	Address                  string                 `json:"address"`
	DestinationTag           *uint32                `json:"destination_tag,omitempty"`
	RequiredConfirmations    int                    `json:"required_confirmations"`
	Status                   PaymentStatus          `json:"status"`
	TxHash                   *string                `json:"tx_hash,omitempty"`
	ObservedAmount           decimal.NullDecimal    `json:"observed_amount"`
	Confirmations            *int                   `json:"confirmations,omitempty"`
	ObservedHashes           []string               `json:"observed_hashes,omitempty"`
	TestMode                 bool                   `json:"test_mode"`
	CreatedAt                time.Time              `json:"created_at"`
	ExpiresAt                time.Time              `json:"expires_at"`
	ConfirmedAt              *time.Time             `json:"confirmed_at,omitempty"`
	ConfirmationDispatchedAt *time.Time             `json:"confirmation_dispatched_at,omitempty"`
	UpdatedAt                time.Time              `json:"updated_at"`
	MetaData                 map[string]interface{} `json:"meta_data,omitempty"`
}

// IsExpiredAt reports whether the wall-clock deadline has passed for an
// intent that has not been confirmed.
func (p *PaymentIntent) IsExpiredAt(now time.Time) bool {
	if p.Status == StatusConfirmed {
		return false
	}
	return p.Status == StatusExpired || now.After(p.ExpiresAt)
}

// NeedsConfirmationDispatch reports whether the intent is confirmed but its
// confirmation side effect was never handed off.
func (p *PaymentIntent) NeedsConfirmationDispatch() bool {
	return p.Status == StatusConfirmed && p.ConfirmationDispatchedAt == nil
}

// HasObserved reports whether the ledger hash was already counted towards
// the observed amount.
func (p *PaymentIntent) HasObserved(hash string) bool {
	for _, h := range p.ObservedHashes {
		if h == hash {
			return true
		}
	}
	return false
}

// ObservedTransaction carries the status-bearing fields written by a transition.
type ObservedTransaction struct {
	TxHash         string
	ObservedAmount decimal.Decimal
	Confirmations  int
	Hashes         []string
}

// StatusResult is the answer to a status check.
type StatusResult struct {
	IntentID              string          `json:"intent_id"`
	Status                PaymentStatus   `json:"status"`
	Confirmations         int             `json:"confirmations"`
	RequiredConfirmations int             `json:"required_confirmations"`
	TxHash                *string         `json:"tx_hash,omitempty"`
	ObservedAmount        decimal.Decimal `json:"observed_amount"`
	ExpectedAmount        decimal.Decimal `json:"expected_amount"`
	ExpiresAt             time.Time       `json:"expires_at"`
}

// WatchEndedAt reports whether background observation can stop at now. An
// underpaid intent can still be topped up, but past its deadline only an
// explicit status check looks for the top-up.
func (r *StatusResult) WatchEndedAt(now time.Time) bool {
	if r.Status.IsTerminal() {
		return true
	}
	return r.Status == StatusUnderpaid && now.After(r.ExpiresAt)
}

// ToStatusResult projects the persisted intent onto a status answer.
func (p *PaymentIntent) ToStatusResult() *StatusResult {
	result := &StatusResult{
		IntentID:              p.IntentID,
		Status:                p.Status,
		RequiredConfirmations: p.RequiredConfirmations,
		TxHash:                p.TxHash,
		ExpectedAmount:        p.NativeAmount,
		ExpiresAt:             p.ExpiresAt,
	}
	if p.Confirmations != nil {
		result.Confirmations = *p.Confirmations
	}
	if p.ObservedAmount.Valid {
		result.ObservedAmount = p.ObservedAmount.Decimal
	}
	return result
}

// PaymentInstructions is what a payer needs to send the payment.
type PaymentInstructions struct {
	IntentID       string          `json:"intent_id"`
	Asset          string          `json:"asset"`
	Address        string          `json:"address"`
	DestinationTag *uint32         `json:"destination_tag,omitempty"`
	Amount         decimal.Decimal `json:"amount"`
	URI            string          `json:"uri"`
	QRCode         string          `json:"qr_code,omitempty"`
	ExpiresAt      time.Time       `json:"expires_at"`
}
