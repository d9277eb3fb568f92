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
	"errors"

	"github.com/blnkfinance/paywatch/model"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/shopspring/decimal"
)

type CreatePaymentIntent struct {
	OrganizationID string                 `json:"organization_id"`
	InvoiceID      string                 `json:"invoice_id"`
	Amount         decimal.Decimal        `json:"amount"`
	Currency       string                 `json:"currency"`
	Asset          string                 `json:"asset"`
	MetaData       map[string]interface{} `json:"meta_data,omitempty"`
}

// CheckPaymentIntent carries the payer's optional claim. The amount is never
// trusted, only logged.
type CheckPaymentIntent struct {
	ObservedAmount *decimal.Decimal `json:"observed_amount,omitempty"`
	TxHash         string           `json:"tx_hash,omitempty"`
}

type UpsertPaymentSettings struct {
	Enabled               bool     `json:"enabled"`
	Addresses             []string `json:"addresses"`
	CooldownSeconds       int64    `json:"cooldown_seconds"`
	StopReusing           bool     `json:"stop_reusing"`
	RequiredConfirmations int      `json:"required_confirmations"`
	TestMode              bool     `json:"test_mode"`
	IntentTTLSeconds      int64    `json:"intent_ttl_seconds"`
}

// PaymentIntentResponse is returned on creation and carries what the payer
// needs alongside the intent.
type PaymentIntentResponse struct {
	Intent       *model.PaymentIntent       `json:"intent"`
	Instructions *model.PaymentInstructions `json:"instructions,omitempty"`
}

func positiveAmount(value interface{}) error {
	amount, ok := value.(decimal.Decimal)
	if !ok {
		return errors.New("invalid amount")
	}
	if !amount.IsPositive() {
		return errors.New("amount must be greater than zero")
	}
	return nil
}

func (c *CreatePaymentIntent) ValidateCreatePaymentIntent() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.OrganizationID, validation.Required),
		validation.Field(&c.InvoiceID, validation.Required),
		validation.Field(&c.Amount, validation.By(positiveAmount)),
		validation.Field(&c.Currency, validation.Required, validation.Length(3, 3)),
		validation.Field(&c.Asset, validation.Required),
	)
}

func (c *CheckPaymentIntent) ValidateCheckPaymentIntent() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.ObservedAmount, validation.When(c.ObservedAmount != nil, validation.By(func(value interface{}) error {
			amount, ok := value.(*decimal.Decimal)
			if !ok || amount == nil {
				return nil
			}
			return positiveAmount(*amount)
		}))),
		validation.Field(&c.TxHash, validation.Length(0, 128)),
	)
}

func (s *UpsertPaymentSettings) ValidateUpsertPaymentSettings() error {
	return validation.ValidateStruct(s,
		validation.Field(&s.Addresses, validation.When(s.Enabled, validation.Required.Error("at least one address is required when enabled"))),
		validation.Field(&s.CooldownSeconds, validation.Min(int64(0))),
		validation.Field(&s.RequiredConfirmations, validation.Min(0)),
		validation.Field(&s.IntentTTLSeconds, validation.Min(int64(0))),
	)
}

func (s *UpsertPaymentSettings) ToPaymentSettings(organizationID, asset string) *model.PaymentSettings {
	return &model.PaymentSettings{
		OrganizationID:        organizationID,
		Asset:                 asset,
		Enabled:               s.Enabled,
		Addresses:             s.Addresses,
		CooldownSeconds:       s.CooldownSeconds,
		StopReusing:           s.StopReusing,
		RequiredConfirmations: s.RequiredConfirmations,
		TestMode:              s.TestMode,
		IntentTTLSeconds:      s.IntentTTLSeconds,
	}
}
