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
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestValidateCreatePaymentIntent(t *testing.T) {
	valid := func() CreatePaymentIntent {
		return CreatePaymentIntent{
			OrganizationID: "org_1",
			InvoiceID:      "inv_1",
			Amount:         decimal.NewFromInt(50),
			Currency:       "USD",
			Asset:          "XRP",
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *CreatePaymentIntent)
		wantErr bool
	}{
		{name: "Valid", mutate: func(c *CreatePaymentIntent) {}},
		{name: "Missing organization", mutate: func(c *CreatePaymentIntent) { c.OrganizationID = "" }, wantErr: true},
		{name: "Missing invoice", mutate: func(c *CreatePaymentIntent) { c.InvoiceID = "" }, wantErr: true},
		{name: "Zero amount", mutate: func(c *CreatePaymentIntent) { c.Amount = decimal.Zero }, wantErr: true},
		{name: "Negative amount", mutate: func(c *CreatePaymentIntent) { c.Amount = decimal.NewFromInt(-1) }, wantErr: true},
		{name: "Bad currency", mutate: func(c *CreatePaymentIntent) { c.Currency = "DOLLARS" }, wantErr: true},
		{name: "Missing asset", mutate: func(c *CreatePaymentIntent) { c.Asset = "" }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := valid()
			tt.mutate(&req)
			err := req.ValidateCreatePaymentIntent()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateCheckPaymentIntent(t *testing.T) {
	negative := decimal.NewFromInt(-5)
	positive := decimal.RequireFromString("99.5")

	assert.NoError(t, (&CheckPaymentIntent{}).ValidateCheckPaymentIntent())
	assert.NoError(t, (&CheckPaymentIntent{ObservedAmount: &positive, TxHash: "ABC"}).ValidateCheckPaymentIntent())
	assert.Error(t, (&CheckPaymentIntent{ObservedAmount: &negative}).ValidateCheckPaymentIntent())
}

func TestValidateUpsertPaymentSettings(t *testing.T) {
	assert.Error(t, (&UpsertPaymentSettings{Enabled: true}).ValidateUpsertPaymentSettings())
	assert.NoError(t, (&UpsertPaymentSettings{Enabled: false}).ValidateUpsertPaymentSettings())
	assert.Error(t, (&UpsertPaymentSettings{Addresses: []string{"rA"}, CooldownSeconds: -1}).ValidateUpsertPaymentSettings())

	settings := (&UpsertPaymentSettings{Enabled: true, Addresses: []string{"rA"}, StopReusing: true}).ToPaymentSettings("org_1", "XRP")
	assert.Equal(t, "org_1", settings.OrganizationID)
	assert.Equal(t, "XRP", settings.Asset)
	assert.True(t, settings.StopReusing)
}
