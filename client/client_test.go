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


package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	model2 "github.com/blnkfinance/paywatch/api/model"
	"github.com/blnkfinance/paywatch/model"
	"github.com/blnkfinance/paywatch/session"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func testIntent(now time.Time) *model.PaymentIntent {
	return &model.PaymentIntent{
		IntentID:     "pi_1",
		InvoiceID:    "inv_1",
		Asset:        "XRP",
		NativeAmount: decimal.RequireFromString("100"),
		Address:      "rPool1",
		Status:       model.StatusPending,
		CreatedAt:    now,
		ExpiresAt:    now.Add(15 * time.Minute),
	}
}

func TestCreateIntent(t *testing.T) {
	now := time.Now().UTC()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/payment-intents", r.URL.Path)
		assert.Equal(t, "key", r.Header.Get("X-Paywatch-Key"))

		var req model2.CreatePaymentIntent
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "inv_1", req.InvoiceID)

		writeJSON(w, http.StatusCreated, model2.PaymentIntentResponse{
			Intent:       testIntent(now),
			Instructions: &model.PaymentInstructions{IntentID: "pi_1", Address: "rPool1", URI: "ripple:rPool1?amount=100"},
		})
	}))
	defer server.Close()

	resp, err := New(server.URL+"/", "key").CreateIntent(context.Background(), model2.CreatePaymentIntent{
		OrganizationID: "org_1",
		InvoiceID:      "inv_1",
		Amount:         decimal.NewFromInt(50),
		Currency:       "USD",
		Asset:          "XRP",
	})
	require.NoError(t, err)
	assert.Equal(t, "pi_1", resp.Intent.IntentID)
	assert.Equal(t, "ripple:rPool1?amount=100", resp.Instructions.URI)
}

func TestGetIntentByInvoice_NotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/invoices/inv_9/payment-intent", r.URL.Path)
		assert.Equal(t, "XRP", r.URL.Query().Get("asset"))
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "payment intent not found"})
	}))
	defer server.Close()

	_, err := New(server.URL, "").GetIntentByInvoice(context.Background(), "inv_9", "XRP")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCheckStatus_SendsHint(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/payment-intents/pi_1/check", r.URL.Path)
		var hint model2.CheckPaymentIntent
		require.NoError(t, json.NewDecoder(r.Body).Decode(&hint))
		assert.Equal(t, "ABC", hint.TxHash)
		writeJSON(w, http.StatusOK, model.StatusResult{IntentID: "pi_1", Status: model.StatusConfirmed, Confirmations: 3, RequiredConfirmations: 3})
	}))
	defer server.Close()

	status, err := New(server.URL, "").CheckStatus(context.Background(), "pi_1", &model2.CheckPaymentIntent{TxHash: "ABC"})
	require.NoError(t, err)
	assert.Equal(t, model.StatusConfirmed, status.Status)
}

func TestWaitForTerminal(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		status := model.StatusPending
		if atomic.AddInt32(&calls, 1) >= 3 {
			status = model.StatusConfirmed
		}
		writeJSON(w, http.StatusOK, model.StatusResult{IntentID: "pi_1", Status: status})
	}))
	defer server.Close()

	var seen []model.PaymentStatus
	status, err := New(server.URL, "").WaitForTerminal(context.Background(), "pi_1", 10*time.Millisecond, func(s *model.StatusResult) {
		seen = append(seen, s.Status)
	})
	require.NoError(t, err)
	assert.Equal(t, model.StatusConfirmed, status.Status)
	assert.Equal(t, []model.PaymentStatus{model.StatusPending, model.StatusPending, model.StatusConfirmed}, seen)
}

func TestWaitForTerminal_ContextCancelled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, model.StatusResult{IntentID: "pi_1", Status: model.StatusPending})
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	status, err := New(server.URL, "").WaitForTerminal(ctx, "pi_1", 10*time.Millisecond, nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	require.NotNil(t, status)
	assert.Equal(t, model.StatusPending, status.Status)
}

func TestClientRestoresSession(t *testing.T) {
	now := time.Now().UTC()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/payment-intents/pi_1", r.URL.Path)
		writeJSON(w, http.StatusOK, testIntent(now))
	}))
	defer server.Close()

	restorer := session.NewRestorer(session.NewMemoryStorage(), New(server.URL, ""))
	require.NoError(t, restorer.Remember("inv_1", "pi_1"))

	intent, ok := restorer.Restore(context.Background(), "inv_1")
	require.True(t, ok)
	assert.Equal(t, "rPool1", intent.Address)
}
