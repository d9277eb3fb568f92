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

package notification

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/blnkfinance/paywatch/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNotifyEvent_DispatchesToRegisteredSender(t *testing.T) {
	webhookSender = nil
	NotifyEvent("payment_intent.confirmed", nil)

	var capturedEvent string
	var capturedPayload interface{}
	RegisterWebhookSender(func(event string, payload interface{}) error {
		capturedEvent = event
		capturedPayload = payload
		return nil
	})

	testPayload := map[string]string{"intent_id": "pi_1"}
	NotifyEvent("payment_intent.confirmed", testPayload)

	assert.Equal(t, "payment_intent.confirmed", capturedEvent)
	assert.Equal(t, testPayload, capturedPayload)
}

func TestNotifyEvent_SenderErrorIsSwallowed(t *testing.T) {
	calls := 0
	RegisterWebhookSender(func(event string, payload interface{}) error {
		calls++
		return errors.New("webhook failed")
	})
	t.Cleanup(func() { webhookSender = nil })

	assert.NotPanics(t, func() { NotifyEvent("payment_intent.expired", nil) })
	assert.Equal(t, 1, calls)
}

func TestSlackNotification(t *testing.T) {
	received := make(chan slackMessage, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var msg slackMessage
		_ = json.NewDecoder(r.Body).Decode(&msg)
		received <- msg
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	config.MockConfig(&config.Configuration{
		ProjectName:  "Paywatch",
		Notification: config.Notification{Slack: config.SlackWebhook{WebhookUrl: server.URL}},
	})

	NotifyError(errors.New("ledger query failed"))

	select {
	case msg := <-received:
		require.Len(t, msg.Blocks, 3)
		assert.Equal(t, "Error From Paywatch 🐞", msg.Blocks[0].Text.Text)
		assert.Contains(t, msg.Blocks[1].Fields[0].Text, "ledger query failed")
	case <-time.After(2 * time.Second):
		t.Fatal("slack webhook was not called")
	}
}
