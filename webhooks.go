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
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/blnkfinance/paywatch/config"
	"github.com/blnkfinance/paywatch/internal/request"
	"github.com/blnkfinance/paywatch/model"
	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"
)

const deliveryTimeout = 10 * time.Second

// NewWebhook represents the structure of a webhook notification.
type NewWebhook struct {
	Event   string      `json:"event"`
	Payload interface{} `json:"data"`
}

// webhookEvent names the event emitted when an intent enters status.
func webhookEvent(status model.PaymentStatus) string {
	switch status {
	case model.StatusPending:
		return "payment_intent.pending"
	case model.StatusConfirmed:
		return "payment_intent.confirmed"
	case model.StatusUnderpaid:
		return "payment_intent.underpaid"
	case model.StatusExpired:
		return "payment_intent.expired"
	default:
		return "payment_intent.unknown"
	}
}

// post delivers payload and marks client errors as not worth retrying.
func post(ctx context.Context, url string, headers map[string]string, payload interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, deliveryTimeout)
	defer cancel()

	_, err := request.Do(ctx, http.MethodPost, url, payload, headers, nil)
	var httpErr *request.HTTPError
	if errors.As(err, &httpErr) && !httpErr.Retryable() {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	return err
}

// ProcessWebhook processes a webhook notification task from the queue.
func ProcessWebhook(ctx context.Context, task *asynq.Task) error {
	conf, err := config.Fetch()
	if err != nil {
		return err
	}
	if conf.Notification.Webhook.Url == "" {
		return nil
	}

	var payload NewWebhook
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("decoding webhook task: %v: %w", err, asynq.SkipRetry)
	}
	logrus.WithField("event", payload.Event).Debug("delivering webhook")
	return post(ctx, conf.Notification.Webhook.Url, conf.Notification.Webhook.Headers, payload)
}

// ProcessConfirmation tells the billing system to refresh the invoice paid by
// a confirmed intent.
func ProcessConfirmation(ctx context.Context, task *asynq.Task) error {
	conf, err := config.Fetch()
	if err != nil {
		return err
	}

	var payload IntentTaskPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("decoding confirmation task: %v: %w", err, asynq.SkipRetry)
	}
	if conf.Billing.RefreshUrl == "" {
		logrus.WithField("intent_id", payload.IntentID).Warn("billing refresh url not configured, skipping invoice refresh")
		return nil
	}

	if err := post(ctx, conf.Billing.RefreshUrl, conf.Billing.Headers, payload); err != nil {
		logrus.WithError(err).WithField("invoice_id", payload.InvoiceID).Error("invoice refresh failed")
		return err
	}
	logrus.WithFields(logrus.Fields{"intent_id": payload.IntentID, "invoice_id": payload.InvoiceID}).Info("invoice refreshed")
	return nil
}
