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
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/blnkfinance/paywatch/config"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestQueue(t *testing.T) (*Queue, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	cfg := &config.Configuration{
		Redis: config.RedisConfig{Dns: mr.Addr()},
		Queue: config.QueueConfig{
			ExpiryQueue:       "intent_expiry",
			ConfirmationQueue: "intent_confirmation",
			WebhookQueue:      "webhook_queue",
			MaxRetryAttempts:  3,
		},
		Notification: config.Notification{Webhook: config.WebhookConfig{Url: "https://hooks.test/paywatch"}},
	}
	q, err := NewQueue(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = q.Close() })
	return q, mr
}

func TestScheduleExpiry(t *testing.T) {
	q, _ := newTestQueue(t)
	intent := testIntent("pi_1", "100", time.Now())

	require.NoError(t, q.ScheduleExpiry(context.Background(), intent))
	require.NoError(t, q.ScheduleExpiry(context.Background(), intent), "scheduling twice is harmless")

	info, err := q.Inspector.GetTaskInfo("intent_expiry", "expire:pi_1")
	require.NoError(t, err)
	assert.Equal(t, TaskExpireIntent, info.Type)
	assert.Equal(t, asynq.TaskStateScheduled, info.State)
	assert.WithinDuration(t, intent.ExpiresAt.Add(expiryGrace), info.NextProcessAt, 2*time.Second)

	var payload IntentTaskPayload
	require.NoError(t, json.Unmarshal(info.Payload, &payload))
	assert.Equal(t, "pi_1", payload.IntentID)
	assert.Equal(t, "inv_pi_1", payload.InvoiceID)
}

func TestEnqueueConfirmation_IsDeduplicated(t *testing.T) {
	q, _ := newTestQueue(t)
	intent := testIntent("pi_1", "100", time.Now())

	require.NoError(t, q.OnConfirmed(context.Background(), intent))
	require.NoError(t, q.OnConfirmed(context.Background(), intent))

	tasks, err := q.Inspector.ListPendingTasks("intent_confirmation")
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "confirm:pi_1", tasks[0].ID)
}

func TestEnqueueWebhook(t *testing.T) {
	q, mr := newTestQueue(t)

	require.NoError(t, q.EnqueueWebhook(context.Background(), NewWebhook{Event: "payment_intent.confirmed", Payload: map[string]string{"intent_id": "pi_1"}}))
	assert.NotEmpty(t, mr.Keys())

	tasks, err := q.Inspector.ListPendingTasks("webhook_queue")
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, TaskDeliverWebhook, tasks[0].Type)
}

func TestEnqueueWebhook_Unconfigured(t *testing.T) {
	q, mr := newTestQueue(t)
	q.config.Notification.Webhook.Url = ""

	require.NoError(t, q.EnqueueWebhook(context.Background(), NewWebhook{Event: "payment_intent.created"}))
	assert.Empty(t, mr.Keys())
}
