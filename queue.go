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
	"time"

	"github.com/blnkfinance/paywatch/config"
	redis_db "github.com/blnkfinance/paywatch/internal/redis-db"
	"github.com/blnkfinance/paywatch/model"
	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"
)

// Task types handled by the workers.
const (
	TaskExpireIntent    = "intent:expire"
	TaskIntentConfirmed = "intent:confirmed"
	TaskExpirySweep     = "intent:expiry_sweep"
	TaskDeliverWebhook  = "webhook:deliver"
)

// expiryGrace delays the expiry task past expires_at so a payment that landed
// right at the deadline has time to be indexed.
const expiryGrace = 30 * time.Second

// Queue represents the asynq queues paywatch enqueues follow-up work on.
type Queue struct {
	Client    *asynq.Client
	Inspector *asynq.Inspector
	config    *config.Configuration
}

// IntentTaskPayload is the snapshot of an intent carried by intent tasks.
type IntentTaskPayload struct {
	IntentID       string              `json:"intent_id"`
	OrganizationID string              `json:"organization_id"`
	InvoiceID      string              `json:"invoice_id"`
	Asset          string              `json:"asset"`
	Status         model.PaymentStatus `json:"status"`
	NativeAmount   string              `json:"native_amount"`
	ObservedAmount string              `json:"observed_amount,omitempty"`
	TxHash         string              `json:"tx_hash,omitempty"`
	ConfirmedAt    *time.Time          `json:"confirmed_at,omitempty"`
}

func newIntentTaskPayload(intent *model.PaymentIntent) IntentTaskPayload {
	payload := IntentTaskPayload{
		IntentID:       intent.IntentID,
		OrganizationID: intent.OrganizationID,
		InvoiceID:      intent.InvoiceID,
		Asset:          intent.Asset,
		Status:         intent.Status,
		NativeAmount:   intent.NativeAmount.String(),
		ConfirmedAt:    intent.ConfirmedAt,
	}
	if intent.ObservedAmount.Valid {
		payload.ObservedAmount = intent.ObservedAmount.Decimal.String()
	}
	if intent.TxHash != nil {
		payload.TxHash = *intent.TxHash
	}
	return payload
}

// RedisClientOpt converts the configured redis DNS into asynq options.
func RedisClientOpt(conf *config.Configuration) (asynq.RedisClientOpt, error) {
	redisOption, err := redis_db.ParseRedisURL(conf.Redis.Dns, conf.Redis.SkipTLSVerify)
	if err != nil {
		return asynq.RedisClientOpt{}, err
	}
	return asynq.RedisClientOpt{
		Addr:      redisOption.Addr,
		Username:  redisOption.Username,
		Password:  redisOption.Password,
		DB:        redisOption.DB,
		TLSConfig: redisOption.TLSConfig,
	}, nil
}

// NewQueue initializes a new Queue instance with the provided configuration.
func NewQueue(conf *config.Configuration) (*Queue, error) {
	queueOptions, err := RedisClientOpt(conf)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	return &Queue{
		Client:    asynq.NewClient(queueOptions),
		Inspector: asynq.NewInspector(queueOptions),
		config:    conf,
	}, nil
}

func (q *Queue) Close() error {
	if err := q.Inspector.Close(); err != nil {
		return err
	}
	return q.Client.Close()
}

// enqueueOnce enqueues a task under a fixed id. A task already holding the id
// means the work is queued, so the conflict is not an error.
func (q *Queue) enqueueOnce(ctx context.Context, task *asynq.Task, opts ...asynq.Option) error {
	info, err := q.Client.EnqueueContext(ctx, task, opts...)
	if errors.Is(err, asynq.ErrTaskIDConflict) || errors.Is(err, asynq.ErrDuplicateTask) {
		logrus.WithField("task", task.Type()).Debug("task already enqueued")
		return nil
	}
	if err != nil {
		return err
	}
	logrus.WithFields(logrus.Fields{"task": task.Type(), "id": info.ID, "queue": info.Queue}).Debug("task enqueued")
	return nil
}

// ScheduleExpiry enqueues the expiry check of intent to run after it expires.
func (q *Queue) ScheduleExpiry(ctx context.Context, intent *model.PaymentIntent) error {
	ctx, span := tracer.Start(ctx, "Scheduling intent expiry")
	defer span.End()

	payload, err := json.Marshal(newIntentTaskPayload(intent))
	if err != nil {
		return err
	}
	task := asynq.NewTask(TaskExpireIntent, payload)
	return q.enqueueOnce(ctx, task,
		asynq.TaskID("expire:"+intent.IntentID),
		asynq.Queue(q.config.Queue.ExpiryQueue),
		asynq.ProcessIn(time.Until(intent.ExpiresAt)+expiryGrace),
		asynq.MaxRetry(q.config.Queue.MaxRetryAttempts),
	)
}

// EnqueueConfirmation enqueues the invoice refresh of a confirmed intent. The
// fixed task id rejects a second confirmation of the same intent.
func (q *Queue) EnqueueConfirmation(ctx context.Context, intent *model.PaymentIntent) error {
	ctx, span := tracer.Start(ctx, "Enqueueing intent confirmation")
	defer span.End()

	payload, err := json.Marshal(newIntentTaskPayload(intent))
	if err != nil {
		return err
	}
	task := asynq.NewTask(TaskIntentConfirmed, payload)
	return q.enqueueOnce(ctx, task,
		asynq.TaskID("confirm:"+intent.IntentID),
		asynq.Queue(q.config.Queue.ConfirmationQueue),
		asynq.MaxRetry(q.config.Queue.MaxRetryAttempts),
		asynq.Retention(24*time.Hour),
	)
}

// OnConfirmed makes Queue the reconciler's confirmation handler.
func (q *Queue) OnConfirmed(ctx context.Context, intent *model.PaymentIntent) error {
	return q.EnqueueConfirmation(ctx, intent)
}

// EnqueueWebhook queues delivery of an event to the configured webhook.
func (q *Queue) EnqueueWebhook(ctx context.Context, hook NewWebhook) error {
	if q.config.Notification.Webhook.Url == "" {
		return nil
	}
	payload, err := json.Marshal(hook)
	if err != nil {
		return err
	}
	task := asynq.NewTask(TaskDeliverWebhook, payload)
	_, err = q.Client.EnqueueContext(ctx, task,
		asynq.Queue(q.config.Queue.WebhookQueue),
		asynq.MaxRetry(q.config.Queue.MaxRetryAttempts),
	)
	return err
}

// ExpirySweepTask is registered with the scheduler to catch intents whose
// expiry task was lost.
func ExpirySweepTask(conf *config.Configuration) (*asynq.Task, []asynq.Option) {
	return asynq.NewTask(TaskExpirySweep, nil), []asynq.Option{asynq.Queue(conf.Queue.ExpiryQueue)}
}
