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

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"
)

const sweepBatchSize = 100

// ProcessExpiry settles an intent whose deadline passed. The reconciler
// decides: a qualifying payment wins over expiry.
func (p *Paywatch) ProcessExpiry(ctx context.Context, task *asynq.Task) error {
	var payload IntentTaskPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("decoding expiry task: %v: %w", err, asynq.SkipRetry)
	}

	result, err := p.reconciler.Reconcile(ctx, payload.IntentID, nil)
	if errors.Is(err, ErrIntentNotFound) {
		logrus.WithField("intent_id", payload.IntentID).Warn("expiry task for unknown intent")
		return nil
	}
	if err != nil {
		return err
	}
	logrus.WithFields(logrus.Fields{"intent_id": payload.IntentID, "status": result.Status}).Debug("expiry check done")
	return nil
}

// ProcessExpirySweep settles pending intents past their deadline that no
// expiry task handled, and retries confirmation hand-offs that failed.
func (p *Paywatch) ProcessExpirySweep(ctx context.Context, _ *asynq.Task) error {
	overdue, err := p.datasource.GetOverduePaymentIntents(ctx, p.now(), sweepBatchSize)
	if err != nil {
		return err
	}
	undispatched, err := p.datasource.GetUndispatchedConfirmations(ctx, sweepBatchSize)
	if err != nil {
		return err
	}

	for _, intent := range append(overdue, undispatched...) {
		if _, err := p.reconciler.Reconcile(ctx, intent.IntentID, nil); err != nil {
			logrus.WithError(err).WithField("intent_id", intent.IntentID).Warn("expiry sweep failed for intent")
		}
	}
	if len(overdue) > 0 || len(undispatched) > 0 {
		logrus.WithFields(logrus.Fields{
			"overdue":      len(overdue),
			"undispatched": len(undispatched),
		}).Info("expiry sweep checked intents")
	}
	return nil
}
