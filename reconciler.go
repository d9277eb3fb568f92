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
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/blnkfinance/paywatch/database"
	"github.com/blnkfinance/paywatch/internal/apierror"
	redlock "github.com/blnkfinance/paywatch/internal/lock"
	"github.com/blnkfinance/paywatch/internal/notification"
	"github.com/blnkfinance/paywatch/model"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

const reconcileLockTTL = 30 * time.Second

var (
	toleranceLow  = decimal.RequireFromString("0.99")
	toleranceHigh = decimal.RequireFromString("1.01")
)

// ConfirmationHandler runs the side effect of a confirmed payment. It is
// invoked by the caller whose write confirmed the intent, and again by later
// reconciles until one invocation succeeds, so it must tolerate repeats.
type ConfirmationHandler interface {
	OnConfirmed(ctx context.Context, intent *model.PaymentIntent) error
}

// Reconciler decides the status of an intent from what the ledger shows and
// persists it through a guarded transition.
type Reconciler struct {
	datasource database.IDataSource
	live       CandidateSource
	sandbox    CandidateSource
	handler    ConfirmationHandler
	redis      redis.UniversalClient
	now        func() time.Time
}

// NewReconciler builds a Reconciler. sandbox serves test-mode intents. redis
// and handler may be nil.
func NewReconciler(datasource database.IDataSource, live, sandbox CandidateSource, handler ConfirmationHandler, redisClient redis.UniversalClient) *Reconciler {
	return &Reconciler{
		datasource: datasource,
		live:       live,
		sandbox:    sandbox,
		handler:    handler,
		redis:      redisClient,
		now:        time.Now,
	}
}

// InBand reports whether observed lies within [0.99, 1.01] of expected.
func InBand(expected, observed decimal.Decimal) bool {
	return observed.GreaterThanOrEqual(expected.Mul(toleranceLow)) &&
		observed.LessThanOrEqual(expected.Mul(toleranceHigh))
}

// Classify maps an observed payment onto a status. Amounts outside the band
// are underpaid, overpayments included. An in-band amount waiting for
// confirmations keeps an underpaid intent underpaid until it confirms.
func Classify(expected, observed decimal.Decimal, confirmations, required int, current model.PaymentStatus) model.PaymentStatus {
	if required < 1 {
		required = 1
	}
	if !InBand(expected, observed) {
		return model.StatusUnderpaid
	}
	if confirmations >= required {
		return model.StatusConfirmed
	}
	if current == model.StatusUnderpaid {
		return model.StatusUnderpaid
	}
	return model.StatusPending
}

func (r *Reconciler) sourceFor(intent *model.PaymentIntent) CandidateSource {
	if intent.TestMode {
		return r.sandbox
	}
	return r.live
}

func (r *Reconciler) loadIntent(ctx context.Context, intentID string) (*model.PaymentIntent, error) {
	intent, err := r.datasource.GetPaymentIntent(ctx, intentID)
	if err != nil {
		if apierror.HasCode(err, apierror.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrIntentNotFound, intentID)
		}
		return nil, err
	}
	return intent, nil
}

// Reconcile re-evaluates an intent. candidate, when set, is a transaction
// reported by a subscription or a caller; a candidate carrying only a hash is
// resolved through the ledger first. Ledger failures are logged and the
// persisted status is returned unchanged.
func (r *Reconciler) Reconcile(ctx context.Context, intentID string, candidate *model.LedgerTransaction) (*model.StatusResult, error) {
	ctx, span := tracer.Start(ctx, "Reconciling payment intent")
	defer span.End()
	span.SetAttributes(attribute.String("paywatch.intent.id", intentID))

	if r.redis != nil {
		locker := redlock.NewLocker(r.redis, redlock.IntentLockKey(intentID), model.GenerateUUIDWithSuffix("rec"))
		err := locker.Lock(ctx, reconcileLockTTL)
		switch {
		case errors.Is(err, redlock.ErrLockHeld):
			intent, err := r.loadIntent(ctx, intentID)
			if err != nil {
				return nil, err
			}
			return intent.ToStatusResult(), nil
		case err != nil:
			logrus.WithError(err).WithField("intent_id", intentID).Warn("reconcile lock unavailable, relying on the store guard")
		default:
			defer func() {
				if err := locker.Unlock(context.WithoutCancel(ctx)); err != nil {
					logrus.WithError(err).WithField("intent_id", intentID).Debug("releasing reconcile lock")
				}
			}()
		}
	}

	intent, err := r.loadIntent(ctx, intentID)
	if err != nil {
		return nil, err
	}
	if intent.Status.IsTerminal() {
		if intent.NeedsConfirmationDispatch() {
			r.dispatchConfirmation(ctx, intent)
		}
		return intent.ToStatusResult(), nil
	}

	txs, err := r.observe(ctx, r.sourceFor(intent), intent, candidate)
	if err != nil {
		span.RecordError(err)
		logrus.WithError(err).WithField("intent_id", intentID).Warn("ledger query failed, keeping persisted status")
		return intent.ToStatusResult(), nil
	}

	if len(txs) == 0 {
		if intent.Status == model.StatusPending && r.now().After(intent.ExpiresAt) {
			return r.transition(ctx, intent, model.StatusExpired, nil)
		}
		return intent.ToStatusResult(), nil
	}

	observed := summarize(txs)
	status := Classify(intent.NativeAmount, observed.ObservedAmount, observed.Confirmations, intent.RequiredConfirmations, intent.Status)
	if intent.Status == status && sameObservation(intent, observed) {
		return intent.ToStatusResult(), nil
	}
	return r.transition(ctx, intent, status, observed)
}

func (r *Reconciler) transition(ctx context.Context, intent *model.PaymentIntent, to model.PaymentStatus, observed *model.ObservedTransaction) (*model.StatusResult, error) {
	updated, changed, err := r.datasource.TransitionPaymentIntent(ctx, intent.IntentID, to, observed)
	if err != nil {
		return nil, err
	}

	if changed && updated.Status != intent.Status {
		logrus.WithFields(logrus.Fields{
			"intent_id":  intent.IntentID,
			"invoice_id": intent.InvoiceID,
			"from":       intent.Status,
			"to":         updated.Status,
		}).Info("payment intent status changed")
		notification.NotifyEvent(webhookEvent(updated.Status), updated)
	}

	if changed && updated.Status == model.StatusConfirmed {
		r.dispatchConfirmation(ctx, updated)
	}
	return updated.ToStatusResult(), nil
}

// dispatchConfirmation hands a confirmed intent to the handler. The store
// claim lets one caller through; a failed hand-off is released so every later
// reconcile of the intent and the expiry sweep try again.
func (r *Reconciler) dispatchConfirmation(ctx context.Context, intent *model.PaymentIntent) {
	logger := logrus.WithField("intent_id", intent.IntentID)
	claimed, err := r.datasource.ClaimConfirmationDispatch(ctx, intent.IntentID)
	if err != nil {
		logger.WithError(err).Warn("failed to claim confirmation hand-off")
		return
	}
	if !claimed || r.handler == nil {
		return
	}

	if err := r.handler.OnConfirmed(ctx, intent); err != nil {
		logger.WithError(err).Error("confirmation side effect failed, will retry")
		notification.NotifyError(fmt.Errorf("confirmation side effect for intent %s: %w", intent.IntentID, err))
		if err := r.datasource.ReleaseConfirmationDispatch(context.WithoutCancel(ctx), intent.IntentID); err != nil {
			logger.WithError(err).Error("failed to release confirmation hand-off")
		}
	}
}

func resolved(tx *model.LedgerTransaction) bool {
	return tx.Amount.IsPositive() && !tx.Timestamp.IsZero()
}

// observe gathers the qualifying transactions for intent: the candidate (or a
// fresh listing when there is none) plus every hash counted before.
func (r *Reconciler) observe(ctx context.Context, source CandidateSource, intent *model.PaymentIntent, candidate *model.LedgerTransaction) ([]model.LedgerTransaction, error) {
	seen := make(map[string]model.LedgerTransaction)

	if candidate != nil {
		tx := candidate
		if !resolved(candidate) {
			var err error
			if tx, err = source.Lookup(ctx, intent, candidate.Hash); err != nil {
				return nil, err
			}
		}
		if tx != nil {
			seen[tx.Hash] = *tx
		}
	} else {
		txs, err := source.Candidates(ctx, intent)
		if err != nil {
			return nil, err
		}
		for _, tx := range txs {
			seen[tx.Hash] = tx
		}
	}

	for _, hash := range intent.ObservedHashes {
		if _, ok := seen[hash]; ok {
			continue
		}
		tx, err := source.Lookup(ctx, intent, hash)
		if err != nil {
			return nil, err
		}
		if tx != nil {
			seen[hash] = *tx
		}
	}

	qualifying := make([]model.LedgerTransaction, 0, len(seen))
	for _, tx := range seen {
		if qualifies(intent, tx) {
			qualifying = append(qualifying, tx)
		}
	}
	sort.Slice(qualifying, func(i, j int) bool {
		if qualifying[i].Timestamp.Equal(qualifying[j].Timestamp) {
			return qualifying[i].Hash < qualifying[j].Hash
		}
		return qualifying[i].Timestamp.Before(qualifying[j].Timestamp)
	})
	return qualifying, nil
}

// qualifies holds for positive payments to the intent's address and tag that
// landed between creation and expiry.
func qualifies(intent *model.PaymentIntent, tx model.LedgerTransaction) bool {
	if tx.Hash == "" || !tx.Amount.IsPositive() {
		return false
	}
	if !tx.MatchesTag(intent.DestinationTag) {
		return false
	}
	if tx.Destination != "" && tx.Destination != intent.Address {
		return false
	}
	if tx.Timestamp.After(intent.ExpiresAt) {
		return false
	}
	return !tx.Timestamp.Before(intent.CreatedAt.Add(-lookbackSkew))
}

// summarize sums txs, which must be sorted oldest first. The least confirmed
// transaction bounds the confirmation count.
func summarize(txs []model.LedgerTransaction) *model.ObservedTransaction {
	observed := &model.ObservedTransaction{
		TxHash:         txs[0].Hash,
		ObservedAmount: decimal.Zero,
		Confirmations:  txs[0].Confirmations,
		Hashes:         make([]string, 0, len(txs)),
	}
	for _, tx := range txs {
		observed.ObservedAmount = observed.ObservedAmount.Add(tx.Amount)
		if tx.Confirmations < observed.Confirmations {
			observed.Confirmations = tx.Confirmations
		}
		observed.Hashes = append(observed.Hashes, tx.Hash)
	}
	return observed
}

func sameObservation(intent *model.PaymentIntent, observed *model.ObservedTransaction) bool {
	if intent.TxHash == nil || *intent.TxHash != observed.TxHash {
		return false
	}
	if !intent.ObservedAmount.Valid || !intent.ObservedAmount.Decimal.Equal(observed.ObservedAmount) {
		return false
	}
	if intent.Confirmations == nil || *intent.Confirmations != observed.Confirmations {
		return false
	}
	if len(intent.ObservedHashes) != len(observed.Hashes) {
		return false
	}
	for _, hash := range observed.Hashes {
		if !intent.HasObserved(hash) {
			return false
		}
	}
	return true
}
