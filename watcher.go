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
	"sync"
	"time"

	"github.com/blnkfinance/paywatch/ledger"
	"github.com/blnkfinance/paywatch/model"
	"github.com/sirupsen/logrus"
)

// statusReconciler is the part of Reconciler the watcher drives.
type statusReconciler interface {
	Reconcile(ctx context.Context, intentID string, candidate *model.LedgerTransaction) (*model.StatusResult, error)
}

// Watcher observes pending intents until they settle. Each intent gets its own
// WatchSession which listens to a ledger subscription when one is available
// and otherwise polls.
type Watcher struct {
	reconciler statusReconciler
	subscriber ledger.Subscriber
	interval   time.Duration
	// slack is added to an intent's deadline before the session re-checks it.
	slack time.Duration

	mu       sync.Mutex
	sessions map[string]*WatchSession
	degraded map[string]bool
	stopped  bool
}

// NewWatcher builds a Watcher. A nil subscriber means pull mode only.
func NewWatcher(reconciler statusReconciler, subscriber ledger.Subscriber, interval time.Duration) *Watcher {
	return &Watcher{
		reconciler: reconciler,
		subscriber: subscriber,
		interval:   interval,
		slack:      time.Second,
		sessions:   make(map[string]*WatchSession),
		degraded:   make(map[string]bool),
	}
}

// WatchSession is the observation state of one intent. All fields below
// watcher are owned by the session goroutine.
type WatchSession struct {
	watcher  *Watcher
	intentID string
	address  string
	tag      *uint32
	deadline time.Time
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup

	push       bool
	pushFailed bool
	sub        ledger.Subscription
	ticker     *time.Ticker
}

// Watch starts observing intent. It returns false when the intent is terminal
// or already watched. The session outlives ctx; stop it with Unwatch.
func (w *Watcher) Watch(ctx context.Context, intent *model.PaymentIntent) bool {
	if intent == nil || intent.Status.IsTerminal() {
		return false
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return false
	}
	if _, ok := w.sessions[intent.IntentID]; ok {
		return false
	}

	sctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s := &WatchSession{
		watcher:  w,
		intentID: intent.IntentID,
		address:  intent.Address,
		tag:      intent.DestinationTag,
		deadline: intent.ExpiresAt,
		ctx:      sctx,
		cancel:   cancel,
		push:     w.subscriber != nil && !intent.TestMode && !w.degraded[intent.Address],
	}
	w.sessions[intent.IntentID] = s
	s.wg.Add(1)
	go s.run()
	return true
}

// Unwatch stops observing an intent and waits for its session to exit.
func (w *Watcher) Unwatch(intentID string) bool {
	w.mu.Lock()
	s, ok := w.sessions[intentID]
	delete(w.sessions, intentID)
	w.mu.Unlock()
	if !ok {
		return false
	}
	s.cancel()
	s.wg.Wait()
	return true
}

func (w *Watcher) IsWatching(intentID string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.sessions[intentID]
	return ok
}

// IsDegraded reports whether push mode was given up for address.
func (w *Watcher) IsDegraded(address string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.degraded[address]
}

func (w *Watcher) Active() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.sessions)
}

// Stop ends every session and refuses new ones.
func (w *Watcher) Stop() {
	w.mu.Lock()
	w.stopped = true
	sessions := make([]*WatchSession, 0, len(w.sessions))
	for id, s := range w.sessions {
		sessions = append(sessions, s)
		delete(w.sessions, id)
	}
	w.mu.Unlock()

	for _, s := range sessions {
		s.cancel()
	}
	for _, s := range sessions {
		s.wg.Wait()
	}
}

func (w *Watcher) markDegraded(address string) {
	w.mu.Lock()
	w.degraded[address] = true
	w.mu.Unlock()
}

func (w *Watcher) forget(s *WatchSession) {
	w.mu.Lock()
	if w.sessions[s.intentID] == s {
		delete(w.sessions, s.intentID)
	}
	w.mu.Unlock()
}

func (s *WatchSession) logger() *logrus.Entry {
	return logrus.WithFields(logrus.Fields{"intent_id": s.intentID, "address": s.address})
}

func (s *WatchSession) run() {
	defer s.wg.Done()
	defer s.release()

	if s.push {
		sub, err := s.watcher.subscriber.Subscribe(s.ctx, s.address)
		if err != nil {
			s.failPush(err)
		} else {
			s.sub = sub
		}
	} else {
		s.startTicker()
	}

	if s.check(nil) {
		return
	}

	// Push mode hears nothing once the payment window closes, so the session
	// wakes at the deadline to let the reconciler expire the intent.
	deadline := time.NewTimer(time.Until(s.deadline) + s.watcher.slack)
	defer deadline.Stop()

	var events <-chan model.LedgerTransaction
	var errs <-chan error
	if s.sub != nil {
		events, errs = s.sub.Events(), s.sub.Err()
	}

	for {
		var tick <-chan time.Time
		if s.ticker != nil {
			tick = s.ticker.C
		}

		select {
		case <-s.ctx.Done():
			return
		case tx, ok := <-events:
			if !ok {
				s.failPush(errors.New("subscription closed"))
				events, errs = nil, nil
				continue
			}
			if !tx.MatchesTag(s.tag) {
				continue
			}
			if s.check(&tx) {
				return
			}
		case err := <-errs:
			s.failPush(err)
			events, errs = nil, nil
		case <-tick:
			if s.check(nil) {
				return
			}
		case <-deadline.C:
			if s.check(nil) {
				return
			}
			s.startTicker()
		}
	}
}

// check reconciles once and reports whether observation is over.
func (s *WatchSession) check(candidate *model.LedgerTransaction) bool {
	result, err := s.watcher.reconciler.Reconcile(s.ctx, s.intentID, candidate)
	if err != nil {
		if errors.Is(err, ErrIntentNotFound) || s.ctx.Err() != nil {
			return true
		}
		s.logger().WithError(err).Warn("reconcile failed, retrying on next tick")
		s.startTicker()
		return false
	}
	if result.Status.IsTerminal() {
		s.logger().WithField("status", result.Status).Info("payment intent settled, stopping watch")
		return true
	}
	if result.WatchEndedAt(time.Now()) {
		s.logger().WithField("status", result.Status).Info("payment window closed, stopping watch")
		return true
	}
	// Confirmations accrue without new ledger events once a payment is seen.
	if result.TxHash != nil {
		s.startTicker()
	}
	return false
}

// failPush drops to pull mode. The address stays degraded for the lifetime
// of the process.
func (s *WatchSession) failPush(err error) {
	if s.pushFailed {
		return
	}
	s.pushFailed = true
	s.watcher.markDegraded(s.address)
	s.logger().WithError(errors.Join(ErrSubscriptionFailed, err)).Warn("falling back to polling")
	if s.sub != nil {
		_ = s.sub.Close()
		s.sub = nil
	}
	s.startTicker()
}

func (s *WatchSession) startTicker() {
	if s.ticker == nil {
		s.ticker = time.NewTicker(s.watcher.interval)
	}
}

func (s *WatchSession) release() {
	s.cancel()
	if s.sub != nil {
		_ = s.sub.Close()
		s.sub = nil
	}
	if s.ticker != nil {
		s.ticker.Stop()
	}
	s.watcher.forget(s)
}
