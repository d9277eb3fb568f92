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


package session

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/blnkfinance/paywatch/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubLookup struct {
	intents map[string]*model.PaymentIntent
	err     error
	calls   int
}

func (s *stubLookup) GetIntent(_ context.Context, intentID string) (*model.PaymentIntent, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.intents[intentID], nil
}

func newRestorer(t *testing.T, storage Storage, now time.Time, intents ...*model.PaymentIntent) (*Restorer, *stubLookup, *time.Time) {
	t.Helper()
	lookup := &stubLookup{intents: map[string]*model.PaymentIntent{}}
	for _, intent := range intents {
		lookup.intents[intent.IntentID] = intent
	}
	clock := now
	r := NewRestorer(storage, lookup)
	r.now = func() time.Time { return clock }
	return r, lookup, &clock
}

func pendingIntent(id string, now time.Time) *model.PaymentIntent {
	return &model.PaymentIntent{
		IntentID:  id,
		InvoiceID: "inv_1",
		Status:    model.StatusPending,
		CreatedAt: now,
		ExpiresAt: now.Add(15 * time.Minute),
	}
}

func TestSessionID_CreatedOnce(t *testing.T) {
	r, _, _ := newRestorer(t, NewMemoryStorage(), time.Now())

	first, err := r.SessionID()
	require.NoError(t, err)
	second, err := r.SessionID()
	require.NoError(t, err)

	assert.NotEmpty(t, first)
	assert.Equal(t, first, second)
}

func TestRestore_WithinWindow(t *testing.T) {
	now := time.Now()
	r, _, clock := newRestorer(t, NewMemoryStorage(), now, pendingIntent("pi_1", now))

	require.NoError(t, r.Remember("inv_1", "pi_1"))
	*clock = now.Add(2 * time.Minute)

	intent, ok := r.Restore(context.Background(), "inv_1")
	require.True(t, ok)
	assert.Equal(t, "pi_1", intent.IntentID)
}

func TestRestore_NothingRemembered(t *testing.T) {
	r, lookup, _ := newRestorer(t, NewMemoryStorage(), time.Now())

	intent, ok := r.Restore(context.Background(), "inv_1")
	assert.False(t, ok)
	assert.Nil(t, intent)
	assert.Zero(t, lookup.calls)
}

func TestRestore_ClearsIneligible(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name   string
		setup  func(r *Restorer, storage Storage, lookup *stubLookup, clock *time.Time)
		lookup bool
	}{
		{
			name: "window elapsed",
			setup: func(r *Restorer, _ Storage, _ *stubLookup, clock *time.Time) {
				*clock = now.Add(RestoreWindow)
			},
		},
		{
			name: "other session",
			setup: func(_ *Restorer, storage Storage, _ *stubLookup, _ *time.Time) {
				_ = storage.SaveSessionID("sess_other")
			},
		},
		{
			name: "expired on the server",
			setup: func(_ *Restorer, _ Storage, lookup *stubLookup, _ *time.Time) {
				lookup.intents["pi_1"].Status = model.StatusExpired
			},
			lookup: true,
		},
		{
			name: "deadline passed",
			setup: func(_ *Restorer, _ Storage, lookup *stubLookup, _ *time.Time) {
				lookup.intents["pi_1"].ExpiresAt = now.Add(-time.Second)
			},
			lookup: true,
		},
		{
			name: "server unreachable",
			setup: func(_ *Restorer, _ Storage, lookup *stubLookup, _ *time.Time) {
				lookup.err = errors.New("connection refused")
			},
			lookup: true,
		},
		{
			name: "unknown intent",
			setup: func(_ *Restorer, _ Storage, lookup *stubLookup, _ *time.Time) {
				delete(lookup.intents, "pi_1")
			},
			lookup: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			storage := NewMemoryStorage()
			r, lookup, clock := newRestorer(t, storage, now, pendingIntent("pi_1", now))
			require.NoError(t, r.Remember("inv_1", "pi_1"))

			tt.setup(r, storage, lookup, clock)

			intent, ok := r.Restore(context.Background(), "inv_1")
			assert.False(t, ok)
			assert.Nil(t, intent)
			if tt.lookup {
				assert.Equal(t, 1, lookup.calls)
			} else {
				assert.Zero(t, lookup.calls)
			}

			token, err := storage.LoadToken("inv_1")
			require.NoError(t, err)
			assert.Nil(t, token)
		})
	}
}

func TestRestore_ConfirmedPastDeadline(t *testing.T) {
	now := time.Now()
	intent := pendingIntent("pi_1", now)
	intent.Status = model.StatusConfirmed
	intent.ExpiresAt = now.Add(-time.Minute)
	r, _, _ := newRestorer(t, NewMemoryStorage(), now, intent)

	require.NoError(t, r.Remember("inv_1", "pi_1"))
	restored, ok := r.Restore(context.Background(), "inv_1")
	require.True(t, ok)
	assert.Equal(t, model.StatusConfirmed, restored.Status)
}

func TestFileStorage_Persists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkout", "session.json")
	now := time.Now()

	first, _, _ := newRestorer(t, NewFileStorage(path), now, pendingIntent("pi_1", now))
	require.NoError(t, first.Remember("inv_1", "pi_1"))
	sessionID, err := first.SessionID()
	require.NoError(t, err)

	second, _, _ := newRestorer(t, NewFileStorage(path), now.Add(time.Minute), pendingIntent("pi_1", now))
	again, err := second.SessionID()
	require.NoError(t, err)
	assert.Equal(t, sessionID, again)

	intent, ok := second.Restore(context.Background(), "inv_1")
	require.True(t, ok)
	assert.Equal(t, "pi_1", intent.IntentID)

	require.NoError(t, second.Forget("inv_1"))
	_, ok = second.Restore(context.Background(), "inv_1")
	assert.False(t, ok)
}

func TestFileStorage_CorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	r, _, _ := newRestorer(t, NewFileStorage(path), time.Now())
	intent, ok := r.Restore(context.Background(), "inv_1")
	assert.False(t, ok)
	assert.Nil(t, intent)

	id, err := r.SessionID()
	require.NoError(t, err)
	assert.NotEmpty(t, id)
}
