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


// Package session lets a checkout client pick up a payment intent it created
// earlier, after a reload, as long as the attempt is recent and still payable.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/blnkfinance/paywatch/model"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// RestoreWindow bounds how old a remembered intent may be and still be restored.
const RestoreWindow = 5 * time.Minute

// Token is the locally remembered half of an intent.
type Token struct {
	SessionID string    `json:"session_id"`
	IntentID  string    `json:"intent_id"`
	InvoiceID string    `json:"invoice_id"`
	CreatedAt time.Time `json:"created_at"`
}

// Storage persists the session id and the remembered tokens, keyed by invoice.
// Load methods return a zero value and no error when nothing is stored.
type Storage interface {
	LoadSessionID() (string, error)
	SaveSessionID(id string) error
	LoadToken(invoiceID string) (*Token, error)
	SaveToken(token Token) error
	ClearToken(invoiceID string) error
}

// IntentLookup asks the server for the current state of an intent.
type IntentLookup interface {
	GetIntent(ctx context.Context, intentID string) (*model.PaymentIntent, error)
}

type Restorer struct {
	storage Storage
	lookup  IntentLookup
	window  time.Duration
	now     func() time.Time
	mu      sync.Mutex
}

func NewRestorer(storage Storage, lookup IntentLookup) *Restorer {
	return &Restorer{
		storage: storage,
		lookup:  lookup,
		window:  RestoreWindow,
		now:     time.Now,
	}
}

// SessionID returns the persisted session id, creating it on first use.
func (r *Restorer) SessionID() (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, err := r.storage.LoadSessionID()
	if err != nil {
		return "", err
	}
	if id != "" {
		return id, nil
	}
	id = model.GenerateUUIDWithSuffix("sess")
	if err := r.storage.SaveSessionID(id); err != nil {
		return "", err
	}
	return id, nil
}

// Remember records a freshly created intent against the current session.
func (r *Restorer) Remember(invoiceID, intentID string) error {
	sessionID, err := r.SessionID()
	if err != nil {
		return err
	}
	return r.storage.SaveToken(Token{
		SessionID: sessionID,
		IntentID:  intentID,
		InvoiceID: invoiceID,
		CreatedAt: r.now().UTC(),
	})
}

// Restore returns the remembered intent for invoiceID when it belongs to this
// session, is younger than the restore window and the server still reports it
// as payable. Otherwise the token is cleared and ok is false. Restore never
// fails: the caller just offers a fresh checkout.
func (r *Restorer) Restore(ctx context.Context, invoiceID string) (*model.PaymentIntent, bool) {
	logger := logrus.WithField("invoice_id", invoiceID)

	token, err := r.storage.LoadToken(invoiceID)
	if err != nil {
		logger.WithError(err).Debug("session token unreadable")
		r.clear(invoiceID)
		return nil, false
	}
	if token == nil {
		return nil, false
	}

	sessionID, err := r.SessionID()
	if err != nil || token.SessionID != sessionID {
		r.clear(invoiceID)
		return nil, false
	}
	if r.now().Sub(token.CreatedAt) >= r.window {
		r.clear(invoiceID)
		return nil, false
	}

	intent, err := r.lookup.GetIntent(ctx, token.IntentID)
	if err != nil || intent == nil || intent.IsExpiredAt(r.now()) {
		if err != nil {
			logger.WithError(err).Debug("remembered intent could not be fetched")
		}
		r.clear(invoiceID)
		return nil, false
	}
	return intent, true
}

// Forget drops the remembered intent for invoiceID.
func (r *Restorer) Forget(invoiceID string) error {
	return r.storage.ClearToken(invoiceID)
}

func (r *Restorer) clear(invoiceID string) {
	if err := r.storage.ClearToken(invoiceID); err != nil {
		logrus.WithError(err).WithField("invoice_id", invoiceID).Debug("clearing session token failed")
	}
}

type state struct {
	SessionID string           `json:"session_id"`
	Tokens    map[string]Token `json:"tokens"`
}

// MemoryStorage keeps state for the life of the process.
type MemoryStorage struct {
	mu    sync.Mutex
	state state
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{state: state{Tokens: map[string]Token{}}}
}

func (m *MemoryStorage) LoadSessionID() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.SessionID, nil
}

func (m *MemoryStorage) SaveSessionID(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.SessionID = id
	return nil
}

func (m *MemoryStorage) LoadToken(invoiceID string) (*Token, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	token, ok := m.state.Tokens[invoiceID]
	if !ok {
		return nil, nil
	}
	return &token, nil
}

func (m *MemoryStorage) SaveToken(token Token) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.Tokens[token.InvoiceID] = token
	return nil
}

func (m *MemoryStorage) ClearToken(invoiceID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.state.Tokens, invoiceID)
	return nil
}

// FileStorage keeps state in a JSON file so it survives restarts of the
// checkout command.
type FileStorage struct {
	path string
	mu   sync.Mutex
}

func NewFileStorage(path string) *FileStorage {
	return &FileStorage{path: path}
}

func (f *FileStorage) read() (state, error) {
	s := state{Tokens: map[string]Token{}}
	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return s, err
	}
	if err := json.Unmarshal(data, &s); err != nil {
		return state{Tokens: map[string]Token{}}, err
	}
	if s.Tokens == nil {
		s.Tokens = map[string]Token{}
	}
	return s, nil
}

func (f *FileStorage) write(s state) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return err
	}
	tmp := f.path + "." + uuid.NewString() + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, f.path)
}

func (f *FileStorage) update(fn func(*state)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, err := f.read()
	if err != nil {
		// a corrupt file is replaced rather than blocking checkout
		s = state{Tokens: map[string]Token{}}
	}
	fn(&s)
	return f.write(s)
}

func (f *FileStorage) LoadSessionID() (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, err := f.read()
	if err != nil {
		return "", err
	}
	return s.SessionID, nil
}

func (f *FileStorage) SaveSessionID(id string) error {
	return f.update(func(s *state) { s.SessionID = id })
}

func (f *FileStorage) LoadToken(invoiceID string) (*Token, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, err := f.read()
	if err != nil {
		return nil, err
	}
	token, ok := s.Tokens[invoiceID]
	if !ok {
		return nil, nil
	}
	return &token, nil
}

func (f *FileStorage) SaveToken(token Token) error {
	return f.update(func(s *state) { s.Tokens[token.InvoiceID] = token })
}

func (f *FileStorage) ClearToken(invoiceID string) error {
	return f.update(func(s *state) { delete(s.Tokens, invoiceID) })
}
