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
	"sort"
	"sync"
	"time"

	"github.com/blnkfinance/paywatch/internal/apierror"
	"github.com/blnkfinance/paywatch/model"
	"github.com/shopspring/decimal"
)

// memStore is an in-memory IDataSource with the same transition guard as the
// postgres implementation.
type memStore struct {
	mu          sync.Mutex
	intents     map[string]*model.PaymentIntent
	usage       map[string]*model.AddressUsage
	settings    map[string]*model.PaymentSettings
	transitions int
	now         func() time.Time
}

func newMemStore() *memStore {
	return &memStore{
		intents:  make(map[string]*model.PaymentIntent),
		usage:    make(map[string]*model.AddressUsage),
		settings: make(map[string]*model.PaymentSettings),
		now:      time.Now,
	}
}

var memAllowedSources = map[model.PaymentStatus][]model.PaymentStatus{
	model.StatusPending:   {model.StatusPending},
	model.StatusUnderpaid: {model.StatusPending, model.StatusUnderpaid},
	model.StatusConfirmed: {model.StatusPending, model.StatusUnderpaid},
	model.StatusExpired:   {model.StatusPending},
}

func notFound() error {
	return apierror.NewAPIError(apierror.ErrNotFound, "not found", nil)
}

func clone(intent *model.PaymentIntent) *model.PaymentIntent {
	c := *intent
	c.ObservedHashes = append([]string(nil), intent.ObservedHashes...)
	return &c
}

func (m *memStore) put(intent *model.PaymentIntent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.intents[intent.IntentID] = clone(intent)
}

func (m *memStore) get(id string) *model.PaymentIntent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return clone(m.intents[id])
}

func (m *memStore) transitionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.transitions
}

func (m *memStore) CreatePaymentIntent(_ context.Context, intent *model.PaymentIntent) (*model.PaymentIntent, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.intents {
		if existing.InvoiceID == intent.InvoiceID && existing.Asset == intent.Asset && existing.Status == model.StatusPending {
			return clone(existing), false, nil
		}
	}
	m.intents[intent.IntentID] = clone(intent)
	return clone(intent), true, nil
}

func (m *memStore) GetPaymentIntent(_ context.Context, intentID string) (*model.PaymentIntent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	intent, ok := m.intents[intentID]
	if !ok {
		return nil, notFound()
	}
	return clone(intent), nil
}

func (m *memStore) GetPendingIntentByInvoice(_ context.Context, invoiceID, asset string) (*model.PaymentIntent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, intent := range m.intents {
		if intent.InvoiceID == invoiceID && intent.Asset == asset && intent.Status == model.StatusPending {
			return clone(intent), nil
		}
	}
	return nil, notFound()
}

func (m *memStore) GetActiveIntentByInvoice(_ context.Context, invoiceID, asset string) (*model.PaymentIntent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var best *model.PaymentIntent
	for _, intent := range m.intents {
		if intent.InvoiceID != invoiceID || (asset != "" && intent.Asset != asset) {
			continue
		}
		active := intent.Status == model.StatusConfirmed ||
			((intent.Status == model.StatusPending || intent.Status == model.StatusUnderpaid) && intent.ExpiresAt.After(m.now()))
		if active && (best == nil || intent.CreatedAt.After(best.CreatedAt)) {
			best = intent
		}
	}
	if best == nil {
		return nil, notFound()
	}
	return clone(best), nil
}

func (m *memStore) TransitionPaymentIntent(_ context.Context, intentID string, to model.PaymentStatus, observed *model.ObservedTransaction) (*model.PaymentIntent, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	intent, ok := m.intents[intentID]
	if !ok {
		return nil, false, notFound()
	}

	allowed := false
	for _, from := range memAllowedSources[to] {
		if intent.Status == from {
			allowed = true
		}
	}
	if !allowed {
		return clone(intent), false, nil
	}

	intent.Status = to
	if observed != nil {
		hash := observed.TxHash
		confirmations := observed.Confirmations
		intent.TxHash = &hash
		intent.ObservedAmount = decimal.NewNullDecimal(observed.ObservedAmount)
		intent.Confirmations = &confirmations
		intent.ObservedHashes = append([]string(nil), observed.Hashes...)
	}
	if to == model.StatusConfirmed {
		at := m.now()
		intent.ConfirmedAt = &at
	}
	intent.UpdatedAt = m.now()
	m.transitions++
	return clone(intent), true, nil
}

func (m *memStore) open(filter func(*model.PaymentIntent) bool) []*model.PaymentIntent {
	var intents []*model.PaymentIntent
	for _, intent := range m.intents {
		if filter(intent) {
			intents = append(intents, clone(intent))
		}
	}
	sort.Slice(intents, func(i, j int) bool { return intents[i].IntentID < intents[j].IntentID })
	return intents
}

func (m *memStore) GetOpenPaymentIntents(_ context.Context, now time.Time, limit, offset int) ([]*model.PaymentIntent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	intents := m.open(func(p *model.PaymentIntent) bool {
		return p.Status == model.StatusPending || (p.Status == model.StatusUnderpaid && p.ExpiresAt.After(now))
	})
	if offset >= len(intents) {
		return nil, nil
	}
	intents = intents[offset:]
	if len(intents) > limit {
		intents = intents[:limit]
	}
	return intents, nil
}

func (m *memStore) GetOverduePaymentIntents(_ context.Context, now time.Time, limit int) ([]*model.PaymentIntent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	intents := m.open(func(p *model.PaymentIntent) bool {
		return p.Status == model.StatusPending && !p.ExpiresAt.After(now)
	})
	if len(intents) > limit {
		intents = intents[:limit]
	}
	return intents, nil
}

func (m *memStore) ClaimConfirmationDispatch(_ context.Context, intentID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	intent, ok := m.intents[intentID]
	if !ok || !intent.NeedsConfirmationDispatch() {
		return false, nil
	}
	at := m.now()
	intent.ConfirmationDispatchedAt = &at
	return true, nil
}

func (m *memStore) ReleaseConfirmationDispatch(_ context.Context, intentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if intent, ok := m.intents[intentID]; ok {
		intent.ConfirmationDispatchedAt = nil
	}
	return nil
}

func (m *memStore) GetUndispatchedConfirmations(_ context.Context, limit int) ([]*model.PaymentIntent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	intents := m.open(func(p *model.PaymentIntent) bool { return p.NeedsConfirmationDispatch() })
	if len(intents) > limit {
		intents = intents[:limit]
	}
	return intents, nil
}

func usageKey(organizationID, asset, address string) string {
	return organizationID + "|" + asset + "|" + address
}

func (m *memStore) touch(organizationID, asset, address string) *model.AddressClaim {
	key := usageKey(organizationID, asset, address)
	claim := &model.AddressClaim{OrganizationID: organizationID, Asset: asset, Address: address, ClaimedAt: m.now()}
	usage, ok := m.usage[key]
	if ok {
		previous := usage.LastUsedAt
		claim.PreviousUsedAt = &previous
	} else {
		usage = &model.AddressUsage{OrganizationID: organizationID, Asset: asset, Address: address}
		m.usage[key] = usage
	}
	usage.LastUsedAt = claim.ClaimedAt
	usage.UseCount++
	return claim
}

func (m *memStore) ClaimReusableAddress(_ context.Context, organizationID, asset, address string, cooldown time.Duration) (*model.AddressClaim, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := m.now().Add(-cooldown)
	if usage, ok := m.usage[usageKey(organizationID, asset, address)]; ok && !usage.LastUsedAt.Before(cutoff) {
		return nil, nil
	}
	return m.touch(organizationID, asset, address), nil
}

func (m *memStore) ClaimUnusedAddress(_ context.Context, organizationID, asset, address string) (*model.AddressClaim, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.usage[usageKey(organizationID, asset, address)]; ok {
		return nil, nil
	}
	return m.touch(organizationID, asset, address), nil
}

func (m *memStore) ForceClaimAddress(_ context.Context, organizationID, asset, address string) (*model.AddressClaim, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.touch(organizationID, asset, address), nil
}

func (m *memStore) ReleaseAddressClaim(_ context.Context, claim *model.AddressClaim) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := usageKey(claim.OrganizationID, claim.Asset, claim.Address)
	usage, ok := m.usage[key]
	if !ok || !usage.LastUsedAt.Equal(claim.ClaimedAt) {
		return nil
	}
	if claim.PreviousUsedAt == nil {
		delete(m.usage, key)
		return nil
	}
	usage.LastUsedAt = *claim.PreviousUsedAt
	if usage.UseCount > 1 {
		usage.UseCount--
	}
	return nil
}

func (m *memStore) GetAddressUsage(_ context.Context, organizationID, asset string) ([]model.AddressUsage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var usage []model.AddressUsage
	for _, u := range m.usage {
		if u.OrganizationID == organizationID && u.Asset == asset {
			usage = append(usage, *u)
		}
	}
	return usage, nil
}

func (m *memStore) GetPaymentSettings(_ context.Context, organizationID, asset string) (*model.PaymentSettings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	settings, ok := m.settings[organizationID+"|"+asset]
	if !ok {
		return nil, notFound()
	}
	c := *settings
	return &c, nil
}

func (m *memStore) UpsertPaymentSettings(_ context.Context, settings *model.PaymentSettings) (*model.PaymentSettings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *settings
	m.settings[settings.OrganizationID+"|"+settings.Asset] = &c
	return &c, nil
}

// fakeSource is a scriptable CandidateSource.
type fakeSource struct {
	mu      sync.Mutex
	txs     map[string]model.LedgerTransaction
	err     error
	queries int
}

func newFakeSource() *fakeSource {
	return &fakeSource{txs: make(map[string]model.LedgerTransaction)}
}

func (f *fakeSource) add(tx model.LedgerTransaction) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.txs[tx.Hash] = tx
}

func (f *fakeSource) confirm(hash string, confirmations int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	tx := f.txs[hash]
	tx.Confirmations = confirmations
	f.txs[hash] = tx
}

func (f *fakeSource) fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *fakeSource) queryCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.queries
}

func (f *fakeSource) Candidates(_ context.Context, _ *model.PaymentIntent) ([]model.LedgerTransaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries++
	if f.err != nil {
		return nil, f.err
	}
	txs := make([]model.LedgerTransaction, 0, len(f.txs))
	for _, tx := range f.txs {
		txs = append(txs, tx)
	}
	return txs, nil
}

func (f *fakeSource) Lookup(_ context.Context, _ *model.PaymentIntent, hash string) (*model.LedgerTransaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries++
	if f.err != nil {
		return nil, f.err
	}
	tx, ok := f.txs[hash]
	if !ok {
		return nil, nil
	}
	return &tx, nil
}

// countingHandler records confirmation side effects. Calls made while err is
// set count as attempts but not deliveries.
type countingHandler struct {
	mu        sync.Mutex
	confirmed []string
	delivered []string
	err       error
}

func (h *countingHandler) OnConfirmed(_ context.Context, intent *model.PaymentIntent) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.confirmed = append(h.confirmed, intent.IntentID)
	if h.err != nil {
		return h.err
	}
	h.delivered = append(h.delivered, intent.IntentID)
	return nil
}

func (h *countingHandler) setErr(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.err = err
}

func (h *countingHandler) deliveries() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.delivered)
}

func (h *countingHandler) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.confirmed)
}

const (
	testAddress = "rPool1"
	testTag     = uint32(42)
)

func testIntent(id string, native string, now time.Time) *model.PaymentIntent {
	tag := testTag
	return &model.PaymentIntent{
		IntentID:              id,
		OrganizationID:        "org_1",
		InvoiceID:             "inv_" + id,
		FiatAmount:            decimal.RequireFromString("50"),
		FiatCurrency:          "USD",
		Asset:                 "XRP",
		NativeAmount:          decimal.RequireFromString(native),
		ExchangeRate:          decimal.RequireFromString("0.5"),
		Address:               testAddress,
		DestinationTag:        &tag,
		RequiredConfirmations: 1,
		Status:                model.StatusPending,
		CreatedAt:             now.Add(-time.Minute),
		ExpiresAt:             now.Add(14 * time.Minute),
	}
}

func payment(hash, amount string, confirmations int, at time.Time) model.LedgerTransaction {
	tag := testTag
	return model.LedgerTransaction{
		Hash:           hash,
		Destination:    testAddress,
		Amount:         decimal.RequireFromString(amount),
		Timestamp:      at,
		DestinationTag: &tag,
		Confirmations:  confirmations,
	}
}
