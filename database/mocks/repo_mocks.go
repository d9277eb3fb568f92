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

package mocks

import (
	"context"
	"time"

	"github.com/blnkfinance/paywatch/model"
	"github.com/stretchr/testify/mock"
)

// MockDataSource is a mock implementation of the IDataSource interface
type MockDataSource struct {
	mock.Mock
}

// Payment intent methods

func (m *MockDataSource) CreatePaymentIntent(ctx context.Context, intent *model.PaymentIntent) (*model.PaymentIntent, bool, error) {
	args := m.Called(ctx, intent)
	if args.Get(0) == nil {
		return nil, args.Bool(1), args.Error(2)
	}
	return args.Get(0).(*model.PaymentIntent), args.Bool(1), args.Error(2)
}

func (m *MockDataSource) GetPaymentIntent(ctx context.Context, intentID string) (*model.PaymentIntent, error) {
	args := m.Called(ctx, intentID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.PaymentIntent), args.Error(1)
}

func (m *MockDataSource) GetPendingIntentByInvoice(ctx context.Context, invoiceID, asset string) (*model.PaymentIntent, error) {
	args := m.Called(ctx, invoiceID, asset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.PaymentIntent), args.Error(1)
}

func (m *MockDataSource) GetActiveIntentByInvoice(ctx context.Context, invoiceID, asset string) (*model.PaymentIntent, error) {
	args := m.Called(ctx, invoiceID, asset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.PaymentIntent), args.Error(1)
}

func (m *MockDataSource) TransitionPaymentIntent(ctx context.Context, intentID string, to model.PaymentStatus, observed *model.ObservedTransaction) (*model.PaymentIntent, bool, error) {
	args := m.Called(ctx, intentID, to, observed)
	if args.Get(0) == nil {
		return nil, args.Bool(1), args.Error(2)
	}
	return args.Get(0).(*model.PaymentIntent), args.Bool(1), args.Error(2)
}

func (m *MockDataSource) GetOpenPaymentIntents(ctx context.Context, now time.Time, limit, offset int) ([]*model.PaymentIntent, error) {
	args := m.Called(ctx, now, limit, offset)
	return args.Get(0).([]*model.PaymentIntent), args.Error(1)
}

func (m *MockDataSource) GetOverduePaymentIntents(ctx context.Context, now time.Time, limit int) ([]*model.PaymentIntent, error) {
	args := m.Called(ctx, now, limit)
	return args.Get(0).([]*model.PaymentIntent), args.Error(1)
}

func (m *MockDataSource) ClaimConfirmationDispatch(ctx context.Context, intentID string) (bool, error) {
	args := m.Called(ctx, intentID)
	return args.Bool(0), args.Error(1)
}

func (m *MockDataSource) ReleaseConfirmationDispatch(ctx context.Context, intentID string) error {
	args := m.Called(ctx, intentID)
	return args.Error(0)
}

func (m *MockDataSource) GetUndispatchedConfirmations(ctx context.Context, limit int) ([]*model.PaymentIntent, error) {
	args := m.Called(ctx, limit)
	return args.Get(0).([]*model.PaymentIntent), args.Error(1)
}

// Address usage methods

func claimResult(args mock.Arguments) (*model.AddressClaim, error) {
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.AddressClaim), args.Error(1)
}

func (m *MockDataSource) ClaimReusableAddress(ctx context.Context, organizationID, asset, address string, cooldown time.Duration) (*model.AddressClaim, error) {
	return claimResult(m.Called(ctx, organizationID, asset, address, cooldown))
}

func (m *MockDataSource) ClaimUnusedAddress(ctx context.Context, organizationID, asset, address string) (*model.AddressClaim, error) {
	return claimResult(m.Called(ctx, organizationID, asset, address))
}

func (m *MockDataSource) ForceClaimAddress(ctx context.Context, organizationID, asset, address string) (*model.AddressClaim, error) {
	return claimResult(m.Called(ctx, organizationID, asset, address))
}

func (m *MockDataSource) ReleaseAddressClaim(ctx context.Context, claim *model.AddressClaim) error {
	args := m.Called(ctx, claim)
	return args.Error(0)
}

func (m *MockDataSource) GetAddressUsage(ctx context.Context, organizationID, asset string) ([]model.AddressUsage, error) {
	args := m.Called(ctx, organizationID, asset)
	return args.Get(0).([]model.AddressUsage), args.Error(1)
}

// Payment settings methods

func (m *MockDataSource) GetPaymentSettings(ctx context.Context, organizationID, asset string) (*model.PaymentSettings, error) {
	args := m.Called(ctx, organizationID, asset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.PaymentSettings), args.Error(1)
}

func (m *MockDataSource) UpsertPaymentSettings(ctx context.Context, settings *model.PaymentSettings) (*model.PaymentSettings, error) {
	args := m.Called(ctx, settings)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.PaymentSettings), args.Error(1)
}
