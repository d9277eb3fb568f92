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

package database

import (
	"context"
	"time"

	"github.com/blnkfinance/paywatch/model"
)

// IDataSource defines the interface for data source operations, grouping related functionalities.
type IDataSource interface {
	paymentIntent   // Interface for payment intent records and their lifecycle
	addressUsage    // Interface for receiving address claims
	paymentSettings // Interface for per organization payment settings
}

// paymentIntent defines methods for handling payment intents.
type paymentIntent interface {
	// CreatePaymentIntent inserts intent. When a pending intent already exists for
	// the same invoice and asset, the existing record is returned with created=false.
	CreatePaymentIntent(ctx context.Context, intent *model.PaymentIntent) (*model.PaymentIntent, bool, error)
	GetPaymentIntent(ctx context.Context, intentID string) (*model.PaymentIntent, error)
	GetPendingIntentByInvoice(ctx context.Context, invoiceID, asset string) (*model.PaymentIntent, error)
	GetActiveIntentByInvoice(ctx context.Context, invoiceID, asset string) (*model.PaymentIntent, error)
	// TransitionPaymentIntent moves the intent to status when its current status
	// allows it. A disallowed transition returns the current record with changed=false.
	TransitionPaymentIntent(ctx context.Context, intentID string, to model.PaymentStatus, observed *model.ObservedTransaction) (*model.PaymentIntent, bool, error)
	GetOpenPaymentIntents(ctx context.Context, now time.Time, limit, offset int) ([]*model.PaymentIntent, error)
	GetOverduePaymentIntents(ctx context.Context, now time.Time, limit int) ([]*model.PaymentIntent, error)
	// ClaimConfirmationDispatch reports whether the caller owns the hand-off
	// of a confirmed intent's side effect.
	ClaimConfirmationDispatch(ctx context.Context, intentID string) (bool, error)
	ReleaseConfirmationDispatch(ctx context.Context, intentID string) error
	GetUndispatchedConfirmations(ctx context.Context, limit int) ([]*model.PaymentIntent, error)
}

// addressUsage defines the claim operations of the address allocator.
// A nil claim with a nil error means the address was not available.
type addressUsage interface {
	ClaimReusableAddress(ctx context.Context, organizationID, asset, address string, cooldown time.Duration) (*model.AddressClaim, error)
	ClaimUnusedAddress(ctx context.Context, organizationID, asset, address string) (*model.AddressClaim, error)
	ForceClaimAddress(ctx context.Context, organizationID, asset, address string) (*model.AddressClaim, error)
	// ReleaseAddressClaim undoes claim unless the address was claimed again since.
	ReleaseAddressClaim(ctx context.Context, claim *model.AddressClaim) error
	GetAddressUsage(ctx context.Context, organizationID, asset string) ([]model.AddressUsage, error)
}

// paymentSettings defines methods for per organization settings.
type paymentSettings interface {
	GetPaymentSettings(ctx context.Context, organizationID, asset string) (*model.PaymentSettings, error)
	UpsertPaymentSettings(ctx context.Context, settings *model.PaymentSettings) (*model.PaymentSettings, error)
}
