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
	"time"

	"github.com/blnkfinance/paywatch/database"
	"github.com/blnkfinance/paywatch/model"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

// Allocator hands out receiving addresses from an organization's pool.
type Allocator struct {
	datasource      database.IDataSource
	defaultCooldown time.Duration
}

func NewAllocator(datasource database.IDataSource, defaultCooldown time.Duration) *Allocator {
	return &Allocator{datasource: datasource, defaultCooldown: defaultCooldown}
}

// Allocate picks the first address of the pool that can be claimed.
//
// In reuse mode an address can be claimed once its cooldown elapsed. When every
// address is cooling down the first address of the pool is handed out anyway.
// In no-reuse mode only never-used addresses qualify and ErrAddressPoolExhausted
// is returned once the pool is spent. The returned claim can be undone with
// Release while no intent uses the address yet.
func (a *Allocator) Allocate(ctx context.Context, settings *model.PaymentSettings) (*model.AddressClaim, error) {
	ctx, span := tracer.Start(ctx, "Allocating receiving address")
	defer span.End()

	if settings == nil || len(settings.Addresses) == 0 {
		return nil, ErrNoAddressesConfigured
	}
	if !settings.Enabled {
		return nil, ErrOrganizationNotEligible
	}
	span.SetAttributes(
		attribute.String("paywatch.organization.id", settings.OrganizationID),
		attribute.Bool("paywatch.allocator.stop_reusing", settings.StopReusing),
	)

	if settings.StopReusing {
		for _, address := range settings.Addresses {
			claim, err := a.datasource.ClaimUnusedAddress(ctx, settings.OrganizationID, settings.Asset, address)
			if err != nil {
				return nil, err
			}
			if claim != nil {
				return claim, nil
			}
		}
		return nil, ErrAddressPoolExhausted
	}

	cooldown := settings.Cooldown(a.defaultCooldown)
	for _, address := range settings.Addresses {
		claim, err := a.datasource.ClaimReusableAddress(ctx, settings.OrganizationID, settings.Asset, address, cooldown)
		if err != nil {
			return nil, err
		}
		if claim != nil {
			return claim, nil
		}
	}

	// Intents sharing an address are told apart by their destination tag.
	fallback := settings.Addresses[0]
	logrus.WithFields(logrus.Fields{
		"organization_id": settings.OrganizationID,
		"asset":           settings.Asset,
		"address":         fallback,
	}).Warn("every receiving address is inside its cooldown, reusing the first address")
	return a.datasource.ForceClaimAddress(ctx, settings.OrganizationID, settings.Asset, fallback)
}

// Release undoes a claim whose intent was never stored. Failures are logged:
// the address then waits out its cooldown, or stays spent in no-reuse mode.
func (a *Allocator) Release(ctx context.Context, claim *model.AddressClaim) {
	if claim == nil {
		return
	}
	if err := a.datasource.ReleaseAddressClaim(context.WithoutCancel(ctx), claim); err != nil {
		logrus.WithError(err).WithFields(logrus.Fields{
			"organization_id": claim.OrganizationID,
			"asset":           claim.Asset,
			"address":         claim.Address,
		}).Warn("failed to release address claim")
	}
}
