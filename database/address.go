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
	"database/sql"
	"errors"
	"time"

	"github.com/blnkfinance/paywatch/internal/apierror"
	"github.com/blnkfinance/paywatch/model"
	"go.opentelemetry.io/otel"
)

// previousUsage locks the usage row, if any, so the claim can report the
// last_used_at it replaced.
const previousUsage = `
	WITH previous AS (
		SELECT last_used_at FROM paywatch.address_usage
		WHERE organization_id = $1 AND asset = $2 AND address = $3
		FOR UPDATE
	)`

func (d Datasource) claimAddress(ctx context.Context, query string, organizationID, asset, address string, args ...interface{}) (*model.AddressClaim, error) {
	var (
		claimedAt time.Time
		previous  sql.NullTime
	)
	params := append([]interface{}{organizationID, asset, address}, args...)
	err := d.Conn.QueryRowContext(ctx, query, params...).Scan(&claimedAt, &previous)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to claim address", err)
	}

	claim := &model.AddressClaim{
		OrganizationID: organizationID,
		Asset:          asset,
		Address:        address,
		ClaimedAt:      claimedAt,
	}
	if previous.Valid {
		claim.PreviousUsedAt = &previous.Time
	}
	return claim, nil
}

// ClaimReusableAddress records a use of address unless it was used within
// cooldown. The cutoff is computed by the database against the same clock
// that stamps last_used_at. The conditional upsert makes two concurrent
// allocators unable to claim the same cooled-down address.
func (d Datasource) ClaimReusableAddress(ctx context.Context, organizationID, asset, address string, cooldown time.Duration) (*model.AddressClaim, error) {
	ctx, span := otel.Tracer("AddressUsage").Start(ctx, "Claiming reusable address")
	defer span.End()

	return d.claimAddress(ctx, previousUsage+`
		INSERT INTO paywatch.address_usage (organization_id, asset, address, last_used_at, use_count)
		VALUES ($1, $2, $3, NOW(), 1)
		ON CONFLICT (organization_id, asset, address) DO UPDATE
			SET last_used_at = NOW(), use_count = paywatch.address_usage.use_count + 1
			WHERE paywatch.address_usage.last_used_at < NOW() - make_interval(secs => $4::double precision)
		RETURNING last_used_at, (SELECT last_used_at FROM previous)
	`, organizationID, asset, address, cooldown.Seconds())
}

// ClaimUnusedAddress claims address only if it has never been used.
func (d Datasource) ClaimUnusedAddress(ctx context.Context, organizationID, asset, address string) (*model.AddressClaim, error) {
	ctx, span := otel.Tracer("AddressUsage").Start(ctx, "Claiming unused address")
	defer span.End()

	return d.claimAddress(ctx, `
		INSERT INTO paywatch.address_usage (organization_id, asset, address, last_used_at, use_count)
		VALUES ($1, $2, $3, NOW(), 1)
		ON CONFLICT (organization_id, asset, address) DO NOTHING
		RETURNING last_used_at, NULL::timestamp
	`, organizationID, asset, address)
}

// ForceClaimAddress records a use of address regardless of its cooldown.
func (d Datasource) ForceClaimAddress(ctx context.Context, organizationID, asset, address string) (*model.AddressClaim, error) {
	ctx, span := otel.Tracer("AddressUsage").Start(ctx, "Force claiming address")
	defer span.End()

	claim, err := d.claimAddress(ctx, previousUsage+`
		INSERT INTO paywatch.address_usage (organization_id, asset, address, last_used_at, use_count)
		VALUES ($1, $2, $3, NOW(), 1)
		ON CONFLICT (organization_id, asset, address) DO UPDATE
			SET last_used_at = NOW(), use_count = paywatch.address_usage.use_count + 1
		RETURNING last_used_at, (SELECT last_used_at FROM previous)
	`, organizationID, asset, address)
	if err == nil && claim == nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to claim address", address)
	}
	return claim, err
}

// ReleaseAddressClaim undoes claim. A claim that created the usage record
// deletes it, any other restores the previous last_used_at. Nothing happens
// when the address was claimed again since.
func (d Datasource) ReleaseAddressClaim(ctx context.Context, claim *model.AddressClaim) error {
	ctx, span := otel.Tracer("AddressUsage").Start(ctx, "Releasing address claim")
	defer span.End()

	var err error
	if claim.PreviousUsedAt == nil {
		_, err = d.Conn.ExecContext(ctx, `
			DELETE FROM paywatch.address_usage
			WHERE organization_id = $1 AND asset = $2 AND address = $3 AND last_used_at = $4
		`, claim.OrganizationID, claim.Asset, claim.Address, claim.ClaimedAt)
	} else {
		_, err = d.Conn.ExecContext(ctx, `
			UPDATE paywatch.address_usage
			SET last_used_at = $5, use_count = GREATEST(use_count - 1, 1)
			WHERE organization_id = $1 AND asset = $2 AND address = $3 AND last_used_at = $4
		`, claim.OrganizationID, claim.Asset, claim.Address, claim.ClaimedAt, *claim.PreviousUsedAt)
	}
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to release address claim", err)
	}
	return nil
}

func (d Datasource) GetAddressUsage(ctx context.Context, organizationID, asset string) ([]model.AddressUsage, error) {
	ctx, span := otel.Tracer("AddressUsage").Start(ctx, "Fetching address usage")
	defer span.End()

	rows, err := d.Conn.QueryContext(ctx, `
		SELECT organization_id, asset, address, last_used_at, use_count
		FROM paywatch.address_usage
		WHERE organization_id = $1 AND asset = $2
		ORDER BY last_used_at DESC
	`, organizationID, asset)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve address usage", err)
	}
	defer func() { _ = rows.Close() }()

	usage := []model.AddressUsage{}
	for rows.Next() {
		u := model.AddressUsage{}
		if err := rows.Scan(&u.OrganizationID, &u.Asset, &u.Address, &u.LastUsedAt, &u.UseCount); err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan address usage", err)
		}
		usage = append(usage, u)
	}
	if err := rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error occurred while iterating over address usage", err)
	}
	return usage, nil
}
