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

	"github.com/blnkfinance/paywatch/internal/apierror"
	"github.com/blnkfinance/paywatch/model"
	"github.com/lib/pq"
	"go.opentelemetry.io/otel"
)

const settingsColumns = `organization_id, asset, enabled, addresses, cooldown_seconds, stop_reusing,
	required_confirmations, test_mode, intent_ttl_seconds, created_at, updated_at`

func scanPaymentSettings(row rowScanner) (*model.PaymentSettings, error) {
	s := model.PaymentSettings{}
	var addresses pq.StringArray
	err := row.Scan(
		&s.OrganizationID, &s.Asset, &s.Enabled, &addresses, &s.CooldownSeconds, &s.StopReusing,
		&s.RequiredConfirmations, &s.TestMode, &s.IntentTTLSeconds, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	s.Addresses = []string(addresses)
	return &s, nil
}

func (d Datasource) GetPaymentSettings(ctx context.Context, organizationID, asset string) (*model.PaymentSettings, error) {
	ctx, span := otel.Tracer("PaymentSettings").Start(ctx, "Fetching payment settings")
	defer span.End()

	row := d.Conn.QueryRowContext(ctx, `
		SELECT `+settingsColumns+`
		FROM paywatch.crypto_payment_settings
		WHERE organization_id = $1 AND asset = $2
	`, organizationID, asset)

	settings, err := scanPaymentSettings(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, "Payment settings not found", nil)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve payment settings", err)
	}
	return settings, nil
}

// UpsertPaymentSettings creates or replaces the settings of an organization and asset.
func (d Datasource) UpsertPaymentSettings(ctx context.Context, settings *model.PaymentSettings) (*model.PaymentSettings, error) {
	ctx, span := otel.Tracer("PaymentSettings").Start(ctx, "Saving payment settings")
	defer span.End()

	row := d.Conn.QueryRowContext(ctx, `
		INSERT INTO paywatch.crypto_payment_settings (
			organization_id, asset, enabled, addresses, cooldown_seconds, stop_reusing,
			required_confirmations, test_mode, intent_ttl_seconds
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (organization_id, asset) DO UPDATE SET
			enabled = EXCLUDED.enabled,
			addresses = EXCLUDED.addresses,
			cooldown_seconds = EXCLUDED.cooldown_seconds,
			stop_reusing = EXCLUDED.stop_reusing,
			required_confirmations = EXCLUDED.required_confirmations,
			test_mode = EXCLUDED.test_mode,
			intent_ttl_seconds = EXCLUDED.intent_ttl_seconds,
			updated_at = NOW()
		RETURNING `+settingsColumns,
		settings.OrganizationID, settings.Asset, settings.Enabled, pq.Array(settings.Addresses),
		settings.CooldownSeconds, settings.StopReusing, settings.RequiredConfirmations,
		settings.TestMode, settings.IntentTTLSeconds,
	)

	saved, err := scanPaymentSettings(row)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to save payment settings", err)
	}
	return saved, nil
}
