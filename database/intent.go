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
	"encoding/json"
	"errors"
	"time"

	"github.com/blnkfinance/paywatch/internal/apierror"
	"github.com/blnkfinance/paywatch/model"
	"github.com/lib/pq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

const intentColumns = `intent_id, organization_id, invoice_id, fiat_amount, fiat_currency, asset,
	native_amount, exchange_rate, address, destination_tag, required_confirmations, status,
	tx_hash, observed_amount, confirmations, observed_hashes, test_mode, created_at, expires_at,
	confirmed_at, updated_at, meta_data, confirmation_dispatched_at`

// allowedSources lists, per target status, the statuses a transition may
// start from. Confirmed and expired never appear as a source.
var allowedSources = map[model.PaymentStatus][]string{
	model.StatusPending:   {string(model.StatusPending)},
	model.StatusUnderpaid: {string(model.StatusPending), string(model.StatusUnderpaid)},
	model.StatusConfirmed: {string(model.StatusPending), string(model.StatusUnderpaid)},
	model.StatusExpired:   {string(model.StatusPending)},
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanPaymentIntent(row rowScanner) (*model.PaymentIntent, error) {
	intent := model.PaymentIntent{}
	var (
		status        string
		tag           sql.NullInt64
		txHash        sql.NullString
		confirmations sql.NullInt64
		hashes        pq.StringArray
		confirmedAt   sql.NullTime
		metaDataJSON  []byte
		dispatchedAt  sql.NullTime
	)

	err := row.Scan(
		&intent.IntentID, &intent.OrganizationID, &intent.InvoiceID, &intent.FiatAmount,
		&intent.FiatCurrency, &intent.Asset, &intent.NativeAmount, &intent.ExchangeRate,
		&intent.Address, &tag, &intent.RequiredConfirmations, &status, &txHash,
		&intent.ObservedAmount, &confirmations, &hashes, &intent.TestMode, &intent.CreatedAt,
		&intent.ExpiresAt, &confirmedAt, &intent.UpdatedAt, &metaDataJSON, &dispatchedAt,
	)
	if err != nil {
		return nil, err
	}

	intent.Status = model.PaymentStatus(status)
	if tag.Valid {
		t := uint32(tag.Int64)
		intent.DestinationTag = &t
	}
	if txHash.Valid {
		intent.TxHash = &txHash.String
	}
	if confirmations.Valid {
		c := int(confirmations.Int64)
		intent.Confirmations = &c
	}
	if confirmedAt.Valid {
		intent.ConfirmedAt = &confirmedAt.Time
	}
	if dispatchedAt.Valid {
		intent.ConfirmationDispatchedAt = &dispatchedAt.Time
	}
	intent.ObservedHashes = []string(hashes)
	if len(metaDataJSON) > 0 {
		if err := json.Unmarshal(metaDataJSON, &intent.MetaData); err != nil {
			return nil, err
		}
	}
	return &intent, nil
}

func (d Datasource) CreatePaymentIntent(ctx context.Context, intent *model.PaymentIntent) (*model.PaymentIntent, bool, error) {
	ctx, span := otel.Tracer("PaymentIntent").Start(ctx, "Saving payment intent to db")
	defer span.End()

	metaDataJSON, err := json.Marshal(intent.MetaData)
	if err != nil {
		return nil, false, apierror.NewAPIError(apierror.ErrInvalidInput, "Failed to marshal metadata", err)
	}

	var tag interface{}
	if intent.DestinationTag != nil {
		tag = int64(*intent.DestinationTag)
	}

	row := d.Conn.QueryRowContext(ctx, `
		INSERT INTO paywatch.payment_intents (
			intent_id, organization_id, invoice_id, fiat_amount, fiat_currency, asset,
			native_amount, exchange_rate, address, destination_tag, required_confirmations,
			status, test_mode, created_at, expires_at, updated_at, meta_data
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $14, $16)
		RETURNING `+intentColumns,
		intent.IntentID, intent.OrganizationID, intent.InvoiceID, intent.FiatAmount, intent.FiatCurrency,
		intent.Asset, intent.NativeAmount, intent.ExchangeRate, intent.Address, tag,
		intent.RequiredConfirmations, string(intent.Status), intent.TestMode, intent.CreatedAt,
		intent.ExpiresAt, metaDataJSON,
	)

	created, err := scanPaymentIntent(row)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			span.SetAttributes(attribute.Bool("paywatch.intent.existing", true))
			existing, getErr := d.GetPendingIntentByInvoice(ctx, intent.InvoiceID, intent.Asset)
			if getErr != nil {
				return nil, false, getErr
			}
			return existing, false, nil
		}
		return nil, false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to create payment intent", err)
	}

	return created, true, nil
}

func (d Datasource) GetPaymentIntent(ctx context.Context, intentID string) (*model.PaymentIntent, error) {
	ctx, span := otel.Tracer("PaymentIntent").Start(ctx, "Fetching payment intent from db")
	defer span.End()

	row := d.Conn.QueryRowContext(ctx, `
		SELECT `+intentColumns+`
		FROM paywatch.payment_intents
		WHERE intent_id = $1
	`, intentID)

	intent, err := scanPaymentIntent(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, "Payment intent not found", nil)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve payment intent", err)
	}
	return intent, nil
}

// GetPendingIntentByInvoice returns the single pending intent of an invoice
// and asset, whether or not its deadline passed.
func (d Datasource) GetPendingIntentByInvoice(ctx context.Context, invoiceID, asset string) (*model.PaymentIntent, error) {
	ctx, span := otel.Tracer("PaymentIntent").Start(ctx, "Fetching pending payment intent by invoice")
	defer span.End()

	row := d.Conn.QueryRowContext(ctx, `
		SELECT `+intentColumns+`
		FROM paywatch.payment_intents
		WHERE invoice_id = $1 AND asset = $2 AND status = 'pending'
	`, invoiceID, asset)

	intent, err := scanPaymentIntent(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, "Payment intent not found", nil)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve payment intent", err)
	}
	return intent, nil
}

// GetActiveIntentByInvoice returns the most recent intent of an invoice that is
// either confirmed or still inside its payment window. An empty asset matches
// any asset.
func (d Datasource) GetActiveIntentByInvoice(ctx context.Context, invoiceID, asset string) (*model.PaymentIntent, error) {
	ctx, span := otel.Tracer("PaymentIntent").Start(ctx, "Fetching active payment intent by invoice")
	defer span.End()

	row := d.Conn.QueryRowContext(ctx, `
		SELECT `+intentColumns+`
		FROM paywatch.payment_intents
		WHERE invoice_id = $1
		  AND ($2 = '' OR asset = $2)
		  AND (status = 'confirmed' OR (status IN ('pending', 'underpaid') AND expires_at > $3))
		ORDER BY created_at DESC
		LIMIT 1
	`, invoiceID, asset, time.Now().UTC())

	intent, err := scanPaymentIntent(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, "No active payment intent for invoice", nil)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve payment intent", err)
	}
	return intent, nil
}

// TransitionPaymentIntent is a single conditional update; the status guard in
// the WHERE clause is what makes concurrent confirmations write once.
func (d Datasource) TransitionPaymentIntent(ctx context.Context, intentID string, to model.PaymentStatus, observed *model.ObservedTransaction) (*model.PaymentIntent, bool, error) {
	ctx, span := otel.Tracer("PaymentIntent").Start(ctx, "Transitioning payment intent")
	defer span.End()
	span.SetAttributes(attribute.String("paywatch.intent.id", intentID), attribute.String("paywatch.intent.to", string(to)))

	sources, ok := allowedSources[to]
	if !ok {
		return nil, false, apierror.NewAPIError(apierror.ErrInvalidInput, "Unknown payment status", string(to))
	}

	var txHash, amount, confirmations, hashes interface{}
	if observed != nil {
		if observed.TxHash != "" {
			txHash = observed.TxHash
		}
		amount = observed.ObservedAmount
		confirmations = observed.Confirmations
		if observed.Hashes != nil {
			hashes = pq.Array(observed.Hashes)
		}
	}

	row := d.Conn.QueryRowContext(ctx, `
		UPDATE paywatch.payment_intents
		SET status = $2,
			tx_hash = COALESCE($3, tx_hash),
			observed_amount = COALESCE($4, observed_amount),
			confirmations = COALESCE($5, confirmations),
			observed_hashes = COALESCE($6::text[], observed_hashes),
			confirmed_at = CASE WHEN $2 = 'confirmed' THEN NOW() ELSE confirmed_at END,
			updated_at = NOW()
		WHERE intent_id = $1 AND status = ANY($7)
		RETURNING `+intentColumns,
		intentID, string(to), txHash, amount, confirmations, hashes, pq.Array(sources),
	)

	intent, err := scanPaymentIntent(row)
	if err == nil {
		return intent, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to transition payment intent", err)
	}

	current, err := d.GetPaymentIntent(ctx, intentID)
	if err != nil {
		return nil, false, err
	}
	return current, false, nil
}

// GetOpenPaymentIntents pages through intents still awaiting observation:
// every pending intent, and underpaid intents inside their payment window.
func (d Datasource) GetOpenPaymentIntents(ctx context.Context, now time.Time, limit, offset int) ([]*model.PaymentIntent, error) {
	ctx, span := otel.Tracer("PaymentIntent").Start(ctx, "Fetching open payment intents")
	defer span.End()

	rows, err := d.Conn.QueryContext(ctx, `
		SELECT `+intentColumns+`
		FROM paywatch.payment_intents
		WHERE status = 'pending' OR (status = 'underpaid' AND expires_at > $1)
		ORDER BY created_at ASC
		LIMIT $2 OFFSET $3
	`, now, limit, offset)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve open payment intents", err)
	}
	defer func() { _ = rows.Close() }()

	return collectIntents(rows)
}

// GetOverduePaymentIntents returns pending intents whose deadline passed before now.
func (d Datasource) GetOverduePaymentIntents(ctx context.Context, now time.Time, limit int) ([]*model.PaymentIntent, error) {
	ctx, span := otel.Tracer("PaymentIntent").Start(ctx, "Fetching overdue payment intents")
	defer span.End()

	rows, err := d.Conn.QueryContext(ctx, `
		SELECT `+intentColumns+`
		FROM paywatch.payment_intents
		WHERE status = 'pending' AND expires_at <= $1
		ORDER BY expires_at ASC
		LIMIT $2
	`, now, limit)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve overdue payment intents", err)
	}
	defer func() { _ = rows.Close() }()

	return collectIntents(rows)
}

// ClaimConfirmationDispatch marks the confirmation side effect of intentID as
// handed off. Only one caller gets claimed=true for a confirmed intent.
func (d Datasource) ClaimConfirmationDispatch(ctx context.Context, intentID string) (bool, error) {
	ctx, span := otel.Tracer("PaymentIntent").Start(ctx, "Claiming confirmation dispatch")
	defer span.End()

	result, err := d.Conn.ExecContext(ctx, `
		UPDATE paywatch.payment_intents
		SET confirmation_dispatched_at = NOW()
		WHERE intent_id = $1 AND status = 'confirmed' AND confirmation_dispatched_at IS NULL
	`, intentID)
	if err != nil {
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to claim confirmation dispatch", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to claim confirmation dispatch", err)
	}
	return rows == 1, nil
}

// ReleaseConfirmationDispatch undoes a claim whose side effect failed so the
// next reconcile or sweep retries it.
func (d Datasource) ReleaseConfirmationDispatch(ctx context.Context, intentID string) error {
	ctx, span := otel.Tracer("PaymentIntent").Start(ctx, "Releasing confirmation dispatch")
	defer span.End()

	_, err := d.Conn.ExecContext(ctx, `
		UPDATE paywatch.payment_intents
		SET confirmation_dispatched_at = NULL
		WHERE intent_id = $1
	`, intentID)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to release confirmation dispatch", err)
	}
	return nil
}

// GetUndispatchedConfirmations returns confirmed intents whose confirmation
// side effect was never handed off.
func (d Datasource) GetUndispatchedConfirmations(ctx context.Context, limit int) ([]*model.PaymentIntent, error) {
	ctx, span := otel.Tracer("PaymentIntent").Start(ctx, "Fetching undispatched confirmations")
	defer span.End()

	rows, err := d.Conn.QueryContext(ctx, `
		SELECT `+intentColumns+`
		FROM paywatch.payment_intents
		WHERE status = 'confirmed' AND confirmation_dispatched_at IS NULL
		ORDER BY confirmed_at ASC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve undispatched confirmations", err)
	}
	defer func() { _ = rows.Close() }()

	return collectIntents(rows)
}

func collectIntents(rows *sql.Rows) ([]*model.PaymentIntent, error) {
	intents := []*model.PaymentIntent{}
	for rows.Next() {
		intent, err := scanPaymentIntent(rows)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan payment intent", err)
		}
		intents = append(intents, intent)
	}
	if err := rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error occurred while iterating over payment intents", err)
	}
	return intents, nil
}
