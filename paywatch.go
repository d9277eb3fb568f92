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
	"crypto/rand"
	"embed"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/blnkfinance/paywatch/config"
	"github.com/blnkfinance/paywatch/database"
	"github.com/blnkfinance/paywatch/internal/apierror"
	"github.com/blnkfinance/paywatch/internal/cache"
	"github.com/blnkfinance/paywatch/internal/notification"
	"github.com/blnkfinance/paywatch/internal/qrcode"
	redis_db "github.com/blnkfinance/paywatch/internal/redis-db"
	"github.com/blnkfinance/paywatch/ledger"
	"github.com/blnkfinance/paywatch/ledger/sandbox"
	"github.com/blnkfinance/paywatch/model"
	"github.com/blnkfinance/paywatch/pricing"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var tracer trace.Tracer = otel.Tracer("paywatch")

//go:embed sql/*.sql
var SQLFiles embed.FS

const resumePageSize = 100

// Paywatch represents the main struct for the payment confirmation service.
type Paywatch struct {
	datasource database.IDataSource
	config     *config.Configuration
	allocator  *Allocator
	quoter     *Quoter
	reconciler *Reconciler
	watcher    *Watcher
	queue      *Queue
	redis      *redis_db.Redis
	qr         qrcode.Renderer
	now        func() time.Time
}

// NewPaywatch wires the service on top of db, a ledger client and a price
// source using the loaded configuration.
func NewPaywatch(db database.IDataSource, ledgerClient ledger.Client, prices pricing.Source) (*Paywatch, error) {
	cfg, err := config.Fetch()
	if err != nil {
		return nil, err
	}

	redisClient, err := redis_db.NewRedisClientFromConfig(cfg.Redis)
	if err != nil {
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}
	queue, err := NewQueue(cfg)
	if err != nil {
		return nil, err
	}

	rateTTL := time.Duration(cfg.PriceSource.CacheTTLSec) * time.Second
	quoter := NewQuoter(prices, cache.NewCache(redisClient.Client(), rateTTL), rateTTL)
	allocator := NewAllocator(db, time.Duration(cfg.Payments.DefaultCooldownHours)*time.Hour)
	reconciler := NewReconciler(db, NewLedgerSource(ledgerClient, cfg.LedgerQueryTimeout()), sandbox.NewSource(), queue, redisClient.Client())

	var subscriber ledger.Subscriber
	if !cfg.Ledger.DisablePush {
		if s, ok := ledger.SupportsPush(ledgerClient); ok {
			subscriber = s
		}
	}

	notification.RegisterWebhookSender(func(event string, payload interface{}) error {
		return queue.EnqueueWebhook(context.Background(), NewWebhook{Event: event, Payload: payload})
	})

	return &Paywatch{
		datasource: db,
		config:     cfg,
		allocator:  allocator,
		quoter:     quoter,
		reconciler: reconciler,
		watcher:    NewWatcher(reconciler, subscriber, cfg.PollInterval()),
		queue:      queue,
		redis:      redisClient,
		qr:         qrcode.New(cfg.Payments.QRRenderer, cfg.Payments.RemoteQRUrl),
		now:        time.Now,
	}, nil
}

// Close stops every watch session and releases redis connections.
func (p *Paywatch) Close() error {
	p.watcher.Stop()
	if p.queue != nil {
		if err := p.queue.Close(); err != nil {
			logrus.WithError(err).Warn("closing queue")
		}
	}
	if p.redis != nil {
		return p.redis.Close()
	}
	return nil
}

// CreateIntentRequest asks for an intent paying invoiceID.
type CreateIntentRequest struct {
	OrganizationID string
	InvoiceID      string
	Amount         decimal.Decimal
	Currency       string
	Asset          string
	MetaData       map[string]interface{}
}

func (p *Paywatch) settings(ctx context.Context, organizationID, asset string) (*model.PaymentSettings, error) {
	settings, err := p.datasource.GetPaymentSettings(ctx, organizationID, asset)
	if err != nil {
		if apierror.HasCode(err, apierror.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s/%s", ErrNoAddressesConfigured, organizationID, asset)
		}
		return nil, err
	}
	if !settings.Enabled {
		return nil, ErrOrganizationNotEligible
	}
	if len(settings.Addresses) == 0 {
		return nil, ErrNoAddressesConfigured
	}
	return settings, nil
}

func randomTag() (uint32, error) {
	var buf [4]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(buf[:]), nil
}

// CreateIntent returns the pending intent of the invoice for asset, creating
// one when there is none. A pending intent whose deadline passed is settled
// first so a late payment is not lost.
func (p *Paywatch) CreateIntent(ctx context.Context, req CreateIntentRequest) (*model.PaymentIntent, error) {
	ctx, span := tracer.Start(ctx, "Creating payment intent")
	defer span.End()
	span.SetAttributes(
		attribute.String("paywatch.organization.id", req.OrganizationID),
		attribute.String("paywatch.invoice.id", req.InvoiceID),
	)

	spec, err := LookupAsset(req.Asset)
	if err != nil {
		return nil, err
	}
	fiat, err := NormalizeFiatCurrency(req.Currency)
	if err != nil {
		return nil, err
	}
	settings, err := p.settings(ctx, req.OrganizationID, spec.Code)
	if err != nil {
		return nil, err
	}

	existing, err := p.pendingIntent(ctx, req.InvoiceID, spec.Code)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	quote, err := p.quoter.Quote(ctx, req.Amount, fiat, spec.Code)
	if err != nil {
		return nil, err
	}
	var tag *uint32
	if spec.RequiresTag {
		t, err := randomTag()
		if err != nil {
			return nil, err
		}
		tag = &t
	}

	claim, err := p.allocator.Allocate(ctx, settings)
	if err != nil {
		return nil, err
	}

	intent := &model.PaymentIntent{
		IntentID:              model.GenerateUUIDWithSuffix("pi"),
		OrganizationID:        req.OrganizationID,
		InvoiceID:             req.InvoiceID,
		FiatAmount:            quote.FiatAmount,
		FiatCurrency:          quote.FiatCurrency,
		Asset:                 spec.Code,
		NativeAmount:          quote.NativeAmount,
		ExchangeRate:          quote.Rate,
		Address:               claim.Address,
		DestinationTag:        tag,
		RequiredConfirmations: settings.RequiredConfirmations,
		Status:                model.StatusPending,
		TestMode:              settings.TestMode,
		MetaData:              req.MetaData,
	}
	if intent.RequiredConfirmations <= 0 {
		intent.RequiredConfirmations = p.config.Payments.DefaultConfirmations
	}
	ttl := p.config.IntentTTL()
	if settings.IntentTTLSeconds > 0 {
		ttl = time.Duration(settings.IntentTTLSeconds) * time.Second
	}
	intent.CreatedAt = p.now().UTC()
	intent.ExpiresAt = intent.CreatedAt.Add(ttl)

	// A claim only stands when its intent was stored.
	created, isNew, err := p.datasource.CreatePaymentIntent(ctx, intent)
	if err != nil {
		p.allocator.Release(ctx, claim)
		return nil, err
	}
	if !isNew {
		p.allocator.Release(ctx, claim)
		return created, nil
	}

	if p.queue != nil {
		if err := p.queue.ScheduleExpiry(ctx, created); err != nil {
			logrus.WithError(err).WithField("intent_id", created.IntentID).Warn("failed to schedule expiry, relying on the sweep")
		}
	}
	notification.NotifyEvent("payment_intent.created", created)
	logrus.WithFields(logrus.Fields{
		"intent_id":     created.IntentID,
		"invoice_id":    created.InvoiceID,
		"address":       created.Address,
		"native_amount": created.NativeAmount.String(),
	}).Info("payment intent created")
	return created, nil
}

// pendingIntent returns the invoice's pending intent that can still be paid,
// or nil.
func (p *Paywatch) pendingIntent(ctx context.Context, invoiceID, asset string) (*model.PaymentIntent, error) {
	existing, err := p.datasource.GetPendingIntentByInvoice(ctx, invoiceID, asset)
	if err != nil {
		if apierror.HasCode(err, apierror.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if !existing.IsExpiredAt(p.now()) {
		return existing, nil
	}

	if _, err := p.reconciler.Reconcile(ctx, existing.IntentID, nil); err != nil {
		return nil, err
	}
	refreshed, err := p.datasource.GetPendingIntentByInvoice(ctx, invoiceID, asset)
	if err != nil {
		if apierror.HasCode(err, apierror.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return refreshed, nil
}

// GetIntent returns an intent by id.
func (p *Paywatch) GetIntent(ctx context.Context, intentID string) (*model.PaymentIntent, error) {
	intent, err := p.datasource.GetPaymentIntent(ctx, intentID)
	if err != nil {
		if apierror.HasCode(err, apierror.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrIntentNotFound, intentID)
		}
		return nil, err
	}
	return intent, nil
}

// StatusHint is what a caller claims to have paid. Only the hash is acted on,
// after the ledger confirms it.
type StatusHint struct {
	ObservedAmount *decimal.Decimal
	TxHash         string
}

// CheckStatus reconciles an intent now and returns its status.
func (p *Paywatch) CheckStatus(ctx context.Context, intentID string, hint *StatusHint) (*model.StatusResult, error) {
	var candidate *model.LedgerTransaction
	if hint != nil {
		if hint.ObservedAmount != nil {
			logrus.WithFields(logrus.Fields{
				"intent_id":       intentID,
				"claimed_amount":  hint.ObservedAmount.String(),
				"claimed_tx_hash": hint.TxHash,
			}).Debug("status check with caller hint")
		}
		if hint.TxHash != "" {
			candidate = &model.LedgerTransaction{Hash: hint.TxHash}
		}
	}
	return p.reconciler.Reconcile(ctx, intentID, candidate)
}

// GetIntentByInvoice returns the intent a returning client should resume:
// confirmed, or pending and not yet expired.
func (p *Paywatch) GetIntentByInvoice(ctx context.Context, invoiceID, asset string) (*model.PaymentIntent, error) {
	if asset != "" {
		spec, err := LookupAsset(asset)
		if err != nil {
			return nil, err
		}
		asset = spec.Code
	}
	intent, err := p.datasource.GetActiveIntentByInvoice(ctx, invoiceID, asset)
	if err != nil {
		if apierror.HasCode(err, apierror.ErrNotFound) {
			return nil, fmt.Errorf("%w: invoice %s", ErrIntentNotFound, invoiceID)
		}
		return nil, err
	}
	return intent, nil
}

// Watch starts observing an intent in the background.
func (p *Paywatch) Watch(ctx context.Context, intentID string) (*model.StatusResult, error) {
	intent, err := p.GetIntent(ctx, intentID)
	if err != nil {
		return nil, err
	}
	if intent.Status.IsTerminal() {
		return intent.ToStatusResult(), nil
	}
	p.watcher.Watch(ctx, intent)
	return intent.ToStatusResult(), nil
}

// Unwatch stops observing an intent. It reports whether a session was running.
func (p *Paywatch) Unwatch(intentID string) bool {
	return p.watcher.Unwatch(intentID)
}

// ResumeWatchers restarts observation of every open intent, typically after
// a restart.
func (p *Paywatch) ResumeWatchers(ctx context.Context) (int, error) {
	resumed := 0
	for offset := 0; ; offset += resumePageSize {
		intents, err := p.datasource.GetOpenPaymentIntents(ctx, p.now(), resumePageSize, offset)
		if err != nil {
			return resumed, err
		}
		for _, intent := range intents {
			if p.watcher.Watch(ctx, intent) {
				resumed++
			}
		}
		if len(intents) < resumePageSize {
			return resumed, nil
		}
	}
}

// UpsertSettings validates and stores an organization's payment settings.
func (p *Paywatch) UpsertSettings(ctx context.Context, settings *model.PaymentSettings) (*model.PaymentSettings, error) {
	spec, err := LookupAsset(settings.Asset)
	if err != nil {
		return nil, err
	}
	settings.Asset = spec.Code
	if settings.RequiredConfirmations <= 0 {
		settings.RequiredConfirmations = p.config.Payments.DefaultConfirmations
	}
	return p.datasource.UpsertPaymentSettings(ctx, settings)
}

func (p *Paywatch) GetSettings(ctx context.Context, organizationID, asset string) (*model.PaymentSettings, error) {
	spec, err := LookupAsset(asset)
	if err != nil {
		return nil, err
	}
	settings, err := p.datasource.GetPaymentSettings(ctx, organizationID, spec.Code)
	if err != nil {
		if apierror.HasCode(err, apierror.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s/%s", ErrNoAddressesConfigured, organizationID, spec.Code)
		}
		return nil, err
	}
	return settings, nil
}

// PaymentInstructions renders the payment URI and its QR code. A QR failure
// leaves QRCode empty.
func (p *Paywatch) PaymentInstructions(ctx context.Context, intent *model.PaymentIntent) (*model.PaymentInstructions, error) {
	spec, err := LookupAsset(intent.Asset)
	if err != nil {
		return nil, err
	}
	instructions := &model.PaymentInstructions{
		IntentID:       intent.IntentID,
		Asset:          spec.Code,
		Address:        intent.Address,
		DestinationTag: intent.DestinationTag,
		Amount:         intent.NativeAmount,
		URI:            spec.PaymentURI(intent.Address, intent.NativeAmount, intent.DestinationTag),
		ExpiresAt:      intent.ExpiresAt,
	}
	if p.qr != nil {
		image, err := p.qr.Render(ctx, instructions.URI)
		if err != nil {
			logrus.WithError(err).WithField("intent_id", intent.IntentID).Warn("qr rendering failed")
		}
		instructions.QRCode = image
	}
	return instructions, nil
}
