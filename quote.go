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
	"fmt"
	"time"

	"github.com/blnkfinance/paywatch/internal/cache"
	"github.com/blnkfinance/paywatch/pricing"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

// Quote is the native amount owed for a fiat amount at a spot rate.
type Quote struct {
	Asset        string          `json:"asset"`
	FiatCurrency string          `json:"fiat_currency"`
	FiatAmount   decimal.Decimal `json:"fiat_amount"`
	Rate         decimal.Decimal `json:"rate"`
	NativeAmount decimal.Decimal `json:"native_amount"`
}

// Quoter converts fiat amounts to native asset amounts. Rates are fiat per
// native unit and are cached for ttl.
type Quoter struct {
	source pricing.Source
	cache  cache.Cache
	ttl    time.Duration
}

func NewQuoter(source pricing.Source, c cache.Cache, ttl time.Duration) *Quoter {
	return &Quoter{source: source, cache: c, ttl: ttl}
}

func rateCacheKey(asset, fiat string) string {
	return fmt.Sprintf("paywatch:rate:%s:%s", asset, fiat)
}

// Quote returns fiatAmount / rate rounded to the asset precision.
func (q *Quoter) Quote(ctx context.Context, fiatAmount decimal.Decimal, fiatCurrency, asset string) (*Quote, error) {
	ctx, span := tracer.Start(ctx, "Quoting fiat amount")
	defer span.End()

	spec, err := LookupAsset(asset)
	if err != nil {
		return nil, err
	}
	fiat, err := NormalizeFiatCurrency(fiatCurrency)
	if err != nil {
		return nil, err
	}
	if !fiatAmount.IsPositive() {
		return nil, ErrInvalidAmount
	}

	rate, err := q.rate(ctx, spec, fiat)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("paywatch.rate", rate.String()))

	native := fiatAmount.DivRound(rate, spec.Precision)
	return &Quote{
		Asset:        spec.Code,
		FiatCurrency: fiat,
		FiatAmount:   fiatAmount,
		Rate:         rate,
		NativeAmount: native,
	}, nil
}

func (q *Quoter) rate(ctx context.Context, spec AssetSpec, fiat string) (decimal.Decimal, error) {
	key := rateCacheKey(spec.Code, fiat)
	if q.cache != nil {
		var cached string
		found, err := q.cache.Get(ctx, key, &cached)
		if err != nil {
			logrus.WithError(err).Warn("rate cache read failed")
		}
		if found {
			if rate, err := decimal.NewFromString(cached); err == nil && rate.IsPositive() {
				return rate, nil
			}
		}
	}

	rate, err := q.source.SpotRate(ctx, spec.PriceID, fiat)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %v", ErrRateUnavailable, err)
	}
	if !rate.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: non-positive rate %s for %s/%s", ErrRateUnavailable, rate, spec.Code, fiat)
	}

	if q.cache != nil {
		if err := q.cache.Set(ctx, key, rate.String(), q.ttl); err != nil {
			logrus.WithError(err).Warn("rate cache write failed")
		}
	}
	return rate, nil
}
