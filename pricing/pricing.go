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

// Package pricing fetches spot exchange rates between ledger assets and fiat
// currencies.
package pricing

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/blnkfinance/paywatch/config"
	"github.com/blnkfinance/paywatch/internal/request"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// ErrNoPrice is returned when the source has no quote for the pair.
var ErrNoPrice = errors.New("no price for pair")

// Source returns the price of one unit of the asset expressed in fiat.
type Source interface {
	SpotRate(ctx context.Context, priceID, fiat string) (decimal.Decimal, error)
}

const DefaultURL = "https://api.coingecko.com/api/v3"

// HTTPSource reads the CoinGecko "simple price" endpoint, or any service
// answering in the same shape:
//
//	{"ripple": {"usd": 0.5123}}
type HTTPSource struct {
	baseURL string
	apiKey  string
	timeout time.Duration
}

func NewHTTPSource(cfg config.PriceSourceConfig) *HTTPSource {
	baseURL := strings.TrimRight(cfg.Url, "/")
	if baseURL == "" {
		baseURL = DefaultURL
	}
	timeout := time.Duration(cfg.QueryTimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 4 * time.Second
	}
	return &HTTPSource{baseURL: baseURL, apiKey: cfg.ApiKey, timeout: timeout}
}

func (s *HTTPSource) SpotRate(ctx context.Context, priceID, fiat string) (decimal.Decimal, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	vs := strings.ToLower(fiat)
	q := url.Values{}
	q.Set("ids", priceID)
	q.Set("vs_currencies", vs)
	endpoint := fmt.Sprintf("%s/simple/price?%s", s.baseURL, q.Encode())

	headers := map[string]string{"Accept": "application/json"}
	if s.apiKey != "" {
		headers["x-cg-pro-api-key"] = s.apiKey
	}

	var response map[string]map[string]decimal.Decimal
	err := request.DoWithRetry(ctx, s.timeout, http.MethodGet, endpoint, nil, headers, &response)
	if err != nil {
		logrus.WithError(err).WithFields(logrus.Fields{"asset": priceID, "fiat": fiat}).Warn("price source request failed")
		return decimal.Zero, err
	}

	price, ok := response[priceID][vs]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: %s/%s", ErrNoPrice, priceID, fiat)
	}
	return price, nil
}
