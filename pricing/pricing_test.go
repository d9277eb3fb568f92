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

package pricing

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/blnkfinance/paywatch/config"
	"github.com/jarcoal/httpmock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const priceURL = "https://prices.test/api/v3/simple/price"

func TestSpotRate(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder(http.MethodGet, priceURL,
		func(req *http.Request) (*http.Response, error) {
			assert.Equal(t, "ripple", req.URL.Query().Get("ids"))
			assert.Equal(t, "usd", req.URL.Query().Get("vs_currencies"))
			assert.Equal(t, "secret", req.Header.Get("x-cg-pro-api-key"))
			return httpmock.NewStringResponse(http.StatusOK, `{"ripple":{"usd":0.5}}`), nil
		})

	source := NewHTTPSource(config.PriceSourceConfig{Url: "https://prices.test/api/v3/", ApiKey: "secret"})
	rate, err := source.SpotRate(context.Background(), "ripple", "USD")
	require.NoError(t, err)
	assert.True(t, rate.Equal(decimal.RequireFromString("0.5")))
}

func TestSpotRate_MissingPair(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder(http.MethodGet, priceURL,
		httpmock.NewStringResponder(http.StatusOK, `{"ripple":{}}`))

	source := NewHTTPSource(config.PriceSourceConfig{Url: "https://prices.test/api/v3"})
	_, err := source.SpotRate(context.Background(), "ripple", "NGN")
	assert.True(t, errors.Is(err, ErrNoPrice))
}

func TestSpotRate_RetriesServerErrors(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder(http.MethodGet, priceURL,
		httpmock.NewStringResponder(http.StatusBadGateway, `upstream`).
			Then(httpmock.NewStringResponder(http.StatusOK, `{"ripple":{"eur":0.47}}`)))

	source := NewHTTPSource(config.PriceSourceConfig{Url: "https://prices.test/api/v3"})
	rate, err := source.SpotRate(context.Background(), "ripple", "EUR")
	require.NoError(t, err)
	assert.True(t, rate.Equal(decimal.RequireFromString("0.47")))
	assert.Equal(t, 2, httpmock.GetTotalCallCount())
}
