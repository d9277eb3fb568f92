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
	"fmt"
	"net/url"
	"strings"

	"github.com/shopspring/decimal"
)

// AssetSpec describes a ledger-native settlement asset.
type AssetSpec struct {
	Code        string
	Precision   int32
	RequiresTag bool
	URIScheme   string
	PriceID     string
}

var supportedAssets = map[string]AssetSpec{
	"XRP": {Code: "XRP", Precision: 6, RequiresTag: true, URIScheme: "ripple", PriceID: "ripple"},
}

var supportedFiatCurrencies = map[string]struct{}{
	"USD": {}, "EUR": {}, "GBP": {}, "CAD": {}, "AUD": {}, "CHF": {},
	"JPY": {}, "NGN": {}, "ZAR": {}, "KES": {}, "GHS": {}, "INR": {},
}

// LookupAsset returns the spec of a supported asset. Codes are case insensitive.
func LookupAsset(code string) (AssetSpec, error) {
	spec, ok := supportedAssets[strings.ToUpper(strings.TrimSpace(code))]
	if !ok {
		return AssetSpec{}, fmt.Errorf("%w: %s", ErrUnsupportedAsset, code)
	}
	return spec, nil
}

// NormalizeFiatCurrency upper-cases code and checks it is supported.
func NormalizeFiatCurrency(code string) (string, error) {
	normalized := strings.ToUpper(strings.TrimSpace(code))
	if _, ok := supportedFiatCurrencies[normalized]; !ok {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedFiatCurrency, code)
	}
	return normalized, nil
}

// Round rounds half away from zero to the asset precision.
func (a AssetSpec) Round(amount decimal.Decimal) decimal.Decimal {
	return amount.Round(a.Precision)
}

// PaymentURI builds the wallet deep link encoded in the checkout QR code,
// e.g. "ripple:rXYZ?amount=100.000000&dt=42".
func (a AssetSpec) PaymentURI(address string, amount decimal.Decimal, tag *uint32) string {
	q := url.Values{}
	q.Set("amount", amount.StringFixed(a.Precision))
	if tag != nil {
		q.Set("dt", fmt.Sprintf("%d", *tag))
	}
	return fmt.Sprintf("%s:%s?%s", a.URIScheme, address, q.Encode())
}
