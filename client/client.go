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


// Package client is a thin HTTP client of the paywatch API.
package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	model2 "github.com/blnkfinance/paywatch/api/model"
	"github.com/blnkfinance/paywatch/internal/request"
	"github.com/blnkfinance/paywatch/model"
)

// ErrNotFound is returned when the API answers 404.
var ErrNotFound = errors.New("not found")

const keyHeader = "X-Paywatch-Key"

type Client struct {
	baseURL string
	apiKey  string
	timeout time.Duration
}

func New(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		timeout: 10 * time.Second,
	}
}

func (c *Client) headers() map[string]string {
	if c.apiKey == "" {
		return nil
	}
	return map[string]string{keyHeader: c.apiKey}
}

func (c *Client) do(ctx context.Context, method, path string, payload, response interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	_, err := request.Do(ctx, method, c.baseURL+path, payload, c.headers(), response)
	var httpErr *request.HTTPError
	if errors.As(err, &httpErr) && httpErr.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	return err
}

func (c *Client) CreateIntent(ctx context.Context, req model2.CreatePaymentIntent) (*model2.PaymentIntentResponse, error) {
	var resp model2.PaymentIntentResponse
	if err := c.do(ctx, http.MethodPost, "/payment-intents", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) GetIntent(ctx context.Context, intentID string) (*model.PaymentIntent, error) {
	var intent model.PaymentIntent
	if err := c.do(ctx, http.MethodGet, "/payment-intents/"+url.PathEscape(intentID), nil, &intent); err != nil {
		return nil, err
	}
	return &intent, nil
}

// CheckStatus asks the server to reconcile now. hint may be nil.
func (c *Client) CheckStatus(ctx context.Context, intentID string, hint *model2.CheckPaymentIntent) (*model.StatusResult, error) {
	var payload interface{}
	if hint != nil {
		payload = hint
	}
	var status model.StatusResult
	if err := c.do(ctx, http.MethodPost, "/payment-intents/"+url.PathEscape(intentID)+"/check", payload, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

func (c *Client) GetInstructions(ctx context.Context, intentID string) (*model.PaymentInstructions, error) {
	var instructions model.PaymentInstructions
	if err := c.do(ctx, http.MethodGet, "/payment-intents/"+url.PathEscape(intentID)+"/instructions", nil, &instructions); err != nil {
		return nil, err
	}
	return &instructions, nil
}

// GetIntentByInvoice returns the resumable intent of an invoice, or
// ErrNotFound.
func (c *Client) GetIntentByInvoice(ctx context.Context, invoiceID, asset string) (*model.PaymentIntent, error) {
	path := "/invoices/" + url.PathEscape(invoiceID) + "/payment-intent"
	if asset != "" {
		path += "?asset=" + url.QueryEscape(asset)
	}
	var intent model.PaymentIntent
	if err := c.do(ctx, http.MethodGet, path, nil, &intent); err != nil {
		return nil, err
	}
	return &intent, nil
}

func (c *Client) Watch(ctx context.Context, intentID string) (*model.StatusResult, error) {
	var status model.StatusResult
	if err := c.do(ctx, http.MethodPost, "/payment-intents/"+url.PathEscape(intentID)+"/watch", nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

func (c *Client) Unwatch(ctx context.Context, intentID string) error {
	return c.do(ctx, http.MethodDelete, "/payment-intents/"+url.PathEscape(intentID)+"/watch", nil, nil)
}

// WaitForTerminal polls CheckStatus every interval until the intent is
// confirmed or expired, or ctx ends. onUpdate sees every answer. On error the
// last status seen is returned with it.
func (c *Client) WaitForTerminal(ctx context.Context, intentID string, interval time.Duration, onUpdate func(*model.StatusResult)) (*model.StatusResult, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var last *model.StatusResult
	for {
		status, err := c.CheckStatus(ctx, intentID, nil)
		if err != nil {
			return last, err
		}
		last = status
		if onUpdate != nil {
			onUpdate(status)
		}
		if status.Status.IsTerminal() {
			return status, nil
		}

		select {
		case <-ctx.Done():
			return status, ctx.Err()
		case <-ticker.C:
		}
	}
}
