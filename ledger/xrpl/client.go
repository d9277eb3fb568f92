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

// Package xrpl reads the XRP Ledger through a rippled JSON-RPC endpoint and
// its websocket subscription stream.
package xrpl

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/blnkfinance/paywatch/config"
	"github.com/blnkfinance/paywatch/internal/request"
	"github.com/blnkfinance/paywatch/model"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// rippleEpoch is 2000-01-01T00:00:00Z, the origin of ledger close times.
const rippleEpoch = 946684800

const dropsPerXRP = 6

// RPCError is an error answer from rippled.
type RPCError struct {
	Code    string
	Message string
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rippled error %s: %s", e.Code, e.Message)
}

type Client struct {
	rpcURL   string
	wsURL    string
	lookback int
	timeout  time.Duration
	dialer   *websocket.Dialer
}

func NewClient(cfg config.LedgerConfig) *Client {
	timeout := time.Duration(cfg.QueryTimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 4 * time.Second
	}
	lookback := cfg.LookbackLimit
	if lookback <= 0 {
		lookback = 50
	}
	return &Client{
		rpcURL:   cfg.RPCUrl,
		wsURL:    cfg.WebsocketUrl,
		lookback: lookback,
		timeout:  timeout,
		dialer:   websocket.DefaultDialer,
	}
}

type rpcRequest struct {
	Method string        `json:"method"`
	Params []interface{} `json:"params"`
}

type rpcEnvelope struct {
	Result json.RawMessage `json:"result"`
}

type rpcStatus struct {
	Status       string `json:"status"`
	Error        string `json:"error"`
	ErrorMessage string `json:"error_message"`
}

func (c *Client) call(ctx context.Context, method string, params interface{}, out interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var envelope rpcEnvelope
	body := rpcRequest{Method: method, Params: []interface{}{params}}
	if err := request.DoWithRetry(ctx, c.timeout, http.MethodPost, c.rpcURL, body, nil, &envelope); err != nil {
		return errors.Wrapf(err, "xrpl %s", method)
	}

	var status rpcStatus
	if err := json.Unmarshal(envelope.Result, &status); err != nil {
		return errors.Wrapf(err, "xrpl %s: decoding status", method)
	}
	if status.Status == "error" {
		return &RPCError{Code: status.Error, Message: status.ErrorMessage}
	}
	if err := json.Unmarshal(envelope.Result, out); err != nil {
		return errors.Wrapf(err, "xrpl %s: decoding result", method)
	}
	return nil
}

type txJSON struct {
	TransactionType string          `json:"TransactionType"`
	Account         string          `json:"Account"`
	Destination     string          `json:"Destination"`
	DestinationTag  *uint32         `json:"DestinationTag"`
	Amount          json.RawMessage `json:"Amount"`
	DeliverMax      json.RawMessage `json:"DeliverMax"`
	Date            int64           `json:"date"`
	Hash            string          `json:"hash"`
	LedgerIndex     uint32          `json:"ledger_index"`
}

type txMeta struct {
	TransactionResult string          `json:"TransactionResult"`
	DeliveredAmount   json.RawMessage `json:"delivered_amount"`
}

// txEnvelope covers both API versions: v1 nests the transaction under "tx"
// (account_tx) or inlines it (tx, stream), v2 uses "tx_json" with the hash
// alongside.
type txEnvelope struct {
	txJSON
	Tx          *txJSON `json:"tx"`
	TxJSON      *txJSON `json:"tx_json"`
	Transaction *txJSON `json:"transaction"`
	Meta        txMeta  `json:"meta"`
	Validated   bool    `json:"validated"`
	Hash        string  `json:"hash"`
	LedgerIndex uint32  `json:"ledger_index"`
	Date        int64   `json:"date"`
}

func (e *txEnvelope) body() *txJSON {
	switch {
	case e.TxJSON != nil:
		return e.TxJSON
	case e.Tx != nil:
		return e.Tx
	case e.Transaction != nil:
		return e.Transaction
	default:
		return &e.txJSON
	}
}

// nativeAmount parses a drops string. Issued currency amounts are JSON objects
// and are rejected.
func nativeAmount(raw json.RawMessage) (decimal.Decimal, bool) {
	var drops string
	if len(raw) == 0 || json.Unmarshal(raw, &drops) != nil {
		return decimal.Zero, false
	}
	amount, err := decimal.NewFromString(drops)
	if err != nil {
		return decimal.Zero, false
	}
	return amount.Shift(-dropsPerXRP), true
}

// toLedgerTransaction keeps successful native payments. validatedIndex is the
// latest validated ledger and drives the confirmation count.
func (e *txEnvelope) toLedgerTransaction(validatedIndex uint32) (model.LedgerTransaction, bool) {
	tx := e.body()
	if tx.TransactionType != "Payment" || e.Meta.TransactionResult != "tesSUCCESS" {
		return model.LedgerTransaction{}, false
	}

	amount, ok := nativeAmount(e.Meta.DeliveredAmount)
	if !ok {
		raw := tx.Amount
		if len(raw) == 0 {
			raw = tx.DeliverMax
		}
		if amount, ok = nativeAmount(raw); !ok {
			return model.LedgerTransaction{}, false
		}
	}

	hash := e.Hash
	if hash == "" {
		hash = tx.Hash
	}
	ledgerIndex := e.LedgerIndex
	if ledgerIndex == 0 {
		ledgerIndex = tx.LedgerIndex
	}
	date := e.Date
	if date == 0 {
		date = tx.Date
	}

	confirmations := 0
	if e.Validated && ledgerIndex > 0 && validatedIndex >= ledgerIndex {
		confirmations = int(validatedIndex-ledgerIndex) + 1
	}

	return model.LedgerTransaction{
		Hash:           hash,
		Destination:    tx.Destination,
		Amount:         amount,
		Timestamp:      time.Unix(rippleEpoch+date, 0).UTC(),
		DestinationTag: tx.DestinationTag,
		Confirmations:  confirmations,
		LedgerIndex:    ledgerIndex,
	}, true
}

type accountTxResult struct {
	LedgerIndexMax uint32       `json:"ledger_index_max"`
	Transactions   []txEnvelope `json:"transactions"`
}

func (c *Client) AccountTransactions(ctx context.Context, address string, since time.Time) ([]model.LedgerTransaction, error) {
	params := map[string]interface{}{
		"account":          address,
		"ledger_index_min": -1,
		"ledger_index_max": -1,
		"limit":            c.lookback,
		"forward":          false,
	}

	var result accountTxResult
	if err := c.call(ctx, "account_tx", params, &result); err != nil {
		return nil, err
	}

	txs := make([]model.LedgerTransaction, 0, len(result.Transactions))
	for i := range result.Transactions {
		tx, ok := result.Transactions[i].toLedgerTransaction(result.LedgerIndexMax)
		if !ok || tx.Destination != address {
			continue
		}
		if !since.IsZero() && tx.Timestamp.Before(since) {
			continue
		}
		txs = append(txs, tx)
	}
	return txs, nil
}

type ledgerResult struct {
	LedgerIndex uint32 `json:"ledger_index"`
}

// ValidatedLedgerIndex returns the sequence of the latest validated ledger.
func (c *Client) ValidatedLedgerIndex(ctx context.Context) (uint32, error) {
	var result ledgerResult
	if err := c.call(ctx, "ledger", map[string]interface{}{"ledger_index": "validated"}, &result); err != nil {
		return 0, err
	}
	return result.LedgerIndex, nil
}

func (c *Client) Transaction(ctx context.Context, hash string) (*model.LedgerTransaction, error) {
	var result txEnvelope
	err := c.call(ctx, "tx", map[string]interface{}{"transaction": hash}, &result)
	if err != nil {
		var rpcErr *RPCError
		if errors.As(err, &rpcErr) && rpcErr.Code == "txnNotFound" {
			return nil, nil
		}
		return nil, err
	}

	var validatedIndex uint32
	if result.Validated {
		if validatedIndex, err = c.ValidatedLedgerIndex(ctx); err != nil {
			return nil, err
		}
	}

	tx, ok := result.toLedgerTransaction(validatedIndex)
	if !ok {
		return nil, nil
	}
	if tx.Hash == "" {
		tx.Hash = hash
	}
	return &tx, nil
}
