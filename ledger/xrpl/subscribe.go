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

package xrpl

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/blnkfinance/paywatch/ledger"
	"github.com/blnkfinance/paywatch/model"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

type subscribeCommand struct {
	ID       int      `json:"id"`
	Command  string   `json:"command"`
	Accounts []string `json:"accounts"`
}

type streamMessage struct {
	txEnvelope
	Type         string `json:"type"`
	Status       string `json:"status"`
	Error        string `json:"error"`
	EngineResult string `json:"engine_result"`
}

type subscription struct {
	conn      *websocket.Conn
	address   string
	events    chan model.LedgerTransaction
	errs      chan error
	done      chan struct{}
	closeOnce sync.Once
}

// Subscribe opens a websocket to the node and streams validated payments
// received by address. The subscription ends when ctx is cancelled, Close is
// called, or the connection fails.
func (c *Client) Subscribe(ctx context.Context, address string) (ledger.Subscription, error) {
	if c.wsURL == "" {
		return nil, errors.New("xrpl: websocket url not configured")
	}

	conn, _, err := c.dialer.DialContext(ctx, c.wsURL, nil)
	if err != nil {
		return nil, errors.Wrap(err, "xrpl: dialing websocket")
	}

	cmd := subscribeCommand{ID: 1, Command: "subscribe", Accounts: []string{address}}
	if err := conn.WriteJSON(cmd); err != nil {
		_ = conn.Close()
		return nil, errors.Wrap(err, "xrpl: sending subscribe")
	}

	sub := &subscription{
		conn:    conn,
		address: address,
		events:  make(chan model.LedgerTransaction, 16),
		errs:    make(chan error, 1),
		done:    make(chan struct{}),
	}
	go sub.readLoop()
	go func() {
		select {
		case <-ctx.Done():
			_ = sub.Close()
		case <-sub.done:
		}
	}()
	return sub, nil
}

func (s *subscription) Events() <-chan model.LedgerTransaction { return s.events }

func (s *subscription) Err() <-chan error { return s.errs }

func (s *subscription) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		_ = s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		err = s.conn.Close()
	})
	return err
}

func (s *subscription) fail(err error) {
	select {
	case <-s.done:
		return
	default:
	}
	s.errs <- err
}

func (s *subscription) readLoop() {
	defer close(s.events)

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			s.fail(errors.Wrap(err, "xrpl: reading stream"))
			return
		}

		var msg streamMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			logrus.Debugf("xrpl: skipping undecodable stream message: %v", err)
			continue
		}

		switch msg.Type {
		case "response":
			if msg.Status == "error" {
				s.fail(errors.Errorf("xrpl: subscribe rejected: %s", msg.Error))
				return
			}
		case "transaction":
			if !msg.Validated {
				continue
			}
			if msg.Meta.TransactionResult == "" {
				msg.Meta.TransactionResult = msg.EngineResult
			}
			tx, ok := msg.toLedgerTransaction(msg.LedgerIndex)
			if !ok || tx.Destination != s.address {
				continue
			}
			select {
			case s.events <- tx:
			case <-s.done:
				return
			}
		}
	}
}
