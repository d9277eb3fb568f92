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


package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	model2 "github.com/blnkfinance/paywatch/api/model"
	"github.com/blnkfinance/paywatch/client"
	"github.com/blnkfinance/paywatch/model"
	"github.com/blnkfinance/paywatch/session"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

type checkoutOptions struct {
	apiURL         string
	apiKey         string
	organizationID string
	invoiceID      string
	amount         string
	currency       string
	asset          string
	sessionFile    string
	pollInterval   time.Duration
	timeout        time.Duration
}

func defaultSessionFile() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ".paywatch-session.json"
	}
	return filepath.Join(dir, "paywatch", "session.json")
}

// checkoutCommands drives one payment from the terminal: it resumes the
// invoice's recent intent when the local session allows it, otherwise creates
// one, then polls until the intent is confirmed or expired.
func checkoutCommands() *cobra.Command {
	opts := checkoutOptions{}

	cmd := &cobra.Command{
		Use:   "checkout",
		Short: "pay an invoice and wait for confirmation",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if opts.timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, opts.timeout)
				defer cancel()
			}

			c := client.New(opts.apiURL, opts.apiKey)
			restorer := session.NewRestorer(session.NewFileStorage(opts.sessionFile), c)
			return runCheckout(ctx, cmd.OutOrStdout(), c, restorer, opts)
		},
	}

	cmd.Flags().StringVar(&opts.apiURL, "api-url", "http://localhost:5001", "paywatch API base URL")
	cmd.Flags().StringVar(&opts.apiKey, "api-key", os.Getenv("PAYWATCH_API_KEY"), "paywatch API secret key")
	cmd.Flags().StringVar(&opts.organizationID, "org", "", "organization id")
	cmd.Flags().StringVar(&opts.invoiceID, "invoice", "", "invoice id")
	cmd.Flags().StringVar(&opts.amount, "amount", "", "fiat amount to pay")
	cmd.Flags().StringVar(&opts.currency, "currency", "USD", "fiat currency")
	cmd.Flags().StringVar(&opts.asset, "asset", "XRP", "asset to pay with")
	cmd.Flags().StringVar(&opts.sessionFile, "session-file", defaultSessionFile(), "where the checkout session is remembered")
	cmd.Flags().DurationVar(&opts.pollInterval, "poll-interval", 5*time.Second, "status poll interval")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 20*time.Minute, "give up waiting after this long")
	_ = cmd.MarkFlagRequired("org")
	_ = cmd.MarkFlagRequired("invoice")
	_ = cmd.MarkFlagRequired("amount")

	return cmd
}

func runCheckout(ctx context.Context, out io.Writer, c *client.Client, restorer *session.Restorer, opts checkoutOptions) error {
	intent, restored := restorer.Restore(ctx, opts.invoiceID)
	if restored {
		fmt.Fprintf(out, "Resuming payment %s for invoice %s\n", intent.IntentID, opts.invoiceID)
	} else {
		amount, err := decimal.NewFromString(opts.amount)
		if err != nil {
			return fmt.Errorf("invalid amount %q: %w", opts.amount, err)
		}
		created, err := c.CreateIntent(ctx, model2.CreatePaymentIntent{
			OrganizationID: opts.organizationID,
			InvoiceID:      opts.invoiceID,
			Amount:         amount,
			Currency:       opts.currency,
			Asset:          opts.asset,
		})
		if err != nil {
			return fmt.Errorf("creating payment: %w", err)
		}
		intent = created.Intent
		if err := restorer.Remember(opts.invoiceID, intent.IntentID); err != nil {
			logrus.WithError(err).Warn("checkout session not saved")
		}
	}

	if intent.Status.IsTerminal() {
		return reportOutcome(out, restorer, opts.invoiceID, intent.ToStatusResult())
	}

	instructions, err := c.GetInstructions(ctx, intent.IntentID)
	if err != nil {
		return fmt.Errorf("fetching payment instructions: %w", err)
	}
	printInstructions(out, instructions)

	if _, err := c.Watch(ctx, intent.IntentID); err != nil {
		logrus.WithError(err).Warn("server-side watch not started, polling only")
	}

	var lastStatus model.PaymentStatus
	status, err := c.WaitForTerminal(ctx, intent.IntentID, opts.pollInterval, func(s *model.StatusResult) {
		if s.Status == lastStatus {
			return
		}
		lastStatus = s.Status
		fmt.Fprintf(out, "Status: %s (%d/%d confirmations)\n", s.Status, s.Confirmations, s.RequiredConfirmations)
	})
	if err != nil {
		return fmt.Errorf("waiting for payment: %w", err)
	}
	return reportOutcome(out, restorer, opts.invoiceID, status)
}

func printInstructions(out io.Writer, i *model.PaymentInstructions) {
	fmt.Fprintf(out, "Send %s %s to %s\n", i.Amount.String(), i.Asset, i.Address)
	if i.DestinationTag != nil {
		fmt.Fprintf(out, "Destination tag: %d\n", *i.DestinationTag)
	}
	fmt.Fprintf(out, "Payment URI: %s\n", i.URI)
	fmt.Fprintf(out, "Expires at: %s\n", i.ExpiresAt.Local().Format(time.Kitchen))
}

func reportOutcome(out io.Writer, restorer *session.Restorer, invoiceID string, status *model.StatusResult) error {
	if err := restorer.Forget(invoiceID); err != nil {
		logrus.WithError(err).Debug("clearing checkout session")
	}
	switch status.Status {
	case model.StatusConfirmed:
		fmt.Fprintf(out, "Payment confirmed")
		if status.TxHash != nil {
			fmt.Fprintf(out, " in %s", *status.TxHash)
		}
		fmt.Fprintln(out)
		return nil
	default:
		return fmt.Errorf("payment %s: %s", status.IntentID, status.Status)
	}
}
