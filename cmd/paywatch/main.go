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
	"fmt"
	"os"

	"github.com/blnkfinance/paywatch"
	"github.com/blnkfinance/paywatch/config"
	"github.com/blnkfinance/paywatch/database"
	"github.com/blnkfinance/paywatch/internal/notification"
	"github.com/blnkfinance/paywatch/ledger/xrpl"
	"github.com/blnkfinance/paywatch/pricing"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// Paywatch represents the CLI application, encapsulating the root Cobra command.
type Paywatch struct {
	cmd *cobra.Command
}

// paywatchInstance holds what the server and worker commands share. It is
// built lazily because migrate and checkout never touch the service.
type paywatchInstance struct {
	configFile string
	paywatch   *paywatch.Paywatch
	cnf        *config.Configuration
}

func recoverPanic() {
	if rec := recover(); rec != nil {
		logrus.Error(rec)
		os.Exit(1)
	}
}

// loadConfig reads the configuration file, falling back to the environment.
func (app *paywatchInstance) loadConfig() (*config.Configuration, error) {
	if app.cnf != nil {
		return app.cnf, nil
	}
	if err := config.InitConfig(app.configFile); err != nil {
		return nil, fmt.Errorf("error loading config: %w", err)
	}
	cnf, err := config.Fetch()
	if err != nil {
		return nil, err
	}
	app.cnf = cnf
	return cnf, nil
}

// service returns the paywatch service, connecting to postgres, redis and the
// ledger on first use.
func (app *paywatchInstance) service() (*paywatch.Paywatch, error) {
	if app.paywatch != nil {
		return app.paywatch, nil
	}
	cnf, err := app.loadConfig()
	if err != nil {
		return nil, err
	}
	p, err := setupPaywatch(cnf)
	if err != nil {
		notification.NotifyError(err)
		return nil, err
	}
	app.paywatch = p
	return p, nil
}

func setupPaywatch(cfg *config.Configuration) (*paywatch.Paywatch, error) {
	db, err := database.NewDataSource(cfg)
	if err != nil {
		return nil, fmt.Errorf("error getting datasource: %v", err)
	}

	p, err := paywatch.NewPaywatch(db, xrpl.NewClient(cfg.Ledger), pricing.NewHTTPSource(cfg.PriceSource))
	if err != nil {
		return nil, fmt.Errorf("error creating paywatch: %v", err)
	}
	return p, nil
}

// NewCLI creates the command-line interface for paywatch.
func NewCLI() *Paywatch {
	app := &paywatchInstance{}

	var rootCmd = &cobra.Command{
		Use:   "paywatch",
		Short: "Crypto payment confirmation service",
		Run:   func(cmd *cobra.Command, args []string) {},
	}

	rootCmd.PersistentFlags().StringVar(&app.configFile, "config", "./paywatch.json", "Configuration file for paywatch")

	rootCmd.AddCommand(serverCommands(app))
	rootCmd.AddCommand(workerCommands(app))
	rootCmd.AddCommand(migrateCommands(app))
	rootCmd.AddCommand(checkoutCommands())
	rootCmd.AddCommand(configCommands(app))

	return &Paywatch{cmd: rootCmd}
}

func (w Paywatch) executeCLI() {
	if err := w.cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func main() {
	defer recoverPanic()

	cli := NewCLI()
	cli.executeCLI()
}
