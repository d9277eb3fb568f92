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
	"os"
	"os/signal"
	"syscall"

	"github.com/blnkfinance/paywatch"
	"github.com/blnkfinance/paywatch/config"
	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

const expirySweepSpec = "@every 1m"

func initializeQueues(cfg *config.Configuration) map[string]int {
	return map[string]int{
		cfg.Queue.ConfirmationQueue: 5,
		cfg.Queue.ExpiryQueue:       3,
		cfg.Queue.WebhookQueue:      2,
	}
}

func initializeWorkerServer(cfg *config.Configuration) (*asynq.Server, error) {
	redisOption, err := paywatch.RedisClientOpt(cfg)
	if err != nil {
		return nil, fmt.Errorf("error parsing Redis URL: %v", err)
	}

	return asynq.NewServer(redisOption, asynq.Config{
		Concurrency: cfg.Queue.Concurrency,
		Queues:      initializeQueues(cfg),
		Logger:      logrus.StandardLogger(),
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			retried, _ := asynq.GetRetryCount(ctx)
			maxRetry, _ := asynq.GetMaxRetry(ctx)
			logrus.WithError(err).WithFields(logrus.Fields{
				"task":      task.Type(),
				"retried":   retried,
				"max_retry": maxRetry,
			}).Warn("task failed")
		}),
	}), nil
}

func initializeScheduler(cfg *config.Configuration) (*asynq.Scheduler, error) {
	redisOption, err := paywatch.RedisClientOpt(cfg)
	if err != nil {
		return nil, fmt.Errorf("error parsing Redis URL: %v", err)
	}

	scheduler := asynq.NewScheduler(redisOption, &asynq.SchedulerOpts{Logger: logrus.StandardLogger()})
	task, opts := paywatch.ExpirySweepTask(cfg)
	if _, err := scheduler.Register(expirySweepSpec, task, opts...); err != nil {
		return nil, err
	}
	return scheduler, nil
}

func initializeTaskHandlers(p *paywatch.Paywatch, mux *asynq.ServeMux) {
	mux.HandleFunc(paywatch.TaskExpireIntent, p.ProcessExpiry)
	mux.HandleFunc(paywatch.TaskExpirySweep, p.ProcessExpirySweep)
	mux.HandleFunc(paywatch.TaskIntentConfirmed, paywatch.ProcessConfirmation)
	mux.HandleFunc(paywatch.TaskDeliverWebhook, paywatch.ProcessWebhook)
}

// workerCommands defines the "workers" command: the asynq server handling
// expiry, confirmation and webhook tasks, plus the periodic expiry sweep.
func workerCommands(app *paywatchInstance) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workers",
		Short: "start paywatch workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			p, err := app.service()
			if err != nil {
				return err
			}
			defer func() { _ = p.Close() }()

			cfg := app.cnf
			shutdown, err := initializeTracing(ctx, cfg)
			if err != nil {
				return err
			}
			defer func() { _ = shutdown(context.Background()) }()

			srv, err := initializeWorkerServer(cfg)
			if err != nil {
				return err
			}
			scheduler, err := initializeScheduler(cfg)
			if err != nil {
				return err
			}

			mux := asynq.NewServeMux()
			initializeTaskHandlers(p, mux)

			if err := scheduler.Start(); err != nil {
				return fmt.Errorf("could not start scheduler: %w", err)
			}
			defer scheduler.Shutdown()

			if err := srv.Start(mux); err != nil {
				return fmt.Errorf("could not run server: %w", err)
			}
			<-ctx.Done()
			srv.Shutdown()
			return nil
		},
	}

	return cmd
}
