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

package config

import (
	"encoding/json"
	"errors"
	"log"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/sirupsen/logrus"
)

const (
	DEFAULT_PORT = "5005"
)

var ConfigStore atomic.Value

type ServerConfig struct {
	SSL       bool   `json:"ssl" envconfig:"PAYWATCH_SERVER_SSL"`
	Secure    bool   `json:"secure" envconfig:"PAYWATCH_SERVER_SECURE"`
	SecretKey string `json:"secret_key" envconfig:"PAYWATCH_SERVER_SECRET_KEY"`
	Domain    string `json:"domain" envconfig:"PAYWATCH_SERVER_SSL_DOMAIN"`
	Email     string `json:"ssl_email" envconfig:"PAYWATCH_SERVER_SSL_EMAIL"`
	Port      string `json:"port" envconfig:"PAYWATCH_SERVER_PORT"`
}

type DataSourceConfig struct {
	Dns string `json:"dns" envconfig:"PAYWATCH_DATA_SOURCE_DNS"`
}

type RedisConfig struct {
	Dns           string `json:"dns" envconfig:"PAYWATCH_REDIS_DNS"`
	SkipTLSVerify bool   `json:"skip_tls_verify" envconfig:"PAYWATCH_REDIS_SKIP_TLS_VERIFY"`
}

type QueueConfig struct {
	ExpiryQueue       string `json:"expiry_queue" envconfig:"PAYWATCH_QUEUE_EXPIRY"`
	ConfirmationQueue string `json:"confirmation_queue" envconfig:"PAYWATCH_QUEUE_CONFIRMATION"`
	WebhookQueue      string `json:"webhook_queue" envconfig:"PAYWATCH_QUEUE_WEBHOOK"`
	MaxRetryAttempts  int    `json:"max_retry_attempts" envconfig:"PAYWATCH_QUEUE_MAX_RETRY_ATTEMPTS"`
	Concurrency       int    `json:"concurrency" envconfig:"PAYWATCH_QUEUE_CONCURRENCY"`
}

// LedgerConfig points at an XRP Ledger node. RPCUrl serves JSON-RPC queries,
// WebsocketUrl serves the account subscription stream.
type LedgerConfig struct {
	RPCUrl          string `json:"rpc_url" envconfig:"PAYWATCH_LEDGER_RPC_URL"`
	WebsocketUrl    string `json:"websocket_url" envconfig:"PAYWATCH_LEDGER_WEBSOCKET_URL"`
	DisablePush     bool   `json:"disable_push" envconfig:"PAYWATCH_LEDGER_DISABLE_PUSH"`
	QueryTimeoutSec int    `json:"query_timeout_sec" envconfig:"PAYWATCH_LEDGER_QUERY_TIMEOUT_SEC"`
	LookbackLimit   int    `json:"lookback_limit" envconfig:"PAYWATCH_LEDGER_LOOKBACK_LIMIT"`
}

type PriceSourceConfig struct {
	Url             string `json:"url" envconfig:"PAYWATCH_PRICE_SOURCE_URL"`
	ApiKey          string `json:"api_key" envconfig:"PAYWATCH_PRICE_SOURCE_API_KEY"`
	CacheTTLSec     int    `json:"cache_ttl_sec" envconfig:"PAYWATCH_PRICE_SOURCE_CACHE_TTL_SEC"`
	QueryTimeoutSec int    `json:"query_timeout_sec" envconfig:"PAYWATCH_PRICE_SOURCE_QUERY_TIMEOUT_SEC"`
}

type PaymentsConfig struct {
	IntentTTLMinutes      int    `json:"intent_ttl_minutes" envconfig:"PAYWATCH_PAYMENTS_INTENT_TTL_MINUTES"`
	PollIntervalSec       int    `json:"poll_interval_sec" envconfig:"PAYWATCH_PAYMENTS_POLL_INTERVAL_SEC"`
	DefaultCooldownHours  int    `json:"default_cooldown_hours" envconfig:"PAYWATCH_PAYMENTS_DEFAULT_COOLDOWN_HOURS"`
	DefaultConfirmations  int    `json:"default_confirmations" envconfig:"PAYWATCH_PAYMENTS_DEFAULT_CONFIRMATIONS"`
	QRRenderer            string `json:"qr_renderer" envconfig:"PAYWATCH_PAYMENTS_QR_RENDERER"`
	RemoteQRUrl           string `json:"remote_qr_url" envconfig:"PAYWATCH_PAYMENTS_REMOTE_QR_URL"`
	ResumeWatchersOnStart bool   `json:"resume_watchers_on_start" envconfig:"PAYWATCH_PAYMENTS_RESUME_WATCHERS"`
}

type BillingConfig struct {
	RefreshUrl string            `json:"refresh_url" envconfig:"PAYWATCH_BILLING_REFRESH_URL"`
	Headers    map[string]string `json:"headers"`
}

type RateLimitConfig struct {
	RequestsPerSecond  *float64 `json:"requests_per_second" envconfig:"PAYWATCH_RATE_LIMIT_RPS"`
	Burst              *int     `json:"burst" envconfig:"PAYWATCH_RATE_LIMIT_BURST"`
	CleanupIntervalSec *int     `json:"cleanup_interval_sec" envconfig:"PAYWATCH_RATE_LIMIT_CLEANUP_INTERVAL_SEC"`
}

type SlackWebhook struct {
	WebhookUrl string `json:"webhook_url" envconfig:"PAYWATCH_SLACK_WEBHOOK_URL"`
}

type WebhookConfig struct {
	Url     string            `json:"url" envconfig:"PAYWATCH_WEBHOOK_URL"`
	Headers map[string]string `json:"headers"`
}

type Notification struct {
	Slack   SlackWebhook  `json:"slack"`
	Webhook WebhookConfig `json:"webhook"`
}

type Configuration struct {
	ProjectName     string            `json:"project_name" envconfig:"PAYWATCH_PROJECT_NAME"`
	EnableTelemetry bool              `json:"enable_telemetry" envconfig:"PAYWATCH_ENABLE_TELEMETRY"`
	Server          ServerConfig      `json:"server"`
	DataSource      DataSourceConfig  `json:"data_source"`
	Redis           RedisConfig       `json:"redis"`
	Queue           QueueConfig       `json:"queue"`
	Ledger          LedgerConfig      `json:"ledger"`
	PriceSource     PriceSourceConfig `json:"price_source"`
	Payments        PaymentsConfig    `json:"payments"`
	Billing         BillingConfig     `json:"billing"`
	Notification    Notification      `json:"notification"`
	RateLimit       RateLimitConfig   `json:"rate_limit"`
}

func loadConfigFromFile(file string) error {
	var cnf Configuration
	_, err := os.Stat(file)
	if err == nil {
		f, err := os.Open(file)
		if err != nil {
			return err
		}
		defer func() { _ = f.Close() }()
		err = json.NewDecoder(f).Decode(&cnf)
		if err != nil {
			return err
		}

	} else if errors.Is(err, os.ErrNotExist) {
		log.Println("config json not passed, will use env variables")
	}

	// override config from environment variables
	err = envconfig.Process("paywatch", &cnf)
	if err != nil {
		return err
	}

	err = cnf.validateAndAddDefaults()
	if err != nil {
		return err
	}

	ConfigStore.Store(&cnf)
	return err
}

func InitConfig(configFile string) error {
	logger()
	return loadConfigFromFile(configFile)
}

func Fetch() (*Configuration, error) {
	config := ConfigStore.Load()
	c, ok := config.(*Configuration)
	if !ok {
		return nil, errors.New("config not loaded from file. Create a json file called paywatch.json with your config ❌")
	}
	return c, nil
}

func (cnf *Configuration) validateAndAddDefaults() error {
	if cnf.ProjectName == "" {
		log.Println("Warning: Project name is empty. Setting a default name.")
		cnf.ProjectName = "Paywatch Server"
	}

	if cnf.DataSource.Dns == "" {
		log.Println("Error: Data source DNS is empty. It's a required field.")
		return errors.New("data source DNS is required")
	}

	if cnf.Redis.Dns == "" {
		log.Println("Error: Redis DNS is empty. It's a required field.")
		return errors.New("redis DNS is required")
	}

	cnf.ProjectName = strings.TrimSpace(cnf.ProjectName)
	cnf.Server.Port = strings.TrimSpace(cnf.Server.Port)
	cnf.DataSource.Dns = strings.TrimSpace(cnf.DataSource.Dns)
	cnf.Redis.Dns = strings.TrimSpace(cnf.Redis.Dns)

	if cnf.Server.Port == "" {
		cnf.Server.Port = DEFAULT_PORT
		log.Printf("Warning: Port not specified in config. Setting default port: %s", DEFAULT_PORT)
	}

	cnf.applyQueueDefaults()
	cnf.applyPaymentDefaults()

	if cnf.RateLimit.RequestsPerSecond != nil && cnf.RateLimit.Burst == nil {
		defaultBurst := 2 * int(*cnf.RateLimit.RequestsPerSecond)
		cnf.RateLimit.Burst = &defaultBurst
		log.Printf("Warning: Rate limit burst not specified. Setting default value: %d", defaultBurst)
	}
	if cnf.RateLimit.RequestsPerSecond == nil && cnf.RateLimit.Burst != nil {
		defaultRPS := float64(*cnf.RateLimit.Burst) / 2
		cnf.RateLimit.RequestsPerSecond = &defaultRPS
		log.Printf("Warning: Rate limit RPS not specified. Setting default value: %.2f", defaultRPS)
	}
	if cnf.RateLimit.CleanupIntervalSec == nil {
		defaultCleanup := 10800
		cnf.RateLimit.CleanupIntervalSec = &defaultCleanup
	}

	return nil
}

func (cnf *Configuration) applyQueueDefaults() {
	if cnf.Queue.ExpiryQueue == "" {
		cnf.Queue.ExpiryQueue = "intent_expiry"
	}
	if cnf.Queue.ConfirmationQueue == "" {
		cnf.Queue.ConfirmationQueue = "intent_confirmation"
	}
	if cnf.Queue.WebhookQueue == "" {
		cnf.Queue.WebhookQueue = "webhook_queue"
	}
	if cnf.Queue.MaxRetryAttempts <= 0 {
		cnf.Queue.MaxRetryAttempts = 5
	}
	if cnf.Queue.Concurrency <= 0 {
		cnf.Queue.Concurrency = 10
	}
}

func (cnf *Configuration) applyPaymentDefaults() {
	if cnf.Payments.IntentTTLMinutes <= 0 {
		cnf.Payments.IntentTTLMinutes = 15
	}
	if cnf.Payments.PollIntervalSec <= 0 {
		cnf.Payments.PollIntervalSec = 5
	}
	if cnf.Payments.DefaultCooldownHours <= 0 {
		cnf.Payments.DefaultCooldownHours = 24
	}
	if cnf.Payments.DefaultConfirmations <= 0 {
		cnf.Payments.DefaultConfirmations = 1
	}
	if cnf.Payments.QRRenderer == "" {
		cnf.Payments.QRRenderer = "native"
	}
	if cnf.Payments.RemoteQRUrl == "" {
		cnf.Payments.RemoteQRUrl = "https://api.qrserver.com/v1/create-qr-code/?size=256x256&data="
	}
	if cnf.Ledger.QueryTimeoutSec <= 0 {
		cnf.Ledger.QueryTimeoutSec = 4
	}
	if cnf.Ledger.LookbackLimit <= 0 {
		cnf.Ledger.LookbackLimit = 50
	}
	if cnf.PriceSource.CacheTTLSec <= 0 {
		cnf.PriceSource.CacheTTLSec = 60
	}
	if cnf.PriceSource.QueryTimeoutSec <= 0 {
		cnf.PriceSource.QueryTimeoutSec = 4
	}
}

// IntentTTL is how long a freshly created intent stays payable.
func (cnf *Configuration) IntentTTL() time.Duration {
	return time.Duration(cnf.Payments.IntentTTLMinutes) * time.Minute
}

func (cnf *Configuration) PollInterval() time.Duration {
	return time.Duration(cnf.Payments.PollIntervalSec) * time.Second
}

func (cnf *Configuration) LedgerQueryTimeout() time.Duration {
	return time.Duration(cnf.Ledger.QueryTimeoutSec) * time.Second
}

// MockConfig sets a mock configuration for testing purposes.
func MockConfig(mockConfig *Configuration) {
	ConfigStore.Store(mockConfig)
}

func logger() {
	logger := logrus.New()
	log.SetOutput(logger.Writer())
}
