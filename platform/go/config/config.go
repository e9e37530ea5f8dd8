package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/zenGate-Global/dappbot-ops/platform/go/retry"
)

// Config is the environment-provided surface shared by the worker and the CLI.
type Config struct {
	LogLevel        string        `env:"LOG_LEVEL" envDefault:"info"`
	Port            string        `env:"PORT" envDefault:"8080"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
	RequestTimeout  time.Duration `env:"REQUEST_TIMEOUT" envDefault:"5m"`

	// TriggerAudience enables OIDC verification on the HTTP triggers when set.
	TriggerAudience string   `env:"TRIGGER_AUDIENCE"`
	TriggerCallers  []string `env:"TRIGGER_CALLERS" envSeparator:","`

	AWSRegion      string `env:"AWS_REGION" envDefault:"us-east-1"`
	AWSEndpointURL string `env:"AWS_ENDPOINT_URL"` // localstack and friends

	DatabaseURL       string        `env:"DATABASE_URL,required"`
	DBMaxConns        int32         `env:"DB_MAX_CONNS"` // 0 sizes the pool from RECONCILE_CONCURRENCY
	DBConnectAttempts int           `env:"DB_CONNECT_ATTEMPTS" envDefault:"5"`
	DBConnectBackoff  time.Duration `env:"DB_CONNECT_BACKOFF" envDefault:"2s"`
	DappTable         string        `env:"DAPP_TABLE" envDefault:"dapps"`
	LapsedUsersTable  string        `env:"LAPSED_USERS_TABLE" envDefault:"lapsed_users"`

	GracePeriodHours     float64 `env:"PAYMENT_LAPSED_GRACE_PERIOD_HRS" envDefault:"72"`
	ReconcileConcurrency int     `env:"RECONCILE_CONCURRENCY" envDefault:"1"`

	FirebaseCredentialsFile string `env:"FIREBASE_CREDENTIALS_FILE"`

	DeletionQueueURL string        `env:"DELETION_QUEUE_URL,required"`
	InboundQueueURL  string        `env:"INBOUND_QUEUE_URL"`
	CleanupInterval  time.Duration `env:"CLEANUP_INTERVAL" envDefault:"0s"`

	DNSRoot        string `env:"DNS_ROOT" envDefault:".dapp.bot"`
	SendgridAPIKey string `env:"SENDGRID_API_KEY"`
	SendgridFrom   string `env:"SENDGRID_FROM" envDefault:"support@dapp.bot"`
	SegmentKey     string `env:"SEGMENT_WRITE_KEY"`
	APIURL         string `env:"API_URL"`

	RetryBaseDelay time.Duration `env:"RETRY_BASE_DELAY" envDefault:"100ms"`
	RetryMaxDelay  time.Duration `env:"RETRY_MAX_DELAY" envDefault:"20s"`
}

// Load parses the process environment.
func Load() (Config, error) {
	return parse(env.Options{})
}

// LoadFrom parses an explicit environment map; used by tests and the CLI's --env-file handling.
func LoadFrom(vars map[string]string) (Config, error) {
	return parse(env.Options{Environment: vars})
}

func parse(opts env.Options) (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}
	if cfg.GracePeriodHours < 0 {
		return Config{}, fmt.Errorf("load config: PAYMENT_LAPSED_GRACE_PERIOD_HRS must not be negative")
	}
	if cfg.ReconcileConcurrency < 1 {
		cfg.ReconcileConcurrency = 1
	}
	return cfg, nil
}

// GracePeriod converts the configured hours into a duration.
func (c Config) GracePeriod() time.Duration {
	return time.Duration(c.GracePeriodHours * float64(time.Hour))
}

// RetryPolicy derives the executor policy.
func (c Config) RetryPolicy() retry.Policy {
	return retry.Policy{BaseDelay: c.RetryBaseDelay, MaxDelay: c.RetryMaxDelay}
}
