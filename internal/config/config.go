package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v6"
)

const (
	BackendDynamoDB = "dynamodb"
	BackendPostgres = "postgres"

	MailTransportLog   = "log"
	MailTransportQueue = "queue"
	MailTransportSMTP  = "smtp"
)

type Config struct {
	RunLocal   bool   `env:"RUN_LOCAL" envDefault:"false"`
	RunAddress string `env:"RUN_ADDRESS" envDefault:":8080"`
	LogLevel   string `env:"LOG_LEVEL" envDefault:"info"`

	StoreBackend         string        `env:"STORE_BACKEND" envDefault:"dynamodb"`
	DatabaseURI          string        `env:"DATABASE_URI"`
	OrdersTable          string        `env:"ORDERS_TABLE" envDefault:"orders"`
	OrdersReferenceIndex string        `env:"ORDERS_REFERENCE_INDEX" envDefault:"external_reference-index"`
	OrdersStatusIndex    string        `env:"ORDERS_STATUS_INDEX" envDefault:"payment_status-created_at-index"`
	IdempotencyTable     string        `env:"IDEMPOTENCY_TABLE" envDefault:"idempotency"`
	ClaimTTL             time.Duration `env:"CLAIM_TTL" envDefault:"720h"`

	StoreRetryAttempts int           `env:"STORE_RETRY_ATTEMPTS" envDefault:"3"`
	StoreRetryBackoff  time.Duration `env:"STORE_RETRY_BACKOFF" envDefault:"100ms"`

	AWSRegion           string `env:"AWS_REGION"`
	AWSEndpointOverride string `env:"AWS_ENDPOINT_OVERRIDE"`
	MetricsNamespace    string `env:"METRICS_NAMESPACE"`

	GatewayBaseURL string        `env:"GATEWAY_BASE_URL" envDefault:"https://api.xendit.co"`
	GatewayAPIKey  string        `env:"GATEWAY_API_KEY"`
	GatewayTimeout time.Duration `env:"GATEWAY_TIMEOUT" envDefault:"30s"`

	WebhookSecret         string `env:"WEBHOOK_SECRET"`
	WebhookChallengeToken string `env:"WEBHOOK_CHALLENGE_TOKEN"`

	MailTransport string `env:"MAIL_TRANSPORT" envDefault:"log"`
	MailQueueURL  string `env:"MAIL_QUEUE_URL"`
	MailFrom      string `env:"MAIL_FROM" envDefault:"orders@example.com"`
	SMTPAddr      string `env:"SMTP_ADDR"`
	SMTPUsername  string `env:"SMTP_USERNAME"`
	SMTPPassword  string `env:"SMTP_PASSWORD"`

	SweepStaleAfter  time.Duration `env:"SWEEP_STALE_AFTER" envDefault:"24h"`
	SweepBatchSize   int           `env:"SWEEP_BATCH_SIZE" envDefault:"100"`
	SweepConcurrency int           `env:"SWEEP_CONCURRENCY" envDefault:"10"`
	SweepGatewayRPS  float64       `env:"SWEEP_GATEWAY_RPS" envDefault:"5"`
}

// Load parses the environment and checks combinations env tags cannot express.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment variables: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.StoreBackend {
	case BackendDynamoDB:
	case BackendPostgres:
		if c.DatabaseURI == "" {
			return fmt.Errorf("DATABASE_URI is required when STORE_BACKEND=%s", BackendPostgres)
		}
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend)
	}

	switch c.MailTransport {
	case MailTransportLog:
	case MailTransportQueue:
		if c.MailQueueURL == "" {
			return fmt.Errorf("MAIL_QUEUE_URL is required when MAIL_TRANSPORT=%s", MailTransportQueue)
		}
	case MailTransportSMTP:
		if c.SMTPAddr == "" {
			return fmt.Errorf("SMTP_ADDR is required when MAIL_TRANSPORT=%s", MailTransportSMTP)
		}
	default:
		return fmt.Errorf("unknown MAIL_TRANSPORT %q", c.MailTransport)
	}

	if c.SweepConcurrency < 1 || c.SweepBatchSize < 1 {
		return fmt.Errorf("SWEEP_CONCURRENCY and SWEEP_BATCH_SIZE must be positive")
	}
	return nil
}

// UsesAWS reports whether any configured component needs AWS clients.
func (c *Config) UsesAWS() bool {
	return c.StoreBackend == BackendDynamoDB || c.MailTransport == MailTransportQueue || c.MetricsNamespace != ""
}
