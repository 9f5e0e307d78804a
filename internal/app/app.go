package app

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"github.com/imrishuroy/go-payment-reconciler/internal/aws"
	"github.com/imrishuroy/go-payment-reconciler/internal/config"
	"github.com/imrishuroy/go-payment-reconciler/internal/db"
	"github.com/imrishuroy/go-payment-reconciler/internal/gateway"
	"github.com/imrishuroy/go-payment-reconciler/internal/handlers"
	"github.com/imrishuroy/go-payment-reconciler/internal/idempotency"
	"github.com/imrishuroy/go-payment-reconciler/internal/notify"
	"github.com/imrishuroy/go-payment-reconciler/internal/orders"
	"github.com/imrishuroy/go-payment-reconciler/internal/reconcile"
	"github.com/imrishuroy/go-payment-reconciler/internal/retry"
	"github.com/imrishuroy/go-payment-reconciler/internal/signature"
)

// App holds the wired components shared by the API and sweeper binaries.
type App struct {
	Orders     orders.Repository
	Reconciler *reconcile.Reconciler
	Poller     *reconcile.Poller
	Sweeper    *reconcile.Sweeper
	Initiator  *reconcile.Initiator
	Verifier   *signature.Verifier

	logger *zap.SugaredLogger
	db     *sql.DB
}

// New builds every component from cfg. Close releases the database pool when one was opened.
func New(ctx context.Context, cfg *config.Config, logger *zap.SugaredLogger) (*App, error) {
	var clients *aws.AWSClients
	if cfg.UsesAWS() {
		var err error
		clients, err = aws.NewAWSClients(ctx, cfg.AWSRegion, cfg.AWSEndpointOverride)
		if err != nil {
			return nil, fmt.Errorf("failed to init aws clients: %w", err)
		}
	}
	return build(ctx, cfg, clients, logger)
}

func build(ctx context.Context, cfg *config.Config, clients *aws.AWSClients, logger *zap.SugaredLogger) (*App, error) {
	a := &App{logger: logger}

	var (
		repo   orders.Repository
		claims notify.Claims
	)
	switch cfg.StoreBackend {
	case config.BackendPostgres:
		conn, err := db.Open(ctx, cfg.DatabaseURI)
		if err != nil {
			return nil, err
		}
		a.db = conn
		repo = orders.NewPostgresStore(conn)
		claims = idempotency.NewPostgresStore(conn, cfg.ClaimTTL)
	default:
		repo = orders.NewDynamoStore(clients.DynamoDB, cfg.OrdersTable, cfg.OrdersReferenceIndex, cfg.OrdersStatusIndex)
		claims = idempotency.NewStore(clients.DynamoDB, cfg.IdempotencyTable, cfg.ClaimTTL)
	}

	policy := retry.DefaultPolicy
	policy.Attempts = cfg.StoreRetryAttempts
	policy.Backoff = cfg.StoreRetryBackoff
	a.Orders = orders.NewRetryingStore(repo, policy, logger)

	var metrics reconcile.Metrics
	if cfg.MetricsNamespace != "" {
		metrics = aws.NewMetricsPublisher(clients.CloudWatch, cfg.MetricsNamespace)
	}

	transport := newTransport(cfg, clients, logger)
	dispatcher := notify.NewDispatcher(claims, a.Orders, notify.NewTextRenderer(cfg.MailFrom), transport, logger)

	gw := gateway.NewClient(cfg.GatewayBaseURL, cfg.GatewayAPIKey, cfg.GatewayTimeout)

	a.Reconciler = reconcile.NewReconciler(a.Orders, dispatcher, metrics, logger)
	a.Poller = reconcile.NewPoller(a.Orders, gw, a.Reconciler)
	a.Sweeper = reconcile.NewSweeper(a.Orders, a.Poller, a.Reconciler, metrics, reconcile.SweepConfig{
		StaleAfter:  cfg.SweepStaleAfter,
		BatchSize:   cfg.SweepBatchSize,
		Concurrency: cfg.SweepConcurrency,
		GatewayRPS:  cfg.SweepGatewayRPS,
	}, logger)
	a.Initiator = reconcile.NewInitiator(a.Orders, gw, logger)

	a.Verifier = signature.NewVerifier(cfg.WebhookSecret, cfg.WebhookChallengeToken)
	if a.Verifier.Mode() == signature.ModeDisabled {
		logger.Warnw("webhook signature verification is disabled; set WEBHOOK_SECRET")
	} else {
		logger.Infow("webhook verification configured", "mode", a.Verifier.Mode())
	}

	return a, nil
}

func newTransport(cfg *config.Config, clients *aws.AWSClients, logger *zap.SugaredLogger) notify.Transport {
	switch cfg.MailTransport {
	case config.MailTransportQueue:
		return notify.NewQueueTransport(aws.NewPublisher(clients.SQS, cfg.MailQueueURL))
	case config.MailTransportSMTP:
		return notify.NewSMTPTransport(cfg.SMTPAddr, cfg.SMTPUsername, cfg.SMTPPassword)
	default:
		return notify.NewLogTransport(logger)
	}
}

// HandlerConfig exposes the components the HTTP routes need.
func (a *App) HandlerConfig() handlers.HandlerConfig {
	return handlers.HandlerConfig{
		Reconciler: a.Reconciler,
		Poller:     a.Poller,
		Sweeper:    a.Sweeper,
		Initiator:  a.Initiator,
		Verifier:   a.Verifier,
		Logger:     a.logger,
	}
}

func (a *App) Close() error {
	if a.db != nil {
		return a.db.Close()
	}
	return nil
}

// ClaimStore is implemented by both idempotency backends.
type ClaimStore interface {
	notify.Claims
	Get(ctx context.Context, key string) (*idempotency.Record, error)
}

// NewClaimStore opens only the idempotency store, for binaries that do not touch orders.
// The returned func releases any database pool.
func NewClaimStore(ctx context.Context, cfg *config.Config) (ClaimStore, func() error, error) {
	if cfg.StoreBackend == config.BackendPostgres {
		conn, err := db.Open(ctx, cfg.DatabaseURI)
		if err != nil {
			return nil, nil, err
		}
		return idempotency.NewPostgresStore(conn, cfg.ClaimTTL), conn.Close, nil
	}

	clients, err := aws.NewAWSClients(ctx, cfg.AWSRegion, cfg.AWSEndpointOverride)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to init aws clients: %w", err)
	}
	return idempotency.NewStore(clients.DynamoDB, cfg.IdempotencyTable, cfg.ClaimTTL), func() error { return nil }, nil
}
