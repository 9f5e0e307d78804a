package handlers

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/imrishuroy/go-payment-reconciler/internal/gateway"
	"github.com/imrishuroy/go-payment-reconciler/internal/orders"
	"github.com/imrishuroy/go-payment-reconciler/internal/reconcile"
	"github.com/imrishuroy/go-payment-reconciler/internal/signature"
	"github.com/imrishuroy/go-payment-reconciler/internal/validation"
)

const maxWebhookBody = 1 << 20

type Reconciler interface {
	Apply(ctx context.Context, c reconcile.Candidate) (reconcile.Result, error)
}

type Poller interface {
	PollOrder(ctx context.Context, orderID string, source reconcile.Source) (reconcile.PollResult, error)
	PollInvoice(ctx context.Context, invoiceID string, source reconcile.Source) (reconcile.PollResult, error)
}

type Sweeper interface {
	Run(ctx context.Context) (reconcile.SweepResult, error)
}

type Initiator interface {
	Initiate(ctx context.Context, orderID string) (reconcile.Initiation, error)
}

// HandlerConfig groups dependencies for the payment routes.
type HandlerConfig struct {
	Reconciler Reconciler
	Poller     Poller
	Sweeper    Sweeper
	Initiator  Initiator
	Verifier   *signature.Verifier
	Logger     *zap.SugaredLogger
}

// RegisterPaymentRoutes registers the webhook, status poll, sweep and initiation routes.
func RegisterPaymentRoutes(r *gin.Engine, cfg HandlerConfig) {
	v := validation.New()

	r.POST("/webhooks/payments", func(c *gin.Context) {
		raw, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request_body", "msg": err.Error()})
			return
		}

		// Authenticate before anything is parsed or touched.
		if err := cfg.Verifier.Verify(raw, c.GetHeader(signature.Header)); err != nil {
			cfg.Logger.Warnw("rejected payment notification",
				"mode", cfg.Verifier.Mode(),
				"request_id", requestID(c),
			)
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_signature"})
			return
		}

		c.Request.Body = io.NopCloser(bytes.NewReader(raw))
		var req validation.PaymentNotification
		if err := validation.BindAndValidate(c, &req, v); err != nil {
			// BindAndValidate already wrote a 400
			return
		}

		res, err := cfg.Reconciler.Apply(c.Request.Context(), reconcile.Candidate{
			OrderID:        req.OrderID,
			Reference:      req.Reference,
			RawStatus:      req.Status,
			FailureReason:  req.FailureReason,
			PaymentAccount: req.PaymentAccount,
			Source:         reconcile.SourceWebhook,
		})
		if err != nil {
			writeError(c, cfg.Logger, err)
			return
		}
		c.JSON(http.StatusOK, res)
	})

	r.GET("/payments/status", func(c *gin.Context) {
		var q validation.StatusQuery
		if err := validation.BindQueryAndValidate(c, &q, v); err != nil {
			return
		}

		var (
			res reconcile.PollResult
			err error
		)
		if q.OrderID != "" {
			res, err = cfg.Poller.PollOrder(c.Request.Context(), q.OrderID, reconcile.SourcePoll)
		} else {
			res, err = cfg.Poller.PollInvoice(c.Request.Context(), q.InvoiceID, reconcile.SourcePoll)
		}
		if err != nil {
			writeError(c, cfg.Logger, err)
			return
		}
		c.JSON(http.StatusOK, res)
	})

	r.POST("/payments/sweep", func(c *gin.Context) {
		res, err := cfg.Sweeper.Run(c.Request.Context())
		if err != nil {
			writeError(c, cfg.Logger, err)
			return
		}
		c.JSON(http.StatusOK, res)
	})

	r.POST("/orders/:id/payments", func(c *gin.Context) {
		res, err := cfg.Initiator.Initiate(c.Request.Context(), c.Param("id"))
		if err != nil {
			writeError(c, cfg.Logger, err)
			return
		}
		status := http.StatusOK
		if res.Created {
			status = http.StatusCreated
		}
		c.JSON(status, res)
	})
}

// writeError maps domain errors onto HTTP statuses. Anything unrecognised is a 500 so the
// caller (usually the processor) retries.
func writeError(c *gin.Context, logger *zap.SugaredLogger, err error) {
	var httpErr *gateway.HTTPError
	switch {
	case errors.Is(err, orders.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "order_not_found"})
	case errors.Is(err, reconcile.ErrMissingCorrelation):
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing_order_reference"})
	case errors.Is(err, reconcile.ErrNoReference):
		c.JSON(http.StatusConflict, gin.H{"error": "payment_not_initiated"})
	case errors.Is(err, orders.ErrReferenceConflict):
		logger.Warnw("reference conflict", "path", c.FullPath(), "request_id", requestID(c), "error", err)
		c.JSON(http.StatusConflict, gin.H{"error": "reference_conflict"})
	case errors.Is(err, reconcile.ErrNotPayable):
		c.JSON(http.StatusConflict, gin.H{"error": "order_not_payable"})
	case errors.Is(err, gateway.ErrTimeout):
		c.JSON(http.StatusGatewayTimeout, gin.H{"error": "gateway_timeout"})
	case errors.Is(err, gateway.ErrInvoiceNotFound):
		c.JSON(http.StatusBadGateway, gin.H{"error": "invoice_not_found"})
	case errors.As(err, &httpErr):
		c.JSON(http.StatusBadGateway, gin.H{"error": "gateway_error", "detail": httpErr.Error()})
	default:
		logger.Errorw("request failed", "path", c.FullPath(), "request_id", requestID(c), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
	}
}
