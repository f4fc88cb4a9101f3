package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"mpesa-stk-service/logging"
	"mpesa-stk-service/models"
	"mpesa-stk-service/service"
)

const (
	msgSTKPushInitiated = "STK Push Initiated"
	msgCallbackReceived = "Callback received successfully"

	errInternal        = "Internal Server Error"
	errInvalidBody     = "Invalid request body"
	errInvalidCallback = "Invalid callback data"
)

// STKPushInitiator starts a push payment.
type STKPushInitiator interface {
	InitiateSTKPush(ctx context.Context, req *models.STKPushRequest) (map[string]any, error)
}

// CallbackProcessor interprets a payment result notification.
type CallbackProcessor interface {
	ProcessCallback(ctx context.Context, env *models.CallbackEnvelope) (*models.CallbackResult, error)
}

// PaymentHandler handles HTTP requests for payments
type PaymentHandler struct {
	payments  STKPushInitiator
	callbacks CallbackProcessor
}

// NewPaymentHandler creates a new payment handler
func NewPaymentHandler(payments STKPushInitiator, callbacks CallbackProcessor) *PaymentHandler {
	return &PaymentHandler{
		payments:  payments,
		callbacks: callbacks,
	}
}

// STKPush handles POST /stk-push. An empty body is the same as {}. Only a
// body that is not JSON is rejected here; field values go to the provider
// as sent. Failures are logged by the payment service.
func (h *PaymentHandler) STKPush(c *gin.Context) {
	var req models.STKPushRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": errInvalidBody})
		return
	}

	resp, err := h.payments.InitiateSTKPush(c.Request.Context(), &req)
	if err != nil {
		detail := service.ProviderDetail(err)
		if detail == nil {
			detail = errInternal
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": detail})
		return
	}

	body := gin.H{"message": msgSTKPushInitiated}
	for k, v := range resp {
		body[k] = v
	}
	c.JSON(http.StatusOK, body)
}

// Callback handles POST /callback. Any JSON body carrying Body.stkCallback
// is acknowledged with 200 whatever its field types or payment outcome,
// since Daraja retries on anything else.
func (h *PaymentHandler) Callback(c *gin.Context) {
	ctx := c.Request.Context()
	logger := logging.WithTraceContext(trace.SpanFromContext(ctx))

	raw, err := c.GetRawData()
	if err != nil {
		logger.Warn("Callback body unreadable", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": errInvalidCallback})
		return
	}
	logger.Debug("M-Pesa callback received", zap.ByteString("payload", raw))

	var env models.CallbackEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		logger.Warn("Callback body is not valid JSON", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": errInvalidCallback})
		return
	}

	if _, err := h.callbacks.ProcessCallback(ctx, &env); err != nil {
		if errors.Is(err, service.ErrInvalidCallback) {
			c.JSON(http.StatusBadRequest, gin.H{"error": errInvalidCallback})
			return
		}
		logger.Error("Callback processing failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": errInternal})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": msgCallbackReceived})
}

// HealthCheck handles health check requests
func (h *PaymentHandler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}
