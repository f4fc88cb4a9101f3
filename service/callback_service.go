package service

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"mpesa-stk-service/logging"
	"mpesa-stk-service/models"
	"mpesa-stk-service/monitoring"
)

// CallbackService interprets STK result notifications. Results are logged,
// never stored.
//
// Callbacks are not authenticated: anyone who can reach the endpoint can post
// a success result.
type CallbackService struct {
	tracer trace.Tracer
}

func NewCallbackService(tracer trace.Tracer) *CallbackService {
	return &CallbackService{tracer: tracer}
}

// ProcessCallback extracts the result of one push-payment attempt. It returns
// ErrInvalidCallback when the envelope has no stkCallback; every other shape
// is accepted.
func (s *CallbackService) ProcessCallback(ctx context.Context, env *models.CallbackEnvelope) (*models.CallbackResult, error) {
	_, span := s.tracer.Start(ctx, "process_callback")
	defer span.End()

	logger := logging.WithTraceContext(span)

	if env == nil || env.Body == nil || env.Body.StkCallback == nil {
		monitoring.CallbackCounter.Add(ctx, 1,
			metric.WithAttributes(attribute.String("result", "invalid")),
		)
		logger.Warn("Callback rejected: missing Body.stkCallback")
		return nil, ErrInvalidCallback
	}

	cb := env.Body.StkCallback
	result := &models.CallbackResult{
		CheckoutRequestID: cb.CheckoutRequestID,
		ResultCode:        cb.ResultCode,
		ResultDesc:        cb.ResultDesc,
		Success:           cb.Succeeded(),
	}
	checkoutID := text(cb.CheckoutRequestID)

	span.SetAttributes(
		attribute.String("payment.checkout_request_id", checkoutID),
		attribute.Bool("payment.success", result.Success),
	)

	if !result.Success {
		monitoring.CallbackCounter.Add(ctx, 1,
			metric.WithAttributes(attribute.String("result", "failed")),
		)
		logger.Info("Payment failed",
			zap.String("result_code", formatResultCode(cb.ResultCode)),
			zap.String("result_desc", text(cb.ResultDesc)),
			zap.String("checkout_request_id", checkoutID),
		)
		return result, nil
	}

	result.ReceiptNumber = cb.CallbackMetadata.Lookup(models.MetadataReceiptNumber)
	result.Amount = cb.CallbackMetadata.Lookup(models.MetadataAmount)
	result.PhoneNumber = cb.CallbackMetadata.Lookup(models.MetadataPhoneNumber)

	monitoring.CallbackCounter.Add(ctx, 1,
		metric.WithAttributes(attribute.String("result", "success")),
	)
	logger.Info("Payment success",
		zap.String("phone", logging.MaskPhone(result.PhoneNumber)),
		zap.String("amount", text(result.Amount)),
		zap.String("receipt", text(result.ReceiptNumber)),
		zap.String("checkout_request_id", checkoutID),
	)

	return result, nil
}

func formatResultCode(code any) string {
	if code == nil {
		return "missing"
	}
	return text(code)
}

// text renders a loosely typed callback field for logs and span attributes.
func text(v any) string {
	if v == nil {
		return ""
	}
	return fmt.Sprint(v)
}
