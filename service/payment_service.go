package service

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"mpesa-stk-service/config"
	"mpesa-stk-service/logging"
	"mpesa-stk-service/models"
	"mpesa-stk-service/monitoring"
)

const timestampLayout = "20060102150405"

const defaultAmount = json.Number("1")

// STKPusher submits a prepared payload to the payment provider.
type STKPusher interface {
	STKPush(ctx context.Context, payload *models.STKPushPayload) (map[string]any, error)
}

// PaymentService builds and relays STK push requests.
type PaymentService struct {
	tracer   trace.Tracer
	provider STKPusher
	cfg      config.MpesaConfig
	location *time.Location
	now      func() time.Time
}

// NewPaymentService creates a new payment service
func NewPaymentService(tracer trace.Tracer, provider STKPusher, cfg config.MpesaConfig) *PaymentService {
	return &PaymentService{
		tracer:   tracer,
		provider: provider,
		cfg:      cfg,
		location: cfg.Location(),
		now:      time.Now,
	}
}

// InitiateSTKPush sends a payment prompt to the customer's phone and returns
// the provider's response fields.
func (s *PaymentService) InitiateSTKPush(ctx context.Context, req *models.STKPushRequest) (map[string]any, error) {
	ctx, span := s.tracer.Start(ctx, "stk_push")
	defer span.End()

	payload := s.BuildPayload(req, s.now())

	phone := logging.MaskPhone(payload.PhoneNumber)
	span.SetAttributes(
		attribute.String("payment.phone", phone),
		attribute.String("payment.amount", fmt.Sprint(payload.Amount)),
		attribute.String("payment.timestamp", payload.Timestamp),
	)

	logger := logging.WithTraceContext(span)
	logger.Info("STK push request received",
		zap.String("phone", phone),
		zap.Any("amount", payload.Amount),
		zap.String("account_reference", payload.AccountReference),
	)

	resp, err := s.provider.STKPush(ctx, payload)
	if err != nil {
		logger.Error("STK push failed",
			zap.Error(err),
			zap.Any("provider_error", ProviderDetail(err)),
			zap.String("phone", phone),
		)
		monitoring.STKPushCounter.Add(ctx, 1,
			metric.WithAttributes(attribute.String("status", "failed")),
		)
		span.RecordError(err)
		span.SetStatus(codes.Error, "stk push failed")
		return nil, err
	}

	monitoring.STKPushCounter.Add(ctx, 1,
		metric.WithAttributes(attribute.String("status", "success")),
	)
	if amount, err := decimal.NewFromString(fmt.Sprint(payload.Amount)); err == nil {
		monitoring.STKPushAmount.Record(ctx, amount.InexactFloat64())
	}

	if id, ok := resp["CheckoutRequestID"].(string); ok {
		span.SetAttributes(attribute.String("payment.checkout_request_id", id))
	}
	logger.Info("STK push accepted by provider", zap.Any("response", resp))

	return resp, nil
}

// BuildPayload fills in defaults and signs the request for the given instant.
// An unset amount (see models.IsSet) becomes 1 and an unset phone becomes the
// sandbox number. Supplied values are forwarded as sent; the provider rejects
// ones it cannot use.
func (s *PaymentService) BuildPayload(req *models.STKPushRequest, at time.Time) *models.STKPushPayload {
	var amount any = defaultAmount
	var phone any = s.cfg.SandboxPhone
	if req != nil {
		if models.IsSet(req.Amount) {
			amount = req.Amount
		}
		if models.IsSet(req.Phone) {
			phone = req.Phone
		}
	}

	timestamp := Timestamp(at.In(s.location))

	return &models.STKPushPayload{
		BusinessShortCode: s.cfg.BusinessShortCode,
		Password:          Password(s.cfg.BusinessShortCode, s.cfg.Passkey, timestamp),
		Timestamp:         timestamp,
		TransactionType:   models.TransactionTypePayBill,
		Amount:            amount,
		PartyA:            phone,
		PartyB:            s.cfg.BusinessShortCode,
		PhoneNumber:       phone,
		CallBackURL:       s.cfg.CallbackURL,
		AccountReference:  s.cfg.AccountReference,
		TransactionDesc:   s.cfg.TransactionDesc,
	}
}

// Timestamp formats t as YYYYMMDDHHmmss.
func Timestamp(t time.Time) string {
	return t.Format(timestampLayout)
}

// Password is base64(shortCode + passkey + timestamp).
func Password(shortCode, passkey, timestamp string) string {
	return base64.StdEncoding.EncodeToString([]byte(shortCode + passkey + timestamp))
}
