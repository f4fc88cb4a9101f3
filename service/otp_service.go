package service

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"mpesa-stk-service/logging"
	"mpesa-stk-service/monitoring"
)

const (
	// StatusApproved is the only verification status treated as a match.
	StatusApproved = "approved"

	channelSMS = "sms"
)

// Verifier is an external phone verification provider. Codes, expiry and
// attempt limits live entirely on the provider side.
type Verifier interface {
	// SendVerification issues a code to phone and returns the provider's
	// tracking id.
	SendVerification(ctx context.Context, phone, channel string) (string, error)
	// CheckVerification returns the provider's status for phone and code.
	CheckVerification(ctx context.Context, phone, code string) (string, error)
}

// OTPService relays one-time passcode requests to a Verifier.
type OTPService struct {
	tracer   trace.Tracer
	verifier Verifier
	provider string
}

func NewOTPService(tracer trace.Tracer, verifier Verifier, provider string) *OTPService {
	return &OTPService{tracer: tracer, verifier: verifier, provider: provider}
}

// SendOTP asks the provider to text a code to phone.
func (s *OTPService) SendOTP(ctx context.Context, phone string) (string, error) {
	ctx, span := s.tracer.Start(ctx, "send_otp")
	defer span.End()

	logger := logging.WithTraceContext(span)

	start := time.Now()
	sid, err := s.verifier.SendVerification(ctx, phone, channelSMS)
	duration := time.Since(start).Seconds()

	if err != nil {
		s.record(ctx, "send", "error", duration)
		span.RecordError(err)
		span.SetStatus(codes.Error, "send otp failed")
		logger.Error("OTP send failed", zap.Error(err), zap.String("phone", logging.MaskPhone(phone)))
		return "", err
	}

	s.record(ctx, "send", "success", duration)
	span.SetAttributes(attribute.String("otp.sid", sid))
	logger.Info("OTP sent", zap.String("phone", logging.MaskPhone(phone)), zap.String("sid", sid))

	return sid, nil
}

// VerifyOTP reports whether the provider approved code for phone.
func (s *OTPService) VerifyOTP(ctx context.Context, phone, code string) (bool, error) {
	ctx, span := s.tracer.Start(ctx, "verify_otp")
	defer span.End()

	logger := logging.WithTraceContext(span)

	start := time.Now()
	status, err := s.verifier.CheckVerification(ctx, phone, code)
	duration := time.Since(start).Seconds()

	if err != nil {
		s.record(ctx, "verify", "error", duration)
		span.RecordError(err)
		span.SetStatus(codes.Error, "verify otp failed")
		logger.Error("OTP verification failed", zap.Error(err), zap.String("phone", logging.MaskPhone(phone)))
		return false, err
	}

	approved := status == StatusApproved
	outcome := "rejected"
	if approved {
		outcome = "approved"
	}
	s.record(ctx, "verify", outcome, duration)
	span.SetAttributes(attribute.String("otp.status", status))
	logger.Info("OTP checked", zap.String("phone", logging.MaskPhone(phone)), zap.String("status", status))

	return approved, nil
}

func (s *OTPService) record(ctx context.Context, operation, status string, seconds float64) {
	monitoring.OTPCounter.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("operation", operation),
			attribute.String("status", status),
		),
	)
	recordExternalCall(ctx, s.provider, operation, status, seconds)
}
