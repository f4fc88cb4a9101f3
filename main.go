package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"go.uber.org/zap"

	"mpesa-stk-service/config"
	"mpesa-stk-service/handlers"
	"mpesa-stk-service/logging"
	"mpesa-stk-service/monitoring"
	"mpesa-stk-service/service"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	// Initialize structured logging
	if err := logging.InitLogger(logging.Options{
		ServiceName:  cfg.ServiceName,
		Level:        cfg.LogLevel,
		OTELEndpoint: cfg.OTELEndpoint,
	}); err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	defer logging.Sync()
	defer func() {
		if err := logging.Shutdown(context.Background()); err != nil {
			logging.Error("Error shutting down logger provider", zap.Error(err))
		}
	}()

	// Initialize OpenTelemetry
	tp, tracer, err := monitoring.InitTracer(cfg.ServiceName, cfg.OTELEndpoint)
	if err != nil {
		logging.Fatal("Failed to initialize tracer", zap.Error(err))
	}
	defer func() {
		if err := tp.Shutdown(context.Background()); err != nil {
			logging.Error("Error shutting down tracer provider", zap.Error(err))
		}
	}()

	mp, metricsHandler, err := monitoring.InitMeter(cfg.ServiceName, cfg.OTELEndpoint)
	if err != nil {
		logging.Fatal("Failed to initialize meter", zap.Error(err))
	}
	defer func() {
		if err := mp.Shutdown(context.Background()); err != nil {
			logging.Error("Error shutting down meter provider", zap.Error(err))
		}
	}()

	// Token cache: Redis when configured, otherwise process memory
	var tokens service.TokenCache = service.NewMemoryTokenCache()
	if cfg.Redis.URL != "" {
		redisClient, err := service.NewRedisClient(context.Background(), cfg.Redis)
		if err != nil {
			logging.Fatal("Failed to connect to redis", zap.Error(err))
		}
		defer redisClient.Close()
		tokens = service.NewRedisTokenCache(redisClient, cfg.Mpesa.ConsumerKey)
		logging.Info("Using redis token cache")
	}

	// Initialize service layer
	daraja := service.NewDarajaClient(cfg.Mpesa, tokens)
	paymentService := service.NewPaymentService(tracer, daraja, cfg.Mpesa)
	callbackService := service.NewCallbackService(tracer)

	// Initialize handlers
	routerOpts := handlers.RouterOptions{
		ServiceName: cfg.ServiceName,
		Payments:    handlers.NewPaymentHandler(paymentService, callbackService),
		Metrics:     metricsHandler,
	}

	if cfg.OTPEnabled() {
		verifier := service.NewTwilioVerifier(cfg.Twilio)
		otpService := service.NewOTPService(tracer, verifier, service.ProviderTwilio)
		routerOpts.OTP = handlers.NewOTPHandler(otpService)
	} else {
		logging.Warn("Twilio Verify not configured, OTP routes disabled")
	}

	// Setup Gin router
	r := handlers.NewRouter(routerOpts)

	srv := &http.Server{
		Addr:              net.JoinHostPort("0.0.0.0", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Start server
	go func() {
		logging.Info("M-Pesa STK server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logging.Info("Shutting down gracefully")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Error("Server shutdown failed", zap.Error(err))
	}
}
