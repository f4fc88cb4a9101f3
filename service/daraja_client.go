package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"mpesa-stk-service/config"
	"mpesa-stk-service/logging"
	"mpesa-stk-service/models"
	"mpesa-stk-service/monitoring"
)

const (
	providerMpesa = "mpesa"

	tokenPath   = "/oauth/v1/generate?grant_type=client_credentials"
	stkPushPath = "/mpesa/stkpush/v1/processrequest"

	// Tokens are dropped this long before Daraja says they expire.
	tokenExpiryMargin = time.Minute
	// Daraja issues one-hour tokens; used when expires_in is unreadable.
	defaultTokenLifetime = 3599 * time.Second
)

// DarajaClient talks to the Safaricom Daraja API.
type DarajaClient struct {
	baseURL        string
	consumerKey    string
	consumerSecret string
	httpClient     *http.Client
	tokens         TokenCache
	now            func() time.Time
}

// NewDarajaClient creates a client for cfg. tokens may be nil, in which case
// a fresh token is fetched for every call.
func NewDarajaClient(cfg config.MpesaConfig, tokens TokenCache) *DarajaClient {
	return &DarajaClient{
		baseURL:        strings.TrimRight(cfg.BaseURL, "/"),
		consumerKey:    cfg.ConsumerKey,
		consumerSecret: cfg.ConsumerSecret,
		httpClient: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
			Timeout:   cfg.HTTPTimeout,
		},
		tokens: tokens,
		now:    time.Now,
	}
}

// AccessToken returns a bearer token that is valid right now, from the cache
// when possible.
func (c *DarajaClient) AccessToken(ctx context.Context) (string, error) {
	logger := logging.FromContext(ctx)

	if c.tokens != nil {
		cached, ok, err := c.tokens.Get(ctx)
		if err != nil {
			logger.Warn("Token cache read failed", zap.Error(err))
		} else if ok && cached.Valid(c.now()) {
			return cached.Value, nil
		}
	}

	token, err := c.fetchAccessToken(ctx)
	if err != nil {
		return "", err
	}

	if c.tokens != nil {
		if err := c.tokens.Set(ctx, token); err != nil {
			logger.Warn("Token cache write failed", zap.Error(err))
		}
	}
	return token.Value, nil
}

func (c *DarajaClient) fetchAccessToken(ctx context.Context) (models.AccessToken, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+tokenPath, nil)
	if err != nil {
		return models.AccessToken{}, err
	}
	req.SetBasicAuth(c.consumerKey, c.consumerSecret)

	issuedAt := c.now()
	body, err := c.do(ctx, "access_token", req)
	if err != nil {
		return models.AccessToken{}, err
	}

	var resp models.AccessTokenResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return models.AccessToken{}, fmt.Errorf("decode access token: %w", err)
	}
	if resp.AccessToken == "" {
		return models.AccessToken{}, errors.New("mpesa access_token missing from response")
	}

	lifetime := defaultTokenLifetime
	if secs, err := resp.ExpiresIn.Int64(); err == nil && secs > 0 {
		lifetime = time.Duration(secs) * time.Second
	}

	return models.AccessToken{
		Value:     resp.AccessToken,
		ExpiresAt: issuedAt.Add(lifetime - tokenExpiryMargin),
	}, nil
}

// STKPush submits payload to the processrequest endpoint and returns the
// provider's response fields.
func (c *DarajaClient) STKPush(ctx context.Context, payload *models.STKPushPayload) (map[string]any, error) {
	token, err := c.AccessToken(ctx)
	if err != nil {
		return nil, fmt.Errorf("get access token: %w", err)
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+stkPushPath, bytes.NewReader(jsonData))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	body, err := c.do(ctx, "stk_push", req)
	if err != nil {
		return nil, err
	}

	fields := map[string]any{}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&fields); err != nil {
		return nil, fmt.Errorf("decode stk push response: %w", err)
	}
	return fields, nil
}

// do sends req and returns the response body. Non-2xx statuses become a
// *ProviderError carrying the body.
func (c *DarajaClient) do(ctx context.Context, operation string, req *http.Request) ([]byte, error) {
	// otelhttp.NewTransport already instruments HTTP calls - just add custom attributes
	span := trace.SpanFromContext(ctx)
	span.SetAttributes(
		attribute.String("external.service", providerMpesa),
		attribute.String("external.operation", operation),
	)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	duration := time.Since(start).Seconds()

	if err != nil {
		recordExternalCall(ctx, providerMpesa, operation, "error", duration)
		span.SetAttributes(attribute.String("external.status", "error"))
		return nil, fmt.Errorf("failed to call mpesa %s: %w", operation, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		recordExternalCall(ctx, providerMpesa, operation, "error", duration)
		return nil, fmt.Errorf("read mpesa %s response: %w", operation, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		recordExternalCall(ctx, providerMpesa, operation, "failed", duration)
		span.SetAttributes(
			attribute.Int("external.status_code", resp.StatusCode),
			attribute.String("external.status", "failed"),
		)
		return nil, &ProviderError{
			Provider:   providerMpesa,
			Operation:  operation,
			StatusCode: resp.StatusCode,
			Body:       body,
		}
	}

	recordExternalCall(ctx, providerMpesa, operation, "success", duration)
	span.SetAttributes(attribute.String("external.status", "success"))
	return body, nil
}

func recordExternalCall(ctx context.Context, provider, operation, status string, seconds float64) {
	monitoring.ExternalCallDuration.Record(ctx, seconds,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("operation", operation),
			attribute.String("status", status),
		),
	)
}
