package service

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mpesa-stk-service/config"
	"mpesa-stk-service/models"
)

const (
	testConsumerKey    = "consumer-key"
	testConsumerSecret = "consumer-secret"
)

// fakeDaraja serves the token and processrequest endpoints and counts calls.
type fakeDaraja struct {
	tokenCalls atomic.Int32
	pushCalls  atomic.Int32

	tokenStatus int
	tokenBody   string
	pushStatus  int
	pushBody    string

	lastAuth    atomic.Value
	lastPayload atomic.Value
}

func newFakeDaraja() *fakeDaraja {
	return &fakeDaraja{
		tokenStatus: http.StatusOK,
		tokenBody:   `{"access_token":"tok-123","expires_in":"3599"}`,
		pushStatus:  http.StatusOK,
		pushBody:    `{"MerchantRequestID":"m-1","CheckoutRequestID":"ws_CO_1","ResponseCode":"0","ResponseDescription":"Success. Request accepted for processing","CustomerMessage":"Success. Request accepted for processing"}`,
	}
}

func (f *fakeDaraja) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	switch r.URL.Path {
	case "/oauth/v1/generate":
		f.tokenCalls.Add(1)
		f.lastAuth.Store(r.Header.Get("Authorization"))
		if r.Method != http.MethodGet || r.URL.Query().Get("grant_type") != "client_credentials" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.WriteHeader(f.tokenStatus)
		w.Write([]byte(f.tokenBody))
	case "/mpesa/stkpush/v1/processrequest":
		f.pushCalls.Add(1)
		f.lastAuth.Store(r.Header.Get("Authorization"))
		var payload models.STKPushPayload
		if err := json.NewDecoder(r.Body).Decode(&payload); err == nil {
			f.lastPayload.Store(payload)
		}
		w.WriteHeader(f.pushStatus)
		w.Write([]byte(f.pushBody))
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func newTestDarajaClient(t *testing.T, fake *fakeDaraja, tokens TokenCache) *DarajaClient {
	t.Helper()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	return NewDarajaClient(config.MpesaConfig{
		BaseURL:        srv.URL + "/",
		ConsumerKey:    testConsumerKey,
		ConsumerSecret: testConsumerSecret,
		HTTPTimeout:    5 * time.Second,
	}, tokens)
}

func TestAccessToken_UsesBasicAuth(t *testing.T) {
	fake := newFakeDaraja()
	client := newTestDarajaClient(t, fake, nil)

	token, err := client.AccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok-123", token)

	want := "Basic " + base64.StdEncoding.EncodeToString([]byte(testConsumerKey+":"+testConsumerSecret))
	assert.Equal(t, want, fake.lastAuth.Load())
}

func TestAccessToken_WithoutCacheFetchesEveryTime(t *testing.T) {
	fake := newFakeDaraja()
	client := newTestDarajaClient(t, fake, nil)

	for i := 0; i < 3; i++ {
		_, err := client.AccessToken(context.Background())
		require.NoError(t, err)
	}
	assert.Equal(t, int32(3), fake.tokenCalls.Load())
}

func TestAccessToken_CachedUntilExpiry(t *testing.T) {
	fake := newFakeDaraja()
	client := newTestDarajaClient(t, fake, NewMemoryTokenCache())

	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	client.now = func() time.Time { return now }

	_, err := client.AccessToken(context.Background())
	require.NoError(t, err)
	_, err = client.AccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(1), fake.tokenCalls.Load())

	// still inside the margin before expires_in
	now = now.Add(3599*time.Second - tokenExpiryMargin - time.Second)
	_, err = client.AccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(1), fake.tokenCalls.Load())

	now = now.Add(time.Second)
	_, err = client.AccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(2), fake.tokenCalls.Load())
}

func TestAccessToken_ShortLifetimeIsNotReused(t *testing.T) {
	fake := newFakeDaraja()
	fake.tokenBody = `{"access_token":"tok-short","expires_in":"30"}`
	client := newTestDarajaClient(t, fake, NewMemoryTokenCache())

	_, err := client.AccessToken(context.Background())
	require.NoError(t, err)
	_, err = client.AccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(2), fake.tokenCalls.Load())
}

type failingCache struct{}

func (failingCache) Get(context.Context) (models.AccessToken, bool, error) {
	return models.AccessToken{}, false, errors.New("cache down")
}

func (failingCache) Set(context.Context, models.AccessToken) error {
	return errors.New("cache down")
}

func TestAccessToken_CacheErrorsFallBackToFetch(t *testing.T) {
	fake := newFakeDaraja()
	client := newTestDarajaClient(t, fake, failingCache{})

	token, err := client.AccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok-123", token)
}

func TestAccessToken_ProviderError(t *testing.T) {
	fake := newFakeDaraja()
	fake.tokenStatus = http.StatusBadRequest
	fake.tokenBody = `{"errorCode":"400.008.01","errorMessage":"Invalid Authentication passed"}`
	client := newTestDarajaClient(t, fake, nil)

	_, err := client.AccessToken(context.Background())
	require.Error(t, err)

	var perr *ProviderError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, http.StatusBadRequest, perr.StatusCode)
	assert.Equal(t, "access_token", perr.Operation)
	assert.Equal(t, map[string]any{
		"errorCode":    "400.008.01",
		"errorMessage": "Invalid Authentication passed",
	}, perr.Detail())
}

func TestAccessToken_MissingTokenField(t *testing.T) {
	fake := newFakeDaraja()
	fake.tokenBody = `{"expires_in":"3599"}`
	client := newTestDarajaClient(t, fake, nil)

	_, err := client.AccessToken(context.Background())
	require.Error(t, err)
}

func TestSTKPush_SendsBearerTokenAndPayload(t *testing.T) {
	fake := newFakeDaraja()
	client := newTestDarajaClient(t, fake, nil)

	payload := &models.STKPushPayload{
		BusinessShortCode: "174379",
		Password:          "pw",
		Timestamp:         "20240501120000",
		TransactionType:   models.TransactionTypePayBill,
		Amount:            "10",
		PartyA:            "254700000000",
		PartyB:            "174379",
		PhoneNumber:       "254700000000",
		CallBackURL:       "https://example.com/callback",
		AccountReference:  "Ref",
		TransactionDesc:   "Desc",
	}

	resp, err := client.STKPush(context.Background(), payload)
	require.NoError(t, err)

	assert.Equal(t, "Bearer tok-123", fake.lastAuth.Load())
	assert.Equal(t, *payload, fake.lastPayload.Load())
	assert.Equal(t, "ws_CO_1", resp["CheckoutRequestID"])
	assert.Equal(t, "0", resp["ResponseCode"])
}

func TestSTKPush_ProviderErrorCarriesBody(t *testing.T) {
	fake := newFakeDaraja()
	fake.pushStatus = http.StatusBadRequest
	fake.pushBody = `{"requestId":"r-1","errorCode":"400.002.02","errorMessage":"Bad Request - Invalid Amount"}`
	client := newTestDarajaClient(t, fake, nil)

	_, err := client.STKPush(context.Background(), &models.STKPushPayload{Amount: "1"})
	require.Error(t, err)

	detail, ok := ProviderDetail(err).(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "Bad Request - Invalid Amount", detail["errorMessage"])
}

func TestSTKPush_TokenFailureStopsBeforePush(t *testing.T) {
	fake := newFakeDaraja()
	fake.tokenStatus = http.StatusUnauthorized
	fake.tokenBody = ""
	client := newTestDarajaClient(t, fake, nil)

	_, err := client.STKPush(context.Background(), &models.STKPushPayload{Amount: "1"})
	require.Error(t, err)
	assert.Equal(t, int32(0), fake.pushCalls.Load())
	assert.Nil(t, ProviderDetail(err))
}

func TestSTKPush_NetworkError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()

	client := NewDarajaClient(config.MpesaConfig{BaseURL: srv.URL, HTTPTimeout: time.Second}, nil)

	_, err := client.STKPush(context.Background(), &models.STKPushPayload{Amount: "1"})
	require.Error(t, err)
	assert.Nil(t, ProviderDetail(err))
}
