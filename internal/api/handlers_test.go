package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/punchamoorthee/payops/internal/auth"
	"github.com/punchamoorthee/payops/internal/domain"
	"github.com/punchamoorthee/payops/internal/logging"
	"github.com/punchamoorthee/payops/internal/notify"
	"github.com/punchamoorthee/payops/internal/provider"
	"github.com/punchamoorthee/payops/internal/ratelimit"
	"github.com/punchamoorthee/payops/internal/routing"
	"github.com/punchamoorthee/payops/internal/service"
	"github.com/punchamoorthee/payops/internal/store"
	"github.com/punchamoorthee/payops/internal/webhook"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const (
	clientSecret = "client-secret"
	paystackKey  = "sk_test_m1"
)

type checkoutAdapter struct {
	initErr error
}

func (c *checkoutAdapter) Name() string { return provider.Paystack }

func (c *checkoutAdapter) Initialize(_ context.Context, req provider.InitializeRequest) (*provider.InitializeResult, error) {
	if c.initErr != nil {
		return nil, c.initErr
	}
	return &provider.InitializeResult{ProviderReference: req.Reference, PaymentURL: "https://checkout.test/" + req.Reference, RawStatus: "ok"}, nil
}

func (c *checkoutAdapter) Verify(_ context.Context, reference string) (*provider.VerifyResult, error) {
	return &provider.VerifyResult{Reference: reference, Status: provider.StatusSuccess}, nil
}

func (c *checkoutAdapter) Refund(context.Context, string, int64) (*provider.RefundResult, error) {
	return &provider.RefundResult{}, nil
}

func (c *checkoutAdapter) ResolveAccount(context.Context, string, string) (string, error) {
	return "ADA OBI", nil
}

func (c *checkoutAdapter) Transfer(context.Context, provider.TransferRequest) (*provider.TransferResult, error) {
	return &provider.TransferResult{TransferReference: "T1", Status: "pending"}, nil
}

type fixture struct {
	server  *httptest.Server
	store   *store.Memory
	adapter *checkoutAdapter
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := logging.Discard()
	st := store.NewMemory()

	hash, err := bcrypt.GenerateFromPassword([]byte(clientSecret), bcrypt.MinCost)
	require.NoError(t, err)
	for _, c := range []struct{ id, merchant string }{{"client-1", "m1"}, {"client-2", "m2"}, {"client-limited", "m1"}} {
		st.PutAPIClient(domain.APIClient{ID: c.id, MerchantID: c.merchant, SecretHash: string(hash), Environment: domain.EnvSandbox, Active: true})
	}
	st.PutRateLimitPolicy(domain.RateLimitPolicy{ClientID: "client-limited", RequestsPerMinute: 2, RequestsPerHour: 100, RequestsPerDay: 100})
	st.PutCredential(domain.ProviderCredential{MerchantID: "m1", Provider: provider.Paystack, Environment: domain.EnvSandbox, SecretKey: paystackKey, Active: true})

	adapter := &checkoutAdapter{}
	reg := provider.NewRegistry()
	reg.Register(provider.Paystack, func(domain.ProviderCredential, provider.Options) provider.Adapter { return adapter }, provider.Options{})

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	engine := routing.NewEngine(reg, st, logger)
	settlement := service.NewSettlementService(st, decimal.RequireFromString("0.10"), "platform", nil, logger)
	h := NewHandler(Deps{
		Store:       st,
		Engine:      engine,
		Settlement:  settlement,
		Withdrawals: service.NewWithdrawalService(st, engine, 100, "platform", nil, logger),
		Webhooks:    webhook.NewProcessor(st, settlement, logger, false),
		Auth:        auth.NewAuthenticator(st, auth.NewTokenIssuer("test-secret", time.Hour)),
		Limiter:     ratelimit.NewLimiter(rdb, st, logger),
		Hub:         notify.NewHub(logger),
		Logger:      logger,
	})
	srv := httptest.NewServer(NewRouter(h))
	t.Cleanup(srv.Close)
	return &fixture{server: srv, store: st, adapter: adapter}
}

func (f *fixture) do(t *testing.T, method, path, clientID string, body any, headers ...string) (*http.Response, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		require.NoError(t, json.NewEncoder(&buf).Encode(b))
	}
	req, err := http.NewRequest(method, f.server.URL+path, &buf)
	require.NoError(t, err)
	if clientID != "" {
		req.Header.Set("X-Client-Id", clientID)
		req.Header.Set("X-Client-Secret", clientSecret)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func initBody() map[string]any {
	return map[string]any{"amount": 100000, "currency": "ngn", "email": "buyer@example.com", "provider": "paystack"}
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	resp, body := f.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])
}

func TestInitialize_RequiresAuth(t *testing.T) {
	f := newFixture(t)
	resp, _ := f.do(t, http.MethodPost, "/api/v1/payments/initialize", "", initBody())
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = f.do(t, http.MethodPost, "/api/v1/payments/initialize", "", initBody(), "X-Client-Id", "client-1", "X-Client-Secret", "nope")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestPaymentLifecycle(t *testing.T) {
	f := newFixture(t)

	resp, body := f.do(t, http.MethodPost, "/api/v1/payments/initialize", "client-1", initBody())
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	ref := body["reference"].(string)
	assert.Equal(t, "success", body["status"])
	assert.Equal(t, "https://checkout.test/"+ref, body["payment_url"])

	resp, body = f.do(t, http.MethodGet, "/api/v1/payments/"+ref, "client-1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "pending", body["status"])
	assert.NotContains(t, body, "email")

	hook := `{"event":"charge.success","data":{"reference":"` + ref + `","status":"success","amount":100000,"currency":"NGN"}}`
	sig := webhook.SignPaystack([]byte(hook), paystackKey)
	for i := 0; i < 3; i++ {
		resp, _ = f.do(t, http.MethodPost, "/webhooks/paystack", "", hook, "X-Paystack-Signature", sig)
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}

	resp, body = f.do(t, http.MethodGet, "/api/v1/wallets/ngn", "client-1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(90000), body["balance"])
	assert.Len(t, body["entries"], 2)

	resp, body = f.do(t, http.MethodGet, "/api/v1/payments/"+ref, "client-1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "settled", body["status"])

	// other merchants cannot see it
	resp, _ = f.do(t, http.MethodGet, "/api/v1/payments/"+ref, "client-2", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestWebhook_RejectsBadSignature(t *testing.T) {
	f := newFixture(t)
	_, body := f.do(t, http.MethodPost, "/api/v1/payments/initialize", "client-1", initBody())
	ref := body["reference"].(string)

	hook := `{"event":"charge.success","data":{"reference":"` + ref + `","status":"success"}}`
	resp, _ := f.do(t, http.MethodPost, "/webhooks/paystack", "", hook, "X-Paystack-Signature", "deadbeef")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	intent, err := f.store.GetIntent(context.Background(), ref)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, intent.Status)

	resp, _ = f.do(t, http.MethodPost, "/webhooks/stripe", "", hook)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp, _ = f.do(t, http.MethodPost, "/webhooks/paystack", "", "{")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestInitialize_Validation(t *testing.T) {
	f := newFixture(t)

	resp, _ := f.do(t, http.MethodPost, "/api/v1/payments/initialize", "client-1", "{not json")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	bad := initBody()
	bad["email"] = "not-an-email"
	resp, body := f.do(t, http.MethodPost, "/api/v1/payments/initialize", "client-1", bad)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Equal(t, "error", body["status"])

	bad = initBody()
	bad["amount"] = 0
	resp, _ = f.do(t, http.MethodPost, "/api/v1/payments/initialize", "client-1", bad)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	bad = initBody()
	bad["provider"] = "stripe"
	resp, _ = f.do(t, http.MethodPost, "/api/v1/payments/initialize", "client-1", bad)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	// m2 has no credential
	resp, _ = f.do(t, http.MethodPost, "/api/v1/payments/initialize", "client-2", initBody())
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}

func TestInitialize_ProviderFailureIsGeneric(t *testing.T) {
	f := newFixture(t)
	f.adapter.initErr = &provider.Error{Provider: provider.Paystack, Op: "initialize", Kind: provider.KindRejected, Message: "Invalid key sk_test_m1"}

	resp, body := f.do(t, http.MethodPost, "/api/v1/payments/initialize", "client-1", initBody())
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.NotContains(t, body["message"], "sk_test")
}

func TestInitialize_ReferenceReplayAndConflict(t *testing.T) {
	f := newFixture(t)
	req := initBody()
	req["reference"] = "ORDER-1"

	resp, first := f.do(t, http.MethodPost, "/api/v1/payments/initialize", "client-1", req)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, second := f.do(t, http.MethodPost, "/api/v1/payments/initialize", "client-1", req)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, first["payment_url"], second["payment_url"])

	req["amount"] = 5
	resp, _ = f.do(t, http.MethodPost, "/api/v1/payments/initialize", "client-1", req)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestRateLimit(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 2; i++ {
		resp, _ := f.do(t, http.MethodGet, "/api/v1/wallets/NGN", "client-limited", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}
	resp, body := f.do(t, http.MethodGet, "/api/v1/wallets/NGN", "client-limited", nil)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("Retry-After"))
	assert.Equal(t, "Rate limit exceeded", body["message"])

	// other clients are unaffected
	resp, _ = f.do(t, http.MethodGet, "/api/v1/wallets/NGN", "client-1", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestTokenAuth(t *testing.T) {
	f := newFixture(t)

	resp, body := f.do(t, http.MethodPost, "/api/v1/auth/token", "", map[string]string{"client_id": "client-1", "client_secret": clientSecret})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	token := body["token"].(string)
	assert.Equal(t, "Bearer", body["token_type"])

	resp, _ = f.do(t, http.MethodGet, "/api/v1/wallets/NGN", "", nil, "Authorization", "Bearer "+token)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = f.do(t, http.MethodGet, "/api/v1/wallets/NGN", "", nil, "Authorization", "Bearer "+token+"x")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = f.do(t, http.MethodPost, "/api/v1/auth/token", "", map[string]string{"client_id": "client-1", "client_secret": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestVerifyPayment(t *testing.T) {
	f := newFixture(t)
	_, body := f.do(t, http.MethodPost, "/api/v1/payments/initialize", "client-1", initBody())
	ref := body["reference"].(string)

	resp, body := f.do(t, http.MethodPost, "/api/v1/payments/"+ref+"/verify", "client-1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "settled", body["outcome"])

	resp, body = f.do(t, http.MethodPost, "/api/v1/payments/"+ref+"/verify", "client-1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "duplicate", body["outcome"])
}

func TestWithdrawal(t *testing.T) {
	f := newFixture(t)
	_, body := f.do(t, http.MethodPost, "/api/v1/payments/initialize", "client-1", initBody())
	ref := body["reference"].(string)
	resp, _ := f.do(t, http.MethodPost, "/api/v1/payments/"+ref+"/verify", "client-1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	wd := map[string]any{"amount": 50000, "currency": "NGN", "provider": "paystack", "account_number": "0690000031", "bank_code": "044"}
	resp, body = f.do(t, http.MethodPost, "/api/v1/withdrawals", "client-1", wd)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "completed", body["status"])

	wd["amount"] = 1000000
	resp, _ = f.do(t, http.MethodPost, "/api/v1/withdrawals", "client-1", wd)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	w, err := f.store.GetWallet(context.Background(), "m1", "NGN")
	require.NoError(t, err)
	assert.Equal(t, int64(90000-50000-100), w.Balance)
}
