package webhook

import (
	"context"
	"net/http"
	"testing"

	"github.com/punchamoorthee/payops/internal/domain"
	"github.com/punchamoorthee/payops/internal/logging"
	"github.com/punchamoorthee/payops/internal/provider"
	"github.com/punchamoorthee/payops/internal/service"
	"github.com/punchamoorthee/payops/internal/store"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	secretKey   = "sk_test_merchant"
	flwHash     = "flw-secret-hash"
	successBody = `{"event":"charge.success","data":{"reference":"PAY-abc","status":"success","amount":100000,"currency":"NGN"}}`
)

func newProcessor(t *testing.T, allowUnverified bool) (*Processor, *store.Memory) {
	t.Helper()
	st := store.NewMemory()
	st.PutCredential(domain.ProviderCredential{MerchantID: "m1", Provider: provider.Paystack, Environment: domain.EnvSandbox, SecretKey: secretKey, Active: true})
	st.PutCredential(domain.ProviderCredential{MerchantID: "m1", Provider: provider.Flutterwave, Environment: domain.EnvSandbox, SecretKey: "flw", WebhookSecret: flwHash, Active: true})
	for ref, name := range map[string]string{"PAY-abc": provider.Paystack, "PAY-flw": provider.Flutterwave} {
		require.NoError(t, st.CreateIntent(context.Background(), &domain.PaymentIntent{
			Reference: ref, MerchantID: "m1", Provider: name, Environment: domain.EnvSandbox,
			Amount: 100000, Currency: "NGN", Status: domain.StatusPending,
		}))
	}
	settler := service.NewSettlementService(st, decimal.RequireFromString("0.1"), "platform", nil, logging.Discard())
	return NewProcessor(st, settler, logging.Discard(), allowUnverified), st
}

func paystackHeaders(body string) http.Header {
	h := http.Header{}
	h.Set("X-Paystack-Signature", SignPaystack([]byte(body), secretKey))
	return h
}

func TestHandle_SettlesSignedWebhook(t *testing.T) {
	p, st := newProcessor(t, false)

	res, err := p.Handle(context.Background(), "paystack", []byte(successBody), paystackHeaders(successBody))
	require.NoError(t, err)
	assert.Equal(t, service.OutcomeSettled, res.Outcome)
	assert.NoError(t, res.SettleErr)

	intent, err := st.GetIntent(context.Background(), "PAY-abc")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSettled, intent.Status)

	events := st.WebhookEvents()
	require.Len(t, events, 1)
	assert.True(t, events[0].SignatureValid)
	assert.Equal(t, "PAY-abc", events[0].Reference)
}

func TestHandle_DuplicateDeliveries(t *testing.T) {
	p, st := newProcessor(t, false)

	for i := 0; i < 5; i++ {
		res, err := p.Handle(context.Background(), "paystack", []byte(successBody), paystackHeaders(successBody))
		require.NoError(t, err)
		if i == 0 {
			assert.Equal(t, service.OutcomeSettled, res.Outcome)
		} else {
			assert.Equal(t, service.OutcomeDuplicate, res.Outcome)
		}
	}
	assert.Len(t, st.AllEntries(), 3)

	events := st.WebhookEvents()
	require.Len(t, events, 1)
	assert.Equal(t, 5, events[0].Deliveries)
}

func TestHandle_TamperedSignatureChangesNothing(t *testing.T) {
	p, st := newProcessor(t, false)
	headers := paystackHeaders(successBody)
	tampered := `{"event":"charge.success","data":{"reference":"PAY-abc","status":"success","amount":100000,"currency":"NGN","fees":0}}`

	_, err := p.Handle(context.Background(), "paystack", []byte(tampered), headers)
	assert.ErrorIs(t, err, ErrSignature)

	_, err = p.Handle(context.Background(), "paystack", []byte(successBody), http.Header{})
	assert.ErrorIs(t, err, ErrSignature)

	intent, err := st.GetIntent(context.Background(), "PAY-abc")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, intent.Status)
	assert.Empty(t, st.AllEntries())

	for _, ev := range st.WebhookEvents() {
		assert.False(t, ev.SignatureValid)
	}
}

func TestHandle_InactiveCredentialCannotSign(t *testing.T) {
	p, st := newProcessor(t, false)
	st.PutCredential(domain.ProviderCredential{MerchantID: "m1", Provider: provider.Paystack, Environment: domain.EnvSandbox, SecretKey: secretKey, Active: false})

	_, err := p.Handle(context.Background(), "paystack", []byte(successBody), paystackHeaders(successBody))
	assert.ErrorIs(t, err, ErrSignature)

	intent, err := st.GetIntent(context.Background(), "PAY-abc")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, intent.Status)
	assert.Empty(t, st.AllEntries())
}

func TestHandle_BypassOnlyWhenAllowed(t *testing.T) {
	p, st := newProcessor(t, true)
	res, err := p.Handle(context.Background(), "paystack", []byte(successBody), http.Header{})
	require.NoError(t, err)
	assert.Equal(t, service.OutcomeSettled, res.Outcome)
	assert.Len(t, st.AllEntries(), 3)
}

func TestHandle_Flutterwave(t *testing.T) {
	p, st := newProcessor(t, false)
	body := `{"event":"charge.completed","data":{"tx_ref":"PAY-flw","status":"successful","amount":1000,"currency":"NGN"}}`

	bad := http.Header{}
	bad.Set("verif-hash", "wrong")
	_, err := p.Handle(context.Background(), "flutterwave", []byte(body), bad)
	assert.ErrorIs(t, err, ErrSignature)

	good := http.Header{}
	good.Set("verif-hash", flwHash)
	res, err := p.Handle(context.Background(), "flutterwave", []byte(body), good)
	require.NoError(t, err)
	assert.Equal(t, service.OutcomeSettled, res.Outcome)

	w, err := st.GetWallet(context.Background(), "m1", "NGN")
	require.NoError(t, err)
	assert.Equal(t, int64(90000), w.Balance)
}

func TestHandle_Rejections(t *testing.T) {
	p, _ := newProcessor(t, false)

	_, err := p.Handle(context.Background(), "stripe", []byte(successBody), nil)
	assert.ErrorIs(t, err, provider.ErrUnknownProvider)

	_, err = p.Handle(context.Background(), "paystack", []byte(`not json`), http.Header{})
	assert.ErrorIs(t, err, ErrMalformed)

	unknown := `{"event":"charge.success","data":{"reference":"PAY-zzz","status":"success"}}`
	_, err = p.Handle(context.Background(), "paystack", []byte(unknown), paystackHeaders(unknown))
	assert.ErrorIs(t, err, ErrUnknownReference)

	// a Paystack delivery for a Flutterwave intent
	cross := `{"event":"charge.success","data":{"reference":"PAY-flw","status":"success"}}`
	_, err = p.Handle(context.Background(), "paystack", []byte(cross), paystackHeaders(cross))
	assert.ErrorIs(t, err, ErrProviderMismatch)
}

func TestHandle_IgnoresIrrelevantEvents(t *testing.T) {
	p, st := newProcessor(t, false)
	body := `{"event":"subscription.create","data":{"reference":"PAY-abc"}}`

	res, err := p.Handle(context.Background(), "paystack", []byte(body), http.Header{})
	require.NoError(t, err)
	assert.Equal(t, service.OutcomeIgnored, res.Outcome)

	intent, err := st.GetIntent(context.Background(), "PAY-abc")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, intent.Status)
	assert.Len(t, st.WebhookEvents(), 1)
}

func TestHandle_AmountMismatchStillAcknowledged(t *testing.T) {
	p, st := newProcessor(t, false)
	body := `{"event":"charge.success","data":{"reference":"PAY-abc","status":"success","amount":100,"currency":"NGN"}}`

	res, err := p.Handle(context.Background(), "paystack", []byte(body), paystackHeaders(body))
	require.NoError(t, err)
	assert.Equal(t, service.OutcomeFailed, res.Outcome)

	intent, err := st.GetIntent(context.Background(), "PAY-abc")
	require.NoError(t, err)
	assert.Equal(t, service.ReasonAmountMismatch, intent.FailureReason)
}
