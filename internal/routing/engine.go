package routing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/punchamoorthee/payops/internal/domain"
	"github.com/punchamoorthee/payops/internal/provider"
	"github.com/punchamoorthee/payops/internal/store"
)

var (
	ErrMissingCredential = errors.New("no active credential for provider")
	ErrNoProviders       = errors.New("no provider available")
	ErrReferenceConflict = errors.New("reference already used for a different payment")
	ErrIntentNotFound    = errors.New("payment intent not found")
	ErrNotRefundable     = errors.New("only settled payments can be refunded")
	ErrInvalidRequest    = errors.New("invalid payment request")
)

var initializationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "payops_payment_initializations_total",
	Help: "Payment initialization attempts, labeled by provider and outcome",
}, []string{"provider", "outcome"})

// InitializationError is returned when the provider refused or could not be
// reached. Reason is for operators; callers should show a generic message.
type InitializationError struct {
	Provider string
	Reason   error
}

func (e *InitializationError) Error() string {
	return fmt.Sprintf("payment initialization failed with %s: %v", e.Provider, e.Reason)
}

func (e *InitializationError) Unwrap() error { return e.Reason }

// Retryable reports whether the provider failure was a network failure.
func (e *InitializationError) Retryable() bool { return provider.IsRetryable(e.Reason) }

type Outcome string

const (
	OutcomeInitialized       Outcome = "initialized"
	OutcomeMissingCredential Outcome = "missing_credential"
	OutcomeDisabled          Outcome = "disabled"
	OutcomeNetworkError      Outcome = "network_error"
	OutcomeRejected          Outcome = "rejected"
)

// Attempt is the result of trying one provider during fallback.
type Attempt struct {
	Provider string
	Outcome  Outcome
	Err      error
}

// FallbackError means every provider in the list failed.
type FallbackError struct {
	Attempts []Attempt
}

func (e *FallbackError) Error() string {
	parts := make([]string, len(e.Attempts))
	for i, a := range e.Attempts {
		parts[i] = a.Provider + "=" + string(a.Outcome)
	}
	return "all providers failed: " + strings.Join(parts, ", ")
}

func (e *FallbackError) Unwrap() []error {
	errs := make([]error, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		errs = append(errs, a.Err)
	}
	return errs
}

// Retryable is true when at least one provider failed on the network.
func (e *FallbackError) Retryable() bool {
	for _, a := range e.Attempts {
		if a.Outcome == OutcomeNetworkError {
			return true
		}
	}
	return false
}

type Request struct {
	MerchantID  string
	Environment domain.Environment
	Provider    string
	Amount      int64
	Currency    string
	Email       string
	Reference   string
	CallbackURL string
	Metadata    map[string]any
}

type Result struct {
	Status     string `json:"status"`
	PaymentURL string `json:"payment_url"`
	Reference  string `json:"reference"`
	Amount     int64  `json:"amount"`
	Provider   string `json:"provider"`
	Replayed   bool   `json:"-"`
}

// IntentStore is the part of the store the engine needs.
type IntentStore interface {
	CreateIntent(ctx context.Context, intent *domain.PaymentIntent) error
	GetIntent(ctx context.Context, reference string) (*domain.PaymentIntent, error)
	ReferenceExists(ctx context.Context, reference string) (bool, error)
	GetCredential(ctx context.Context, merchantID, provider string, env domain.Environment) (*domain.ProviderCredential, error)
}

type Engine struct {
	registry      *provider.Registry
	store         IntentStore
	logger        *slog.Logger
	newReference  func() string
	initTimeout   time.Duration
	intentTimeout time.Duration
}

func NewEngine(registry *provider.Registry, st IntentStore, logger *slog.Logger) *Engine {
	return &Engine{
		registry:      registry,
		store:         st,
		logger:        logger,
		newReference:  NewReference,
		initTimeout:   30 * time.Second,
		intentTimeout: 10 * time.Second,
	}
}

// AdapterFor resolves a merchant's adapter for one provider.
func (e *Engine) AdapterFor(ctx context.Context, merchantID, providerName string, env domain.Environment) (provider.Adapter, error) {
	name := strings.ToLower(providerName)
	if !e.registry.Known(name) {
		return nil, fmt.Errorf("%w: %s", provider.ErrUnknownProvider, providerName)
	}
	cred, err := e.store.GetCredential(ctx, merchantID, name, env)
	if errors.Is(err, store.ErrNotFound) || (err == nil && !cred.Active) {
		return nil, fmt.Errorf("%w: %s (%s)", ErrMissingCredential, name, env)
	}
	if err != nil {
		return nil, fmt.Errorf("credential lookup failed: %w", err)
	}
	return e.registry.Adapter(*cred)
}

// Initialize routes to req.Provider when set and otherwise falls back across
// the enabled providers in registry order.
func (e *Engine) Initialize(ctx context.Context, req Request) (*Result, error) {
	if req.Provider != "" {
		return e.RoutePayment(ctx, req)
	}
	res, _, err := e.RouteWithFallback(ctx, req, e.registry.Enabled())
	return res, err
}

// RoutePayment initializes a payment with one provider and records a pending
// intent. No intent is written when the provider call fails. Once the
// provider call is issued, cancelling ctx no longer abandons the payment:
// the call runs to completion and the intent is still written.
func (e *Engine) RoutePayment(ctx context.Context, req Request) (*Result, error) {
	return e.route(ctx, req, true)
}

func (e *Engine) route(ctx context.Context, req Request, checkReplay bool) (*Result, error) {
	if req.Amount <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive", ErrInvalidRequest)
	}
	name := strings.ToLower(req.Provider)

	adapter, err := e.AdapterFor(ctx, req.MerchantID, name, req.Environment)
	if err != nil {
		initializationsTotal.WithLabelValues(name, "config_error").Inc()
		return nil, err
	}

	reference := req.Reference
	if reference != "" {
		if checkReplay {
			replay, err := e.replay(ctx, req)
			if err != nil || replay != nil {
				return replay, err
			}
		}
	} else {
		reference, err = uniqueReference(ctx, e.store, e.newReference)
		if err != nil {
			return nil, err
		}
	}

	log := e.logger.With("provider", name, "reference", reference, "merchant_id", req.MerchantID)

	// A provider that has received the request may already have created the
	// payment, so the call and the intent write outlive the caller.
	ictx, icancel := context.WithTimeout(context.WithoutCancel(ctx), e.initTimeout)
	defer icancel()
	initRes, err := adapter.Initialize(ictx, provider.InitializeRequest{
		Amount:      req.Amount,
		Currency:    req.Currency,
		Email:       req.Email,
		Reference:   reference,
		CallbackURL: req.CallbackURL,
		Metadata:    req.Metadata,
	})
	if err != nil {
		initializationsTotal.WithLabelValues(name, outcomeFor(err)).Inc()
		log.Warn("payment initialization failed", "error", err, "retryable", provider.IsRetryable(err))
		return nil, &InitializationError{Provider: name, Reason: err}
	}

	intent := &domain.PaymentIntent{
		Reference:         reference,
		MerchantID:        req.MerchantID,
		Provider:          name,
		Environment:       req.Environment,
		Amount:            req.Amount,
		Currency:          req.Currency,
		Email:             req.Email,
		Status:            domain.StatusPending,
		ProviderReference: initRes.ProviderReference,
		PaymentURL:        initRes.PaymentURL,
	}
	if len(req.Metadata) > 0 {
		if intent.Metadata, err = json.Marshal(req.Metadata); err != nil {
			return nil, fmt.Errorf("metadata encoding failed: %w", err)
		}
	}

	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.intentTimeout)
	defer cancel()
	if err := e.store.CreateIntent(wctx, intent); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			initializationsTotal.WithLabelValues(name, "reference_conflict").Inc()
			return nil, ErrReferenceConflict
		}
		log.Error("provider accepted payment but intent was not recorded", "error", err, "payment_url", initRes.PaymentURL)
		return nil, fmt.Errorf("intent persistence failed: %w", err)
	}

	initializationsTotal.WithLabelValues(name, string(OutcomeInitialized)).Inc()
	log.Info("payment initialized", "amount", req.Amount, "currency", req.Currency, "email", req.Email)
	return resultFor(intent, false), nil
}

// replay returns the stored result when a client reference is reused for the
// same payment, and ErrReferenceConflict when it is reused for another. The
// provider is compared only when the request names one.
func (e *Engine) replay(ctx context.Context, req Request) (*Result, error) {
	existing, err := e.store.GetIntent(ctx, req.Reference)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reference lookup failed: %w", err)
	}
	if existing.MerchantID != req.MerchantID || existing.Amount != req.Amount ||
		!strings.EqualFold(existing.Currency, req.Currency) ||
		(req.Provider != "" && existing.Provider != strings.ToLower(req.Provider)) {
		return nil, ErrReferenceConflict
	}
	return resultFor(existing, true), nil
}

func resultFor(p *domain.PaymentIntent, replayed bool) *Result {
	return &Result{
		Status:     "success",
		PaymentURL: p.PaymentURL,
		Reference:  p.Reference,
		Amount:     p.Amount,
		Provider:   p.Provider,
		Replayed:   replayed,
	}
}

func outcomeFor(err error) string {
	switch {
	case provider.IsRetryable(err):
		return string(OutcomeNetworkError)
	case provider.IsRejection(err):
		return string(OutcomeRejected)
	}
	return "error"
}

// RouteWithFallback tries providers in order and returns the first success.
// Configuration and provider failures move on to the next provider; any
// other error stops the walk.
func (e *Engine) RouteWithFallback(ctx context.Context, req Request, providers []string) (*Result, []Attempt, error) {
	if len(providers) == 0 {
		return nil, nil, ErrNoProviders
	}
	if req.Reference != "" {
		req.Provider = ""
		replay, err := e.replay(ctx, req)
		if err != nil || replay != nil {
			return replay, nil, err
		}
	}

	var attempts []Attempt
	for _, name := range providers {
		if err := ctx.Err(); err != nil {
			return nil, attempts, err
		}

		req.Provider = name
		res, err := e.route(ctx, req, false)
		if err == nil {
			attempts = append(attempts, Attempt{Provider: name, Outcome: OutcomeInitialized})
			return res, attempts, nil
		}

		var initErr *InitializationError
		switch {
		case errors.Is(err, ErrMissingCredential):
			attempts = append(attempts, Attempt{Provider: name, Outcome: OutcomeMissingCredential, Err: err})
		case errors.Is(err, provider.ErrDisabled), errors.Is(err, provider.ErrUnknownProvider):
			attempts = append(attempts, Attempt{Provider: name, Outcome: OutcomeDisabled, Err: err})
		case errors.As(err, &initErr):
			outcome := OutcomeRejected
			if initErr.Retryable() {
				outcome = OutcomeNetworkError
			}
			attempts = append(attempts, Attempt{Provider: name, Outcome: outcome, Err: err})
		default:
			return nil, attempts, err
		}
		e.logger.Info("provider skipped during fallback", "provider", name, "outcome", attempts[len(attempts)-1].Outcome)
	}
	return nil, attempts, &FallbackError{Attempts: attempts}
}

// Verify asks the intent's provider for the current payment status.
func (e *Engine) Verify(ctx context.Context, reference string) (*domain.PaymentIntent, *provider.VerifyResult, error) {
	intent, err := e.store.GetIntent(ctx, reference)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil, ErrIntentNotFound
	}
	if err != nil {
		return nil, nil, err
	}
	adapter, err := e.AdapterFor(ctx, intent.MerchantID, intent.Provider, intent.Environment)
	if err != nil {
		return nil, nil, err
	}
	res, err := adapter.Verify(ctx, reference)
	if err != nil {
		return nil, nil, err
	}
	return intent, res, nil
}

// Refund asks the provider to refund a settled payment. Zero means in full.
// The ledger is not adjusted here.
func (e *Engine) Refund(ctx context.Context, reference string, amount int64) (*provider.RefundResult, error) {
	intent, err := e.store.GetIntent(ctx, reference)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrIntentNotFound
	}
	if err != nil {
		return nil, err
	}
	if intent.Status != domain.StatusSettled {
		return nil, ErrNotRefundable
	}
	if amount < 0 || amount > intent.Amount {
		return nil, fmt.Errorf("%w: refund amount %d outside [0, %d]", ErrInvalidRequest, amount, intent.Amount)
	}
	adapter, err := e.AdapterFor(ctx, intent.MerchantID, intent.Provider, intent.Environment)
	if err != nil {
		return nil, err
	}
	providerRef := intent.ProviderReference
	if providerRef == "" {
		providerRef = intent.Reference
	}
	res, err := adapter.Refund(ctx, providerRef, amount)
	if err != nil {
		return nil, err
	}
	e.logger.Info("refund requested", "reference", reference, "provider", intent.Provider, "amount", amount, "status", res.Status)
	return res, nil
}
