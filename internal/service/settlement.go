package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/punchamoorthee/payops/internal/domain"
	"github.com/punchamoorthee/payops/internal/ledger"
	"github.com/punchamoorthee/payops/internal/notify"
	"github.com/punchamoorthee/payops/internal/provider"
	"github.com/punchamoorthee/payops/internal/store"
	"github.com/shopspring/decimal"
)

var (
	ErrIntentNotFound  = errors.New("payment intent not found")
	ErrLedgerInvariant = ledger.ErrInvariantViolation
)

var (
	settlementsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payops_settlements_total",
		Help: "Settlement notifications processed, labeled by outcome",
	}, []string{"outcome"})

	settlementDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "payops_settlement_duration_seconds",
		Help:    "Latency of the settlement transaction",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	})

	invariantViolations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "payops_ledger_invariant_violations_total",
		Help: "Settlements aborted because ledger entries did not balance",
	})
)

type Outcome string

const (
	OutcomeSettled   Outcome = "settled"
	OutcomeFailed    Outcome = "failed"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeIgnored   Outcome = "ignored"
)

const (
	ReasonProviderFailure = "provider_reported_failure"
	ReasonAmountMismatch  = "amount_mismatch"
)

// Notification is a provider's report on a payment, from a webhook or from
// an explicit verification call. Amount and Currency are optional; when set
// they must match the intent.
type Notification struct {
	Provider  string
	Reference string
	Status    provider.Status
	Amount    int64
	Currency  string
	Fees      int64
}

type Notifier interface {
	Notify(ctx context.Context, ev notify.Event)
}

type SettlementService struct {
	store    store.Store
	rate     decimal.Decimal
	platform string
	notifier Notifier
	logger   *slog.Logger
}

// NewSettlementService settles payments with the given commission rate,
// crediting commission to the platform owner's wallet.
func NewSettlementService(st store.Store, rate decimal.Decimal, platformOwner string, notifier Notifier, logger *slog.Logger) *SettlementService {
	return &SettlementService{store: st, rate: rate, platform: platformOwner, notifier: notifier, logger: logger}
}

// Settle applies a notification to its intent. The intent row lock
// serializes concurrent notifications for one reference; the transition,
// ledger entries and balance updates commit together or not at all.
// Notifications for intents already settled or failed are duplicates and
// succeed without changes.
func (s *SettlementService) Settle(ctx context.Context, n Notification) (Outcome, error) {
	timer := prometheus.NewTimer(settlementDuration)
	defer timer.ObserveDuration()

	outcome, ev, err := s.settle(ctx, n)
	if err != nil {
		settlementsTotal.WithLabelValues("error").Inc()
		return "", err
	}
	settlementsTotal.WithLabelValues(string(outcome)).Inc()

	// best effort, after commit
	if ev != nil && s.notifier != nil {
		s.notifier.Notify(ctx, *ev)
	}
	return outcome, nil
}

func (s *SettlementService) settle(ctx context.Context, n Notification) (Outcome, *notify.Event, error) {
	log := s.logger.With("reference", n.Reference, "provider", n.Provider)

	tx, err := s.store.Begin(ctx)
	if err != nil {
		return "", nil, err
	}
	defer tx.Rollback(ctx)

	// 1. Lock the intent
	intent, err := tx.LockIntent(ctx, n.Reference)
	if errors.Is(err, store.ErrNotFound) {
		log.Warn("settlement for unknown reference")
		return "", nil, ErrIntentNotFound
	}
	if err != nil {
		return "", nil, fmt.Errorf("intent lock failed: %w", err)
	}

	// 2. Idempotency: terminal intents are never touched again
	if intent.Status.Terminal() {
		log.Info("duplicate settlement notification", "status", intent.Status, "reported", n.Status)
		return OutcomeDuplicate, nil, nil
	}

	switch n.Status {
	case provider.StatusSuccess:
	case provider.StatusFailed:
		return s.fail(ctx, tx, intent, ReasonProviderFailure, log)
	default:
		log.Debug("pending notification ignored")
		return OutcomeIgnored, nil, nil
	}

	if (n.Amount != 0 && n.Amount != intent.Amount) || (n.Currency != "" && !strings.EqualFold(n.Currency, intent.Currency)) {
		log.Warn("reported payment does not match intent",
			"reported_amount", n.Amount, "reported_currency", n.Currency,
			"intent_amount", intent.Amount, "intent_currency", intent.Currency)
		return s.fail(ctx, tx, intent, ReasonAmountMismatch, log)
	}

	// 3. Split
	rate := s.rate
	if intent.MerchantID == s.platform {
		rate = decimal.Zero
	}
	split, err := ledger.ComputeSplit(ledger.NetAmount(intent.Amount, n.Fees), rate)
	if err != nil {
		return "", nil, s.alert(intent, err)
	}

	// 4. Wallets, locked in key order
	payeeKey := store.WalletKey{OwnerID: intent.MerchantID, Currency: intent.Currency}
	platformKey := store.WalletKey{OwnerID: s.platform, Currency: intent.Currency}
	wallets, err := tx.LockWallets(ctx, []store.WalletKey{payeeKey, platformKey})
	if err != nil {
		return "", nil, err
	}
	payee, platform := wallets[payeeKey], wallets[platformKey]

	entries := ledger.SettlementEntries(intent.Reference, split, payee.ID, platform.ID)
	if err := ledger.CheckSettlement(entries, split, payee.ID); err != nil {
		return "", nil, s.alert(intent, err)
	}

	// 5. Transition, entries, balances
	if err := tx.UpdateIntentStatus(ctx, intent.Reference, domain.StatusSettled, ""); err != nil {
		return "", nil, err
	}
	if err := tx.InsertEntries(ctx, entries); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return "", nil, s.alert(intent, fmt.Errorf("%w: entries already exist for pending intent", ledger.ErrInvariantViolation))
		}
		return "", nil, err
	}
	for walletID, delta := range ledger.Deltas(entries) {
		if err := tx.AdjustBalance(ctx, walletID, delta); err != nil {
			return "", nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return "", nil, err
	}

	log.Info("payment settled", "merchant_id", intent.MerchantID, "net", split.Net,
		"commission", split.Commission, "payee_amount", split.Payee, "currency", intent.Currency)
	return OutcomeSettled, &notify.Event{
		Type:       notify.PaymentSettled,
		MerchantID: intent.MerchantID,
		Reference:  intent.Reference,
		Amount:     split.Payee,
		Currency:   intent.Currency,
		Commission: split.Commission,
	}, nil
}

func (s *SettlementService) fail(ctx context.Context, tx store.Tx, intent *domain.PaymentIntent, reason string, log *slog.Logger) (Outcome, *notify.Event, error) {
	if err := tx.UpdateIntentStatus(ctx, intent.Reference, domain.StatusFailed, reason); err != nil {
		return "", nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return "", nil, err
	}
	log.Info("payment failed", "merchant_id", intent.MerchantID, "reason", reason)
	return OutcomeFailed, &notify.Event{
		Type:       notify.PaymentFailed,
		MerchantID: intent.MerchantID,
		Reference:  intent.Reference,
		Amount:     intent.Amount,
		Currency:   intent.Currency,
		Reason:     reason,
	}, nil
}

func (s *SettlementService) alert(intent *domain.PaymentIntent, err error) error {
	invariantViolations.Inc()
	s.logger.Error("ledger invariant violation, settlement aborted",
		"alert", true, "reference", intent.Reference, "merchant_id", intent.MerchantID, "error", err)
	return fmt.Errorf("settle %s: %w", intent.Reference, err)
}
