package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/punchamoorthee/payops/internal/domain"
	"github.com/punchamoorthee/payops/internal/notify"
	"github.com/punchamoorthee/payops/internal/provider"
	"github.com/punchamoorthee/payops/internal/store"
)

var (
	ErrInsufficientFunds  = errors.New("insufficient funds")
	ErrInvalidWithdrawal  = errors.New("invalid withdrawal request")
	ErrServiceUnavailable = errors.New("service temporarily unavailable")
)

const (
	WithdrawalPrefix  = "WD-"
	feePrefix         = "FEE-"
	platformFeePrefix = "PFEE-"
	reversalPrefix    = "REV-"
)

type WithdrawalRequest struct {
	MerchantID    string
	Environment   domain.Environment
	Provider      string
	Currency      string
	Amount        int64
	AccountNumber string
	BankCode      string
	AccountName   string
	Narration     string
}

// AdapterResolver finds the adapter for a merchant's provider credential.
type AdapterResolver interface {
	AdapterFor(ctx context.Context, merchantID, providerName string, env domain.Environment) (provider.Adapter, error)
}

type WithdrawalService struct {
	store           store.Store
	adapters        AdapterResolver
	fee             int64
	platform        string
	notifier        Notifier
	logger          *slog.Logger
	transferTimeout time.Duration
}

func NewWithdrawalService(st store.Store, adapters AdapterResolver, fee int64, platformOwner string, notifier Notifier, logger *slog.Logger) *WithdrawalService {
	return &WithdrawalService{
		store:           st,
		adapters:        adapters,
		fee:             fee,
		platform:        platformOwner,
		notifier:        notifier,
		logger:          logger,
		transferTimeout: 30 * time.Second,
	}
}

func newWithdrawalReference() string {
	return WithdrawalPrefix + strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
}

// Withdraw debits amount plus fee from the merchant wallet, then asks the
// provider to pay out. If the payout fails the debit is reversed with
// compensating entries and ErrServiceUnavailable is returned.
func (s *WithdrawalService) Withdraw(ctx context.Context, req WithdrawalRequest) (*domain.Withdrawal, error) {
	if req.Amount <= 0 || req.AccountNumber == "" || req.BankCode == "" || req.Currency == "" {
		return nil, ErrInvalidWithdrawal
	}

	adapter, err := s.adapters.AdapterFor(ctx, req.MerchantID, req.Provider, req.Environment)
	if err != nil {
		return nil, err
	}

	if req.AccountName == "" {
		name, err := adapter.ResolveAccount(ctx, req.AccountNumber, req.BankCode)
		switch {
		case err == nil:
			req.AccountName = name
		case errors.Is(err, provider.ErrNotSupported):
			s.logger.Info("account resolution not supported, continuing without name", "provider", adapter.Name())
		case provider.IsRejection(err):
			return nil, fmt.Errorf("%w: account could not be resolved", ErrInvalidWithdrawal)
		default:
			s.logger.Warn("account resolution failed", "provider", adapter.Name(), "error", err)
			return nil, ErrServiceUnavailable
		}
	}

	w := &domain.Withdrawal{
		Reference:     newWithdrawalReference(),
		MerchantID:    req.MerchantID,
		Provider:      adapter.Name(),
		Currency:      req.Currency,
		Amount:        req.Amount,
		Fee:           s.fee,
		AccountNumber: req.AccountNumber,
		BankCode:      req.BankCode,
		AccountName:   req.AccountName,
		Status:        domain.WithdrawalPending,
	}
	log := s.logger.With("reference", w.Reference, "merchant_id", w.MerchantID, "provider", w.Provider)

	if err := s.debit(ctx, w); err != nil {
		return nil, err
	}

	// The payout must not be abandoned half way because the caller left.
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.transferTimeout)
	defer cancel()

	res, err := adapter.Transfer(pctx, provider.TransferRequest{
		Amount:        w.Amount,
		Currency:      w.Currency,
		AccountNumber: w.AccountNumber,
		BankCode:      w.BankCode,
		AccountName:   w.AccountName,
		Reference:     w.Reference,
		Narration:     req.Narration,
	})
	if err == nil && res.Failed() {
		err = fmt.Errorf("payout %s declined with status %q", res.TransferReference, res.Status)
	}
	if err != nil {
		log.Warn("payout failed, reversing debit", "error", err, "retryable", provider.IsRetryable(err))
		if rerr := s.reverse(pctx, w); rerr != nil {
			log.Error("withdrawal reversal failed, wallet needs manual correction", "alert", true, "error", rerr)
		} else {
			w.Status = domain.WithdrawalReversed
			s.emit(ctx, notify.WithdrawalReversed, w)
		}
		return nil, ErrServiceUnavailable
	}

	if err := s.complete(pctx, w); err != nil {
		log.Error("payout sent but withdrawal status not updated", "error", err)
	}
	w.Status = domain.WithdrawalCompleted
	log.Info("withdrawal completed", "amount", w.Amount, "fee", w.Fee, "currency", w.Currency)
	s.emit(ctx, notify.WithdrawalComplete, w)
	return w, nil
}

func (s *WithdrawalService) walletKeys(w *domain.Withdrawal) (store.WalletKey, store.WalletKey) {
	return store.WalletKey{OwnerID: w.MerchantID, Currency: w.Currency},
		store.WalletKey{OwnerID: s.platform, Currency: w.Currency}
}

// entries returns the debit legs of a withdrawal, or their reversal.
func (s *WithdrawalService) entries(w *domain.Withdrawal, merchantID, platformID int64, reverse bool) []domain.LedgerEntry {
	out, in, prefix := domain.Debit, domain.Credit, ""
	if reverse {
		out, in, prefix = domain.Credit, domain.Debit, reversalPrefix
	}
	entries := []domain.LedgerEntry{
		{WalletID: merchantID, Type: out, Source: domain.SourceWithdrawal, Amount: w.Amount, Reference: prefix + w.Reference},
	}
	if w.Fee > 0 && merchantID != platformID {
		entries = append(entries,
			domain.LedgerEntry{WalletID: merchantID, Type: out, Source: domain.SourceFee, Amount: w.Fee, Reference: prefix + feePrefix + w.Reference},
			domain.LedgerEntry{WalletID: platformID, Type: in, Source: domain.SourceFee, Amount: w.Fee, Reference: prefix + platformFeePrefix + w.Reference},
		)
	}
	return entries
}

func (s *WithdrawalService) debit(ctx context.Context, w *domain.Withdrawal) error {
	tx, err := s.store.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	merchantKey, platformKey := s.walletKeys(w)
	wallets, err := tx.LockWallets(ctx, []store.WalletKey{merchantKey, platformKey})
	if err != nil {
		return err
	}
	merchant, platform := wallets[merchantKey], wallets[platformKey]
	if merchant.ID == platform.ID {
		w.Fee = 0
	}

	if merchant.Balance < w.Amount+w.Fee {
		return ErrInsufficientFunds
	}

	if err := tx.CreateWithdrawal(ctx, w); err != nil {
		return err
	}
	if err := s.apply(ctx, tx, s.entries(w, merchant.ID, platform.ID, false)); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *WithdrawalService) reverse(ctx context.Context, w *domain.Withdrawal) error {
	tx, err := s.store.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	merchantKey, platformKey := s.walletKeys(w)
	wallets, err := tx.LockWallets(ctx, []store.WalletKey{merchantKey, platformKey})
	if err != nil {
		return err
	}
	if err := s.apply(ctx, tx, s.entries(w, wallets[merchantKey].ID, wallets[platformKey].ID, true)); err != nil {
		return err
	}
	if err := tx.UpdateWithdrawalStatus(ctx, w.Reference, domain.WithdrawalReversed); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *WithdrawalService) complete(ctx context.Context, w *domain.Withdrawal) error {
	tx, err := s.store.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)
	if err := tx.UpdateWithdrawalStatus(ctx, w.Reference, domain.WithdrawalCompleted); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *WithdrawalService) apply(ctx context.Context, tx store.Tx, entries []domain.LedgerEntry) error {
	if err := tx.InsertEntries(ctx, entries); err != nil {
		return err
	}
	deltas := make(map[int64]int64, 2)
	for _, e := range entries {
		deltas[e.WalletID] += e.Signed()
	}
	for walletID, delta := range deltas {
		if err := tx.AdjustBalance(ctx, walletID, delta); err != nil {
			return err
		}
	}
	return nil
}

func (s *WithdrawalService) emit(ctx context.Context, t notify.EventType, w *domain.Withdrawal) {
	if s.notifier == nil {
		return
	}
	s.notifier.Notify(ctx, notify.Event{
		Type:       t,
		MerchantID: w.MerchantID,
		Reference:  w.Reference,
		Amount:     w.Amount,
		Currency:   w.Currency,
	})
}
