package store

import (
	"context"
	"errors"
	"sort"

	"github.com/punchamoorthee/payops/internal/domain"
)

var (
	ErrNotFound  = errors.New("record not found")
	ErrDuplicate = errors.New("duplicate record")
)

// WalletKey identifies a wallet by owner and currency.
type WalletKey struct {
	OwnerID  string
	Currency string
}

// SortWalletKeys orders keys so that every transaction locks wallets in the
// same sequence.
func SortWalletKeys(keys []WalletKey) []WalletKey {
	out := make([]WalletKey, 0, len(keys))
	seen := make(map[WalletKey]bool, len(keys))
	for _, k := range keys {
		if !seen[k] {
			seen[k] = true
			out = append(out, k)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].OwnerID != out[j].OwnerID {
			return out[i].OwnerID < out[j].OwnerID
		}
		return out[i].Currency < out[j].Currency
	})
	return out
}

// Store is the system of record for intents, wallets and ledger entries,
// plus the merchant configuration read at request time.
type Store interface {
	Begin(ctx context.Context) (Tx, error)

	CreateIntent(ctx context.Context, intent *domain.PaymentIntent) error
	GetIntent(ctx context.Context, reference string) (*domain.PaymentIntent, error)
	ReferenceExists(ctx context.Context, reference string) (bool, error)

	GetCredential(ctx context.Context, merchantID, provider string, env domain.Environment) (*domain.ProviderCredential, error)
	GetAPIClient(ctx context.Context, clientID string) (*domain.APIClient, error)
	GetRateLimitPolicy(ctx context.Context, clientID string) (*domain.RateLimitPolicy, error)

	GetWallet(ctx context.Context, ownerID, currency string) (*domain.Wallet, error)
	ListEntries(ctx context.Context, walletID int64, limit int) ([]domain.LedgerEntry, error)

	RecordWebhookEvent(ctx context.Context, ev *domain.WebhookEvent) error
	SetWebhookResult(ctx context.Context, provider, payloadHash, processingError string) error

	Close()
}

// Tx is a unit of work. Rows returned by the Lock methods stay locked until
// Commit or Rollback. Rollback after Commit is a no-op.
type Tx interface {
	LockIntent(ctx context.Context, reference string) (*domain.PaymentIntent, error)
	UpdateIntentStatus(ctx context.Context, reference string, status domain.IntentStatus, reason string) error

	// LockWallets returns the wallets for keys, creating missing ones with a
	// zero balance, and locks them in SortWalletKeys order.
	LockWallets(ctx context.Context, keys []WalletKey) (map[WalletKey]*domain.Wallet, error)
	AdjustBalance(ctx context.Context, walletID, delta int64) error
	InsertEntries(ctx context.Context, entries []domain.LedgerEntry) error

	CreateWithdrawal(ctx context.Context, w *domain.Withdrawal) error
	UpdateWithdrawalStatus(ctx context.Context, reference string, status domain.WithdrawalStatus) error

	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}
