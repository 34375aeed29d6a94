package domain

import (
	"encoding/json"
	"time"
)

// IntentStatus is the lifecycle state of a PaymentIntent.
// Transitions are pending -> settled or pending -> failed, never back.
type IntentStatus string

const (
	StatusPending IntentStatus = "pending"
	StatusSettled IntentStatus = "settled"
	StatusFailed  IntentStatus = "failed"
)

func (s IntentStatus) Terminal() bool {
	return s == StatusSettled || s == StatusFailed
}

// Environment selects live or sandbox provider credentials.
type Environment string

const (
	EnvLive    Environment = "live"
	EnvSandbox Environment = "sandbox"
)

func (e Environment) Valid() bool {
	return e == EnvLive || e == EnvSandbox
}

// PaymentIntent records that a payment was initiated with a provider.
// The reference is unique and doubles as the idempotency key for settlement.
type PaymentIntent struct {
	Reference         string          `json:"reference"`
	MerchantID        string          `json:"merchant_id"`
	Provider          string          `json:"provider"`
	Environment       Environment     `json:"environment"`
	Amount            int64           `json:"amount"`
	Currency          string          `json:"currency"`
	Email             string          `json:"-"`
	Status            IntentStatus    `json:"status"`
	ProviderReference string          `json:"provider_reference,omitempty"`
	PaymentURL        string          `json:"payment_url,omitempty"`
	FailureReason     string          `json:"failure_reason,omitempty"`
	Metadata          json.RawMessage `json:"metadata,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

type EntryType string

const (
	Credit EntryType = "credit"
	Debit  EntryType = "debit"
)

type EntrySource string

const (
	SourcePayment    EntrySource = "payment"
	SourceCommission EntrySource = "commission"
	SourceWithdrawal EntrySource = "withdrawal"
	SourceFee        EntrySource = "fee"
)

// LedgerEntry is one append-only movement on a wallet.
// Reference is unique across all entries; derived entries carry a prefix
// (PCOM-, COM-, FEE-, REV-) on the originating reference.
type LedgerEntry struct {
	ID        int64       `json:"id"`
	WalletID  int64       `json:"wallet_id"`
	Type      EntryType   `json:"entry_type"`
	Source    EntrySource `json:"source"`
	Amount    int64       `json:"amount"`
	Reference string      `json:"reference"`
	CreatedAt time.Time   `json:"created_at"`
}

// Signed returns the entry's effect on its wallet balance.
func (e LedgerEntry) Signed() int64 {
	if e.Type == Debit {
		return -e.Amount
	}
	return e.Amount
}

// Wallet holds the balance of one owner in one currency.
type Wallet struct {
	ID        int64     `json:"id"`
	OwnerID   string    `json:"owner_id"`
	Currency  string    `json:"currency"`
	Balance   int64     `json:"balance"`
	CreatedAt time.Time `json:"created_at"`
}

// RateLimitPolicy bounds the request rate of one API client.
type RateLimitPolicy struct {
	ClientID          string `json:"client_id"`
	RequestsPerMinute int64  `json:"requests_per_minute"`
	RequestsPerHour   int64  `json:"requests_per_hour"`
	RequestsPerDay    int64  `json:"requests_per_day"`
	BurstAllowance    int64  `json:"burst_allowance"`
}

// ProviderCredential is a merchant's key pair for one provider and environment.
type ProviderCredential struct {
	MerchantID    string      `json:"merchant_id"`
	Provider      string      `json:"provider"`
	Environment   Environment `json:"environment"`
	SecretKey     string      `json:"-"`
	PublicKey     string      `json:"public_key"`
	WebhookSecret string      `json:"-"`
	Active        bool        `json:"active"`
}

// APIClient is a merchant's machine identity for the inbound API.
type APIClient struct {
	ID          string      `json:"id"`
	MerchantID  string      `json:"merchant_id"`
	SecretHash  string      `json:"-"`
	Environment Environment `json:"environment"`
	Active      bool        `json:"active"`
	CreatedAt   time.Time   `json:"created_at"`
}

// WebhookEvent is the audit record of one inbound provider callback.
type WebhookEvent struct {
	ID              int64     `json:"id"`
	Provider        string    `json:"provider"`
	Event           string    `json:"event"`
	Reference       string    `json:"reference"`
	PayloadHash     string    `json:"payload_hash"`
	Payload         []byte    `json:"-"`
	SignatureValid  bool      `json:"signature_valid"`
	Deliveries      int       `json:"deliveries"`
	ProcessingError string    `json:"processing_error,omitempty"`
	ReceivedAt      time.Time `json:"received_at"`
}

type WithdrawalStatus string

const (
	WithdrawalPending   WithdrawalStatus = "pending"
	WithdrawalCompleted WithdrawalStatus = "completed"
	WithdrawalReversed  WithdrawalStatus = "reversed"
)

// Withdrawal moves money out of a merchant wallet to a bank account.
type Withdrawal struct {
	Reference     string           `json:"reference"`
	MerchantID    string           `json:"merchant_id"`
	Provider      string           `json:"provider"`
	Currency      string           `json:"currency"`
	Amount        int64            `json:"amount"`
	Fee           int64            `json:"fee"`
	AccountNumber string           `json:"account_number"`
	BankCode      string           `json:"bank_code"`
	AccountName   string           `json:"account_name,omitempty"`
	Status        WithdrawalStatus `json:"status"`
	CreatedAt     time.Time        `json:"created_at"`
}
