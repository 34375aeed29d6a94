// Package provider translates payment operations into the HTTP APIs of
// third-party payment providers. Adapters hold no state beyond their
// credential and never touch the ledger.
package provider

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/punchamoorthee/payops/internal/domain"
)

// Status is a provider-reported payment outcome.
type Status string

const (
	StatusSuccess Status = "success"
	StatusPending Status = "pending"
	StatusFailed  Status = "failed"
)

type InitializeRequest struct {
	Amount      int64
	Currency    string
	Email       string
	Reference   string
	CallbackURL string
	Metadata    map[string]any
}

type InitializeResult struct {
	ProviderReference string
	PaymentURL        string
	RawStatus         string
}

type VerifyResult struct {
	Reference         string
	ProviderReference string
	Status            Status
	Amount            int64
	Currency          string
	Fees              int64
}

type RefundResult struct {
	RefundReference string
	Status          string
}

type TransferRequest struct {
	Amount        int64
	Currency      string
	AccountNumber string
	BankCode      string
	AccountName   string
	Reference     string
	Narration     string
}

type TransferResult struct {
	TransferReference string
	Status            string
}

// Failed reports whether the provider declined the payout. Pending and
// unrecognised statuses are not failures.
func (r *TransferResult) Failed() bool {
	if r == nil {
		return false
	}
	switch strings.ToLower(r.Status) {
	case "failed", "reversed", "rejected", "cancelled", "abandoned":
		return true
	}
	return false
}

// Adapter is the capability set every provider implements. Amounts are in
// minor units. Business declines are reported through Status values, not
// errors; errors are always *Error.
type Adapter interface {
	Name() string
	Initialize(ctx context.Context, req InitializeRequest) (*InitializeResult, error)
	Verify(ctx context.Context, reference string) (*VerifyResult, error)
	// Refund returns the full amount when amount is zero.
	Refund(ctx context.Context, providerReference string, amount int64) (*RefundResult, error)
	ResolveAccount(ctx context.Context, accountNumber, bankCode string) (string, error)
	Transfer(ctx context.Context, req TransferRequest) (*TransferResult, error)
}

// Options configure how an adapter reaches its backend.
type Options struct {
	BaseURL string
	Timeout time.Duration
	Client  *http.Client
}

func (o Options) httpClient() *http.Client {
	if o.Client != nil {
		return o.Client
	}
	timeout := o.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &http.Client{Timeout: timeout}
}

// Factory builds an adapter bound to one merchant credential.
type Factory func(cred domain.ProviderCredential, opts Options) Adapter
