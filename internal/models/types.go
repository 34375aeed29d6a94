// Package models holds the request and response bodies of the HTTP API.
package models

import (
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/punchamoorthee/payops/internal/domain"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func validatorInstance() *validator.Validate {
	validateOnce.Do(func() { validate = validator.New() })
	return validate
}

// Validate checks a request body against its struct tags.
func Validate(v any) error {
	return validatorInstance().Struct(v)
}

// InitializePaymentRequest is the payload of POST /payments/initialize.
// Amount is in minor units.
type InitializePaymentRequest struct {
	Amount      int64          `json:"amount" validate:"required,gt=0"`
	Currency    string         `json:"currency" validate:"required,len=3,alpha"`
	Email       string         `json:"email" validate:"required,email,max=200"`
	Provider    string         `json:"provider,omitempty" validate:"omitempty,max=50"`
	Reference   string         `json:"reference,omitempty" validate:"omitempty,max=100,printascii"`
	CallbackURL string         `json:"callback_url,omitempty" validate:"omitempty,url"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

type TokenRequest struct {
	ClientID     string `json:"client_id" validate:"required"`
	ClientSecret string `json:"client_secret" validate:"required"`
}

type TokenResponse struct {
	Token     string `json:"token"`
	TokenType string `json:"token_type"`
	ExpiresAt int64  `json:"expires_at"`
}

type WithdrawalRequest struct {
	Amount        int64  `json:"amount" validate:"required,gt=0"`
	Currency      string `json:"currency" validate:"required,len=3,alpha"`
	Provider      string `json:"provider" validate:"required,max=50"`
	AccountNumber string `json:"account_number" validate:"required,numeric,min=6,max=20"`
	BankCode      string `json:"bank_code" validate:"required,max=20"`
	AccountName   string `json:"account_name,omitempty" validate:"max=150"`
	Narration     string `json:"narration,omitempty" validate:"max=100"`
}

// PaymentResponse is the merchant-facing view of an intent.
type PaymentResponse struct {
	Reference     string              `json:"reference"`
	Provider      string              `json:"provider"`
	Environment   domain.Environment  `json:"environment"`
	Amount        int64               `json:"amount"`
	Currency      string              `json:"currency"`
	Status        domain.IntentStatus `json:"status"`
	PaymentURL    string              `json:"payment_url,omitempty"`
	FailureReason string              `json:"failure_reason,omitempty"`
	CreatedAt     time.Time           `json:"created_at"`
	UpdatedAt     time.Time           `json:"updated_at"`
}

func NewPaymentResponse(p *domain.PaymentIntent) PaymentResponse {
	return PaymentResponse{
		Reference:     p.Reference,
		Provider:      p.Provider,
		Environment:   p.Environment,
		Amount:        p.Amount,
		Currency:      p.Currency,
		Status:        p.Status,
		PaymentURL:    p.PaymentURL,
		FailureReason: p.FailureReason,
		CreatedAt:     p.CreatedAt,
		UpdatedAt:     p.UpdatedAt,
	}
}

type VerifyResponse struct {
	Payment PaymentResponse `json:"payment"`
	Outcome string          `json:"outcome"`
}

// WalletResponse is a balance with its most recent entries.
type WalletResponse struct {
	Currency string               `json:"currency"`
	Balance  int64                `json:"balance"`
	Entries  []domain.LedgerEntry `json:"entries"`
}
