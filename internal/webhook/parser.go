package webhook

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/punchamoorthee/payops/internal/domain"
	"github.com/punchamoorthee/payops/internal/provider"
	"github.com/shopspring/decimal"
)

var ErrMalformed = errors.New("malformed webhook payload")

// Callback is a provider event normalized for settlement.
type Callback struct {
	Provider  string
	Event     string
	Reference string
	Status    provider.Status
	Amount    int64
	Currency  string
	Fees      int64
	Metadata  json.RawMessage
	// Relevant is false for events that do not affect payment settlement.
	Relevant bool
}

// Parser understands one provider's webhook format.
type Parser interface {
	Provider() string
	SignatureHeader() string
	Parse(payload []byte) (*Callback, error)
	Verify(payload []byte, header string, cred domain.ProviderCredential) bool
}

func ParserFor(name string) (Parser, bool) {
	switch strings.ToLower(name) {
	case provider.Paystack:
		return paystackParser{}, true
	case provider.Flutterwave:
		return flutterwaveParser{}, true
	}
	return nil, false
}

type paystackParser struct{}

func (paystackParser) Provider() string        { return provider.Paystack }
func (paystackParser) SignatureHeader() string { return "X-Paystack-Signature" }

func (paystackParser) Verify(payload []byte, header string, cred domain.ProviderCredential) bool {
	return VerifyPaystackSignature(payload, header, cred.SecretKey)
}

func (paystackParser) Parse(payload []byte) (*Callback, error) {
	var body struct {
		Event string `json:"event"`
		Data  struct {
			Reference string          `json:"reference"`
			Status    string          `json:"status"`
			Amount    int64           `json:"amount"`
			Currency  string          `json:"currency"`
			Fees      int64           `json:"fees"`
			Metadata  json.RawMessage `json:"metadata"`
		} `json:"data"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if body.Event == "" {
		return nil, fmt.Errorf("%w: missing event", ErrMalformed)
	}
	cb := &Callback{
		Provider:  provider.Paystack,
		Event:     body.Event,
		Reference: body.Data.Reference,
		Status:    provider.PaystackStatus(body.Data.Status),
		Amount:    body.Data.Amount,
		Currency:  body.Data.Currency,
		Fees:      body.Data.Fees,
		Metadata:  body.Data.Metadata,
		Relevant:  strings.HasPrefix(body.Event, "charge.") && body.Data.Reference != "",
	}
	if body.Event == "charge.success" && body.Data.Status == "" {
		cb.Status = provider.StatusSuccess
	}
	return cb, nil
}

type flutterwaveParser struct{}

func (flutterwaveParser) Provider() string        { return provider.Flutterwave }
func (flutterwaveParser) SignatureHeader() string { return "verif-hash" }

func (flutterwaveParser) Verify(_ []byte, header string, cred domain.ProviderCredential) bool {
	return VerifyFlutterwaveHash(header, cred.WebhookSecret)
}

func (flutterwaveParser) Parse(payload []byte) (*Callback, error) {
	var body struct {
		Event string `json:"event"`
		Data  struct {
			TxRef    string          `json:"tx_ref"`
			Status   string          `json:"status"`
			Amount   decimal.Decimal `json:"amount"`
			Currency string          `json:"currency"`
			AppFee   decimal.Decimal `json:"app_fee"`
			Meta     json.RawMessage `json:"meta"`
		} `json:"data"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if body.Event == "" {
		return nil, fmt.Errorf("%w: missing event", ErrMalformed)
	}
	return &Callback{
		Provider:  provider.Flutterwave,
		Event:     body.Event,
		Reference: body.Data.TxRef,
		Status:    provider.FlutterwaveStatus(body.Data.Status),
		Amount:    body.Data.Amount.Shift(2).Round(0).IntPart(),
		Currency:  body.Data.Currency,
		Fees:      body.Data.AppFee.Shift(2).Round(0).IntPart(),
		Metadata:  body.Data.Meta,
		Relevant:  strings.HasPrefix(body.Event, "charge.") && body.Data.TxRef != "",
	}, nil
}
