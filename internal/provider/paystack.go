package provider

import (
	"context"
	"net/http"
	"net/url"

	"github.com/punchamoorthee/payops/internal/domain"
)

const Paystack = "paystack"

type paystackAdapter struct {
	api *apiClient
}

// NewPaystack returns an adapter authenticating with the credential's secret key.
func NewPaystack(cred domain.ProviderCredential, opts Options) Adapter {
	if opts.BaseURL == "" {
		opts.BaseURL = "https://api.paystack.co"
	}
	return &paystackAdapter{api: newAPIClient(Paystack, cred.SecretKey, opts)}
}

func (p *paystackAdapter) Name() string { return Paystack }

// paystackEnvelope is the wrapper around every Paystack response.
type paystackEnvelope[T any] struct {
	Status  bool   `json:"status"`
	Message string `json:"message"`
	Data    T      `json:"data"`
}

func (p *paystackAdapter) call(ctx context.Context, op, method, path string, body any, out interface{ ok() (bool, string) }) error {
	if err := p.api.call(ctx, op, method, path, body, out, messageField); err != nil {
		return err
	}
	if ok, msg := out.ok(); !ok {
		return rejection(Paystack, op, http.StatusOK, msg)
	}
	return nil
}

func (e *paystackEnvelope[T]) ok() (bool, string) { return e.Status, e.Message }

func (p *paystackAdapter) Initialize(ctx context.Context, req InitializeRequest) (*InitializeResult, error) {
	body := map[string]any{
		"email":     req.Email,
		"amount":    req.Amount,
		"currency":  req.Currency,
		"reference": req.Reference,
	}
	if req.CallbackURL != "" {
		body["callback_url"] = req.CallbackURL
	}
	if len(req.Metadata) > 0 {
		body["metadata"] = req.Metadata
	}

	var resp paystackEnvelope[struct {
		AuthorizationURL string `json:"authorization_url"`
		AccessCode       string `json:"access_code"`
		Reference        string `json:"reference"`
	}]
	if err := p.call(ctx, "initialize", http.MethodPost, "/transaction/initialize", body, &resp); err != nil {
		return nil, err
	}
	ref := resp.Data.Reference
	if ref == "" {
		ref = req.Reference
	}
	return &InitializeResult{
		ProviderReference: ref,
		PaymentURL:        resp.Data.AuthorizationURL,
		RawStatus:         "initialized",
	}, nil
}

// PaystackStatus maps a Paystack transaction status to a normalized Status.
func PaystackStatus(s string) Status {
	switch s {
	case "success":
		return StatusSuccess
	case "failed", "abandoned", "reversed":
		return StatusFailed
	}
	return StatusPending
}

func (p *paystackAdapter) Verify(ctx context.Context, reference string) (*VerifyResult, error) {
	var resp paystackEnvelope[struct {
		ID        int64  `json:"id"`
		Status    string `json:"status"`
		Reference string `json:"reference"`
		Amount    int64  `json:"amount"`
		Currency  string `json:"currency"`
		Fees      int64  `json:"fees"`
	}]
	if err := p.call(ctx, "verify", http.MethodGet, "/transaction/verify/"+url.PathEscape(reference), nil, &resp); err != nil {
		return nil, err
	}
	return &VerifyResult{
		Reference:         resp.Data.Reference,
		ProviderReference: resp.Data.Reference,
		Status:            PaystackStatus(resp.Data.Status),
		Amount:            resp.Data.Amount,
		Currency:          resp.Data.Currency,
		Fees:              resp.Data.Fees,
	}, nil
}

func (p *paystackAdapter) Refund(ctx context.Context, providerReference string, amount int64) (*RefundResult, error) {
	body := map[string]any{"transaction": providerReference}
	if amount > 0 {
		body["amount"] = amount
	}
	var resp paystackEnvelope[struct {
		ID     int64  `json:"id"`
		Status string `json:"status"`
	}]
	if err := p.call(ctx, "refund", http.MethodPost, "/refund", body, &resp); err != nil {
		return nil, err
	}
	return &RefundResult{RefundReference: itoa(resp.Data.ID), Status: resp.Data.Status}, nil
}

func (p *paystackAdapter) ResolveAccount(ctx context.Context, accountNumber, bankCode string) (string, error) {
	q := url.Values{"account_number": {accountNumber}, "bank_code": {bankCode}}
	var resp paystackEnvelope[struct {
		AccountName string `json:"account_name"`
	}]
	if err := p.call(ctx, "resolve_account", http.MethodGet, "/bank/resolve?"+q.Encode(), nil, &resp); err != nil {
		return "", err
	}
	return resp.Data.AccountName, nil
}

// Transfer creates a transfer recipient and then a transfer from the balance.
func (p *paystackAdapter) Transfer(ctx context.Context, req TransferRequest) (*TransferResult, error) {
	var recipient paystackEnvelope[struct {
		RecipientCode string `json:"recipient_code"`
	}]
	err := p.call(ctx, "transfer", http.MethodPost, "/transferrecipient", map[string]any{
		"type":           "nuban",
		"name":           req.AccountName,
		"account_number": req.AccountNumber,
		"bank_code":      req.BankCode,
		"currency":       req.Currency,
	}, &recipient)
	if err != nil {
		return nil, err
	}

	var resp paystackEnvelope[struct {
		TransferCode string `json:"transfer_code"`
		Status       string `json:"status"`
	}]
	err = p.call(ctx, "transfer", http.MethodPost, "/transfer", map[string]any{
		"source":    "balance",
		"amount":    req.Amount,
		"recipient": recipient.Data.RecipientCode,
		"reference": req.Reference,
		"reason":    req.Narration,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return &TransferResult{TransferReference: resp.Data.TransferCode, Status: resp.Data.Status}, nil
}
