package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"

	"github.com/punchamoorthee/payops/internal/domain"
	"github.com/shopspring/decimal"
)

const Flutterwave = "flutterwave"

// Flutterwave test mode resolves accounts for Access Bank only.
const flutterwaveSandboxBank = "044"

type flutterwaveAdapter struct {
	api     *apiClient
	sandbox bool
}

// NewFlutterwave returns an adapter for the Flutterwave v3 API. Flutterwave
// amounts are major units; the adapter converts at the boundary.
func NewFlutterwave(cred domain.ProviderCredential, opts Options) Adapter {
	if opts.BaseURL == "" {
		opts.BaseURL = "https://api.flutterwave.com/v3"
	}
	return &flutterwaveAdapter{
		api:     newAPIClient(Flutterwave, cred.SecretKey, opts),
		sandbox: cred.Environment == domain.EnvSandbox,
	}
}

func (f *flutterwaveAdapter) Name() string { return Flutterwave }

type flutterwaveEnvelope[T any] struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Data    T      `json:"data"`
}

func (e *flutterwaveEnvelope[T]) ok() (bool, string) { return e.Status == "success", e.Message }

func (f *flutterwaveAdapter) call(ctx context.Context, op, method, path string, body any, out interface{ ok() (bool, string) }) error {
	if err := f.api.call(ctx, op, method, path, body, out, messageField); err != nil {
		return err
	}
	if ok, msg := out.ok(); !ok {
		return rejection(Flutterwave, op, http.StatusOK, msg)
	}
	return nil
}

func toMajor(minor int64) json.Number {
	return json.Number(decimal.New(minor, -2).String())
}

func toMinor(major decimal.Decimal) int64 {
	return major.Shift(2).Round(0).IntPart()
}

func itoa(n int64) string {
	return strconv.FormatInt(n, 10)
}

func (f *flutterwaveAdapter) Initialize(ctx context.Context, req InitializeRequest) (*InitializeResult, error) {
	body := map[string]any{
		"tx_ref":   req.Reference,
		"amount":   toMajor(req.Amount),
		"currency": req.Currency,
		"customer": map[string]string{"email": req.Email},
	}
	if req.CallbackURL != "" {
		body["redirect_url"] = req.CallbackURL
	}
	if len(req.Metadata) > 0 {
		body["meta"] = req.Metadata
	}

	var resp flutterwaveEnvelope[struct {
		Link string `json:"link"`
	}]
	if err := f.call(ctx, "initialize", http.MethodPost, "/payments", body, &resp); err != nil {
		return nil, err
	}
	return &InitializeResult{
		ProviderReference: req.Reference,
		PaymentURL:        resp.Data.Link,
		RawStatus:         resp.Status,
	}, nil
}

// FlutterwaveStatus maps a Flutterwave transaction status to a normalized Status.
func FlutterwaveStatus(s string) Status {
	switch s {
	case "successful":
		return StatusSuccess
	case "failed", "cancelled":
		return StatusFailed
	}
	return StatusPending
}

type flutterwaveTransaction struct {
	ID       int64           `json:"id"`
	TxRef    string          `json:"tx_ref"`
	Status   string          `json:"status"`
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
	AppFee   decimal.Decimal `json:"app_fee"`
}

func (f *flutterwaveAdapter) lookup(ctx context.Context, op, reference string) (*flutterwaveTransaction, error) {
	var resp flutterwaveEnvelope[flutterwaveTransaction]
	path := "/transactions/verify_by_reference?" + url.Values{"tx_ref": {reference}}.Encode()
	if err := f.call(ctx, op, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return &resp.Data, nil
}

func (f *flutterwaveAdapter) Verify(ctx context.Context, reference string) (*VerifyResult, error) {
	tx, err := f.lookup(ctx, "verify", reference)
	if err != nil {
		return nil, err
	}
	return &VerifyResult{
		Reference:         tx.TxRef,
		ProviderReference: itoa(tx.ID),
		Status:            FlutterwaveStatus(tx.Status),
		Amount:            toMinor(tx.Amount),
		Currency:          tx.Currency,
		Fees:              toMinor(tx.AppFee),
	}, nil
}

// Refund accepts either the numeric transaction id or the tx_ref used at
// initialization, which is resolved to the id first.
func (f *flutterwaveAdapter) Refund(ctx context.Context, providerReference string, amount int64) (*RefundResult, error) {
	id := providerReference
	if _, err := strconv.ParseInt(providerReference, 10, 64); err != nil {
		tx, err := f.lookup(ctx, "refund", providerReference)
		if err != nil {
			return nil, err
		}
		id = itoa(tx.ID)
	}

	body := map[string]any{}
	if amount > 0 {
		body["amount"] = toMajor(amount)
	}
	var resp flutterwaveEnvelope[struct {
		ID     int64  `json:"id"`
		Status string `json:"status"`
	}]
	if err := f.call(ctx, "refund", http.MethodPost, "/transactions/"+url.PathEscape(id)+"/refund", body, &resp); err != nil {
		return nil, err
	}
	return &RefundResult{RefundReference: itoa(resp.Data.ID), Status: resp.Data.Status}, nil
}

func (f *flutterwaveAdapter) ResolveAccount(ctx context.Context, accountNumber, bankCode string) (string, error) {
	if f.sandbox && bankCode != flutterwaveSandboxBank {
		return "", notSupported(Flutterwave, "resolve_account", "sandbox resolves bank "+flutterwaveSandboxBank+" only")
	}
	var resp flutterwaveEnvelope[struct {
		AccountName string `json:"account_name"`
	}]
	err := f.call(ctx, "resolve_account", http.MethodPost, "/accounts/resolve", map[string]string{
		"account_number": accountNumber,
		"account_bank":   bankCode,
	}, &resp)
	if err != nil {
		return "", err
	}
	return resp.Data.AccountName, nil
}

func (f *flutterwaveAdapter) Transfer(ctx context.Context, req TransferRequest) (*TransferResult, error) {
	var resp flutterwaveEnvelope[struct {
		ID     int64  `json:"id"`
		Status string `json:"status"`
	}]
	err := f.call(ctx, "transfer", http.MethodPost, "/transfers", map[string]any{
		"account_bank":   req.BankCode,
		"account_number": req.AccountNumber,
		"amount":         toMajor(req.Amount),
		"currency":       req.Currency,
		"debit_currency": req.Currency,
		"reference":      req.Reference,
		"narration":      req.Narration,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return &TransferResult{TransferReference: itoa(resp.Data.ID), Status: resp.Data.Status}, nil
}
