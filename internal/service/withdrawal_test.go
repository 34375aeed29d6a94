package service

import (
	"context"
	"strings"
	"testing"

	"github.com/punchamoorthee/payops/internal/domain"
	"github.com/punchamoorthee/payops/internal/logging"
	"github.com/punchamoorthee/payops/internal/notify"
	"github.com/punchamoorthee/payops/internal/provider"
	"github.com/punchamoorthee/payops/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type payoutAdapter struct {
	resolveErr     error
	transferErr    error
	transferStatus string
	transfers      []provider.TransferRequest
}

func (p *payoutAdapter) Name() string { return "stub" }

func (p *payoutAdapter) Initialize(context.Context, provider.InitializeRequest) (*provider.InitializeResult, error) {
	return &provider.InitializeResult{}, nil
}

func (p *payoutAdapter) Verify(context.Context, string) (*provider.VerifyResult, error) {
	return &provider.VerifyResult{}, nil
}

func (p *payoutAdapter) Refund(context.Context, string, int64) (*provider.RefundResult, error) {
	return &provider.RefundResult{}, nil
}

func (p *payoutAdapter) ResolveAccount(context.Context, string, string) (string, error) {
	if p.resolveErr != nil {
		return "", p.resolveErr
	}
	return "ADA OBI", nil
}

func (p *payoutAdapter) Transfer(_ context.Context, req provider.TransferRequest) (*provider.TransferResult, error) {
	p.transfers = append(p.transfers, req)
	if p.transferErr != nil {
		return nil, p.transferErr
	}
	status := p.transferStatus
	if status == "" {
		status = "pending"
	}
	return &provider.TransferResult{TransferReference: "TRF-1", Status: status}, nil
}

type staticResolver struct{ adapter provider.Adapter }

func (s staticResolver) AdapterFor(context.Context, string, string, domain.Environment) (provider.Adapter, error) {
	return s.adapter, nil
}

// fundedWallet settles a payment so that m1 holds 90000 and the platform 10000.
func fundedWallet(t *testing.T) (*store.Memory, *recordingNotifier) {
	t.Helper()
	settle, st, rec := newSettlement(t)
	seedIntent(t, st, "PAY-fund", "m1", 100000)
	_, err := settle.Settle(context.Background(), success("PAY-fund"))
	require.NoError(t, err)
	return st, rec
}

func withdrawalRequest(amount int64) WithdrawalRequest {
	return WithdrawalRequest{
		MerchantID:    "m1",
		Environment:   domain.EnvSandbox,
		Currency:      "NGN",
		Amount:        amount,
		AccountNumber: "0690000031",
		BankCode:      "044",
	}
}

func TestWithdraw_DebitsAmountAndFee(t *testing.T) {
	st, rec := fundedWallet(t)
	adapter := &payoutAdapter{}
	svc := NewWithdrawalService(st, staticResolver{adapter}, 100, platformOwner, rec, logging.Discard())

	w, err := svc.Withdraw(context.Background(), withdrawalRequest(50000))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(w.Reference, WithdrawalPrefix))
	assert.Equal(t, domain.WithdrawalCompleted, w.Status)
	assert.Equal(t, "ADA OBI", w.AccountName)

	assert.Equal(t, int64(90000-50000-100), balance(t, st, "m1"))
	assert.Equal(t, int64(10000+100), balance(t, st, platformOwner))

	stored, ok := st.Withdrawal(w.Reference)
	require.True(t, ok)
	assert.Equal(t, domain.WithdrawalCompleted, stored.Status)

	require.Len(t, adapter.transfers, 1)
	assert.Equal(t, w.Reference, adapter.transfers[0].Reference)

	events := rec.Events()
	assert.Equal(t, notify.WithdrawalComplete, events[len(events)-1].Type)
}

func TestWithdraw_InsufficientFunds(t *testing.T) {
	st, rec := fundedWallet(t)
	adapter := &payoutAdapter{}
	svc := NewWithdrawalService(st, staticResolver{adapter}, 100, platformOwner, rec, logging.Discard())

	_, err := svc.Withdraw(context.Background(), withdrawalRequest(89950))
	assert.ErrorIs(t, err, ErrInsufficientFunds)
	assert.Empty(t, adapter.transfers)
	assert.Equal(t, int64(90000), balance(t, st, "m1"))
}

func TestWithdraw_ReversesOnTransferFailure(t *testing.T) {
	st, rec := fundedWallet(t)
	adapter := &payoutAdapter{transferErr: &provider.Error{Provider: "stub", Op: "transfer", Kind: provider.KindNetwork}}
	svc := NewWithdrawalService(st, staticResolver{adapter}, 100, platformOwner, rec, logging.Discard())

	_, err := svc.Withdraw(context.Background(), withdrawalRequest(30000))
	assert.ErrorIs(t, err, ErrServiceUnavailable)

	assert.Equal(t, int64(90000), balance(t, st, "m1"))
	assert.Equal(t, int64(10000), balance(t, st, platformOwner))

	var reversals int
	var wdRef string
	for _, e := range st.AllEntries() {
		if strings.HasPrefix(e.Reference, reversalPrefix) {
			reversals++
		}
		if strings.HasPrefix(e.Reference, WithdrawalPrefix) {
			wdRef = e.Reference
		}
	}
	assert.Equal(t, 3, reversals)

	stored, ok := st.Withdrawal(wdRef)
	require.True(t, ok)
	assert.Equal(t, domain.WithdrawalReversed, stored.Status)

	events := rec.Events()
	assert.Equal(t, notify.WithdrawalReversed, events[len(events)-1].Type)
}

func TestWithdraw_ReversesDeclinedPayout(t *testing.T) {
	for _, status := range []string{"FAILED", "reversed"} {
		t.Run(status, func(t *testing.T) {
			st, rec := fundedWallet(t)
			adapter := &payoutAdapter{transferStatus: status}
			svc := NewWithdrawalService(st, staticResolver{adapter}, 100, platformOwner, rec, logging.Discard())

			_, err := svc.Withdraw(context.Background(), withdrawalRequest(10000))
			assert.ErrorIs(t, err, ErrServiceUnavailable)
			require.Len(t, adapter.transfers, 1)

			assert.Equal(t, int64(90000), balance(t, st, "m1"))
			assert.Equal(t, int64(10000), balance(t, st, platformOwner))

			stored, ok := st.Withdrawal(adapter.transfers[0].Reference)
			require.True(t, ok)
			assert.Equal(t, domain.WithdrawalReversed, stored.Status)
		})
	}
}

func TestWithdraw_AccountResolution(t *testing.T) {
	st, rec := fundedWallet(t)

	unsupported := &payoutAdapter{resolveErr: &provider.Error{Provider: "stub", Op: "resolve_account", Kind: provider.KindNotSupported}}
	svc := NewWithdrawalService(st, staticResolver{unsupported}, 0, platformOwner, rec, logging.Discard())
	w, err := svc.Withdraw(context.Background(), withdrawalRequest(1000))
	require.NoError(t, err)
	assert.Empty(t, w.AccountName)

	rejected := &payoutAdapter{resolveErr: &provider.Error{Provider: "stub", Op: "resolve_account", Kind: provider.KindRejected}}
	svc = NewWithdrawalService(st, staticResolver{rejected}, 0, platformOwner, rec, logging.Discard())
	_, err = svc.Withdraw(context.Background(), withdrawalRequest(1000))
	assert.ErrorIs(t, err, ErrInvalidWithdrawal)
	assert.Empty(t, rejected.transfers)
}

func TestWithdraw_InvalidRequest(t *testing.T) {
	st, rec := fundedWallet(t)
	svc := NewWithdrawalService(st, staticResolver{&payoutAdapter{}}, 0, platformOwner, rec, logging.Discard())

	_, err := svc.Withdraw(context.Background(), withdrawalRequest(0))
	assert.ErrorIs(t, err, ErrInvalidWithdrawal)

	req := withdrawalRequest(10)
	req.BankCode = ""
	_, err = svc.Withdraw(context.Background(), req)
	assert.ErrorIs(t, err, ErrInvalidWithdrawal)
}
