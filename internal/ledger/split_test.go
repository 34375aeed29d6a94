package ledger

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/punchamoorthee/payops/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeSplit_TenPercent(t *testing.T) {
	s, err := ComputeSplit(100000, decimal.RequireFromString("0.10"))
	require.NoError(t, err)
	assert.Equal(t, Split{Net: 100000, Commission: 10000, Payee: 90000}, s)
}

func TestComputeSplit_FloorsCommission(t *testing.T) {
	tests := []struct {
		net        int64
		rate       string
		commission int64
	}{
		{net: 99, rate: "0.10", commission: 9},
		{net: 9, rate: "0.10", commission: 0},
		{net: 1, rate: "0.999", commission: 0},
		{net: 0, rate: "0.10", commission: 0},
		{net: 333, rate: "0.015", commission: 4},
		{net: 1000, rate: "1", commission: 1000},
		{net: 1000, rate: "0", commission: 0},
	}
	for _, tt := range tests {
		s, err := ComputeSplit(tt.net, decimal.RequireFromString(tt.rate))
		require.NoError(t, err)
		assert.Equal(t, tt.commission, s.Commission, "net=%d rate=%s", tt.net, tt.rate)
		assert.Equal(t, tt.net-tt.commission, s.Payee)
	}
}

func TestComputeSplit_Conservation(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	for i := 0; i < 5000; i++ {
		net := r.Int63n(1 << 40)
		rate := decimal.NewFromInt(r.Int63n(10001)).Shift(-4)

		s, err := ComputeSplit(net, rate)
		require.NoError(t, err)
		assert.Equal(t, net, s.Commission+s.Payee)
		assert.GreaterOrEqual(t, s.Commission, int64(0))
		assert.GreaterOrEqual(t, s.Payee, int64(0))

		entries := SettlementEntries("PAY-x", s, 1, 2)
		require.NoError(t, CheckSettlement(entries, s, 1))
	}
}

func TestComputeSplit_RejectsInvalidInput(t *testing.T) {
	_, err := ComputeSplit(-1, decimal.RequireFromString("0.1"))
	assert.True(t, errors.Is(err, ErrInvariantViolation))

	_, err = ComputeSplit(100, decimal.RequireFromString("1.01"))
	assert.True(t, errors.Is(err, ErrInvariantViolation))
}

func TestSettlementEntries(t *testing.T) {
	s := Split{Net: 100000, Commission: 10000, Payee: 90000}
	entries := SettlementEntries("PAY-abc", s, 10, 20)

	require.Len(t, entries, 3)
	assert.Equal(t, domain.LedgerEntry{WalletID: 10, Type: domain.Credit, Source: domain.SourcePayment, Amount: 100000, Reference: "PAY-abc"}, entries[0])
	assert.Equal(t, "PCOM-PAY-abc", entries[1].Reference)
	assert.Equal(t, domain.Debit, entries[1].Type)
	assert.Equal(t, "COM-PAY-abc", entries[2].Reference)
	assert.Equal(t, int64(20), entries[2].WalletID)

	assert.Equal(t, map[int64]int64{10: 90000, 20: 10000}, Deltas(entries))
}

func TestSettlementEntries_NoCommission(t *testing.T) {
	entries := SettlementEntries("PAY-abc", Split{Net: 5, Payee: 5}, 10, 20)
	assert.Len(t, entries, 1)
}

func TestCheckSettlement_DetectsImbalance(t *testing.T) {
	s := Split{Net: 100, Commission: 10, Payee: 90}
	entries := SettlementEntries("PAY-abc", s, 1, 2)
	entries[2].Amount = 11

	err := CheckSettlement(entries, s, 1)
	assert.True(t, errors.Is(err, ErrInvariantViolation))
}

func TestNetAmount(t *testing.T) {
	assert.Equal(t, int64(1000), NetAmount(1000, 0))
	assert.Equal(t, int64(985), NetAmount(1000, 15))
	assert.Equal(t, int64(1000), NetAmount(1000, -3))
	assert.Equal(t, int64(1000), NetAmount(1000, 1001))
	assert.Equal(t, int64(0), NetAmount(1000, 1000))
}
