// Package ledger computes the balance movements produced by settlement and
// checks their conservation before anything is written.
package ledger

import (
	"errors"
	"fmt"

	"github.com/punchamoorthee/payops/internal/domain"
	"github.com/shopspring/decimal"
)

var ErrInvariantViolation = errors.New("ledger invariant violation")

const (
	PayeeCommissionPrefix    = "PCOM-"
	PlatformCommissionPrefix = "COM-"
)

// Split divides a settled net amount between the payee and the platform.
type Split struct {
	Net        int64
	Commission int64
	Payee      int64
}

// ComputeSplit returns commission = floor(net * rate) and payee = net - commission.
// The rate must be within [0, 1].
func ComputeSplit(net int64, rate decimal.Decimal) (Split, error) {
	if net < 0 {
		return Split{}, fmt.Errorf("%w: negative net amount %d", ErrInvariantViolation, net)
	}
	if rate.IsNegative() || rate.GreaterThan(decimal.NewFromInt(1)) {
		return Split{}, fmt.Errorf("%w: commission rate %s outside [0, 1]", ErrInvariantViolation, rate)
	}

	commission := decimal.NewFromInt(net).Mul(rate).Floor().IntPart()
	s := Split{Net: net, Commission: commission, Payee: net - commission}
	if err := s.Check(); err != nil {
		return Split{}, err
	}
	return s, nil
}

// Check verifies conservation and non-negativity of the split.
func (s Split) Check() error {
	if s.Commission < 0 || s.Payee < 0 {
		return fmt.Errorf("%w: negative leg in split %+v", ErrInvariantViolation, s)
	}
	if s.Commission+s.Payee != s.Net {
		return fmt.Errorf("%w: split %+v does not conserve net", ErrInvariantViolation, s)
	}
	return nil
}

// NetAmount applies provider-reported fees to the intent amount. Fees outside
// [0, amount] are ignored and the full amount is used.
func NetAmount(amount, fees int64) int64 {
	if fees <= 0 || fees > amount {
		return amount
	}
	return amount - fees
}

// SettlementEntries builds the entries for a settled payment. The payee wallet
// is credited with the net amount and debited with the commission, which is
// credited to the platform wallet. Commission entries are omitted when the
// commission is zero.
func SettlementEntries(reference string, s Split, payeeWallet, platformWallet int64) []domain.LedgerEntry {
	entries := []domain.LedgerEntry{
		{WalletID: payeeWallet, Type: domain.Credit, Source: domain.SourcePayment, Amount: s.Net, Reference: reference},
	}
	if s.Commission > 0 {
		entries = append(entries,
			domain.LedgerEntry{WalletID: payeeWallet, Type: domain.Debit, Source: domain.SourceCommission, Amount: s.Commission, Reference: PayeeCommissionPrefix + reference},
			domain.LedgerEntry{WalletID: platformWallet, Type: domain.Credit, Source: domain.SourceCommission, Amount: s.Commission, Reference: PlatformCommissionPrefix + reference},
		)
	}
	return entries
}

// Deltas sums the signed effect of entries per wallet.
func Deltas(entries []domain.LedgerEntry) map[int64]int64 {
	out := make(map[int64]int64, 2)
	for _, e := range entries {
		out[e.WalletID] += e.Signed()
	}
	return out
}

// CheckSettlement verifies that the entries credit exactly net across all
// wallets and payee across the payee wallet, and that no amount is negative.
func CheckSettlement(entries []domain.LedgerEntry, s Split, payeeWallet int64) error {
	var total int64
	for _, e := range entries {
		if e.Amount < 0 {
			return fmt.Errorf("%w: negative entry amount on %s", ErrInvariantViolation, e.Reference)
		}
		total += e.Signed()
	}
	if total != s.Net {
		return fmt.Errorf("%w: entries sum to %d, want %d", ErrInvariantViolation, total, s.Net)
	}
	if got := Deltas(entries)[payeeWallet]; got != s.Payee {
		return fmt.Errorf("%w: payee delta %d, want %d", ErrInvariantViolation, got, s.Payee)
	}
	return nil
}
