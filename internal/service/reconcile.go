package service

import (
	"context"

	"github.com/punchamoorthee/payops/internal/domain"
	"github.com/punchamoorthee/payops/internal/provider"
)

// Verifier fetches a payment's status from its provider.
type Verifier interface {
	Verify(ctx context.Context, reference string) (*domain.PaymentIntent, *provider.VerifyResult, error)
}

// Reconcile verifies a payment with its provider and feeds the answer
// through Settle, so a manual check and a webhook take the same path. It
// returns the intent as stored afterwards.
func (s *SettlementService) Reconcile(ctx context.Context, v Verifier, reference string) (*domain.PaymentIntent, Outcome, error) {
	intent, res, err := v.Verify(ctx, reference)
	if err != nil {
		return nil, "", err
	}
	outcome, err := s.Settle(ctx, Notification{
		Provider:  intent.Provider,
		Reference: intent.Reference,
		Status:    res.Status,
		Amount:    res.Amount,
		Currency:  res.Currency,
		Fees:      res.Fees,
	})
	if err != nil {
		return nil, "", err
	}
	current, err := s.store.GetIntent(ctx, reference)
	if err != nil {
		return nil, "", err
	}
	return current, outcome, nil
}
