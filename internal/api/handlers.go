package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/punchamoorthee/payops/internal/domain"
	"github.com/punchamoorthee/payops/internal/models"
	"github.com/punchamoorthee/payops/internal/provider"
	"github.com/punchamoorthee/payops/internal/routing"
	"github.com/punchamoorthee/payops/internal/service"
	"github.com/punchamoorthee/payops/internal/store"
	"github.com/punchamoorthee/payops/internal/webhook"
)

const walletEntryLimit = 50

func (h *Handler) HealthCheckHandler(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) TokenHandler(w http.ResponseWriter, r *http.Request) {
	var req models.TokenRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.respondWithErr(w, r, err)
		return
	}
	p, err := h.Auth.Authenticate(r.Context(), req.ClientID, req.ClientSecret)
	if err != nil {
		h.respondWithErr(w, r, err)
		return
	}
	if err := h.Limiter.Allow(r.Context(), p.ClientID); err != nil {
		h.respondWithErr(w, r, err)
		return
	}
	token, expires, err := h.Auth.Issue(p)
	if err != nil {
		h.respondWithErr(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, models.TokenResponse{Token: token, TokenType: "Bearer", ExpiresAt: expires.Unix()})
}

func (h *Handler) InitializePaymentHandler(w http.ResponseWriter, r *http.Request) {
	p := principalFrom(r.Context())

	var req models.InitializePaymentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.respondWithErr(w, r, err)
		return
	}

	res, err := h.Engine.Initialize(r.Context(), routing.Request{
		MerchantID:  p.MerchantID,
		Environment: p.Environment,
		Provider:    req.Provider,
		Amount:      req.Amount,
		Currency:    strings.ToUpper(req.Currency),
		Email:       req.Email,
		Reference:   req.Reference,
		CallbackURL: req.CallbackURL,
		Metadata:    req.Metadata,
	})
	if err != nil {
		h.respondWithErr(w, r, err)
		return
	}

	// Replay of a known client reference
	if res.Replayed {
		respondWithJSON(w, http.StatusOK, res)
		return
	}
	w.Header().Set("Location", "/api/v1/payments/"+res.Reference)
	respondWithJSON(w, http.StatusCreated, res)
}

// ownedIntent loads an intent and hides it from other merchants.
func (h *Handler) ownedIntent(r *http.Request) (*domain.PaymentIntent, error) {
	intent, err := h.Store.GetIntent(r.Context(), mux.Vars(r)["reference"])
	if err != nil {
		return nil, err
	}
	if intent.MerchantID != principalFrom(r.Context()).MerchantID {
		return nil, store.ErrNotFound
	}
	return intent, nil
}

func (h *Handler) GetPaymentHandler(w http.ResponseWriter, r *http.Request) {
	intent, err := h.ownedIntent(r)
	if err != nil {
		h.respondWithErr(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, models.NewPaymentResponse(intent))
}

func (h *Handler) VerifyPaymentHandler(w http.ResponseWriter, r *http.Request) {
	owned, err := h.ownedIntent(r)
	if err != nil {
		h.respondWithErr(w, r, err)
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), h.SettleTimeout)
	defer cancel()
	intent, outcome, err := h.Settlement.Reconcile(ctx, h.Engine, owned.Reference)
	if err != nil {
		h.respondWithErr(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, models.VerifyResponse{Payment: models.NewPaymentResponse(intent), Outcome: string(outcome)})
}

func (h *Handler) GetWalletHandler(w http.ResponseWriter, r *http.Request) {
	p := principalFrom(r.Context())
	currency := strings.ToUpper(mux.Vars(r)["currency"])

	wallet, err := h.Store.GetWallet(r.Context(), p.MerchantID, currency)
	if errors.Is(err, store.ErrNotFound) {
		respondWithJSON(w, http.StatusOK, models.WalletResponse{Currency: currency, Entries: []domain.LedgerEntry{}})
		return
	}
	if err != nil {
		h.respondWithErr(w, r, err)
		return
	}
	entries, err := h.Store.ListEntries(r.Context(), wallet.ID, walletEntryLimit)
	if err != nil {
		h.respondWithErr(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, models.WalletResponse{Currency: currency, Balance: wallet.Balance, Entries: entries})
}

func (h *Handler) CreateWithdrawalHandler(w http.ResponseWriter, r *http.Request) {
	p := principalFrom(r.Context())

	var req models.WithdrawalRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.respondWithErr(w, r, err)
		return
	}

	wd, err := h.Withdrawals.Withdraw(r.Context(), service.WithdrawalRequest{
		MerchantID:    p.MerchantID,
		Environment:   p.Environment,
		Provider:      req.Provider,
		Currency:      strings.ToUpper(req.Currency),
		Amount:        req.Amount,
		AccountNumber: req.AccountNumber,
		BankCode:      req.BankCode,
		AccountName:   req.AccountName,
		Narration:     req.Narration,
	})
	if err != nil {
		h.respondWithErr(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, wd)
}

// WebhookHandler acknowledges every authentic delivery with 200, whatever
// settlement made of it, so providers do not retry.
func (h *Handler) WebhookHandler(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["provider"]

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Unreadable body")
		return
	}

	// Settlement runs to completion even if the provider hangs up.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), h.SettleTimeout)
	defer cancel()

	res, err := h.Webhooks.Handle(ctx, name, body, r.Header)
	if err != nil {
		switch {
		case errors.Is(err, provider.ErrUnknownProvider):
			respondWithError(w, http.StatusNotFound, "Unknown provider")
		case errors.Is(err, webhook.ErrMalformed), errors.Is(err, webhook.ErrProviderMismatch):
			respondWithError(w, http.StatusBadRequest, "Invalid payload")
		case errors.Is(err, webhook.ErrUnknownReference):
			respondWithError(w, http.StatusNotFound, "Unknown reference")
		case errors.Is(err, webhook.ErrSignature):
			respondWithError(w, http.StatusUnauthorized, "Invalid signature")
		default:
			h.respondWithErr(w, r, err)
		}
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok", "outcome": string(res.Outcome)})
}

func (h *Handler) WebsocketHandler(w http.ResponseWriter, r *http.Request) {
	h.Hub.Serve(w, r, principalFrom(r.Context()).MerchantID)
}
