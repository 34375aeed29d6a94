// Package webhook authenticates provider callbacks and hands them to
// settlement.
package webhook

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/punchamoorthee/payops/internal/domain"
	"github.com/punchamoorthee/payops/internal/provider"
	"github.com/punchamoorthee/payops/internal/service"
	"github.com/punchamoorthee/payops/internal/store"
)

var (
	ErrUnknownReference = errors.New("unknown payment reference")
	ErrSignature        = errors.New("webhook signature verification failed")
	ErrProviderMismatch = errors.New("webhook provider does not match intent")
)

var (
	webhooksReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payops_webhooks_received_total",
		Help: "Inbound provider webhooks, labeled by provider and result",
	}, []string{"provider", "result"})

	signatureFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payops_webhook_signature_failures_total",
		Help: "Webhooks rejected because their signature did not verify",
	}, []string{"provider"})
)

// EventStore is the persistence the processor needs.
type EventStore interface {
	GetIntent(ctx context.Context, reference string) (*domain.PaymentIntent, error)
	GetCredential(ctx context.Context, merchantID, provider string, env domain.Environment) (*domain.ProviderCredential, error)
	RecordWebhookEvent(ctx context.Context, ev *domain.WebhookEvent) error
	SetWebhookResult(ctx context.Context, provider, payloadHash, processingError string) error
}

type Settler interface {
	Settle(ctx context.Context, n service.Notification) (service.Outcome, error)
}

type Result struct {
	Reference string
	Outcome   service.Outcome
	// SettleErr is set when the callback was authentic but settlement did not
	// complete. The delivery is still acknowledged.
	SettleErr error
}

type Processor struct {
	store           EventStore
	settler         Settler
	logger          *slog.Logger
	allowUnverified bool
}

// NewProcessor builds a processor. allowUnverified skips signature checks and
// must only be true outside production.
func NewProcessor(st EventStore, settler Settler, logger *slog.Logger, allowUnverified bool) *Processor {
	return &Processor{store: st, settler: settler, logger: logger, allowUnverified: allowUnverified}
}

// Handle authenticates one delivery and settles it. An error means the
// delivery must be rejected; a nil error means it must be acknowledged.
func (p *Processor) Handle(ctx context.Context, providerName string, payload []byte, headers http.Header) (*Result, error) {
	parser, ok := ParserFor(providerName)
	if !ok {
		return nil, fmt.Errorf("%w: %s", provider.ErrUnknownProvider, providerName)
	}
	name := parser.Provider()
	log := p.logger.With("provider", name)

	cb, err := parser.Parse(payload)
	if err != nil {
		webhooksReceived.WithLabelValues(name, "malformed").Inc()
		log.Warn("malformed webhook payload", "error", err)
		return nil, err
	}

	sum := sha256.Sum256(payload)
	ev := &domain.WebhookEvent{
		Provider:    name,
		Event:       cb.Event,
		Reference:   cb.Reference,
		PayloadHash: hex.EncodeToString(sum[:]),
		Payload:     payload,
	}
	log = log.With("event", cb.Event, "reference", cb.Reference)

	if !cb.Relevant {
		p.record(ctx, ev, log)
		webhooksReceived.WithLabelValues(name, "ignored").Inc()
		log.Debug("webhook event not relevant to settlement")
		return &Result{Reference: cb.Reference, Outcome: service.OutcomeIgnored}, nil
	}

	// The reference is untrusted until the signature checks out; it is only
	// used to find whose secret to verify with.
	intent, err := p.store.GetIntent(ctx, cb.Reference)
	if errors.Is(err, store.ErrNotFound) {
		p.record(ctx, ev, log)
		webhooksReceived.WithLabelValues(name, "unknown_reference").Inc()
		log.Warn("webhook for unknown reference")
		return nil, ErrUnknownReference
	}
	if err != nil {
		return nil, err
	}
	if intent.Provider != name {
		p.record(ctx, ev, log)
		webhooksReceived.WithLabelValues(name, "provider_mismatch").Inc()
		log.Warn("webhook provider does not match intent", "intent_provider", intent.Provider)
		return nil, ErrProviderMismatch
	}

	if !p.verify(ctx, parser, intent, payload, headers.Get(parser.SignatureHeader()), log) {
		p.record(ctx, ev, log)
		signatureFailures.WithLabelValues(name).Inc()
		webhooksReceived.WithLabelValues(name, "bad_signature").Inc()
		log.Warn("webhook signature verification failed", "event_type", "security", "merchant_id", intent.MerchantID)
		return nil, ErrSignature
	}
	ev.SignatureValid = true
	p.record(ctx, ev, log)

	outcome, err := p.settler.Settle(ctx, service.Notification{
		Provider:  name,
		Reference: cb.Reference,
		Status:    cb.Status,
		Amount:    cb.Amount,
		Currency:  cb.Currency,
		Fees:      cb.Fees,
	})
	res := &Result{Reference: cb.Reference, Outcome: outcome, SettleErr: err}
	if err != nil {
		webhooksReceived.WithLabelValues(name, "settle_error").Inc()
		log.Error("settlement failed for authentic webhook", "error", err)
		if serr := p.store.SetWebhookResult(ctx, name, ev.PayloadHash, err.Error()); serr != nil {
			log.Warn("could not record webhook result", "error", serr)
		}
		return res, nil
	}
	webhooksReceived.WithLabelValues(name, string(outcome)).Inc()
	return res, nil
}

func (p *Processor) verify(ctx context.Context, parser Parser, intent *domain.PaymentIntent, payload []byte, header string, log *slog.Logger) bool {
	if p.allowUnverified {
		log.Warn("webhook signature check skipped", "event_type", "security")
		return true
	}
	cred, err := p.store.GetCredential(ctx, intent.MerchantID, intent.Provider, intent.Environment)
	if err != nil {
		log.Warn("no credential to verify webhook", "merchant_id", intent.MerchantID, "error", err)
		return false
	}
	if !cred.Active {
		log.Warn("webhook signed for an inactive credential", "merchant_id", intent.MerchantID)
		return false
	}
	return parser.Verify(payload, header, *cred)
}

func (p *Processor) record(ctx context.Context, ev *domain.WebhookEvent, log *slog.Logger) {
	if err := p.store.RecordWebhookEvent(ctx, ev); err != nil {
		log.Warn("could not record webhook event", "error", err)
	}
}
