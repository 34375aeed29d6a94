package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/punchamoorthee/payops/internal/auth"
	"github.com/punchamoorthee/payops/internal/notify"
	"github.com/punchamoorthee/payops/internal/provider"
	"github.com/punchamoorthee/payops/internal/ratelimit"
	"github.com/punchamoorthee/payops/internal/routing"
	"github.com/punchamoorthee/payops/internal/service"
	"github.com/punchamoorthee/payops/internal/store"
	"github.com/punchamoorthee/payops/internal/webhook"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payops_http_requests_total",
		Help: "Total HTTP requests processed, labeled by status code",
	}, []string{"method", "endpoint", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "payops_http_request_duration_seconds",
		Help:    "Latency distribution of HTTP requests",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
	}, []string{"method", "endpoint"})
)

const maxBodyBytes = 1 << 20

// Deps are the collaborators behind the HTTP surface.
type Deps struct {
	Store         store.Store
	Engine        *routing.Engine
	Settlement    *service.SettlementService
	Withdrawals   *service.WithdrawalService
	Webhooks      *webhook.Processor
	Auth          *auth.Authenticator
	Limiter       *ratelimit.Limiter
	Hub           *notify.Hub
	Logger        *slog.Logger
	SettleTimeout time.Duration
}

type Handler struct {
	Deps
}

func NewHandler(d Deps) *Handler {
	if d.SettleTimeout == 0 {
		d.SettleTimeout = 15 * time.Second
	}
	return &Handler{Deps: d}
}

// NewRouter wires every route. Client routes pass through authentication and
// then rate limiting; webhooks authenticate by signature instead.
func NewRouter(h *Handler) *mux.Router {
	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.Handler())
	r.HandleFunc("/health", h.HealthCheckHandler).Methods(http.MethodGet)
	r.HandleFunc("/ws", h.authenticate(h.WebsocketHandler)).Methods(http.MethodGet)

	hooks := r.PathPrefix("/webhooks").Subrouter()
	hooks.Use(instrument)
	hooks.HandleFunc("/{provider}", h.WebhookHandler).Methods(http.MethodPost)

	apiV1 := r.PathPrefix("/api/v1").Subrouter()
	apiV1.Use(instrument)
	apiV1.HandleFunc("/auth/token", h.TokenHandler).Methods(http.MethodPost)
	apiV1.HandleFunc("/payments/initialize", h.client(h.InitializePaymentHandler)).Methods(http.MethodPost)
	apiV1.HandleFunc("/payments/{reference}", h.client(h.GetPaymentHandler)).Methods(http.MethodGet)
	apiV1.HandleFunc("/payments/{reference}/verify", h.client(h.VerifyPaymentHandler)).Methods(http.MethodPost)
	apiV1.HandleFunc("/wallets/{currency}", h.client(h.GetWalletHandler)).Methods(http.MethodGet)
	apiV1.HandleFunc("/withdrawals", h.client(h.CreateWithdrawalHandler)).Methods(http.MethodPost)
	return r
}

func (h *Handler) client(next http.HandlerFunc) http.HandlerFunc {
	return h.authenticate(h.rateLimit(next))
}

// errorResponse maps a domain error to a status code and a message that is
// safe to show the caller.
func errorResponse(err error) (int, string) {
	var (
		initErr     *routing.InitializationError
		fallbackErr *routing.FallbackError
		exceeded    *ratelimit.ExceededError
		providerErr *provider.Error
		validation  *validationError
	)
	switch {
	case errors.Is(err, errMalformedBody):
		return http.StatusBadRequest, "Malformed JSON body"
	case errors.As(err, &validation):
		return http.StatusUnprocessableEntity, validation.Error()
	case errors.Is(err, routing.ErrInvalidRequest), errors.Is(err, service.ErrInvalidWithdrawal):
		return http.StatusUnprocessableEntity, err.Error()
	case errors.Is(err, provider.ErrUnknownProvider), errors.Is(err, provider.ErrDisabled):
		return http.StatusUnprocessableEntity, "Provider not available"
	case errors.Is(err, routing.ErrMissingCredential), errors.Is(err, routing.ErrNoProviders):
		return http.StatusUnprocessableEntity, "No provider configured for this merchant"
	case errors.Is(err, routing.ErrReferenceConflict):
		return http.StatusConflict, "Reference already used for a different payment"
	case errors.Is(err, routing.ErrIntentNotFound), errors.Is(err, service.ErrIntentNotFound), errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, "Not found"
	case errors.Is(err, service.ErrInsufficientFunds):
		return http.StatusUnprocessableEntity, "Insufficient funds"
	case errors.As(err, &exceeded):
		return http.StatusTooManyRequests, "Rate limit exceeded"
	case errors.Is(err, auth.ErrInvalidCredentials), errors.Is(err, auth.ErrInvalidToken):
		return http.StatusUnauthorized, "Invalid credentials"
	case errors.Is(err, auth.ErrInactiveClient):
		return http.StatusForbidden, "Client is inactive"
	case errors.As(err, &initErr), errors.As(err, &fallbackErr), errors.As(err, &providerErr),
		errors.Is(err, service.ErrServiceUnavailable):
		return http.StatusBadGateway, "Payment provider unavailable, please try again"
	}
	return http.StatusInternalServerError, "Internal Server Error"
}

// respondWithErr logs the detailed reason for operators and sends the
// generic message to the caller.
func (h *Handler) respondWithErr(w http.ResponseWriter, r *http.Request, err error) {
	code, msg := errorResponse(err)
	var exceeded *ratelimit.ExceededError
	if errors.As(err, &exceeded) {
		w.Header().Set("Retry-After", retryAfter(exceeded.RetryAfter))
	}
	level := slog.LevelInfo
	if code >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	h.Logger.Log(r.Context(), level, "request failed", "method", r.Method, "path", r.URL.Path, "status", code, "error", err)
	respondWithError(w, code, msg)
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, map[string]string{"status": "error", "message": message})
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if payload != nil {
		json.NewEncoder(w).Encode(payload)
	}
}
