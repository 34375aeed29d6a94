// Package notify delivers settlement events to merchants on a best-effort
// basis. Delivery never blocks or fails the caller.
package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/shopspring/decimal"
)

var deliveryFailures = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "payops_notification_failures_total",
	Help: "Notification deliveries that failed, labeled by channel",
}, []string{"channel"})

type EventType string

const (
	PaymentSettled     EventType = "payment.settled"
	PaymentFailed      EventType = "payment.failed"
	WithdrawalComplete EventType = "withdrawal.completed"
	WithdrawalReversed EventType = "withdrawal.reversed"
)

// Event is what merchants are told about. Amounts are minor units.
type Event struct {
	Type       EventType `json:"type"`
	MerchantID string    `json:"merchant_id"`
	Reference  string    `json:"reference"`
	Amount     int64     `json:"amount"`
	Currency   string    `json:"currency"`
	Commission int64     `json:"commission,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	At         time.Time `json:"at"`
}

// Display renders the amount in major units, e.g. "NGN 1500.50".
func (e Event) Display() string {
	return e.Currency + " " + decimal.New(e.Amount, -2).StringFixed(2)
}

func (e Event) MarshalJSON() ([]byte, error) {
	type alias Event
	return json.Marshal(struct {
		alias
		Display string `json:"display_amount"`
	}{alias(e), e.Display()})
}

// Channel is one delivery mechanism.
type Channel interface {
	Name() string
	Send(ctx context.Context, ev Event) error
}

// Dispatcher fans events out to every channel in the background.
type Dispatcher struct {
	channels []Channel
	logger   *slog.Logger
	timeout  time.Duration
	wg       sync.WaitGroup
}

func NewDispatcher(logger *slog.Logger, channels ...Channel) *Dispatcher {
	return &Dispatcher{channels: channels, logger: logger, timeout: 5 * time.Second}
}

// Notify returns immediately. Channel errors are logged and counted.
func (d *Dispatcher) Notify(ctx context.Context, ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	base := context.WithoutCancel(ctx)
	for _, ch := range d.channels {
		d.wg.Add(1)
		go func(ch Channel) {
			defer d.wg.Done()
			defer func() {
				if r := recover(); r != nil {
					deliveryFailures.WithLabelValues(ch.Name()).Inc()
					d.logger.Error("notification channel panicked", "channel", ch.Name(), "panic", r)
				}
			}()
			sctx, cancel := context.WithTimeout(base, d.timeout)
			defer cancel()
			if err := ch.Send(sctx, ev); err != nil {
				deliveryFailures.WithLabelValues(ch.Name()).Inc()
				d.logger.Warn("notification delivery failed", "channel", ch.Name(), "reference", ev.Reference, "error", err)
			}
		}(ch)
	}
}

// Wait blocks until in-flight deliveries finish. Used on shutdown.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// LogChannel writes events to the structured log.
type LogChannel struct {
	Logger *slog.Logger
}

func (LogChannel) Name() string { return "log" }

func (c LogChannel) Send(_ context.Context, ev Event) error {
	c.Logger.Info("merchant notification", "type", ev.Type, "merchant_id", ev.MerchantID,
		"reference", ev.Reference, "amount", ev.Display())
	return nil
}
