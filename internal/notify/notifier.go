// Package notify provides multi-channel operator alerts. Notifications are
// dispatched to all registered senders (Telegram, Discord) and filtered by
// event type so operators receive only the alerts they care about.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/alanyoungcy/dexarb/internal/domain"
)

// Event types operators can subscribe to.
const (
	EventBreakerHalted      = "breaker_halted"
	EventManualIntervention = "manual_intervention"
	EventExecutionSettled   = "execution_settled"
)

// Sender is the interface that each notification channel must implement.
type Sender interface {
	// Send delivers a notification with the given title and message body.
	Send(ctx context.Context, title, message string) error
	// Name returns a human-readable identifier for the sender (e.g. "telegram").
	Name() string
}

// Notifier dispatches notifications to one or more Senders. It maintains a
// set of allowed event types; Notify only forwards messages whose event type
// is in the allowed set.
type Notifier struct {
	senders []Sender
	events  map[string]bool
	logger  *slog.Logger
}

// NewNotifier creates a Notifier that will deliver to the given senders. Only
// events whose type appears in the events slice will be forwarded. If events
// is empty, all event types are allowed.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		allowed[strings.TrimSpace(e)] = true
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Notify sends a notification to all senders only if the event type is in
// the allowed list.
func (n *Notifier) Notify(ctx context.Context, event, title, message string) error {
	if len(n.events) > 0 && !n.events[event] {
		n.logger.DebugContext(ctx, "event filtered out",
			slog.String("event", event),
		)
		return nil
	}
	return n.dispatch(ctx, title, message)
}

// BreakerHalted alerts operators that the circuit breaker tripped.
func (n *Notifier) BreakerHalted(ctx context.Context, state domain.CircuitBreakerState) error {
	msg := fmt.Sprintf(
		"reason: %s\nconsecutive losses: %d\ndaily loss: $%.2f\nfailure rate: %.0f%%\nresume: %s",
		state.Reason,
		state.ConsecutiveLosses,
		state.DailyLossUSD,
		state.WindowFailureRate*100,
		state.ResumeAt.Format(time.RFC3339),
	)
	return n.Notify(ctx, EventBreakerHalted, "Circuit breaker halted", msg)
}

// ExecutionSettled reports one settled execution. Records needing manual
// intervention additionally fire the dedicated event, which operators
// typically keep enabled even when routine settlements are filtered out.
func (n *Notifier) ExecutionSettled(ctx context.Context, rec domain.PerformanceRecord) error {
	if rec.ManualIntervention {
		msg := fmt.Sprintf(
			"route: %s\nopportunity: %s\nrealized: $%.2f\nfailure: %s\nposition must be unwound by hand",
			rec.RouteKey, rec.OpportunityID, rec.ProfitUSD, rec.FailureReason,
		)
		if err := n.Notify(ctx, EventManualIntervention, "Manual intervention required", msg); err != nil {
			return err
		}
	}

	outcome := "profit"
	if rec.Loss() {
		outcome = "loss"
	}
	msg := fmt.Sprintf(
		"route: %s\n%s: $%.2f\nduration: %s\nsucceeded: %t",
		rec.RouteKey, outcome, rec.ProfitUSD, rec.Duration.Round(time.Millisecond), rec.Succeeded,
	)
	return n.Notify(ctx, EventExecutionSettled, "Execution settled", msg)
}

// dispatch iterates over all senders. Errors from individual senders are
// collected and returned combined; a single sender failure does not prevent
// delivery to the remaining senders.
func (n *Notifier) dispatch(ctx context.Context, title, message string) error {
	if len(n.senders) == 0 {
		return nil
	}

	var errs []string
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Sprintf("%s: %v", s.Name(), err))
		} else {
			n.logger.DebugContext(ctx, "notification sent",
				slog.String("sender", s.Name()),
				slog.String("title", title),
			)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %s", len(errs), strings.Join(errs, "; "))
	}
	return nil
}
