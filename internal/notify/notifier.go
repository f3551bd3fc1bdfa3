// Package notify fans market events out to chat channels (Telegram, Discord).
// Operators pick the event types they want; everything else is dropped.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/pollmarket/internal/domain"
)

// Event types emitted by the engine.
const (
	EventMarketResolved = "market_resolved"
	EventPoolRetained   = "pool_retained"
	EventPoolRefunded   = "pool_refunded"
)

// Sender delivers one message to one channel.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	Name() string
}

// Notifier dispatches to every Sender, filtered by event type. An empty
// event list lets everything through.
type Notifier struct {
	senders []Sender
	events  map[string]bool
	logger  *slog.Logger
}

// NewNotifier creates a Notifier for the given senders and allowed events.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[e] = true
		}
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Enabled reports whether the notifier has anywhere to send to.
func (n *Notifier) Enabled() bool {
	return n != nil && len(n.senders) > 0
}

// Notify sends title and message to every sender if event passes the filter.
func (n *Notifier) Notify(ctx context.Context, event, title, message string) error {
	if !n.Enabled() {
		return nil
	}
	if len(n.events) > 0 && !n.events[event] {
		n.logger.DebugContext(ctx, "event filtered out", slog.String("event", event))
		return nil
	}

	// One failing sender does not stop delivery to the rest.
	var errs []error
	for _, s := range n.senders {
		log := n.logger.With(slog.String("sender", s.Name()), slog.String("event", event))
		if err := s.Send(ctx, title, message); err != nil {
			log.ErrorContext(ctx, "sender failed", slog.String("error", err.Error()))
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		log.DebugContext(ctx, "notification sent")
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("notify: %d of %d sender(s) failed: %w", len(errs), len(n.senders), err)
	}
	return nil
}

// NotifySettlement announces a resolved poll. Polls nobody called correctly
// go out as pool_retained or pool_refunded instead of market_resolved.
func (n *Notifier) NotifySettlement(ctx context.Context, s domain.Settlement) error {
	event, title := SettlementEvent(s)
	return n.Notify(ctx, event, title, FormatSettlement(s))
}

// SettlementEvent classifies a settlement into an event type and title.
func SettlementEvent(s domain.Settlement) (event, title string) {
	switch {
	case s.Refunded:
		return EventPoolRefunded, "Pool refunded: " + s.PollID
	case s.WinningPool == 0:
		return EventPoolRetained, "Pool retained: " + s.PollID
	default:
		return EventMarketResolved, "Market resolved: " + s.PollID
	}
}

// FormatSettlement renders the settlement summary as plain text.
func FormatSettlement(s domain.Settlement) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Winning option: %s\n", s.WinningOptionID)
	if s.Source != "" {
		fmt.Fprintf(&b, "Source: %s\n", s.Source)
	}
	fmt.Fprintf(&b, "Pool: %d pts (winning side %d pts)\n", s.TotalPool, s.WinningPool)
	fmt.Fprintf(&b, "Paid out: %d pts to %d winner(s), %d loser(s)\n", s.PaidOut, s.Winners, s.Losers)
	fmt.Fprintf(&b, "House: %d pts", s.HouseRetained)
	return b.String()
}
