package alerts

import (
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// EventType classifies trading notifications.
type EventType string

const (
	EventPatternDetected  EventType = "pattern_detected"
	EventEntryFilled      EventType = "entry_filled"
	EventStopLossExit     EventType = "stop_loss_exit"
	EventTrailingStopExit EventType = "trailing_stop_exit"
	EventBacktestDone     EventType = "backtest_done"
)

// Event is one notification payload.
type Event struct {
	Type      EventType `json:"type"`
	Symbol    string    `json:"symbol,omitempty"`
	Price     float64   `json:"price,omitempty"`
	Quantity  int       `json:"quantity,omitempty"`
	Score     int       `json:"score,omitempty"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Notifier delivers trading events. Implementations must be safe for
// concurrent use.
type Notifier interface {
	Notify(Event)
}

// LogNotifier writes events through the structured logger.
type LogNotifier struct {
	logger zerolog.Logger
}

// NewLogNotifier returns a Notifier backed by the global logger.
func NewLogNotifier() *LogNotifier {
	return &LogNotifier{logger: log.With().Str("component", "alerts").Logger()}
}

// Notify implements Notifier.
func (n *LogNotifier) Notify(ev Event) {
	evt := n.logger.Info().Str("event", string(ev.Type))
	if ev.Symbol != "" {
		evt = evt.Str("symbol", ev.Symbol)
	}
	if ev.Price > 0 {
		evt = evt.Float64("price", ev.Price)
	}
	if ev.Quantity > 0 {
		evt = evt.Int("quantity", ev.Quantity)
	}
	if ev.Score > 0 {
		evt = evt.Int("score", ev.Score)
	}
	evt.Msg(ev.Message)
}

// Nop discards all events.
type Nop struct{}

// Notify implements Notifier.
func (Nop) Notify(Event) {}
