package alerting

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Notification is one alert addressed to a subscriber.
type Notification struct {
	OwnerID        uint64    `json:"owner_id"`
	ValidatorIndex uint64    `json:"validator_index"`
	Kind           string    `json:"kind"`
	Amount         uint64    `json:"amount,omitempty"`
	Message        string    `json:"message"`
	DetectedAt     time.Time `json:"detected_at"`
}

// Notifier delivers notifications to one channel.
type Notifier interface {
	Notify(ctx context.Context, note Notification) error
}

// Format controls how amounts are rendered for humans.
type Format struct {
	Unit     string
	Decimals int32
}

// HumanAmount renders a gwei-denominated amount in the configured unit.
func (f Format) HumanAmount(amount uint64) string {
	value := decimal.NewFromBigInt(new(big.Int).SetUint64(amount), -f.Decimals)
	if f.Unit == "" {
		return value.String()
	}
	return value.String() + " " + f.Unit
}

// Render builds the chat text for a notification.
func (f Format) Render(note Notification) string {
	builder := strings.Builder{}
	builder.WriteString("[stakemon] ")
	builder.WriteString(note.Message)
	builder.WriteString("\n")
	if note.Amount > 0 {
		builder.WriteString(fmt.Sprintf("Loss: %s\n", f.HumanAmount(note.Amount)))
	}
	if !note.DetectedAt.IsZero() {
		builder.WriteString(fmt.Sprintf("Detected: %s UTC\n", note.DetectedAt.UTC().Format(time.RFC3339)))
	}
	return builder.String()
}

// Multi fans a notification out to several channels.
// Every channel is attempted; failures are joined.
type Multi struct {
	notifiers map[string]Notifier
	order     []string
	logger    zerolog.Logger
}

// NewMulti builds an empty fan-out notifier.
func NewMulti(logger zerolog.Logger) *Multi {
	return &Multi{
		notifiers: make(map[string]Notifier),
		logger:    logger.With().Str("component", "alert_dispatch").Logger(),
	}
}

// Add registers a channel under name.
func (m *Multi) Add(name string, n Notifier) {
	if _, exists := m.notifiers[name]; !exists {
		m.order = append(m.order, name)
	}
	m.notifiers[name] = n
}

// Channels lists the registered channel names.
func (m *Multi) Channels() []string {
	return append([]string(nil), m.order...)
}

// Notify delivers note to every channel.
func (m *Multi) Notify(ctx context.Context, note Notification) error {
	var errs []error
	for _, name := range m.order {
		if err := m.notifiers[name].Notify(ctx, note); err != nil {
			m.logger.Error().Err(err).Str("channel", name).
				Uint64("owner", note.OwnerID).
				Uint64("validator", note.ValidatorIndex).
				Msg("failed to dispatch alert")
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

// Close releases channels that hold connections.
func (m *Multi) Close() error {
	var errs []error
	for _, name := range m.order {
		if closer, ok := m.notifiers[name].(interface{ Close() error }); ok {
			if err := closer.Close(); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
			}
		}
	}
	return errors.Join(errs...)
}

var _ Notifier = (*Multi)(nil)
