package alerting

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaNotifier appends alerts as JSON records to a topic, keyed by owner.
type KafkaNotifier struct {
	writer  messageWriter
	timeout time.Duration
	logger  zerolog.Logger
}

// KafkaOptions configure the alert stream.
type KafkaOptions struct {
	Brokers      []string
	Topic        string
	WriteTimeout time.Duration
}

// NewKafkaNotifier builds a synchronous writer; one alert is one record.
func NewKafkaNotifier(opts KafkaOptions, logger zerolog.Logger) *KafkaNotifier {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(opts.Brokers...),
		Topic:        opts.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchSize:    1,
		WriteTimeout: opts.WriteTimeout,
	}
	return newKafkaNotifier(writer, opts.WriteTimeout, logger)
}

func newKafkaNotifier(writer messageWriter, timeout time.Duration, logger zerolog.Logger) *KafkaNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &KafkaNotifier{
		writer:  writer,
		timeout: timeout,
		logger:  logger.With().Str("component", "alert_kafka").Logger(),
	}
}

// Notify writes note to the topic.
func (n *KafkaNotifier) Notify(ctx context.Context, note Notification) error {
	value, err := json.Marshal(note)
	if err != nil {
		return fmt.Errorf("marshal alert record: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	msg := kafka.Message{
		Key:   []byte(strconv.FormatUint(note.OwnerID, 10)),
		Value: value,
		Time:  note.DetectedAt,
	}
	if err := n.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write alert record: %w", err)
	}

	n.logger.Debug().Uint64("owner", note.OwnerID).Uint64("validator", note.ValidatorIndex).Msg("alert sent (kafka)")
	return nil
}

// Close flushes and closes the writer.
func (n *KafkaNotifier) Close() error {
	return n.writer.Close()
}

var _ Notifier = (*KafkaNotifier)(nil)
