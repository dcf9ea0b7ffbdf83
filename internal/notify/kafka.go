package notify

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/xtrntr/tradebot/internal/market"
	"github.com/xtrntr/tradebot/internal/models"
)

var _ market.Notifier = (*KafkaNotifier)(nil)

// MessageWriter is the subset of *kafka.Writer used here
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaNotifier publishes notifications as JSON, keyed by user id so one
// user's messages stay ordered within a partition.
type KafkaNotifier struct {
	writer MessageWriter
	logger *zap.Logger
}

// NewKafkaWriter builds a synchronous writer for the notification topic
func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: 10 * time.Millisecond,
	}
}

func NewKafkaNotifier(writer MessageWriter, logger *zap.Logger) *KafkaNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KafkaNotifier{writer: writer, logger: logger}
}

func (k *KafkaNotifier) Notify(ctx context.Context, n models.Notification) {
	value, err := json.Marshal(n)
	if err != nil {
		k.logger.Error("Failed to encode notification", zap.Error(err))
		return
	}
	err = k.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(strconv.FormatInt(n.UserID, 10)),
		Value: value,
		Time:  n.CreatedAt,
	})
	if err != nil {
		k.logger.Warn("Failed to publish notification",
			zap.Int64("user_id", n.UserID),
			zap.String("kind", string(n.Kind)),
			zap.Error(err))
	}
}

func (k *KafkaNotifier) Close() error {
	return k.writer.Close()
}
