package improvement

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/council-ai/backend/internal/metrics"
	"github.com/council-ai/backend/pkg/circuitbreaker"
	"github.com/council-ai/backend/pkg/logger"
	"github.com/council-ai/backend/pkg/retry"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher delivers retraining signals to a topic, keyed by category
// so one category's signals stay ordered on a partition.
type KafkaPublisher struct {
	writer  messageWriter
	topic   string
	cb      *circuitbreaker.CircuitBreaker
	retry   retry.Config
	timeout time.Duration
	logger  *zap.Logger
}

func NewKafkaPublisher(brokers []string, topic string) (*KafkaPublisher, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers are required")
	}
	if topic == "" {
		return nil, fmt.Errorf("kafka topic is required")
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
	}
	return newKafkaPublisher(w, topic), nil
}

func newKafkaPublisher(w messageWriter, topic string) *KafkaPublisher {
	log := logger.Named("kafka-publisher")

	cb := circuitbreaker.NewCircuitBreaker("kafka-retraining", circuitbreaker.Config{
		MaxRequests:      1,
		Window:           time.Minute,
		Cooldown:         30 * time.Second,
		FailureThreshold: 5,
		SuccessThreshold: 1,
		OnStateChange:    metrics.BreakerTransition,
		Logger:           log,
	})

	retryCfg := retry.DefaultConfig()
	retryCfg.Name = "kafka-retraining"
	retryCfg.MaxAttempts = 3
	retryCfg.InitialDelay = 200 * time.Millisecond
	retryCfg.OnRetry = metrics.RetryObserver(retryCfg.Name)
	retryCfg.Logger = log

	return &KafkaPublisher{
		writer:  w,
		topic:   topic,
		cb:      cb,
		retry:   retryCfg,
		timeout: 10 * time.Second,
		logger:  log,
	}
}

func (p *KafkaPublisher) Publish(ctx context.Context, signal RetrainingSignal) error {
	value, err := json.Marshal(signal)
	if err != nil {
		return fmt.Errorf("failed to encode retraining signal: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(signal.CategoryID),
		Value: value,
		Time:  signal.Timestamp,
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	err = p.cb.Execute(ctx, func() error {
		return retry.Do(ctx, p.retry, func() error {
			return p.writer.WriteMessages(ctx, msg)
		})
	})
	if err != nil {
		return fmt.Errorf("failed to publish retraining signal: %w", err)
	}

	p.logger.Info("Retraining signal published",
		zap.String("topic", p.topic),
		zap.String("category", signal.CategoryID),
		zap.Int("example_count", signal.ExampleCount))
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
