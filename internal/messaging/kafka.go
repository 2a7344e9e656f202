package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/Aidin1998/amlwatch/internal/config"
	"github.com/Aidin1998/amlwatch/pkg/errors"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// KafkaConfig contains configuration for Kafka connection
type KafkaConfig struct {
	Brokers         []string      `json:"brokers"`
	ReadTimeout     time.Duration `json:"read_timeout"`
	WriteTimeout    time.Duration `json:"write_timeout"`
	BatchSize       int           `json:"batch_size"`
	BatchTimeout    time.Duration `json:"batch_timeout"`
	RequiredAcks    int           `json:"required_acks"`
	Compression     string        `json:"compression"`
	RetryMax        int           `json:"retry_max"`
	MaxMessageBytes int           `json:"max_message_bytes"`
}

// DefaultKafkaConfig favors delivery over latency; alerts are low volume
func DefaultKafkaConfig() *KafkaConfig {
	return &KafkaConfig{
		Brokers:         []string{"localhost:9092"},
		ReadTimeout:     10 * time.Second,
		WriteTimeout:    5 * time.Second,
		BatchSize:       100,
		BatchTimeout:    50 * time.Millisecond,
		RequiredAcks:    int(kafka.RequireAll),
		Compression:     "snappy",
		RetryMax:        3,
		MaxMessageBytes: 10 << 20,
	}
}

// ConfigFrom overlays the process settings on the defaults
func ConfigFrom(c config.KafkaConfig) *KafkaConfig {
	cfg := DefaultKafkaConfig()
	if len(c.Brokers) > 0 {
		cfg.Brokers = c.Brokers
	}
	return cfg
}

// MessageHandler defines the callback function for processing messages
type MessageHandler func(ctx context.Context, msg *ReceivedMessage) error

// ReceivedMessage represents a received message with metadata
type ReceivedMessage struct {
	Topic     string
	Key       string
	Value     []byte
	Headers   map[string][]byte
	Offset    int64
	Partition int
	Timestamp time.Time
}

// BatchMessage represents a message in a batch operation
type BatchMessage struct {
	Key     string
	Message interface{}
}

// KafkaProducer publishes JSON messages, one writer per topic
type KafkaProducer struct {
	config  *KafkaConfig
	writers map[Topic]*kafka.Writer
	logger  *zap.SugaredLogger
	mu      sync.RWMutex
}

func NewKafkaProducer(config *KafkaConfig, logger *zap.SugaredLogger) *KafkaProducer {
	if config == nil {
		config = DefaultKafkaConfig()
	}
	return &KafkaProducer{
		config:  config,
		writers: make(map[Topic]*kafka.Writer),
		logger:  logger,
	}
}

// getWriter returns or creates a writer for the specified topic
func (p *KafkaProducer) getWriter(topic Topic) *kafka.Writer {
	p.mu.RLock()
	writer, exists := p.writers[topic]
	p.mu.RUnlock()

	if exists {
		return writer
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	// Double-check pattern
	if writer, exists := p.writers[topic]; exists {
		return writer
	}

	writer = &kafka.Writer{
		Addr:         kafka.TCP(p.config.Brokers...),
		Topic:        string(topic),
		Balancer:     &kafka.Hash{}, // same key, same partition
		BatchSize:    p.config.BatchSize,
		BatchTimeout: p.config.BatchTimeout,
		ReadTimeout:  p.config.ReadTimeout,
		WriteTimeout: p.config.WriteTimeout,
		RequiredAcks: kafka.RequiredAcks(p.config.RequiredAcks),
		MaxAttempts:  p.config.RetryMax,
		BatchBytes:   int64(p.config.MaxMessageBytes),
	}

	switch p.config.Compression {
	case "gzip":
		writer.Compression = kafka.Gzip
	case "lz4":
		writer.Compression = kafka.Lz4
	case "zstd":
		writer.Compression = kafka.Zstd
	default:
		writer.Compression = kafka.Snappy
	}

	p.writers[topic] = writer
	return writer
}

// Publish publishes a single message to the specified topic
func (p *KafkaProducer) Publish(ctx context.Context, topic Topic, key string, message interface{}) error {
	return p.PublishBatch(ctx, topic, []BatchMessage{{Key: key, Message: message}})
}

// PublishBatch publishes multiple messages in a single write
func (p *KafkaProducer) PublishBatch(ctx context.Context, topic Topic, messages []BatchMessage) error {
	if len(messages) == 0 {
		return nil
	}
	kafkaMessages, err := encodeMessages(messages)
	if err != nil {
		return err
	}
	if err := p.getWriter(topic).WriteMessages(ctx, kafkaMessages...); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}
	return nil
}

func encodeMessages(messages []BatchMessage) ([]kafka.Message, error) {
	out := make([]kafka.Message, len(messages))
	now := time.Now()
	for i, msg := range messages {
		data, err := json.Marshal(msg.Message)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal message %d: %w", i, err)
		}
		out[i] = kafka.Message{Key: []byte(msg.Key), Value: data, Time: now}
	}
	return out, nil
}

// Close closes the producer and all its writers
func (p *KafkaProducer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var lastErr error
	for topic, writer := range p.writers {
		if err := writer.Close(); err != nil {
			lastErr = err
			p.logger.Errorw("Failed to close writer", "topic", topic, "error", err)
		}
	}
	return lastErr
}

// KafkaConsumer reads topics as a consumer group member
type KafkaConsumer struct {
	config  *KafkaConfig
	readers []*kafka.Reader
	logger  *zap.SugaredLogger
	wg      sync.WaitGroup
	mu      sync.Mutex
}

func NewKafkaConsumer(config *KafkaConfig, logger *zap.SugaredLogger) *KafkaConsumer {
	if config == nil {
		config = DefaultKafkaConfig()
	}
	return &KafkaConsumer{config: config, logger: logger}
}

// Subscribe starts consuming topic in the background. Offsets are committed
// after the handler returns, so a crash mid-message redelivers it.
func (c *KafkaConsumer) Subscribe(ctx context.Context, topic Topic, groupID string, handler MessageHandler) {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  c.config.Brokers,
		Topic:    string(topic),
		GroupID:  groupID,
		MaxBytes: c.config.MaxMessageBytes,
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			c.logger.Errorf(msg, args...)
		}),
	})

	c.mu.Lock()
	c.readers = append(c.readers, reader)
	c.mu.Unlock()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		log := c.logger.With("topic", topic, "group", groupID)
		for {
			msg, err := reader.FetchMessage(ctx)
			if err != nil {
				if ctx.Err() != nil || errors.Is(err, context.Canceled) {
					return
				}
				log.Errorw("Failed to read message", "error", err)
				select {
				case <-ctx.Done():
					return
				case <-time.After(time.Second):
				}
				continue
			}

			if err := handler(ctx, toReceived(msg)); err != nil {
				log.Errorw("Message handler failed", "offset", msg.Offset, "partition", msg.Partition, "error", err)
			}
			if err := reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
				log.Warnw("Failed to commit offset", "offset", msg.Offset, "error", err)
			}
		}
	}()
	c.logger.Infow("Kafka consumer subscribed", "topic", topic, "group", groupID)
}

func toReceived(msg kafka.Message) *ReceivedMessage {
	received := &ReceivedMessage{
		Topic:     msg.Topic,
		Key:       string(msg.Key),
		Value:     msg.Value,
		Headers:   make(map[string][]byte, len(msg.Headers)),
		Offset:    msg.Offset,
		Partition: msg.Partition,
		Timestamp: msg.Time,
	}
	for _, header := range msg.Headers {
		received.Headers[header.Key] = header.Value
	}
	return received
}

// Close closes all readers and waits for the consume loops to exit
func (c *KafkaConsumer) Close() error {
	c.mu.Lock()
	var lastErr error
	for _, reader := range c.readers {
		if err := reader.Close(); err != nil {
			lastErr = err
			c.logger.Errorw("Failed to close reader", "topic", reader.Config().Topic, "error", err)
		}
	}
	c.mu.Unlock()
	c.wg.Wait()
	return lastErr
}
