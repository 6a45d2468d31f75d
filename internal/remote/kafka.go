package remote

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/roach88/dairyledger/internal/model"
)

// messageWriter is the subset of *kafka.Writer the remote uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Kafka publishes each record to topic {prefix}{entity_type} with the
// idempotency key as the message key. Delivery is at-least-once; consumers
// upsert on the key.
type Kafka struct {
	writer  messageWriter
	prefix  string
	brokers []string
}

// NewKafka creates a writer for brokers. Writes wait for all in-sync
// replicas and hash the key so one key always lands on one partition.
func NewKafka(brokers []string, topicPrefix string) *Kafka {
	return &Kafka{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireAll,
			AllowAutoTopicCreation: true,
			BatchSize:              1,
			WriteTimeout:           10 * time.Second,
		},
		prefix:  topicPrefix,
		brokers: brokers,
	}
}

func newKafkaWithWriter(w messageWriter, topicPrefix string, brokers ...string) *Kafka {
	return &Kafka{writer: w, prefix: topicPrefix, brokers: brokers}
}

// Topic returns the topic records of entityType go to.
func (k *Kafka) Topic(entityType model.EntityType) string {
	return k.prefix + string(entityType)
}

// Submit writes one message and waits for the broker acknowledgement.
func (k *Kafka) Submit(ctx context.Context, entityType model.EntityType, key string, payload []byte) (Receipt, error) {
	const op = "remote.kafka.submit"
	err := k.writer.WriteMessages(ctx, kafka.Message{
		Topic: k.Topic(entityType),
		Key:   []byte(key),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "entity_type", Value: []byte(entityType)},
		},
	})
	if err != nil {
		return Receipt{}, classifyKafka(op, err)
	}
	return Receipt{}, nil
}

// Ping dials the first reachable broker.
func (k *Kafka) Ping(ctx context.Context) error {
	const op = "remote.kafka.ping"
	if len(k.brokers) == 0 {
		return model.NewNetworkError(op, errors.New("no brokers configured"))
	}
	var lastErr error
	for _, addr := range k.brokers {
		conn, err := kafka.DialContext(ctx, "tcp", addr)
		if err == nil {
			conn.Close()
			return nil
		}
		lastErr = err
	}
	return Classify(op, lastErr)
}

// Close flushes and closes the writer.
func (k *Kafka) Close() error {
	return k.writer.Close()
}

// classifyKafka treats oversized or invalid messages as rejections.
func classifyKafka(op string, err error) error {
	var kerr kafka.Error
	if errors.As(err, &kerr) {
		switch kerr {
		case kafka.MessageSizeTooLarge, kafka.InvalidMessage, kafka.InvalidTopic, kafka.TopicAuthorizationFailed:
			return model.NewRejectionError(op, kerr.Error())
		}
		if kerr.Temporary() {
			return model.NewNetworkError(op, err)
		}
	}
	var werr kafka.WriteErrors
	if errors.As(err, &werr) && len(werr) > 0 && werr[0] != nil {
		return classifyKafka(op, werr[0])
	}
	return Classify(op, fmt.Errorf("write message: %w", err))
}
