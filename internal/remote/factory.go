package remote

import (
	"context"
	"fmt"
)

// Remote kinds accepted by New.
const (
	KindNone     = "none"
	KindMemory   = "memory"
	KindHTTP     = "http"
	KindPostgres = "postgres"
	KindKafka    = "kafka"
	KindAMQP     = "amqp"
)

// Config selects and configures a remote.
type Config struct {
	Kind string

	HTTPBaseURL string

	PostgresDSN string

	KafkaBrokers     []string
	KafkaTopicPrefix string

	AMQPURL      string
	AMQPExchange string
}

// New builds the remote cfg names. Kind "none" (or empty) yields Offline: the
// device keeps every record local.
func New(ctx context.Context, cfg Config) (Remote, error) {
	switch cfg.Kind {
	case "", KindNone:
		return Offline{}, nil
	case KindMemory:
		return NewMemory(), nil
	case KindHTTP:
		if cfg.HTTPBaseURL == "" {
			return nil, fmt.Errorf("remote %s: base url is required", cfg.Kind)
		}
		return NewHTTP(cfg.HTTPBaseURL), nil
	case KindPostgres:
		if cfg.PostgresDSN == "" {
			return nil, fmt.Errorf("remote %s: dsn is required", cfg.Kind)
		}
		p, err := OpenPostgres(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		return p, nil
	case KindKafka:
		if len(cfg.KafkaBrokers) == 0 {
			return nil, fmt.Errorf("remote %s: at least one broker is required", cfg.Kind)
		}
		return NewKafka(cfg.KafkaBrokers, cfg.KafkaTopicPrefix), nil
	case KindAMQP:
		if cfg.AMQPURL == "" {
			return nil, fmt.Errorf("remote %s: url is required", cfg.Kind)
		}
		return NewAMQP(cfg.AMQPURL, cfg.AMQPExchange), nil
	default:
		return nil, fmt.Errorf("unknown remote kind %q", cfg.Kind)
	}
}
