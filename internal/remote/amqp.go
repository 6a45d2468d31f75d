package remote

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/roach88/dairyledger/internal/model"
)

// confirmation is a pending publisher confirm.
type confirmation interface {
	WaitContext(ctx context.Context) (bool, error)
}

// publisher is an open confirm-mode channel. Returns delivers messages the
// broker could not route.
type publisher interface {
	Publish(ctx context.Context, exchange, routingKey string, msg amqp.Publishing) (confirmation, error)
	Returns() <-chan amqp.Return
	IsClosed() bool
	Close() error
}

type dialFunc func(url, exchange string) (publisher, error)

// AMQP publishes each record to a topic exchange with routing key
// {entity_type}, waiting for a publisher confirm. The idempotency key travels
// as the message id; consumers upsert on it.
//
// Messages are mandatory. A message the broker returns as unroutable is
// acked afterwards, so Submit checks for a return before trusting the ack.
//
// The connection is opened lazily and reopened after a failure.
type AMQP struct {
	url      string
	exchange string
	dial     dialFunc

	mu  sync.Mutex
	pub publisher
}

// NewAMQP creates a publisher for url. Nothing is dialed until first use.
func NewAMQP(url, exchange string) *AMQP {
	return &AMQP{url: url, exchange: exchange, dial: dialAMQP}
}

func newAMQPWithDialer(dial dialFunc, exchange string) *AMQP {
	return &AMQP{exchange: exchange, dial: dial}
}

// Submit publishes payload and waits for the broker to confirm it.
// A nack or a return is retriable.
func (a *AMQP) Submit(ctx context.Context, entityType model.EntityType, key string, payload []byte) (Receipt, error) {
	const op = "remote.amqp.submit"

	a.mu.Lock()
	defer a.mu.Unlock()

	pub, err := a.publisherLocked()
	if err != nil {
		return Receipt{}, Classify(op, err)
	}
	// Returns left over from an abandoned publish belong to other messages.
	drainReturns(pub.Returns())

	confirm, err := pub.Publish(ctx, a.exchange, string(entityType), amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    key,
		Timestamp:    time.Now().UTC(),
		Type:         string(entityType),
		Body:         payload,
	})
	if err != nil {
		a.resetLocked()
		return Receipt{}, Classify(op, fmt.Errorf("publish: %w", err))
	}

	acked, err := confirm.WaitContext(ctx)
	if err != nil {
		a.resetLocked()
		return Receipt{}, Classify(op, fmt.Errorf("wait for confirm: %w", err))
	}
	// The broker sends basic.return before the ack of the same message.
	for _, ret := range drainReturns(pub.Returns()) {
		if ret.MessageId == key {
			return Receipt{}, model.NewRejectionError(op,
				fmt.Sprintf("broker returned the message: %d %s", ret.ReplyCode, ret.ReplyText))
		}
	}
	if !acked {
		return Receipt{}, model.NewNetworkError(op, errors.New("broker nacked the message"))
	}
	return Receipt{}, nil
}

// Ping opens the connection if needed.
func (a *AMQP) Ping(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return Classify("remote.amqp.ping", err)
	}
	if _, err := a.publisherLocked(); err != nil {
		return Classify("remote.amqp.ping", err)
	}
	return nil
}

// Close closes the channel and connection.
func (a *AMQP) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	var err error
	if a.pub != nil {
		err = a.pub.Close()
	}
	a.pub = nil
	return err
}

func (a *AMQP) publisherLocked() (publisher, error) {
	if a.pub != nil && !a.pub.IsClosed() {
		return a.pub, nil
	}
	a.resetLocked()

	pub, err := a.dial(a.url, a.exchange)
	if err != nil {
		return nil, err
	}
	a.pub = pub
	return pub, nil
}

func (a *AMQP) resetLocked() {
	if a.pub != nil {
		a.pub.Close()
	}
	a.pub = nil
}

func drainReturns(c <-chan amqp.Return) []amqp.Return {
	var out []amqp.Return
	for {
		select {
		case ret := <-c:
			out = append(out, ret)
		default:
			return out
		}
	}
}

// returnBuffer bounds the returns held between two publishes. Publishes are
// serialized and each message is returned at most once.
const returnBuffer = 8

// channelPublisher is a publisher over one RabbitMQ connection and channel.
type channelPublisher struct {
	conn    *amqp.Connection
	ch      *amqp.Channel
	returns chan amqp.Return
}

func dialAMQP(url, exchange string) (publisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to dial RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(
		exchange,
		amqp.ExchangeTopic,
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,   // arguments
	); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}
	if err := ch.Confirm(false); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to enable confirms: %w", err)
	}
	returns := ch.NotifyReturn(make(chan amqp.Return, returnBuffer))
	return &channelPublisher{conn: conn, ch: ch, returns: returns}, nil
}

func (p *channelPublisher) Publish(ctx context.Context, exchange, routingKey string, msg amqp.Publishing) (confirmation, error) {
	dc, err := p.ch.PublishWithDeferredConfirmWithContext(ctx, exchange, routingKey,
		true,  // mandatory
		false, // immediate
		msg)
	if err != nil {
		return nil, err
	}
	if dc == nil {
		return nil, errors.New("channel is not in confirm mode")
	}
	return dc, nil
}

func (p *channelPublisher) Returns() <-chan amqp.Return {
	return p.returns
}

func (p *channelPublisher) IsClosed() bool {
	return p.ch.IsClosed()
}

func (p *channelPublisher) Close() error {
	return p.conn.Close()
}
