// Package remote implements clients for the authoritative remote store.
//
// The core needs one capability from the remote: an idempotent upsert keyed
// by the client-generated id. Submitting the same key twice must yield one
// logical record. Each implementation maps that contract onto its transport:
// an Idempotency-Key header over HTTP, ON CONFLICT upserts in Postgres, the
// message key on Kafka, the message id on AMQP.
//
// Errors are classified into model error codes: NETWORK and TIMEOUT are
// retriable, REMOTE_REJECTED is a definitive refusal. Either way the engine
// bounds attempts by its retry ceiling.
package remote

import (
	"context"
	"errors"

	"github.com/roach88/dairyledger/internal/model"
)

// Receipt acknowledges one accepted submission.
type Receipt struct {
	// RemoteID is the remote store's id for the record, if it reports one.
	RemoteID string `json:"remote_id,omitempty"`
}

// Remote is the remote store contract.
type Remote interface {
	// Submit upserts payload under key. Must be safe to repeat with the same key.
	Submit(ctx context.Context, entityType model.EntityType, key string, payload []byte) (Receipt, error)

	// Ping checks reachability without writing anything.
	Ping(ctx context.Context) error
}

// Closer is implemented by remotes that hold connections.
type Closer interface {
	Close() error
}

// Close closes r if it holds resources.
func Close(r Remote) error {
	if c, ok := r.(Closer); ok {
		return c.Close()
	}
	return nil
}

// ErrOffline is returned by the Offline remote.
var ErrOffline = errors.New("remote sync disabled")

// Offline is a remote that is never reachable. Devices configured without a
// remote keep every record local and pending.
type Offline struct{}

// Submit always fails with a network error.
func (Offline) Submit(context.Context, model.EntityType, string, []byte) (Receipt, error) {
	return Receipt{}, model.NewNetworkError("remote.offline.submit", ErrOffline)
}

// Ping always fails.
func (Offline) Ping(context.Context) error {
	return model.NewNetworkError("remote.offline.ping", ErrOffline)
}

// Classify converts a transport error into a model error. Errors that already
// carry a model code pass through; deadline overruns become timeouts;
// everything else is a network error.
func Classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if model.CodeOf(err) != "" {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return model.NewTimeoutError(op, err)
	}
	return model.NewNetworkError(op, err)
}
