package config

import (
	_ "embed"
	"fmt"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
)

//go:embed schema.cue
var schemaSource string

// ValidationError lists every schema violation found in a config.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid config: %s", strings.Join(e.Problems, "; "))
}

// Validate checks c against the embedded schema.
func (c Config) Validate() error {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile config schema: %w", err)
	}

	def := schema.LookupPath(cue.ParsePath("#Config"))
	val := def.Unify(ctx.Encode(c.schemaView()))
	err := val.Validate(cue.Concrete(true))
	if err == nil {
		return nil
	}

	var problems []string
	for _, e := range cueerrors.Errors(err) {
		problems = append(problems, e.Error())
	}
	return &ValidationError{Problems: problems}
}

// schemaView is the plain-value form the schema checks: durations become
// integer milliseconds and lists become []any.
func (c Config) schemaView() map[string]any {
	return map[string]any{
		"database": map[string]any{"path": c.Database.Path},
		"device":   map[string]any{"operator_id": c.Device.OperatorID},
		"log": map[string]any{
			"level":  c.Log.Level,
			"format": c.Log.Format,
		},
		"sync": map[string]any{
			"interval_ms":         millis(c.Sync.Interval),
			"batch_size":          c.Sync.BatchSize,
			"max_retries":         c.Sync.MaxRetries,
			"backoff_ms":          millisList(c.Sync.Backoff),
			"send_timeout_ms":     millis(c.Sync.SendTimeout),
			"prune_threshold":     c.Sync.PruneThreshold,
			"synced_retention_ms": millis(c.Sync.SyncedRetention),
		},
		"liveness": map[string]any{
			"interval_ms": millis(c.Liveness.Interval),
			"timeout_ms":  millis(c.Liveness.Timeout),
		},
		"remote": map[string]any{
			"kind":     c.Remote.Kind,
			"http":     map[string]any{"base_url": c.Remote.HTTP.BaseURL},
			"postgres": map[string]any{"dsn": c.Remote.Postgres.DSN},
			"kafka": map[string]any{
				"brokers":      stringList(c.Remote.Kafka.Brokers),
				"topic_prefix": c.Remote.Kafka.TopicPrefix,
			},
			"amqp": map[string]any{
				"url":      c.Remote.AMQP.URL,
				"exchange": c.Remote.AMQP.Exchange,
			},
		},
	}
}

func millis(d time.Duration) int64 {
	return d.Milliseconds()
}

func millisList(ds []time.Duration) []any {
	out := make([]any, len(ds))
	for i, d := range ds {
		out[i] = millis(d)
	}
	return out
}

func stringList(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}
