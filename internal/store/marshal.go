package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/roach88/dairyledger/internal/model"
)

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// micros converts t to Unix microseconds. Sub-microsecond precision is lost;
// callers that compare round-tripped values truncate with TruncateTime first.
func micros(t time.Time) int64 {
	return t.UnixMicro()
}

// nullMicros stores the zero time as NULL.
func nullMicros(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UnixMicro()
}

func fromMicros(v int64) time.Time {
	return time.UnixMicro(v).UTC()
}

func fromNullMicros(v sql.NullInt64) time.Time {
	if !v.Valid {
		return time.Time{}
	}
	return fromMicros(v.Int64)
}

// TruncateTime reduces t to the precision the store keeps, in UTC.
// A value passed through TruncateTime round-trips unchanged.
func TruncateTime(t time.Time) time.Time {
	return fromMicros(t.UnixMicro())
}

// amountText renders an amount the way it is stored: fixed two places.
func amountText(d decimal.Decimal) string {
	return model.FormatAmount(d)
}

func parseAmount(column, s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse %s %q: %w", column, s, err)
	}
	return d, nil
}
