package remote

import (
	"errors"
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"

	"github.com/roach88/dairyledger/internal/model"
)

func TestClassifyPostgres(t *testing.T) {
	cases := []struct {
		name string
		err  error
		code model.ErrorCode
	}{
		{"unique violation", &pq.Error{Code: "23505", Message: "duplicate key"}, model.ErrCodeRemoteRejected},
		{"invalid text", &pq.Error{Code: "22P02", Message: "invalid input syntax"}, model.ErrCodeRemoteRejected},
		{"undefined table", &pq.Error{Code: "42P01", Message: "relation does not exist"}, model.ErrCodeRemoteRejected},
		{"admin shutdown", &pq.Error{Code: "57P01", Message: "terminating connection"}, model.ErrCodeNetwork},
		{"connection", errors.New("dial tcp 127.0.0.1:5432: connect: connection refused"), model.ErrCodeNetwork},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.code, model.CodeOf(classifyPostgres("op", tc.err)))
		})
	}
}
