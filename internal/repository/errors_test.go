package repository

import (
	"context"
	"database/sql/driver"
	"errors"
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"

	"github.com/content-store-api/internal/apperr"
)

func TestMapError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want apperr.Kind
	}{
		{"nil", nil, ""},
		{"bad conn", driver.ErrBadConn, apperr.KindUnavailable},
		{"deadline", context.DeadlineExceeded, apperr.KindUnavailable},
		{"connection failure", &pq.Error{Code: "08006"}, apperr.KindUnavailable},
		{"too many connections", &pq.Error{Code: "53300"}, apperr.KindUnavailable},
		{"admin shutdown", &pq.Error{Code: "57P01"}, apperr.KindUnavailable},
		{"serialization", &pq.Error{Code: "40001"}, apperr.KindUnavailable},
		{"syntax error", &pq.Error{Code: "42601"}, ""},
		{"already classified", apperr.Conflict("article", "slug", "x"), apperr.KindConflict},
		{"plain", errors.New("plain"), ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := mapError("op", tt.err)
			if tt.err == nil {
				assert.NoError(t, got)
				return
			}
			assert.Equal(t, tt.want, apperr.KindOf(got))
			assert.ErrorIs(t, got, tt.err)
		})
	}
}

func TestUniqueAndForeignKeyViolations(t *testing.T) {
	assert.True(t, isUniqueViolation(&pq.Error{Code: "23505"}))
	assert.False(t, isUniqueViolation(errors.New("x")))
	assert.True(t, isForeignKeyViolation(&pq.Error{Code: "23503"}))
}

func TestEscapeLike(t *testing.T) {
	assert.Equal(t, `100\%\_off\\`, escapeLike(`100%_off\`))
}
