package postgres

import (
	"errors"
	"fmt"
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
)

func TestDialect_Placeholder(t *testing.T) {
	assert.Equal(t, "$1", Dialect{}.Placeholder(1))
	assert.Equal(t, "$12", Dialect{}.Placeholder(12))
}

func TestDialect_IsUniqueViolation(t *testing.T) {
	unique := &pq.Error{Code: "23505", Constraint: "users_account_id_key"}
	other := &pq.Error{Code: "23503"}

	assert.True(t, Dialect{}.IsUniqueViolation(unique))
	assert.True(t, Dialect{}.IsUniqueViolation(fmt.Errorf("exec: %w", unique)))
	assert.False(t, Dialect{}.IsUniqueViolation(other))
	assert.False(t, Dialect{}.IsUniqueViolation(errors.New("UNIQUE constraint failed")))
	assert.False(t, Dialect{}.IsUniqueViolation(nil))
}
