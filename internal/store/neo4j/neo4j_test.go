package neo4j

import (
	"errors"
	"fmt"
	"testing"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/stretchr/testify/assert"

	"github.com/efebarandurmaz/vectordb/internal/store"
)

func TestSamples(t *testing.T) {
	records := []*neo4j.Record{
		{Keys: []string{"hash", "assets"}, Values: []any{int64(10), []any{"a", "x"}}},
		{Keys: []string{"hash", "assets"}, Values: []any{int64(30), []any{"x"}}},
	}
	assert.Equal(t, []store.Sample{
		{Fingerprint: 10, Assets: []string{"a", "x"}},
		{Fingerprint: 30, Assets: []string{"x"}},
	}, samples(records))
}

func TestAsInt64(t *testing.T) {
	assert.Equal(t, int64(7), asInt64(int64(7)))
	assert.Equal(t, int64(7), asInt64(7))
	assert.Equal(t, int64(0), asInt64(nil))
	assert.Equal(t, int64(0), asInt64("7"))
}

func TestIsConstraintViolation(t *testing.T) {
	err := fmt.Errorf("create: %w", &neo4j.Neo4jError{Code: "Neo.ClientError.Schema.ConstraintValidationFailed"})
	assert.True(t, isConstraintViolation(err))
	assert.False(t, isConstraintViolation(&neo4j.Neo4jError{Code: "Neo.ClientError.Statement.SyntaxError"}))
	assert.False(t, isConstraintViolation(errors.New("boom")))
	assert.False(t, isConstraintViolation(nil))
}

func TestIsTransient(t *testing.T) {
	assert.True(t, IsTransient(&neo4j.Neo4jError{Code: "Neo.TransientError.Transaction.DeadlockDetected"}))
	assert.False(t, IsTransient(&neo4j.Neo4jError{Code: "Neo.ClientError.Statement.SyntaxError"}))
}
