package meetings

import (
	"testing"

	"github.com/pgvector/pgvector-go"
	"github.com/stretchr/testify/assert"
)

func TestIsZeroVector(t *testing.T) {
	t.Parallel()

	assert.True(t, isZeroVector(pgvector.NewVector([]float32{0, 0, 0})))
	assert.True(t, isZeroVector(pgvector.NewVector(nil)))
	assert.False(t, isZeroVector(pgvector.NewVector([]float32{0.1, 0, 0})))
	assert.False(t, isZeroVector(pgvector.NewVector([]float32{0, 0, 0.01})))
}
