package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUUIDv7GeneratorMintsUniqueIDs(t *testing.T) {
	gen := UUIDv7Generator{}

	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := gen.Generate()
		assert.Len(t, id, 36)
		assert.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
}

func TestFixedGeneratorReturnsIDsInOrder(t *testing.T) {
	gen := NewFixedGenerator("exec-1", "exec-2")

	assert.Equal(t, "exec-1", gen.Generate())
	assert.Equal(t, "exec-2", gen.Generate())
	assert.Panics(t, func() { gen.Generate() })
}
