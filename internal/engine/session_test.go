package engine

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/apifuzz/internal/testutil"
)

func TestUUIDv7Generator(t *testing.T) {
	var gen SessionGenerator = UUIDv7Generator{}
	a, b := gen.Generate(), gen.Generate()

	parsed, err := uuid.Parse(a)
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(7), parsed.Version())
	assert.NotEqual(t, a, b)
	assert.Less(t, a, b, "later sessions sort after earlier ones")
}

func TestFixedSessionGeneratorSatisfiesInterface(t *testing.T) {
	var gen SessionGenerator = testutil.NewFixedSessionGenerator("s-1")
	assert.Equal(t, "s-1", gen.Generate())
}
