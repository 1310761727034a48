package testutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRNGDeterministic(t *testing.T) {
	a := NewRNG(7).Accounts(20, 5)
	b := NewRNG(7).Accounts(20, 5)
	assert.Equal(t, a, b)

	for _, id := range IDs(a) {
		assert.GreaterOrEqual(t, id, int64(0))
		assert.Less(t, id, int64(5))
	}
}

func TestRNGReset(t *testing.T) {
	rng := NewRNG(3)
	first := rng.Intn(1000)
	rng.Reset()
	assert.Equal(t, first, rng.Intn(1000))
	assert.Equal(t, int64(3), rng.Seed())
}

func TestAccountsFixture(t *testing.T) {
	schema := AccountsSchema()
	rows := Accounts(3)
	require.Len(t, rows, 3)
	for _, r := range rows {
		require.NoError(t, schema.Validate(r))
	}
	assert.Equal(t, []int64{1, 2, 3}, IDs(rows))
	require.NoError(t, DeltaSchema().Validate(Delta(1, 5)))
}
