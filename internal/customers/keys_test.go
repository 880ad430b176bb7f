package customers_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"soconboard/internal/customers"
)

func TestGenerateAPIKeyShape(t *testing.T) {
	raw, hash, prefix := customers.GenerateAPIKey()
	require.Regexp(t, keyPattern, raw)
	require.Len(t, hash, 64)
	require.Equal(t, raw[:8], prefix)
	require.Equal(t, customers.HashAPIKey(raw), hash)
	require.NotContains(t, hash, raw)
}

func TestGenerateAPIKeyIsUnique(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 64; i++ {
		raw, _, _ := customers.GenerateAPIKey()
		require.False(t, seen[raw])
		seen[raw] = true
	}
}

func TestValidKeyFormat(t *testing.T) {
	require.True(t, customers.ValidKeyFormat("soc_abc123"))
	require.False(t, customers.ValidKeyFormat("soc_"))
	require.False(t, customers.ValidKeyFormat("sk_abc123"))
	require.False(t, customers.ValidKeyFormat(""))
}
