package utils_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"concert-tickets/internal/utils"
)

func TestGenerateRedemptionCode(t *testing.T) {
	code, err := utils.GenerateRedemptionCode()
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(code, "TKT-"))
	// 20 bytes of unpadded base32 encode to 32 characters.
	assert.Len(t, code, len("TKT-")+32)
	assert.NotContains(t, code, "=")
}

func TestGenerateRedemptionCodeUniqueness(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 10000; i++ {
		code, err := utils.GenerateRedemptionCode()
		require.NoError(t, err)
		require.False(t, seen[code], "duplicate code %s", code)
		seen[code] = true
	}
}
