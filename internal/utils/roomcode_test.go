package utils

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateRoomCode(t *testing.T) {
	for i := 0; i < 100; i++ {
		code, err := GenerateRoomCode()
		require.NoError(t, err)
		assert.Len(t, code, RoomCodeLength)
		for _, c := range code {
			assert.True(t, strings.ContainsRune(codeAlphabet, c), "非法字元: %c", c)
		}
	}
}

func TestNormalizeRoomCode(t *testing.T) {
	assert.Equal(t, "ABC234", NormalizeRoomCode("  abc234 "))
	assert.Equal(t, "ABC234", NormalizeRoomCode("ABC234"))
	assert.Equal(t, "", NormalizeRoomCode("   "))
}
