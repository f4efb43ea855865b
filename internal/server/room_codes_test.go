package server_test

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/valenfontana7/burako-online/internal/server"
)

func TestGenerateRoomCodeFormat(t *testing.T) {
	assert := assert.New(t)
	r := rand.New(rand.NewSource(1))
	none := func(string) bool { return false }

	for range 100 {
		code := server.GenerateRoomCode(r, none)

		assert.Len(code, 4)
		assert.NoError(server.ValidateRoomCode(code))
	}
}

func TestGenerateRoomCodeAvoidsTakenCodes(t *testing.T) {
	r := rand.New(rand.NewSource(2))
	used := make(map[string]bool)
	taken := func(code string) bool { return used[code] }

	for range 1000 {
		code := server.GenerateRoomCode(r, taken)
		assert.False(t, used[code], "code %s was generated twice", code)
		used[code] = true
	}

	assert.Len(t, used, 1000)
}

func TestValidateRoomCode(t *testing.T) {
	for _, code := range []string{"BEAR", "GAME", "AAAA", "ZZZZ"} {
		assert.NoError(t, server.ValidateRoomCode(code), "code %s should be valid", code)
	}

	for _, code := range []string{"", "ABC", "ABCDE"} {
		err := server.ValidateRoomCode(code)
		assert.ErrorContains(t, err, "exactly 4 characters", "code %q", code)
	}

	for _, code := range []string{"1234", "A1B2", "T@ST", "A BC", "abcd"} {
		err := server.ValidateRoomCode(code)
		assert.ErrorContains(t, err, "only letters A-Z", "code %q", code)
	}
}

func TestNormalizeRoomCode(t *testing.T) {
	assert.Equal(t, "BEAR", server.NormalizeRoomCode(" bear "))
	assert.NoError(t, server.ValidateRoomCode(server.NormalizeRoomCode("GaMe")))
}
