package server

import (
	"errors"
	"math/rand"
	"strings"
)

const roomCodeLength = 4

// GenerateRoomCode returns a random code of uppercase letters that taken
// does not report as in use.
func GenerateRoomCode(r *rand.Rand, taken func(code string) bool) string {
	for {
		code := make([]byte, roomCodeLength)
		for i := range code {
			code[i] = 'A' + byte(r.Intn(26))
		}
		if !taken(string(code)) {
			return string(code)
		}
	}
}

func ValidateRoomCode(code string) error {
	if len(code) != roomCodeLength {
		return errors.New("INVALID_TABLE_ID: Table codes are exactly 4 characters")
	}
	for _, ch := range code {
		if ch < 'A' || ch > 'Z' {
			return errors.New("INVALID_TABLE_ID: Table codes contain only letters A-Z")
		}
	}
	return nil
}

// NormalizeRoomCode accepts codes typed in any case with stray spaces.
func NormalizeRoomCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
