// Package util provides small helpers shared across TicketPipe components.
package util

import (
	"math/rand/v2"
	"strings"

	"github.com/google/uuid"
)

// NewID returns a unique identifier in the format "{prefix}{32 hex chars}".
func NewID(prefix string) string {
	return prefix + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// GenerateRandomID generates a random ID with the specified prefix and hex length.
// It is not collision-resistant; use NewID for durable record keys.
func GenerateRandomID(prefix string, hexLength int) string {
	return prefix + GenerateRandomHex(hexLength)
}

// GenerateRandomHex generates a random hexadecimal string of the specified length.
func GenerateRandomHex(length int) string {
	if length <= 0 {
		return ""
	}

	const hexChars = "0123456789abcdef"
	var builder strings.Builder
	builder.Grow(length)

	for i := 0; i < length; i++ {
		builder.WriteByte(hexChars[rand.IntN(16)])
	}

	return builder.String()
}
