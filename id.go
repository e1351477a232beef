package cloudblob

import (
	"encoding/hex"

	"github.com/google/uuid"
)

// IDLength is the length of a generated entity identifier
const IDLength = 32

// NewID generates a random 128-bit entity identifier encoded as 32 lowercase
// hex characters. It is backed by a UUIDv4 so collisions are negligible.
func NewID() string {
	id := uuid.New()
	return hex.EncodeToString(id[:])
}

// IsValidID checks if a string has the shape of a generated identifier
func IsValidID(s string) bool {
	if len(s) != IDLength {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
