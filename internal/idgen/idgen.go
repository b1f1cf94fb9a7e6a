// Package idgen generates task and worker identifiers: UUID v7 by default,
// with an optional short base36 hash-id style for installations that want
// human-typable ids.
package idgen

import (
	"crypto/sha256"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"
)

// NewUUID returns a UUID v7 string (time-ordered, so ids sort roughly by
// creation time even without an index on created_at).
func NewUUID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate uuid v7: %w", err)
	}
	return id.String(), nil
}

// EncodeBase36 converts data to a base36 string of exactly length
// characters (zero-padded on the left, truncated to the least-significant
// digits if longer). big.Int.Text(36) already emits lowercase a-z for
// digits above 9, so no custom alphabet or divmod loop is needed.
func EncodeBase36(data []byte, length int) string {
	str := new(big.Int).SetBytes(data).Text(36)
	if len(str) < length {
		return strings.Repeat("0", length-len(str)) + str
	}
	if len(str) > length {
		return str[len(str)-length:]
	}
	return str
}

// HashID derives a short, deterministic-looking id from content plus a
// nonce (to break collisions on retry). Not content-addressed: timestamp
// and nonce are folded in so repeated calls with identical content don't
// collide.
func HashID(prefix, title, description string, createdAt time.Time, length, nonce int) string {
	content := fmt.Sprintf("%s|%s|%d|%d", title, description, createdAt.UnixNano(), nonce)
	sum := sha256.Sum256([]byte(content))
	if length <= 0 {
		length = 6
	}
	return prefix + "-" + EncodeBase36(sum[:], length)
}
