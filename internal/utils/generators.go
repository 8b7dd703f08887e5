package utils

import (
	"crypto/rand"
	"encoding/base32"
	"fmt"
)

// codeEncoding is unpadded base32 so codes are safe in URLs and QR payloads.
var codeEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// GenerateRedemptionCode returns an unguessable ticket redemption code.
// 20 random bytes gives 160 bits of entropy, which makes collisions across
// the lifetime of the system negligible; the unique index on the tickets
// table is the backstop, not the mechanism.
func GenerateRedemptionCode() (string, error) {
	buf := make([]byte, 20)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	return "TKT-" + codeEncoding.EncodeToString(buf), nil
}
