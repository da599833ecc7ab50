package voucher

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
)

const codePrefix = "VH-"

// GenerateCode returns a new voucher code: VH- followed by eight uppercase
// hex characters from a cryptographic source.
func GenerateCode() (string, error) {
	b := make([]byte, 4)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate voucher code: %w", err)
	}
	return codePrefix + strings.ToUpper(hex.EncodeToString(b)), nil
}
