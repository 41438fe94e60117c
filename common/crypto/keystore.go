package crypto

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// ParseMasterKey decodes the hex-encoded master key used to seal AWX
// credentials at rest. The encoded form is 64 hex characters (32 raw
// bytes); anything else is rejected before it can silently weaken the
// cipher.
//
// Key material is read from the environment by the caller; this function
// only validates and decodes it. Generate a key with:
//
//	openssl rand -hex 32
func ParseMasterKey(rawHex string) ([]byte, error) {
	raw := strings.TrimSpace(rawHex)
	if raw == "" {
		return nil, fmt.Errorf("master key is empty")
	}

	key, err := hex.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("master key is not valid hex: %w", err)
	}
	if len(key) != KeySize {
		return nil, fmt.Errorf("master key must decode to %d bytes (%d hex chars), got %d",
			KeySize, KeySize*2, len(key))
	}
	return key, nil
}
