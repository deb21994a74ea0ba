package dedup

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/rpattn/sheetpipe/internal/domain"
)

// Fingerprint hashes the payload's canonical (sorted-key) encoding.
func Fingerprint(payload domain.Payload) (string, error) {
	canonical, err := payload.Canonical()
	if err != nil {
		return "", fmt.Errorf("failed to canonicalize payload: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}
