package protocol

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// ComputeHash canonicalizes the payload and returns its SHA-256 hex digest.
// JSON payloads are re-encoded with stable field ordering so two semantically
// equal documents hash identically; anything else is hashed as raw bytes.
func ComputeHash(payload []byte) string {
	canonical := canonicalize(payload)
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:])
}

func canonicalize(payload []byte) []byte {
	if len(payload) == 0 {
		return nil
	}
	var doc any
	if err := json.Unmarshal(payload, &doc); err != nil {
		return payload
	}
	// encoding/json sorts map keys, which gives the stable ordering.
	out, err := json.Marshal(doc)
	if err != nil {
		return payload
	}
	return out
}
