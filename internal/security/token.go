package security

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
)

// requestIDPrefix is the prefix used for generated request identifiers.
const requestIDPrefix = "req_"

// GenerateRequestID creates an opaque per-request identifier. It is safe to
// log and does not collide across concurrent requests under normal operation.
func GenerateRequestID() (string, error) {
	raw := make([]byte, 12)
	if _, err := io.ReadFull(rand.Reader, raw); err != nil {
		return "", fmt.Errorf("generate request id: %w", err)
	}
	return requestIDPrefix + hex.EncodeToString(raw), nil
}

// GenerateCredentialToken creates a random opaque credential token for
// account provisioning.
func GenerateCredentialToken() (string, error) {
	raw := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, raw); err != nil {
		return "", fmt.Errorf("generate credential token: %w", err)
	}
	return hex.EncodeToString(raw), nil
}
