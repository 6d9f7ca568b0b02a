package encryption

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"
)

const (
	KeySize = 32 // 256-bit key for AES-256
	IVSize  = 16 // 128-bit IV (initial counter block) for AES-CTR
)

// GenerateKey generates a random 256-bit encryption key
func GenerateKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}
	return key, nil
}

// GenerateIV generates a random 128-bit initial counter block
func GenerateIV() ([]byte, error) {
	iv := make([]byte, IVSize)
	if _, err := rand.Read(iv); err != nil {
		return nil, fmt.Errorf("failed to generate IV: %w", err)
	}
	return iv, nil
}

// ParseKey decodes a base64 key as printed by `blobxfer keygen`.
func ParseKey(encoded string) ([]byte, error) {
	key, err := DecodeBase64(strings.TrimSpace(encoded))
	if err != nil {
		return nil, fmt.Errorf("invalid base64 key: %w", err)
	}
	if len(key) != KeySize {
		return nil, fmt.Errorf("key must be %d bytes, got %d", KeySize, len(key))
	}
	return key, nil
}

// ParseIV decodes a base64 IV as stored in blob metadata.
func ParseIV(encoded string) ([]byte, error) {
	iv, err := DecodeBase64(strings.TrimSpace(encoded))
	if err != nil {
		return nil, fmt.Errorf("invalid base64 IV: %w", err)
	}
	if len(iv) != IVSize {
		return nil, fmt.Errorf("IV must be %d bytes, got %d", IVSize, len(iv))
	}
	return iv, nil
}

// EncodeBase64 encodes bytes to base64 string
func EncodeBase64(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

// DecodeBase64 decodes base64 string to bytes
func DecodeBase64(data string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(data)
}
