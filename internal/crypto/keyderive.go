// This file implements HKDF-based IV derivation for deterministic per-file transforms.
package encryption

import (
	"crypto/hkdf"
	"crypto/sha256"
	"fmt"
)

// ivDerivationInfo namespaces the HKDF output so the same key used elsewhere
// never yields the same bytes.
const ivDerivationInfo = "blobxfer-ctr-iv:"

// DeriveFileIV derives the initial counter block for a file from the key and
// the file name using HKDF-SHA256.
//
// The same (key, fileName) pair always yields the same IV, so a file re-uploaded
// under the same name produces byte-identical ciphertext and a download can
// reconstruct the IV when blob metadata is unavailable.
func DeriveFileIV(key []byte, fileName string) ([]byte, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("key must be %d bytes, got %d", KeySize, len(key))
	}
	if fileName == "" {
		return nil, fmt.Errorf("file name must not be empty")
	}

	iv, err := hkdf.Key(sha256.New, key, nil, ivDerivationInfo+fileName, IVSize)
	if err != nil {
		return nil, fmt.Errorf("failed to derive IV: %w", err)
	}
	return iv, nil
}
