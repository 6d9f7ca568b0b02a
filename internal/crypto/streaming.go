// Package encryption provides the position-keyed stream transform applied to
// chunk buffers during parallel transfers.
//
// Design:
//   - AES-256 in counter mode; the counter for byte p is IV + p/16
//   - Transform(buf, position) may be applied to any byte range in any order,
//     so chunks can be encrypted or decrypted independently by parallel workers
//   - The same call encrypts and decrypts
package encryption

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/binary"
	"fmt"
	"sync"
)

// EncryptionContext holds the key and initial counter block of one transfer.
// A nil *EncryptionContext is valid and leaves buffers untouched.
type EncryptionContext struct {
	mu    sync.Mutex
	block cipher.Block
	key   []byte
	iv    []byte
}

// NewEncryptionContext creates a context for the given 32-byte key and 16-byte IV.
func NewEncryptionContext(key, iv []byte) (*EncryptionContext, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("key must be %d bytes, got %d", KeySize, len(key))
	}
	if len(iv) != IVSize {
		return nil, fmt.Errorf("IV must be %d bytes, got %d", IVSize, len(iv))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	keyCopy := make([]byte, KeySize)
	copy(keyCopy, key)
	ivCopy := make([]byte, IVSize)
	copy(ivCopy, iv)

	return &EncryptionContext{block: block, key: keyCopy, iv: ivCopy}, nil
}

// NewRandomEncryptionContext creates a context with a fresh random IV.
func NewRandomEncryptionContext(key []byte) (*EncryptionContext, error) {
	iv, err := GenerateIV()
	if err != nil {
		return nil, err
	}
	return NewEncryptionContext(key, iv)
}

// IV returns a copy of the initial counter block.
func (e *EncryptionContext) IV() []byte {
	if e == nil {
		return nil
	}
	out := make([]byte, IVSize)
	copy(out, e.iv)
	return out
}

// Key returns a copy of the key.
func (e *EncryptionContext) Key() []byte {
	if e == nil {
		return nil
	}
	out := make([]byte, KeySize)
	copy(out, e.key)
	return out
}

// Transform XORs buf in place with the keystream starting at the absolute byte
// offset position of the file.
func (e *EncryptionContext) Transform(buf []byte, position int64) {
	if e == nil || len(buf) == 0 {
		return
	}
	if position < 0 {
		panic("encryption: negative position")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	counter := counterAt(e.iv, uint64(position)/aes.BlockSize)
	stream := cipher.NewCTR(e.block, counter)

	// Discard the keystream bytes that precede position within its block.
	if skip := int(position % aes.BlockSize); skip > 0 {
		var pad [aes.BlockSize]byte
		stream.XORKeyStream(pad[:skip], pad[:skip])
	}

	stream.XORKeyStream(buf, buf)
}

// counterAt returns iv + blocks as a 128-bit big-endian integer, wrapping on overflow.
func counterAt(iv []byte, blocks uint64) []byte {
	hi := binary.BigEndian.Uint64(iv[:8])
	lo := binary.BigEndian.Uint64(iv[8:])

	sum := lo + blocks
	if sum < lo {
		hi++
	}

	out := make([]byte, IVSize)
	binary.BigEndian.PutUint64(out[:8], hi)
	binary.BigEndian.PutUint64(out[8:], sum)
	return out
}
