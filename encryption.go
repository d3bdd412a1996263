package gridbase

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
)

// EncryptionKeySize is the AES-256 key length.
const EncryptionKeySize = 32

// EncryptionBackend seals sheet objects with AES-256-GCM before they reach
// the wrapped backend. The object key is authenticated with each sheet, so a
// sealed sheet copied under another key fails to open. Keys and listings are
// not encrypted.
type EncryptionBackend struct {
	BlobBackend
	aead cipher.AEAD
}

func NewEncryptionBackend(backend BlobBackend, key []byte) (*EncryptionBackend, error) {
	if len(key) != EncryptionKeySize {
		return nil, WithContext(ErrInvalidConfig, map[string]interface{}{
			"encryption_key_length": len(key),
			"required":              EncryptionKeySize,
		})
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("aes cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("gcm: %w", err)
	}
	return &EncryptionBackend{BlobBackend: backend, aead: aead}, nil
}

// Put stores nonce || ciphertext.
func (e *EncryptionBackend) Put(ctx context.Context, key string, data []byte) error {
	sealed := make([]byte, e.aead.NonceSize(), e.aead.NonceSize()+len(data)+e.aead.Overhead())
	if _, err := rand.Read(sealed); err != nil {
		return fmt.Errorf("nonce: %w", err)
	}
	sealed = e.aead.Seal(sealed, sealed, data, []byte(key))
	return e.BlobBackend.Put(ctx, key, sealed)
}

func (e *EncryptionBackend) Get(ctx context.Context, key string) ([]byte, error) {
	sealed, err := e.BlobBackend.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	n := e.aead.NonceSize()
	if len(sealed) < n+e.aead.Overhead() {
		return nil, WithContext(ErrInvalidData, map[string]interface{}{
			"key":    key,
			"reason": "sealed sheet too short",
		})
	}
	plain, err := e.aead.Open(nil, sealed[:n], sealed[n:], []byte(key))
	if err != nil {
		return nil, WithContext(ErrInvalidData, map[string]interface{}{
			"key":    key,
			"reason": "sheet failed authentication",
		})
	}
	return plain, nil
}
