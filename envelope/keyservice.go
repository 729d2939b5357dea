package envelope

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"

	"github.com/saasbridge/gateway/internal/errors"
)

const dataKeySize = 32 // AES-256

// KeyService hands out one-time data keys in both plaintext and wrapped
// form. The plaintext key is used locally and discarded; only the wrapped
// form is persisted. This is the boundary to the external key-management
// service.
type KeyService interface {
	// GenerateDataKey returns a fresh symmetric key together with its
	// wrapped form.
	GenerateDataKey(ctx context.Context) (plaintext, wrapped []byte, err error)

	// UnwrapKey recovers the plaintext key from its wrapped form.
	UnwrapKey(ctx context.Context, wrapped []byte) ([]byte, error)
}

// LocalKeyService wraps data keys with a key-encryption key derived from a
// master secret via HKDF-SHA256. It stands in for a remote KMS when the
// deployment provides the master secret through its own secret manager.
type LocalKeyService struct {
	kek []byte
}

var _ KeyService = (*LocalKeyService)(nil)

// NewLocalKeyService derives the key-encryption key from masterSecret.
func NewLocalKeyService(masterSecret string) (*LocalKeyService, error) {
	if masterSecret == "" {
		return nil, fmt.Errorf("[NewLocalKeyService] master secret is required")
	}
	kek := make([]byte, dataKeySize)
	r := hkdf.New(sha256.New, []byte(masterSecret), nil, []byte("gateway/key-wrapping"))
	if _, err := io.ReadFull(r, kek); err != nil {
		return nil, fmt.Errorf("[NewLocalKeyService] derive key-encryption key: %w", err)
	}
	return &LocalKeyService{kek: kek}, nil
}

func (ks *LocalKeyService) GenerateDataKey(_ context.Context) ([]byte, []byte, error) {
	plaintext := make([]byte, dataKeySize)
	if _, err := rand.Read(plaintext); err != nil {
		return nil, nil, fmt.Errorf("[LocalKeyService.GenerateDataKey] random key: %w", err)
	}

	gcm, err := ks.aead()
	if err != nil {
		return nil, nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, nil, fmt.Errorf("[LocalKeyService.GenerateDataKey] nonce: %w", err)
	}

	// Wrapped form is nonce || sealed key.
	wrapped := gcm.Seal(nonce, nonce, plaintext, nil)
	return plaintext, wrapped, nil
}

func (ks *LocalKeyService) UnwrapKey(_ context.Context, wrapped []byte) ([]byte, error) {
	gcm, err := ks.aead()
	if err != nil {
		return nil, err
	}
	if len(wrapped) < gcm.NonceSize() {
		return nil, errors.Wrapf(errors.ErrDecryptionFailed, "[LocalKeyService.UnwrapKey] wrapped key too short")
	}
	nonce, sealed := wrapped[:gcm.NonceSize()], wrapped[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrDecryptionFailed, "[LocalKeyService.UnwrapKey] unwrap")
	}
	return plaintext, nil
}

func (ks *LocalKeyService) aead() (cipher.AEAD, error) {
	block, err := aes.NewCipher(ks.kek)
	if err != nil {
		return nil, fmt.Errorf("[LocalKeyService.aead] cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("[LocalKeyService.aead] gcm: %w", err)
	}
	return gcm, nil
}
