// Package envelope encrypts small JSON blobs at rest using envelope
// encryption: each record gets its own data key, the data key is wrapped by
// the key service, and only the wrapped form ever leaves the process.
package envelope

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"

	"github.com/saasbridge/gateway/internal/errors"
)

const gcmTagSize = 16

// Sealed holds every component needed to decrypt a record. All four fields
// are stored alongside the record they protect.
type Sealed struct {
	Ciphertext []byte `json:"ciphertext"`
	WrappedKey []byte `json:"wrapped_key"`
	IV         []byte `json:"iv"`
	AuthTag    []byte `json:"auth_tag"`
}

// Service encrypts and decrypts blobs with AES-256-GCM, one unique data key
// and IV per call.
type Service struct {
	keys KeyService
}

func NewService(keys KeyService) *Service {
	return &Service{keys: keys}
}

func (s *Service) Encrypt(ctx context.Context, plaintext []byte) (*Sealed, error) {
	dataKey, wrapped, err := s.keys.GenerateDataKey(ctx)
	if err != nil {
		return nil, fmt.Errorf("[Service.Encrypt] generate data key: %w", err)
	}

	gcm, err := newGCM(dataKey)
	if err != nil {
		return nil, err
	}
	iv := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(iv); err != nil {
		return nil, fmt.Errorf("[Service.Encrypt] iv: %w", err)
	}

	sealed := gcm.Seal(nil, iv, plaintext, nil)
	// Seal appends the auth tag; store it separately so tampering with
	// either part is detectable and reported the same way.
	split := len(sealed) - gcmTagSize
	return &Sealed{
		Ciphertext: sealed[:split],
		WrappedKey: wrapped,
		IV:         iv,
		AuthTag:    sealed[split:],
	}, nil
}

// Decrypt recovers the plaintext. Any authentication failure is reported as
// ErrDecryptionFailed, distinct from not-found: it signals tampering or
// corruption and never yields partial data.
func (s *Service) Decrypt(ctx context.Context, sealed *Sealed) ([]byte, error) {
	dataKey, err := s.keys.UnwrapKey(ctx, sealed.WrappedKey)
	if err != nil {
		return nil, errors.Wrapf(err, "[Service.Decrypt] unwrap key")
	}

	gcm, err := newGCM(dataKey)
	if err != nil {
		return nil, err
	}
	if len(sealed.IV) != gcm.NonceSize() {
		return nil, errors.Wrapf(errors.ErrDecryptionFailed, "[Service.Decrypt] bad iv length")
	}

	combined := make([]byte, 0, len(sealed.Ciphertext)+len(sealed.AuthTag))
	combined = append(combined, sealed.Ciphertext...)
	combined = append(combined, sealed.AuthTag...)

	plaintext, err := gcm.Open(nil, sealed.IV, combined, nil)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrDecryptionFailed, "[Service.Decrypt] open")
	}
	return plaintext, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("[envelope.newGCM] cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("[envelope.newGCM] gcm: %w", err)
	}
	return gcm, nil
}
