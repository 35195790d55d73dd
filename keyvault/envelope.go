package keyvault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"

	"github.com/pkg/errors"
	"golang.org/x/crypto/pbkdf2"
)

const (
	// MinIterations is the PBKDF2 floor; configuration may only raise it.
	MinIterations = 100000
	// MasterKeySize is the decoded length of the master secret.
	MasterKeySize = 32

	saltSize = 16
	keySize  = 32
	// nonceSize and tagSize are the AES-GCM defaults.
	nonceSize = 12
	tagSize   = 16
)

// Envelope seals key material under a key derived from the master secret and a
// fresh salt. The sealed form is base64(salt || nonce || ciphertext || tag).
type Envelope struct {
	master     []byte
	iterations int
}

func NewEnvelope(master []byte, iterations int) (*Envelope, error) {
	if len(master) != MasterKeySize {
		return nil, errors.Errorf("master key must be %d bytes, got %d", MasterKeySize, len(master))
	}
	if iterations < MinIterations {
		return nil, errors.Errorf("kdf iterations must be at least %d, got %d", MinIterations, iterations)
	}
	return &Envelope{
		master:     append([]byte(nil), master...),
		iterations: iterations,
	}, nil
}

func (e *Envelope) aead(salt []byte) (cipher.AEAD, error) {
	key := pbkdf2.Key(e.master, salt, e.iterations, keySize, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create cipher")
	}
	return cipher.NewGCM(block)
}

// Seal encrypts plaintext. Salt and nonce are drawn fresh on every call.
func (e *Envelope) Seal(plaintext []byte) (string, error) {
	buf := make([]byte, saltSize+nonceSize)
	if _, err := rand.Read(buf); err != nil {
		return "", errors.Wrap(err, "failed to read salt and nonce")
	}
	salt, nonce := buf[:saltSize], buf[saltSize:]

	gcm, err := e.aead(salt)
	if err != nil {
		return "", err
	}
	sealed := gcm.Seal(buf, nonce, plaintext, nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Open reverses Seal. Any structural problem or authentication failure is
// reported as ErrDecryptionFailure.
func (e *Envelope) Open(sealed string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return nil, errors.Wrap(ErrDecryptionFailure, "envelope is not base64")
	}
	if len(raw) < saltSize+nonceSize+tagSize {
		return nil, errors.Wrap(ErrDecryptionFailure, "envelope too short")
	}
	salt := raw[:saltSize]
	nonce := raw[saltSize : saltSize+nonceSize]
	body := raw[saltSize+nonceSize:]

	gcm, err := e.aead(salt)
	if err != nil {
		return nil, errors.Wrap(ErrDecryptionFailure, err.Error())
	}
	plaintext, err := gcm.Open(nil, nonce, body, nil)
	if err != nil {
		return nil, errors.Wrap(ErrDecryptionFailure, "authentication failed")
	}
	return plaintext, nil
}
