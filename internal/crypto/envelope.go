package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"time"
)

// AlgorithmName is recorded in key metadata and envelopes.
const AlgorithmName = "aes-256-gcm"

// Envelope is the portable ciphertext container. Data holds
// base64(iv || tag || ciphertext); KeyID and KeyVersion identify the key
// that produced it so decryption survives rotations.
type Envelope struct {
	Data       string    `json:"data"`
	KeyID      string    `json:"keyId"`
	KeyVersion int       `json:"keyVersion"`
	Algorithm  string    `json:"algorithm"`
	Timestamp  time.Time `json:"timestamp"`
}

var errEnvelopeTooShort = errors.New("ciphertext shorter than iv and tag")

func newAEAD(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	return cipher.NewGCM(block)
}

// sealEnvelope encrypts plaintext and packs the result as iv || tag || ct.
func sealEnvelope(aead cipher.AEAD, plaintext, aad []byte) ([]byte, error) {
	iv := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return nil, fmt.Errorf("failed to generate iv: %w", err)
	}

	sealed := aead.Seal(nil, iv, plaintext, aad)
	tagStart := len(sealed) - aead.Overhead()

	out := make([]byte, 0, len(iv)+len(sealed))
	out = append(out, iv...)
	out = append(out, sealed[tagStart:]...)
	out = append(out, sealed[:tagStart]...)
	return out, nil
}

// openEnvelope reverses sealEnvelope. Any tampering with iv, tag or
// ciphertext makes the GCM open fail.
func openEnvelope(aead cipher.AEAD, blob, aad []byte) ([]byte, error) {
	minLen := aead.NonceSize() + aead.Overhead()
	if len(blob) < minLen {
		return nil, errEnvelopeTooShort
	}

	iv := blob[:aead.NonceSize()]
	tag := blob[aead.NonceSize() : aead.NonceSize()+aead.Overhead()]
	ct := blob[aead.NonceSize()+aead.Overhead():]

	sealed := make([]byte, 0, len(ct)+len(tag))
	sealed = append(sealed, ct...)
	sealed = append(sealed, tag...)
	return aead.Open(nil, iv, sealed, aad)
}
