package encryption

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
)

const gcmTagSize = 16

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != 32 {
		return nil, cryptoErr(CodeKey, errors.New("AES-GCM key must be 32 bytes"))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, cryptoErr(CodeKey, err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, cryptoErr(CodeKey, err)
	}
	return gcm, nil
}

// SealGCM encrypts plaintext under key and returns nonce||tag||ciphertext
func SealGCM(key, plaintext []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, cryptoErr(CodeRandomness, err)
	}
	// Seal appends the tag after the ciphertext; move it in front
	sealed := gcm.Seal(nil, nonce, plaintext, nil)
	ctLen := len(sealed) - gcmTagSize
	out := make([]byte, 0, len(nonce)+len(sealed))
	out = append(out, nonce...)
	out = append(out, sealed[ctLen:]...)
	out = append(out, sealed[:ctLen]...)
	return out, nil
}

// OpenGCM reverses SealGCM. Any modification of blob fails authentication.
func OpenGCM(key, blob []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	nonceSize := gcm.NonceSize()
	if len(blob) < nonceSize+gcmTagSize {
		return nil, cryptoErr(CodeCiphertext, errors.New("sealed blob too short"))
	}
	nonce := blob[:nonceSize]
	tag := blob[nonceSize : nonceSize+gcmTagSize]
	ct := blob[nonceSize+gcmTagSize:]
	sealed := make([]byte, 0, len(ct)+len(tag))
	sealed = append(sealed, ct...)
	sealed = append(sealed, tag...)
	plaintext, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, cryptoErr(CodeAuthTag, err)
	}
	return plaintext, nil
}
