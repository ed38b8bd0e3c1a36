package encryption

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"

	"golang.org/x/xerrors"
)

// KeySize and IVSize are the AES-256-GCM parameters used for ballots and
// key wraps.
const (
	KeySize = 32
	IVSize  = 12
)

// RandomBytes reads n bytes from crypto/rand.
func RandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, err
	}
	return b, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != KeySize {
		return nil, xerrors.New("aes key must be 32 bytes")
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// SealWithIV encrypts plaintext under key and iv and returns IV‖ciphertext.
// Re-running it with a disclosed key and IV reproduces the exact bytes,
// which is what spoiled-ballot audits compare against.
func SealWithIV(key, iv, plaintext, aad []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	if len(iv) != gcm.NonceSize() {
		return nil, xerrors.New("iv must be 12 bytes")
	}
	out := make([]byte, 0, len(iv)+len(plaintext)+gcm.Overhead())
	out = append(out, iv...)
	return gcm.Seal(out, iv, plaintext, aad), nil
}

// Seal encrypts plaintext under a fresh random IV.
func Seal(key, plaintext, aad []byte) ([]byte, error) {
	iv, err := RandomBytes(IVSize)
	if err != nil {
		return nil, err
	}
	return SealWithIV(key, iv, plaintext, aad)
}

// Open splits IV‖ciphertext and decrypts it.
func Open(key, packed, aad []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	if len(packed) < gcm.NonceSize()+gcm.Overhead() {
		return nil, xerrors.New("ciphertext too short")
	}
	iv, ct := packed[:gcm.NonceSize()], packed[gcm.NonceSize():]
	return gcm.Open(nil, iv, ct, aad)
}
