// Package secrets decrypts ENC[v1:aesgcm:...] values found in config.
package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
)

const MasterKeyEnv = "DASHGATE_MASTER_KEY"

var encValuePattern = regexp.MustCompile(`^ENC\[v1:aesgcm:([A-Za-z0-9+/=]+)\]$`)

// IsEncrypted reports whether raw is an ENC[...] value.
func IsEncrypted(raw string) bool {
	return encValuePattern.MatchString(strings.TrimSpace(raw))
}

// Reveal returns raw unchanged unless it is an ENC[...] value, in which case
// it is decrypted with the master key from the environment.
func Reveal(raw string) (string, error) {
	m := encValuePattern.FindStringSubmatch(strings.TrimSpace(raw))
	if m == nil {
		return raw, nil
	}
	key, err := MasterKey()
	if err != nil {
		return "", err
	}
	return decrypt(key, m[1])
}

func decrypt(key []byte, b64 string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return "", fmt.Errorf("invalid base64 ciphertext: %w", err)
	}
	gcm, err := newGCM(key)
	if err != nil {
		return "", err
	}
	if len(data) < gcm.NonceSize() {
		return "", errors.New("ciphertext too short")
	}
	nonce, ct := data[:gcm.NonceSize()], data[gcm.NonceSize():]
	pt, err := gcm.Open(nil, nonce, ct, nil)
	if err != nil {
		return "", fmt.Errorf("decrypt failed: %w", err)
	}
	return string(pt), nil
}

// Encrypt seals plain with the master key from the environment.
func Encrypt(plain string) (string, error) {
	key, err := MasterKey()
	if err != nil {
		return "", err
	}
	return encrypt(key, plain)
}

func encrypt(key []byte, plain string) (string, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}
	buf := gcm.Seal(nonce, nonce, []byte(plain), nil)
	return "ENC[v1:aesgcm:" + base64.StdEncoding.EncodeToString(buf) + "]", nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// MasterKey accepts either a raw 32-byte string or base64 of 32 bytes.
func MasterKey() ([]byte, error) {
	raw := strings.TrimSpace(os.Getenv(MasterKeyEnv))
	if raw == "" {
		return nil, errors.New(MasterKeyEnv + " is required to decrypt ENC[...] values")
	}
	if len(raw) == 32 {
		return []byte(raw), nil
	}
	b, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, errors.New(MasterKeyEnv + " must be 32 bytes or base64-encoded 32 bytes")
	}
	if len(b) != 32 {
		return nil, errors.New(MasterKeyEnv + " must be 32 bytes (AES-256)")
	}
	return b, nil
}

// Equal compares two secrets in constant time.
func Equal(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
