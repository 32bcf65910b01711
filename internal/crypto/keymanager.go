// Package crypto provides request signing for the exchange REST API and
// password-based encryption of the API secret at rest.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// pbkdf2Iterations is the OWASP-recommended minimum for HMAC-SHA256.
	pbkdf2Iterations = 480_000
	saltLen          = 16
	aesKeyLen        = 32
	currentVersion   = 1
)

// encryptedSecretJSON is the on-disk format for an encrypted API secret.
type encryptedSecretJSON struct {
	Version    int    `json:"version"`
	Salt       string `json:"salt"`
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
}

// SecretConfig carries the information LoadSecret needs to resolve the API
// secret.
type SecretConfig struct {
	// RawSecret is used as-is when non-empty.
	RawSecret string

	// EncryptedPath is the path to a JSON file produced by EncryptSecret.
	EncryptedPath string

	// Password decrypts the file at EncryptedPath.
	Password string
}

// EncryptSecret encrypts secret with PBKDF2-HMAC-SHA256 key derivation and
// AES-256-GCM. It returns the JSON blob suitable for writing to disk.
func EncryptSecret(secret, password string) ([]byte, error) {
	if password == "" {
		return nil, errors.New("crypto: password must not be empty")
	}
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("crypto: secret must not be empty")
	}

	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("crypto: generating salt: %w", err)
	}

	gcm, err := newGCM(password, salt)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("crypto: generating nonce: %w", err)
	}

	out := encryptedSecretJSON{
		Version:    currentVersion,
		Salt:       base64.StdEncoding.EncodeToString(salt),
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(gcm.Seal(nil, nonce, []byte(secret), nil)),
	}
	return json.MarshalIndent(out, "", "  ")
}

// DecryptSecret decrypts a JSON blob produced by EncryptSecret.
func DecryptSecret(encryptedJSON []byte, password string) (string, error) {
	if password == "" {
		return "", errors.New("crypto: password must not be empty")
	}

	var stored encryptedSecretJSON
	if err := json.Unmarshal(encryptedJSON, &stored); err != nil {
		return "", fmt.Errorf("crypto: parsing encrypted secret JSON: %w", err)
	}
	if stored.Version != currentVersion {
		return "", fmt.Errorf("crypto: unsupported version %d", stored.Version)
	}

	salt, err := base64.StdEncoding.DecodeString(stored.Salt)
	if err != nil {
		return "", fmt.Errorf("crypto: decoding salt: %w", err)
	}
	nonce, err := base64.StdEncoding.DecodeString(stored.Nonce)
	if err != nil {
		return "", fmt.Errorf("crypto: decoding nonce: %w", err)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(stored.Ciphertext)
	if err != nil {
		return "", fmt.Errorf("crypto: decoding ciphertext: %w", err)
	}

	gcm, err := newGCM(password, salt)
	if err != nil {
		return "", err
	}

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("crypto: decrypt secret, wrong password or corrupt file: %w", err)
	}
	return string(plaintext), nil
}

// WriteSecretFile encrypts secret into a new owner-only file at path. It
// refuses to replace an existing file so a stored key is never lost by a
// mistyped command.
func WriteSecretFile(path, secret, password string) error {
	blob, err := EncryptSecret(secret, password)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return fmt.Errorf("crypto: create secret file: %w", err)
	}
	if _, err := f.Write(blob); err != nil {
		_ = f.Close()
		return fmt.Errorf("crypto: write secret file: %w", err)
	}
	return f.Close()
}

// LoadSecret resolves the API secret: RawSecret first, then the encrypted
// file. The file must not be readable by group or others.
func LoadSecret(cfg SecretConfig) (string, error) {
	if cfg.RawSecret != "" {
		return cfg.RawSecret, nil
	}
	if cfg.EncryptedPath == "" {
		return "", errors.New("crypto: no api secret configured (set api_secret or encrypted_secret_path)")
	}

	info, err := os.Stat(cfg.EncryptedPath)
	if err != nil {
		return "", fmt.Errorf("crypto: stat secret file: %w", err)
	}
	if perm := info.Mode().Perm(); perm&0o077 != 0 {
		return "", fmt.Errorf("crypto: secret file %s has mode %#o, want 0600", cfg.EncryptedPath, perm)
	}
	data, err := os.ReadFile(cfg.EncryptedPath)
	if err != nil {
		return "", fmt.Errorf("crypto: read secret file: %w", err)
	}
	return DecryptSecret(data, cfg.Password)
}

func newGCM(password string, salt []byte) (cipher.AEAD, error) {
	derivedKey := pbkdf2.Key([]byte(password), salt, pbkdf2Iterations, aesKeyLen, sha256.New)

	block, err := aes.NewCipher(derivedKey)
	if err != nil {
		return nil, fmt.Errorf("crypto: creating cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: creating GCM: %w", err)
	}
	return gcm, nil
}
