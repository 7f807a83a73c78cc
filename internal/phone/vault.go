package phone

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"strings"
)

// Vault normalizes phone numbers and keeps them out of plain storage: a
// SHA-256 hash for lookups and AES-256-GCM ciphertext for the reversible
// copy needed at push time.
type Vault struct {
	key []byte
}

// NewVault expects a hex-encoded 32-byte key.
func NewVault(keyHex string) (*Vault, error) {
	key, err := hex.DecodeString(keyHex)
	if err != nil {
		return nil, fmt.Errorf("decode phone encryption key: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("phone encryption key must be 32 bytes, got %d", len(key))
	}
	return &Vault{key: key}, nil
}

// Normalize converts Kenyan MSISDNs to the 254XXXXXXXXX wire format.
// Accepts 07XXXXXXXX, 01XXXXXXXX, 7XXXXXXXX, 1XXXXXXXX, +254..., 254...
func (v *Vault) Normalize(raw string) (string, error) {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()

	switch {
	case strings.HasPrefix(digits, "254"):
	case strings.HasPrefix(digits, "0"):
		digits = "254" + digits[1:]
	case strings.HasPrefix(digits, "7"), strings.HasPrefix(digits, "1"):
		digits = "254" + digits
	default:
		return "", fmt.Errorf("unrecognized phone number format: %s", Mask(raw))
	}

	if len(digits) != 12 {
		return "", fmt.Errorf("invalid phone number length: %s", Mask(digits))
	}
	return digits, nil
}

// Hash returns the hex SHA-256 of the normalized number, the lookup key
// stored alongside every transaction.
func (v *Vault) Hash(phone string) string {
	sum := sha256.Sum256([]byte(phone))
	return hex.EncodeToString(sum[:])
}

// Encrypt seals the number with AES-256-GCM, nonce prepended, base64 encoded.
func (v *Vault) Encrypt(phone string) (string, error) {
	block, err := aes.NewCipher(v.key)
	if err != nil {
		return "", fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("create GCM: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	sealed := gcm.Seal(nonce, nonce, []byte(phone), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

func (v *Vault) Decrypt(ciphertext string) (string, error) {
	decoded, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("decode ciphertext: %w", err)
	}

	block, err := aes.NewCipher(v.key)
	if err != nil {
		return "", fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("create GCM: %w", err)
	}

	if len(decoded) < gcm.NonceSize() {
		return "", fmt.Errorf("ciphertext too short")
	}
	nonce, sealed := decoded[:gcm.NonceSize()], decoded[gcm.NonceSize():]

	plain, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("decrypt phone number: %w", err)
	}
	return string(plain), nil
}

// Mask renders a number safe for logs and chat replies: first three and
// last three digits only.
func Mask(phone string) string {
	if len(phone) < 6 {
		return "******"
	}
	return phone[:3] + "****" + phone[len(phone)-3:]
}
