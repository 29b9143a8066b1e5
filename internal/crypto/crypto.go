// Package crypto encrypts email addresses at rest. The wire format is
// hex(IV || AES-CBC ciphertext) with PKCS#7 padding, kept compatible with
// the rows already in production.
package crypto

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
)

var (
	ErrInvalidKey        = errors.New("encryption key must be 16, 24 or 32 bytes of hex")
	ErrInvalidCiphertext = errors.New("ciphertext is malformed")
	ErrInvalidPadding    = errors.New("ciphertext has invalid padding")
)

// Codec encrypts and decrypts email addresses with a fixed AES key.
type Codec struct {
	key []byte
}

// NewCodec parses the hex-encoded AES key and returns a codec.
func NewCodec(hexKey string) (*Codec, error) {
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidKey, err)
	}

	switch len(key) {
	case 16, 24, 32:
	default:
		return nil, ErrInvalidKey
	}

	return &Codec{key: key}, nil
}

// Encrypt returns hex(IV || ciphertext) for the given address.
// An empty input encrypts to an empty string.
func (c *Codec) Encrypt(plain string) (string, error) {
	if plain == "" {
		return "", nil
	}

	block, err := aes.NewCipher(c.key)
	if err != nil {
		return "", fmt.Errorf("failed to create cipher: %w", err)
	}

	iv := make([]byte, aes.BlockSize)
	if _, err := rand.Read(iv); err != nil {
		return "", fmt.Errorf("failed to generate IV: %w", err)
	}

	padded := pad([]byte(plain), aes.BlockSize)
	ciphertext := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, padded)

	return hex.EncodeToString(append(iv, ciphertext...)), nil
}

// Decrypt reverses Encrypt. An empty input decrypts to an empty string.
func (c *Codec) Decrypt(encHex string) (string, error) {
	if encHex == "" {
		return "", nil
	}

	data, err := hex.DecodeString(encHex)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidCiphertext, err)
	}

	if len(data) < 2*aes.BlockSize || len(data)%aes.BlockSize != 0 {
		return "", ErrInvalidCiphertext
	}

	block, err := aes.NewCipher(c.key)
	if err != nil {
		return "", fmt.Errorf("failed to create cipher: %w", err)
	}

	iv, ciphertext := data[:aes.BlockSize], data[aes.BlockSize:]
	plain := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plain, ciphertext)

	return unpad(plain)
}

// pad applies PKCS#7 padding.
func pad(data []byte, blockSize int) []byte {
	n := blockSize - len(data)%blockSize
	return append(data, bytes.Repeat([]byte{byte(n)}, n)...)
}

// unpad strips and validates PKCS#7 padding.
func unpad(data []byte) (string, error) {
	if len(data) == 0 {
		return "", ErrInvalidPadding
	}

	n := int(data[len(data)-1])
	if n == 0 || n > aes.BlockSize || n > len(data) {
		return "", ErrInvalidPadding
	}

	for _, b := range data[len(data)-n:] {
		if int(b) != n {
			return "", ErrInvalidPadding
		}
	}

	return string(data[:len(data)-n]), nil
}
