package gateway

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
)

// ResponseEncoder opaque-encodes response payloads for routes whose policy
// asks for it. AES-256-GCM over the JSON form, nonce prepended, base64 out.
type ResponseEncoder struct {
	aead cipher.AEAD
}

// NewResponseEncoder takes a base64-encoded 32-byte key.
func NewResponseEncoder(base64Key string) (*ResponseEncoder, error) {
	key, err := base64.StdEncoding.DecodeString(base64Key)
	if err != nil {
		return nil, fmt.Errorf("decode response key: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("response key must be 32 bytes, got %d", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &ResponseEncoder{aead: aead}, nil
}

func (e *ResponseEncoder) Encode(data any) (string, error) {
	plain, err := json.Marshal(data)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, e.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}
	sealed := e.aead.Seal(nonce, nonce, plain, nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decode reverses Encode. Used by tests and by trusted internal consumers.
func (e *ResponseEncoder) Decode(encoded string, out any) error {
	sealed, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return err
	}
	if len(sealed) < e.aead.NonceSize() {
		return fmt.Errorf("ciphertext too short")
	}
	nonce, ciphertext := sealed[:e.aead.NonceSize()], sealed[e.aead.NonceSize():]
	plain, err := e.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return err
	}
	return json.Unmarshal(plain, out)
}
