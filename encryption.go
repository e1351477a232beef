package cloudblob

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
)

// Envelope fields written by EncryptionBackend
const (
	envelopeAlgorithm = "alg"
	envelopeData      = "data"
	algorithmAESGCM   = "aes-256-gcm"
)

// EncryptionBackend wraps any backend with AES-256-GCM encryption at rest.
//
// Each document is stored as an envelope {"alg": "aes-256-gcm", "data":
// base64(nonce|ciphertext)}. The storage path is authenticated as additional
// data, so an envelope copied to another path fails to decrypt. Existence
// checks and listings pass through unchanged.
//
// Example:
//
//	key := make([]byte, 32) // Generate or load from secrets manager
//	rand.Read(key)
//	backend, err := cloudblob.NewEncryptionBackend(s3Backend, key)
//	ds, err := cloudblob.New(cloudblob.Config{Bucket: "app", Backend: backend})
type EncryptionBackend struct {
	Backend
	gcm cipher.AEAD
}

// NewEncryptionBackend wraps a backend with AES-256-GCM encryption.
// Key must be exactly 32 bytes for AES-256.
func NewEncryptionBackend(backend Backend, key []byte) (*EncryptionBackend, error) {
	if len(key) != 32 {
		return nil, WithContext(ErrInvalidConfig, map[string]interface{}{
			"expected_key_length": 32,
			"actual_key_length":   len(key),
			"reason":              "AES-256 requires 32-byte key",
		})
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	return &EncryptionBackend{
		Backend: backend,
		gcm:     gcm,
	}, nil
}

// ParseEncryptionKey decodes a standard base64 key of 32 bytes
func ParseEncryptionKey(encoded string) ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil || len(key) != 32 {
		reason := "expected 32 bytes"
		if err != nil {
			reason = err.Error()
		}
		return nil, WithContext(ErrInvalidConfig, map[string]interface{}{
			"field":  "EncryptionKey",
			"reason": reason,
		})
	}
	return key, nil
}

// WriteDoc encrypts doc before storing. The plaintext doc is returned when
// the wrapped backend acknowledges the envelope.
func (e *EncryptionBackend) WriteDoc(ctx context.Context, bucket, path string, doc Document) (Document, error) {
	plaintext, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal document: %w", err)
	}
	sealed, err := e.encrypt(plaintext, path)
	if err != nil {
		return nil, fmt.Errorf("encryption failed: %w", err)
	}

	ack, err := e.Backend.WriteDoc(ctx, bucket, path, Document{
		envelopeAlgorithm: algorithmAESGCM,
		envelopeData:      base64.StdEncoding.EncodeToString(sealed),
	})
	if err != nil {
		return nil, err
	}
	if len(ack) == 0 {
		return Document{}, nil
	}
	return doc, nil
}

// ReadDoc decrypts the envelope stored at path
func (e *EncryptionBackend) ReadDoc(ctx context.Context, bucket, path string) (Document, error) {
	envelope, err := e.Backend.ReadDoc(ctx, bucket, path)
	if err != nil {
		return nil, err
	}

	alg, _ := envelope.String(envelopeAlgorithm)
	data, ok := envelope.String(envelopeData)
	if alg != algorithmAESGCM || !ok {
		return nil, WithContext(ErrInvalidData, map[string]interface{}{
			"path":   path,
			"reason": "document is not an encrypted envelope",
		})
	}

	sealed, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, WithContext(ErrInvalidData, map[string]interface{}{
			"path":   path,
			"reason": err.Error(),
		})
	}
	plaintext, err := e.decrypt(sealed, path)
	if err != nil {
		return nil, err
	}

	var doc Document
	if err := json.Unmarshal(plaintext, &doc); err != nil {
		return nil, WithContext(ErrInvalidData, map[string]interface{}{
			"path":   path,
			"reason": err.Error(),
		})
	}
	return doc, nil
}

// Ping delegates to the wrapped backend when it supports health checks
func (e *EncryptionBackend) Ping(ctx context.Context, bucket string) error {
	if hc, ok := e.Backend.(HealthChecker); ok {
		return hc.Ping(ctx, bucket)
	}
	return nil
}

// Close closes the wrapped backend when it holds resources
func (e *EncryptionBackend) Close() error {
	if closer, ok := e.Backend.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

// encrypt seals plaintext with a random nonce prepended
func (e *EncryptionBackend) encrypt(plaintext []byte, path string) ([]byte, error) {
	nonce := make([]byte, e.gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	return e.gcm.Seal(nonce, nonce, plaintext, []byte(path)), nil
}

// decrypt reverses encrypt
func (e *EncryptionBackend) decrypt(sealed []byte, path string) ([]byte, error) {
	nonceSize := e.gcm.NonceSize()
	if len(sealed) < nonceSize {
		return nil, WithContext(ErrInvalidData, map[string]interface{}{
			"path":       path,
			"reason":     "ciphertext too short",
			"min_length": nonceSize,
			"actual":     len(sealed),
		})
	}

	nonce, ciphertext := sealed[:nonceSize], sealed[nonceSize:]
	plaintext, err := e.gcm.Open(nil, nonce, ciphertext, []byte(path))
	if err != nil {
		return nil, WithContext(ErrInvalidData, map[string]interface{}{
			"path":   path,
			"reason": "decryption failed: " + err.Error(),
		})
	}
	return plaintext, nil
}
