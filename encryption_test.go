package cloudblob

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"reflect"
	"testing"
)

func newTestKey(t *testing.T) []byte {
	t.Helper()
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		t.Fatalf("rand failed: %v", err)
	}
	return key
}

func TestEncryptionBackend_InvalidKeyLength(t *testing.T) {
	backend := NewMemoryBackend()

	for _, length := range []int{0, 16, 24, 31, 33, 64} {
		_, err := NewEncryptionBackend(backend, make([]byte, length))
		if !errors.Is(err, ErrInvalidConfig) {
			t.Errorf("key length %d: expected ErrInvalidConfig, got %v", length, err)
		}
	}
}

func TestEncryptionBackend_Compliance(t *testing.T) {
	enc, err := NewEncryptionBackend(NewFilesystemBackend(t.TempDir()), newTestKey(t))
	if err != nil {
		t.Fatalf("Failed to create encryption backend: %v", err)
	}
	runBackendCompliance(t, context.Background(), enc, "test-bucket", "encrypted")
}

func TestEncryptionBackend_StoresCiphertext(t *testing.T) {
	ctx := context.Background()
	inner := NewMemoryBackend()
	enc, err := NewEncryptionBackend(inner, newTestKey(t))
	if err != nil {
		t.Fatalf("Failed to create encryption backend: %v", err)
	}

	path := BuildKey("user", "john", "")
	doc := Document{"name": "John", "secret": "hunter2"}
	if _, err := enc.WriteDoc(ctx, "b", path, doc); err != nil {
		t.Fatalf("WriteDoc failed: %v", err)
	}

	raw, err := inner.ReadDoc(ctx, "b", path)
	if err != nil {
		t.Fatalf("raw read failed: %v", err)
	}
	if raw[envelopeAlgorithm] != algorithmAESGCM {
		t.Errorf("expected envelope, got %v", raw)
	}
	sealed, _ := base64.StdEncoding.DecodeString(raw[envelopeData].(string))
	if bytes.Contains(sealed, []byte("hunter2")) {
		t.Error("plaintext leaked into stored envelope")
	}

	got, err := enc.ReadDoc(ctx, "b", path)
	if err != nil {
		t.Fatalf("ReadDoc failed: %v", err)
	}
	if !reflect.DeepEqual(got, doc) {
		t.Errorf("expected %v, got %v", doc, got)
	}
}

func TestEncryptionBackend_RandomNonce(t *testing.T) {
	ctx := context.Background()
	inner := NewMemoryBackend()
	enc, _ := NewEncryptionBackend(inner, newTestKey(t))

	doc := Document{"name": "same"}
	enc.WriteDoc(ctx, "b", "user/a/entity.json", doc)
	enc.WriteDoc(ctx, "b", "user/b/entity.json", doc)

	a, _ := inner.ReadDoc(ctx, "b", "user/a/entity.json")
	b, _ := inner.ReadDoc(ctx, "b", "user/b/entity.json")
	if a[envelopeData] == b[envelopeData] {
		t.Error("identical plaintexts should produce different ciphertexts")
	}
}

func TestEncryptionBackend_DecryptFailures(t *testing.T) {
	ctx := context.Background()
	inner := NewMemoryBackend()
	key := newTestKey(t)
	enc, _ := NewEncryptionBackend(inner, key)

	if _, err := enc.WriteDoc(ctx, "b", "user/a/entity.json", Document{"name": "a"}); err != nil {
		t.Fatalf("WriteDoc failed: %v", err)
	}
	envelope, _ := inner.ReadDoc(ctx, "b", "user/a/entity.json")

	tests := []struct {
		name  string
		setup func() (*EncryptionBackend, string)
	}{
		{
			name: "wrong key",
			setup: func() (*EncryptionBackend, string) {
				other, _ := NewEncryptionBackend(inner, newTestKey(t))
				return other, "user/a/entity.json"
			},
		},
		{
			name: "moved envelope",
			setup: func() (*EncryptionBackend, string) {
				inner.WriteDoc(ctx, "b", "user/moved/entity.json", envelope)
				return enc, "user/moved/entity.json"
			},
		},
		{
			name: "plaintext document",
			setup: func() (*EncryptionBackend, string) {
				inner.WriteDoc(ctx, "b", "user/plain/entity.json", Document{"name": "plain"})
				return enc, "user/plain/entity.json"
			},
		},
		{
			name: "truncated ciphertext",
			setup: func() (*EncryptionBackend, string) {
				inner.WriteDoc(ctx, "b", "user/short/entity.json", Document{
					envelopeAlgorithm: algorithmAESGCM,
					envelopeData:      base64.StdEncoding.EncodeToString([]byte("abc")),
				})
				return enc, "user/short/entity.json"
			},
		},
		{
			name: "bad base64",
			setup: func() (*EncryptionBackend, string) {
				inner.WriteDoc(ctx, "b", "user/b64/entity.json", Document{
					envelopeAlgorithm: algorithmAESGCM,
					envelopeData:      "!!not base64!!",
				})
				return enc, "user/b64/entity.json"
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend, path := tt.setup()
			if _, err := backend.ReadDoc(ctx, "b", path); !errors.Is(err, ErrInvalidData) {
				t.Errorf("expected ErrInvalidData, got %v", err)
			}
		})
	}

	if _, err := enc.ReadDoc(ctx, "b", "user/missing/entity.json"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound to pass through, got %v", err)
	}
}

func TestEncryptionBackend_Datastore(t *testing.T) {
	ctx := context.Background()
	inner := NewMemoryBackend()
	enc, _ := NewEncryptionBackend(inner, newTestKey(t))

	ds, err := New(Config{
		Bucket:  "secure",
		Backend: enc,
		Persist: true,
		Namespaces: map[string]NamespaceConfig{
			"user": {Ref: "id", Indexer: NewFullTextIndex([]string{"name"}, "id")},
		},
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := ds.Ping(ctx); err != nil {
		t.Errorf("Ping failed: %v", err)
	}

	doc, err := ds.Put(ctx, "user", Document{"name": "john smith"}, "")
	if err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := ds.Index(ctx, "user", doc); err != nil {
		t.Fatalf("Index failed: %v", err)
	}
	if ok, err := ds.DumpIndex(ctx, "user"); err != nil || !ok {
		t.Fatalf("DumpIndex failed: %v %v", ok, err)
	}

	// The snapshot is encrypted too and reloads through the decorator
	raw, _ := inner.ReadDoc(ctx, "secure", IndexKey("user", FullTextIndexFileName))
	if raw[envelopeAlgorithm] != algorithmAESGCM {
		t.Errorf("expected encrypted snapshot, got %v", raw)
	}
	if err := ds.FlushIndex(ctx, "user", false); err != nil {
		t.Fatalf("FlushIndex failed: %v", err)
	}

	res, err := ds.Filter(ctx, "user", "smith", false)
	if err != nil {
		t.Fatalf("Filter failed: %v", err)
	}
	if len(res.Documents) != 1 || res.Documents[0]["name"] != "john smith" {
		t.Errorf("unexpected filter result %+v", res)
	}

	page, err := ds.List(ctx, "user", ListOptions{})
	if err != nil || len(page.Keys) != 1 {
		t.Errorf("expected 1 listed key, got %v (%v)", page, err)
	}
}

func TestParseEncryptionKey(t *testing.T) {
	key := newTestKey(t)

	got, err := ParseEncryptionKey(base64.StdEncoding.EncodeToString(key))
	if err != nil || !bytes.Equal(got, key) {
		t.Errorf("expected key round trip, got %v", err)
	}

	for _, bad := range []string{"", "not base64!", base64.StdEncoding.EncodeToString([]byte("short"))} {
		if _, err := ParseEncryptionKey(bad); !errors.Is(err, ErrInvalidConfig) {
			t.Errorf("%q: expected ErrInvalidConfig, got %v", bad, err)
		}
	}
}

func TestNewBackend_Encrypted(t *testing.T) {
	ctx := context.Background()
	encoded := base64.StdEncoding.EncodeToString(newTestKey(t))

	backend, err := NewBackend(ctx, BackendConfig{Type: BackendMemory, EncryptionKey: encoded})
	if err != nil {
		t.Fatalf("NewBackend failed: %v", err)
	}
	enc, ok := backend.(*EncryptionBackend)
	if !ok {
		t.Fatalf("expected EncryptionBackend, got %T", backend)
	}
	if _, ok := enc.Backend.(*MemoryBackend); !ok {
		t.Errorf("expected wrapped MemoryBackend, got %T", enc.Backend)
	}

	if _, err := NewBackend(ctx, BackendConfig{EncryptionKey: "bad"}); !IsConfigError(err) {
		t.Errorf("expected config error for bad key, got %v", err)
	}
}
