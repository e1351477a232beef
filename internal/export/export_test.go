package export

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/adrianmcphee/cloudblob"
)

func setupTestDatastore(t *testing.T) *cloudblob.Datastore {
	t.Helper()

	ds, err := cloudblob.New(cloudblob.Config{
		Bucket: "test",
		Namespaces: map[string]cloudblob.NamespaceConfig{
			"member": {Ref: "id", Indexer: cloudblob.NewFullTextIndex([]string{"name"}, "id")},
			"empty":  {},
		},
		Persist: true,
	})
	if err != nil {
		t.Fatalf("Failed to create datastore: %v", err)
	}
	return ds
}

func seed(t *testing.T, ds *cloudblob.Datastore, n int) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < n; i++ {
		key := string(rune('a' + i))
		doc := cloudblob.Document{"id": key, "name": "member " + key, "age": float64(20 + i)}
		if _, err := ds.Put(ctx, "member", doc, key); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
		if err := ds.Index(ctx, "member", doc); err != nil {
			t.Fatalf("Index failed: %v", err)
		}
	}
	// The index snapshot shares the namespace prefix and must not be exported
	if ok, err := ds.DumpIndex(ctx, "member"); err != nil || !ok {
		t.Fatalf("DumpIndex failed: %v %v", ok, err)
	}
}

func TestNamespace_JSONL(t *testing.T) {
	ds := setupTestDatastore(t)
	seed(t, ds, 5)

	var buf bytes.Buffer
	n, err := Namespace(context.Background(), ds, "member", &buf, Options{PageSize: 2})
	if err != nil {
		t.Fatalf("export failed: %v", err)
	}
	if n != 5 {
		t.Errorf("expected 5 documents, got %d", n)
	}

	var ids []string
	scanner := bufio.NewScanner(&buf)
	for scanner.Scan() {
		var row map[string]interface{}
		if err := json.Unmarshal(scanner.Bytes(), &row); err != nil {
			t.Fatalf("Invalid JSONL line: %v", err)
		}
		ids = append(ids, row["id"].(string))
	}
	if strings.Join(ids, "") != "abcde" {
		t.Errorf("expected listing order abcde, got %v", ids)
	}
}

func TestNamespace_SQL(t *testing.T) {
	ds := setupTestDatastore(t)
	seed(t, ds, 1)

	var buf bytes.Buffer
	if _, err := Namespace(context.Background(), ds, "member", &buf, Options{Format: FormatSQL}); err != nil {
		t.Fatalf("export failed: %v", err)
	}

	output := buf.String()
	if !strings.Contains(output, "-- cloudblob export of namespace member") {
		t.Error("expected header comment")
	}
	want := "INSERT INTO member (age, id, name) VALUES (20, 'a', 'member a');"
	if !strings.Contains(output, want) {
		t.Errorf("expected %q, got:\n%s", want, output)
	}
}

func TestNamespace_Empty(t *testing.T) {
	ds := setupTestDatastore(t)

	var buf bytes.Buffer
	n, err := Namespace(context.Background(), ds, "empty", &buf, Options{})
	if err != nil {
		t.Fatalf("export failed: %v", err)
	}
	if n != 0 || buf.Len() != 0 {
		t.Errorf("expected empty export, got %d docs %q", n, buf.String())
	}
}

func TestNamespace_Errors(t *testing.T) {
	ds := setupTestDatastore(t)
	ctx := context.Background()

	if _, err := Namespace(ctx, ds, "widget", &bytes.Buffer{}, Options{}); !errors.Is(err, cloudblob.ErrUnconfiguredNamespace) {
		t.Errorf("expected ErrUnconfiguredNamespace, got %v", err)
	}
	if _, err := Namespace(ctx, ds, "member", &bytes.Buffer{}, Options{Format: "csv"}); err == nil {
		t.Error("expected error for unknown format")
	}
}

func TestDocumentToInsert(t *testing.T) {
	tests := []struct {
		name string
		doc  cloudblob.Document
		want string
	}{
		{
			name: "scalars",
			doc:  cloudblob.Document{"id": "p1", "price": 9.99, "active": true, "note": nil},
			want: "INSERT INTO item (active, id, note, price) VALUES (true, 'p1', NULL, 9.99);\n",
		},
		{
			name: "escaping",
			doc:  cloudblob.Document{"name": "O'Brien"},
			want: "INSERT INTO item (name) VALUES ('O''Brien');\n",
		},
		{
			name: "nested",
			doc:  cloudblob.Document{"tags": []interface{}{"a", "b"}},
			want: `INSERT INTO item (tags) VALUES ('["a","b"]');` + "\n",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DocumentToInsert("item", tt.doc); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestImport_RoundTrip(t *testing.T) {
	src := setupTestDatastore(t)
	seed(t, src, 5)

	var buf bytes.Buffer
	if _, err := Namespace(context.Background(), src, "member", &buf, Options{}); err != nil {
		t.Fatalf("export failed: %v", err)
	}

	ctx := context.Background()
	dst := setupTestDatastore(t)
	n, err := Import(ctx, dst, "member", &buf, Options{PageSize: 2})
	if err != nil {
		t.Fatalf("import failed: %v", err)
	}
	if n != 5 {
		t.Errorf("expected 5 imported, got %d", n)
	}

	doc, err := dst.Get(ctx, "member", "c")
	if err != nil || doc["name"] != "member c" {
		t.Errorf("unexpected imported doc %v (%v)", doc, err)
	}

	// Imported documents are indexed
	res, err := dst.Filter(ctx, "member", "member", true)
	if err != nil || len(res.Keys) != 5 {
		t.Errorf("expected 5 indexed documents, got %v (%v)", res, err)
	}
}

func TestImport_GeneratesKeysAndSkipsBlankLines(t *testing.T) {
	ctx := context.Background()
	ds := setupTestDatastore(t)

	input := "{\"name\": \"first\"}\n\n{\"name\": \"second\"}\n"
	n, err := Import(ctx, ds, "member", strings.NewReader(input), Options{})
	if err != nil || n != 2 {
		t.Fatalf("expected 2 imported, got %d (%v)", n, err)
	}

	page, err := ds.List(ctx, "member", cloudblob.ListOptions{})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	for _, key := range page.Keys {
		if !cloudblob.IsValidID(key) {
			t.Errorf("expected generated id, got %q", key)
		}
	}
}

func TestImport_Errors(t *testing.T) {
	ctx := context.Background()
	ds := setupTestDatastore(t)

	if _, err := Import(ctx, ds, "widget", strings.NewReader(""), Options{}); !errors.Is(err, cloudblob.ErrUnconfiguredNamespace) {
		t.Errorf("expected ErrUnconfiguredNamespace, got %v", err)
	}
	if _, err := Import(ctx, ds, "member", strings.NewReader(""), Options{Format: FormatSQL}); err == nil {
		t.Error("expected error for sql import")
	}

	input := "{\"id\": \"ok\"}\nnot json\n"
	n, err := Import(ctx, ds, "member", strings.NewReader(input), Options{PageSize: 1})
	if !errors.Is(err, cloudblob.ErrInvalidData) {
		t.Errorf("expected ErrInvalidData, got %v", err)
	}
	if n != 1 {
		t.Errorf("expected the line before the bad one to be stored, got %d", n)
	}

	// "empty" has no ref, so keyless documents cannot be stored
	if _, err := Import(ctx, ds, "empty", strings.NewReader("{\"a\": 1}\n"), Options{}); !errors.Is(err, cloudblob.ErrMissingRef) {
		t.Errorf("expected ErrMissingRef, got %v", err)
	}
}
