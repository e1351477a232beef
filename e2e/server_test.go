package e2e

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/adrianmcphee/cloudblob"
	"github.com/adrianmcphee/cloudblob/internal/protocol"
	"github.com/jackc/pgx/v5"
)

type testEnv struct {
	ds      *cloudblob.Datastore
	server  *protocol.Server
	dataDir string
}

// setupTest starts a gateway over a filesystem-backed datastore on a free port
func setupTest(t *testing.T) *testEnv {
	t.Helper()

	dir := t.TempDir()
	ds, err := cloudblob.New(cloudblob.Config{
		Bucket:  "e2e",
		Backend: cloudblob.NewFilesystemBackend(dir),
		Persist: true,
		Namespaces: map[string]cloudblob.NamespaceConfig{
			"products": {Ref: "id", Indexer: cloudblob.NewFullTextIndex([]string{"name", "description"}, "id")},
			"visits":   {Ref: "vid"},
		},
	})
	if err != nil {
		t.Fatalf("Failed to create datastore: %v", err)
	}

	server := protocol.NewServer("127.0.0.1:0", ds, nil, nil)
	if err := server.Listen(); err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}
	go func() {
		_ = server.Serve()
	}()
	t.Cleanup(func() { server.Close() })

	return &testEnv{ds: ds, server: server, dataDir: dir}
}

func (env *testEnv) connect(t *testing.T) *pgx.Conn {
	t.Helper()

	ctx := context.Background()
	conn, err := pgx.Connect(ctx, fmt.Sprintf("postgres://test@%s/e2e?sslmode=disable", env.server.Addr()))
	if err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	t.Cleanup(func() { conn.Close(ctx) })
	return conn
}

// queryStrings runs a simple-protocol query and returns every column as text
func queryStrings(t *testing.T, conn *pgx.Conn, sql string) [][]string {
	t.Helper()

	rows, err := conn.Query(context.Background(), sql, pgx.QueryExecModeSimpleProtocol)
	if err != nil {
		t.Fatalf("Query %q failed: %v", sql, err)
	}
	defer rows.Close()

	var out [][]string
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			t.Fatalf("Values failed: %v", err)
		}
		row := make([]string, len(values))
		for i, v := range values {
			if v != nil {
				row[i] = fmt.Sprintf("%v", v)
			}
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		t.Fatalf("rows error for %q: %v", sql, err)
	}
	return out
}

func TestVersion(t *testing.T) {
	env := setupTest(t)
	conn := env.connect(t)

	rows := queryStrings(t, conn, "SELECT version()")
	if len(rows) != 1 || !strings.Contains(rows[0][0], "cloudblob") {
		t.Errorf("unexpected version %v", rows)
	}
}

func TestInsertWritesEntityFiles(t *testing.T) {
	env := setupTest(t)
	ctx := context.Background()
	conn := env.connect(t)

	tag, err := conn.Exec(ctx, "INSERT INTO products (id, name, price) VALUES ('p1', 'Widget', 9.99), ('p2', 'Gadget', 19.99)")
	if err != nil {
		t.Fatalf("Failed to insert: %v", err)
	}
	if tag.String() != "INSERT 0 2" {
		t.Errorf("expected 'INSERT 0 2', got %q", tag.String())
	}

	for _, id := range []string{"p1", "p2"} {
		path := filepath.Join(env.dataDir, "e2e", "products", id, cloudblob.EntityFileName)
		if _, err := os.Stat(path); err != nil {
			t.Errorf("expected %s to be stored at %s: %v", id, path, err)
		}
	}

	doc, err := env.ds.Get(ctx, "products", "p1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if doc["name"] != "Widget" || doc["price"] != 9.99 {
		t.Errorf("Row p1 has incorrect data: %v", doc)
	}
}

func TestSelectRoundTrip(t *testing.T) {
	env := setupTest(t)
	ctx := context.Background()
	conn := env.connect(t)

	for _, sql := range []string{
		"INSERT INTO products (id, name, description) VALUES ('p1', 'Widget', 'small blue widget')",
		"INSERT INTO products (id, name, description) VALUES ('p2', 'Gadget', 'large red gadget')",
		"INSERT INTO products (id, name, description) VALUES ('p3', 'Gizmo', 'blue gizmo')",
	} {
		if _, err := conn.Exec(ctx, sql); err != nil {
			t.Fatalf("Failed to insert: %v", err)
		}
	}

	byRef := queryStrings(t, conn, "SELECT name FROM products WHERE id = 'p2'")
	if len(byRef) != 1 || byRef[0][0] != "Gadget" {
		t.Errorf("expected Gadget, got %v", byRef)
	}

	scanned := queryStrings(t, conn, "SELECT id, name FROM products WHERE name != 'Gadget'")
	if len(scanned) != 2 || scanned[0][0] != "p1" || scanned[1][0] != "p3" {
		t.Errorf("unexpected scan result %v", scanned)
	}

	matched := queryStrings(t, conn, "SELECT id FROM products WHERE MATCH (description) AGAINST ('blue')")
	if len(matched) != 2 {
		t.Errorf("expected 2 full-text matches, got %v", matched)
	}

	limited := queryStrings(t, conn, "SELECT * FROM products LIMIT 1")
	if len(limited) != 1 || len(limited[0]) != 3 {
		t.Errorf("expected one row with 3 columns, got %v", limited)
	}
}

func TestGeneratedKeys(t *testing.T) {
	env := setupTest(t)
	ctx := context.Background()
	conn := env.connect(t)

	if _, err := conn.Exec(ctx, "INSERT INTO visits (source) VALUES ('signup')"); err != nil {
		t.Fatalf("Failed to insert: %v", err)
	}

	rows := queryStrings(t, conn, "SELECT vid, source FROM visits")
	if len(rows) != 1 {
		t.Fatalf("expected 1 visit, got %v", rows)
	}
	if !cloudblob.IsValidID(rows[0][0]) || rows[0][1] != "signup" {
		t.Errorf("unexpected visit row %v", rows[0])
	}
}

func TestErrorsKeepConnectionUsable(t *testing.T) {
	env := setupTest(t)
	ctx := context.Background()
	conn := env.connect(t)

	if _, err := conn.Exec(ctx, "INSERT INTO widgets (id) VALUES ('w1')"); err == nil {
		t.Error("expected error for unconfigured namespace")
	} else if !strings.Contains(err.Error(), "Expected namespace 'widgets' to be configured") {
		t.Errorf("unexpected error message: %v", err)
	}

	if _, err := conn.Exec(ctx, "UPDATE products SET name = 'x'"); err == nil {
		t.Error("expected error for unsupported statement")
	}

	rows := queryStrings(t, conn, "SELECT version()")
	if len(rows) != 1 {
		t.Error("connection should remain usable after errors")
	}
}
