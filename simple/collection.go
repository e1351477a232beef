package simple

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/adrianmcphee/cloudblob"
)

// pageSize is the listing page used by All, Each, Find and Count
const pageSize = 100

// Collection provides type-safe operations for a registered model.
// It uses generics to eliminate boilerplate and provide compile-time safety.
//
// Example:
//
//	type User struct {
//	    ID    string `json:"id" sb:"id"`
//	    Name  string `json:"name" sb:"index"`
//	    Email string `json:"email"`
//	}
//
//	db, _ := simple.Connect(simple.Model[User]())
//	users, _ := simple.NewCollection[User](db)
//	user, err := users.Create(ctx, &User{Email: "alice@example.com", Name: "Alice"})
type Collection[T any] struct {
	db   *DB
	name string
	info *ModelInfo
}

// ModelInfo contains metadata about the model type.
type ModelInfo struct {
	Name         string       // Go type name
	Type         reflect.Type // struct type
	IDField      string       // Go name of the id field
	IDJSON       string       // JSON name of the id field, used as the namespace ref
	SearchFields []string     // JSON names of fields tagged sb:"index"
}

// NewCollection returns the collection for a model registered with Model.
// Collection name is inferred from type name (User -> "Users").
// Override with explicit name: NewCollection[User](db, "customers")
func NewCollection[T any](db *DB, name ...string) (*Collection[T], error) {
	var t T
	collectionName := pluralize(getTypeName(t))
	if len(name) > 0 && name[0] != "" {
		collectionName = name[0]
	}

	info, ok := db.models[collectionName]
	if !ok {
		return nil, fmt.Errorf("collection %q: %w", collectionName, cloudblob.ErrUnconfiguredNamespace)
	}
	if info.Type != reflect.TypeOf(t) {
		return nil, fmt.Errorf("collection %q holds %s, not %T", collectionName, info.Name, t)
	}

	return &Collection[T]{db: db, name: collectionName, info: info}, nil
}

// Name returns the collection's namespace
func (c *Collection[T]) Name() string {
	return c.name
}

// Create stores a new item and returns a copy with ID populated.
// This is IMMUTABLE - the input is not modified.
//
// Example:
//
//	user := &User{Email: "alice@example.com", Name: "Alice"}
//	created, err := users.Create(ctx, user)
//	// created.ID is now set, original user unchanged
func (c *Collection[T]) Create(ctx context.Context, item *T) (*T, error) {
	if item == nil {
		return nil, fmt.Errorf("item cannot be nil")
	}

	created, err := copyItem(item)
	if err != nil {
		return nil, err
	}

	id := c.getID(created)
	if id == "" {
		id = cloudblob.NewID()
		c.setID(created, id)
	}

	if err := c.save(ctx, created, id); err != nil {
		return nil, fmt.Errorf("failed to create: %w", err)
	}
	return created, nil
}

// Get retrieves an item by ID.
// Missing items return an error wrapping cloudblob.ErrNotFound.
func (c *Collection[T]) Get(ctx context.Context, id string) (*T, error) {
	if id == "" {
		return nil, fmt.Errorf("id cannot be empty")
	}

	var item T
	if err := c.db.ds.GetInto(ctx, c.name, id, &item); err != nil {
		if cloudblob.IsNotFound(err) {
			return nil, fmt.Errorf("%s %s: %w", c.name, id, cloudblob.ErrNotFound)
		}
		return nil, err
	}
	return &item, nil
}

// Update overwrites an existing item. The item must have its ID set.
// Writes never touch the cache, so a cached read may return the previous
// version until its entry expires.
//
// Example:
//
//	user.Name = "Alice Smith"
//	err := users.Update(ctx, user)
func (c *Collection[T]) Update(ctx context.Context, item *T) error {
	if item == nil {
		return fmt.Errorf("item cannot be nil")
	}

	id := c.getID(item)
	if id == "" {
		return fmt.Errorf("item must have ID set")
	}

	exists, err := c.db.ds.Exists(ctx, c.name, id)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%s %s: %w", c.name, id, cloudblob.ErrNotFound)
	}

	if err := c.save(ctx, item, id); err != nil {
		return fmt.Errorf("failed to update: %w", err)
	}
	return nil
}

// Search runs a full-text query over the fields tagged sb:"index",
// best matches first.
//
// Example:
//
//	users, err := users.Search(ctx, "alice")
func (c *Collection[T]) Search(ctx context.Context, query string) ([]*T, error) {
	res, err := c.db.ds.Filter(ctx, c.name, query, false)
	if err != nil {
		return nil, err
	}

	items := make([]*T, 0, len(res.Documents))
	for i, doc := range res.Documents {
		item, err := decode[T](doc)
		if err != nil {
			return nil, fmt.Errorf("failed to decode %s: %w", res.Keys[i], err)
		}
		items = append(items, item)
	}
	return items, nil
}

// Find returns every item whose JSON field equals value.
// This scans the whole collection.
//
// Example:
//
//	admins, err := users.Find(ctx, "role", "admin")
func (c *Collection[T]) Find(ctx context.Context, field, value string) ([]*T, error) {
	var items []*T
	err := c.eachDoc(ctx, func(key string, doc cloudblob.Document) error {
		if !fieldEquals(doc, field, value) {
			return nil
		}
		item, err := decode[T](doc)
		if err != nil {
			return fmt.Errorf("failed to decode %s: %w", key, err)
		}
		items = append(items, item)
		return nil
	})
	return items, err
}

// FindOne returns the first item whose JSON field equals value.
// Returns an error wrapping cloudblob.ErrNotFound if none matches.
func (c *Collection[T]) FindOne(ctx context.Context, field, value string) (*T, error) {
	var found *T
	err := c.eachDoc(ctx, func(key string, doc cloudblob.Document) error {
		if !fieldEquals(doc, field, value) {
			return nil
		}
		item, err := decode[T](doc)
		if err != nil {
			return fmt.Errorf("failed to decode %s: %w", key, err)
		}
		found = item
		return errStop
	})
	if err != nil && !errors.Is(err, errStop) {
		return nil, err
	}
	if found == nil {
		return nil, fmt.Errorf("%s %s=%s: %w", c.name, field, value, cloudblob.ErrNotFound)
	}
	return found, nil
}

// All returns all items in the collection.
// WARNING: Loads everything into memory. Use with caution.
func (c *Collection[T]) All(ctx context.Context) ([]*T, error) {
	var items []*T
	err := c.Each(ctx, func(item *T) error {
		items = append(items, item)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query all: %w", err)
	}
	return items, nil
}

// Each iterates over all items one page at a time.
// The handler is called for each item. Return an error to stop iteration.
//
// Example:
//
//	err := users.Each(ctx, func(user *User) error {
//	    fmt.Println(user.Name)
//	    return nil
//	})
func (c *Collection[T]) Each(ctx context.Context, handler func(*T) error) error {
	return c.eachDoc(ctx, func(key string, doc cloudblob.Document) error {
		item, err := decode[T](doc)
		if err != nil {
			return fmt.Errorf("failed to decode %s: %w", key, err)
		}
		return handler(item)
	})
}

// Count returns the total number of items without reading them.
func (c *Collection[T]) Count(ctx context.Context) (int, error) {
	backend := c.db.ds.Backend()
	count := 0
	cursor := ""
	for {
		page, err := backend.ListDocs(ctx, c.db.ds.Bucket(), cloudblob.NamespacePrefix(c.name), pageSize, cursor)
		if err != nil {
			return 0, err
		}
		count += len(page.Results)
		if page.Next == "" {
			return count, nil
		}
		cursor = page.Next
	}
}

// Helper methods

var errStop = errors.New("stop iteration")

func (c *Collection[T]) save(ctx context.Context, item *T, id string) error {
	doc, err := c.db.ds.PutValue(ctx, c.name, item, id)
	if err != nil {
		return err
	}
	if len(doc) == 0 {
		return fmt.Errorf("write of %s/%s not acknowledged", c.name, id)
	}
	if len(c.info.SearchFields) == 0 {
		return nil
	}
	return c.db.ds.Index(ctx, c.name, doc)
}

func (c *Collection[T]) eachDoc(ctx context.Context, fn func(key string, doc cloudblob.Document) error) error {
	cursor := ""
	for {
		page, err := c.db.ds.List(ctx, c.name, cloudblob.ListOptions{Max: pageSize, Cursor: cursor})
		if err != nil {
			return err
		}
		for i, doc := range page.Results {
			if err := fn(page.Keys[i], doc); err != nil {
				return err
			}
		}
		if page.Next == "" {
			return nil
		}
		cursor = page.Next
	}
}

func (c *Collection[T]) getID(item *T) string {
	field := reflect.ValueOf(item).Elem().FieldByName(c.info.IDField)
	if !field.IsValid() {
		return ""
	}
	return field.String()
}

func (c *Collection[T]) setID(item *T, id string) {
	field := reflect.ValueOf(item).Elem().FieldByName(c.info.IDField)
	if field.IsValid() && field.CanSet() {
		field.SetString(id)
	}
}

// parseModelInfo reads the sb struct tags of T
func parseModelInfo[T any]() (*ModelInfo, error) {
	var t T
	typ := reflect.TypeOf(t)
	if typ == nil || typ.Kind() != reflect.Struct {
		return nil, fmt.Errorf("model %T must be a struct", t)
	}

	info := &ModelInfo{
		Name:    typ.Name(),
		Type:    typ,
		IDField: "ID",
	}

	for i := 0; i < typ.NumField(); i++ {
		field := typ.Field(i)
		tag := field.Tag.Get("sb")
		if tag == "" {
			continue
		}
		parts := strings.Split(tag, ",")

		if contains(parts, "id") {
			info.IDField = field.Name
		}
		if contains(parts, "index") {
			info.SearchFields = append(info.SearchFields, jsonName(field))
		}
	}

	idField, ok := typ.FieldByName(info.IDField)
	if !ok || idField.Type.Kind() != reflect.String {
		return nil, fmt.Errorf("model %s needs a string %s field", info.Name, info.IDField)
	}
	info.IDJSON = jsonName(idField)
	if info.IDJSON == "-" {
		return nil, fmt.Errorf("model %s: id field %s is not serialized", info.Name, info.IDField)
	}

	return info, nil
}

// jsonName mirrors encoding/json's field naming
func jsonName(field reflect.StructField) string {
	name := field.Tag.Get("json")
	if idx := strings.Index(name, ","); idx >= 0 {
		name = name[:idx]
	}
	if name == "" {
		return field.Name
	}
	return name
}

func fieldEquals(doc cloudblob.Document, field, value string) bool {
	v, ok := doc[field]
	if !ok || v == nil {
		return false
	}
	if s, ok := v.(string); ok {
		return s == value
	}
	return fmt.Sprint(v) == value
}

func decode[T any](doc cloudblob.Document) (*T, error) {
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	var item T
	if err := json.Unmarshal(data, &item); err != nil {
		return nil, err
	}
	return &item, nil
}

func copyItem[T any](item *T) (*T, error) {
	data, err := json.Marshal(item)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal item: %w", err)
	}
	var dup T
	if err := json.Unmarshal(data, &dup); err != nil {
		return nil, fmt.Errorf("failed to unmarshal item: %w", err)
	}
	return &dup, nil
}

func getTypeName(v interface{}) string {
	t := reflect.TypeOf(v)
	if t == nil {
		return ""
	}
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Name()
}

func pluralize(s string) string {
	// Simple pluralization rules
	lower := strings.ToLower(s)

	// Irregular plurals
	irregulars := map[string]string{
		"person": "people",
		"child":  "children",
		"goose":  "geese",
		"tooth":  "teeth",
		"foot":   "feet",
		"mouse":  "mice",
	}

	if plural, ok := irregulars[lower]; ok {
		return plural
	}

	// Words ending in 'y' (preceded by consonant) -> 'ies'
	if len(s) > 1 && s[len(s)-1] == 'y' {
		preceding := s[len(s)-2]
		if !isVowel(rune(preceding)) {
			return s[:len(s)-1] + "ies"
		}
	}

	// Words ending in s, x, z, ch, sh -> add 'es'
	if strings.HasSuffix(lower, "s") || strings.HasSuffix(lower, "x") ||
		strings.HasSuffix(lower, "z") || strings.HasSuffix(lower, "ch") ||
		strings.HasSuffix(lower, "sh") {
		return s + "es"
	}

	// Default: add 's'
	return s + "s"
}

func isVowel(r rune) bool {
	return r == 'a' || r == 'e' || r == 'i' || r == 'o' || r == 'u'
}

func contains(slice []string, str string) bool {
	for _, s := range slice {
		if s == str {
			return true
		}
	}
	return false
}
