package cloudblob

import (
	"errors"
	"testing"
)

func TestRegistry(t *testing.T) {
	Register(nil)
	t.Cleanup(func() { Register(nil) })

	if _, err := Default(); !errors.Is(err, ErrNotRegistered) {
		t.Fatalf("expected ErrNotRegistered, got %v", err)
	}

	ds, err := New(Config{Bucket: "registry"})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	Register(ds)

	got, err := Default()
	if err != nil {
		t.Fatalf("Default failed: %v", err)
	}
	if got != ds {
		t.Error("Default returned a different datastore")
	}
	if MustDefault() != ds {
		t.Error("MustDefault returned a different datastore")
	}
}

func TestMustDefaultPanics(t *testing.T) {
	Register(nil)

	defer func() {
		if recover() == nil {
			t.Error("expected panic when nothing is registered")
		}
	}()
	MustDefault()
}
