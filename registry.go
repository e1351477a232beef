package cloudblob

import (
	"errors"
	"sync"
)

// ErrNotRegistered is returned by Default before a datastore is registered
var ErrNotRegistered = errors.New("expected datastore to have been registered")

var defaultRegistry struct {
	mu sync.RWMutex
	ds *Datastore
}

// Register makes ds the process-wide default datastore. Passing nil clears it.
func Register(ds *Datastore) {
	defaultRegistry.mu.Lock()
	defer defaultRegistry.mu.Unlock()
	defaultRegistry.ds = ds
}

// Default returns the registered datastore or ErrNotRegistered
func Default() (*Datastore, error) {
	defaultRegistry.mu.RLock()
	defer defaultRegistry.mu.RUnlock()
	if defaultRegistry.ds == nil {
		return nil, ErrNotRegistered
	}
	return defaultRegistry.ds, nil
}

// MustDefault is like Default but panics when nothing is registered
func MustDefault() *Datastore {
	ds, err := Default()
	if err != nil {
		panic(err)
	}
	return ds
}
