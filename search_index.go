package cloudblob

// SearchIndex is the per-namespace full-text capability the Datastore drives.
//
// Implementations need not be safe for concurrent use; the Datastore
// serializes every call on a given namespace's index.
type SearchIndex interface {
	// Load materializes the index from a snapshot produced by Serialize.
	// A nil body initializes a fresh, empty index. A body that cannot be
	// decoded also leaves a fresh index behind and returns the decode error.
	Load(body Document) error

	// Reset discards the in-memory index. Loaded reports false afterwards.
	Reset()

	// Serialize returns a snapshot of the index, or ErrIndexNotLoaded
	Serialize() (Document, error)

	// Add indexes doc under its ref field and marks the index dirty
	Add(doc Document) error

	// Search returns the refs of matching documents, best match first
	Search(query string) ([]string, error)

	IsDirty() bool
	SetClean()
	Loaded() bool

	// FileName is the snapshot's name within the namespace
	FileName() string
}

// RefFielder is implemented by indexes keyed on a document field
type RefFielder interface {
	RefField() string
}

// IndexState is the lifecycle state of a namespace's index
type IndexState int

const (
	IndexUnloaded IndexState = iota
	IndexClean
	IndexDirty
)

func (s IndexState) String() string {
	switch s {
	case IndexClean:
		return "clean"
	case IndexDirty:
		return "dirty"
	default:
		return "unloaded"
	}
}

func indexStateOf(idx SearchIndex) IndexState {
	switch {
	case !idx.Loaded():
		return IndexUnloaded
	case idx.IsDirty():
		return IndexDirty
	default:
		return IndexClean
	}
}
