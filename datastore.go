package cloudblob

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Datastore coordinates namespaced documents over a Backend, an optional
// Cache and per-namespace SearchIndexes. It is safe for concurrent use.
//
//	ds, err := cloudblob.New(cloudblob.Config{
//	    Bucket: "app",
//	    Namespaces: map[string]cloudblob.NamespaceConfig{
//	        "user": {Ref: "id", Indexer: cloudblob.NewFullTextIndex([]string{"name"}, "id")},
//	    },
//	})
//	doc, err := ds.Put(ctx, "user", cloudblob.Document{"name": "john"}, "")
type Datastore struct {
	bucket      string
	namespaces  map[string]*namespaceState
	backend     Backend
	cache       *CacheGateway
	persist     bool
	concurrency int
	logger      Logger
	metrics     Metrics
}

// namespaceState guards a namespace's index. The mutex is held for every
// load, add, search, serialize and reset of that index.
type namespaceState struct {
	mu  sync.Mutex
	cfg NamespaceConfig
}

// ListOptions controls a List call
type ListOptions struct {
	Max    int    // page size hint, 0 lets the backend decide
	Cursor string // Next from a previous ListResult
}

// ListResult is one page of documents in listing order
type ListResult struct {
	Next    string     // backend continuation token, "" when exhausted
	Keys    []string   // entity keys, aligned with Results
	Results []Document // documents resolved through Get
}

// FilterResult holds search matches, best first. Documents is only
// populated when the filter was not keys-only.
type FilterResult struct {
	Keys      []string
	Documents []Document
}

// New creates a Datastore and initializes its backend connection
func New(cfg Config) (*Datastore, error) {
	return NewWithContext(context.Background(), cfg)
}

// NewWithContext is New with a context for backend initialization
func NewWithContext(ctx context.Context, cfg Config) (*Datastore, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := cfg.Logger
	if logger == nil {
		logger = &NoOpLogger{}
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = &NoOpMetrics{}
	}
	backend := cfg.Backend
	if backend == nil {
		backend = NewMemoryBackend()
	}

	d := &Datastore{
		bucket:      cfg.Bucket,
		namespaces:  make(map[string]*namespaceState, len(cfg.Namespaces)),
		backend:     backend,
		cache:       NewCacheGateway(cfg.Cache, logger, metrics),
		persist:     cfg.Persist,
		concurrency: cfg.Concurrency,
		logger:      logger,
		metrics:     metrics,
	}

	for name, ns := range cfg.Namespaces {
		if rf, ok := ns.Indexer.(RefFielder); ok && ns.Ref != "" && rf.RefField() != ns.Ref {
			logger.Warn("index ref differs from namespace ref",
				"namespace", name,
				"namespace_ref", ns.Ref,
				"index_ref", rf.RefField(),
			)
		}
		d.namespaces[name] = &namespaceState{cfg: ns}
	}

	if err := backend.InitConnection(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize backend: %w", err)
	}

	logger.Info("datastore ready",
		"bucket", d.bucket,
		"namespaces", len(d.namespaces),
		"cache", d.cache.Enabled(),
		"persist", d.persist,
	)
	return d, nil
}

// Bucket returns the backend container shared by all namespaces
func (d *Datastore) Bucket() string {
	return d.bucket
}

// Backend returns the underlying storage backend
func (d *Datastore) Backend() Backend {
	return d.backend
}

// Namespaces returns the configured namespace names, sorted
func (d *Datastore) Namespaces() []string {
	names := make([]string, 0, len(d.namespaces))
	for name := range d.namespaces {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NamespaceConfig returns the configuration of a namespace
func (d *Datastore) NamespaceConfig(namespace string) (NamespaceConfig, error) {
	st, err := d.namespace(namespace)
	if err != nil {
		return NamespaceConfig{}, err
	}
	return st.cfg, nil
}

// CheckNamespace returns a NamespaceError wrapping ErrUnconfiguredNamespace
// when namespace is not configured
func (d *Datastore) CheckNamespace(namespace string) error {
	_, err := d.namespace(namespace)
	return err
}

func (d *Datastore) namespace(namespace string) (*namespaceState, error) {
	st, ok := d.namespaces[namespace]
	if !ok {
		return nil, namespaceError(namespace, ErrUnconfiguredNamespace)
	}
	return st, nil
}

func (d *Datastore) indexedNamespace(namespace string) (*namespaceState, error) {
	st, err := d.namespace(namespace)
	if err != nil {
		return nil, err
	}
	if st.cfg.Indexer == nil {
		return nil, namespaceError(namespace, ErrNoIndexer)
	}
	return st, nil
}

// Put stores doc under key. With an empty key a new id is generated and
// written into the namespace's ref field of a copy of doc; this requires the
// namespace to be configured with a Ref. Put never touches the cache.
// Returns the document acknowledged by the backend.
func (d *Datastore) Put(ctx context.Context, namespace string, doc Document, key string) (Document, error) {
	if key == "" {
		st, err := d.namespace(namespace)
		if err != nil {
			return nil, err
		}
		if st.cfg.Ref == "" {
			return nil, namespaceError(namespace, ErrMissingRef)
		}
		key = NewID()
		doc = doc.Clone()
		if doc == nil {
			doc = Document{}
		}
		doc[st.cfg.Ref] = key
	}

	start := time.Now()
	written, err := d.backend.WriteDoc(ctx, d.bucket, BuildKey(namespace, key, ""), doc)
	d.metrics.Timing(MetricPutDuration, time.Since(start), "namespace", namespace)
	if err != nil {
		d.metrics.Increment(MetricPutError, "namespace", namespace)
		d.logger.Error("put failed",
			"namespace", namespace,
			"key", key,
			"error", err,
		)
		return nil, err
	}

	d.metrics.Increment(MetricPutSuccess, "namespace", namespace)
	return written, nil
}

// PutValue marshals value to a Document and stores it like Put
func (d *Datastore) PutValue(ctx context.Context, namespace string, value interface{}, key string) (Document, error) {
	doc, err := encodeFrom(value)
	if err != nil {
		return nil, fmt.Errorf("failed to encode value: %w", err)
	}
	return d.Put(ctx, namespace, doc, key)
}

// Get returns the document stored under key, consulting the cache first.
// A backend read populates the cache. Missing documents return ErrNotFound.
// A cache that is down or timing out is bypassed; a malformed cache entry
// is returned as an error wrapping ErrInvalidData.
func (d *Datastore) Get(ctx context.Context, namespace, key string) (Document, error) {
	start := time.Now()
	defer func() {
		d.metrics.Timing(MetricGetDuration, time.Since(start), "namespace", namespace)
	}()

	cached, err := d.cache.LoadFromCache(ctx, namespace, key)
	switch {
	case err != nil && IsRetryable(err):
		d.logger.Warn("cache unavailable, reading from backend",
			"namespace", namespace,
			"key", key,
			"error", err,
		)
	case err != nil:
		d.metrics.Increment(MetricGetError, "namespace", namespace)
		return nil, err
	case cached != nil:
		d.metrics.Increment(MetricGetSuccess, "namespace", namespace)
		return cached, nil
	}

	doc, err := d.backend.ReadDoc(ctx, d.bucket, BuildKey(namespace, key, ""))
	if err != nil {
		d.metrics.Increment(MetricGetError, "namespace", namespace)
		return nil, err
	}

	d.cache.CacheEntity(ctx, namespace, key, doc)
	d.metrics.Increment(MetricGetSuccess, "namespace", namespace)
	return doc, nil
}

// GetInto fetches a document and unmarshals it into dest
func (d *Datastore) GetInto(ctx context.Context, namespace, key string, dest interface{}) error {
	doc, err := d.Get(ctx, namespace, key)
	if err != nil {
		return err
	}
	if err := decodeInto(doc, dest); err != nil {
		return WithContext(ErrInvalidData, map[string]interface{}{
			"namespace": namespace,
			"key":       key,
			"reason":    err.Error(),
		})
	}
	return nil
}

// Exists reports whether a document is stored under key. It never reads
// the cache and absence is not an error.
func (d *Datastore) Exists(ctx context.Context, namespace, key string) (bool, error) {
	return d.backend.HeadDoc(ctx, d.bucket, BuildKey(namespace, key, ""))
}

// List returns one page of the namespace's documents. Keys come from the
// backend; each is resolved through Get concurrently. The first failing Get
// fails the whole call.
func (d *Datastore) List(ctx context.Context, namespace string, opts ListOptions) (*ListResult, error) {
	start := time.Now()
	page, err := d.backend.ListDocs(ctx, d.bucket, NamespacePrefix(namespace), opts.Max, opts.Cursor)
	if err != nil {
		return nil, err
	}

	docs, err := d.getAll(ctx, namespace, page.Results)
	if err != nil {
		return nil, err
	}

	d.metrics.Timing(MetricListDuration, time.Since(start), "namespace", namespace)
	d.metrics.Histogram(MetricListResults, float64(len(docs)), "namespace", namespace)
	return &ListResult{
		Next:    page.Next,
		Keys:    page.Results,
		Results: docs,
	}, nil
}

func (d *Datastore) getAll(ctx context.Context, namespace string, keys []string) ([]Document, error) {
	docs := make([]Document, len(keys))
	if len(keys) == 0 {
		return docs, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	if d.concurrency > 0 {
		g.SetLimit(d.concurrency)
	}
	for i, key := range keys {
		g.Go(func() error {
			doc, err := d.Get(gctx, namespace, key)
			if err != nil {
				return err
			}
			docs[i] = doc
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return docs, nil
}

// LoadIndex materializes the namespace's index from its stored snapshot.
// A missing or unreadable snapshot yields a fresh index. Loading an index
// that is already loaded is a no-op.
func (d *Datastore) LoadIndex(ctx context.Context, namespace string) error {
	st, err := d.indexedNamespace(namespace)
	if err != nil {
		return err
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	return d.loadLocked(ctx, namespace, st)
}

func (d *Datastore) loadLocked(ctx context.Context, namespace string, st *namespaceState) error {
	idx := st.cfg.Indexer
	if idx.Loaded() {
		return nil
	}

	path := IndexKey(namespace, idx.FileName())
	body, err := d.backend.ReadDoc(ctx, d.bucket, path)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		d.logger.Debug("no stored index, starting fresh",
			"namespace", namespace,
			"path", path,
			"error", err,
		)
		body = nil
	}

	if err := idx.Load(body); err != nil {
		d.metrics.Increment(MetricIndexErrors, "namespace", namespace)
		d.logger.Warn("stored index unreadable, starting fresh",
			"namespace", namespace,
			"path", path,
			"error", err,
		)
		if err := idx.Load(nil); err != nil {
			return err
		}
	}

	d.metrics.Increment(MetricIndexLoad, "namespace", namespace)
	return nil
}

// Index adds doc to the namespace's index, loading it first if needed
func (d *Datastore) Index(ctx context.Context, namespace string, doc Document) error {
	st, err := d.indexedNamespace(namespace)
	if err != nil {
		return err
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	if err := d.loadLocked(ctx, namespace, st); err != nil {
		return err
	}
	if err := st.cfg.Indexer.Add(doc); err != nil {
		d.metrics.Increment(MetricIndexErrors, "namespace", namespace)
		return err
	}

	d.metrics.Increment(MetricIndexAdd, "namespace", namespace)
	return nil
}

// Filter searches the namespace's index. With keysOnly the matching keys
// are returned without touching documents; otherwise every match is
// resolved through Get concurrently and the first failure fails the call.
func (d *Datastore) Filter(ctx context.Context, namespace, query string, keysOnly bool) (*FilterResult, error) {
	st, err := d.indexedNamespace(namespace)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	keys, err := func() ([]string, error) {
		st.mu.Lock()
		defer st.mu.Unlock()

		if err := d.loadLocked(ctx, namespace, st); err != nil {
			return nil, err
		}
		return st.cfg.Indexer.Search(query)
	}()
	if err != nil {
		return nil, err
	}
	if keys == nil {
		keys = []string{}
	}

	result := &FilterResult{Keys: keys}
	if !keysOnly {
		docs, err := d.getAll(ctx, namespace, keys)
		if err != nil {
			return nil, err
		}
		result.Documents = docs
	}

	d.metrics.Timing(MetricFilterDuration, time.Since(start), "namespace", namespace)
	d.metrics.Histogram(MetricFilterResults, float64(len(keys)), "namespace", namespace)
	return result, nil
}

// DumpIndex writes the namespace's index snapshot to the backend.
// It returns false without side effects when persistence is disabled, and
// false with a nil error when the backend write fails or is not
// acknowledged. A confirmed write marks the index clean.
func (d *Datastore) DumpIndex(ctx context.Context, namespace string) (bool, error) {
	if !d.persist {
		return false, nil
	}

	st, err := d.indexedNamespace(namespace)
	if err != nil {
		return false, err
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	return d.dumpLocked(ctx, namespace, st)
}

func (d *Datastore) dumpLocked(ctx context.Context, namespace string, st *namespaceState) (bool, error) {
	idx := st.cfg.Indexer
	body, err := idx.Serialize()
	if err != nil {
		return false, err
	}

	path := IndexKey(namespace, idx.FileName())
	ack, err := d.backend.WriteDoc(ctx, d.bucket, path, body)
	if err != nil {
		d.metrics.Increment(MetricIndexErrors, "namespace", namespace)
		d.logger.Error("index dump failed",
			"namespace", namespace,
			"path", path,
			"error", err,
		)
		return false, nil
	}
	if len(ack) == 0 {
		d.logger.Warn("index dump not acknowledged",
			"namespace", namespace,
			"path", path,
		)
		return false, nil
	}

	idx.SetClean()
	d.metrics.Increment(MetricIndexDump, "namespace", namespace)
	return true, nil
}

// FlushIndex discards the namespace's in-memory index so the next index
// operation reloads it. With saveFirst the index is dumped before being
// reset; a dump error aborts the flush. Without saveFirst unsaved
// additions are lost.
func (d *Datastore) FlushIndex(ctx context.Context, namespace string, saveFirst bool) error {
	st, err := d.indexedNamespace(namespace)
	if err != nil {
		return err
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	idx := st.cfg.Indexer
	if saveFirst && d.persist && idx.Loaded() {
		if _, err := d.dumpLocked(ctx, namespace, st); err != nil {
			return err
		}
	}

	if idx.IsDirty() {
		msg := "discarding unsaved index changes"
		if saveFirst && d.persist {
			msg = "index save before flush failed, discarding unsaved index changes"
		}
		d.logger.Warn(msg,
			"namespace", namespace,
		)
	}
	idx.Reset()
	return nil
}

// IndexState reports the lifecycle state of the namespace's index
func (d *Datastore) IndexState(namespace string) (IndexState, error) {
	st, err := d.indexedNamespace(namespace)
	if err != nil {
		return IndexUnloaded, err
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	return indexStateOf(st.cfg.Indexer), nil
}

// DumpIndexes dumps every loaded, dirty index. Used on shutdown.
// Returns the namespaces whose snapshot was written.
func (d *Datastore) DumpIndexes(ctx context.Context) ([]string, error) {
	var dumped []string
	if !d.persist {
		return dumped, nil
	}

	for _, name := range d.Namespaces() {
		st := d.namespaces[name]
		if st.cfg.Indexer == nil {
			continue
		}

		ok, err := func() (bool, error) {
			st.mu.Lock()
			defer st.mu.Unlock()
			if !st.cfg.Indexer.Loaded() || !st.cfg.Indexer.IsDirty() {
				return false, nil
			}
			return d.dumpLocked(ctx, name, st)
		}()
		if err != nil {
			return dumped, fmt.Errorf("dump index %s: %w", name, err)
		}
		if ok {
			dumped = append(dumped, name)
		}
	}
	return dumped, nil
}

// Ping checks backend health when the backend supports it
func (d *Datastore) Ping(ctx context.Context) error {
	if hc, ok := d.backend.(HealthChecker); ok {
		return hc.Ping(ctx, d.bucket)
	}
	return nil
}

// Close waits for background cache writes and closes the backend when it
// holds resources
func (d *Datastore) Close() error {
	d.cache.Wait()
	if closer, ok := d.backend.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

// WaitForCache blocks until background cache writes have finished
func (d *Datastore) WaitForCache() {
	d.cache.Wait()
}
