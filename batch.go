package cloudblob

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"
)

// BatchOperation is the outcome of one item of a batch call
type BatchOperation struct {
	Key   string
	Doc   Document // document acknowledged by the backend, nil on failure
	Error error
}

// BatchPut stores docs concurrently and returns one result per doc, in
// input order. Each key is read from the namespace's Ref field; a doc
// without one gets a generated id exactly as Put does. A failing item does
// not stop the others.
func (d *Datastore) BatchPut(ctx context.Context, namespace string, docs []Document) []BatchOperation {
	results := make([]BatchOperation, len(docs))
	if len(docs) == 0 {
		return results
	}

	ref := ""
	if st, err := d.namespace(namespace); err == nil {
		ref = st.cfg.Ref
	}

	var g errgroup.Group
	if d.concurrency > 0 {
		g.SetLimit(d.concurrency)
	}
	for i, doc := range docs {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				results[i] = BatchOperation{Error: err}
				return nil
			}

			key := ""
			if ref != "" {
				key, _ = doc.String(ref)
			}
			written, err := d.Put(ctx, namespace, doc, key)
			if err == nil && key == "" {
				key, _ = written.String(ref)
			}
			results[i] = BatchOperation{Key: key, Doc: written, Error: err}
			return nil
		})
	}
	g.Wait()
	return results
}

// BatchGet resolves keys concurrently through Get. Missing documents are
// left out of the map; any other failure fails the call.
func (d *Datastore) BatchGet(ctx context.Context, namespace string, keys []string) (map[string]Document, error) {
	results := make(map[string]Document, len(keys))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	if d.concurrency > 0 {
		g.SetLimit(d.concurrency)
	}
	for _, key := range keys {
		g.Go(func() error {
			doc, err := d.Get(gctx, namespace, key)
			if errors.Is(err, ErrNotFound) {
				return nil
			}
			if err != nil {
				return err
			}

			mu.Lock()
			results[key] = doc
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// BatchExists checks keys concurrently. A key whose check fails is
// reported as absent.
func (d *Datastore) BatchExists(ctx context.Context, namespace string, keys []string) map[string]bool {
	results := make(map[string]bool, len(keys))
	var mu sync.Mutex

	var g errgroup.Group
	if d.concurrency > 0 {
		g.SetLimit(d.concurrency)
	}
	for _, key := range keys {
		g.Go(func() error {
			exists, err := d.Exists(ctx, namespace, key)
			if err != nil {
				exists = false
			}

			mu.Lock()
			results[key] = exists
			mu.Unlock()
			return nil
		})
	}
	g.Wait()
	return results
}

// BatchOperationResult summarizes the results of a batch operation
type BatchOperationResult struct {
	Total      int
	Successful int
	Failed     int
	Errors     []BatchOperation
}

// FirstError returns the first failed operation's error, or nil
func (r *BatchOperationResult) FirstError() error {
	if len(r.Errors) == 0 {
		return nil
	}
	return r.Errors[0].Error
}

// AnalyzeBatchResults counts successes and failures, keeping failures in order
func AnalyzeBatchResults(operations []BatchOperation) *BatchOperationResult {
	result := &BatchOperationResult{
		Total:  len(operations),
		Errors: make([]BatchOperation, 0),
	}

	for _, op := range operations {
		if op.Error == nil {
			result.Successful++
		} else {
			result.Failed++
			result.Errors = append(result.Errors, op)
		}
	}

	return result
}

// BatchWriter buffers documents for one namespace and writes them with
// BatchPut once batchSize is reached. Written documents are also added to
// the namespace index when one is configured.
type BatchWriter struct {
	ds        *Datastore
	namespace string
	items     []Document
	batchSize int
	written   int
	mu        sync.Mutex
}

// NewBatchWriter creates a batch writer for namespace. A batchSize below 1
// means 1.
func (d *Datastore) NewBatchWriter(namespace string, batchSize int) *BatchWriter {
	if batchSize < 1 {
		batchSize = 1
	}
	return &BatchWriter{
		ds:        d,
		namespace: namespace,
		batchSize: batchSize,
	}
}

// Add queues doc and flushes when the batch is full
func (bw *BatchWriter) Add(ctx context.Context, doc Document) error {
	bw.mu.Lock()
	defer bw.mu.Unlock()

	bw.items = append(bw.items, doc)
	if len(bw.items) >= bw.batchSize {
		return bw.flushLocked(ctx)
	}
	return nil
}

// Flush writes all pending documents
func (bw *BatchWriter) Flush(ctx context.Context) error {
	bw.mu.Lock()
	defer bw.mu.Unlock()
	return bw.flushLocked(ctx)
}

// Written returns the number of documents stored so far
func (bw *BatchWriter) Written() int {
	bw.mu.Lock()
	defer bw.mu.Unlock()
	return bw.written
}

func (bw *BatchWriter) flushLocked(ctx context.Context) error {
	if len(bw.items) == 0 {
		return nil
	}

	results := bw.ds.BatchPut(ctx, bw.namespace, bw.items)
	bw.items = nil

	analysis := AnalyzeBatchResults(results)
	bw.written += analysis.Successful

	// Stored documents are indexed even when siblings failed
	if err := bw.ds.IndexBatch(ctx, bw.namespace, results); err != nil {
		return err
	}
	if analysis.Failed > 0 {
		return fmt.Errorf("batch write failed: %d/%d operations failed: %w",
			analysis.Failed, analysis.Total, analysis.FirstError())
	}
	return nil
}

// IndexBatch adds every successfully written document of a BatchPut result
// to the namespace's index. Namespaces without an indexer are skipped.
func (d *Datastore) IndexBatch(ctx context.Context, namespace string, results []BatchOperation) error {
	cfg, err := d.NamespaceConfig(namespace)
	if err != nil || cfg.Indexer == nil {
		return nil
	}
	for _, op := range results {
		if op.Error != nil || len(op.Doc) == 0 {
			continue
		}
		if err := d.Index(ctx, namespace, op.Doc); err != nil {
			return err
		}
	}
	return nil
}
