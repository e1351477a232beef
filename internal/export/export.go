// Package export writes the documents of a namespace to a stream, either as
// JSON lines or as PostgreSQL INSERT statements, and loads JSON lines back.
package export

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/adrianmcphee/cloudblob"
)

// Output formats
const (
	FormatJSONL = "jsonl"
	FormatSQL   = "sql"
)

// DefaultPageSize is the backend page size used while walking a namespace
const DefaultPageSize = 100

// Options controls an export
type Options struct {
	Format   string // FormatJSONL unless set
	PageSize int    // DefaultPageSize unless set
}

// Namespace streams every document of namespace to w in listing order and
// returns the number of documents written
func Namespace(ctx context.Context, ds *cloudblob.Datastore, namespace string, w io.Writer, opts Options) (int, error) {
	if err := ds.CheckNamespace(namespace); err != nil {
		return 0, err
	}

	format := opts.Format
	if format == "" {
		format = FormatJSONL
	}
	if format != FormatJSONL && format != FormatSQL {
		return 0, fmt.Errorf("unknown export format %q", format)
	}
	pageSize := opts.PageSize
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}

	bw := bufio.NewWriter(w)
	if format == FormatSQL {
		fmt.Fprintf(bw, "-- cloudblob export of namespace %s\n\n", namespace)
	}

	count := 0
	cursor := ""
	for {
		page, err := ds.List(ctx, namespace, cloudblob.ListOptions{Max: pageSize, Cursor: cursor})
		if err != nil {
			return count, err
		}

		for _, doc := range page.Results {
			var line string
			if format == FormatSQL {
				line = DocumentToInsert(namespace, doc)
			} else {
				data, err := json.Marshal(doc)
				if err != nil {
					return count, fmt.Errorf("marshal document: %w", err)
				}
				line = string(data) + "\n"
			}
			if _, err := bw.WriteString(line); err != nil {
				return count, err
			}
			count++
		}

		if page.Next == "" {
			break
		}
		cursor = page.Next
	}

	return count, bw.Flush()
}

// DocumentToInsert generates an INSERT statement for a single document.
// Columns are the document's fields in sorted order.
func DocumentToInsert(namespace string, doc cloudblob.Document) string {
	colNames := make([]string, 0, len(doc))
	for col := range doc {
		colNames = append(colNames, col)
	}
	sort.Strings(colNames)

	values := make([]string, len(colNames))
	for i, colName := range colNames {
		values[i] = sqlLiteral(doc[colName])
	}

	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s);\n",
		namespace,
		strings.Join(colNames, ", "),
		strings.Join(values, ", "))
}

func sqlLiteral(val interface{}) string {
	switch v := val.(type) {
	case nil:
		return "NULL"
	case string:
		return quote(v)
	case float64:
		// JSON numbers are float64
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return quote(fmt.Sprintf("%v", v))
		}
		return quote(string(data))
	}
}

func quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// maxLineSize bounds a single JSONL document on import
const maxLineSize = 16 << 20

// Import reads JSON lines from r and stores each object in namespace with a
// BatchWriter of opts.PageSize. Keys come from the namespace ref field or
// are generated. Blank lines are skipped. Returns the number of documents
// stored.
func Import(ctx context.Context, ds *cloudblob.Datastore, namespace string, r io.Reader, opts Options) (int, error) {
	if err := ds.CheckNamespace(namespace); err != nil {
		return 0, err
	}
	if opts.Format != "" && opts.Format != FormatJSONL {
		return 0, fmt.Errorf("import supports only %s, got %q", FormatJSONL, opts.Format)
	}
	pageSize := opts.PageSize
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}

	bw := ds.NewBatchWriter(namespace, pageSize)
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}

		var doc cloudblob.Document
		if err := json.Unmarshal([]byte(text), &doc); err != nil {
			return bw.Written(), cloudblob.WithContext(cloudblob.ErrInvalidData, map[string]interface{}{
				"line":   line,
				"reason": err.Error(),
			})
		}
		if err := bw.Add(ctx, doc); err != nil {
			return bw.Written(), err
		}
	}
	if err := scanner.Err(); err != nil {
		return bw.Written(), fmt.Errorf("read line %d: %w", line+1, err)
	}

	err := bw.Flush(ctx)
	return bw.Written(), err
}
