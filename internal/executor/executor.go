// Package executor parses SQL statements and runs them against a Datastore.
// Tables are namespaces and rows are documents.
package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/adrianmcphee/cloudblob"
	"github.com/xwb1989/sqlparser"
)

// listPageSize bounds each backend page fetched by a scanning SELECT
const listPageSize = 100

// Result represents the result of executing a SQL statement
type Result struct {
	Columns      []string
	Rows         [][]string
	RowsAffected int
	LastInsertID string
	Message      string
}

// Executor executes SQL statements
type Executor struct {
	ds *cloudblob.Datastore
}

// NewExecutor creates a new SQL executor
func NewExecutor(ds *cloudblob.Datastore) *Executor {
	return &Executor{ds: ds}
}

// Execute parses and executes a SQL statement
func (e *Executor) Execute(ctx context.Context, sql string) (*Result, error) {
	sql = strings.TrimSpace(sql)
	if sql == "" {
		return &Result{Message: "OK"}, nil
	}

	// Remove trailing semicolon for parser
	sql = strings.TrimSuffix(sql, ";")

	stmt, err := sqlparser.Parse(sql)
	if err != nil {
		return nil, fmt.Errorf("parse error: %w", err)
	}

	switch s := stmt.(type) {
	case *sqlparser.Select:
		return e.executeSelect(ctx, s)
	case *sqlparser.Insert:
		return e.executeInsert(ctx, s)
	default:
		return nil, fmt.Errorf("unsupported statement type: %T", stmt)
	}
}

// executeInsert stores each VALUES row as a document. The key comes from the
// namespace ref column when present, otherwise one is generated.
func (e *Executor) executeInsert(ctx context.Context, stmt *sqlparser.Insert) (*Result, error) {
	namespace := stmt.Table.Name.String()
	if err := e.ds.CheckNamespace(namespace); err != nil {
		return nil, err
	}

	var columns []string
	for _, col := range stmt.Columns {
		columns = append(columns, col.String())
	}
	if len(columns) == 0 {
		return nil, fmt.Errorf("INSERT requires an explicit column list")
	}

	rows, ok := stmt.Rows.(sqlparser.Values)
	if !ok {
		return nil, fmt.Errorf("only VALUES clause supported for INSERT")
	}

	docs := make([]cloudblob.Document, 0, len(rows))
	for _, valTuple := range rows {
		if len(valTuple) != len(columns) {
			return nil, fmt.Errorf("expected %d values, got %d", len(columns), len(valTuple))
		}

		doc := make(cloudblob.Document, len(columns))
		for i, val := range valTuple {
			v, err := evalExpr(val)
			if err != nil {
				return nil, err
			}
			doc[columns[i]] = v
		}
		docs = append(docs, doc)
	}

	results := e.ds.BatchPut(ctx, namespace, docs)
	if err := e.ds.IndexBatch(ctx, namespace, results); err != nil {
		return nil, err
	}
	if err := cloudblob.AnalyzeBatchResults(results).FirstError(); err != nil {
		return nil, err
	}

	lastID := ""
	if n := len(results); n > 0 {
		lastID = results[n-1].Key
	}

	return &Result{
		RowsAffected: len(rows),
		LastInsertID: lastID,
		Message:      fmt.Sprintf("INSERT 0 %d", len(rows)),
	}, nil
}

// executeSelect resolves the rows of a single-namespace SELECT. A ref lookup
// reads one document, MATCH ... AGAINST queries the search index, and any
// other predicate scans the namespace.
func (e *Executor) executeSelect(ctx context.Context, stmt *sqlparser.Select) (res *Result, err error) {
	if len(stmt.From) != 1 {
		return nil, fmt.Errorf("only single table SELECT supported")
	}

	namespace, err := getTableName(stmt.From[0])
	if err != nil {
		return nil, err
	}
	cfg, err := e.ds.NamespaceConfig(namespace)
	if err != nil {
		return nil, err
	}

	var where sqlparser.Expr
	if stmt.Where != nil {
		where = stmt.Where.Expr
	}

	var plan queryPlan
	profiler := cloudblob.GetProfilerFromContext(ctx)
	if profile := profiler.StartProfile("select", namespace); profile != nil {
		profile.FilterFields = whereFields(where)
		defer func() {
			profile.Complexity = plan.complexity
			profile.IndexUsed = plan.index
			profile.StorageOps = plan.storageOps
			profile.Error = err
			if res != nil {
				profile.ResultCount = len(res.Rows)
			}
			profiler.Record(profile)
		}()
	}

	var docs []cloudblob.Document
	if key, ok := refLookup(where, cfg.Ref); ok {
		plan = queryPlan{complexity: cloudblob.ComplexityO1, index: "ref:" + cfg.Ref, storageOps: 1}
		doc, err := e.ds.Get(ctx, namespace, key)
		switch {
		case cloudblob.IsNotFound(err):
		case err != nil:
			return nil, err
		default:
			docs = append(docs, doc)
		}
	} else if query, ok := matchQuery(where); ok {
		plan = queryPlan{complexity: cloudblob.ComplexityOK, index: "fulltext:" + namespace}
		res, err := e.ds.Filter(ctx, namespace, query, false)
		if err != nil {
			return nil, err
		}
		docs = res.Documents
		plan.storageOps = len(docs)
	} else {
		plan = queryPlan{complexity: cloudblob.ComplexityON, index: "none:full-scan"}
		docs, plan.storageOps, err = e.scan(ctx, namespace, where)
		if err != nil {
			return nil, err
		}
	}

	docs, err = applyLimit(docs, stmt.Limit)
	if err != nil {
		return nil, err
	}

	columns, err := selectColumns(stmt.SelectExprs, docs)
	if err != nil {
		return nil, err
	}

	resultRows := make([][]string, len(docs))
	for i, doc := range docs {
		resultRows[i] = make([]string, len(columns))
		for j, col := range columns {
			resultRows[i][j] = formatValue(doc[col])
		}
	}

	return &Result{
		Columns: columns,
		Rows:    resultRows,
		Message: fmt.Sprintf("SELECT %d", len(resultRows)),
	}, nil
}

// scan walks every page of the namespace and keeps documents matching
// where. ops counts list pages plus documents read.
func (e *Executor) scan(ctx context.Context, namespace string, where sqlparser.Expr) (docs []cloudblob.Document, ops int, err error) {
	cursor := ""
	for {
		page, err := e.ds.List(ctx, namespace, cloudblob.ListOptions{Max: listPageSize, Cursor: cursor})
		if err != nil {
			return nil, ops, err
		}
		ops += 1 + len(page.Results)
		for _, doc := range page.Results {
			if where == nil || matchesWhere(doc, where) {
				docs = append(docs, doc)
			}
		}
		if page.Next == "" {
			return docs, ops, nil
		}
		cursor = page.Next
	}
}

// queryPlan describes the read path a SELECT took
type queryPlan struct {
	complexity cloudblob.QueryComplexity
	index      string
	storageOps int
}

// whereFields returns the sorted distinct columns referenced by where
func whereFields(where sqlparser.Expr) []string {
	if where == nil {
		return nil
	}
	seen := make(map[string]bool)
	_ = sqlparser.Walk(func(node sqlparser.SQLNode) (bool, error) {
		if col, ok := node.(*sqlparser.ColName); ok {
			seen[col.Name.String()] = true
		}
		return true, nil
	}, where)

	fields := make([]string, 0, len(seen))
	for f := range seen {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	return fields
}

// Helper functions

func getTableName(expr sqlparser.TableExpr) (string, error) {
	switch t := expr.(type) {
	case *sqlparser.AliasedTableExpr:
		if tbl, ok := t.Expr.(sqlparser.TableName); ok {
			return tbl.Name.String(), nil
		}
	}
	return "", fmt.Errorf("could not determine table name")
}

// refLookup reports whether where is exactly "<ref> = 'value'"
func refLookup(where sqlparser.Expr, ref string) (string, bool) {
	cmp, ok := where.(*sqlparser.ComparisonExpr)
	if !ok || ref == "" || cmp.Operator != sqlparser.EqualStr {
		return "", false
	}
	col, ok := cmp.Left.(*sqlparser.ColName)
	if !ok || col.Name.String() != ref {
		return "", false
	}
	v, err := evalExpr(cmp.Right)
	if err != nil || v == nil {
		return "", false
	}
	return formatValue(v), true
}

// matchQuery extracts the search text of "MATCH (...) AGAINST ('text')"
func matchQuery(where sqlparser.Expr) (string, bool) {
	m, ok := where.(*sqlparser.MatchExpr)
	if !ok {
		return "", false
	}
	v, err := evalExpr(m.Expr)
	if err != nil {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func applyLimit(docs []cloudblob.Document, limit *sqlparser.Limit) ([]cloudblob.Document, error) {
	if limit == nil {
		return docs, nil
	}

	offset, err := limitValue(limit.Offset)
	if err != nil {
		return nil, err
	}
	if offset >= len(docs) {
		return []cloudblob.Document{}, nil
	}
	docs = docs[offset:]

	if limit.Rowcount != nil {
		count, err := limitValue(limit.Rowcount)
		if err != nil {
			return nil, err
		}
		if count < len(docs) {
			docs = docs[:count]
		}
	}
	return docs, nil
}

func limitValue(expr sqlparser.Expr) (int, error) {
	if expr == nil {
		return 0, nil
	}
	val, ok := expr.(*sqlparser.SQLVal)
	if !ok || val.Type != sqlparser.IntVal {
		return 0, fmt.Errorf("LIMIT expects an integer")
	}
	n, err := strconv.Atoi(string(val.Val))
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid LIMIT value %q", val.Val)
	}
	return n, nil
}

// selectColumns resolves the projection. "*" expands to the sorted union of
// the fields of every returned document.
func selectColumns(exprs sqlparser.SelectExprs, docs []cloudblob.Document) ([]string, error) {
	var columns []string
	for _, expr := range exprs {
		switch e := expr.(type) {
		case *sqlparser.StarExpr:
			seen := make(map[string]bool)
			var fields []string
			for _, doc := range docs {
				for field := range doc {
					if !seen[field] {
						seen[field] = true
						fields = append(fields, field)
					}
				}
			}
			sort.Strings(fields)
			columns = append(columns, fields...)
		case *sqlparser.AliasedExpr:
			col, ok := e.Expr.(*sqlparser.ColName)
			if !ok {
				return nil, fmt.Errorf("unsupported select expression: %s", sqlparser.String(e.Expr))
			}
			columns = append(columns, col.Name.String())
		default:
			return nil, fmt.Errorf("unsupported select expression: %T", expr)
		}
	}
	return columns, nil
}

func evalExpr(expr sqlparser.Expr) (interface{}, error) {
	switch e := expr.(type) {
	case *sqlparser.SQLVal:
		switch e.Type {
		case sqlparser.StrVal:
			return string(e.Val), nil
		case sqlparser.IntVal:
			n, err := strconv.ParseInt(string(e.Val), 10, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid integer %q", e.Val)
			}
			return float64(n), nil
		case sqlparser.FloatVal:
			f, err := strconv.ParseFloat(string(e.Val), 64)
			if err != nil {
				return nil, fmt.Errorf("invalid number %q", e.Val)
			}
			return f, nil
		}
	case *sqlparser.NullVal:
		return nil, nil
	case sqlparser.BoolVal:
		return bool(e), nil
	case *sqlparser.UnaryExpr:
		if e.Operator == sqlparser.UMinusStr {
			v, err := evalExpr(e.Expr)
			if err != nil {
				return nil, err
			}
			if f, ok := v.(float64); ok {
				return -f, nil
			}
		}
	case *sqlparser.FuncExpr:
		if strings.EqualFold(e.Name.String(), "gen_random_uuid") {
			return cloudblob.NewID(), nil
		}
	}
	return nil, fmt.Errorf("unsupported value expression: %s", sqlparser.String(expr))
}

func matchesWhere(doc cloudblob.Document, expr sqlparser.Expr) bool {
	switch e := expr.(type) {
	case *sqlparser.ComparisonExpr:
		left := getColumnValue(doc, e.Left)
		right, err := evalExpr(e.Right)
		if err != nil {
			return false
		}

		switch e.Operator {
		case sqlparser.EqualStr:
			return formatValue(left) == formatValue(right)
		case sqlparser.NotEqualStr, "<>":
			return formatValue(left) != formatValue(right)
		}
		return false
	case *sqlparser.AndExpr:
		return matchesWhere(doc, e.Left) && matchesWhere(doc, e.Right)
	case *sqlparser.OrExpr:
		return matchesWhere(doc, e.Left) || matchesWhere(doc, e.Right)
	case *sqlparser.ParenExpr:
		return matchesWhere(doc, e.Expr)
	}
	return false
}

func getColumnValue(doc cloudblob.Document, expr sqlparser.Expr) interface{} {
	if col, ok := expr.(*sqlparser.ColName); ok {
		return doc[col.Name.String()]
	}
	return nil
}

// formatValue renders a document field as PostgreSQL text output
func formatValue(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	case map[string]interface{}, []interface{}:
		data, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprintf("%v", val)
		}
		return string(data)
	}
	return fmt.Sprintf("%v", v)
}
