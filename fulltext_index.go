package cloudblob

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"unicode"
)

// FullTextIndexFileName is the snapshot name used by FullTextIndex
const FullTextIndexFileName = "fts_index.json"

const fullTextSnapshotVersion = 1

// FullTextIndex is an inverted index over selected document fields.
// Documents are identified by their ref field; results are ranked by TF-IDF
// with ties broken by ref.
//
//	idx := NewFullTextIndex([]string{"name", "bio"}, "id")
type FullTextIndex struct {
	fields []string
	ref    string

	loaded bool
	dirty  bool

	// docs maps ref -> term -> frequency; postings maps term -> ref -> frequency
	docs     map[string]map[string]int
	lengths  map[string]int
	postings map[string]map[string]int
}

// fullTextSnapshot is the persisted form of a FullTextIndex
type fullTextSnapshot struct {
	Version   int                       `json:"version"`
	Ref       string                    `json:"ref"`
	Fields    []string                  `json:"fields"`
	Documents map[string]map[string]int `json:"documents"`
}

// NewFullTextIndex creates an unloaded index over fields keyed by ref
func NewFullTextIndex(fields []string, ref string) *FullTextIndex {
	return &FullTextIndex{
		fields: append([]string(nil), fields...),
		ref:    ref,
	}
}

func (f *FullTextIndex) FileName() string { return FullTextIndexFileName }
func (f *FullTextIndex) RefField() string { return f.ref }
func (f *FullTextIndex) Fields() []string { return append([]string(nil), f.fields...) }
func (f *FullTextIndex) Loaded() bool     { return f.loaded }
func (f *FullTextIndex) IsDirty() bool    { return f.dirty }
func (f *FullTextIndex) SetClean()        { f.dirty = false }

// Len returns the number of indexed documents
func (f *FullTextIndex) Len() int { return len(f.docs) }

func (f *FullTextIndex) init() {
	f.docs = make(map[string]map[string]int)
	f.lengths = make(map[string]int)
	f.postings = make(map[string]map[string]int)
	f.loaded = true
	f.dirty = false
}

func (f *FullTextIndex) Load(body Document) error {
	f.init()
	if body == nil {
		return nil
	}

	var snap fullTextSnapshot
	if err := decodeInto(body, &snap); err != nil {
		return WithContext(ErrInvalidData, map[string]interface{}{
			"index":  FullTextIndexFileName,
			"reason": err.Error(),
		})
	}
	if snap.Version != fullTextSnapshotVersion {
		return WithContext(ErrInvalidData, map[string]interface{}{
			"index":  FullTextIndexFileName,
			"reason": fmt.Sprintf("unsupported snapshot version %d", snap.Version),
		})
	}

	for ref, terms := range snap.Documents {
		f.put(ref, terms)
	}
	return nil
}

func (f *FullTextIndex) Reset() {
	f.docs = nil
	f.lengths = nil
	f.postings = nil
	f.loaded = false
	f.dirty = false
}

func (f *FullTextIndex) Serialize() (Document, error) {
	if !f.loaded {
		return nil, ErrIndexNotLoaded
	}
	return encodeFrom(fullTextSnapshot{
		Version:   fullTextSnapshotVersion,
		Ref:       f.ref,
		Fields:    f.fields,
		Documents: f.docs,
	})
}

// Add indexes doc. Adding a ref that is already indexed replaces it.
func (f *FullTextIndex) Add(doc Document) error {
	ref, ok := doc.String(f.ref)
	if !ok || ref == "" {
		return WithContext(ErrInvalidData, map[string]interface{}{
			"field":  f.ref,
			"reason": "document has no ref value",
		})
	}
	if !f.loaded {
		f.init()
	}

	terms := make(map[string]int)
	for _, field := range f.fields {
		for _, token := range tokenizeValue(doc[field]) {
			terms[token]++
		}
	}

	f.remove(ref)
	f.put(ref, terms)
	f.dirty = true
	return nil
}

func (f *FullTextIndex) Search(query string) ([]string, error) {
	results := []string{}
	if !f.loaded {
		return results, nil
	}

	scores := make(map[string]float64)
	total := float64(len(f.docs))
	for _, term := range dedupe(tokenize(query)) {
		posting := f.postings[term]
		if len(posting) == 0 {
			continue
		}
		idf := math.Log(1 + total/float64(len(posting)))
		for ref, tf := range posting {
			scores[ref] += float64(tf) / float64(f.lengths[ref]) * idf
		}
	}

	for ref := range scores {
		results = append(results, ref)
	}
	sort.Slice(results, func(i, j int) bool {
		a, b := scores[results[i]], scores[results[j]]
		if a != b {
			return a > b
		}
		return results[i] < results[j]
	})
	return results, nil
}

func (f *FullTextIndex) put(ref string, terms map[string]int) {
	f.docs[ref] = terms
	length := 0
	for term, tf := range terms {
		length += tf
		posting, ok := f.postings[term]
		if !ok {
			posting = make(map[string]int)
			f.postings[term] = posting
		}
		posting[ref] = tf
	}
	f.lengths[ref] = length
}

func (f *FullTextIndex) remove(ref string) {
	terms, ok := f.docs[ref]
	if !ok {
		return
	}
	for term := range terms {
		delete(f.postings[term], ref)
		if len(f.postings[term]) == 0 {
			delete(f.postings, term)
		}
	}
	delete(f.docs, ref)
	delete(f.lengths, ref)
}

// tokenize lowercases s and splits it on anything that is not a letter or digit
func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func tokenizeValue(v interface{}) []string {
	switch val := v.(type) {
	case nil:
		return nil
	case string:
		return tokenize(val)
	case []interface{}:
		var out []string
		for _, item := range val {
			out = append(out, tokenizeValue(item)...)
		}
		return out
	case []string:
		var out []string
		for _, item := range val {
			out = append(out, tokenize(item)...)
		}
		return out
	case map[string]interface{}, Document:
		return nil
	default:
		return tokenize(fmt.Sprintf("%v", val))
	}
}

func dedupe(tokens []string) []string {
	seen := make(map[string]bool, len(tokens))
	out := tokens[:0]
	for _, t := range tokens {
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	return out
}
