package cloudblob

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Document is an arbitrary JSON-serializable record. The Datastore never
// inspects its shape beyond writing a generated identifier into it.
type Document map[string]interface{}

// Clone returns a shallow copy of the document
func (d Document) Clone() Document {
	if d == nil {
		return nil
	}
	out := make(Document, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}

// String returns the value of field as a string, formatting non-string scalars
func (d Document) String(field string) (string, bool) {
	v, ok := d[field]
	if !ok || v == nil {
		return "", false
	}
	switch val := v.(type) {
	case string:
		return val, true
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64), true
	}
	return fmt.Sprintf("%v", v), true
}

func encodeDocument(doc Document) ([]byte, error) {
	// A nil document is stored as an empty object, never as null
	if doc == nil {
		doc = Document{}
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal document: %w", err)
	}
	return data, nil
}

func decodeDocument(data []byte) (Document, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, WithContext(ErrInvalidData, map[string]interface{}{
			"reason": err.Error(),
		})
	}
	if doc == nil {
		return nil, WithContext(ErrInvalidData, map[string]interface{}{
			"reason": "payload is not a JSON object",
		})
	}
	return doc, nil
}

// decodeInto converts a generic document into a typed value via JSON
func decodeInto(doc Document, dest interface{}) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, dest)
}

// encodeFrom converts a typed value into a generic document via JSON
func encodeFrom(value interface{}) (Document, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	return decodeDocument(data)
}
