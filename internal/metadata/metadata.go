// Package metadata holds the positional records that describe each indexed vector.
package metadata

import (
	"fmt"
	"strconv"

	"github.com/tidwall/gjson"
)

// Table is an ordered, read-only list of records; record i describes index position i.
type Table struct {
	records []gjson.Result
}

// Parse decodes a JSON array of records. Elements may be strings, objects or
// any other JSON value.
func Parse(data []byte) (*Table, error) {
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("metadata is not valid JSON")
	}
	root := gjson.ParseBytes(data)
	if !root.IsArray() {
		return nil, fmt.Errorf("metadata must be a JSON array, got %s", root.Type)
	}
	return &Table{records: root.Array()}, nil
}

// New builds a table from plain filenames.
func New(filenames []string) *Table {
	records := make([]gjson.Result, len(filenames))
	for i, name := range filenames {
		records[i] = gjson.Result{Type: gjson.String, Str: name, Raw: strconv.Quote(name)}
	}
	return &Table{records: records}
}

// Len returns the number of records.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.records)
}

// Filename returns the display filename for position i: a string record is
// the name itself; an object uses its non-empty "filename" field and falls
// back to the position; any other value is rendered as JSON text.
func (t *Table) Filename(i int) string {
	if i < 0 || i >= t.Len() {
		return ""
	}
	rec := t.records[i]
	switch {
	case rec.Type == gjson.String:
		return rec.Str
	case rec.IsObject():
		if name := rec.Get("filename"); name.Type == gjson.String && name.Str != "" {
			return name.Str
		}
		return strconv.Itoa(i)
	default:
		return rec.Raw
	}
}

// Sample returns the filenames of the first n records.
func (t *Table) Sample(n int) []string {
	if n > t.Len() {
		n = t.Len()
	}
	out := make([]string, 0, max(n, 0))
	for i := 0; i < n; i++ {
		out = append(out, t.Filename(i))
	}
	return out
}
