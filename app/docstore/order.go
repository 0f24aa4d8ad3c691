package docstore

import (
	"encoding/json"
	"slices"
	"strings"
	"time"
)

// Value kinds in ascending sort order.
const (
	kindNull = iota
	kindBool
	kindNumber
	kindTime
	kindString
)

type orderKey struct {
	kind int
	b    bool
	num  float64
	t    time.Time
	str  string
}

func (a orderKey) compare(b orderKey) int {
	if a.kind != b.kind {
		return a.kind - b.kind
	}
	switch a.kind {
	case kindBool:
		switch {
		case a.b == b.b:
			return 0
		case !a.b:
			return -1
		default:
			return 1
		}
	case kindNumber:
		switch {
		case a.num < b.num:
			return -1
		case a.num > b.num:
			return 1
		}
		return 0
	case kindTime:
		return a.t.Compare(b.t)
	case kindString:
		return strings.Compare(a.str, b.str)
	}
	return 0
}

// fieldKey extracts the sort key of field from a record. ok is false when the
// record has no such field.
func fieldKey(data json.RawMessage, field string) (orderKey, bool) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return orderKey{}, false
	}
	raw, ok := fields[field]
	if !ok {
		return orderKey{}, false
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return orderKey{}, false
	}
	switch x := v.(type) {
	case nil:
		return orderKey{kind: kindNull}, true
	case bool:
		return orderKey{kind: kindBool, b: x}, true
	case float64:
		return orderKey{kind: kindNumber, num: x}, true
	case string:
		if t, err := time.Parse(time.RFC3339Nano, x); err == nil {
			return orderKey{kind: kindTime, t: t}, true
		}
		return orderKey{kind: kindString, str: x}, true
	}
	// objects and arrays are not orderable
	return orderKey{}, false
}

// orderDocs sorts docs for q. Documents missing the order field are dropped.
// Ties are broken by insertion sequence in the query direction.
func orderDocs(docs []Document, q Query) []Document {
	type keyed struct {
		doc Document
		key orderKey
	}
	items := make([]keyed, 0, len(docs))
	for _, d := range docs {
		if q.OrderBy == "" {
			items = append(items, keyed{doc: d})
			continue
		}
		k, ok := fieldKey(d.Data, q.OrderBy)
		if !ok {
			continue
		}
		items = append(items, keyed{doc: d, key: k})
	}
	slices.SortFunc(items, func(a, b keyed) int {
		c := a.key.compare(b.key)
		if c == 0 {
			switch {
			case a.doc.Seq < b.doc.Seq:
				c = -1
			case a.doc.Seq > b.doc.Seq:
				c = 1
			}
		}
		if q.Descending {
			return -c
		}
		return c
	})
	out := make([]Document, len(items))
	for i, it := range items {
		out[i] = it.doc
	}
	return out
}
