package hashutil

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"sort"
)

// maxSafeInteger is 2^53-1, the largest integer a JSON number can carry
// without precision loss in the broad run of JSON consumers. Above this
// value every serializer in this codebase renders the number as a decimal
// string instead, matching the wire format the rest of the system expects
// for nanosecond timestamps.
const maxSafeInteger = 1<<53 - 1

// OrderedMap preserves the insertion order of its keys, which canonical
// transaction hashing depends on: two transactions with identical fields
// inserted in different orders must still hash identically only if they
// were constructed identically, so the map is the source of truth for
// field order, not a side effect of Go's randomized map iteration.
type OrderedMap struct {
	keys   []string
	values map[string]interface{}
}

// NewOrderedMap returns an empty OrderedMap.
func NewOrderedMap() *OrderedMap {
	return &OrderedMap{values: make(map[string]interface{})}
}

// Set inserts key with value, appending key to the order if it is new and
// overwriting the value in place if key was already present.
func (m *OrderedMap) Set(key string, value interface{}) {
	if _, ok := m.values[key]; !ok {
		m.keys = append(m.keys, key)
	}
	m.values[key] = value
}

// Get returns the value for key and whether it was present.
func (m *OrderedMap) Get(key string) (interface{}, bool) {
	v, ok := m.values[key]
	return v, ok
}

// Has reports whether key is present.
func (m *OrderedMap) Has(key string) bool {
	_, ok := m.values[key]
	return ok
}

// Keys returns the keys in insertion order. The returned slice must not be
// mutated by the caller.
func (m *OrderedMap) Keys() []string {
	return m.keys
}

// Clone returns a deep-enough copy: the top-level key order and value map
// are copied, but nested OrderedMap/[]interface{} values are shared. This
// is sufficient because transactions are immutable after construction and
// callers only ever append new top-level fields to a clone.
func (m *OrderedMap) Clone() *OrderedMap {
	out := NewOrderedMap()
	out.keys = append([]string(nil), m.keys...)
	out.values = make(map[string]interface{}, len(m.values))
	for k, v := range m.values {
		out.values[k] = v
	}
	return out
}

// DecodeOrderedJSON parses a single JSON object from r into an OrderedMap,
// preserving field order exactly as it appears in the input. Nested
// objects decode into nested *OrderedMap values; arrays decode into
// []interface{} whose elements follow the same rule recursively.
func DecodeOrderedJSON(r io.Reader) (*OrderedMap, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	delim, ok := tok.(json.Delim)
	if !ok || delim != '{' {
		return nil, fmt.Errorf("hashutil: expected JSON object, got %v", tok)
	}
	om, err := decodeObjectBody(dec)
	if err != nil {
		return nil, err
	}
	return om, nil
}

func decodeObjectBody(dec *json.Decoder) (*OrderedMap, error) {
	om := NewOrderedMap()
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := keyTok.(string)
		if !ok {
			return nil, fmt.Errorf("hashutil: expected object key, got %v", keyTok)
		}
		val, err := decodeValue(dec)
		if err != nil {
			return nil, err
		}
		om.Set(key, val)
	}
	// consume closing '}'
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	return om, nil
}

func decodeValue(dec *json.Decoder) (interface{}, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	switch v := tok.(type) {
	case json.Delim:
		switch v {
		case '{':
			return decodeObjectBody(dec)
		case '[':
			var arr []interface{}
			for dec.More() {
				elem, err := decodeValue(dec)
				if err != nil {
					return nil, err
				}
				arr = append(arr, elem)
			}
			if _, err := dec.Token(); err != nil { // ']'
				return nil, err
			}
			return arr, nil
		}
		return nil, fmt.Errorf("hashutil: unexpected delimiter %v", v)
	default:
		return tok, nil
	}
}

// CanonicalEncode renders om as a stable JSON byte sequence: fields in
// insertion order, integers beyond ±(2^53-1) rendered as decimal strings,
// every defined field included, no undefined field invented. This is the
// sole basis for content hashing anywhere in the system; changing it
// breaks hash compatibility across nodes.
func CanonicalEncode(om *OrderedMap) []byte {
	var buf bytes.Buffer
	encodeOrderedMap(&buf, om)
	return buf.Bytes()
}

func encodeOrderedMap(buf *bytes.Buffer, om *OrderedMap) {
	buf.WriteByte('{')
	for i, k := range om.Keys() {
		if i > 0 {
			buf.WriteByte(',')
		}
		encodeString(buf, k)
		buf.WriteByte(':')
		v, _ := om.Get(k)
		encodeValue(buf, v)
	}
	buf.WriteByte('}')
}

func encodeValue(buf *bytes.Buffer, v interface{}) {
	switch t := v.(type) {
	case nil:
		buf.WriteString("null")
	case *OrderedMap:
		encodeOrderedMap(buf, t)
	case []interface{}:
		buf.WriteByte('[')
		for i, e := range t {
			if i > 0 {
				buf.WriteByte(',')
			}
			encodeValue(buf, e)
		}
		buf.WriteByte(']')
	case string:
		encodeString(buf, t)
	case bool:
		if t {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case json.Number:
		encodeNumber(buf, t)
	case int:
		encodeNumber(buf, json.Number(fmt.Sprintf("%d", t)))
	case int64:
		encodeNumber(buf, json.Number(fmt.Sprintf("%d", t)))
	case uint64:
		encodeNumber(buf, json.Number(fmt.Sprintf("%d", t)))
	case float64:
		encodeNumber(buf, json.Number(formatFloat(t)))
	default:
		// Fallback for values constructed programmatically rather than
		// decoded from JSON: marshal through the standard encoder. This
		// keeps CanonicalEncode total over any Go value a caller sets.
		b, err := json.Marshal(t)
		if err != nil {
			buf.WriteString("null")
			return
		}
		buf.Write(b)
	}
}

// encodeString writes s as a JSON-escaped, quoted string, reusing
// encoding/json's own escaping rules so canonical encoding never diverges
// from what json.Marshal would produce for the same string.
func encodeString(buf *bytes.Buffer, s string) {
	b, _ := json.Marshal(s)
	buf.Write(b)
}

func formatFloat(f float64) string {
	if f == math.Trunc(f) && !math.IsInf(f, 0) {
		return fmt.Sprintf("%d", int64(f))
	}
	return fmt.Sprintf("%g", f)
}

// encodeNumber renders n verbatim if it fits in the safe integer range,
// otherwise as a quoted decimal string (§4.1(b) of the spec).
func encodeNumber(buf *bytes.Buffer, n json.Number) {
	if iv, err := n.Int64(); err == nil {
		if iv > maxSafeInteger || iv < -maxSafeInteger {
			encodeString(buf, fmt.Sprintf("%d", iv))
			return
		}
		buf.WriteString(n.String())
		return
	}
	if uv, err := parseUint(string(n)); err == nil {
		if uv > maxSafeInteger {
			encodeString(buf, fmt.Sprintf("%d", uv))
			return
		}
		buf.WriteString(n.String())
		return
	}
	// Non-integer numeric literal: pass through unchanged.
	buf.WriteString(n.String())
}

func parseUint(s string) (uint64, error) {
	var v uint64
	if len(s) == 0 {
		return 0, fmt.Errorf("empty")
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, fmt.Errorf("not an unsigned integer")
		}
		v = v*10 + uint64(c-'0')
	}
	return v, nil
}

// SortStrings sorts s in place; a small helper kept here so ledger-level
// code sorting hash strings doesn't need to import "sort" directly.
func SortStrings(s []string) {
	sort.Strings(s)
}
