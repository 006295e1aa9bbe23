package txtypes

import "encoding/json"

// GetUint64Field returns a numeric field widened to uint64, accepting the
// json.Number, int64, uint64, float64 and int representations a
// transaction's fields may hold depending on how it was constructed.
func GetUint64Field(tx *Transaction, key string) (uint64, bool) {
	v, ok := tx.fields.Get(key)
	if !ok {
		return 0, false
	}
	switch t := v.(type) {
	case json.Number:
		if iv, err := t.Int64(); err == nil && iv >= 0 {
			return uint64(iv), true
		}
		if fv, err := t.Float64(); err == nil {
			return uint64(fv), true
		}
		return 0, false
	case uint64:
		return t, true
	case int64:
		if t < 0 {
			return 0, false
		}
		return uint64(t), true
	case int:
		if t < 0 {
			return 0, false
		}
		return uint64(t), true
	case float64:
		return uint64(t), true
	default:
		return 0, false
	}
}

// AddressList normalizes a field that may be absent, a single string, or
// an array of strings into a flat list: absent -> empty, a single string
// -> a one-element list, an array -> taken as-is. This is the rule spec
// §4.5 uses to turn a transaction's "from" field into the UTXOs to lock.
func AddressList(tx *Transaction, key string) []string {
	v, ok := tx.fields.Get(key)
	if !ok {
		return nil
	}
	switch t := v.(type) {
	case string:
		return []string{t}
	case []interface{}:
		out := make([]string, 0, len(t))
		for _, e := range t {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
