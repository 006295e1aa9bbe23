// Package txtypes models the dynamically-typed transaction objects that
// cross the system boundary as a tagged variant over the five recognized
// kinds, while preserving whatever extra fields a caller attached — the
// canonical hash is only stable if unknown fields survive the round trip.
package txtypes

import (
	"fmt"
	"io"

	"github.com/synnergy-cubic/cubicledger/internal/hashutil"
)

// Kind enumerates the recognized transaction variants.
type Kind string

const (
	KindUTXO           Kind = "utxo"
	KindIdentity       Kind = "identity"
	KindTokenCreation  Kind = "token_creation"
	KindContract       Kind = "contract"
	KindStateDiff      Kind = "state_diff"
)

// requiredFields lists the per-kind required field names from spec §4.2.
var requiredFields = map[Kind][]string{
	KindUTXO:          {"from", "to", "amount"},
	KindIdentity:      {"publicKey", "signature"},
	KindTokenCreation: {"creator", "tokenId"},
	KindContract:      {"contractHash", "abi"},
	KindStateDiff:     {"function", "args"},
}

func recognizedKind(k string) bool {
	_, ok := requiredFields[Kind(k)]
	return ok
}

// Transaction is an immutable wrapper over an insertion-ordered field map.
// It is never mutated after construction; every "setter" used during the
// consensus pipeline (injecting validationTimestamp, for instance) returns
// a new Transaction sharing the untouched fields.
type Transaction struct {
	fields *hashutil.OrderedMap
}

// FromReader parses a single JSON transaction object from r, preserving
// field order for canonical hashing.
func FromReader(r io.Reader) (*Transaction, error) {
	om, err := hashutil.DecodeOrderedJSON(r)
	if err != nil {
		return nil, fmt.Errorf("txtypes: decode: %w", err)
	}
	return &Transaction{fields: om}, nil
}

// FromFields wraps a pre-built OrderedMap. The caller must not mutate om
// after this call.
func FromFields(om *hashutil.OrderedMap) *Transaction {
	return &Transaction{fields: om}
}

// Fields returns the underlying ordered field map. Callers must treat it
// as read-only.
func (tx *Transaction) Fields() *hashutil.OrderedMap {
	return tx.fields
}

// Kind returns the transaction's declared type, or "" if absent.
func (tx *Transaction) Kind() string {
	v, ok := tx.fields.Get("type")
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

// GetString returns a string field or ("", false) if absent or not a string.
func (tx *Transaction) GetString(key string) (string, bool) {
	v, ok := tx.fields.Get(key)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// WithField returns a new Transaction with key set to value, leaving tx
// untouched. Used to inject validationTimestamp ahead of hashing without
// mutating the original record.
func (tx *Transaction) WithField(key string, value interface{}) *Transaction {
	clone := tx.fields.Clone()
	clone.Set(key, value)
	return &Transaction{fields: clone}
}

// CanonicalBytes returns the canonical JSON encoding used for content
// hashing (spec §4.1).
func (tx *Transaction) CanonicalBytes() []byte {
	return hashutil.CanonicalEncode(tx.fields)
}

// ContentHash hashes the transaction's canonical encoding.
func (tx *Transaction) ContentHash() [hashutil.Size]byte {
	return hashutil.ContentHash(tx.CanonicalBytes())
}
