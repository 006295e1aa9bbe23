// Package mempool implements the three-stage persistent transaction
// pipeline of spec §4.3: raw submissions, quorum-reached processing
// records, and finalized records, plus the set of UTXOs locked by live
// records. The lock set has set semantics: a second live record naming an
// already-locked UTXO is still accepted.
package mempool

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/synnergy-cubic/cubicledger/internal/hashutil"
	"github.com/synnergy-cubic/cubicledger/internal/txtypes"
)

func decodeCanonical(canonical []byte) (*txtypes.Transaction, error) {
	om, err := hashutil.DecodeOrderedJSON(bytes.NewReader(canonical))
	if err != nil {
		return nil, err
	}
	return txtypes.FromFields(om), nil
}

// ValidationEntry records one validator's timestamp for a raw transaction.
type ValidationEntry struct {
	ValidatorID string `json:"validatorId"`
	TimestampNs uint64 `json:"timestampNs"`
}

// RawTxRecord is mempool stage 1 (spec §3).
type RawTxRecord struct {
	RawTxID             string             `json:"rawTxId"`
	LeaderID            string             `json:"leaderId"`
	TxCanonical         []byte             `json:"txCanonical"`
	ValidationEntries   []ValidationEntry  `json:"validationEntries"`
	SubmissionTimestamp uint64             `json:"submissionTimestamp"`

	tx *txtypes.Transaction
}

// ProcessingTxRecord is mempool stage 2 (spec §3), keyed by validated hash.
type ProcessingTxRecord struct {
	ValidatedHash      string            `json:"validatedHash"`
	LeaderID           string            `json:"leaderId"`
	RawTxID            string            `json:"rawTxId"`
	TxCanonical        []byte            `json:"txCanonical"`
	ValidatorTimestamps []ValidationEntry `json:"validatorTimestamps"`

	tx *txtypes.Transaction
}

// FinalizedTxRecord is mempool stage 3 (spec §3), terminal in the mempool.
type FinalizedTxRecord struct {
	ValidatedHash string `json:"validatedHash"`
	TxCanonical   []byte `json:"txCanonical"`

	tx *txtypes.Transaction
}

func rawTxKey(leaderID, rawTxID string) string {
	return fmt.Sprintf("rawTx:%s:%s", leaderID, rawTxID)
}

func processingTxKey(validatedHash string) string {
	return fmt.Sprintf("processingTx:%s", validatedHash)
}

func finalizedTxKey(validatedHash string) string {
	return fmt.Sprintf("tx:%s", validatedHash)
}

const lockedUTXOKey = "lockedUtxo"

// Tx reconstructs the wrapped transaction from its canonical encoding.
func (r *RawTxRecord) Tx() (*txtypes.Transaction, error) {
	return decodeCanonical(r.TxCanonical)
}

// Tx reconstructs the wrapped transaction from its canonical encoding.
func (r *ProcessingTxRecord) Tx() (*txtypes.Transaction, error) {
	return decodeCanonical(r.TxCanonical)
}

// Tx reconstructs the wrapped transaction from its canonical encoding.
func (r *FinalizedTxRecord) Tx() (*txtypes.Transaction, error) {
	return decodeCanonical(r.TxCanonical)
}

func splitRawTxKey(key string) (leaderID, rawTxID string, ok bool) {
	rest := strings.TrimPrefix(key, "rawTx:")
	if rest == key {
		return "", "", false
	}
	idx := strings.IndexByte(rest, ':')
	if idx < 0 {
		return "", "", false
	}
	return rest[:idx], rest[idx+1:], true
}
