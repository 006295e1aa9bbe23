package consensus

import (
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/synnergy-cubic/cubicledger/internal/events"
	"github.com/synnergy-cubic/cubicledger/internal/hashutil"
	"github.com/synnergy-cubic/cubicledger/internal/mempool"
	"github.com/synnergy-cubic/cubicledger/internal/txtypes"
)

// TimestampUnit disambiguates the unit a caller reports a validator
// timestamp in; consensus state is always kept in nanoseconds (spec §4.5,
// §9 "Nanosecond timestamps in interchange formats").
type TimestampUnit int

const (
	Nanoseconds TimestampUnit = iota
	Milliseconds
)

// WidenTimestamp converts value to nanoseconds.
func WidenTimestamp(value uint64, unit TimestampUnit) uint64 {
	if unit == Milliseconds {
		return value * 1_000_000
	}
	return value
}

// SignatureVerifier optionally checks tx's signature against the
// submitting address before a validator's completion is counted (spec
// §4.5: "a failed verification aborts the transition silently"). Leave
// nil to skip verification entirely.
type SignatureVerifier func(tx *txtypes.Transaction, validatorID string) bool

// Workflow drives the Submitted -> Validating -> Processing -> Finalized
// state machine over a mempool.Pool and a TaskManager, publishing the
// lifecycle events of spec §6 on an events.Bus (spec §4.5).
type Workflow struct {
	mu sync.Mutex

	pool  *mempool.Pool
	tasks *TaskManager
	bus   *events.Bus

	validators          []string
	RequiredValidations int
	SigVerifier         SignatureVerifier

	leaderOf   map[string]string          // rawTxID -> submitting leader
	completedBy map[string]map[string]bool // rawTxID -> validatorID -> counted
}

// NewWorkflow wires pool, tasks and bus together. validators is the
// current validator set consulted when a submission's tasks are created;
// RequiredValidations defaults to 3 per spec §4.5.
func NewWorkflow(pool *mempool.Pool, tasks *TaskManager, bus *events.Bus, validators []string) *Workflow {
	return &Workflow{
		pool:                pool,
		tasks:               tasks,
		bus:                 bus,
		validators:          validators,
		RequiredValidations: 3,
		leaderOf:            make(map[string]string),
		completedBy:         make(map[string]map[string]bool),
	}
}

// Submit performs the Submitted -> Validating transition (spec §4.5): it
// locks the UTXOs named by tx's "from" field (set semantics — a
// conflicting submission still proceeds), creates a raw record, and
// assigns one validation task per validator in the current set.
func (w *Workflow) Submit(leaderID string, tx *txtypes.Transaction, submissionTimestamp uint64) (string, error) {
	utxos := txtypes.AddressList(tx, "from")

	rawTxID, err := w.pool.Submit(leaderID, tx, submissionTimestamp)
	if err != nil {
		return "", err
	}
	w.pool.LockUTXOs(utxos)

	w.mu.Lock()
	w.leaderOf[rawTxID] = leaderID
	w.completedBy[rawTxID] = make(map[string]bool)
	validators := append([]string(nil), w.validators...)
	w.mu.Unlock()

	w.publish(events.TopicRawTxAdded, rawTxID)

	taskList := CreateTasks(rawTxID, validators)
	w.tasks.Assign(taskList)
	w.publish(events.TopicValidationTasksCreated, taskList)

	return rawTxID, nil
}

// CompleteValidation performs one validator's half of the Validating ->
// Processing transition (spec §4.5). It is a silent no-op if the named
// task does not exist, and aborts (without counting this completion)
// when a configured SigVerifier rejects the transaction. It returns the
// validated hash once this completion triggers promotion to Processing,
// or "" otherwise.
func (w *Workflow) CompleteValidation(validatorID, rawTxID string, timestampNs uint64) string {
	taskName := TaskName(rawTxID, validatorID)
	if w.tasks.Get(validatorID, taskName) == nil {
		return ""
	}

	w.mu.Lock()
	leaderID, known := w.leaderOf[rawTxID]
	w.mu.Unlock()
	if !known {
		return ""
	}

	if w.SigVerifier != nil {
		rec := w.pool.RawRecord(leaderID, rawTxID)
		if rec == nil {
			return ""
		}
		tx, err := rec.Tx()
		if err != nil {
			logrus.WithError(err).Warn("consensus: decode tx for signature verification")
			return ""
		}
		if !w.SigVerifier(tx, validatorID) {
			return ""
		}
	}

	if !w.tasks.Complete(validatorID, taskName) {
		// Already completed by this validator for this raw transaction —
		// a crash-and-retry repeat (spec §4.4), not a second validator.
		// Recording it again would double-count this validator's
		// timestamp in the quorum average.
		return ""
	}
	w.pool.RecordValidation(rawTxID, validatorID, timestampNs)
	w.publish(events.TopicValidationComplete, map[string]string{"rawTxId": rawTxID, "validatorId": validatorID})

	w.mu.Lock()
	w.completedBy[rawTxID][validatorID] = true
	distinct := len(w.completedBy[rawTxID])
	required := w.RequiredValidations
	w.mu.Unlock()

	if distinct >= required {
		return w.promoteToProcessing(leaderID, rawTxID)
	}
	return ""
}

// promoteToProcessing implements the remainder of the Validating ->
// Processing transition once quorum is reached: it averages the
// recorded validator timestamps, computes the validated hash, and moves
// the record from raw to processing (spec §4.5). Returns the validated
// hash, or "" if promotion could not complete.
func (w *Workflow) promoteToProcessing(leaderID, rawTxID string) string {
	rec := w.pool.RawRecord(leaderID, rawTxID)
	if rec == nil {
		return ""
	}
	tx, err := rec.Tx()
	if err != nil {
		logrus.WithError(err).Warn("consensus: decode tx for promotion")
		return ""
	}

	avg := averageTimestamp(rec.ValidationEntries)
	txWithAvg := tx.WithField("validationTimestamp", avg)
	validatedHash := hashutil.HexHash(txWithAvg.ContentHash())

	processingRec := &mempool.ProcessingTxRecord{
		LeaderID:            leaderID,
		TxCanonical:         txWithAvg.CanonicalBytes(),
		ValidatorTimestamps: append([]mempool.ValidationEntry(nil), rec.ValidationEntries...),
	}
	if err := w.pool.PromoteToProcessing(rawTxID, validatedHash, processingRec); err != nil {
		logrus.WithError(err).Warn("consensus: promote to processing")
		return ""
	}

	w.mu.Lock()
	delete(w.leaderOf, rawTxID)
	delete(w.completedBy, rawTxID)
	w.mu.Unlock()

	payload := map[string]interface{}{"validatedHash": validatedHash, "tx": txWithAvg}
	w.publish(events.TopicTxProcessing, payload)
	w.publish(events.TopicTxMovedToProcessing, payload)
	return validatedHash
}

func averageTimestamp(entries []mempool.ValidationEntry) uint64 {
	if len(entries) == 0 {
		return 0
	}
	var sum uint64
	for _, e := range entries {
		sum += e.TimestampNs
	}
	return sum / uint64(len(entries))
}

// Finalize performs the Processing -> Finalized transition (spec §4.5).
// It is idempotent: finalizing an unknown validated hash returns false.
func (w *Workflow) Finalize(validatedHash string) bool {
	fin, ok := w.pool.Finalize(validatedHash)
	if !ok {
		return false
	}
	tx, err := fin.Tx()
	if err != nil {
		logrus.WithError(err).Warn("consensus: decode tx on finalize")
		return true
	}
	w.publish(events.TopicTxFinalized, map[string]interface{}{"validatedHash": validatedHash, "tx": tx})
	return true
}

func (w *Workflow) publish(topic string, payload interface{}) {
	if w.bus == nil {
		return
	}
	w.bus.Publish(topic, payload)
}
