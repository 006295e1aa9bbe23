package mempool

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/synnergy-cubic/cubicledger/internal/hashutil"
	"github.com/synnergy-cubic/cubicledger/internal/store"
	"github.com/synnergy-cubic/cubicledger/internal/txtypes"
)

// ErrDuplicateSubmission is returned by Submit when the same (leader,
// raw_tx_id) pair already has a live raw record. It is non-fatal; callers
// may ignore it.
var ErrDuplicateSubmission = errors.New("mempool: duplicate submission")

// ErrNotFound is returned by mutators that target an absent record.
var ErrNotFound = errors.New("mempool: not found")

// Pool holds the three mempool stages and the UTXO lock set. Every
// mutator acquires Pool's exclusive lock; readers see a consistent
// snapshot (spec §5).
type Pool struct {
	mu sync.RWMutex

	store *store.Store

	// raw is keyed by leaderID then rawTxID: each leader may hold its own
	// copy of the same transaction content (spec §4.3).
	raw map[string]map[string]*RawTxRecord
	// rawIndex maps a rawTxID to every leaderID currently holding a copy,
	// so RecordValidation (which only knows the rawTxID) can reach every
	// live copy of that transaction's content.
	rawIndex map[string]map[string]struct{}

	processing map[string]*ProcessingTxRecord
	finalized  map[string]*FinalizedTxRecord

	locked map[string]struct{}
}

// Open opens the backing store at path (empty path = in-memory) and
// rehydrates all three stages plus the lock set, resuming exactly where
// the node left off (spec §4.3 Persistence).
func Open(path string) (*Pool, error) {
	st, err := store.Open(path)
	if err != nil {
		return nil, fmt.Errorf("mempool: open store: %w", err)
	}
	p := &Pool{
		store:      st,
		raw:        make(map[string]map[string]*RawTxRecord),
		rawIndex:   make(map[string]map[string]struct{}),
		processing: make(map[string]*ProcessingTxRecord),
		finalized:  make(map[string]*FinalizedTxRecord),
		locked:     make(map[string]struct{}),
	}
	if err := p.rehydrate(); err != nil {
		return nil, err
	}
	return p, nil
}

// Close closes the backing store.
func (p *Pool) Close() error {
	return p.store.Close()
}

// Store returns the backing key-value store so other subsystems that share
// the same durable layout (spec §6 persisted-state layout lists mempool
// and ledger prefixes side by side in one store) can reuse this handle
// instead of opening a second one.
func (p *Pool) Store() *store.Store {
	return p.store
}

func (p *Pool) rehydrate() error {
	if err := p.store.ForEachPrefix("rawTx:", func(key string, value []byte) error {
		var rec RawTxRecord
		if err := json.Unmarshal(value, &rec); err != nil {
			logrus.WithError(err).Warn("mempool: skip corrupt raw record during rehydrate")
			return nil
		}
		leaderID, rawTxID, ok := splitRawTxKey(key)
		if !ok {
			return nil
		}
		if p.raw[leaderID] == nil {
			p.raw[leaderID] = make(map[string]*RawTxRecord)
		}
		p.raw[leaderID][rawTxID] = &rec
		if p.rawIndex[rawTxID] == nil {
			p.rawIndex[rawTxID] = make(map[string]struct{})
		}
		p.rawIndex[rawTxID][leaderID] = struct{}{}
		return nil
	}); err != nil {
		return fmt.Errorf("mempool: rehydrate raw: %w", err)
	}

	if err := p.store.ForEachPrefix("processingTx:", func(key string, value []byte) error {
		var rec ProcessingTxRecord
		if err := json.Unmarshal(value, &rec); err != nil {
			logrus.WithError(err).Warn("mempool: skip corrupt processing record during rehydrate")
			return nil
		}
		p.processing[rec.ValidatedHash] = &rec
		return nil
	}); err != nil {
		return fmt.Errorf("mempool: rehydrate processing: %w", err)
	}

	if err := p.store.ForEachPrefix("tx:", func(key string, value []byte) error {
		var rec FinalizedTxRecord
		if err := json.Unmarshal(value, &rec); err != nil {
			logrus.WithError(err).Warn("mempool: skip corrupt finalized record during rehydrate")
			return nil
		}
		p.finalized[rec.ValidatedHash] = &rec
		return nil
	}); err != nil {
		return fmt.Errorf("mempool: rehydrate finalized: %w", err)
	}

	if raw, ok := p.store.Get(lockedUTXOKey); ok {
		var list []string
		if err := json.Unmarshal(raw, &list); err != nil {
			logrus.WithError(err).Warn("mempool: skip corrupt lock set during rehydrate")
		} else {
			for _, u := range list {
				p.locked[u] = struct{}{}
			}
		}
	}
	return nil
}

// Submit computes raw_tx_id = content_hash(tx) and creates a RawTxRecord
// under (leader_id, raw_tx_id). It fails with ErrDuplicateSubmission if
// that exact pair already exists; the same transaction submitted by a
// different leader is a separate, independent copy (spec §4.3).
func (p *Pool) Submit(leaderID string, tx *txtypes.Transaction, submissionTimestamp uint64) (string, error) {
	rawTxID := hashutil.HexHash(tx.ContentHash())

	p.mu.Lock()
	defer p.mu.Unlock()

	if leaders, ok := p.raw[leaderID]; ok {
		if _, exists := leaders[rawTxID]; exists {
			return "", ErrDuplicateSubmission
		}
	}

	rec := &RawTxRecord{
		RawTxID:             rawTxID,
		LeaderID:            leaderID,
		TxCanonical:         tx.CanonicalBytes(),
		SubmissionTimestamp: submissionTimestamp,
	}
	if p.raw[leaderID] == nil {
		p.raw[leaderID] = make(map[string]*RawTxRecord)
	}
	p.raw[leaderID][rawTxID] = rec
	if p.rawIndex[rawTxID] == nil {
		p.rawIndex[rawTxID] = make(map[string]struct{})
	}
	p.rawIndex[rawTxID][leaderID] = struct{}{}

	p.persistRaw(rec)
	return rawTxID, nil
}

func (p *Pool) persistRaw(rec *RawTxRecord) {
	data, err := json.Marshal(rec)
	if err != nil {
		logrus.WithError(err).Warn("mempool: marshal raw record")
		return
	}
	p.store.PutLogged(rawTxKey(rec.LeaderID, rec.RawTxID), data)
}

// LockUTXOs adds every element of utxos to the lock set. Idempotent,
// never fails.
func (p *Pool) LockUTXOs(utxos []string) {
	if len(utxos) == 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, u := range utxos {
		p.locked[u] = struct{}{}
	}
	p.persistLocks()
}

// UnlockUTXOs removes every element of utxos from the lock set. Idempotent.
func (p *Pool) UnlockUTXOs(utxos []string) {
	if len(utxos) == 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, u := range utxos {
		delete(p.locked, u)
	}
	p.persistLocks()
}

func (p *Pool) persistLocks() {
	list := make([]string, 0, len(p.locked))
	for u := range p.locked {
		list = append(list, u)
	}
	data, err := json.Marshal(list)
	if err != nil {
		logrus.WithError(err).Warn("mempool: marshal lock set")
		return
	}
	p.store.PutLogged(lockedUTXOKey, data)
}

// RecordValidation appends a validation entry to every live raw record
// for rawTxID, across every leader currently holding a copy.
func (p *Pool) RecordValidation(rawTxID, validatorID string, timestampNs uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	leaders := p.rawIndex[rawTxID]
	for leaderID := range leaders {
		rec := p.raw[leaderID][rawTxID]
		if rec == nil {
			continue
		}
		rec.ValidationEntries = append(rec.ValidationEntries, ValidationEntry{
			ValidatorID: validatorID,
			TimestampNs: timestampNs,
		})
		p.persistRaw(rec)
	}
}

// RawRecord returns a snapshot of the raw record held by leaderID for
// rawTxID, or nil if absent.
func (p *Pool) RawRecord(leaderID, rawTxID string) *RawTxRecord {
	p.mu.RLock()
	defer p.mu.RUnlock()
	leaders, ok := p.raw[leaderID]
	if !ok {
		return nil
	}
	rec, ok := leaders[rawTxID]
	if !ok {
		return nil
	}
	cp := *rec
	cp.ValidationEntries = append([]ValidationEntry(nil), rec.ValidationEntries...)
	return &cp
}

// PromoteToProcessing atomically removes every raw record for rawTxID
// (across all leaders holding a copy) and inserts the given processing
// record under validatedHash. It fails with ErrNotFound if no raw record
// for rawTxID exists anywhere.
func (p *Pool) PromoteToProcessing(rawTxID, validatedHash string, rec *ProcessingTxRecord) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	leaders, ok := p.rawIndex[rawTxID]
	if !ok || len(leaders) == 0 {
		return ErrNotFound
	}

	for leaderID := range leaders {
		delete(p.raw[leaderID], rawTxID)
		p.store.DeleteLogged(rawTxKey(leaderID, rawTxID))
		if len(p.raw[leaderID]) == 0 {
			delete(p.raw, leaderID)
		}
	}
	delete(p.rawIndex, rawTxID)

	rec.ValidatedHash = validatedHash
	rec.RawTxID = rawTxID
	p.processing[validatedHash] = rec
	data, err := json.Marshal(rec)
	if err != nil {
		logrus.WithError(err).Warn("mempool: marshal processing record")
	} else {
		p.store.PutLogged(processingTxKey(validatedHash), data)
	}
	return nil
}

// Finalize atomically removes the processing record for validatedHash,
// inserts a FinalizedTxRecord, and unlocks the UTXOs referenced by the
// transaction's "from" field. It returns false (no error) if validatedHash
// is unknown — finalization is idempotent (spec §4.5, §8).
func (p *Pool) Finalize(validatedHash string) (*FinalizedTxRecord, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	rec, ok := p.processing[validatedHash]
	if !ok {
		return nil, false
	}
	delete(p.processing, validatedHash)
	p.store.DeleteLogged(processingTxKey(validatedHash))

	tx, err := decodeCanonical(rec.TxCanonical)
	if err != nil {
		logrus.WithError(err).Warn("mempool: reconstruct tx on finalize")
	} else {
		for _, u := range txtypes.AddressList(tx, "from") {
			delete(p.locked, u)
		}
		p.persistLocks()
	}

	fin := &FinalizedTxRecord{ValidatedHash: validatedHash, TxCanonical: rec.TxCanonical}
	p.finalized[validatedHash] = fin
	data, merr := json.Marshal(fin)
	if merr != nil {
		logrus.WithError(merr).Warn("mempool: marshal finalized record")
	} else {
		p.store.PutLogged(finalizedTxKey(validatedHash), data)
	}
	return fin, true
}

// Finalized returns the finalized record for validatedHash, or nil.
func (p *Pool) Finalized(validatedHash string) *FinalizedTxRecord {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.finalized[validatedHash]
}

// Stats returns the raw/processing/finalized/locked-utxo counts (spec §4.3).
func (p *Pool) Stats() (rawCount, processingCount, finalizedCount, lockedUTXOs int) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, leaders := range p.raw {
		rawCount += len(leaders)
	}
	return rawCount, len(p.processing), len(p.finalized), len(p.locked)
}

// StuckRawTransactions lists raw records whose submission timestamp is
// older than the given threshold, a diagnostic surfacing the "never
// expire" design gap of spec §9 without introducing a TTL.
func (p *Pool) StuckRawTransactions(olderThanNs uint64, nowNs uint64) []*RawTxRecord {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var out []*RawTxRecord
	for _, leaders := range p.raw {
		for _, rec := range leaders {
			if nowNs > rec.SubmissionTimestamp && nowNs-rec.SubmissionTimestamp >= olderThanNs {
				cp := *rec
				out = append(out, &cp)
			}
		}
	}
	return out
}

