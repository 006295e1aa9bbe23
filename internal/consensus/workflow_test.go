package consensus

import (
	"strings"
	"testing"

	"github.com/synnergy-cubic/cubicledger/internal/events"
	"github.com/synnergy-cubic/cubicledger/internal/mempool"
	"github.com/synnergy-cubic/cubicledger/internal/txtypes"
)

func newTestWorkflow(t *testing.T) (*Workflow, *mempool.Pool) {
	t.Helper()
	pool, err := mempool.Open("")
	if err != nil {
		t.Fatalf("open pool: %v", err)
	}
	t.Cleanup(func() { _ = pool.Close() })
	wf := NewWorkflow(pool, NewTaskManager(), events.New(), []string{"v1", "v2", "v3"})
	return wf, pool
}

func mustTx(t *testing.T, raw string) *txtypes.Transaction {
	t.Helper()
	tx, err := txtypes.FromReader(strings.NewReader(raw))
	if err != nil {
		t.Fatalf("parse tx: %v", err)
	}
	return tx
}

// Spec §8 scenario 1: single transaction through the full pipeline.
func TestSingleTransactionReachesFinalized(t *testing.T) {
	wf, pool := newTestWorkflow(t)
	tx := mustTx(t, `{"type":"utxo","from":"A","to":"B","amount":100}`)

	rawTxID, err := wf.Submit("L1", tx, 500_000)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	raw, proc, fin, locked := pool.Stats()
	if raw != 1 || proc != 0 || fin != 0 || locked != 1 {
		t.Fatalf("stats after submit = (%d,%d,%d,%d), want (1,0,0,1)", raw, proc, fin, locked)
	}

	wf.CompleteValidation("v1", rawTxID, 1_000_000)
	wf.CompleteValidation("v2", rawTxID, 2_000_000)
	validatedHash := wf.CompleteValidation("v3", rawTxID, 3_000_000)
	if validatedHash == "" {
		t.Fatalf("expected third completion to trigger promotion and return a validated hash")
	}

	raw, proc, fin, locked = pool.Stats()
	if raw != 0 || proc != 1 || fin != 0 || locked != 1 {
		t.Fatalf("stats after quorum = (%d,%d,%d,%d), want (0,1,0,1)", raw, proc, fin, locked)
	}

	if !wf.Finalize(validatedHash) {
		t.Fatalf("finalize returned false on first call")
	}
	if wf.Finalize(validatedHash) {
		t.Fatalf("finalize returned true on repeat call")
	}

	raw, proc, fin, locked = pool.Stats()
	if raw != 0 || proc != 0 || fin != 1 || locked != 0 {
		t.Fatalf("stats after finalize = (%d,%d,%d,%d), want (0,0,1,0)", raw, proc, fin, locked)
	}
}

func TestCompleteValidationIgnoresDuplicateValidator(t *testing.T) {
	wf, pool := newTestWorkflow(t)
	tx := mustTx(t, `{"type":"utxo","from":"A","to":"B","amount":1}`)
	rawTxID, _ := wf.Submit("L1", tx, 1)

	wf.CompleteValidation("v1", rawTxID, 1_000_000)
	wf.CompleteValidation("v1", rawTxID, 1_500_000)
	wf.CompleteValidation("v1", rawTxID, 1_700_000)

	raw, proc, _, _ := pool.Stats()
	if raw != 1 || proc != 0 {
		t.Fatalf("expected no quorum from a single repeated validator, got raw=%d proc=%d", raw, proc)
	}

	rec := pool.RawRecord("L1", rawTxID)
	if rec == nil || len(rec.ValidationEntries) != 1 {
		t.Fatalf("expected a repeated validator to add exactly one validation entry, got %+v", rec)
	}
}

// A validator retrying its completion before quorum must not skew the
// validator-averaged timestamp computed once quorum is actually reached by
// three distinct validators (spec §4.4 "validators may crash and retry",
// §4.5 averaging).
func TestRepeatedValidatorDoesNotSkewQuorumAverage(t *testing.T) {
	wf, _ := newTestWorkflow(t)
	tx := mustTx(t, `{"type":"utxo","from":"A","to":"B","amount":1}`)
	rawTxID, _ := wf.Submit("L1", tx, 1)

	wf.CompleteValidation("v1", rawTxID, 1_000_000)
	wf.CompleteValidation("v1", rawTxID, 9_999_999) // retried completion, must not count again
	wf.CompleteValidation("v2", rawTxID, 2_000_000)
	validatedHash := wf.CompleteValidation("v3", rawTxID, 3_000_000)
	if validatedHash == "" {
		t.Fatalf("expected third distinct validator to trigger promotion")
	}

	if !wf.Finalize(validatedHash) {
		t.Fatalf("finalize failed for validated hash %q", validatedHash)
	}
	fin := wf.pool.Finalized(validatedHash)
	if fin == nil {
		t.Fatalf("expected a finalized record for %q", validatedHash)
	}
	finTx, err := fin.Tx()
	if err != nil {
		t.Fatalf("decode finalized tx: %v", err)
	}
	avg, ok := txtypes.GetUint64Field(finTx, "validationTimestamp")
	if !ok {
		t.Fatalf("expected validationTimestamp field on finalized tx")
	}
	// Exactly three distinct entries (1_000_000 + 2_000_000 + 3_000_000)/3;
	// the repeated v1 completion at 9_999_999 must not have been averaged in.
	const want = (1_000_000 + 2_000_000 + 3_000_000) / 3
	if avg != want {
		t.Fatalf("averaged validationTimestamp = %d, want %d (duplicate completion was counted)", avg, want)
	}
}

func TestSignatureVerifierRejectionAbortsSilently(t *testing.T) {
	wf, pool := newTestWorkflow(t)
	wf.SigVerifier = func(tx *txtypes.Transaction, validatorID string) bool { return false }

	tx := mustTx(t, `{"type":"utxo","from":"A","to":"B","amount":1}`)
	rawTxID, _ := wf.Submit("L1", tx, 1)

	wf.CompleteValidation("v1", rawTxID, 1_000_000)

	raw, proc, _, _ := pool.Stats()
	if raw != 1 || proc != 0 {
		t.Fatalf("expected rejected signature to leave raw untouched, got raw=%d proc=%d", raw, proc)
	}
}
