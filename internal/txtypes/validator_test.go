package txtypes

import (
	"strings"
	"testing"
)

func mustTx(t *testing.T, raw string) *Transaction {
	t.Helper()
	tx, err := FromReader(strings.NewReader(raw))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	return tx
}

func TestValidateMissingType(t *testing.T) {
	tx := mustTx(t, `{"from":"A","to":"B","amount":1}`)
	err := Validate(tx)
	if _, ok := err.(*InvalidTransactionKindError); !ok {
		t.Fatalf("expected InvalidTransactionKindError, got %v", err)
	}
}

func TestValidateUnknownKind(t *testing.T) {
	tx := mustTx(t, `{"type":"teleport"}`)
	err := Validate(tx)
	if _, ok := err.(*InvalidTransactionKindError); !ok {
		t.Fatalf("expected InvalidTransactionKindError, got %v", err)
	}
}

func TestValidateMissingRequiredField(t *testing.T) {
	tx := mustTx(t, `{"type":"utxo","from":"A","to":"B"}`)
	err := Validate(tx)
	mrf, ok := err.(*MissingRequiredFieldError)
	if !ok {
		t.Fatalf("expected MissingRequiredFieldError, got %v", err)
	}
	if mrf.Field != "amount" {
		t.Fatalf("missing field = %s, want amount", mrf.Field)
	}
}

func TestValidateAllKinds(t *testing.T) {
	cases := []string{
		`{"type":"utxo","from":"A","to":"B","amount":1}`,
		`{"type":"identity","publicKey":"pk","signature":"sig"}`,
		`{"type":"token_creation","creator":"A","tokenId":"T1"}`,
		`{"type":"contract","contractHash":"h","abi":"[]"}`,
		`{"type":"state_diff","function":"f","args":[1,2]}`,
	}
	for _, raw := range cases {
		tx := mustTx(t, raw)
		if err := Validate(tx); err != nil {
			t.Fatalf("Validate(%s) = %v, want nil", raw, err)
		}
	}
}

func TestWithFieldDoesNotMutateOriginal(t *testing.T) {
	tx := mustTx(t, `{"type":"utxo","from":"A","to":"B","amount":1}`)
	tx2 := tx.WithField("validationTimestamp", int64(42))
	if tx.Fields().Has("validationTimestamp") {
		t.Fatalf("WithField mutated the original transaction")
	}
	if !tx2.Fields().Has("validationTimestamp") {
		t.Fatalf("WithField did not set the field on the clone")
	}
}
