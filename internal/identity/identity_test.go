package identity

import (
	"encoding/hex"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/synnergy-cubic/cubicledger/internal/txtypes"
)

func signedUTXO(t *testing.T) (*txtypes.Transaction, string) {
	t.Helper()
	priv, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	addr := crypto.PubkeyToAddress(priv.PublicKey).Hex()

	raw := `{"type":"utxo","from":"` + addr + `","to":"B","amount":1}`
	tx, err := txtypes.FromReader(strings.NewReader(raw))
	if err != nil {
		t.Fatalf("parse tx: %v", err)
	}
	hash := tx.ContentHash()
	sig, err := crypto.Sign(hash[:], priv)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	signed := tx.WithField("signature", hex.EncodeToString(sig))
	return signed, addr
}

func TestVerifySignatureAccepts(t *testing.T) {
	tx, addr := signedUTXO(t)
	v := NewVerifier(nil)
	if !v.VerifySignature(tx, "v1") {
		t.Fatalf("expected valid signature to verify")
	}
	_ = addr
}

func TestVerifySignatureRejectsTamperedPayload(t *testing.T) {
	tx, _ := signedUTXO(t)
	tampered := tx.WithField("amount", 999)
	v := NewVerifier(nil)
	if v.VerifySignature(tampered, "v1") {
		t.Fatalf("expected tampered payload to fail verification")
	}
}

func TestVerifySignatureMissingFieldPassesThrough(t *testing.T) {
	raw := `{"type":"utxo","from":"A","to":"B","amount":1}`
	tx, err := txtypes.FromReader(strings.NewReader(raw))
	if err != nil {
		t.Fatalf("parse tx: %v", err)
	}
	v := NewVerifier(nil)
	if !v.VerifySignature(tx, "v1") {
		t.Fatalf("expected unsigned transaction to pass through unverified")
	}
}
