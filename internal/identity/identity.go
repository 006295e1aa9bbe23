// Package identity provides an optional ECDSA signature-verification
// adapter for consensus.Workflow.SigVerifier (spec §4.5: "optionally
// verifies the transaction's signature against the submitter's public
// key looked up by address"), grounded on the secp256k1 recover-and-
// verify pattern the teacher repo uses for its own transactions.
package identity

import (
	"encoding/hex"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/synnergy-cubic/cubicledger/internal/consensus"
	"github.com/synnergy-cubic/cubicledger/internal/hashutil"
	"github.com/synnergy-cubic/cubicledger/internal/txtypes"
)

// PublicKeyLookup resolves the address that signed a transaction's "from"
// field to its expected address, the way an authority/validator registry
// would. It is the collaborator spec §4.5 calls "a lookup function".
type PublicKeyLookup func(address string) (common.Address, bool)

// Verifier checks a transaction's "signature" field (65-byte hex,
// {R||S||V}) recovers to the address its "from" field names.
type Verifier struct {
	Lookup PublicKeyLookup
}

// NewVerifier builds a Verifier around the given address lookup.
func NewVerifier(lookup PublicKeyLookup) *Verifier {
	return &Verifier{Lookup: lookup}
}

// VerifySignature implements consensus.SignatureVerifier. A transaction
// with no "signature" field, a malformed one, or one that recovers to an
// address other than its declared "from" fails verification; per spec
// §4.5 this aborts the validator's completion silently rather than
// raising an error.
func (v *Verifier) VerifySignature(tx *txtypes.Transaction, validatorID string) bool {
	from, ok := tx.GetString("from")
	if !ok {
		return true // non-UTXO kinds have nothing to verify here
	}
	sigHex, ok := tx.GetString("signature")
	if !ok {
		return true // signature verification is opt-in per transaction
	}

	sig, err := hex.DecodeString(sigHex)
	if err != nil || len(sig) != 65 {
		return false
	}

	// The signature covers the transaction without its own "signature" field.
	unsigned := hashutil.NewOrderedMap()
	for _, k := range tx.Fields().Keys() {
		if k != "signature" {
			val, _ := tx.Fields().Get(k)
			unsigned.Set(k, val)
		}
	}
	hash := txtypes.FromFields(unsigned).ContentHash()
	pubKey, err := crypto.SigToPub(hash[:], sig)
	if err != nil {
		return false
	}
	if !crypto.VerifySignature(crypto.FromECDSAPub(pubKey), hash[:], sig[:64]) {
		return false
	}

	recovered := crypto.PubkeyToAddress(*pubKey)
	want := common.HexToAddress(from)
	if v.Lookup != nil {
		var found bool
		if want, found = v.Lookup(from); !found {
			return false
		}
	}
	return recovered == want
}

var _ consensus.SignatureVerifier = (&Verifier{}).VerifySignature

// IDFromAddress renders a go-ethereum address as the 16-hex short id
// convention the rest of the ledger uses (spec §4.1).
func IDFromAddress(addr common.Address) string {
	h := hashutil.ContentHash(addr.Bytes())
	return hashutil.IDPrefix(h)
}

// Identity is the decoded shape of a "identity" kind transaction (spec
// §4.2): publicKey and signature are both required fields.
type Identity struct {
	PublicKey string
	Signature string
}

// DecodeIdentity extracts the required identity fields from tx, failing
// if either is absent — Validate should already have enforced this, but
// a defensive check keeps this package usable standalone.
func DecodeIdentity(tx *txtypes.Transaction) (Identity, error) {
	pub, ok := tx.GetString("publicKey")
	if !ok {
		return Identity{}, fmt.Errorf("identity: missing publicKey")
	}
	sig, ok := tx.GetString("signature")
	if !ok {
		return Identity{}, fmt.Errorf("identity: missing signature")
	}
	return Identity{PublicKey: pub, Signature: sig}, nil
}
