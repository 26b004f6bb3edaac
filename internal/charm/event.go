// event.go - AttestationEvent and the rolling supply-chain hash chain.
//
// Events are immutable ledger entries. The supply-chain hash is a MiMC
// chain: H_0 = MiMC(claimId), H_i = MiMC(H_{i-1} || digest(event_i)).
// Any reordering or tampering changes the final hash.
//
// Each event digest splits into a public part (fields a disclosure view
// may reveal) and a secret part (actor identities, signature). The
// consistency circuit in internal/zkconsistency recomputes the same
// split, which is what lets a redacted view be bound to the full chain.
//
// All MiMC inputs are canonically encoded as BW6-761 scalar field
// elements so the native chain and the in-circuit chain agree bit for
// bit; byte strings longer than 32 bytes are pre-hashed with SHA-256 so
// nothing is silently reduced away.

package charm

import (
	"crypto/sha256"
	"fmt"
	"math/big"
	"strings"
	"time"

	fr_bw6761 "github.com/consensys/gnark-crypto/ecc/bw6-761/fr"
	mimcNative "github.com/consensys/gnark-crypto/ecc/bw6-761/fr/mimc"
)

// EventType is the kind of lifecycle event.
type EventType string

const (
	EventMint     EventType = "Mint"
	EventTransfer EventType = "Transfer"
	EventVerify   EventType = "Verify"
	EventBurn     EventType = "Burn"
)

// AttestationEvent is one immutable ledger entry. EventID is a
// monotonic per-claim sequence number assigned by the ledger on append.
type AttestationEvent struct {
	EventID      uint64    `json:"event_id"`
	ClaimID      string    `json:"claim_id"`
	Type         EventType `json:"type"`
	Actor        Address   `json:"actor"`
	Counterparty Address   `json:"counterparty,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
	PayloadHash  string    `json:"payload_hash"`
	Signature    []byte    `json:"signature,omitempty"`
}

// Serialize renders the event in its canonical wire form. The form is
// stable: changing any field changes the serialization.
func (e *AttestationEvent) Serialize() []byte {
	parts := []string{
		fmt.Sprintf("%d", e.EventID),
		e.ClaimID,
		string(e.Type),
		string(e.Actor),
		string(e.Counterparty),
		fmt.Sprintf("%d", e.Timestamp.UnixNano()),
		e.PayloadHash,
	}
	return []byte(strings.Join(parts, "|"))
}

// clone returns a copy safe to hand out of the ledger's lock.
func (e *AttestationEvent) clone() *AttestationEvent {
	dup := *e
	if e.Signature != nil {
		dup.Signature = append([]byte(nil), e.Signature...)
	}
	return &dup
}

// frEncode maps raw bytes into a canonical field-element encoding.
func frEncode(b []byte) []byte {
	if len(b) > 32 {
		s := sha256.Sum256(b)
		b = s[:]
	}
	var e fr_bw6761.Element
	e.SetBytes(b)
	enc := e.Bytes()
	return enc[:]
}

// frEncodeBig canonically encodes an already-reduced field value.
func frEncodeBig(x *big.Int) []byte {
	var e fr_bw6761.Element
	e.SetBigInt(x)
	enc := e.Bytes()
	return enc[:]
}

// mimcSum hashes a sequence of canonically-encoded chunks.
func mimcSum(chunks ...[]byte) *big.Int {
	h := mimcNative.NewMiMC()
	for _, c := range chunks {
		h.Write(frEncode(c))
	}
	return new(big.Int).SetBytes(h.Sum(nil))
}

// PublicDigest hashes the fields a disclosure view may reveal.
func (e *AttestationEvent) PublicDigest() *big.Int {
	return mimcSum(
		new(big.Int).SetUint64(e.EventID).Bytes(),
		[]byte(e.ClaimID),
		[]byte(e.Type),
		new(big.Int).SetInt64(e.Timestamp.UnixNano()).Bytes(),
		[]byte(e.PayloadHash),
	)
}

// SecretDigest hashes the fields redaction removes.
func (e *AttestationEvent) SecretDigest() *big.Int {
	return mimcSum(
		[]byte(e.Actor),
		[]byte(e.Counterparty),
		e.Signature,
	)
}

// Digest is the event's leaf in the supply-chain hash chain:
// MiMC(publicDigest || secretDigest).
func (e *AttestationEvent) Digest() *big.Int {
	h := mimcNative.NewMiMC()
	h.Write(frEncodeBig(e.PublicDigest()))
	h.Write(frEncodeBig(e.SecretDigest()))
	return new(big.Int).SetBytes(h.Sum(nil))
}

// ClaimSeed is the chain's starting value H_0 = MiMC(claimId).
func ClaimSeed(claimID string) *big.Int {
	return mimcSum([]byte(claimID))
}

// chainStep folds one digest into the rolling hash.
func chainStep(acc, digest *big.Int) *big.Int {
	h := mimcNative.NewMiMC()
	h.Write(frEncodeBig(acc))
	h.Write(frEncodeBig(digest))
	return new(big.Int).SetBytes(h.Sum(nil))
}

// ChainDigests folds a digest sequence into a rolling hash starting
// from seed. Used both for the full chain (event digests) and for the
// disclosed chain (public digests only).
func ChainDigests(seed *big.Int, digests []*big.Int) *big.Int {
	acc := seed
	for _, d := range digests {
		acc = chainStep(acc, d)
	}
	return acc
}

// SupplyChainHash recomputes the full rolling hash for an ordered event
// sequence. The result is hex-encoded for storage on the claim.
func SupplyChainHash(claimID string, events []*AttestationEvent) string {
	digests := make([]*big.Int, len(events))
	for i, ev := range events {
		digests[i] = ev.Digest()
	}
	return fmt.Sprintf("%x", ChainDigests(ClaimSeed(claimID), digests))
}

// PayloadHash hashes an operation payload for inclusion in an event.
func PayloadHash(fields ...string) string {
	chunks := make([][]byte, len(fields))
	for i, f := range fields {
		chunks[i] = []byte(f)
	}
	return fmt.Sprintf("%x", mimcSum(chunks...))
}
