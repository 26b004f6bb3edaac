package zkconsistency

import (
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/std/hash/mimc"
)

// MaxEvents is the circuit's fixed history capacity. Longer histories
// cannot be proven and take the redactor's observable fallback path.
const MaxEvents = 16

// CircuitConsistency proves that a disclosed (redacted) view of an
// attestation history is a faithful excerpt of the full history.
//
// Each event digest splits into a public part (fields the view reveals)
// and a secret part (fields redaction removes). The prover shows it
// knows secret parts such that:
//
//	HistoryRoot   = chain(seed, MiMC(pub_i, sec_i) for live slots)
//	DisclosedRoot = chain(seed, pub_i for live slots)
//
// A verifier recomputes DisclosedRoot from the view's public fields and
// compares HistoryRoot against the claim's supply-chain hash, learning
// nothing about the redacted values.
type CircuitConsistency struct {
	// ====== PUBLIC VARIABLES ======
	ClaimSeed     frontend.Variable `gnark:",public"` // H_0 = MiMC(claimId)
	HistoryRoot   frontend.Variable `gnark:",public"` // full supply-chain hash
	DisclosedRoot frontend.Variable `gnark:",public"` // chain over public digests

	// ====== PRIVATE VARIABLES ======
	PublicDigests [MaxEvents]frontend.Variable
	SecretDigests [MaxEvents]frontend.Variable
	Mask          [MaxEvents]frontend.Variable // 1 for live slots, then 0 padding
}

// Define implements the consistency constraints.
func (c *CircuitConsistency) Define(api frontend.API) error {
	hasher, err := mimc.NewMiMC(api)
	if err != nil {
		return err
	}

	acc := c.ClaimSeed
	accPub := c.ClaimSeed
	prevMask := frontend.Variable(1)

	for i := 0; i < MaxEvents; i++ {
		// Mask bits are boolean and form a prefix: once a slot is
		// padding, every later slot is padding too.
		api.AssertIsBoolean(c.Mask[i])
		api.AssertIsEqual(api.Mul(c.Mask[i], prevMask), c.Mask[i])
		prevMask = c.Mask[i]

		// full_i = MiMC(pub_i, sec_i)
		hasher.Reset()
		hasher.Write(c.PublicDigests[i])
		hasher.Write(c.SecretDigests[i])
		full := hasher.Sum()

		// acc = mask ? MiMC(acc, full_i) : acc
		hasher.Reset()
		hasher.Write(acc)
		hasher.Write(full)
		acc = api.Select(c.Mask[i], hasher.Sum(), acc)

		// accPub = mask ? MiMC(accPub, pub_i) : accPub
		hasher.Reset()
		hasher.Write(accPub)
		hasher.Write(c.PublicDigests[i])
		accPub = api.Select(c.Mask[i], hasher.Sum(), accPub)
	}

	api.AssertIsEqual(acc, c.HistoryRoot)
	api.AssertIsEqual(accPub, c.DisclosedRoot)
	return nil
}
