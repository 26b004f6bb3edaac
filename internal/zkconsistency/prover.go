// prover.go - Groth16 prover/verifier for the consistency commitment.
//
// Implements the charm.ConsistencyProver capability. Keys are generated
// once and cached on disk; loading beats a fresh trusted setup by
// minutes, so the daemon reuses key files across restarts.

package zkconsistency

import (
	"bytes"
	"context"
	"fmt"
	"math/big"
	"os"
	"path/filepath"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/constraint"
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/frontend/cs/r1cs"

	"vericharm/internal/charm"
)

// Prover generates and verifies consistency commitments with Groth16
// over BW6-761 (the curve whose scalar field carries the native MiMC
// used by the supply-chain hash chain).
type Prover struct {
	ccs constraint.ConstraintSystem
	pk  groth16.ProvingKey
	vk  groth16.VerifyingKey
}

// NewProver compiles the circuit and generates or loads its keys from
// keyDir.
func NewProver(keyDir string) (*Prover, error) {
	var circuit CircuitConsistency
	ccs, err := frontend.Compile(ecc.BW6_761.ScalarField(), r1cs.NewBuilder, &circuit)
	if err != nil {
		return nil, fmt.Errorf("consistency circuit compilation failed: %w", err)
	}

	if err := os.MkdirAll(keyDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create key directory: %w", err)
	}
	pk, vk, err := SetupOrLoadKeys(ccs,
		filepath.Join(keyDir, "consistency_pk.bin"),
		filepath.Join(keyDir, "consistency_vk.bin"))
	if err != nil {
		return nil, fmt.Errorf("consistency key setup failed: %w", err)
	}
	return &Prover{ccs: ccs, pk: pk, vk: vk}, nil
}

// ProveConsistency implements charm.ConsistencyProver.
func (p *Prover) ProveConsistency(_ context.Context, req charm.ConsistencyRequest) (*charm.ProofBundle, error) {
	n := len(req.PublicDigests)
	if n != len(req.SecretDigests) {
		return nil, fmt.Errorf("digest count mismatch: %d public, %d secret", n, len(req.SecretDigests))
	}
	if n > MaxEvents {
		return nil, fmt.Errorf("history of %d events exceeds circuit capacity %d", n, MaxEvents)
	}

	assignment := &CircuitConsistency{
		ClaimSeed:     req.ClaimSeed.String(),
		HistoryRoot:   req.HistoryRoot.String(),
		DisclosedRoot: req.DisclosedRoot.String(),
	}
	for i := 0; i < MaxEvents; i++ {
		if i < n {
			assignment.PublicDigests[i] = req.PublicDigests[i].String()
			assignment.SecretDigests[i] = req.SecretDigests[i].String()
			assignment.Mask[i] = 1
		} else {
			assignment.PublicDigests[i] = 0
			assignment.SecretDigests[i] = 0
			assignment.Mask[i] = 0
		}
	}

	w, err := frontend.NewWitness(assignment, ecc.BW6_761.ScalarField())
	if err != nil {
		return nil, fmt.Errorf("witness creation failed: %w", err)
	}
	proof, err := groth16.Prove(p.ccs, p.pk, w)
	if err != nil {
		return nil, fmt.Errorf("proof generation failed: %w", err)
	}

	var proofBuf bytes.Buffer
	if _, err := proof.WriteTo(&proofBuf); err != nil {
		return nil, fmt.Errorf("proof marshaling failed: %w", err)
	}
	var vkBuf bytes.Buffer
	if _, err := p.vk.WriteTo(&vkBuf); err != nil {
		return nil, fmt.Errorf("verifying key marshaling failed: %w", err)
	}

	return &charm.ProofBundle{
		Proof: proofBuf.Bytes(),
		PublicSignals: []string{
			req.ClaimSeed.String(),
			req.HistoryRoot.String(),
			req.DisclosedRoot.String(),
		},
		VerificationKey: vkBuf.Bytes(),
	}, nil
}

// VerifyProof implements charm.ConsistencyProver. The bundle is fully
// self-contained: proof, public signals, and verifying key.
func (p *Prover) VerifyProof(_ context.Context, bundle *charm.ProofBundle) (bool, error) {
	if bundle == nil || len(bundle.PublicSignals) != 3 {
		return false, fmt.Errorf("malformed proof bundle")
	}

	signals := make([]*big.Int, 3)
	for i, s := range bundle.PublicSignals {
		v, ok := new(big.Int).SetString(s, 10)
		if !ok {
			return false, fmt.Errorf("malformed public signal %d: %q", i, s)
		}
		signals[i] = v
	}

	proof := groth16.NewProof(ecc.BW6_761)
	if _, err := proof.ReadFrom(bytes.NewReader(bundle.Proof)); err != nil {
		return false, fmt.Errorf("cannot unmarshal proof: %w", err)
	}
	vk := groth16.NewVerifyingKey(ecc.BW6_761)
	if _, err := vk.ReadFrom(bytes.NewReader(bundle.VerificationKey)); err != nil {
		return false, fmt.Errorf("cannot unmarshal verifying key: %w", err)
	}

	public := &CircuitConsistency{
		ClaimSeed:     signals[0].String(),
		HistoryRoot:   signals[1].String(),
		DisclosedRoot: signals[2].String(),
	}
	w, err := frontend.NewWitness(public, ecc.BW6_761.ScalarField(), frontend.PublicOnly())
	if err != nil {
		return false, fmt.Errorf("cannot build public witness: %w", err)
	}
	if err := groth16.Verify(proof, vk, w); err != nil {
		return false, nil
	}
	return true, nil
}

// SetupOrLoadKeys generates or loads Groth16 keys for the circuit.
// If keys exist on disk, loads them; otherwise, generates and saves
// new keys.
func SetupOrLoadKeys(ccs constraint.ConstraintSystem, pkPath, vkPath string) (groth16.ProvingKey, groth16.VerifyingKey, error) {
	pk, pkErr := LoadProvingKey(pkPath)
	vk, vkErr := LoadVerifyingKey(vkPath)
	if pkErr == nil && vkErr == nil {
		return pk, vk, nil
	}
	pk, vk, err := groth16.Setup(ccs)
	if err != nil {
		return nil, nil, err
	}
	if err := SaveProvingKey(pkPath, pk); err != nil {
		return nil, nil, err
	}
	if err := SaveVerifyingKey(vkPath, vk); err != nil {
		return nil, nil, err
	}
	return pk, vk, nil
}

// SaveProvingKey writes a proving key to disk.
func SaveProvingKey(path string, pk groth16.ProvingKey) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = pk.WriteTo(f)
	return err
}

// LoadProvingKey reads a proving key from disk.
func LoadProvingKey(path string) (groth16.ProvingKey, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	pk := groth16.NewProvingKey(ecc.BW6_761)
	_, err = pk.ReadFrom(f)
	return pk, err
}

// SaveVerifyingKey writes a verifying key to disk.
func SaveVerifyingKey(path string, vk groth16.VerifyingKey) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = vk.WriteTo(f)
	return err
}

// LoadVerifyingKey reads a verifying key from disk.
func LoadVerifyingKey(path string) (groth16.VerifyingKey, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	vk := groth16.NewVerifyingKey(ecc.BW6_761)
	_, err = vk.ReadFrom(f)
	return vk, err
}
