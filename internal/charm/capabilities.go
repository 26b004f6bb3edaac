// capabilities.go - Interfaces to external collaborators.
//
// Wallet signing, zero-knowledge proof arithmetic, and historical
// indexing are delegated to external services. The core talks to them
// through these capabilities only, always under a bounded timeout:
// a hung dependency surfaces as ErrExternalTimeout, never as a stall.

package charm

import (
	"context"
	"errors"
	"math/big"
	"time"
)

// Signer is the wallet capability. The core never stores private keys.
type Signer interface {
	Sign(ctx context.Context, payload []byte) ([]byte, error)
	Address() Address
}

// ProofBundle is the opaque result of a consistency proof.
type ProofBundle struct {
	Proof           []byte   `json:"proof"`
	PublicSignals   []string `json:"public_signals"`
	VerificationKey []byte   `json:"verification_key"`
}

// ConsistencyRequest carries the inputs for a consistency proof: the
// chain seed, the two public roots, and the per-event digest split.
type ConsistencyRequest struct {
	ClaimSeed     *big.Int
	HistoryRoot   *big.Int
	DisclosedRoot *big.Int
	PublicDigests []*big.Int
	SecretDigests []*big.Int
}

// ConsistencyProver is the external proof capability. ProveConsistency
// binds the disclosed public fields to a hash of the full original
// sequence without revealing the redacted values.
type ConsistencyProver interface {
	ProveConsistency(ctx context.Context, req ConsistencyRequest) (*ProofBundle, error)
	VerifyProof(ctx context.Context, bundle *ProofBundle) (bool, error)
}

// Indexer is the external indexing/query service. The core defines the
// filter semantics; the collaborator owns the historical data.
type Indexer interface {
	QueryClaims(ctx context.Context, filter ClaimFilter) ([]*ProductClaim, error)
}

// Clock abstracts time so warranty and lock windows are testable.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock is the wall-clock used outside tests.
var SystemClock Clock = systemClock{}

// callBounded runs fn under a deadline. A timeout is a recoverable
// failure (ErrExternalTimeout), not a crash; fn's own error passes
// through unchanged.
func callBounded(ctx context.Context, timeout time.Duration, fn func(ctx context.Context) error) error {
	if timeout <= 0 {
		return fn(ctx)
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- fn(ctx) }()
	select {
	case err := <-done:
		if errors.Is(err, context.DeadlineExceeded) {
			return ErrExternalTimeout
		}
		return err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return ErrExternalTimeout
		}
		return ctx.Err()
	}
}
