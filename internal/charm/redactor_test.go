package charm

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubProver either echoes a fixed bundle or fails, so the redactor's
// two paths can be exercised without circuit work.
type stubProver struct {
	fail    error
	lastReq ConsistencyRequest
}

func (p *stubProver) ProveConsistency(_ context.Context, req ConsistencyRequest) (*ProofBundle, error) {
	if p.fail != nil {
		return nil, p.fail
	}
	p.lastReq = req
	return &ProofBundle{
		Proof: []byte("proof"),
		PublicSignals: []string{
			req.ClaimSeed.String(), req.HistoryRoot.String(), req.DisclosedRoot.String(),
		},
		VerificationKey: []byte("vk"),
	}, nil
}

func (p *stubProver) VerifyProof(context.Context, *ProofBundle) (bool, error) {
	return p.fail == nil, p.fail
}

func redactionEvents() []*AttestationEvent {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return []*AttestationEvent{
		{EventID: 1, ClaimID: "c1", Type: EventMint, Actor: "0xMaker", Timestamp: base, PayloadHash: PayloadHash("m"), Signature: []byte{1, 2}},
		{EventID: 2, ClaimID: "c1", Type: EventTransfer, Actor: "0xMaker", Counterparty: "0xShop", Timestamp: base.Add(time.Hour), PayloadHash: PayloadHash("t")},
	}
}

func TestRedaction(t *testing.T) {
	t.Run("Sensitive Fields Are Masked", func(t *testing.T) {
		r := NewRedactor(nil, 0, zerolog.Nop())
		view, err := r.Redact(context.Background(), "c1", redactionEvents(), DefaultPolicy())
		require.NoError(t, err)

		assert.True(t, view.PrivacyApplied)
		require.Len(t, view.Entries, 2)
		assert.Equal(t, RedactionMarker, view.Entries[0]["actor"])
		assert.Equal(t, RedactionMarker, view.Entries[0]["signature"])
		assert.Equal(t, RedactionMarker, view.Entries[1]["counterparty"])

		// Non-sensitive fields pass through untouched.
		assert.Equal(t, "Mint", view.Entries[0]["type"])
		assert.NotEmpty(t, view.Entries[0]["payload_hash"])
		assert.NotEqual(t, RedactionMarker, view.Entries[0]["timestamp"])
	})

	t.Run("Custom Marker And Field Set", func(t *testing.T) {
		r := NewRedactor(nil, 0, zerolog.Nop())
		policy := RedactionPolicy{SensitiveFields: []string{"payload_hash"}, Marker: "###"}
		view, err := r.Redact(context.Background(), "c1", redactionEvents(), policy)
		require.NoError(t, err)

		assert.Equal(t, "###", view.Entries[0]["payload_hash"])
		assert.NotEqual(t, "###", view.Entries[0]["actor"], "only listed fields are masked")
	})

	t.Run("Proof Path Binds The Roots", func(t *testing.T) {
		prover := &stubProver{}
		r := NewRedactor(prover, 0, zerolog.Nop())
		policy := DefaultPolicy()
		policy.RequireProof = true

		events := redactionEvents()
		view, err := r.Redact(context.Background(), "c1", events, policy)
		require.NoError(t, err)

		assert.True(t, view.PrivacyApplied)
		require.NotNil(t, view.Commitment)
		assert.NotEmpty(t, view.HistoryRoot)
		assert.NotEmpty(t, view.DisclosedRoot)

		// The request's roots must match an independent recompute.
		seed := ClaimSeed("c1")
		full := make([]*big.Int, len(events))
		pubs := make([]*big.Int, len(events))
		for i, ev := range events {
			full[i] = ev.Digest()
			pubs[i] = ev.PublicDigest()
		}
		assert.Equal(t, 0, prover.lastReq.ClaimSeed.Cmp(seed))
		assert.Equal(t, 0, prover.lastReq.HistoryRoot.Cmp(ChainDigests(seed, full)))
		assert.Equal(t, 0, prover.lastReq.DisclosedRoot.Cmp(ChainDigests(seed, pubs)))
	})

	t.Run("Prover Failure Falls Back To Plain Data", func(t *testing.T) {
		r := NewRedactor(&stubProver{fail: errors.New("prover down")}, 0, zerolog.Nop())
		policy := DefaultPolicy()
		policy.RequireProof = true

		view, err := r.Redact(context.Background(), "c1", redactionEvents(), policy)
		require.NoError(t, err)

		assert.False(t, view.PrivacyApplied, "fallback must be flagged, never silent")
		assert.Nil(t, view.Commitment)
		assert.Equal(t, "0xMaker", view.Entries[0]["actor"], "fallback returns the plain data")
	})

	t.Run("No Prover Configured Falls Back", func(t *testing.T) {
		r := NewRedactor(nil, 0, zerolog.Nop())
		policy := DefaultPolicy()
		policy.RequireProof = true

		view, err := r.Redact(context.Background(), "c1", redactionEvents(), policy)
		require.NoError(t, err)
		assert.False(t, view.PrivacyApplied)
	})
}
