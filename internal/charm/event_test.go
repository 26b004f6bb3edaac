package charm

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleEvent(id uint64, typ EventType) *AttestationEvent {
	return &AttestationEvent{
		EventID:      id,
		ClaimID:      "claim-abc",
		Type:         typ,
		Actor:        "0xActor",
		Counterparty: "0xOther",
		Timestamp:    time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		PayloadHash:  PayloadHash("payload"),
	}
}

func TestEventDigests(t *testing.T) {
	t.Run("Digest Determinism", func(t *testing.T) {
		ev := sampleEvent(1, EventMint)
		assert.Equal(t, 0, ev.Digest().Cmp(ev.Digest()))
		assert.Equal(t, 0, ev.PublicDigest().Cmp(ev.PublicDigest()))
		assert.Equal(t, 0, ev.SecretDigest().Cmp(ev.SecretDigest()))
	})

	t.Run("Digest Sensitivity", func(t *testing.T) {
		a := sampleEvent(1, EventMint)
		b := sampleEvent(1, EventMint)
		b.Actor = "0xSomeoneElse"

		// Actor lives in the secret digest only.
		assert.NotEqual(t, 0, a.SecretDigest().Cmp(b.SecretDigest()))
		assert.Equal(t, 0, a.PublicDigest().Cmp(b.PublicDigest()))
		assert.NotEqual(t, 0, a.Digest().Cmp(b.Digest()))

		c := sampleEvent(2, EventMint)
		assert.NotEqual(t, 0, a.PublicDigest().Cmp(c.PublicDigest()))
	})

	t.Run("Serialization Is Stable", func(t *testing.T) {
		ev := sampleEvent(3, EventTransfer)
		first := string(ev.Serialize())
		assert.Equal(t, first, string(ev.Serialize()))

		ev.Counterparty = "0xChanged"
		assert.NotEqual(t, first, string(ev.Serialize()))
	})
}

func TestSupplyChainHashChain(t *testing.T) {
	t.Run("Order Sensitivity", func(t *testing.T) {
		e1 := sampleEvent(1, EventMint)
		e2 := sampleEvent(2, EventTransfer)

		forward := SupplyChainHash("claim-abc", []*AttestationEvent{e1, e2})
		backward := SupplyChainHash("claim-abc", []*AttestationEvent{e2, e1})
		assert.NotEqual(t, forward, backward, "reordering events must change the chain hash")
	})

	t.Run("Seed Binds The Claim ID", func(t *testing.T) {
		e1 := sampleEvent(1, EventMint)
		a := SupplyChainHash("claim-abc", []*AttestationEvent{e1})
		b := SupplyChainHash("claim-xyz", []*AttestationEvent{e1})
		assert.NotEqual(t, a, b)
	})

	t.Run("Empty History Is The Seed", func(t *testing.T) {
		require.NotEmpty(t, SupplyChainHash("claim-abc", nil))
	})

	t.Run("Tampered Event Breaks Recompute", func(t *testing.T) {
		events := []*AttestationEvent{sampleEvent(1, EventMint), sampleEvent(2, EventTransfer)}
		before := SupplyChainHash("claim-abc", events)

		events[1].PayloadHash = PayloadHash("forged")
		assert.NotEqual(t, before, SupplyChainHash("claim-abc", events))
	})
}

func TestPayloadHash(t *testing.T) {
	assert.Equal(t, PayloadHash("a", "b"), PayloadHash("a", "b"))
	assert.NotEqual(t, PayloadHash("a", "b"), PayloadHash("b", "a"))
	assert.NotEmpty(t, PayloadHash())
}
