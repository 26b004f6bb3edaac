package charm

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) AdvanceDays(days int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.AddDate(0, 0, days)
}

// stubSigner seals with a fixed tag, or blocks to simulate a hung
// wallet service.
type stubSigner struct {
	addr  Address
	block time.Duration
	fail  error
}

func (s *stubSigner) Address() Address { return s.addr }

func (s *stubSigner) Sign(ctx context.Context, payload []byte) ([]byte, error) {
	if s.block > 0 {
		select {
		case <-time.After(s.block):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if s.fail != nil {
		return nil, s.fail
	}
	return append([]byte("sealed:"), payload[:4]...), nil
}

func newEngineFixture(t *testing.T, opts ...EngineOption) (*Engine, *Ledger, *TrustDirectory, *testClock) {
	t.Helper()
	trust := NewTrustDirectory()
	trust.Register(TrustEntry{Address: "0xMaker", Role: RoleManufacturer, Category: "watches", Trusted: true})
	trust.Register(TrustEntry{Address: "0xShop", Role: RoleRetailer, Category: "watches", Trusted: true})

	clock := newTestClock()
	ledger := NewLedger()
	engine := NewEngine(ledger, trust, append([]EngineOption{WithClock(clock)}, opts...)...)
	return engine, ledger, trust, clock
}

func fixtureProduct(serial string) ProductData {
	return ProductData{Name: "Watch", Category: "watches", SerialNumber: serial, BatchID: "B-1"}
}

func TestEngineVerify(t *testing.T) {
	t.Run("Verify Appends An Audit Event", func(t *testing.T) {
		engine, ledger, _, _ := newEngineFixture(t)
		ctx := context.Background()

		claim, err := engine.Mint(ctx, fixtureProduct("S-1"), "0xMaker", 30)
		require.NoError(t, err)

		_, err = engine.Verify(ctx, claim.ClaimID, "qr_scan")
		require.NoError(t, err)

		events := ledger.Events(claim.ClaimID)
		require.Len(t, events, 2)
		assert.Equal(t, EventVerify, events[1].Type)

		current, err := ledger.Claim(claim.ClaimID)
		require.NoError(t, err)
		assert.True(t, current.Verified)
		assert.NotEqual(t, StateBurned, current.State, "verify never changes the lifecycle state")
	})

	t.Run("Verify On Burned Claim Returns A Verdict But No Event", func(t *testing.T) {
		engine, ledger, _, clock := newEngineFixture(t)
		ctx := context.Background()

		claim, err := engine.Mint(ctx, fixtureProduct("S-2"), "0xMaker", 30)
		require.NoError(t, err)
		clock.AdvanceDays(DefaultBurnLockDays + 1)
		_, err = engine.Burn(ctx, claim.ClaimID, "0xMaker", BurnVoluntary)
		require.NoError(t, err)

		before := len(ledger.Events(claim.ClaimID))
		verdict, err := engine.Verify(ctx, claim.ClaimID, "qr_scan")
		require.NoError(t, err)
		assert.True(t, verdict.IsAuthentic)
		assert.Len(t, ledger.Events(claim.ClaimID), before, "burned claims admit no further events")
	})

	t.Run("Revoked Issuer Stays Authentic Via Mint Event", func(t *testing.T) {
		engine, _, trust, _ := newEngineFixture(t)
		ctx := context.Background()

		claim, err := engine.Mint(ctx, fixtureProduct("S-3"), "0xMaker", 30)
		require.NoError(t, err)

		trust.Revoke("0xMaker")
		verdict, err := engine.Verify(ctx, claim.ClaimID, "qr_scan")
		require.NoError(t, err)
		assert.True(t, verdict.IsAuthentic, "issuer was trusted at mint time")
	})

	t.Run("Consumer Recipient Needs No Trust Entry", func(t *testing.T) {
		engine, _, _, _ := newEngineFixture(t)
		ctx := context.Background()

		claim, err := engine.Mint(ctx, fixtureProduct("S-4"), "0xMaker", 30)
		require.NoError(t, err)
		assert.NoError(t, engine.Transfer(ctx, claim.ClaimID, "0xMaker", "0xRandomConsumer", nil))
	})
}

// hookClock runs a one-shot callback on the first Now call, letting a
// test slip another operation into the middle of the one under test.
type hookClock struct {
	inner Clock
	mu    sync.Mutex
	fn    func()
}

func (c *hookClock) Now() time.Time {
	c.mu.Lock()
	fn := c.fn
	c.fn = nil
	c.mu.Unlock()
	if fn != nil {
		fn()
	}
	return c.inner.Now()
}

func TestVerifyDuringConcurrentTransfer(t *testing.T) {
	trust := NewTrustDirectory()
	trust.Register(TrustEntry{Address: "0xMaker", Role: RoleManufacturer, Category: "watches", Trusted: true})
	ledger := NewLedger()
	clock := &hookClock{inner: newTestClock()}
	engine := NewEngine(ledger, trust, WithClock(clock))
	ctx := context.Background()

	claim, err := engine.Mint(ctx, fixtureProduct("S-40"), "0xMaker", 30)
	require.NoError(t, err)

	// The transfer lands after Verify takes its snapshot and before it
	// acquires the claim lock for the audit append.
	clock.fn = func() {
		require.NoError(t, engine.Transfer(ctx, claim.ClaimID, "0xMaker", "0xAlice", nil))
	}

	verdict, err := engine.Verify(ctx, claim.ClaimID, "qr_scan")
	require.NoError(t, err)
	assert.True(t, verdict.SupplyChainValid, "a consistent snapshot never reads as tampered")
	assert.True(t, verdict.IsAuthentic)

	events := ledger.Events(claim.ClaimID)
	require.Len(t, events, 3)
	assert.Equal(t, EventVerify, events[2].Type)
	assert.Equal(t, Address("0xAlice"), events[2].Actor,
		"the audit event names the holder at append time")
}

func TestEngineSealing(t *testing.T) {
	t.Run("Events Carry The Seal", func(t *testing.T) {
		engine, ledger, _, _ := newEngineFixture(t, WithSigner(&stubSigner{addr: "0xSealer"}))
		ctx := context.Background()

		claim, err := engine.Mint(ctx, fixtureProduct("S-10"), "0xMaker", 30)
		require.NoError(t, err)

		events := ledger.Events(claim.ClaimID)
		require.Len(t, events, 1)
		assert.NotEmpty(t, events[0].Signature)
	})

	t.Run("Signer Failure Rejects The Mutation", func(t *testing.T) {
		engine, ledger, _, _ := newEngineFixture(t,
			WithSigner(&stubSigner{addr: "0xSealer", fail: errors.New("wallet offline")}))

		_, err := engine.Mint(context.Background(), fixtureProduct("S-11"), "0xMaker", 30)
		require.Error(t, err)
		assert.Equal(t, KindExternal, Kind(err))
		assert.Empty(t, ledger.Claims(), "a rejected mutation leaves no state behind")
	})

	t.Run("Hung Signer Times Out", func(t *testing.T) {
		engine, _, _, _ := newEngineFixture(t,
			WithSigner(&stubSigner{addr: "0xSealer", block: time.Second}),
			WithExternalTimeout(10*time.Millisecond))

		_, err := engine.Mint(context.Background(), fixtureProduct("S-12"), "0xMaker", 30)
		assert.ErrorIs(t, err, ErrExternalTimeout)
	})
}

func TestEngineValidation(t *testing.T) {
	engine, _, _, _ := newEngineFixture(t)
	ctx := context.Background()

	t.Run("Malformed Product", func(t *testing.T) {
		_, err := engine.Mint(ctx, ProductData{Name: "x"}, "0xMaker", 30)
		assert.Equal(t, KindValidation, Kind(err))
	})

	t.Run("Non-Positive Warranty", func(t *testing.T) {
		_, err := engine.Mint(ctx, fixtureProduct("S-20"), "0xMaker", 0)
		assert.Equal(t, KindValidation, Kind(err))
	})

	t.Run("Self Transfer", func(t *testing.T) {
		claim, err := engine.Mint(ctx, fixtureProduct("S-21"), "0xMaker", 30)
		require.NoError(t, err)
		err = engine.Transfer(ctx, claim.ClaimID, "0xMaker", "0xMaker", nil)
		assert.Equal(t, KindValidation, Kind(err))
	})

	t.Run("Empty Recipient", func(t *testing.T) {
		err := engine.Transfer(ctx, "whatever", "0xMaker", "", nil)
		assert.Equal(t, KindValidation, Kind(err))
	})
}

func TestEngineBurnReceipts(t *testing.T) {
	engine, _, _, clock := newEngineFixture(t)
	ctx := context.Background()

	t.Run("Raffle Burn Issues An Entry", func(t *testing.T) {
		claim, err := engine.Mint(ctx, fixtureProduct("S-30"), "0xMaker", 30)
		require.NoError(t, err)
		clock.AdvanceDays(DefaultBurnLockDays + 1)

		receipt, err := engine.Burn(ctx, claim.ClaimID, "0xMaker", BurnRaffleEntry)
		require.NoError(t, err)
		require.NotNil(t, receipt.RaffleEntry)
		assert.Equal(t, claim.ClaimID, receipt.RaffleEntry.ClaimID)
		assert.NotEmpty(t, receipt.RaffleEntry.EntryID)
	})

	t.Run("Return Burn Has No Entry", func(t *testing.T) {
		claim, err := engine.Mint(ctx, fixtureProduct("S-31"), "0xMaker", 30)
		require.NoError(t, err)
		clock.AdvanceDays(DefaultBurnLockDays + 1)

		receipt, err := engine.Burn(ctx, claim.ClaimID, "0xMaker", BurnProductReturn)
		require.NoError(t, err)
		assert.Nil(t, receipt.RaffleEntry)
	})
}
