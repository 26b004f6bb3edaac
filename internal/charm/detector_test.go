package charm

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func detectorFixture(t *testing.T) (*Detector, *Engine, *Ledger, *TrustDirectory, *testClock) {
	t.Helper()
	engine, ledger, trust, clock := newEngineFixture(t)
	detector := NewDetector(ledger, trust).WithDetectorClock(clock)
	return detector, engine, ledger, trust, clock
}

func TestDetectorPatterns(t *testing.T) {
	t.Run("Duplicate Serials Across Issuers", func(t *testing.T) {
		detector, engine, _, trust, _ := detectorFixture(t)
		ctx := context.Background()

		// Two trusted manufacturers mint the same serial in one category.
		trust.Register(TrustEntry{Address: "0xOtherMaker", Role: RoleManufacturer, Category: "watches", Trusted: true})
		_, err := engine.Mint(ctx, fixtureProduct("S-DUP"), "0xMaker", 30)
		require.NoError(t, err)
		_, err = engine.Mint(ctx, fixtureProduct("S-DUP"), "0xOtherMaker", 30)
		require.NoError(t, err)

		reports, err := detector.Scan(ctx, ScanCriteria{Patterns: []string{PatternDuplicateSerial}})
		require.NoError(t, err)
		require.Len(t, reports, 1)
		assert.Equal(t, SeverityHigh, reports[0].Severity)
		assert.Len(t, reports[0].ClaimIDs, 2)
	})

	t.Run("Revoked Manufacturer Flagged Retroactively", func(t *testing.T) {
		detector, engine, _, trust, _ := detectorFixture(t)
		ctx := context.Background()

		claim, err := engine.Mint(ctx, fixtureProduct("S-REV"), "0xMaker", 30)
		require.NoError(t, err)
		trust.Revoke("0xMaker")

		reports, err := detector.Scan(ctx, ScanCriteria{Patterns: []string{PatternInvalidManufacturer}})
		require.NoError(t, err)
		require.Len(t, reports, 1)
		assert.Equal(t, SeverityMedium, reports[0].Severity)
		assert.Equal(t, []string{claim.ClaimID}, reports[0].ClaimIDs)
		assert.Equal(t, Address("0xMaker"), reports[0].Actor)
	})

	t.Run("Verification Past Warranty", func(t *testing.T) {
		detector, engine, _, _, clock := detectorFixture(t)
		ctx := context.Background()

		claim, err := engine.Mint(ctx, fixtureProduct("S-EXP"), "0xMaker", 7)
		require.NoError(t, err)
		clock.AdvanceDays(10)
		_, err = engine.Verify(ctx, claim.ClaimID, "qr_scan")
		require.NoError(t, err)

		reports, err := detector.Scan(ctx, ScanCriteria{Patterns: []string{PatternExpiredWindow}})
		require.NoError(t, err)
		require.Len(t, reports, 1)
		assert.Equal(t, SeverityLow, reports[0].Severity)
	})

	t.Run("Clean Ledger Yields No Reports", func(t *testing.T) {
		detector, engine, _, _, _ := detectorFixture(t)
		ctx := context.Background()
		_, err := engine.Mint(ctx, fixtureProduct("S-OK"), "0xMaker", 30)
		require.NoError(t, err)

		reports, err := detector.Scan(ctx, ScanCriteria{})
		require.NoError(t, err)
		assert.Empty(t, reports)
	})
}

func TestDetectorCriteria(t *testing.T) {
	t.Run("Time Range Filters Findings", func(t *testing.T) {
		detector, engine, _, trust, clock := detectorFixture(t)
		ctx := context.Background()

		claim, err := engine.Mint(ctx, fixtureProduct("S-T"), "0xMaker", 30)
		require.NoError(t, err)
		_ = claim
		trust.Revoke("0xMaker")

		// A window entirely after the mint finds nothing.
		criteria := ScanCriteria{
			Patterns: []string{PatternInvalidManufacturer},
			From:     clock.Now().Add(time.Hour),
		}
		reports, err := detector.Scan(ctx, criteria)
		require.NoError(t, err)
		assert.Empty(t, reports)

		// An unbounded window finds the mint.
		reports, err = detector.Scan(ctx, ScanCriteria{Patterns: []string{PatternInvalidManufacturer}})
		require.NoError(t, err)
		assert.Len(t, reports, 1)
	})

	t.Run("Reports Sorted By Severity", func(t *testing.T) {
		detector, engine, _, trust, clock := detectorFixture(t)
		ctx := context.Background()

		// High: duplicate serial. Low: verify past warranty.
		trust.Register(TrustEntry{Address: "0xOtherMaker", Role: RoleManufacturer, Category: "watches", Trusted: true})
		c1, err := engine.Mint(ctx, fixtureProduct("S-M"), "0xMaker", 7)
		require.NoError(t, err)
		_, err = engine.Mint(ctx, fixtureProduct("S-M"), "0xOtherMaker", 7)
		require.NoError(t, err)
		clock.AdvanceDays(10)
		_, err = engine.Verify(ctx, c1.ClaimID, "qr_scan")
		require.NoError(t, err)

		reports, err := detector.Scan(ctx, ScanCriteria{})
		require.NoError(t, err)
		require.GreaterOrEqual(t, len(reports), 2)
		assert.Equal(t, SeverityHigh, reports[0].Severity, "high severity findings come first")
	})
}
