// main.go - End-to-end product authenticity scenario.
//
// This demonstrates the complete claim lifecycle:
//   - A manufacturer and a retailer register in the trust directory
//   - The manufacturer mints a claim for a luxury watch
//   - The claim moves manufacturer -> retailer -> consumer
//   - The consumer verifies authenticity
//   - A disclosure view of the history is produced with a zero-knowledge
//     consistency commitment
//   - The consumer burns the claim for a raffle entry after the burn
//     lock elapses
//   - The counterfeit detector scans the ledger
//
// Usage:
//   go run main.go
//
// Architecture:
//   - All events are appended to a single ledger.json file (append-only)
//   - The trust directory lives in trust.json
//   - Groth16 keys for the consistency circuit are cached under keys/

package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"vericharm/internal/charm"
	"vericharm/internal/signer"
	"vericharm/internal/zkconsistency"
)

// demoClock lets the scenario skip forward through warranty and burn
// lock windows without sleeping.
type demoClock struct{ now time.Time }

func (c *demoClock) Now() time.Time   { return c.now }
func (c *demoClock) advance(days int) { c.now = c.now.AddDate(0, 0, days) }

func main() {
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger()
	ctx := context.Background()

	log.Info().Msg("=== Product Authenticity Protocol: Full Lifecycle Scenario ===")

	// 1. Setup: trust directory, ledger, signer, engine
	const (
		manufacturer = charm.Address("0xLuxWatchCo")
		retailer     = charm.Address("0xTimeBoutique")
		consumer     = charm.Address("0xAlice")
	)

	trust := charm.NewTrustDirectory()
	trust.Register(charm.TrustEntry{Address: manufacturer, Role: charm.RoleManufacturer, Category: "watches", Trusted: true})
	trust.Register(charm.TrustEntry{Address: retailer, Role: charm.RoleRetailer, Category: "watches", Trusted: true})

	ledgerPath := "ledger.json"
	ledger, err := charm.LoadLedgerFromFile(ledgerPath)
	if err != nil {
		ledger = charm.NewLedger()
	}

	sealer, err := signer.New(signer.Config{Backend: "dev", Address: "demo-sealer"})
	if err != nil {
		log.Fatal().Err(err).Msg("signer setup failed")
	}

	clock := &demoClock{now: time.Now()}
	engine := charm.NewEngine(ledger, trust,
		charm.WithSigner(sealer),
		charm.WithClock(clock),
		charm.WithExternalTimeout(30*time.Second),
		charm.WithLogger(log),
	)

	// 2. Mint: the digital twin of one physical watch
	product := charm.ProductData{
		Name:         "Chronograph ref. 5711",
		Category:     "watches",
		SerialNumber: "LW-2026-000417",
		BatchID:      "B-0114",
	}
	claim, err := engine.Mint(ctx, product, manufacturer, 365)
	if err != nil {
		log.Fatal().Err(err).Msg("mint failed")
	}
	log.Info().Str("claim_id", claim.ClaimID).Msg("claim minted")

	// 3. Supply chain: manufacturer -> retailer -> consumer
	if err := engine.Transfer(ctx, claim.ClaimID, manufacturer, retailer, []byte("shipment-7781")); err != nil {
		log.Fatal().Err(err).Msg("transfer to retailer failed")
	}
	if err := engine.Transfer(ctx, claim.ClaimID, retailer, consumer, []byte("receipt-2219")); err != nil {
		log.Fatal().Err(err).Msg("sale to consumer failed")
	}

	// 4. The consumer verifies the watch
	verdict, err := engine.Verify(ctx, claim.ClaimID, "qr_scan")
	if err != nil {
		log.Fatal().Err(err).Msg("verification failed")
	}
	log.Info().Bool("authentic", verdict.IsAuthentic).Bool("in_warranty", verdict.WithinWarranty).
		Bool("chain_valid", verdict.SupplyChainValid).Msg("verification verdict")

	// 5. Disclosure: redacted history with a consistency commitment
	prover, err := zkconsistency.NewProver("keys")
	if err != nil {
		log.Fatal().Err(err).Msg("prover setup failed")
	}
	redactor := charm.NewRedactor(prover, 2*time.Minute, log)
	policy := charm.DefaultPolicy()
	policy.RequireProof = true

	view, err := redactor.Redact(ctx, claim.ClaimID, ledger.Events(claim.ClaimID), policy)
	if err != nil {
		log.Fatal().Err(err).Msg("redaction failed")
	}
	log.Info().Bool("privacy_applied", view.PrivacyApplied).
		Int("events", len(view.Entries)).Msg("disclosure view produced")
	if view.Commitment != nil {
		ok, err := prover.VerifyProof(ctx, view.Commitment)
		if err != nil {
			log.Fatal().Err(err).Msg("commitment verification errored")
		}
		log.Info().Bool("valid", ok).Msg("consistency commitment verified")
	}

	// 6. Burn: rejected inside the lock window, accepted after
	if _, err := engine.Burn(ctx, claim.ClaimID, consumer, charm.BurnRaffleEntry); err != nil {
		log.Warn().Err(err).Msg("burn rejected inside lock window (expected)")
	}
	clock.advance(charm.DefaultBurnLockDays + 1)
	receipt, err := engine.Burn(ctx, claim.ClaimID, consumer, charm.BurnRaffleEntry)
	if err != nil {
		log.Fatal().Err(err).Msg("burn failed")
	}
	log.Info().Str("entry_id", receipt.RaffleEntry.EntryID).Msg("claim burned; raffle entry issued")

	// 7. Detector sweep over the whole ledger
	detector := charm.NewDetector(ledger, trust)
	reports, err := detector.Scan(ctx, charm.ScanCriteria{})
	if err != nil {
		log.Fatal().Err(err).Msg("detector scan failed")
	}
	for _, r := range reports {
		log.Warn().Str("pattern", r.Pattern).Str("severity", string(r.Severity)).
			Strs("claims", r.ClaimIDs).Msg(r.Detail)
	}
	if len(reports) == 0 {
		log.Info().Msg("detector found no suspicious activity")
	}

	// 8. Persist state
	if err := ledger.SaveToFile(ledgerPath); err != nil {
		log.Fatal().Err(err).Msg("ledger save failed")
	}
	if err := trust.SaveToFile("trust.json"); err != nil {
		log.Fatal().Err(err).Msg("trust directory save failed")
	}

	fmt.Printf("\n=== Scenario Complete ===\n")
	fmt.Printf("Claim: %s\n", claim.ClaimID)
	fmt.Printf("Final supply-chain hash: %s\n", mustClaim(ledger, claim.ClaimID).SupplyChainHash)
	fmt.Printf("Events recorded: %d\n", len(ledger.Events(claim.ClaimID)))
}

func mustClaim(ledger *charm.Ledger, id string) *charm.ProductClaim {
	c, err := ledger.Claim(id)
	if err != nil {
		panic(err)
	}
	return c
}
