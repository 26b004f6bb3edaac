// engine.go - VerificationEngine: the claim lifecycle state machine.
//
// States: Minted -> Transferred -> {Transferred | Verified-overlay} -> Burned.
// Verified is an overlay, not exclusive; Burned is terminal. Every
// precondition failure rejects the operation before any state change,
// so the ledger only ever records operations that actually happened.
//
// Concurrency: mint, transfer and burn take the per-claim exclusive
// lock from the ledger; verify reads a snapshot and only touches the
// ledger for its audit append. A caller abandoning a request before the
// lock is acquired leaves no side effects.

package charm

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// DefaultBurnLockDays is the cooling-off window during which burns are
// refused to preserve return and refund rights.
const DefaultBurnLockDays = 14

// EngineOption customizes an Engine.
type EngineOption func(*Engine)

// WithClock replaces the wall clock (tests).
func WithClock(c Clock) EngineOption { return func(e *Engine) { e.clock = c } }

// WithSigner seals every appended event with the wallet capability.
func WithSigner(s Signer) EngineOption { return func(e *Engine) { e.signer = s } }

// WithBurnLock overrides the burn cooling-off window.
func WithBurnLock(days int) EngineOption { return func(e *Engine) { e.burnLockDays = days } }

// WithExternalTimeout bounds calls to external capabilities.
func WithExternalTimeout(d time.Duration) EngineOption { return func(e *Engine) { e.extTimeout = d } }

// WithLogger attaches a structured logger.
func WithLogger(log zerolog.Logger) EngineOption { return func(e *Engine) { e.log = log } }

// Engine drives the claim lifecycle against a ledger and directory.
type Engine struct {
	ledger       *Ledger
	trust        *TrustDirectory
	signer       Signer
	clock        Clock
	log          zerolog.Logger
	burnLockDays int
	extTimeout   time.Duration
}

// NewEngine builds a VerificationEngine. Ledger and directory are
// injected, never ambient state.
func NewEngine(ledger *Ledger, trust *TrustDirectory, opts ...EngineOption) *Engine {
	e := &Engine{
		ledger:       ledger,
		trust:        trust,
		clock:        SystemClock,
		log:          zerolog.Nop(),
		burnLockDays: DefaultBurnLockDays,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Ledger exposes the underlying ledger for read-only collaborators
// (detector, query service, redactor feeds).
func (e *Engine) Ledger() *Ledger { return e.ledger }

// sealEvent signs the event's canonical form when a signer is
// configured. Signing failures are external errors: the mutation is
// rejected rather than recorded unsealed.
func (e *Engine) sealEvent(ctx context.Context, ev *AttestationEvent) error {
	if e.signer == nil {
		return nil
	}
	return callBounded(ctx, e.extTimeout, func(ctx context.Context) error {
		sig, err := e.signer.Sign(ctx, ev.Serialize())
		if err != nil {
			return err
		}
		ev.Signature = sig
		return nil
	})
}

// Mint creates the digital twin for a new physical product.
// Fails with ErrUntrustedIssuer when the issuer is not a trusted
// manufacturer for the category, and with ErrDuplicateSerial when a
// non-burned claim already carries the same (serial, issuer).
func (e *Engine) Mint(ctx context.Context, product ProductData, issuer Address, warrantyPeriodDays int) (*ProductClaim, error) {
	const op = "mint"
	if err := product.Validate(); err != nil {
		return nil, err
	}
	if issuer == "" {
		return nil, validationErr(op, "issuer must not be empty")
	}
	if warrantyPeriodDays <= 0 {
		return nil, validationErr(op, "warranty period must be positive, got %d", warrantyPeriodDays)
	}

	if !e.trust.IsTrusted(issuer, RoleManufacturer, product.Category) {
		e.log.Warn().Str("issuer", string(issuer)).Str("category", product.Category).Msg("mint rejected: untrusted issuer")
		return nil, opErr(op, ErrUntrustedIssuer)
	}
	if e.ledger.HasActiveSerial(product.SerialNumber, issuer) {
		return nil, opErr(op, ErrDuplicateSerial)
	}

	now := e.clock.Now()
	claimID := NewClaimID(issuer, product.SerialNumber, now)
	unlock := e.ledger.LockClaim(claimID)
	defer unlock()

	// The id is fresh, but the serial check must hold under the lock too:
	// two concurrent mints of the same serial race on different ids.
	if e.ledger.HasActiveSerial(product.SerialNumber, issuer) {
		return nil, opErr(op, ErrDuplicateSerial)
	}

	claim := &ProductClaim{
		ClaimID:            claimID,
		Product:            product,
		Issuer:             issuer,
		CurrentHolder:      issuer,
		MintTimestamp:      now,
		WarrantyPeriodDays: warrantyPeriodDays,
		State:              StateMinted,
	}
	ev := &AttestationEvent{
		ClaimID:     claimID,
		Type:        EventMint,
		Actor:       issuer,
		Timestamp:   now,
		PayloadHash: PayloadHash(product.Name, product.Category, product.SerialNumber, product.BatchID),
	}
	if err := e.sealEvent(ctx, ev); err != nil {
		return nil, externalErr(op, err)
	}
	if err := e.ledger.Append(claim, ev); err != nil {
		return nil, err
	}
	e.trust.RecordMint(issuer, product.Category)

	e.log.Info().Str("claim_id", claimID).Str("issuer", string(issuer)).
		Str("serial", product.SerialNumber).Msg("claim minted")
	return claim.clone(), nil
}

// Transfer moves the claim to a new holder. Manufacturer-to-retailer
// legs are trust-checked; consumer transfers are exempt. The settlement
// proof is recorded opaquely in the event payload.
func (e *Engine) Transfer(ctx context.Context, claimID string, from, to Address, proof []byte) error {
	const op = "transfer"
	if to == "" {
		return validationErr(op, "recipient must not be empty")
	}
	if from == to {
		return validationErr(op, "sender and recipient are the same address")
	}

	unlock := e.ledger.LockClaim(claimID)
	defer unlock()

	claim, err := e.ledger.Claim(claimID)
	if err != nil {
		return opErr(op, ErrUnknownClaim)
	}
	if claim.Terminal() {
		return opErr(op, ErrTerminalState)
	}
	if claim.CurrentHolder != from {
		return opErr(op, ErrNotHolder)
	}
	// A recipient the directory knows as a retailer must be trusted for
	// this claim's category. Unknown recipients are consumers.
	if e.trust.HasRole(to, RoleRetailer) && !e.trust.IsTrusted(to, RoleRetailer, claim.Product.Category) {
		return opErr(op, ErrUntrustedRecipient)
	}

	now := e.clock.Now()
	ev := &AttestationEvent{
		ClaimID:      claimID,
		Type:         EventTransfer,
		Actor:        from,
		Counterparty: to,
		Timestamp:    now,
		PayloadHash:  PayloadHash(string(from), string(to), fmt.Sprintf("%x", proof)),
	}
	if err := e.sealEvent(ctx, ev); err != nil {
		return externalErr(op, err)
	}

	claim.CurrentHolder = to
	claim.State = StateTransferred
	if err := e.ledger.Append(claim, ev); err != nil {
		return err
	}

	e.log.Info().Str("claim_id", claimID).Str("from", string(from)).
		Str("to", string(to)).Msg("claim transferred")
	return nil
}

// Verify checks a claim's authenticity without mutating it. The verdict
// reports issuer trust, the warranty window, and whether the recorded
// supply-chain hash matches a fresh recompute over the event history.
// The attempt itself is auditable: a Verify event is appended unless
// the claim is already burned (terminal states admit no appends).
func (e *Engine) Verify(ctx context.Context, claimID string, method string) (*VerificationVerdict, error) {
	const op = "verify"
	// Claim and events must come from one snapshot: a concurrent append
	// between two separate reads would pair a stale hash with a newer
	// history and report tampering that never happened.
	claim, events, err := e.ledger.ClaimWithEvents(claimID)
	if err != nil {
		return nil, opErr(op, ErrUnknownClaim)
	}

	now := e.clock.Now()
	supplyChainValid := SupplyChainHash(claimID, events) == claim.SupplyChainHash
	// Trusted now, or trusted at mint time: a mint only ever succeeded
	// through a trust check, so a later revocation does not by itself
	// turn the product counterfeit. The detector flags revocations.
	issuerTrusted := e.trust.IsTrusted(claim.Issuer, RoleManufacturer, claim.Product.Category) ||
		hasMintEvent(events)

	verdict := &VerificationVerdict{
		ClaimID:          claimID,
		IsAuthentic:      issuerTrusted && supplyChainValid,
		WithinWarranty:   claim.InWarranty(now),
		Manufacturer:     claim.Issuer,
		SupplyChainValid: supplyChainValid,
		Method:           method,
		VerifiedAt:       now,
	}

	if !supplyChainValid {
		e.log.Error().Str("claim_id", claimID).Msg("supply-chain hash mismatch: possible tampering")
	}

	if !claim.Terminal() {
		unlock := e.ledger.LockClaim(claimID)
		defer unlock()
		current, err := e.ledger.Claim(claimID)
		if err == nil && !current.Terminal() {
			ev := &AttestationEvent{
				ClaimID:     claimID,
				Type:        EventVerify,
				Actor:       current.CurrentHolder,
				Timestamp:   now,
				PayloadHash: PayloadHash(method, fmt.Sprintf("%t", verdict.IsAuthentic)),
			}
			if sealErr := e.sealEvent(ctx, ev); sealErr != nil {
				return nil, externalErr(op, sealErr)
			}
			current.Verified = true
			if err := e.ledger.Append(current, ev); err != nil {
				return nil, err
			}
		}
	}

	return verdict, nil
}

// Burn retires a claim permanently. Refused before the cooling-off
// window (mint + burnLockDays) elapses, and forever after it succeeds:
// Burned is terminal.
func (e *Engine) Burn(ctx context.Context, claimID string, holder Address, reason BurnReason) (*BurnReceipt, error) {
	const op = "burn"
	unlock := e.ledger.LockClaim(claimID)
	defer unlock()

	claim, err := e.ledger.Claim(claimID)
	if err != nil {
		return nil, opErr(op, ErrUnknownClaim)
	}
	if claim.Terminal() {
		return nil, opErr(op, ErrTerminalState)
	}
	if claim.CurrentHolder != holder {
		return nil, opErr(op, ErrNotHolder)
	}
	now := e.clock.Now()
	lockEnd := claim.MintTimestamp.AddDate(0, 0, e.burnLockDays)
	if now.Before(lockEnd) {
		return nil, opErr(op, ErrWithinLockPeriod)
	}

	ev := &AttestationEvent{
		ClaimID:     claimID,
		Type:        EventBurn,
		Actor:       holder,
		Timestamp:   now,
		PayloadHash: PayloadHash(string(reason)),
	}
	if err := e.sealEvent(ctx, ev); err != nil {
		return nil, externalErr(op, err)
	}

	claim.State = StateBurned
	claim.BurnedAt = &now
	if err := e.ledger.Append(claim, ev); err != nil {
		return nil, err
	}

	receipt := &BurnReceipt{
		ClaimID:  claimID,
		Burner:   holder,
		BurnTime: now,
		Reason:   reason,
	}
	if reason == BurnRaffleEntry {
		receipt.RaffleEntry = &RaffleEntry{
			Participant: holder,
			ClaimID:     claimID,
			BurnTime:    now,
			EntryID:     PayloadHash(string(holder), claimID, fmt.Sprintf("%d", now.UnixNano())),
		}
	}

	e.log.Info().Str("claim_id", claimID).Str("holder", string(holder)).
		Str("reason", string(reason)).Msg("claim burned")
	return receipt, nil
}

// hasMintEvent reports whether the sequence opens with a Mint event.
func hasMintEvent(events []*AttestationEvent) bool {
	return len(events) > 0 && events[0].Type == EventMint
}
