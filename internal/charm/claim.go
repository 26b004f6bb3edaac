// claim.go - ProductClaim type and claim identifier derivation.
//
// A ProductClaim is the digital twin of one physical product instance.
// Its identifier is derived from a cryptographic hash so that claim ids
// are unforgeable and unguessable, never sequential.

package charm

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Address identifies a protocol actor (manufacturer, retailer, consumer).
type Address string

// ClaimState is the lifecycle state of a ProductClaim.
// Verified is an overlay status tracked on the claim, not a state of its
// own: a claim can be verified any number of times while non-terminal.
type ClaimState string

const (
	StateMinted      ClaimState = "Minted"
	StateTransferred ClaimState = "Transferred"
	StateBurned      ClaimState = "Burned"
)

// ProductData describes the physical product behind a claim.
// Immutable after mint.
type ProductData struct {
	Name         string `json:"name"`
	Category     string `json:"category"`
	SerialNumber string `json:"serial_number"`
	BatchID      string `json:"batch_id"`
}

// Validate rejects malformed product data before any state change.
func (p ProductData) Validate() error {
	if p.Name == "" {
		return validationErr("product", "name must not be empty")
	}
	if p.Category == "" {
		return validationErr("product", "category must not be empty")
	}
	if p.SerialNumber == "" {
		return validationErr("product", "serial number must not be empty")
	}
	return nil
}

// ProductClaim represents one physical product's digital twin.
// ClaimID, Product, Issuer, MintTimestamp and WarrantyPeriodDays are
// immutable after mint; CurrentHolder changes only on a successful
// transfer; SupplyChainHash rolls forward on every appended event.
type ProductClaim struct {
	ClaimID            string      `json:"claim_id"`
	Product            ProductData `json:"product"`
	Issuer             Address     `json:"issuer"`
	CurrentHolder      Address     `json:"current_holder"`
	MintTimestamp      time.Time   `json:"mint_timestamp"`
	WarrantyPeriodDays int         `json:"warranty_period_days"`
	State              ClaimState  `json:"state"`
	Verified           bool        `json:"verified"`
	SupplyChainHash    string      `json:"supply_chain_hash"`
	BurnedAt           *time.Time  `json:"burned_at,omitempty"`
}

// WarrantyExpiry derives the end of the warranty window.
func (c *ProductClaim) WarrantyExpiry() time.Time {
	return c.MintTimestamp.AddDate(0, 0, c.WarrantyPeriodDays)
}

// InWarranty reports whether the claim is within its warranty window.
func (c *ProductClaim) InWarranty(now time.Time) bool {
	return !now.After(c.WarrantyExpiry())
}

// Terminal reports whether the claim admits further transitions.
func (c *ProductClaim) Terminal() bool {
	return c.State == StateBurned
}

// clone returns a copy safe to hand out of the ledger's lock.
func (c *ProductClaim) clone() *ProductClaim {
	dup := *c
	if c.BurnedAt != nil {
		t := *c.BurnedAt
		dup.BurnedAt = &t
	}
	return &dup
}

// NewClaimID derives an unguessable claim identifier from the issuer,
// serial number, mint time and a random nonce.
func NewClaimID(issuer Address, serial string, at time.Time) string {
	h := sha256.New()
	h.Write([]byte(issuer))
	h.Write([]byte(serial))
	h.Write([]byte(fmt.Sprintf("%d", at.UnixNano())))
	nonce := uuid.New()
	h.Write(nonce[:])
	return hex.EncodeToString(h.Sum(nil))
}

// BurnReason records why a holder retired a claim.
type BurnReason string

const (
	BurnRaffleEntry   BurnReason = "RaffleEntry"
	BurnProductReturn BurnReason = "ProductReturn"
	BurnWarrantyClaim BurnReason = "WarrantyClaim"
	BurnVoluntary     BurnReason = "Voluntary"
)

// RaffleEntry is issued for claims burned with reason RaffleEntry.
type RaffleEntry struct {
	Participant Address   `json:"participant"`
	ClaimID     string    `json:"claim_id"`
	BurnTime    time.Time `json:"burn_time"`
	EntryID     string    `json:"entry_id"`
}

// BurnReceipt is returned by a successful burn.
type BurnReceipt struct {
	ClaimID     string       `json:"claim_id"`
	Burner      Address      `json:"burner"`
	BurnTime    time.Time    `json:"burn_time"`
	Reason      BurnReason   `json:"reason"`
	RaffleEntry *RaffleEntry `json:"raffle_entry,omitempty"`
}

// VerificationVerdict is the outcome of a verify operation.
type VerificationVerdict struct {
	ClaimID          string    `json:"claim_id"`
	IsAuthentic      bool      `json:"is_authentic"`
	WithinWarranty   bool      `json:"within_warranty"`
	Manufacturer     Address   `json:"manufacturer"`
	SupplyChainValid bool      `json:"supply_chain_valid"`
	Method           string    `json:"method"`
	VerifiedAt       time.Time `json:"verified_at"`
}
