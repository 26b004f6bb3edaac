// Package charm implements the product-authenticity verification and
// supply-chain attestation protocol behind Veri-Charm tokens.
//
// Overview:
//   - A ProductClaim is the digital twin of one physical product instance,
//     minted once by a trusted manufacturer and transferred under
//     retailer-trust checks until it is provably burned
//   - Every lifecycle step (mint, transfer, verify, burn) is recorded as an
//     immutable AttestationEvent in an append-only ledger
//   - A rolling MiMC hash chain over the event history makes tampering and
//     reordering detectable by an O(events) recompute-and-compare
//   - The PrivacyRedactor produces disclosure-safe views of a claim's
//     history, optionally bound to the full history by a Groth16
//     consistency commitment (see internal/zkconsistency)
//   - The CounterfeitDetector runs read-only anomaly scans over the ledger
//
// Security Model:
//   - Claim identifiers are derived from SHA-256 over issuer, serial,
//     timestamp and a random nonce; they are unguessable, never sequential
//   - Serial numbers are unique per issuer among non-burned claims;
//     duplicates are rejected at mint time
//   - Burned is a terminal state: no event is ever appended afterwards
//   - Signing, proof arithmetic and indexing are opaque capabilities; the
//     core never holds private keys and never trusts an external call to
//     return (all calls are bounded by a timeout)
//
// Usage:
//   - Build an Engine with NewEngine and drive it with Mint, Transfer,
//     Verify and Burn
//   - Use Redactor.Redact before any event history leaves the system
//     boundary, and Detector.Scan for batch anomaly passes
package charm
