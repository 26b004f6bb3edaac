// redactor.go - PrivacyRedactor: disclosure-safe views of event history.
//
// Queries leave the system boundary only through here. Sensitive fields
// (actor identities, contact-like fields) are replaced by a redaction
// marker; non-sensitive fields pass through unchanged. When requested,
// the view carries a zero-knowledge consistency commitment binding the
// disclosed fields to the full history hash. If the prover capability
// is unavailable the redactor falls back to the plain data and flags
// the response PrivacyApplied=false; the fallback is explicit and
// logged, never silent.

package charm

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// RedactionMarker replaces sensitive field values in disclosure views.
const RedactionMarker = "[REDACTED]"

// RedactionPolicy controls which fields are removed and whether the
// view must carry a proof of consistency.
type RedactionPolicy struct {
	SensitiveFields []string `json:"sensitive_fields"`
	Marker          string   `json:"marker"`
	RequireProof    bool     `json:"require_proof"`
}

// DefaultPolicy redacts address-like, contact and identity fields.
func DefaultPolicy() RedactionPolicy {
	return RedactionPolicy{
		SensitiveFields: []string{
			"actor", "counterparty", "holder", "issuer", "owner",
			"address", "contact", "email", "phone", "signature",
		},
		Marker: RedactionMarker,
	}
}

func (p RedactionPolicy) sensitive(field string) bool {
	for _, s := range p.SensitiveFields {
		if strings.EqualFold(s, field) {
			return true
		}
	}
	return false
}

// DisclosureEntry is one event as seen from outside the boundary.
type DisclosureEntry map[string]string

// DisclosureView is the redactor's output. When PrivacyApplied is
// false the entries are the plain, unredacted data (prover fallback).
type DisclosureView struct {
	ClaimID        string            `json:"claim_id"`
	Entries        []DisclosureEntry `json:"entries"`
	PrivacyApplied bool              `json:"privacy_applied"`
	HistoryRoot    string            `json:"history_root,omitempty"`
	DisclosedRoot  string            `json:"disclosed_root,omitempty"`
	Commitment     *ProofBundle      `json:"commitment,omitempty"`
}

// Redactor transforms event sequences into disclosure views.
type Redactor struct {
	prover  ConsistencyProver
	timeout time.Duration
	log     zerolog.Logger
}

// NewRedactor builds a redactor. The prover may be nil; proof requests
// then always take the observable fallback path.
func NewRedactor(prover ConsistencyProver, timeout time.Duration, log zerolog.Logger) *Redactor {
	return &Redactor{prover: prover, timeout: timeout, log: log}
}

// eventFields flattens an event into its named fields. Field names are
// what the sensitive-field set matches against.
func eventFields(ev *AttestationEvent) DisclosureEntry {
	entry := DisclosureEntry{
		"event_id":     fmt.Sprintf("%d", ev.EventID),
		"type":         string(ev.Type),
		"timestamp":    ev.Timestamp.UTC().Format(time.RFC3339Nano),
		"payload_hash": ev.PayloadHash,
		"actor":        string(ev.Actor),
	}
	if ev.Counterparty != "" {
		entry["counterparty"] = string(ev.Counterparty)
	}
	if len(ev.Signature) > 0 {
		entry["signature"] = fmt.Sprintf("%x", ev.Signature)
	}
	return entry
}

// Redact produces a disclosure-safe view of an ordered event sequence.
func (r *Redactor) Redact(ctx context.Context, claimID string, events []*AttestationEvent, policy RedactionPolicy) (*DisclosureView, error) {
	if policy.Marker == "" {
		policy.Marker = RedactionMarker
	}

	entries := make([]DisclosureEntry, len(events))
	for i, ev := range events {
		fields := eventFields(ev)
		for name := range fields {
			if policy.sensitive(name) {
				fields[name] = policy.Marker
			}
		}
		entries[i] = fields
	}

	view := &DisclosureView{
		ClaimID:        claimID,
		Entries:        entries,
		PrivacyApplied: true,
	}

	if !policy.RequireProof {
		return view, nil
	}

	bundle, roots, err := r.proveConsistency(ctx, claimID, events)
	if err != nil {
		// Explicit, observable fallback: plain data, flag down.
		r.log.Warn().Err(err).Str("claim_id", claimID).
			Msg("consistency prover unavailable; returning plain view")
		plain := make([]DisclosureEntry, len(events))
		for i, ev := range events {
			plain[i] = eventFields(ev)
		}
		return &DisclosureView{
			ClaimID:        claimID,
			Entries:        plain,
			PrivacyApplied: false,
		}, nil
	}

	view.Commitment = bundle
	view.HistoryRoot = fmt.Sprintf("%x", roots[0])
	view.DisclosedRoot = fmt.Sprintf("%x", roots[1])
	return view, nil
}

// proveConsistency asks the external prover to bind the disclosed
// public digests to the full history chain.
func (r *Redactor) proveConsistency(ctx context.Context, claimID string, events []*AttestationEvent) (*ProofBundle, [2]*big.Int, error) {
	var roots [2]*big.Int
	if r.prover == nil {
		return nil, roots, externalErr("redact", fmt.Errorf("no prover configured"))
	}

	seed := ClaimSeed(claimID)
	pubs := make([]*big.Int, len(events))
	secs := make([]*big.Int, len(events))
	full := make([]*big.Int, len(events))
	for i, ev := range events {
		pubs[i] = ev.PublicDigest()
		secs[i] = ev.SecretDigest()
		full[i] = ev.Digest()
	}
	roots[0] = ChainDigests(seed, full)
	roots[1] = ChainDigests(seed, pubs)

	req := ConsistencyRequest{
		ClaimSeed:     seed,
		HistoryRoot:   roots[0],
		DisclosedRoot: roots[1],
		PublicDigests: pubs,
		SecretDigests: secs,
	}

	var bundle *ProofBundle
	err := callBounded(ctx, r.timeout, func(ctx context.Context) error {
		b, err := r.prover.ProveConsistency(ctx, req)
		if err != nil {
			return err
		}
		bundle = b
		return nil
	})
	if err != nil {
		return nil, roots, err
	}
	return bundle, roots, nil
}
