// detector.go - CounterfeitDetector: read-only anomaly scans over the ledger.
//
// The detector never mutates state; it works on snapshots, so it is
// safe to run concurrently with writers. Patterns run in parallel and
// their reports are merged.

package charm

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Severity ranks a suspicious-activity report.
type Severity string

const (
	SeverityHigh   Severity = "High"
	SeverityMedium Severity = "Medium"
	SeverityLow    Severity = "Low"
)

// Scan pattern names.
const (
	PatternDuplicateSerial     = "duplicate_serial"
	PatternInvalidManufacturer = "invalid_manufacturer"
	PatternExpiredWindow       = "expired_window"
)

// AllPatterns lists every known scan pattern.
var AllPatterns = []string{PatternDuplicateSerial, PatternInvalidManufacturer, PatternExpiredWindow}

// ScanCriteria selects patterns and the ledger time range to inspect.
// Empty patterns means all; zero times mean unbounded.
type ScanCriteria struct {
	Patterns []string  `json:"patterns"`
	From     time.Time `json:"from"`
	To       time.Time `json:"to"`
}

// SuspiciousActivityReport is one detector finding.
type SuspiciousActivityReport struct {
	Pattern    string    `json:"pattern"`
	Severity   Severity  `json:"severity"`
	ClaimIDs   []string  `json:"claim_ids"`
	Actor      Address   `json:"actor,omitempty"`
	Detail     string    `json:"detail"`
	DetectedAt time.Time `json:"detected_at"`
}

// Detector scans the ledger for counterfeit indicators.
type Detector struct {
	ledger *Ledger
	trust  *TrustDirectory
	clock  Clock
}

// NewDetector builds a detector over the shared ledger and directory.
func NewDetector(ledger *Ledger, trust *TrustDirectory) *Detector {
	return &Detector{ledger: ledger, trust: trust, clock: SystemClock}
}

// WithDetectorClock replaces the detector's clock (tests).
func (d *Detector) WithDetectorClock(c Clock) *Detector {
	d.clock = c
	return d
}

func (c ScanCriteria) inRange(t time.Time) bool {
	if !c.From.IsZero() && t.Before(c.From) {
		return false
	}
	if !c.To.IsZero() && t.After(c.To) {
		return false
	}
	return true
}

func (c ScanCriteria) wants(pattern string) bool {
	if len(c.Patterns) == 0 {
		return true
	}
	for _, p := range c.Patterns {
		if p == pattern {
			return true
		}
	}
	return false
}

// Scan runs the selected patterns over a ledger snapshot and returns
// the merged reports, ordered by severity then claim id.
func (d *Detector) Scan(ctx context.Context, criteria ScanCriteria) ([]*SuspiciousActivityReport, error) {
	claims := d.ledger.Claims()

	var mu sync.Mutex
	var reports []*SuspiciousActivityReport
	collect := func(rs []*SuspiciousActivityReport) {
		mu.Lock()
		reports = append(reports, rs...)
		mu.Unlock()
	}

	g, ctx := errgroup.WithContext(ctx)
	if criteria.wants(PatternDuplicateSerial) {
		g.Go(func() error { collect(d.scanDuplicateSerials(ctx, claims, criteria)); return ctx.Err() })
	}
	if criteria.wants(PatternInvalidManufacturer) {
		g.Go(func() error { collect(d.scanInvalidManufacturers(ctx, claims, criteria)); return ctx.Err() })
	}
	if criteria.wants(PatternExpiredWindow) {
		g.Go(func() error { collect(d.scanExpiredWindows(ctx, claims, criteria)); return ctx.Err() })
	}
	if err := g.Wait(); err != nil {
		return nil, externalErr("scan", err)
	}

	sort.Slice(reports, func(i, j int) bool {
		if reports[i].Severity != reports[j].Severity {
			return severityRank(reports[i].Severity) > severityRank(reports[j].Severity)
		}
		return fmt.Sprint(reports[i].ClaimIDs) < fmt.Sprint(reports[j].ClaimIDs)
	})
	return reports, nil
}

func severityRank(s Severity) int {
	switch s {
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	default:
		return 1
	}
}

// scanDuplicateSerials flags two or more non-burned claims sharing
// (serialNumber, category) under different claim ids.
func (d *Detector) scanDuplicateSerials(_ context.Context, claims []*ProductClaim, criteria ScanCriteria) []*SuspiciousActivityReport {
	type key struct{ serial, category string }
	groups := make(map[key][]string)
	for _, c := range claims {
		if c.State == StateBurned || !criteria.inRange(c.MintTimestamp) {
			continue
		}
		k := key{c.Product.SerialNumber, c.Product.Category}
		groups[k] = append(groups[k], c.ClaimID)
	}

	var out []*SuspiciousActivityReport
	for k, ids := range groups {
		if len(ids) < 2 {
			continue
		}
		sort.Strings(ids)
		out = append(out, &SuspiciousActivityReport{
			Pattern:    PatternDuplicateSerial,
			Severity:   SeverityHigh,
			ClaimIDs:   ids,
			Detail:     fmt.Sprintf("%d active claims share serial %q in category %q", len(ids), k.serial, k.category),
			DetectedAt: d.clock.Now(),
		})
	}
	return out
}

// scanInvalidManufacturers flags mint events whose issuer is not in the
// trust directory. Checked retroactively: trust entries can be revoked
// after the fact.
func (d *Detector) scanInvalidManufacturers(_ context.Context, claims []*ProductClaim, criteria ScanCriteria) []*SuspiciousActivityReport {
	var out []*SuspiciousActivityReport
	for _, c := range claims {
		for _, ev := range d.ledger.Events(c.ClaimID) {
			if ev.Type != EventMint || !criteria.inRange(ev.Timestamp) {
				continue
			}
			if d.trust.IsTrusted(ev.Actor, RoleManufacturer, c.Product.Category) {
				continue
			}
			out = append(out, &SuspiciousActivityReport{
				Pattern:    PatternInvalidManufacturer,
				Severity:   SeverityMedium,
				ClaimIDs:   []string{c.ClaimID},
				Actor:      ev.Actor,
				Detail:     fmt.Sprintf("mint by issuer %q no longer trusted for category %q", ev.Actor, c.Product.Category),
				DetectedAt: d.clock.Now(),
			})
		}
	}
	return out
}

// scanExpiredWindows flags verification activity after the warranty
// window closed.
func (d *Detector) scanExpiredWindows(_ context.Context, claims []*ProductClaim, criteria ScanCriteria) []*SuspiciousActivityReport {
	var out []*SuspiciousActivityReport
	for _, c := range claims {
		expiry := c.WarrantyExpiry()
		for _, ev := range d.ledger.Events(c.ClaimID) {
			if ev.Type != EventVerify || !criteria.inRange(ev.Timestamp) {
				continue
			}
			if !ev.Timestamp.After(expiry) {
				continue
			}
			out = append(out, &SuspiciousActivityReport{
				Pattern:    PatternExpiredWindow,
				Severity:   SeverityLow,
				ClaimIDs:   []string{c.ClaimID},
				Actor:      ev.Actor,
				Detail:     fmt.Sprintf("verify at %s is %s past warranty expiry", ev.Timestamp.Format(time.RFC3339), ev.Timestamp.Sub(expiry)),
				DetectedAt: d.clock.Now(),
			})
		}
	}
	return out
}
