// beam.go - Cross-chain beam bookkeeping.
//
// Settlement itself happens on external chains; the core only tracks
// beam records and converts a reported-complete settlement into a
// Transfer event through the engine. A beam that misses its deadline
// expires without touching the claim.

package charm

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// BeamStatus is the settlement progress of a beam record.
type BeamStatus string

const (
	BeamInitiated BeamStatus = "Initiated"
	BeamCompleted BeamStatus = "Completed"
	BeamExpired   BeamStatus = "Expired"
)

// BeamRecord tracks one cross-chain movement of a claim.
type BeamRecord struct {
	BeamID      string     `json:"beam_id"`
	ClaimID     string     `json:"claim_id"`
	SourceChain string     `json:"source_chain"`
	TargetChain string     `json:"target_chain"`
	Holder      Address    `json:"holder"`
	InitiatedAt time.Time  `json:"initiated_at"`
	Deadline    time.Time  `json:"deadline"`
	Status      BeamStatus `json:"status"`
}

// BeamManager owns the beam records table.
type BeamManager struct {
	mu      sync.Mutex
	engine  *Engine
	clock   Clock
	records map[string]*BeamRecord
	timeout time.Duration
}

// NewBeamManager builds a beam manager; timeout is how long a beam may
// stay in flight before it can be expired.
func NewBeamManager(engine *Engine, timeout time.Duration) *BeamManager {
	return &BeamManager{
		engine:  engine,
		clock:   SystemClock,
		records: make(map[string]*BeamRecord),
		timeout: timeout,
	}
}

// WithBeamClock replaces the wall clock (tests).
func (m *BeamManager) WithBeamClock(c Clock) *BeamManager {
	m.clock = c
	return m
}

// InitiateBeam opens a beam record for the claim. The claim must exist,
// be non-terminal, and be held by the caller.
func (m *BeamManager) InitiateBeam(claimID string, holder Address, sourceChain, targetChain string) (*BeamRecord, error) {
	const op = "beam.initiate"
	claim, err := m.engine.Ledger().Claim(claimID)
	if err != nil {
		return nil, opErr(op, ErrUnknownClaim)
	}
	if claim.Terminal() {
		return nil, opErr(op, ErrTerminalState)
	}
	if claim.CurrentHolder != holder {
		return nil, opErr(op, ErrNotHolder)
	}

	now := m.clock.Now()
	rec := &BeamRecord{
		BeamID:      uuid.New().String(),
		ClaimID:     claimID,
		SourceChain: sourceChain,
		TargetChain: targetChain,
		Holder:      holder,
		InitiatedAt: now,
		Deadline:    now.Add(m.timeout),
		Status:      BeamInitiated,
	}
	m.mu.Lock()
	m.records[rec.BeamID] = rec
	m.mu.Unlock()
	return copyBeam(rec), nil
}

// CompleteBeam records the settled transfer reported by the settlement
// collaborator. Only then does the claim actually move.
func (m *BeamManager) CompleteBeam(ctx context.Context, beamID string, newHolder Address, settlementProof []byte) error {
	const op = "beam.complete"
	m.mu.Lock()
	rec, ok := m.records[beamID]
	if !ok {
		m.mu.Unlock()
		return validationErr(op, "no beam record with id %q", beamID)
	}
	if rec.Status != BeamInitiated {
		m.mu.Unlock()
		return validationErr(op, "beam %q is %s, not in flight", beamID, rec.Status)
	}
	m.mu.Unlock()

	if err := m.engine.Transfer(ctx, rec.ClaimID, rec.Holder, newHolder, settlementProof); err != nil {
		return err
	}

	m.mu.Lock()
	rec.Status = BeamCompleted
	m.mu.Unlock()
	return nil
}

// ExpireBeams marks every in-flight beam past its deadline as expired
// and returns the affected records.
func (m *BeamManager) ExpireBeams() []*BeamRecord {
	now := m.clock.Now()
	m.mu.Lock()
	defer m.mu.Unlock()
	var expired []*BeamRecord
	for _, rec := range m.records {
		if rec.Status == BeamInitiated && now.After(rec.Deadline) {
			rec.Status = BeamExpired
			expired = append(expired, copyBeam(rec))
		}
	}
	return expired
}

// Beam returns a copy of one beam record.
func (m *BeamManager) Beam(beamID string) (*BeamRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[beamID]
	if !ok {
		return nil, false
	}
	return copyBeam(rec), true
}

func copyBeam(rec *BeamRecord) *BeamRecord {
	dup := *rec
	return &dup
}
