// ledger.go - Persistent, append-only ledger of claims and attestation events.
//
// The Ledger is the single shared mutable resource of the protocol. It
// holds the claim table and the per-claim event sequences, assigns
// monotonic per-claim event ids, and persists as a single JSON file.
//
// Concurrency model: at most one in-flight mutating operation per claim,
// enforced by a per-claim lock handed to the engine; readers take a
// snapshot under a brief shared lock and then proceed without holding it.
// Append is atomic: a rejected operation is simply never appended.

package charm

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
)

// Ledger is the append-only record of all claims and their events.
type Ledger struct {
	mu     sync.RWMutex
	claims map[string]*ProductClaim
	events map[string][]*AttestationEvent

	lockMu     sync.Mutex
	claimLocks map[string]*sync.Mutex
}

// NewLedger creates a new, empty ledger.
func NewLedger() *Ledger {
	return &Ledger{
		claims:     make(map[string]*ProductClaim),
		events:     make(map[string][]*AttestationEvent),
		claimLocks: make(map[string]*sync.Mutex),
	}
}

// LockClaim acquires the exclusive mutation lock for a claim id.
// Mint locks the id it is about to create; transfer and burn lock the
// existing id. The caller must call the returned unlock function.
func (l *Ledger) LockClaim(claimID string) func() {
	l.lockMu.Lock()
	lock, ok := l.claimLocks[claimID]
	if !ok {
		lock = &sync.Mutex{}
		l.claimLocks[claimID] = lock
	}
	l.lockMu.Unlock()
	lock.Lock()
	return lock.Unlock
}

// Claim returns a copy of the claim, or ErrUnknownClaim.
func (l *Ledger) Claim(claimID string) (*ProductClaim, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	c, ok := l.claims[claimID]
	if !ok {
		return nil, ErrUnknownClaim
	}
	return c.clone(), nil
}

// Events returns a snapshot copy of the claim's ordered event sequence.
func (l *Ledger) Events(claimID string) []*AttestationEvent {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.eventsLocked(claimID)
}

// ClaimWithEvents returns the claim copy together with its event
// snapshot from a single critical section. Callers that recompute the
// supply-chain hash must use this: reading the claim and the events in
// two separate sections lets a concurrent append land between them and
// tear the pair.
func (l *Ledger) ClaimWithEvents(claimID string) (*ProductClaim, []*AttestationEvent, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	c, ok := l.claims[claimID]
	if !ok {
		return nil, nil, ErrUnknownClaim
	}
	return c.clone(), l.eventsLocked(claimID), nil
}

func (l *Ledger) eventsLocked(claimID string) []*AttestationEvent {
	evs := l.events[claimID]
	out := make([]*AttestationEvent, len(evs))
	for i, ev := range evs {
		out[i] = ev.clone()
	}
	return out
}

// Claims returns a snapshot copy of every claim.
func (l *Ledger) Claims() []*ProductClaim {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]*ProductClaim, 0, len(l.claims))
	for _, c := range l.claims {
		out = append(out, c.clone())
	}
	return out
}

// HasActiveSerial reports whether a non-burned claim already exists for
// the (serialNumber, issuer) pair. Used for double-mint prevention.
func (l *Ledger) HasActiveSerial(serial string, issuer Address) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, c := range l.claims {
		if c.Product.SerialNumber == serial && c.Issuer == issuer && c.State != StateBurned {
			return true
		}
	}
	return false
}

// Append atomically records a new event and the claim row that results
// from it. The event id is assigned here (monotonic per claim), the
// supply-chain hash is rolled forward, and either everything is applied
// or nothing is. Appending to a burned claim is refused outright.
func (l *Ledger) Append(claim *ProductClaim, ev *AttestationEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	// No exemption for burns: the burn path reads a non-terminal claim
	// under its lock, so a terminal prev here is always a violation.
	if prev, ok := l.claims[claim.ClaimID]; ok && prev.Terminal() {
		return opErr("ledger.append", ErrTerminalState)
	}

	// Two concurrent mints of one serial race on different fresh claim
	// ids, so the per-claim lock cannot arbitrate them. This check runs
	// under the table lock and is therefore the authoritative one.
	if ev.Type == EventMint {
		for id, c := range l.claims {
			if id != claim.ClaimID && c.Product.SerialNumber == claim.Product.SerialNumber &&
				c.Issuer == claim.Issuer && c.State != StateBurned {
				return opErr("ledger.append", ErrDuplicateSerial)
			}
		}
	}

	seq := l.events[claim.ClaimID]
	ev.EventID = uint64(len(seq) + 1)
	next := append(append([]*AttestationEvent(nil), seq...), ev)

	claim.SupplyChainHash = SupplyChainHash(claim.ClaimID, next)

	l.events[claim.ClaimID] = next
	l.claims[claim.ClaimID] = claim.clone()
	return nil
}

// ledgerFile is the on-disk JSON layout.
type ledgerFile struct {
	Claims map[string]*ProductClaim       `json:"claims"`
	Events map[string][]*AttestationEvent `json:"events"`
}

// SaveToFile saves the ledger to a JSON file. Overwrites the file if it
// exists.
func (l *Ledger) SaveToFile(path string) error {
	l.mu.RLock()
	file := ledgerFile{Claims: l.claims, Events: l.events}
	data, err := json.MarshalIndent(file, "", "  ")
	l.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("failed to encode ledger: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write ledger file: %w", err)
	}
	return nil
}

// LoadLedgerFromFile loads the ledger from a JSON file.
// Returns an error if the file is invalid or cannot be read.
func LoadLedgerFromFile(path string) (*Ledger, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var file ledgerFile
	if err := json.NewDecoder(f).Decode(&file); err != nil {
		return nil, fmt.Errorf("failed to decode ledger file: %w", err)
	}
	l := NewLedger()
	if file.Claims != nil {
		l.claims = file.Claims
	}
	if file.Events != nil {
		l.events = file.Events
	}
	return l, nil
}
