// trust.go - TrustDirectory: who may act as manufacturer or retailer.
//
// The directory holds the set of addresses authorized per product
// category. Registration and revocation are administrative operations;
// lookups on unknown addresses return false, never an error.

package charm

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

// Role distinguishes the two trusted actor kinds.
type Role string

const (
	RoleManufacturer Role = "Manufacturer"
	RoleRetailer     Role = "Retailer"
)

// TrustEntry is one directory row. Trusted may be flipped off by a
// revocation without removing the row (history stays auditable).
type TrustEntry struct {
	Address        Address   `json:"address"`
	Role           Role      `json:"role"`
	Category       string    `json:"category"`
	Trusted        bool      `json:"trusted"`
	RegisteredAt   time.Time `json:"registered_at"`
	ProductsMinted uint64    `json:"products_minted,omitempty"`
}

// TrustDirectory answers trust queries for the engine and the detector.
type TrustDirectory struct {
	mu      sync.RWMutex
	entries map[Address][]*TrustEntry
}

// NewTrustDirectory creates an empty directory.
func NewTrustDirectory() *TrustDirectory {
	return &TrustDirectory{entries: make(map[Address][]*TrustEntry)}
}

// Register adds or updates an entry. A duplicate (address, role,
// category) is idempotent: last write wins on the trusted flag.
func (d *TrustDirectory) Register(entry TrustEntry) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, e := range d.entries[entry.Address] {
		if e.Role == entry.Role && e.Category == entry.Category {
			e.Trusted = entry.Trusted
			return
		}
	}
	e := entry
	if e.RegisteredAt.IsZero() {
		e.RegisteredAt = time.Now()
	}
	d.entries[entry.Address] = append(d.entries[entry.Address], &e)
}

// Revoke marks every entry for the address untrusted. The rows remain,
// so retroactive scans can still see when the address was registered.
func (d *TrustDirectory) Revoke(addr Address) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, e := range d.entries[addr] {
		e.Trusted = false
	}
}

// IsTrusted reports whether the address is trusted for the role and
// category. Unknown addresses are simply untrusted.
func (d *TrustDirectory) IsTrusted(addr Address, role Role, category string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, e := range d.entries[addr] {
		if e.Role == role && e.Category == category && e.Trusted {
			return true
		}
	}
	return false
}

// HasRole reports whether the directory knows the address under the
// role at all, trusted or not. Transfers use this to tell retailers
// apart from plain consumers.
func (d *TrustDirectory) HasRole(addr Address, role Role) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, e := range d.entries[addr] {
		if e.Role == role {
			return true
		}
	}
	return false
}

// RecordMint bumps the mint counter on the manufacturer's entry.
func (d *TrustDirectory) RecordMint(addr Address, category string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, e := range d.entries[addr] {
		if e.Role == RoleManufacturer && e.Category == category {
			e.ProductsMinted++
			return
		}
	}
}

// Snapshot returns a copy of all entries for read-only scans.
func (d *TrustDirectory) Snapshot() []TrustEntry {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]TrustEntry, 0, len(d.entries))
	for _, list := range d.entries {
		for _, e := range list {
			out = append(out, *e)
		}
	}
	return out
}

// SaveToFile persists the directory as JSON.
func (d *TrustDirectory) SaveToFile(path string) error {
	data, err := json.MarshalIndent(d.Snapshot(), "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode trust directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write trust directory file: %w", err)
	}
	return nil
}

// LoadTrustDirectoryFromFile loads a directory persisted by SaveToFile.
func LoadTrustDirectoryFromFile(path string) (*TrustDirectory, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var entries []TrustEntry
	if err := json.NewDecoder(f).Decode(&entries); err != nil {
		return nil, fmt.Errorf("failed to decode trust directory file: %w", err)
	}
	d := NewTrustDirectory()
	for _, e := range entries {
		entry := e
		d.mu.Lock()
		d.entries[entry.Address] = append(d.entries[entry.Address], &entry)
		d.mu.Unlock()
	}
	return d, nil
}
