package charm

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrustDirectory(t *testing.T) {
	t.Run("Register And Lookup", func(t *testing.T) {
		d := NewTrustDirectory()
		d.Register(TrustEntry{Address: "0xMaker", Role: RoleManufacturer, Category: "watches", Trusted: true})

		assert.True(t, d.IsTrusted("0xMaker", RoleManufacturer, "watches"))
		assert.False(t, d.IsTrusted("0xMaker", RoleManufacturer, "shoes"), "trust is per category")
		assert.False(t, d.IsTrusted("0xMaker", RoleRetailer, "watches"), "trust is per role")
		assert.False(t, d.IsTrusted("0xUnknown", RoleManufacturer, "watches"))
	})

	t.Run("Last Write Wins", func(t *testing.T) {
		d := NewTrustDirectory()
		d.Register(TrustEntry{Address: "0xMaker", Role: RoleManufacturer, Category: "watches", Trusted: true})
		d.Register(TrustEntry{Address: "0xMaker", Role: RoleManufacturer, Category: "watches", Trusted: false})

		assert.False(t, d.IsTrusted("0xMaker", RoleManufacturer, "watches"))
		assert.Len(t, d.Snapshot(), 1, "re-registration must not duplicate the row")
	})

	t.Run("Revocation Keeps The Row", func(t *testing.T) {
		d := NewTrustDirectory()
		d.Register(TrustEntry{Address: "0xMaker", Role: RoleManufacturer, Category: "watches", Trusted: true})
		d.Register(TrustEntry{Address: "0xMaker", Role: RoleRetailer, Category: "watches", Trusted: true})

		d.Revoke("0xMaker")
		assert.False(t, d.IsTrusted("0xMaker", RoleManufacturer, "watches"))
		assert.False(t, d.IsTrusted("0xMaker", RoleRetailer, "watches"))
		assert.Len(t, d.Snapshot(), 2, "revocation flips the flag, it does not delete")
		assert.True(t, d.HasRole("0xMaker", RoleRetailer), "role knowledge survives revocation")
	})

	t.Run("Mint Counter", func(t *testing.T) {
		d := NewTrustDirectory()
		d.Register(TrustEntry{Address: "0xMaker", Role: RoleManufacturer, Category: "watches", Trusted: true})
		d.RecordMint("0xMaker", "watches")
		d.RecordMint("0xMaker", "watches")

		snap := d.Snapshot()
		require.Len(t, snap, 1)
		assert.Equal(t, uint64(2), snap[0].ProductsMinted)
	})
}

func TestTrustDirectoryPersistence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trust.json")

	d := NewTrustDirectory()
	d.Register(TrustEntry{Address: "0xMaker", Role: RoleManufacturer, Category: "watches", Trusted: true})
	d.Register(TrustEntry{Address: "0xShop", Role: RoleRetailer, Category: "watches", Trusted: true})
	require.NoError(t, d.SaveToFile(path))

	loaded, err := LoadTrustDirectoryFromFile(path)
	require.NoError(t, err)
	assert.True(t, loaded.IsTrusted("0xMaker", RoleManufacturer, "watches"))
	assert.True(t, loaded.IsTrusted("0xShop", RoleRetailer, "watches"))
	assert.Len(t, loaded.Snapshot(), 2)
}
