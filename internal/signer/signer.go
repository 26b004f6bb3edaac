// Package signer provides wallet Signer implementations for the
// attestation engine. Backends are selected by explicit configuration,
// one implementation per backend — never by probing the runtime
// environment. Real chain-specific signature schemes live behind
// external wallet providers; the dev backend here seals payloads with
// a keyed MiMC tag so event sealing is exercisable end to end.
package signer

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"

	mimcNative "github.com/consensys/gnark-crypto/ecc/bw6-761/fr/mimc"

	"vericharm/internal/charm"
)

// Config selects and parameterizes a signer backend.
type Config struct {
	Backend string `json:"backend"` // "dev" is the only in-process backend
	Address string `json:"address"`
	Key     string `json:"key"` // hex; generated when empty
}

// New builds the configured backend.
func New(cfg Config) (charm.Signer, error) {
	switch cfg.Backend {
	case "dev":
		return newDevSigner(cfg)
	default:
		return nil, fmt.Errorf("unknown signer backend %q", cfg.Backend)
	}
}

// devSigner tags payloads with MiMC(key || payload). Not a signature
// scheme: it exists so the sealing path behaves like one in tests and
// demos while production deployments plug in an external wallet.
type devSigner struct {
	addr charm.Address
	key  []byte
}

func newDevSigner(cfg Config) (*devSigner, error) {
	if cfg.Address == "" {
		return nil, fmt.Errorf("dev signer requires an address")
	}
	var key []byte
	if cfg.Key != "" {
		k, err := hex.DecodeString(cfg.Key)
		if err != nil {
			return nil, fmt.Errorf("invalid signer key: %w", err)
		}
		key = k
	} else {
		key = make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("key generation failed: %w", err)
		}
	}
	return &devSigner{addr: charm.Address(cfg.Address), key: key}, nil
}

func (s *devSigner) Address() charm.Address { return s.addr }

func (s *devSigner) Sign(ctx context.Context, payload []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.tag(payload), nil
}

// Verify checks a tag produced by Sign with the same key.
func (s *devSigner) Verify(payload, sig []byte) bool {
	return subtle.ConstantTimeCompare(s.tag(payload), sig) == 1
}

func (s *devSigner) tag(payload []byte) []byte {
	h := mimcNative.NewMiMC()
	h.Write(frPad(s.key))
	for i := 0; i < len(payload); i += 32 {
		end := i + 32
		if end > len(payload) {
			end = len(payload)
		}
		h.Write(frPad(payload[i:end]))
	}
	return h.Sum(nil)
}

// frPad left-pads a chunk of at most 32 bytes to the MiMC block size.
func frPad(b []byte) []byte {
	block := make([]byte, mimcNative.BlockSize)
	copy(block[mimcNative.BlockSize-len(b):], b)
	return block
}
