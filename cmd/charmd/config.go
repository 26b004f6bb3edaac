// config.go - Configuration management for the attestation daemon
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"vericharm/internal/signer"
)

// Config represents the daemon configuration
type Config struct {
	// HTTP server
	ListenAddr string `json:"listen_addr"`

	// Protocol settings
	BurnLockDays       int `json:"burn_lock_days"`
	TimeoutSeconds     int `json:"timeout_seconds"`
	BeamTimeoutMinutes int `json:"beam_timeout_minutes"`

	// File paths
	LedgerPath string `json:"ledger_path"`
	TrustPath  string `json:"trust_path"`
	KeyDir     string `json:"key_dir"`

	// Capabilities
	Signer       signer.Config `json:"signer"`
	EnableProver bool          `json:"enable_prover"`

	// Rate limiting (per actor)
	RateLimitTokens int `json:"rate_limit_tokens"`
	RateLimitRefill int `json:"rate_limit_refill"`

	// Logging
	LogLevel string `json:"log_level"`
	LogFile  string `json:"log_file"`

	// Security
	EnableAudit  bool   `json:"enable_audit"`
	AuditLogPath string `json:"audit_log_path"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		ListenAddr:         ":8480",
		BurnLockDays:       14,
		TimeoutSeconds:     30,
		BeamTimeoutMinutes: 30,
		LedgerPath:         "ledger.json",
		TrustPath:          "trust.json",
		KeyDir:             "keys",
		Signer:             signer.Config{Backend: "dev", Address: "charmd-sealer"},
		EnableProver:       true,
		RateLimitTokens:    20,
		RateLimitRefill:    5,
		LogLevel:           "info",
		LogFile:            "charmd.log",
		EnableAudit:        true,
		AuditLogPath:       "audit.log",
	}
}

// LoadConfig loads configuration from file or creates default
func LoadConfig(configPath string) (*Config, error) {
	// Try to load from file
	if _, err := os.Stat(configPath); err == nil {
		file, err := os.Open(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open config file: %w", err)
		}
		defer file.Close()

		var config Config
		if err := json.NewDecoder(file).Decode(&config); err != nil {
			return nil, fmt.Errorf("failed to decode config file: %w", err)
		}

		return &config, nil
	}

	// Create default config and save it
	config := DefaultConfig()
	if err := SaveConfig(config, configPath); err != nil {
		return nil, fmt.Errorf("failed to save default config: %w", err)
	}

	return config, nil
}

// SaveConfig saves configuration to file
func SaveConfig(config *Config, configPath string) error {
	// Ensure directory exists
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	file, err := os.Create(configPath)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(config); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	return nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("listen_addr must not be empty")
	}
	if c.BurnLockDays < 0 {
		return fmt.Errorf("burn_lock_days must not be negative")
	}
	if c.TimeoutSeconds <= 0 {
		return fmt.Errorf("timeout_seconds must be positive")
	}
	if c.BeamTimeoutMinutes <= 0 {
		return fmt.Errorf("beam_timeout_minutes must be positive")
	}
	if c.LedgerPath == "" {
		return fmt.Errorf("ledger_path must not be empty")
	}
	if c.TrustPath == "" {
		return fmt.Errorf("trust_path must not be empty")
	}
	if c.RateLimitTokens <= 0 {
		return fmt.Errorf("rate_limit_tokens must be positive")
	}
	if c.RateLimitRefill <= 0 {
		return fmt.Errorf("rate_limit_refill must be positive")
	}
	if c.Signer.Backend == "" {
		return fmt.Errorf("signer.backend must not be empty")
	}
	return nil
}
