// main.go - charmd: the product-authenticity attestation daemon.
//
// charmd serves the claim lifecycle (mint, transfer, verify, burn) over
// a REST API, backed by a JSON ledger file and a trust directory file.
// The consistency prover's Groth16 keys are generated on first start
// and cached under the key directory.
//
// Usage:
//   charmd serve --config charmd.json
//   charmd scan  --config charmd.json [--pattern duplicate_serial]

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"vericharm/internal/charm"
	"vericharm/internal/signer"
	"vericharm/internal/zkconsistency"
)

const version = "0.3.0"

func main() {
	var configPath string

	root := &cobra.Command{
		Use:     "charmd",
		Short:   "Product-authenticity attestation daemon",
		Version: version,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "charmd.json", "path to config file")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the attestation API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(configPath)
		},
	}

	var scanPatterns []string
	scanCmd := &cobra.Command{
		Use:   "scan",
		Short: "Run the counterfeit detector once and print reports",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScan(configPath, scanPatterns)
		},
	}
	scanCmd.Flags().StringSliceVar(&scanPatterns, "pattern", nil, "patterns to scan (default: all)")

	root.AddCommand(serveCmd, scanCmd)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadState loads or creates the ledger and trust directory files.
func loadState(cfg *Config) (*charm.Ledger, *charm.TrustDirectory) {
	ledger, err := charm.LoadLedgerFromFile(cfg.LedgerPath)
	if err != nil {
		ledger = charm.NewLedger()
	}
	trust, err := charm.LoadTrustDirectoryFromFile(cfg.TrustPath)
	if err != nil {
		trust = charm.NewTrustDirectory()
	}
	return ledger, trust
}

func runServe(configPath string) error {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logging, err := NewLogging(cfg.LogLevel, cfg.LogFile, auditPath(cfg))
	if err != nil {
		return err
	}
	defer logging.Close()
	log := logging.Log

	ledger, trust := loadState(cfg)
	extTimeout := time.Duration(cfg.TimeoutSeconds) * time.Second

	sealer, err := signer.New(cfg.Signer)
	if err != nil {
		return fmt.Errorf("signer setup failed: %w", err)
	}

	// The prover is optional: without it, redacted views fall back to
	// plain data and say so.
	var prover charm.ConsistencyProver
	if cfg.EnableProver {
		p, err := zkconsistency.NewProver(cfg.KeyDir)
		if err != nil {
			log.Warn().Err(err).Msg("consistency prover unavailable; disclosure proofs disabled")
		} else {
			prover = p
			log.Info().Str("key_dir", cfg.KeyDir).Msg("consistency prover ready")
		}
	}

	engine := charm.NewEngine(ledger, trust,
		charm.WithSigner(sealer),
		charm.WithBurnLock(cfg.BurnLockDays),
		charm.WithExternalTimeout(extTimeout),
		charm.WithLogger(log),
	)
	query := charm.NewQueryService(charm.NewLedgerIndexer(ledger), extTimeout)
	detector := charm.NewDetector(ledger, trust)
	redactor := charm.NewRedactor(prover, extTimeout, log)
	beams := charm.NewBeamManager(engine, time.Duration(cfg.BeamTimeoutMinutes)*time.Minute)

	metrics := NewMetrics(func() float64 {
		n := 0
		for _, c := range ledger.Claims() {
			if !c.Terminal() {
				n++
			}
		}
		return float64(n)
	})

	health := NewHealthChecker(version)
	health.RegisterComponent("ledger", func() error {
		return ledger.SaveToFile(cfg.LedgerPath)
	})
	health.RegisterComponent("trust_directory", func() error {
		return trust.SaveToFile(cfg.TrustPath)
	})
	health.RegisterComponent("prover", func() error {
		if cfg.EnableProver && prover == nil {
			return fmt.Errorf("prover enabled but not available")
		}
		return nil
	})

	server := NewServer(cfg, engine, query, detector, redactor, trust, beams, metrics, health, logging)
	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Expire overdue beams in the background.
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				for _, rec := range beams.ExpireBeams() {
					log.Warn().Str("beam_id", rec.BeamID).Str("claim_id", rec.ClaimID).
						Msg("beam expired without settlement")
				}
			}
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.ListenAddr).Str("version", version).Msg("charmd listening")
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		return fmt.Errorf("http server failed: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown failed")
	}

	if err := ledger.SaveToFile(cfg.LedgerPath); err != nil {
		log.Error().Err(err).Msg("ledger save failed")
	}
	if err := trust.SaveToFile(cfg.TrustPath); err != nil {
		log.Error().Err(err).Msg("trust directory save failed")
	}
	log.Info().Msg("charmd stopped")
	return nil
}

func runScan(configPath string, patterns []string) error {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		return err
	}
	ledger, trust := loadState(cfg)
	detector := charm.NewDetector(ledger, trust)

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.TimeoutSeconds)*time.Second)
	defer cancel()
	reports, err := detector.Scan(ctx, charm.ScanCriteria{Patterns: patterns})
	if err != nil {
		return fmt.Errorf("scan failed: %w", err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(reports)
}

func auditPath(cfg *Config) string {
	if !cfg.EnableAudit {
		return ""
	}
	return cfg.AuditLogPath
}
