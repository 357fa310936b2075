package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"vigil/behavior"
	"vigil/config"
	"vigil/heuristic"
	"vigil/logger"
	"vigil/output"
	"vigil/quarantine"
	"vigil/reputation"
	"vigil/scanner"
	"vigil/signature"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}

	logger.Init(cfg.LogLevel)

	if cfg.MaintenanceRequested() {
		if err := runMaintenance(cfg); err != nil {
			logger.Fatalf("%v", err)
		}
		return
	}

	startTime := time.Now()
	metrics := output.Metrics{
		StartTime: startTime.UTC().Format(time.RFC3339),
	}

	var store *signature.Store
	if cfg.SignatureEnabled {
		store, err = signature.Open(cfg.SignatureDBPath)
		if err != nil {
			logger.Fatalf("Failed to open signature database: %v", err)
		}
		defer store.Close()
	}

	var vtClient, mbClient reputation.Client
	if cfg.CloudLookupEnabled {
		cache, err := reputation.NewCache(cfg.CacheDir, cfg.CacheTTL)
		if err != nil {
			logger.Fatalf("Failed to initialize reputation cache: %v", err)
		}
		if cfg.VTEnabled {
			vtClient = reputation.NewVirusTotalClient(cfg.VTAPIKey(), cfg.VTBaseURL, cfg.VTRatePerMinute, cache)
		}
		if cfg.MBEnabled {
			mbClient = reputation.NewMalwareBazaarClient(cfg.MBAPIKey(), cfg.MBBaseURL, cfg.MBRatePerMinute, cache)
		}
	}

	heuristics := heuristic.NewEngine(cfg.HeuristicEnabled, cfg.Sensitivity)

	var sandbox *behavior.Gateway
	if cfg.BehaviorEnabled {
		remote := behavior.NewRemoteSandbox(cfg.SandboxURL, cfg.SandboxAPIKey(), cfg.SandboxTimeout, cfg.SandboxPollEvery)
		local := behavior.NewLocalTriage(true)
		sandbox = behavior.NewGateway(remote, local)
	}

	var vault *quarantine.Vault
	if cfg.AutoQuarantine {
		vault, err = quarantine.Open(cfg.QuarantineDir, cfg.QuarantineEncrypt)
		if err != nil {
			logger.Fatalf("Failed to open quarantine vault: %v", err)
		}
	}

	writer, err := output.New(cfg.ReportFileName)
	if err != nil {
		logger.Fatalf("Failed to initialize report: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go handleSignals(cancel)

	engine := scanner.NewEngine(cfg, store, vtClient, mbClient, heuristics, sandbox, vault)
	scanErr := scanner.ScanFiles(ctx, cfg, engine, &metrics, writer)

	metrics.EndTime = time.Now().UTC().Format(time.RFC3339)
	if err := writer.Close(&metrics); err != nil {
		logger.Errorf("Failed to finalize report: %v", err)
	}

	if scanErr != nil && scanErr != context.Canceled {
		logger.Fatalf("Scanning failed: %v", scanErr)
	}
	logger.Infof("Scan complete: %d files, %d detections (%d malicious, %d suspicious), report %s",
		metrics.FilesScanned, metrics.Detections, metrics.Malicious, metrics.Suspicious, cfg.ReportFileName)
}

func runMaintenance(cfg *config.Config) error {
	switch {
	case cfg.ImportSignatures != "":
		store, err := signature.Open(cfg.SignatureDBPath)
		if err != nil {
			return fmt.Errorf("opening signature database: %w", err)
		}
		defer store.Close()
		added, err := store.ImportFeed(cfg.ImportSignatures)
		if err != nil {
			return fmt.Errorf("importing signatures: %w", err)
		}
		fmt.Printf("Imported %d new signatures\n", added)

	case cfg.ListSignatures:
		store, err := signature.Open(cfg.SignatureDBPath)
		if err != nil {
			return fmt.Errorf("opening signature database: %w", err)
		}
		defer store.Close()
		records, err := store.All()
		if err != nil {
			return fmt.Errorf("listing signatures: %w", err)
		}
		for _, rec := range records {
			fmt.Printf("%s  %s\n", rec.SHA256, rec.Name)
		}
		fmt.Printf("%d signatures\n", len(records))

	case cfg.ListQuarantine:
		vault, err := quarantine.Open(cfg.QuarantineDir, cfg.QuarantineEncrypt)
		if err != nil {
			return fmt.Errorf("opening quarantine vault: %w", err)
		}
		entries, err := vault.List()
		if err != nil {
			return fmt.Errorf("listing quarantine: %w", err)
		}
		for _, entry := range entries {
			fmt.Printf("%s  %s  %s  %s\n",
				entry.ID, entry.QuarantinedAt.Format(time.RFC3339), entry.ThreatName, entry.OriginalPath)
		}
		size, err := vault.TotalSize()
		if err == nil {
			fmt.Printf("%d entries, %d bytes\n", len(entries), size)
		}

	case cfg.RestoreID != "":
		vault, err := quarantine.Open(cfg.QuarantineDir, cfg.QuarantineEncrypt)
		if err != nil {
			return fmt.Errorf("opening quarantine vault: %w", err)
		}
		if err := vault.Restore(cfg.RestoreID, cfg.RestorePath); err != nil {
			return fmt.Errorf("restoring %s: %w", cfg.RestoreID, err)
		}
		fmt.Printf("Restored %s\n", cfg.RestoreID)

	case cfg.DeleteID != "":
		vault, err := quarantine.Open(cfg.QuarantineDir, cfg.QuarantineEncrypt)
		if err != nil {
			return fmt.Errorf("opening quarantine vault: %w", err)
		}
		if err := vault.DeletePermanently(cfg.DeleteID); err != nil {
			return fmt.Errorf("deleting %s: %w", cfg.DeleteID, err)
		}
		fmt.Printf("Deleted %s\n", cfg.DeleteID)

	case cfg.CleanupQuarantine:
		vault, err := quarantine.Open(cfg.QuarantineDir, cfg.QuarantineEncrypt)
		if err != nil {
			return fmt.Errorf("opening quarantine vault: %w", err)
		}
		maxAge := time.Duration(cfg.RetentionDays) * 24 * time.Hour
		deleted, err := vault.CleanupOld(maxAge)
		if err != nil {
			return fmt.Errorf("cleaning up quarantine: %w", err)
		}
		fmt.Printf("Deleted %d expired entries\n", deleted)
	}
	return nil
}

func handleSignals(cancel context.CancelFunc) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	logger.Info("Interrupt signal received. Shutting down...")
	cancel()
}
