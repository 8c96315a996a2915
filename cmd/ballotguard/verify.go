package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/sruthiidv/BallotGuard-sub000/blockchain/ledger"
	"github.com/sruthiidv/BallotGuard-sub000/encryption"
	"github.com/sruthiidv/BallotGuard-sub000/internal/config"
	"github.com/sruthiidv/BallotGuard-sub000/keystore"
	"github.com/sruthiidv/BallotGuard-sub000/service"
	"github.com/sruthiidv/BallotGuard-sub000/storage"
)

var verifyFlags = struct {
	electionID string
	file       string
	pubKey     string
}{}

func verifyLedgerCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verify-ledger",
		Short: "Recompute an election ledger and report the first bad block",
		Long: "Verifies the ledger of --election from the configured database, " +
			"or an exported ledger given with --file and --pubkey without any server state.",
		Annotations: map[string]string{"config": "skip"},
		Run: func(cmd *cobra.Command, _ []string) {
			logger := commonRun()
			report, err := verifyLedger(cmd.Context(), logger)
			if err != nil {
				slog.Error(err.Error())
				os.Exit(1)
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(report); err != nil {
				slog.Error(err.Error())
				os.Exit(1)
			}
			if !report.Valid() {
				slog.Error("ledger verification failed", "election_id", report.ElectionID)
				os.Exit(2)
			}
		},
	}
	cmd.Flags().StringVar(&verifyFlags.electionID, "election", "", "election to verify from the database")
	cmd.Flags().StringVar(&verifyFlags.file, "file", "", "exported ledger JSON to verify offline")
	cmd.Flags().StringVar(&verifyFlags.pubKey, "pubkey", "", "PEM receipt public key for --file")
	return cmd
}

func verifyLedger(ctx context.Context, logger *slog.Logger) (*ledger.Report, error) {
	if verifyFlags.file != "" {
		return verifyLedgerFile(verifyFlags.file, verifyFlags.pubKey)
	}
	if verifyFlags.electionID == "" {
		return nil, errors.New("one of --election or --file is required")
	}
	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	store, err := storage.Open(cfg.Storage(), logger)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	defer store.Close()
	keys, err := keystore.Load(
		cfg.KeyDir,
		cfg.RSAKeyBits,
		cfg.PaillierKeyBits,
		cfg.BiometricSecret,
		logger,
	)
	if err != nil {
		return nil, fmt.Errorf("loading keys: %w", err)
	}
	svc := service.NewVotingService(store, keys, cfg.Service(), service.WithLogger(logger))
	return svc.VerifyLedger(ctx, verifyFlags.electionID)
}

func verifyLedgerFile(path, pubKeyPath string) (*ledger.Report, error) {
	if pubKeyPath == "" {
		return nil, errors.New("--pubkey is required with --file")
	}
	pemData, err := os.ReadFile(pubKeyPath)
	if err != nil {
		return nil, fmt.Errorf("reading public key: %w", err)
	}
	pub, err := encryption.ParsePublicKeyPEM(pemData)
	if err != nil {
		return nil, fmt.Errorf("parsing public key: %w", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading ledger export: %w", err)
	}
	var export service.LedgerExport
	if err := json.Unmarshal(data, &export); err != nil {
		return nil, fmt.Errorf("parsing ledger export: %w", err)
	}
	return service.VerifyExport(&export, pub), nil
}
