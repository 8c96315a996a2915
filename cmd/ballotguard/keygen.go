package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/sruthiidv/BallotGuard-sub000/keystore"
)

func keygenCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "Create the receipt and Paillier keys if missing and print the public parameters",
		Run: func(cmd *cobra.Command, _ []string) {
			cfg := mustConfig(cmd)
			logger := commonRun()
			keys, err := keystore.LoadOrGenerate(
				cfg.KeyDir,
				cfg.RSAKeyBits,
				cfg.PaillierKeyBits,
				cfg.BiometricSecret,
				logger,
			)
			if err != nil {
				slog.Error(err.Error())
				os.Exit(1)
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(keys.PublicParameters()); err != nil {
				slog.Error(fmt.Sprintf("failed to write public parameters: %s", err))
				os.Exit(1)
			}
		},
	}
}
