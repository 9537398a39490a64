package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JohnQian2004/eden-ecosystem-typescript-sub001/internal/config"
	"github.com/JohnQian2004/eden-ecosystem-typescript-sub001/internal/identity"
	"github.com/JohnQian2004/eden-ecosystem-typescript-sub001/internal/node"
)

var cfgFile string

func main() {
	rootCmd := &cobra.Command{
		Use:   "eden",
		Short: "Eden trust authority, revocation bus and settlement pipeline",
	}

	startCmd := &cobra.Command{
		Use:   "start",
		Short: "Start the root authority, node consumers and settlement workers",
		RunE:  runStart,
	}
	startCmd.Flags().StringVarP(&cfgFile, "config", "c", "", "Path to config file (default: configs/config.yaml)")

	keygenCmd := &cobra.Command{
		Use:   "keygen",
		Short: "Print a fresh root seed and its public key",
		RunE:  runKeygen,
	}

	rootCmd.AddCommand(startCmd, keygenCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runStart(cmd *cobra.Command, args []string) error {
	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer logger.Sync()

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("config load: %w", err)
	}

	ctrl := node.NewController(cfg, logger)
	return ctrl.Run(context.Background())
}

func runKeygen(cmd *cobra.Command, args []string) error {
	seed := make([]byte, 32)
	if _, err := rand.Read(seed); err != nil {
		return err
	}
	signer, err := identity.NewSignerFromSeed(node.RootID, identity.KindRoot, seed)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "rootSeed:  %s\npublicKey: %s\n",
		hex.EncodeToString(seed), hex.EncodeToString(signer.Identity().PublicKey))
	return nil
}
