// receipt-audit inspects a portal store for read-receipt records written
// outside the canonical messages tree and, on request, deletes them.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/m3loqt/unihealth-app-sub008/internal/consistency"
	"github.com/m3loqt/unihealth-app-sub008/internal/logger"
	"github.com/m3loqt/unihealth-app-sub008/internal/model"
	"github.com/m3loqt/unihealth-app-sub008/internal/store/rest"
)

var (
	storeURL string
	token    string
	debug    bool
)

func main() {
	cmd := NewRootCmd()
	if err := cmd.Execute(); err != nil {
		log.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}

// NewRootCmd constructs the root CLI command; exposed for unit testing.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "receipt-audit",
		Short: "Audit and repair misplaced read-receipt records",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			log.Logger = logger.Console(debug)
			if debug {
				log.Debug().Msg("debug logging enabled")
			}
		},
	}

	defaultURL := getEnv("UNIHEALTH_STORE_URL", "http://localhost:9325")
	rootCmd.PersistentFlags().StringVar(&storeURL, "store-url", defaultURL, "Base URL of the tree store")
	rootCmd.PersistentFlags().StringVar(&token, "token", os.Getenv("UNIHEALTH_STORE_TOKEN"), "Bearer token for the store")
	rootCmd.PersistentFlags().BoolVarP(&debug, "debug", "d", false, "Enable verbose debug output")

	rootCmd.AddCommand(newScanCmd())
	rootCmd.AddCommand(newRepairCmd())
	return rootCmd
}

func newScanCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "List leaked receipt records without changing anything",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 60*time.Second)
			defer cancel()

			records, err := scan(ctx)
			if err != nil {
				return err
			}
			if asJSON {
				return json.NewEncoder(os.Stdout).Encode(records)
			}
			if len(records) == 0 {
				fmt.Println("no leaked receipt records found")
				return nil
			}
			for _, rec := range records {
				fmt.Printf("leaked: /%s\n", rec.Key)
			}
			fmt.Printf("%d leaked record(s)\n", len(records))
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit records as JSON")
	return cmd
}

func newRepairCmd() *cobra.Command {
	var apply bool
	cmd := &cobra.Command{
		Use:   "repair",
		Short: "Delete leaked receipt records (dry-run unless --apply)",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 120*time.Second)
			defer cancel()

			records, err := scan(ctx)
			if err != nil {
				return err
			}
			if len(records) == 0 {
				fmt.Println("nothing to repair")
				return nil
			}

			mode := consistency.DryRun
			if apply {
				mode = consistency.Apply
			}
			repairer := consistency.NewRepairer(newStore(), logger.New("receipt-audit"))
			results, err := repairer.Repair(ctx, records, mode)
			for _, res := range results {
				if res.Err != nil {
					fmt.Printf("%-12s /%s: %v\n", res.Outcome, res.Record.Key, res.Err)
					continue
				}
				fmt.Printf("%-12s /%s\n", res.Outcome, res.Record.Key)
			}
			return err
		},
	}
	cmd.Flags().BoolVar(&apply, "apply", false, "Actually delete instead of dry-run")
	return cmd
}

func scan(ctx context.Context) ([]model.LeakedReceiptRecord, error) {
	snap, err := newStore().Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return consistency.Scan(snap), nil
}

func newStore() *rest.Client {
	return rest.New(storeURL, token, 30*time.Second, logger.New("receipt-audit"))
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
