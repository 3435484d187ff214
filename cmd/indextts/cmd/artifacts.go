package cmd

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/lexiqai/indextts-gateway/internal/artifacts"
	"github.com/lexiqai/indextts-gateway/internal/config"
)

var (
	artifactsLedger string
	artifactsLimit  int
	artifactsPrune  time.Duration
)

var artifactsCmd = &cobra.Command{
	Use:   "artifacts",
	Short: "Show recent synthesis jobs",
	Long: `Reads the gateway's artifact ledger directly.

Examples:
  indextts artifacts --ledger outputs/ledger.db
  indextts artifacts --prune 168h`,
	RunE: runArtifacts,
}

func init() {
	rootCmd.AddCommand(artifactsCmd)

	artifactsCmd.Flags().StringVar(&artifactsLedger, "ledger", config.GetEnv("LEDGER_PATH", "outputs/ledger.db"), "Ledger database path")
	artifactsCmd.Flags().IntVarP(&artifactsLimit, "limit", "n", 20, "Number of records to show")
	artifactsCmd.Flags().DurationVar(&artifactsPrune, "prune", 0, "Delete artifacts older than this before listing")
}

func runArtifacts(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	ledger, err := artifacts.OpenLedger(ctx, artifactsLedger, zerolog.Nop())
	if err != nil {
		printError("cannot open ledger", err)
		return err
	}
	defer ledger.Close()

	if artifactsPrune > 0 {
		n, err := ledger.Prune(ctx, artifactsPrune)
		if err != nil {
			return fmt.Errorf("prune failed: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Pruned %d artifacts\n", n)
	}

	records, err := ledger.Recent(ctx, artifactsLimit)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATUS\tMODE\tSPEAKER\tCREATED\tERROR")
	for _, r := range records {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			r.ID, r.Status, r.Mode, r.Speaker, r.CreatedAt.Format(time.RFC3339), r.Error)
	}
	return w.Flush()
}
