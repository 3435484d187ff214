package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/lexiqai/indextts-gateway/internal/httpapi"
)

var speakersCmd = &cobra.Command{
	Use:   "speakers",
	Short: "List registered speakers",
	RunE:  runSpeakers,
}

func init() {
	rootCmd.AddCommand(speakersCmd)
}

func runSpeakers(cmd *cobra.Command, args []string) error {
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, endpoint("/speakers"), nil)
	if err != nil {
		return err
	}
	resp, err := httpClient().Do(req)
	if err != nil {
		printError("request failed", err)
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return apiError(resp)
	}

	var speakers []httpapi.Speaker
	if err := json.NewDecoder(resp.Body).Decode(&speakers); err != nil {
		return fmt.Errorf("failed to decode speakers: %w", err)
	}
	if len(speakers) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No speakers registered")
		return nil
	}
	for _, s := range speakers {
		fmt.Fprintln(cmd.OutOrStdout(), s.Name)
	}
	return nil
}
