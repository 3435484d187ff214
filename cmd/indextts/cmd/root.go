package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/lexiqai/indextts-gateway/internal/config"
)

var (
	serverURL string
	timeout   time.Duration
)

var rootCmd = &cobra.Command{
	Use:   "indextts",
	Short: "Client for the IndexTTS gateway",
	Long: `indextts talks to a running IndexTTS gateway over HTTP.

Commands:
  speak      - synthesize text with a registered speaker
  speakers   - list registered speakers
  artifacts  - show recent synthesis jobs from the ledger`,
	SilenceUsage: true,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", config.GetEnv("INDEXTTS_SERVER", "http://localhost:9880"), "Gateway base URL")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 10*time.Minute, "Request timeout")
}

func endpoint(path string) string {
	return strings.TrimRight(serverURL, "/") + path
}

func httpClient() *http.Client {
	return &http.Client{Timeout: timeout}
}

// apiError turns a non-2xx response into an error carrying the gateway's message
func apiError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var payload struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &payload) == nil && payload.Error != "" {
		return fmt.Errorf("gateway returned %d: %s", resp.StatusCode, payload.Error)
	}
	return fmt.Errorf("gateway returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
}

func printError(msg string, err error) {
	fmt.Fprintf(os.Stderr, "Error: %s: %v\n", msg, err)
}
