package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/lexiqai/indextts-gateway/internal/httpapi"
)

var (
	speakSpeaker string
	speakEmotion string
	speakOutput  string
	speakSpeed   float64
)

var speakCmd = &cobra.Command{
	Use:   "speak <text>",
	Short: "Synthesize text to a WAV file",
	Long: `Sends text to the gateway and writes the returned WAV.

Examples:
  indextts speak "Hello there" --speaker alice
  indextts speak "Careful!" --speaker alice --emotion afraid -o out.wav`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSpeak,
}

func init() {
	rootCmd.AddCommand(speakCmd)

	speakCmd.Flags().StringVarP(&speakSpeaker, "speaker", "s", "", "Registered speaker name")
	speakCmd.Flags().StringVarP(&speakEmotion, "emotion", "e", "", "Registered emotion reference name")
	speakCmd.Flags().StringVarP(&speakOutput, "output", "o", "", "Output file (default: <artifact id>.wav)")
	speakCmd.Flags().Float64Var(&speakSpeed, "speed", 0, "Playback speed hint, accepted but not applied by the gateway")
	speakCmd.MarkFlagRequired("speaker")
}

func runSpeak(cmd *cobra.Command, args []string) error {
	body, err := json.Marshal(httpapi.SynthesizeRequest{
		Text:    strings.Join(args, " "),
		Speaker: speakSpeaker,
		Emotion: speakEmotion,
	})
	if err != nil {
		return err
	}

	target := endpoint("/")
	if speakSpeed > 0 {
		target += "?" + url.Values{"speed": {strconv.FormatFloat(speakSpeed, 'f', -1, 64)}}.Encode()
	}

	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := httpClient().Do(req)
	if err != nil {
		printError("request failed", err)
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err := apiError(resp)
		printError("synthesis failed", err)
		return err
	}

	out := speakOutput
	if out == "" {
		out = resp.Header.Get("X-Artifact-ID") + ".wav"
	}
	f, err := os.Create(out)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", out, err)
	}
	n, err := io.Copy(f, resp.Body)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", out, err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s (%d bytes)\n", out, n)
	if resp.Header.Get("X-Speed-Applied") == "false" {
		fmt.Fprintln(cmd.ErrOrStderr(), "Note: speed was not applied")
	}
	return nil
}
