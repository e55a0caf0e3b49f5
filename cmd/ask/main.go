// ask is a one-shot CLI for querying a running orchestrator instance.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var (
	serverURL string
	threadID  string
	rawFiles  []string
	showRaw   bool
	timeout   time.Duration
)

var rootCmd = &cobra.Command{
	Use:   "ask [query]",
	Short: "Query the incident analysis pipeline",
	Long: `ask sends one question to a running orchestrator and prints the answer.

Example usage:
  ask "why is checkout latency spiking"
  ask --raw-file app.log "what happened on web-01"
  ask --thread t1 "root cause of last night's outage"`,
	Args:          cobra.ExactArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          run,
}

func init() {
	rootCmd.Flags().StringVar(&serverURL, "server", envOr("ORCHESTRATOR_URL", "http://localhost:9020"), "orchestrator base URL")
	rootCmd.Flags().StringVar(&threadID, "thread", "", "thread id for checkpointed runs")
	rootCmd.Flags().StringArrayVar(&rawFiles, "raw-file", nil, "log file to submit as raw text (repeatable)")
	rootCmd.Flags().BoolVar(&showRaw, "json", false, "print the raw JSON response")
	rootCmd.Flags().DurationVar(&timeout, "timeout", 3*time.Minute, "request timeout")
}

func run(cmd *cobra.Command, args []string) error {
	var rawTexts []string
	for _, path := range rawFiles {
		content, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading %s: %w", path, err)
		}
		rawTexts = append(rawTexts, string(content))
	}

	payload, err := json.Marshal(map[string]any{
		"query":     args[0],
		"raw_texts": rawTexts,
		"thread_id": threadID,
	})
	if err != nil {
		return err
	}

	client := &http.Client{Timeout: timeout}
	resp, err := client.Post(
		strings.TrimRight(serverURL, "/")+"/v1/rag/query",
		"application/json",
		bytes.NewReader(payload),
	)
	if err != nil {
		return fmt.Errorf("query failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	if showRaw {
		fmt.Println(string(body))
		return nil
	}

	var result struct {
		Answer string `json:"answer"`
		Route  string `json:"route"`
		Error  string `json:"error"`
		Docs   int    `json:"docs"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}

	fmt.Println(result.Answer)
	fmt.Fprintf(os.Stderr, "\n[route=%s docs=%d", result.Route, result.Docs)
	if result.Error != "" {
		fmt.Fprintf(os.Stderr, " error=%s", result.Error)
	}
	fmt.Fprintln(os.Stderr, "]")
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
