// Package main implements islandctl, the command-line client for islandd.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// cli carries the persistent flags shared by every subcommand.
type cli struct {
	serverURL string
	timeout   time.Duration
}

func newRootCmd() *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:   "islandctl",
		Short: "CLI for islandd",
		Long: `islandctl talks to a running islandd over HTTP to sync datasets, search
them and manage their partitions. The legacy subcommands work on the
configured stores directly and do not need a running daemon.`,
		Version:      version,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&c.serverURL, "server", "http://localhost:9393", "islandd server URL")
	root.PersistentFlags().DurationVar(&c.timeout, "timeout", 30*time.Second, "HTTP request timeout")

	root.AddCommand(
		c.healthCmd(),
		c.syncCmd(),
		c.searchCmd(),
		c.partitionsCmd(),
		c.reconcileCmd(),
		c.shareCmd(),
		c.updateCmd(),
		c.projectCmd(),
		c.deleteCmd(),
		legacyCmd(),
	)
	return root
}

// parseScope splits "project/dataset". The dataset part is required unless
// datasetOptional is set.
func parseScope(s string, datasetOptional bool) (project, dataset string, err error) {
	project, dataset, _ = strings.Cut(s, "/")
	project = strings.TrimSpace(project)
	dataset = strings.TrimSpace(dataset)
	if project == "" {
		return "", "", fmt.Errorf("invalid scope %q: project is required", s)
	}
	if dataset == "" && !datasetOptional {
		return "", "", fmt.Errorf("invalid scope %q: expected project/dataset", s)
	}
	return project, dataset, nil
}

// do sends a JSON request to the server and decodes a JSON response into
// out. A nil body sends no payload; a nil out discards the response.
func (c *cli) do(method, path string, body, out any, okStatus ...int) error {
	var reader io.Reader
	if body != nil {
		reqJSON, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(reqJSON)
	}

	url := strings.TrimRight(c.serverURL, "/") + path
	httpReq, err := http.NewRequest(method, url, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	client := &http.Client{Timeout: c.timeout}
	resp, err := client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to send request to %s: %w", url, err)
	}
	defer resp.Body.Close()

	if len(okStatus) == 0 {
		okStatus = []int{http.StatusOK}
	}
	if !slices.Contains(okStatus, resp.StatusCode) {
		respBody, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			return fmt.Errorf("server returned status %d (failed to read response body: %w)", resp.StatusCode, readErr)
		}
		return fmt.Errorf("server returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
