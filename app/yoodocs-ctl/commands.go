package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"net/http"
	"os"
	"slices"
	"strconv"
	"time"

	"github.com/spf13/cobra"
)

type rootOptions struct {
	server  string
	token   string
	timeout time.Duration
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:           "yoodocs-ctl",
		Short:         "Operate a yoodocs server",
		Long:          `Runs maintenance operations against a yoodocs server through its admin API.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.server, "server", envOr("YOODOCS_URL", "http://localhost:8080"), "server base URL (YOODOCS_URL)")
	root.PersistentFlags().StringVar(&opts.token, "token", os.Getenv("YOODOCS_TOKEN"), "admin bearer token (YOODOCS_TOKEN)")
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", 5*time.Minute, "request timeout")

	client := func() *apiClient { return newAPIClient(opts.server, opts.token, opts.timeout) }

	root.AddCommand(
		newResyncCmd(client),
		newRebuildCmd(client),
		newStatsCmd(client),
		newUsageCmd(client),
		newHealthCmd(client),
	)
	return root
}

func requireToken(c *apiClient) error {
	if c.token == "" {
		return errors.New("an admin token is required (--token or YOODOCS_TOKEN)")
	}
	return nil
}

func printJSON(cmd *cobra.Command, raw []byte) error {
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		cmd.Println(string(raw))
		return nil
	}
	cmd.Println(buf.String())
	return nil
}

func newResyncCmd(client func() *apiClient) *cobra.Command {
	return &cobra.Command{
		Use:   "resync",
		Short: "Copy vector index metadata into the relational store",
		Long: `Replaces the relational chunk mirror with the vector index's current
metadata. Use it after the sync stream lost operations.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c := client()
			if err := requireToken(c); err != nil {
				return err
			}
			raw, err := c.do(cmd.Context(), http.MethodPost, "/vectors/resync", nil)
			if err != nil {
				return fmt.Errorf("resync failed: %w", err)
			}
			var res struct {
				Synced  int `json:"synced"`
				Skipped int `json:"skipped"`
				Total   int `json:"total"`
			}
			if err := json.Unmarshal(raw, &res); err != nil {
				return err
			}
			cmd.Printf("Synced %d of %d chunks (%d skipped).\n", res.Synced, res.Total, res.Skipped)
			return nil
		},
	}
}

func newRebuildCmd(client func() *apiClient) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "rebuild",
		Short: "Rebuild the vector index from the relational store",
		Long: `Replaces the whole vector index with the chunks stored relationally,
re-embedding chunks whose stored embedding came from another model.
This is the recovery path for a corrupt index file.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !yes {
				return errors.New("rebuild replaces the whole index; pass --yes to confirm")
			}
			c := client()
			if err := requireToken(c); err != nil {
				return err
			}
			cmd.Println("Rebuilding vector index...")
			raw, err := c.do(cmd.Context(), http.MethodPost, "/vectors/rebuild", nil)
			if err != nil {
				return fmt.Errorf("rebuild failed: %w", err)
			}
			var res struct {
				Indexed int `json:"indexed_vectors"`
			}
			if err := json.Unmarshal(raw, &res); err != nil {
				return err
			}
			cmd.Printf("Vector index rebuilt with %d vectors.\n", res.Indexed)
			return nil
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm the rebuild")
	return cmd
}

func newStatsCmd(client func() *apiClient) *cobra.Command {
	var vectorsOnly bool
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show system statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c := client()
			if err := requireToken(c); err != nil {
				return err
			}
			path := "/admin/stats"
			if vectorsOnly {
				path = "/vectors/stats"
			}
			raw, err := c.do(cmd.Context(), http.MethodGet, path, nil)
			if err != nil {
				return fmt.Errorf("stats failed: %w", err)
			}
			return printJSON(cmd, raw)
		},
	}
	cmd.Flags().BoolVar(&vectorsOnly, "vectors", false, "only vector index and mirror statistics")
	return cmd
}

func newUsageCmd(client func() *apiClient) *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "usage",
		Short: "Show API usage per endpoint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c := client()
			if err := requireToken(c); err != nil {
				return err
			}
			raw, err := c.do(cmd.Context(), http.MethodGet, "/admin/usage?days="+strconv.Itoa(days), nil)
			if err != nil {
				return fmt.Errorf("usage failed: %w", err)
			}
			return printJSON(cmd, raw)
		},
	}
	cmd.Flags().IntVar(&days, "days", 7, "look-back window in days")
	return cmd
}

func newHealthCmd(client func() *apiClient) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check server and dependency health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()

			raw, err := client().do(ctx, http.MethodGet, "/health", nil, http.StatusServiceUnavailable)
			if err != nil {
				return fmt.Errorf("health check failed: %w", err)
			}
			var res struct {
				Status       string            `json:"status"`
				Dependencies map[string]string `json:"dependencies"`
			}
			if err := json.Unmarshal(raw, &res); err != nil {
				return err
			}
			cmd.Printf("status: %s\n", res.Status)
			for _, name := range slices.Sorted(maps.Keys(res.Dependencies)) {
				cmd.Printf("  %-8s %s\n", name, res.Dependencies[name])
			}
			if res.Status != "healthy" {
				return errors.New("server is degraded")
			}
			return nil
		},
	}
}
