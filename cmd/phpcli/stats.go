package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func newStatsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats URL",
		Short: "Request URL repeatedly and print per-script counters as JSON",
		Args:  cobra.ExactArgs(1),
		RunE:  runStats,
	}
	cmd.Flags().IntP("requests", "n", 1, "number of GET requests to issue")
	return cmd
}

func runStats(cmd *cobra.Command, args []string) error {
	n, _ := cmd.Flags().GetInt("requests")
	if n < 1 {
		return fmt.Errorf("--requests must be at least 1, got %d", n)
	}

	srv, log, err := openServer(cmd)
	if err != nil {
		return err
	}
	defer log.Sync()

	for i := 0; i < n; i++ {
		// Failed requests are counted, not fatal.
		if _, err := srv.Request(cmd.Context(), "GET", args[0], nil); err != nil {
			log.Warnw("request failed", "n", i, "error", err)
		}
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(srv.Stats())
}
