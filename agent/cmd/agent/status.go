package main

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/obsidianstack/slaprobe/agent/internal/status"
)

func statusCmd() *cobra.Command {
	var (
		addr    string
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show per-target availability from a running probe",
		Long: `Scrape the /metrics endpoint of a running probe and print, per target,
the observed minutes, the sent-failed and unavailable minutes and the
resulting availability.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			url := metricsURL(addr)
			rep, err := status.Fetch(ctx, &http.Client{Timeout: timeout}, url)
			if err != nil {
				return fmt.Errorf("scrape %s: %w", url, err)
			}
			return status.Write(cmd.OutOrStdout(), rep)
		},
	}
	cmd.Flags().StringVarP(&addr, "addr", "a", "127.0.0.1:61616", "probe metrics address (host:port or URL)")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "scrape timeout")
	return cmd
}

// metricsURL turns a host:port or base URL into the /metrics URL.
func metricsURL(addr string) string {
	if !strings.HasPrefix(addr, "http://") && !strings.HasPrefix(addr, "https://") {
		addr = "http://" + addr
	}
	addr = strings.TrimRight(addr, "/")
	if strings.HasSuffix(addr, "/metrics") {
		return addr
	}
	return addr + "/metrics"
}
