package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/malbeclabs/latencymap/internal/dashboard"
	"github.com/malbeclabs/latencymap/internal/latency"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

type SnapshotCmd struct{}

func NewSnapshotCmd() *SnapshotCmd {
	return &SnapshotCmd{}
}

func (c *SnapshotCmd) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Run a single refresh and print the resulting samples and metrics",
		RunE: func(cmd *cobra.Command, args []string) error {
			asJSON, err := cmd.Flags().GetBool("json")
			if err != nil {
				return fmt.Errorf("failed to get json flag: %w", err)
			}

			log, cfg, err := setup(cmd)
			if err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			p, err := newPipeline(log, cfg, nil)
			if err != nil {
				return err
			}
			defer p.Close()

			snap, err := p.controller.Refresh(ctx)
			if err != nil {
				log.Error("snapshot: refresh failed", "error", err)
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				return printSnapshotJSON(out, snap)
			}
			printSamples(out, snap.Samples)
			printMetrics(out, snap.Metrics)
			return nil
		},
	}

	cmd.Flags().Bool("json", false, "Print the snapshot as JSON")

	return cmd
}

func printSnapshotJSON(w io.Writer, snap dashboard.Snapshot) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(snap); err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}
	return nil
}

func newTable(w io.Writer) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.SetAutoWrapText(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_CENTER)
	table.SetAutoFormatHeaders(false)
	table.SetBorder(true)
	table.SetRowLine(true)
	return table
}

func printSamples(w io.Writer, samples []latency.Sample) {
	fmt.Fprintln(w, "* Latency values are in milliseconds (ms)")

	table := newTable(w)
	table.SetHeader([]string{
		"ID", "Source", "Target",
		"Latency\n(ms)", "Quality",
		"Loss\n(%)", "Jitter\n(ms)", "Distance\n(km)",
		"Derived", "Timestamp",
	})
	for _, s := range samples {
		table.Append([]string{
			s.ID,
			s.Source,
			s.Target,
			fmt.Sprintf("%.2f", s.LatencyMs),
			string(s.Quality),
			formatOptional(s.PacketLossPct, "%.2f"),
			formatOptional(s.JitterMs, "%.2f"),
			formatOptional(s.DistanceKm, "%.0f"),
			strconv.FormatBool(s.Derived),
			s.Timestamp.UTC().Format(time.RFC3339),
		})
	}
	table.Render()
}

func printMetrics(w io.Writer, m dashboard.MetricsSnapshot) {
	table := newTable(w)
	table.SetHeader([]string{
		"Total\n(#)", "Active\n(#)", "Avg Latency\n(ms)", "Uptime\n(%)", "Last Updated",
	})
	table.Append([]string{
		strconv.Itoa(m.TotalCount),
		strconv.Itoa(m.ActiveConnectionCount),
		fmt.Sprintf("%.2f", m.AverageLatencyMs),
		fmt.Sprintf("%.1f%%", m.UptimePct),
		time.UnixMilli(m.LastUpdatedMs).UTC().Format(time.RFC3339),
	})
	table.Render()
}

func formatOptional(v *float64, format string) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf(format, *v)
}
