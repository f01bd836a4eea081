package main

import (
	"context"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/user/shadowshift/internal/dataset"
)

var (
	datasetEvents string
	datasetWindow int
)

func init() {
	rootCmd.AddCommand(datasetCmd)
	datasetCmd.AddCommand(datasetBuildCmd, datasetStatsCmd)
	datasetBuildCmd.Flags().StringVar(&datasetEvents, "events", "", "events JSONL file (default dataset.events_path)")
	datasetBuildCmd.Flags().IntVar(&datasetWindow, "window", 0, "trailing events per state (default poll.window)")
}

var datasetCmd = &cobra.Command{
	Use:   "dataset",
	Short: "Build and inspect the labeled training dataset",
}

var datasetBuildCmd = &cobra.Command{
	Use:   "build",
	Short: "Label thread prefixes from an events file and store them",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		ctx := context.Background()

		path := datasetEvents
		if path == "" {
			path = cfg.EventsPath()
		}
		window := datasetWindow
		if window < 1 {
			window = cfg.Poll.Window
		}

		store, err := openDataset(ctx, cfg)
		if err != nil {
			return fmt.Errorf("open dataset: %w", err)
		}
		defer store.Close()

		rows, err := buildDataset(ctx, cfg, store, path, window)
		if err != nil {
			return err
		}
		printDatasetStats(cmd, dataset.Summarize(rows))
		return nil
	},
}

var datasetStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Summarize the stored dataset",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		ctx := context.Background()

		store, err := openDataset(ctx, cfg)
		if err != nil {
			return fmt.Errorf("open dataset: %w", err)
		}
		defer store.Close()

		st, err := store.Stats(ctx)
		if err != nil {
			return err
		}
		printDatasetStats(cmd, st)
		return nil
	},
}

func printDatasetStats(cmd *cobra.Command, st dataset.Stats) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Rows:    %s\n", humanize.Comma(int64(st.Rows)))
	fmt.Fprintf(out, "Threads: %s\n", humanize.Comma(int64(st.Threads)))
	for _, a := range st.SortedActions() {
		fmt.Fprintf(out, "  %-18s %s\n", a, humanize.Comma(int64(st.Actions[a])))
	}
	if st.Digest != "" {
		fmt.Fprintf(out, "Digest:  %s\n", st.Digest)
	}
}
