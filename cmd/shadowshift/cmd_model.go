package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/user/shadowshift/internal/classifier"
	"github.com/user/shadowshift/internal/dataset"
)

var (
	evalTestSize  float64
	evalSeed      uint64
	evalJSON      bool
	predictState  string
	predictThresh float64
	predictK      int
)

func init() {
	rootCmd.AddCommand(modelCmd)
	modelCmd.AddCommand(modelTrainCmd, modelEvaluateCmd, modelPredictCmd)

	modelEvaluateCmd.Flags().Float64Var(&evalTestSize, "test-size", dataset.DefaultSplitOptions.TestSize, "fraction of threads held out")
	modelEvaluateCmd.Flags().Uint64Var(&evalSeed, "seed", dataset.DefaultSplitOptions.Seed, "split seed")
	modelEvaluateCmd.Flags().BoolVar(&evalJSON, "json", false, "print the report as JSON")

	modelPredictCmd.Flags().StringVar(&predictState, "state", "", "serialized state (default: read stdin)")
	modelPredictCmd.Flags().Float64Var(&predictThresh, "threshold", -1, "confidence threshold (default classifier.threshold)")
	modelPredictCmd.Flags().IntVarP(&predictK, "neighbors", "k", 0, "also list the k nearest training rows")
}

var modelCmd = &cobra.Command{
	Use:   "model",
	Short: "Train, evaluate and query the action classifier",
}

var modelTrainCmd = &cobra.Command{
	Use:   "train",
	Short: "Fit the classifier on the stored dataset and save it",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		ctx := context.Background()

		store, err := openDataset(ctx, cfg)
		if err != nil {
			return fmt.Errorf("open dataset: %w", err)
		}
		defer store.Close()

		rows, err := store.Load(ctx)
		if err != nil {
			return err
		}
		m, summary, err := trainModel(cfg, rows)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Trained on %s examples, classes: %v\n", humanize.Comma(int64(summary.Count)), summary.Actions)
		fmt.Fprintf(out, "Saved %s (digest %s)\n", cfg.ModelPath(), m.Digest())
		return nil
	},
}

var modelEvaluateCmd = &cobra.Command{
	Use:   "evaluate",
	Short: "Score the classifier on a thread-grouped holdout split",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		ctx := context.Background()

		store, err := openDataset(ctx, cfg)
		if err != nil {
			return fmt.Errorf("open dataset: %w", err)
		}
		defer store.Close()

		rows, err := store.Load(ctx)
		if err != nil {
			return err
		}
		opts := dataset.DefaultSplitOptions
		opts.TestSize = evalTestSize
		opts.Seed = evalSeed
		train, test, err := dataset.GroupedSplit(rows, opts)
		if err != nil {
			return err
		}
		report, err := classifier.Evaluate(train, test, classifierOptions(cfg))
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if evalJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(report)
		}
		fmt.Fprint(out, report.String())
		return nil
	},
}

var modelPredictCmd = &cobra.Command{
	Use:   "predict",
	Short: "Predict the action for a serialized state",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()

		state := predictState
		if state == "" {
			data, err := io.ReadAll(cmd.InOrStdin())
			if err != nil {
				return fmt.Errorf("read state: %w", err)
			}
			state = strings.TrimSpace(string(data))
		}
		if state == "" {
			return fmt.Errorf("no state given (use --state or stdin)")
		}

		threshold := predictThresh
		if threshold < 0 {
			threshold = cfg.Classifier.Threshold
		}

		m, err := classifier.Load(cfg.ModelPath())
		if err != nil {
			return fmt.Errorf("load model (run `shadowshift model train` first): %w", err)
		}
		p, err := m.PredictWithThreshold(state, threshold)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%s (confidence %.3f, threshold %.2f)\n", p.Action, p.Confidence, threshold)
		fmt.Fprintf(out, "Model fitted %s\n", humanize.RelTime(m.FittedAt(), time.Now(), "ago", "from now"))
		if predictK > 0 {
			nn, err := m.Neighbors(state, predictK)
			if err != nil {
				return err
			}
			for _, n := range nn {
				fmt.Fprintf(out, "  #%-5d %-18s %.3f\n", n.Index, n.Action, n.Confidence)
			}
		}
		return nil
	},
}
