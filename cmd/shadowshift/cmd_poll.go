package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/user/shadowshift/internal/classifier"
	"github.com/user/shadowshift/internal/delivery"
	"github.com/user/shadowshift/internal/poller"
	"github.com/user/shadowshift/internal/state"
	"github.com/user/shadowshift/internal/types"
)

var pollNoStore bool

func init() {
	pollCmd.Flags().BoolVar(&pollNoStore, "no-store", false, "print suggestions without recording them")
	rootCmd.AddCommand(pollCmd)
}

var pollCmd = &cobra.Command{
	Use:   "poll",
	Short: "Run one poll cycle and print the suggestions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		logger := setupLogging(cfg)
		defer logger.Sync()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		drafter, err := newDrafter(ctx, cfg, logger)
		if err != nil {
			return fmt.Errorf("create drafter: %w", err)
		}

		out := cmd.OutOrStdout()
		reg := delivery.NewRegistry()
		reg.Register("stdout", "", func(_ context.Context, s *types.Suggestion) error {
			printSuggestion(out, s)
			return nil
		})
		if !pollNoStore {
			reg.Register("store", "", state.NewSuggestionStore(cfg.DataDir).Deliver)
		}

		opts := []poller.Option{poller.WithSink(reg)}
		if m, err := classifier.Load(cfg.ModelPath()); err == nil {
			opts = append(opts, poller.WithPredictor(m))
		} else {
			logger.Sugar().Infof("no model loaded, suggestions carry no action: %v", err)
		}

		orch, err := newOrchestrator(cfg, drafter, logger, opts...)
		if err != nil {
			return err
		}
		stats, err := orch.RunOnce(ctx)
		if err != nil {
			return err
		}
		printStats(out, stats)
		return nil
	},
}

func printSuggestion(w io.Writer, s *types.Suggestion) {
	fmt.Fprintf(w, "[%s]", s.Key())
	if s.Action != "" {
		fmt.Fprintf(w, " %s %.0f%%", s.Action, s.Confidence*100)
	}
	fmt.Fprintln(w)
	if s.Subject != "" {
		fmt.Fprintf(w, "  Subject: %s\n", s.Subject)
	}
	for _, line := range strings.Split(strings.TrimSpace(s.Body), "\n") {
		fmt.Fprintf(w, "  %s\n", line)
	}
	fmt.Fprintln(w)
}

func printStats(w io.Writer, st poller.Stats) {
	fmt.Fprintf(w, "Run %s: %s in %s\n", st.RunID, st.Status, st.Duration().Round(time.Millisecond))

	kinds := make([]string, 0, len(st.Found))
	for k := range st.Found {
		kinds = append(kinds, string(k))
	}
	sort.Strings(kinds)
	for _, k := range kinds {
		fmt.Fprintf(w, "  %-5s %d records\n", k, st.Found[types.Source(k)])
	}
	fmt.Fprintf(w, "  drafted %d\n", st.Drafted)
	for _, e := range st.Errors {
		fmt.Fprintf(w, "  error: %s\n", e)
	}
}
