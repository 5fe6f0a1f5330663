package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ahrav/go-arena/internal/application"
)

func newLeaderboardCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "leaderboard",
		Short: "Show contenders ranked by Elo rating",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(root.configPath)
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), cfg, appOptions{})
			if err != nil {
				return err
			}
			defer a.Close()
			return printLeaderboard(cmd.Context(), a.manager, cmd.OutOrStdout())
		},
	}
}

func printLeaderboard(ctx context.Context, m *application.Manager, out io.Writer) error {
	entries, err := m.Leaderboard(ctx)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "RANK\tCONTENDER\tRATING\tBATTLES\tWIN RATE")
	for _, e := range entries {
		fmt.Fprintf(w, "%d\t%s\t%.1f\t%d\t%.0f%%\n", e.Rank, e.Contender, e.Rating, e.Battles, e.WinRate*100)
	}
	return w.Flush()
}
