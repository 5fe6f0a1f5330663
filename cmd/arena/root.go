package main

import (
	"github.com/spf13/cobra"
)

const defaultConfigPath = "arena.yaml"

type rootOptions struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "arena",
		Short: "Blind multi-model arena",
		Long: `Arena sends one prompt to several language models and lets you pick
the better answer, pair by pair, without seeing which model wrote it. The
winner of each round stays on against the next contender. Every vote updates
a persistent Elo leaderboard.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", defaultConfigPath, "path to the arena config file")

	cmd.AddCommand(
		newPlayCmd(opts),
		newBattleCmd(opts),
		newLeaderboardCmd(opts),
		newExportCmd(opts),
	)
	return cmd
}
