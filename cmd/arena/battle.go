package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/ahrav/go-arena/internal/application"
	"github.com/ahrav/go-arena/internal/domain"
)

type battleOptions struct {
	left, right string
}

func newBattleCmd(root *rootOptions) *cobra.Command {
	opts := &battleOptions{}
	cmd := &cobra.Command{
		Use:   "battle [message]",
		Short: "Compare two anonymous answers once",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(root.configPath)
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), cfg, appOptions{})
			if err != nil {
				return err
			}
			defer a.Close()

			in := bufio.NewReader(cmd.InOrStdin())
			message := ""
			if len(args) == 1 {
				message = args[0]
			} else if message, err = prompt(in, cmd.OutOrStdout(), "Message: "); err != nil {
				return err
			}
			return playBattle(cmd.Context(), a.manager, application.BattleRequest{
				Message: message,
				Left:    opts.left,
				Right:   opts.right,
			}, in, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&opts.left, "left", "", "pin the left contender")
	cmd.Flags().StringVar(&opts.right, "right", "", "pin the right contender")
	cmd.MarkFlagsRequiredTogether("left", "right")
	return cmd
}

func playBattle(ctx context.Context, m *application.Manager, req application.BattleRequest, in *bufio.Reader, out io.Writer) error {
	b, err := m.StartBattle(ctx, req)
	if err != nil {
		return err
	}
	printPair(out, 0, 1, &domain.Pair{Left: b.Left.Contender, Right: b.Right.Contender}, map[string]domain.Response{
		b.Left.Contender:  *b.Left.Response,
		b.Right.Contender: *b.Right.Response,
	})

	for {
		raw, err := prompt(in, out, "Better answer [left/right/tie/both_bad]: ")
		if err != nil {
			return err
		}
		res, err := m.VoteBattle(ctx, b.ID, raw)
		if errors.Is(err, domain.ErrInvalidChoice) {
			fmt.Fprintln(out, "Please answer left, right, tie or both_bad.")
			continue
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "LEFT was %s, RIGHT was %s.\n", b.Left.Contender, b.Right.Contender)
		for _, r := range res.Ratings {
			fmt.Fprintf(out, "  %s now rated %.1f\n", r.Contender, r.Score)
		}
		return nil
	}
}
