package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/ahrav/go-arena/internal/application"
	"github.com/ahrav/go-arena/internal/domain"
)

type playOptions struct {
	poolSize    int
	metricsAddr string
}

func newPlayCmd(root *rootOptions) *cobra.Command {
	opts := &playOptions{}
	cmd := &cobra.Command{
		Use:   "play [message]",
		Short: "Run an interactive tournament for one message",
		Long: `Play sends the message to every contender and shows two anonymous
answers at a time. Answer left, right or tie after each pair. Model names
are revealed when the tournament ends.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(root.configPath)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			a, err := newApp(ctx, cfg, appOptions{})
			if err != nil {
				return err
			}
			defer a.Close()

			if opts.metricsAddr != "" {
				stop := serveMetrics(a, opts.metricsAddr)
				defer stop()
			}

			in := bufio.NewReader(cmd.InOrStdin())
			message := strings.Join(args, " ")
			if message == "" {
				if message, err = prompt(in, cmd.OutOrStdout(), "Message: "); err != nil {
					return err
				}
			}

			intent := application.Route(ctx, a.router, message, a.logger)
			if !application.EntersArena(intent) {
				fmt.Fprintf(cmd.OutOrStdout(), "This message was routed as %s and will not enter the arena.\n", intent)
				return nil
			}
			return playTournament(ctx, a.manager, message, opts.poolSize, in, cmd.OutOrStdout())
		},
	}
	cmd.Flags().IntVar(&opts.poolSize, "pool-size", 0, "number of contenders to sample (0 uses the configured size)")
	cmd.Flags().StringVar(&opts.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address while playing")
	return cmd
}

// playTournament drives one tournament to completion from line input.
func playTournament(ctx context.Context, m *application.Manager, message string, poolSize int, in *bufio.Reader, out io.Writer) error {
	start, err := m.Start(ctx, application.StartRequest{Message: message, PoolSize: poolSize})
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Tournament %s: %d contenders, %d rounds\n", start.SessionID, len(start.Contenders), start.TotalRounds)

	res, err := m.GetResponses(ctx, start.SessionID)
	if err != nil {
		return err
	}
	pair, responses, round := res.CurrentPair, res.Responses, res.Round

	for {
		printPair(out, round, start.TotalRounds, pair, responses)
		raw, err := prompt(in, out, "Better answer [left/right/tie]: ")
		if err != nil {
			return err
		}
		result, err := m.SubmitChoice(ctx, start.SessionID, raw)
		if errors.Is(err, domain.ErrInvalidChoice) {
			fmt.Fprintln(out, "Please answer left, right or tie.")
			continue
		}
		if err != nil {
			return err
		}
		if !result.Continuing {
			printResult(out, result)
			return nil
		}
		pair, responses, round = result.NextPair, result.Responses, result.Round
	}
}

func printPair(out io.Writer, round, total int, pair *domain.Pair, responses map[string]domain.Response) {
	fmt.Fprintf(out, "\n=== Round %d of %d ===\n", round+1, total)
	for _, side := range []struct {
		label string
		id    string
	}{{"LEFT", pair.Left}, {"RIGHT", pair.Right}} {
		fmt.Fprintf(out, "\n--- %s ---\n%s\n", side.label, responses[side.id].Text)
	}
	fmt.Fprintln(out)
}

func printResult(out io.Writer, result application.ChoiceResult) {
	fmt.Fprintln(out, "\n=== Final ranking ===")
	for i, id := range result.FinalRanking {
		fmt.Fprintf(out, "%d. %s\n", i+1, id)
	}
	fmt.Fprintln(out, "\nRounds:")
	for _, c := range result.History {
		fmt.Fprintf(out, "  %d. %s vs %s: %s (winner %s)\n", c.Round+1, c.Pair.Left, c.Pair.Right, c.Choice, c.Winner)
	}
}

func prompt(in *bufio.Reader, out io.Writer, label string) (string, error) {
	fmt.Fprint(out, label)
	line, err := in.ReadString('\n')
	if err != nil && (!errors.Is(err, io.EOF) || line == "") {
		return "", fmt.Errorf("read input: %w", err)
	}
	return strings.TrimSpace(line), nil
}

// serveMetrics exposes the app registry over HTTP until stop is called.
func serveMetrics(a *app, addr string) (stop func()) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	logger := a.logger.WithComponent("metrics")
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "addr", addr, "error", err)
		}
	}()
	logger.Info("serving metrics", "addr", addr)
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}
