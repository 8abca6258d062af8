package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"time"

	"github.com/spf13/cobra"

	"github.com/arloliu/go-mcprotocol/internal/pool"
	"github.com/arloliu/go-mcprotocol/logger"
	"github.com/arloliu/go-mcprotocol/mcclient"
)

type pollFlags struct {
	count    int
	interval time.Duration
}

func newPollCmd(root *rootFlags) *cobra.Command {
	flags := &pollFlags{}

	cmd := &cobra.Command{
		Use:     "poll",
		Short:   "Read all tags of a connection periodically",
		Example: `  mcpoll poll --config plc.yaml --connection line1 --count 10`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runPoll(cmd.Context(), root, flags, cmd.OutOrStdout())
		},
	}

	cmd.Flags().IntVarP(&flags.count, "count", "n", 0, "Number of read cycles, 0 polls until interrupted")
	cmd.Flags().DurationVarP(&flags.interval, "interval", "i", 0, "Poll interval (default: poll_interval of the connection)")

	return cmd
}

func runPoll(ctx context.Context, root *rootFlags, flags *pollFlags, out io.Writer) error {
	conn, client, err := connect(ctx, root)
	if err != nil {
		return err
	}
	defer client.Close()

	interval := flags.interval
	if interval <= 0 {
		interval = conn.Interval()
	}
	log := logger.With("connection", conn.Name)
	log.Info("polling", "interval", interval, "count", flags.count)

	for cycle := 1; flags.count == 0 || cycle <= flags.count; cycle++ {
		begin := time.Now()

		res, err := readOnce(ctx, client)
		if errors.Is(err, context.Canceled) {
			return nil
		} else if err != nil {
			return err
		}
		if res.anyBad {
			log.Warn("read cycle with bad quality", "cycle", cycle)
		}
		printCycle(out, cycle, res)

		if flags.count != 0 && cycle == flags.count {
			break
		}
		if pool.Sleep(ctx, interval-time.Since(begin)) != nil {
			return nil
		}
	}

	return nil
}

type cycleResult struct {
	anyBad bool
	values map[string]any
}

func readOnce(ctx context.Context, client *mcclient.Client) (cycleResult, error) {
	ch := make(chan cycleResult, 1)
	err := client.ReadAllItems(func(anyBad bool, values map[string]any) {
		ch <- cycleResult{anyBad: anyBad, values: values}
	})
	if err != nil {
		return cycleResult{}, err
	}

	select {
	case res := <-ch:
		return res, nil
	case <-ctx.Done():
		return cycleResult{}, ctx.Err()
	}
}

func printCycle(out io.Writer, cycle int, res cycleResult) {
	status := "good"
	if res.anyBad {
		status = "bad"
	}
	fmt.Fprintf(out, "#%d %s %s\n", cycle, time.Now().Format(time.RFC3339Nano), status)

	aliases := make([]string, 0, len(res.values))
	for alias := range res.values {
		aliases = append(aliases, alias)
	}
	slices.Sort(aliases)

	for _, alias := range aliases {
		fmt.Fprintf(out, "  %-24s %v\n", alias, res.values[alias])
	}
}

