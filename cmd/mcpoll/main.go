// Command mcpoll polls and writes MC protocol 1E devices described in a YAML file.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/arloliu/go-mcprotocol/config"
	"github.com/arloliu/go-mcprotocol/logger"
	"github.com/arloliu/go-mcprotocol/mcclient"
)

type rootFlags struct {
	configPath string
	connection string
	logLevel   string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.SetLogger(logger.NewSlogWithWriter(os.Stderr, logger.InfoLevel, false))
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		stop()
		logger.Fatal("mcpoll failed", "error", err)
	}
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}

	cmd := &cobra.Command{
		Use:   "mcpoll",
		Short: "MC protocol 1E client for Mitsubishi PLCs",
		Long: `mcpoll connects to a PLC over the MC protocol 1E frame, reads the tags
of a YAML connection file periodically and writes single tags on demand.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "mcpoll.yaml", "Connection file")
	cmd.PersistentFlags().StringVar(&flags.connection, "connection", "", "Connection name (default: first in file)")
	cmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "info", "Log level: debug, info, warn, error")

	cmd.AddCommand(newPollCmd(flags))
	cmd.AddCommand(newWriteCmd(flags))

	return cmd
}

// connect loads the selected connection, creates its client and waits for the first
// connection attempt to finish.
func connect(ctx context.Context, flags *rootFlags) (*config.Connection, *mcclient.Client, error) {
	level, err := logger.ParseLevel(flags.logLevel)
	if err != nil {
		return nil, nil, err
	}
	logger.SetLogger(logger.NewSlogWithWriter(os.Stderr, level, false))

	file, err := config.Load(flags.configPath)
	if err != nil {
		return nil, nil, err
	}
	logger.Debug("configuration loaded", "path", flags.configPath, "connections", len(file.Connections))

	conn, err := file.Find(flags.connection)
	if err != nil {
		return nil, nil, err
	}
	logger.Info("connecting", "connection", conn.Name, "host", conn.Host, "port", conn.Port, "tags", len(conn.Tags))

	client, err := conn.NewClient(ctx, logger.GetLogger())
	if err != nil {
		return nil, nil, err
	}

	result := make(chan error, 1)
	err = client.Open(func(err error) {
		select {
		case result <- err:
		default:
		}
	})
	if err != nil {
		_ = client.Close()
		return nil, nil, err
	}

	select {
	case err = <-result:
	case <-ctx.Done():
		err = ctx.Err()
	}
	if err != nil {
		logger.Error("connect failed", "connection", conn.Name, "error", err)
		_ = client.Close()
		return nil, nil, err
	}

	return conn, client, nil
}
