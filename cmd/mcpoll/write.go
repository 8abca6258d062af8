package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/arloliu/go-mcprotocol/mc"
)

func newWriteCmd(root *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "write <tag> <value>",
		Short: "Write one tag",
		Long: `Write one tag or address. Arrays take comma separated values, e.g.
"mcpoll write D100,3 1,2,3". Bits accept true/false or 1/0.`,
		Example: `  mcpoll write --config plc.yaml temperature 42`,
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWrite(cmd.Context(), root, args[0], args[1], cmd.OutOrStdout())
		},
	}

	return cmd
}

func runWrite(ctx context.Context, root *rootFlags, tag, text string, out io.Writer) error {
	conn, client, err := connect(ctx, root)
	if err != nil {
		return err
	}
	defer client.Close()

	item, err := mc.ParseAddress(conn.Translate(tag), client.GetConfig().OctalInputOutput())
	if err != nil {
		return err
	}
	value, err := parseValue(item, text)
	if err != nil {
		return err
	}

	done := make(chan bool, 1)
	if err := client.WriteItem(tag, value, func(anyBad bool) { done <- anyBad }); err != nil {
		return err
	}

	select {
	case anyBad := <-done:
		if anyBad {
			return fmt.Errorf("write %s failed", tag)
		}
	case <-ctx.Done():
		return ctx.Err()
	}

	fmt.Fprintf(out, "%s = %v\n", tag, value)

	return nil
}
