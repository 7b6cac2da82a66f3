package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var (
	execConnect connectFlags
	execOutput  string
)

var execCmd = &cobra.Command{
	Use:   "exec SQL",
	Short: "Execute SQL statements and print their results",
	Long: `Execute one or more semicolon separated SQL statements against the local
data directory, a query server (--remote) or a ZeroMQ endpoint
(--zmq-endpoint).`,
	Example: `  otterbrix exec "CREATE DATABASE db; CREATE TABLE db.c();"
  otterbrix exec --remote 127.0.0.1:7400 "SELECT name FROM db.c;"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}

		q, err := connect(ctx, execConnect)
		if err != nil {
			return err
		}
		defer q.close()

		for _, stmt := range splitStatements(strings.Join(args, " ")) {
			res, err := q.query(ctx, stmt)
			if err != nil {
				return fmt.Errorf("%s: %w", stmt, err)
			}
			err = render(cmd.OutOrStdout(), res, execOutput)
			res.release()
			if err != nil {
				return err
			}
		}
		return nil
	},
}

func init() {
	execConnect.register(execCmd.Flags())
	execCmd.Flags().StringVarP(&execOutput, "output", "o", "table", "output format (table, json)")
}
