package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/duckstax/otterbrix-go/api"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Manage query server auth tokens",
}

var tokenGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Print a random token",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		token, err := api.GenerateToken()
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

var tokenHashCmd = &cobra.Command{
	Use:   "hash TOKEN",
	Short: "Print the bcrypt hash of TOKEN for use as auth.token",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		hash, err := api.HashToken(args[0])
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), hash)
		return nil
	},
}

func init() {
	tokenCmd.AddCommand(tokenGenerateCmd)
	tokenCmd.AddCommand(tokenHashCmd)
}
