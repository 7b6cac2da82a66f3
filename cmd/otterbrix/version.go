package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/duckstax/otterbrix-go/bridge"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		native := "unavailable (built without the otterbrix tag)"
		if bridge.Available() {
			native = "linked"
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s v%s\nnative library: %s\n", Name, Version, native)
	},
}
