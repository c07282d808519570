package main

import (
	"strings"

	"github.com/spf13/cobra"
)

var routeCmd = &cobra.Command{
	Use:   "route <query>",
	Short: "Show which path a farming question would take",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		return printJSON(env.Router.Route(cmd.Context(), strings.Join(args, " ")))
	},
}

func init() {
	rootCmd.AddCommand(routeCmd)
}
