package main

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"goalcoach/internal/conversation"
	"goalcoach/internal/gateway/app"
)

func newStateCmd(opts *globalOptions) *cobra.Command {
	stateCmd := &cobra.Command{
		Use:   "state",
		Short: "Inspect or reset stored conversation state",
	}

	var showUser string
	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Print one user's state as JSON, or list known users",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := app.NewStoreOnly(cmd.Context(), opts.cfg, opts.logger)
			if err != nil {
				return err
			}
			defer a.Close()

			out := cmd.OutOrStdout()
			if !cmd.Flags().Changed("user") {
				users := a.Store().Users()
				sort.Strings(users)
				for _, u := range users {
					fmt.Fprintln(out, u)
				}
				return nil
			}
			b, err := json.MarshalIndent(a.Store().Load(showUser), "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(out, string(b))
			return nil
		},
	}
	showCmd.Flags().StringVar(&showUser, "user", "", "user id (blank selects "+conversation.AnonymousKey+")")

	var resetUser string
	resetCmd := &cobra.Command{
		Use:   "reset",
		Short: "Forget one user (--user) or everyone",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := app.NewStoreOnly(cmd.Context(), opts.cfg, opts.logger)
			if err != nil {
				return err
			}
			defer a.Close()

			out := cmd.OutOrStdout()
			if cmd.Flags().Changed("user") {
				a.Store().Reset(resetUser)
				fmt.Fprintf(out, "reset %s\n", conversation.UserKey(resetUser))
				return nil
			}
			n := len(a.Store().Users())
			a.Store().ResetAll()
			fmt.Fprintf(out, "reset %d %s\n", n, plural(n, "user", "users"))
			return nil
		},
	}
	resetCmd.Flags().StringVar(&resetUser, "user", "", "user id to reset")

	stateCmd.AddCommand(showCmd, resetCmd)
	return stateCmd
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
