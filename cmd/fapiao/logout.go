package main

import (
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

func newLogoutCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Delete stored credentials",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.newStore()
			if err != nil {
				return err
			}
			if err := store.Delete(); err != nil {
				return err
			}
			pterm.Success.Println("Credentials removed.")
			return nil
		},
	}
}
