package main

import (
	"fmt"

	"github.com/pterm/pterm"
	"github.com/skratchdot/open-golang/open"
	"github.com/spf13/cobra"
)

func newLoginCmd(a *app) *cobra.Command {
	var (
		email     string
		noBrowser bool
	)

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Authorize this device with your Qwen account",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			client, err := a.newClient()
			if err != nil {
				return err
			}

			session, err := client.StartDeviceFlow(ctx)
			if err != nil {
				return fmt.Errorf("failed to start device authorization: %w", err)
			}

			pterm.DefaultBox.WithTitle("Device Authorization").Println(
				"Code: " + pterm.Bold.Sprint(session.UserCode) + "\n" +
					"URL:  " + session.VerificationURIComplete)

			if !noBrowser {
				if err := open.Run(session.VerificationURIComplete); err != nil {
					pterm.Warning.Println("Could not open browser, please visit the URL above.")
				}
			}

			spinner, _ := pterm.DefaultSpinner.Start("Waiting for authorization...")

			token, err := client.PollForToken(ctx, session, email)
			if err != nil {
				spinner.Fail("Authorization failed")
				return err
			}

			spinner.Success("Authorized")
			pterm.Info.Printfln("Access token valid until %s",
				token.Expiry.Format("2006-01-02 15:04:05"))
			return nil
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "Account identifier stored with the credentials")
	cmd.Flags().BoolVar(&noBrowser, "no-browser", false, "Do not open the verification URL in a browser")

	return cmd
}
