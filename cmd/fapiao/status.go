package main

import (
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/Riceneeder/fapiao/pkg/qwen"
)

func newStatusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show stored credential state",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.newClient()
			if err != nil {
				return err
			}

			sess, err := client.LoadSession()
			if err != nil {
				return err
			}
			if sess.Token == nil {
				pterm.Warning.Println("Not logged in. Run `fapiao login` first.")
				return nil
			}

			rows := pterm.TableData{
				{"Email", orDash(sess.Email)},
				{"Expires", sess.Token.Expiry.Format(time.RFC3339)},
				{"Expired", boolWord(sess.Token.Expired())},
				{"Refreshable", boolWord(sess.Token.RefreshToken != "")},
				{"Resource URL", orDash(sess.Token.ResourceURL)},
			}

			// Best-effort claim peek: qwen access tokens are usually opaque,
			// but show claims when the token happens to be a JWT.
			if claims, err := qwen.InspectToken(sess.Token.AccessToken); err == nil {
				if claims.Subject != "" {
					rows = append(rows, []string{"Subject", claims.Subject})
				}
				if claims.Issuer != "" {
					rows = append(rows, []string{"Issuer", claims.Issuer})
				}
				if claims.Email != "" {
					rows = append(rows, []string{"Token email", claims.Email})
				}
			}

			return pterm.DefaultTable.WithData(rows).Render()
		},
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func boolWord(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
