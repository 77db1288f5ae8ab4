package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/Riceneeder/fapiao/pkg/convert"
	"github.com/Riceneeder/fapiao/pkg/extract"
	"github.com/Riceneeder/fapiao/pkg/qwen"
	"github.com/Riceneeder/fapiao/pkg/report"
)

func newProcessCmd(a *app) *cobra.Command {
	var (
		output       string
		templatePath string
		outFile      string
	)

	cmd := &cobra.Command{
		Use:   "process <pdf-dir>",
		Short: "Convert, extract, and report on a folder of PDF invoices",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			if a.cfg.ConvertURL == "" {
				return fmt.Errorf("convert_url is not configured")
			}

			client, err := a.newClient()
			if err != nil {
				return err
			}

			converter := convert.NewConverter(a.cfg.ConvertURL, a.cfg.WorkDir, a.logger)
			extractor := extract.NewExtractor(client, a.cfg.Model, a.logger)

			validator, err := extract.NewValidator(a.cfg.Rules)
			if err != nil {
				return err
			}

			spinner, _ := pterm.DefaultSpinner.Start("Converting PDFs...")
			converted, err := converter.ConvertDir(ctx, args[0])
			if err != nil {
				spinner.Fail("Conversion failed")
				return err
			}
			spinner.Success(fmt.Sprintf("Converted %d PDFs", len(converted)))

			sess := &qwen.Session{}
			invoices := make([]extract.InvoiceData, 0, len(converted))

			bar, _ := pterm.DefaultProgressbar.
				WithTotal(len(converted)).WithTitle("Extracting").Start()
			for _, item := range converted {
				bar.UpdateTitle(filepath.Base(item.PDFPath))

				data, err := extractor.Extract(ctx, sess, item.ImagePath)
				if err != nil {
					_, _ = bar.Stop()
					return fmt.Errorf("extraction failed for %s: %w",
						filepath.Base(item.PDFPath), err)
				}
				data.Source = item.PDFPath

				if err := validator.Validate(data); err != nil {
					_, _ = bar.Stop()
					return err
				}

				invoices = append(invoices, *data)
				bar.Increment()
			}
			_, _ = bar.Stop()

			templateText := ""
			if templatePath == "" {
				templatePath = a.cfg.Template
			}
			if templatePath != "" {
				raw, err := os.ReadFile(templatePath)
				if err != nil {
					return fmt.Errorf("failed to read template: %w", err)
				}
				templateText = string(raw)
			}

			rendered, err := report.Format(invoices, output, templateText)
			if err != nil {
				return err
			}

			if outFile != "" {
				if err := os.WriteFile(outFile, []byte(rendered), 0644); err != nil {
					return fmt.Errorf("failed to write report: %w", err)
				}
				pterm.Success.Printfln("Report written to %s", outFile)
				return nil
			}

			fmt.Println(rendered)
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "markdown", "Output format: markdown, json, yaml, table")
	cmd.Flags().StringVar(&templatePath, "template", "", "Report template file (markdown output)")
	cmd.Flags().StringVar(&outFile, "out", "", "Write the report to a file instead of stdout")

	return cmd
}
