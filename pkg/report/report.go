// Package report renders extracted invoice data as documents or
// machine-readable output.
package report

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/pterm/pterm"
	"gopkg.in/yaml.v3"

	"github.com/Riceneeder/fapiao/pkg/extract"
)

// DefaultTemplate is the built-in markdown report.
const DefaultTemplate = `# Invoice Report

Generated: {{ .Generated.Format "2006-01-02 15:04" }}
Invoices: {{ len .Invoices }}

| Code | Number | Date | Seller | Amount | Tax | Total |
|------|--------|------|--------|-------:|----:|------:|
{{- range .Invoices }}
| {{ .Code }} | {{ .Number }} | {{ .Date }} | {{ .Seller }} | {{ printf "%.2f" .Amount }} | {{ printf "%.2f" .Tax }} | {{ printf "%.2f" .Total }} |
{{- end }}

Grand total: {{ printf "%.2f" .GrandTotal }}
{{- if .Violations }}

## Validation failures
{{- range .Violations }}
- {{ . }}
{{- end }}
{{- end }}
`

// Data is the template context.
type Data struct {
	Generated  time.Time
	Invoices   []extract.InvoiceData
	GrandTotal float64
	Violations []string
}

// NewData builds the template context from extracted invoices.
func NewData(invoices []extract.InvoiceData) *Data {
	d := &Data{
		Generated: time.Now(),
		Invoices:  invoices,
	}
	for _, inv := range invoices {
		d.GrandTotal += inv.Total
		for _, v := range inv.Violations {
			d.Violations = append(d.Violations, fmt.Sprintf("%s: %s", inv.Number, v))
		}
	}
	return d
}

// Render executes templateText (or DefaultTemplate when empty) against the
// invoice data.
func Render(invoices []extract.InvoiceData, templateText string) (string, error) {
	if templateText == "" {
		templateText = DefaultTemplate
	}

	tmpl, err := template.New("report").Parse(templateText)
	if err != nil {
		return "", fmt.Errorf("failed to parse report template: %w", err)
	}

	var sb strings.Builder
	if err := tmpl.Execute(&sb, NewData(invoices)); err != nil {
		return "", fmt.Errorf("failed to render report: %w", err)
	}

	return sb.String(), nil
}

// FormatJSON renders the invoices as indented JSON.
func FormatJSON(invoices []extract.InvoiceData) (string, error) {
	data, err := json.MarshalIndent(invoices, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal invoices: %w", err)
	}
	return string(data), nil
}

// FormatYAML renders the invoices as YAML.
func FormatYAML(invoices []extract.InvoiceData) (string, error) {
	data, err := yaml.Marshal(invoices)
	if err != nil {
		return "", fmt.Errorf("failed to marshal invoices: %w", err)
	}
	return string(data), nil
}

// FormatTable renders the invoices as a terminal table.
func FormatTable(invoices []extract.InvoiceData) (string, error) {
	rows := pterm.TableData{
		{"Code", "Number", "Date", "Seller", "Amount", "Tax", "Total"},
	}
	for _, inv := range invoices {
		rows = append(rows, []string{
			inv.Code,
			inv.Number,
			inv.Date,
			inv.Seller,
			fmt.Sprintf("%.2f", inv.Amount),
			fmt.Sprintf("%.2f", inv.Tax),
			fmt.Sprintf("%.2f", inv.Total),
		})
	}

	return pterm.DefaultTable.WithHasHeader().WithData(rows).Srender()
}

// Format dispatches on the output format name: json, yaml, table, or
// markdown (template rendering).
func Format(invoices []extract.InvoiceData, format, templateText string) (string, error) {
	switch format {
	case "json":
		return FormatJSON(invoices)
	case "yaml":
		return FormatYAML(invoices)
	case "table":
		return FormatTable(invoices)
	case "markdown", "":
		return Render(invoices, templateText)
	default:
		return "", fmt.Errorf("unsupported output format: %s", format)
	}
}
