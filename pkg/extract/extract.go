// Package extract turns invoice images into structured data by prompting
// the Qwen vision API and parsing its JSON reply.
package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/Riceneeder/fapiao/pkg/convert"
	"github.com/Riceneeder/fapiao/pkg/qwen"
)

// InvoiceData holds the fields extracted from one invoice image.
type InvoiceData struct {
	// Code is the invoice code (发票代码).
	Code string `json:"code" yaml:"code"`
	// Number is the invoice number (发票号码).
	Number string `json:"number" yaml:"number"`
	// Date is the issuance date as printed, e.g. "2026-08-12".
	Date string `json:"date" yaml:"date"`
	// Buyer and Seller are the party names.
	Buyer  string `json:"buyer" yaml:"buyer"`
	Seller string `json:"seller" yaml:"seller"`
	// Items is a short description of the billed goods or services.
	Items string `json:"items" yaml:"items"`
	// Amount is the pre-tax amount, Tax the tax portion, Total the sum.
	Amount float64 `json:"amount" yaml:"amount"`
	Tax    float64 `json:"tax" yaml:"tax"`
	Total  float64 `json:"total" yaml:"total"`

	// Source is the originating file, set by the caller, not the model.
	Source string `json:"source,omitempty" yaml:"source,omitempty"`
	// Violations lists failed validation rules. Populated by Validator.
	Violations []string `json:"violations,omitempty" yaml:"violations,omitempty"`
}

const systemPrompt = `You are an invoice data extraction assistant. The user sends a photo or
scan of a Chinese VAT invoice (fapiao). Reply with exactly one JSON object
and nothing else, using these keys:
  code, number, date, buyer, seller, items (strings)
  amount, tax, total (numbers, in yuan)
Use empty strings and 0 for fields you cannot read. Do not add commentary.`

// Extractor prompts the vision model for invoice fields.
type Extractor struct {
	client *qwen.Client
	model  string
	logger zerolog.Logger
}

// NewExtractor creates an extractor using the given dispatch client and
// model name.
func NewExtractor(client *qwen.Client, model string, logger zerolog.Logger) *Extractor {
	return &Extractor{
		client: client,
		model:  model,
		logger: logger,
	}
}

// Extract sends one invoice image through the vision API and parses the
// reply into InvoiceData.
func (e *Extractor) Extract(ctx context.Context, sess *qwen.Session, imagePath string) (*InvoiceData, error) {
	dataURL, err := convert.DataURL(imagePath)
	if err != nil {
		return nil, err
	}

	req := &qwen.ChatRequest{
		Model: e.model,
		Messages: []qwen.Message{
			qwen.TextMessage("system", systemPrompt),
			{
				Role: "user",
				Content: []qwen.ContentPart{
					{Type: "text", Text: "Extract the invoice fields from this image."},
					{Type: "image_url", ImageURL: &qwen.ImageURL{URL: dataURL}},
				},
			},
		},
	}

	resp, err := e.client.Chat(ctx, sess, req)
	if err != nil {
		return nil, fmt.Errorf("extraction call failed: %w", err)
	}

	content := resp.Content()
	if content == "" {
		return nil, fmt.Errorf("model returned an empty completion")
	}

	data, err := parseInvoiceJSON(content)
	if err != nil {
		e.logger.Debug().Str("content", content).Msg("unparseable model output")
		return nil, err
	}

	data.Source = imagePath
	return data, nil
}

// parseInvoiceJSON decodes the model output, tolerating markdown code
// fences around the JSON object.
func parseInvoiceJSON(content string) (*InvoiceData, error) {
	s := strings.TrimSpace(content)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if idx := strings.LastIndex(s, "```"); idx >= 0 {
			s = s[:idx]
		}
		s = strings.TrimSpace(s)
	}

	var data InvoiceData
	if err := json.Unmarshal([]byte(s), &data); err != nil {
		return nil, fmt.Errorf("failed to parse invoice JSON: %w", err)
	}
	return &data, nil
}
