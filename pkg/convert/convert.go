// Package convert talks to a remote PDF-to-image conversion service and
// prepares images for vision prompts.
package convert

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Converted maps a source PDF to the image rendered from it.
type Converted struct {
	PDFPath   string
	ImagePath string
}

// Converter uploads PDFs to a conversion service and writes the returned
// images into a working directory.
type Converter struct {
	serviceURL string
	workDir    string
	http       *http.Client
	logger     zerolog.Logger
}

// NewConverter creates a converter against the given service base URL.
func NewConverter(serviceURL, workDir string, logger zerolog.Logger) *Converter {
	return &Converter{
		serviceURL: strings.TrimSuffix(serviceURL, "/"),
		workDir:    workDir,
		http:       &http.Client{Timeout: 2 * time.Minute},
		logger:     logger,
	}
}

// ConvertDir converts every PDF in dir, returning one entry per file.
// Files are processed in name order so runs are deterministic.
func (c *Converter) ConvertDir(ctx context.Context, dir string) ([]Converted, error) {
	pdfs, err := filepath.Glob(filepath.Join(dir, "*.pdf"))
	if err != nil {
		return nil, fmt.Errorf("failed to list PDFs: %w", err)
	}
	if len(pdfs) == 0 {
		return nil, fmt.Errorf("no PDF files found in %s", dir)
	}
	sort.Strings(pdfs)

	if err := os.MkdirAll(c.workDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create work directory: %w", err)
	}

	results := make([]Converted, 0, len(pdfs))
	for _, pdf := range pdfs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		imgPath, err := c.convertOne(ctx, pdf)
		if err != nil {
			return nil, fmt.Errorf("failed to convert %s: %w", filepath.Base(pdf), err)
		}
		c.logger.Debug().Str("pdf", pdf).Str("image", imgPath).Msg("converted")
		results = append(results, Converted{PDFPath: pdf, ImagePath: imgPath})
	}

	return results, nil
}

func (c *Converter) convertOne(ctx context.Context, pdfPath string) (string, error) {
	f, err := os.Open(pdfPath)
	if err != nil {
		return "", fmt.Errorf("failed to open PDF: %w", err)
	}
	defer func() { _ = f.Close() }()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("fileInput", filepath.Base(pdfPath))
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(part, f); err != nil {
		return "", fmt.Errorf("failed to buffer PDF: %w", err)
	}
	if err := w.WriteField("imageFormat", "png"); err != nil {
		return "", err
	}
	if err := w.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.serviceURL+"/api/v1/convert/pdf/img", &buf)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("conversion request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return "", fmt.Errorf("conversion service returned status %d: %s",
			resp.StatusCode, strings.TrimSpace(string(body)))
	}

	name := strings.TrimSuffix(filepath.Base(pdfPath), filepath.Ext(pdfPath)) + ".png"
	imgPath := filepath.Join(c.workDir, name)

	out, err := os.Create(imgPath)
	if err != nil {
		return "", fmt.Errorf("failed to create image file: %w", err)
	}
	defer func() { _ = out.Close() }()

	if _, err := io.Copy(out, resp.Body); err != nil {
		return "", fmt.Errorf("failed to write image: %w", err)
	}

	return imgPath, nil
}
