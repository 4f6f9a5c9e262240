package export

import (
	"context"
	"fmt"
	"strconv"

	"storefront/api/internal/i18n"
)

type pdfRenderer func(ctx context.Context, html string) ([]byte, error)

type Service struct {
	bundle    *i18n.Bundle
	renderPDF pdfRenderer
}

func NewService(bundle *i18n.Bundle) *Service {
	return &Service{bundle: bundle, renderPDF: renderPDF}
}

// Transcript renders a ticket transcript in the requested format. Labels
// follow req.Lang.
func (s *Service) Transcript(ctx context.Context, req Request) (*Result, error) {
	if req.Format == "" {
		req.Format = FormatPDF
	}
	if req.Format != FormatPDF && req.Format != FormatHTML {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, req.Format)
	}

	if req.Lang == "" {
		req.Lang = "en"
	}
	loc := s.bundle.Localizer(req.Lang)
	data := templateData{
		Lang:  loc.Lang(),
		Title: loc.T("export.transcript.title", map[string]any{"Number": req.Transcript.Number}),
		Labels: labels{
			Customer: loc.T("export.transcript.customer", nil),
			Status:   loc.T("export.transcript.status", nil),
			Opened:   loc.T("export.transcript.opened", nil),
			Internal: loc.T("export.transcript.internal", nil),
		},
		Transcript: req.Transcript,
	}
	html, err := renderTranscriptHTML(data)
	if err != nil {
		return nil, fmt.Errorf("render transcript: %w", err)
	}

	base := "ticket-" + strconv.FormatInt(req.Transcript.Number, 10) + "-" + sanitizeFilename(req.Transcript.Subject)
	if req.Format == FormatHTML {
		return &Result{Data: []byte(html), Filename: base + ".html", MimeType: "text/html; charset=utf-8"}, nil
	}

	pdf, err := s.renderPDF(ctx, html)
	if err != nil {
		return nil, err
	}
	return &Result{Data: pdf, Filename: base + ".pdf", MimeType: "application/pdf"}, nil
}
