package pipeline

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rewired-gh/adreport/internal/extractor"
	"github.com/rewired-gh/adreport/internal/logger"
	"github.com/rewired-gh/adreport/internal/mailer"
	"github.com/rewired-gh/adreport/internal/models"
	"github.com/rewired-gh/adreport/internal/transformer"
)

// SampleCatalog and SampleOffset describe the layout SampleReport emits.
var SampleCatalog = []string{
	"PAGE_VIEWS",
	"ESTIMATED_EARNINGS",
	"INDIVIDUAL_AD_IMPRESSIONS",
	"ACTIVE_VIEW_VIEWABILITY",
}

const SampleOffset = 2

type sampleRow struct {
	daysAgo     int
	domain      string
	pageViews   string
	earnings    string
	impressions string
	viewability string
}

// Yesterday's 79.80 against 30.00 eight days ago gives a +49.80 change.
var sampleRows = []sampleRow{
	{0, "example.com", "800", "75.0", "2400", "82.1"},
	{1, "example.com", "650", "48.6", "1950", "79.3"},
	{1, "blog.example.com", "420", "31.2", "1260", "76.8"},
	{2, "example.com", "720", "63.8", "2160", "80.5"},
	{3, "example.com", "580", "42.0", "1740", "77.2"},
	{4, "blog.example.com", "690", "65.1", "2070", "81.3"},
	{5, "example.com", "750", "75.4", "2250", "83.7"},
	{6, "example.com", "620", "49.4", "1860", "78.9"},
	{7, "blog.example.com", "710", "69.0", "2130", "80.1"},
	{8, "example.com", "450", "30.0", "1350", "74.5"},
}

// SampleReport returns a month-to-date report dated relative to now, laid out
// as DATE, DOMAIN_CODE followed by SampleCatalog. Transform it with
// NewSampleTransformer, not with one built from the configured catalog.
func SampleReport(now time.Time) *models.RawReport {
	report := &models.RawReport{
		Totals: &models.CellGroup{Cells: []models.Cell{
			{}, {},
			models.NewCell("5000"),
			models.NewCell("420.0"),
			models.NewCell("15000"),
			models.NewCell("75.5"),
		}},
		Averages: &models.CellGroup{Cells: []models.Cell{
			{}, {},
			models.NewCell("714"),
			models.NewCell("60.0"),
			models.NewCell("2142"),
			models.NewCell("78.2"),
		}},
		Rows: make([]models.CellGroup, 0, len(sampleRows)),
	}

	for _, r := range sampleRows {
		report.Rows = append(report.Rows, models.CellGroup{Cells: []models.Cell{
			models.NewCell(now.AddDate(0, 0, -r.daysAgo).Format("2006-01-02")),
			models.NewCell(r.domain),
			models.NewCell(r.pageViews),
			models.NewCell(r.earnings),
			models.NewCell(r.impressions),
			models.NewCell(r.viewability),
		}})
	}
	return report
}

// NewSampleTransformer returns a transformer matching the SampleReport layout.
// Only the clock, location and recent-day cap of cfg are used.
func NewSampleTransformer(cfg transformer.Config) (*transformer.Transformer, error) {
	ext, err := extractor.New(SampleCatalog, SampleOffset, nil)
	if err != nil {
		return nil, err
	}
	return transformer.New(ext, cfg)
}

// PreviewFileName is the file a locale's preview is written to.
func PreviewFileName(locale string) string {
	return fmt.Sprintf("adsense-mail-preview-%s.txt", locale)
}

// WritePreviews renders data in every locale and writes one file per locale
// into dir. It returns the written paths in locale order.
func WritePreviews(dir string, renderer *mailer.Renderer, data *models.NotificationData) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create preview directory: %w", err)
	}

	var paths []string
	for _, locale := range mailer.Locales() {
		msg, err := renderer.Render(locale, data)
		if err != nil {
			return nil, fmt.Errorf("failed to render %s preview: %w", locale, err)
		}

		path := filepath.Join(dir, PreviewFileName(locale))
		content := fmt.Sprintf("Subject: %s\n\n%s", msg.Subject, msg.Body)
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			return nil, fmt.Errorf("failed to write %s preview: %w", locale, err)
		}
		logger.Info("Wrote %s preview to %s", locale, path)
		paths = append(paths, path)
	}
	return paths, nil
}
