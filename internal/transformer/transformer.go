// Package transformer reshapes a raw positional report into notification data.
package transformer

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rewired-gh/adreport/internal/extractor"
	"github.com/rewired-gh/adreport/internal/logger"
	"github.com/rewired-gh/adreport/internal/models"
)

const (
	dateLayout       = "2006-01-02"
	reportDateLayout = "2006-01-02 15:04:05"

	dateColumn   = 0
	domainColumn = 1

	// Placeholder labels for rows missing a dimension value.
	notAvailable  = "N/A"
	unknownDomain = "Unknown"
)

type Config struct {
	// RecentDays caps the recent history list.
	RecentDays int
	// Location is the time zone report dates are expressed in.
	Location *time.Location
	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time
}

func DefaultConfig() Config {
	return Config{
		RecentDays: 7,
		Location:   time.UTC,
		Now:        time.Now,
	}
}

// ratioLabels are per-impression or per-click rates. Summing them across rows
// is meaningless, so the domain breakdown folds them as a running average.
var ratioLabels = map[string]bool{
	models.LabelViewability: true,
	models.LabelCPC:         true,
}

type Transformer struct {
	ext      *extractor.Extractor
	earnings string
	config   Config
}

// New returns a transformer over ext. The catalog must carry an earnings metric.
func New(ext *extractor.Extractor, config Config) (*Transformer, error) {
	if ext == nil {
		return nil, errors.New("extractor must not be nil")
	}
	earnings, ok := ext.MetricFor(models.LabelEarnings)
	if !ok {
		return nil, fmt.Errorf("metric catalog has no metric labelled %q", models.LabelEarnings)
	}
	if config.RecentDays < 0 {
		config.RecentDays = 0
	}
	if config.Location == nil {
		config.Location = time.UTC
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	return &Transformer{ext: ext, earnings: earnings.Name, config: config}, nil
}

func (t *Transformer) hasDomain() bool {
	return t.ext.Offset() > domainColumn
}

// Transform builds notification data from raw. A missing totals section is
// fatal; every other missing section degrades to zero or empty values.
func (t *Transformer) Transform(raw *models.RawReport) (*models.NotificationData, error) {
	if raw == nil || raw.Totals == nil {
		return nil, models.ErrMissingTotals
	}

	now := t.config.Now().In(t.config.Location)

	totals, err := t.ext.ExtractSet(raw.Totals)
	if err != nil {
		return nil, fmt.Errorf("failed to extract totals: %w", err)
	}
	averages, err := t.ext.ExtractSet(raw.Averages)
	if err != nil {
		return nil, fmt.Errorf("failed to extract averages: %w", err)
	}

	today, err := t.earningsOn(raw.Rows, now)
	if err != nil {
		return nil, err
	}
	yesterday, err := t.earningsOn(raw.Rows, now.AddDate(0, 0, -1))
	if err != nil {
		return nil, err
	}
	weekBeforeYesterday, err := t.earningsOn(raw.Rows, now.AddDate(0, 0, -8))
	if err != nil {
		return nil, err
	}

	recent, err := t.recentDays(raw.Rows)
	if err != nil {
		return nil, err
	}

	var breakdown []models.DomainMetrics
	if t.hasDomain() {
		breakdown, err = t.domainBreakdown(raw.Rows)
		if err != nil {
			return nil, err
		}
	}

	data := &models.NotificationData{
		KeyMetrics: models.KeyMetrics{
			Today:     today,
			Yesterday: yesterday,
			ThisMonth: totals.Get(models.LabelEarnings),
		},
		YesterdayChange: CalculateChange(yesterday, weekBeforeYesterday),
		TotalMetrics:    totals,
		AverageMetrics:  averages,
		RecentDays:      recent,
		DomainBreakdown: breakdown,
		ReportDate:      now.Format(reportDateLayout),
	}

	logger.Debug("Transformed report: %d rows, %d recent days, %d domains, today=%.2f yesterday=%.2f week_ago=%.2f",
		len(raw.Rows), len(recent), len(breakdown), today, yesterday, weekBeforeYesterday)

	return data, nil
}

// earningsOn sums earnings over every row dated day. A date has one row per
// domain when the report is broken out by domain.
func (t *Transformer) earningsOn(rows []models.CellGroup, day time.Time) (float64, error) {
	target := day.Format(dateLayout)

	var sum float64
	for i := range rows {
		date, _ := t.ext.Dimension(&rows[i], dateColumn)
		if date != target {
			continue
		}
		v, err := t.ext.Extract(t.earnings, &rows[i])
		if err != nil {
			return 0, fmt.Errorf("failed to extract earnings for %s: %w", target, err)
		}
		sum += v
	}
	return sum, nil
}

func (t *Transformer) recentDays(rows []models.CellGroup) ([]models.DailyMetrics, error) {
	n := min(len(rows), t.config.RecentDays)
	days := make([]models.DailyMetrics, 0, n)

	for i := 0; i < n; i++ {
		row := &rows[i]

		set, err := t.ext.ExtractSet(row)
		if err != nil {
			return nil, fmt.Errorf("failed to extract row %d: %w", i, err)
		}

		day := models.DailyMetrics{Date: notAvailable, Metrics: set}
		if date, ok := t.ext.Dimension(row, dateColumn); ok {
			day.Date = date
		}
		if t.hasDomain() {
			day.Domain = notAvailable
			if domain, ok := t.ext.Dimension(row, domainColumn); ok {
				day.Domain = domain
			}
		}
		days = append(days, day)
	}
	return days, nil
}

// domainBreakdown aggregates rows per domain. Ratio metrics are folded as
// (acc + v) / 2 over non-zero observations; everything else is summed.
func (t *Transformer) domainBreakdown(rows []models.CellGroup) ([]models.DomainMetrics, error) {
	var domains []models.DomainMetrics
	seen := make(map[string]int)

	for i := range rows {
		row := &rows[i]

		domain, ok := t.ext.Dimension(row, domainColumn)
		if !ok {
			domain = unknownDomain
		}

		idx, exists := seen[domain]
		if !exists {
			set := make(models.MetricSet, len(t.ext.Metrics()))
			for _, m := range t.ext.Metrics() {
				set[m.Label] = 0
			}
			domains = append(domains, models.DomainMetrics{Domain: domain, Metrics: set})
			idx = len(domains) - 1
			seen[domain] = idx
		}
		acc := domains[idx].Metrics

		for _, m := range t.ext.Metrics() {
			v, err := t.ext.Extract(m.Name, row)
			if err != nil {
				return nil, fmt.Errorf("failed to extract row %d: %w", i, err)
			}
			if ratioLabels[m.Label] {
				if v > 0 {
					acc[m.Label] = (acc[m.Label] + v) / 2
				}
				continue
			}
			acc[m.Label] += v
		}
	}

	SortDomains(domains)
	return domains, nil
}

// SortDomains orders domains by earnings, highest first. Ties keep their order.
func SortDomains(domains []models.DomainMetrics) {
	sort.SliceStable(domains, func(i, j int) bool {
		return domains[i].Metrics.Get(models.LabelEarnings) > domains[j].Metrics.Get(models.LabelEarnings)
	})
}

// CalculateChange compares current against prior. With no prior value there
// is no base for a percentage and the comparison is hidden.
func CalculateChange(current, prior float64) models.ChangeResult {
	if prior == 0 && current > 0 {
		return models.ChangeResult{
			ShowComparison: false,
			Amount:         0,
			Percentage:     0,
			Direction:      models.DirectionNeutral,
		}
	}

	if prior == 0 {
		direction := models.DirectionNeutral
		if current > 0 {
			direction = models.DirectionUp
		}
		return models.ChangeResult{
			ShowComparison: false,
			Amount:         current,
			Percentage:     0,
			Direction:      direction,
		}
	}

	change := current - prior
	direction := models.DirectionNeutral
	switch {
	case change > 0:
		direction = models.DirectionUp
	case change < 0:
		direction = models.DirectionDown
	}

	return models.ChangeResult{
		ShowComparison: true,
		Amount:         change,
		Percentage:     change / prior * 100,
		Direction:      direction,
	}
}
