// Package extractor maps metric identifiers to positional cells of a report
// section and reads them as floats.
package extractor

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"

	"github.com/rewired-gh/adreport/internal/models"
)

// DefaultLabels maps API metric identifiers to the labels used in notifications.
var DefaultLabels = map[string]string{
	"ESTIMATED_EARNINGS":        models.LabelEarnings,
	"PAGE_VIEWS":                models.LabelPageViews,
	"INDIVIDUAL_AD_IMPRESSIONS": models.LabelAdImpressions,
	"ACTIVE_VIEW_VIEWABILITY":   models.LabelViewability,
	"CLICKS":                    models.LabelClicks,
	"COST_PER_CLICK":            models.LabelCPC,
}

// decimalPattern is the plain decimal grammar report values use. It rejects
// the NaN, Inf and hex forms strconv.ParseFloat would otherwise accept.
var decimalPattern = regexp.MustCompile(`^[+-]?(\d+(\.\d*)?|\.\d+)([eE][+-]?\d+)?$`)

var errNotDecimal = errors.New("not a decimal number")

// Metric is one catalog entry.
type Metric struct {
	Name  string
	Label string
}

// Extractor reads catalog metrics out of cell groups.
type Extractor struct {
	metrics []Metric
	index   map[string]int
	byLabel map[string]int
	offset  int
}

// New builds an extractor for the ordered catalog. offset is the number of
// leading dimension columns preceding the metric columns. labels overrides
// DefaultLabels; metrics with no label use their identifier.
func New(catalog []string, offset int, labels map[string]string) (*Extractor, error) {
	if len(catalog) == 0 {
		return nil, fmt.Errorf("metric catalog must not be empty")
	}
	if offset < 0 {
		return nil, fmt.Errorf("dimension offset must not be negative, got %d", offset)
	}

	e := &Extractor{
		metrics: make([]Metric, 0, len(catalog)),
		index:   make(map[string]int, len(catalog)),
		byLabel: make(map[string]int, len(catalog)),
		offset:  offset,
	}
	for i, name := range catalog {
		if _, dup := e.index[name]; dup {
			continue
		}
		e.index[name] = i

		label, ok := labels[name]
		if !ok {
			label, ok = DefaultLabels[name]
		}
		if !ok {
			label = name
		}
		if _, dup := e.byLabel[label]; !dup {
			e.byLabel[label] = len(e.metrics)
		}
		e.metrics = append(e.metrics, Metric{Name: name, Label: label})
	}
	return e, nil
}

// Offset returns the number of leading dimension columns.
func (e *Extractor) Offset() int {
	return e.offset
}

// Metrics returns the catalog entries in catalog order.
func (e *Extractor) Metrics() []Metric {
	return e.metrics
}

// MetricFor returns the first catalog metric carrying label.
func (e *Extractor) MetricFor(label string) (Metric, bool) {
	i, ok := e.byLabel[label]
	if !ok {
		return Metric{}, false
	}
	return e.metrics[i], true
}

// Extract returns the value of metric in group. Unknown metrics, a nil group,
// out of range cells and cells without a value all yield 0. A present value
// that is not a finite decimal number is an error wrapping models.ErrMalformedValue.
func (e *Extractor) Extract(metric string, group *models.CellGroup) (float64, error) {
	pos, ok := e.index[metric]
	if !ok {
		return 0, nil
	}

	idx := pos + e.offset
	cell, ok := group.Cell(idx)
	if !ok {
		return 0, nil
	}
	raw, ok := cell.Text()
	if !ok {
		return 0, nil
	}

	if !decimalPattern.MatchString(raw) {
		return 0, &models.ValueError{Metric: metric, Index: idx, Value: raw, Err: errNotDecimal}
	}
	// Out-of-range values such as 1e400 still fail here.
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, &models.ValueError{Metric: metric, Index: idx, Value: raw, Err: err}
	}
	return v, nil
}

// ExtractLabel is Extract addressed by notification label.
func (e *Extractor) ExtractLabel(label string, group *models.CellGroup) (float64, error) {
	m, ok := e.MetricFor(label)
	if !ok {
		return 0, nil
	}
	return e.Extract(m.Name, group)
}

// ExtractSet reads every catalog metric of group into a MetricSet keyed by label.
func (e *Extractor) ExtractSet(group *models.CellGroup) (models.MetricSet, error) {
	set := make(models.MetricSet, len(e.metrics))
	for _, m := range e.metrics {
		v, err := e.Extract(m.Name, group)
		if err != nil {
			return nil, err
		}
		set[m.Label] = v
	}
	return set, nil
}

// Dimension returns the value of the i-th leading dimension column of group.
func (e *Extractor) Dimension(group *models.CellGroup, i int) (string, bool) {
	if i < 0 || i >= e.offset {
		return "", false
	}
	cell, ok := group.Cell(i)
	if !ok {
		return "", false
	}
	return cell.Text()
}
