package extractor

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rewired-gh/adreport/internal/models"
)

var catalog = []string{
	"PAGE_VIEWS",
	"ESTIMATED_EARNINGS",
	"INDIVIDUAL_AD_IMPRESSIONS",
	"ACTIVE_VIEW_VIEWABILITY",
}

func group(values ...string) *models.CellGroup {
	g := &models.CellGroup{}
	for _, v := range values {
		if v == "" {
			g.Cells = append(g.Cells, models.Cell{})
			continue
		}
		g.Cells = append(g.Cells, models.NewCell(v))
	}
	return g
}

func TestNewRejectsBadInput(t *testing.T) {
	_, err := New(nil, 1, nil)
	assert.Error(t, err)

	_, err = New(catalog, -1, nil)
	assert.Error(t, err)
}

func TestExtractTotals(t *testing.T) {
	e, err := New(catalog, 2, nil)
	require.NoError(t, err)

	totals := group("", "", "1000", "125.0", "3000", "75.5")

	tests := []struct {
		metric string
		want   float64
	}{
		{"PAGE_VIEWS", 1000},
		{"ESTIMATED_EARNINGS", 125.0},
		{"INDIVIDUAL_AD_IMPRESSIONS", 3000},
		{"ACTIVE_VIEW_VIEWABILITY", 75.5},
	}
	for _, tt := range tests {
		t.Run(tt.metric, func(t *testing.T) {
			got, err := e.Extract(tt.metric, totals)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExtractOffsetOne(t *testing.T) {
	e, err := New([]string{"PAGE_VIEWS", "CLICKS", "COST_PER_CLICK", "ESTIMATED_EARNINGS"}, 1, nil)
	require.NoError(t, err)

	got, err := e.Extract("COST_PER_CLICK", group("", "1000", "50", "2.5", "125.0"))
	require.NoError(t, err)
	assert.Equal(t, 2.5, got)
}

func TestExtractMissingDataIsZero(t *testing.T) {
	e, err := New(catalog, 2, nil)
	require.NoError(t, err)

	tests := []struct {
		name   string
		metric string
		group  *models.CellGroup
	}{
		{name: "unknown metric", metric: "CLICKS", group: group("", "", "1", "2", "3", "4")},
		{name: "nil group", metric: "PAGE_VIEWS", group: nil},
		{name: "out of bounds", metric: "ACTIVE_VIEW_VIEWABILITY", group: group("", "", "1")},
		{name: "no value", metric: "ESTIMATED_EARNINGS", group: group("", "", "1", "", "3")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := e.Extract(tt.metric, tt.group)
			require.NoError(t, err)
			assert.Equal(t, 0.0, got)
		})
	}
}

func TestExtractMalformedValue(t *testing.T) {
	e, err := New(catalog, 2, nil)
	require.NoError(t, err)

	tests := []struct {
		name  string
		value string
	}{
		{"comma decimal", "12,5"},
		{"nan", "NaN"},
		{"infinity", "Inf"},
		{"signed infinity", "+Inf"},
		{"hex integer", "0x10"},
		{"hex float", "0x1p4"},
		{"underscore separator", "1_000"},
		{"out of range", "1e400"},
		{"blank", " "},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.Extract("ESTIMATED_EARNINGS", group("", "", "1000", tt.value))
			require.Error(t, err)
			assert.True(t, errors.Is(err, models.ErrMalformedValue))

			var ve *models.ValueError
			require.True(t, errors.As(err, &ve))
			assert.Equal(t, 3, ve.Index)
			assert.Equal(t, tt.value, ve.Value)
		})
	}
}

func TestExtractDecimalForms(t *testing.T) {
	e, err := New(catalog, 2, nil)
	require.NoError(t, err)

	tests := []struct {
		value string
		want  float64
	}{
		{"42", 42},
		{"-3.25", -3.25},
		{"+7", 7},
		{".5", 0.5},
		{"5.", 5},
		{"1.5e3", 1500},
		{"2E-2", 0.02},
	}
	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			got, err := e.Extract("ESTIMATED_EARNINGS", group("", "", "1000", tt.value))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMetricForFirstLabelWins(t *testing.T) {
	e, err := New([]string{"PAGE_VIEWS", "ESTIMATED_EARNINGS", "ESTIMATED_EARNINGS_USD"}, 1,
		map[string]string{"ESTIMATED_EARNINGS_USD": models.LabelEarnings})
	require.NoError(t, err)

	m, ok := e.MetricFor(models.LabelEarnings)
	require.True(t, ok)
	assert.Equal(t, "ESTIMATED_EARNINGS", m.Name)

	_, ok = e.MetricFor("missing")
	assert.False(t, ok)

	got, err := e.ExtractLabel(models.LabelEarnings, group("", "100", "4.5", "9.9"))
	require.NoError(t, err)
	assert.Equal(t, 4.5, got)

	got, err = e.ExtractLabel("missing", group("", "100", "4.5", "9.9"))
	require.NoError(t, err)
	assert.Equal(t, 0.0, got)
}

func TestExtractSetUsesLabels(t *testing.T) {
	e, err := New(catalog, 2, map[string]string{"PAGE_VIEWS": "views"})
	require.NoError(t, err)

	set, err := e.ExtractSet(group("", "", "1000", "125.0", "3000", "75.5"))
	require.NoError(t, err)
	assert.Equal(t, models.MetricSet{
		"views":                   1000,
		models.LabelEarnings:      125.0,
		models.LabelAdImpressions: 3000,
		models.LabelViewability:   75.5,
	}, set)
}

func TestExtractSetUnlabelledMetric(t *testing.T) {
	e, err := New([]string{"ESTIMATED_EARNINGS", "AD_REQUESTS"}, 1, nil)
	require.NoError(t, err)

	set, err := e.ExtractSet(group("", "4.5", "12"))
	require.NoError(t, err)
	assert.Equal(t, 12.0, set["AD_REQUESTS"])
}

func TestDuplicateCatalogEntryKeepsFirstPosition(t *testing.T) {
	e, err := New([]string{"PAGE_VIEWS", "ESTIMATED_EARNINGS", "PAGE_VIEWS"}, 0, nil)
	require.NoError(t, err)

	got, err := e.Extract("PAGE_VIEWS", group("7", "8", "9"))
	require.NoError(t, err)
	assert.Equal(t, 7.0, got)
	assert.Len(t, e.Metrics(), 2)
}

func TestDimension(t *testing.T) {
	e, err := New(catalog, 2, nil)
	require.NoError(t, err)

	row := group("2024-05-01", "example.com", "10")
	date, ok := e.Dimension(row, 0)
	assert.True(t, ok)
	assert.Equal(t, "2024-05-01", date)

	domain, ok := e.Dimension(row, 1)
	assert.True(t, ok)
	assert.Equal(t, "example.com", domain)

	// Column 2 is a metric, not a dimension.
	_, ok = e.Dimension(row, 2)
	assert.False(t, ok)

	_, ok = e.Dimension(group("2024-05-01"), 1)
	assert.False(t, ok)
}
