package models

// Stable metric labels used by the transformer and the templates.
const (
	LabelEarnings      = "earnings"
	LabelPageViews     = "pageViews"
	LabelAdImpressions = "adImpressions"
	LabelViewability   = "viewability"
	LabelClicks        = "clicks"
	LabelCPC           = "cpc"
)

// MetricSet maps a metric label to its value.
type MetricSet map[string]float64

// Get returns the value for label, or 0 when it is absent.
func (m MetricSet) Get(label string) float64 {
	return m[label]
}

// Direction of a change between two values.
type Direction string

const (
	DirectionUp      Direction = "up"
	DirectionDown    Direction = "down"
	DirectionNeutral Direction = "neutral"
)

// ChangeResult compares a current value against a prior one.
type ChangeResult struct {
	ShowComparison bool      `json:"showComparison"`
	Amount         float64   `json:"amount"`
	Percentage     float64   `json:"percentage"`
	Direction      Direction `json:"direction"`
}

// KeyMetrics holds the earnings highlighted at the top of the report.
type KeyMetrics struct {
	Today     float64 `json:"today"`
	Yesterday float64 `json:"yesterday"`
	ThisMonth float64 `json:"thisMonth"`
}

// DailyMetrics is one entry of the recent history.
// Domain is empty when the report has no domain dimension.
type DailyMetrics struct {
	Date    string    `json:"date"`
	Domain  string    `json:"domain,omitempty"`
	Metrics MetricSet `json:"metrics"`
}

// DomainMetrics is the aggregate of all rows for one domain.
type DomainMetrics struct {
	Domain  string    `json:"domain"`
	Metrics MetricSet `json:"metrics"`
}

// NotificationData is everything the email report renders.
type NotificationData struct {
	KeyMetrics      KeyMetrics      `json:"keyMetrics"`
	YesterdayChange ChangeResult    `json:"yesterdayChange"`
	TotalMetrics    MetricSet       `json:"totalMetrics"`
	AverageMetrics  MetricSet       `json:"averageMetrics"`
	RecentDays      []DailyMetrics  `json:"recentDays"`
	DomainBreakdown []DomainMetrics `json:"domainBreakdown"`
	ReportDate      string          `json:"reportDate"`
}
