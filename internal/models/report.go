// Package models defines the raw report shape returned by the reporting API and
// the notification structure rendered into the email report.
package models

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingTotals is returned when a report has no totals section.
	ErrMissingTotals = errors.New("report has no totals section")
	// ErrMalformedValue is returned when a present cell value is not a number.
	ErrMalformedValue = errors.New("malformed metric value")
	// ErrUnknownLocale is returned when no templates exist for a locale.
	ErrUnknownLocale = errors.New("unknown locale")
)

// Cell is a single value slot of a cell group. Dimension placeholders in the
// totals and averages sections carry no value.
type Cell struct {
	Value *string `json:"value,omitempty"`
}

// NewCell returns a cell holding v.
func NewCell(v string) Cell {
	return Cell{Value: &v}
}

// Text returns the cell value and whether one is present. An empty string is
// treated as absent because the API omits empty values.
func (c Cell) Text() (string, bool) {
	if c.Value == nil || *c.Value == "" {
		return "", false
	}
	return *c.Value, true
}

// CellGroup is one section of tabular output: a row, the totals or the averages.
type CellGroup struct {
	Cells []Cell `json:"cells"`
}

// Cell returns the cell at index i, or false when i is out of bounds.
func (g *CellGroup) Cell(i int) (Cell, bool) {
	if g == nil || i < 0 || i >= len(g.Cells) {
		return Cell{}, false
	}
	return g.Cells[i], true
}

// RawReport is a report as produced by the reporting API.
// Rows keep the order the API returned them in.
type RawReport struct {
	Totals   *CellGroup  `json:"totals,omitempty"`
	Averages *CellGroup  `json:"averages,omitempty"`
	Rows     []CellGroup `json:"rows,omitempty"`
}

// ValueError describes a cell whose value could not be parsed.
type ValueError struct {
	Metric string
	Index  int
	Value  string
	Err    error
}

func (e *ValueError) Error() string {
	return fmt.Sprintf("metric %s at cell %d: %q: %v", e.Metric, e.Index, e.Value, e.Err)
}

// Unwrap lets errors.Is match ErrMalformedValue.
func (e *ValueError) Unwrap() error {
	return ErrMalformedValue
}
