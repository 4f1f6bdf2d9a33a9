package alerts

import (
	"fmt"

	"github.com/fairyhunter13/pos-stock-service/internal/apperr"
	"github.com/fairyhunter13/pos-stock-service/internal/model"
)

// Thresholds are the inclusive upper stock bounds of each severity.
type Thresholds struct {
	Critical int64 `json:"critical"`
	Low      int64 `json:"low"`
	Warning  int64 `json:"warning"`
}

// DefaultThresholds returns 5 / 10 / 15.
func DefaultThresholds() Thresholds {
	return Thresholds{Critical: 5, Low: 10, Warning: 15}
}

// Validate requires 0 <= Critical < Low < Warning.
func (t Thresholds) Validate() error {
	if t.Critical < 0 || t.Critical >= t.Low || t.Low >= t.Warning {
		return apperr.Validation("thresholds must satisfy 0 <= critical < low < warning, got %d/%d/%d",
			t.Critical, t.Low, t.Warning)
	}
	return nil
}

// Classify returns the severity of stock, or SeverityNone above Warning.
func (t Thresholds) Classify(stock int64) model.Severity {
	switch {
	case stock <= t.Critical:
		return model.SeverityCritical
	case stock <= t.Low:
		return model.SeverityLow
	case stock <= t.Warning:
		return model.SeverityWarning
	default:
		return model.SeverityNone
	}
}

// Bound returns the threshold of sev.
func (t Thresholds) Bound(sev model.Severity) int64 {
	switch sev {
	case model.SeverityCritical:
		return t.Critical
	case model.SeverityLow:
		return t.Low
	case model.SeverityWarning:
		return t.Warning
	}
	return 0
}

var messages = map[model.Severity]string{
	model.SeverityCritical: "Critical stock - restock urgently",
	model.SeverityLow:      "Low stock - consider restocking",
	model.SeverityWarning:  "Stock warning - keep monitoring",
	model.SeverityNone:     "Stock normal",
}

// Message returns the operator message for sev.
func Message(sev model.Severity) string { return messages[sev] }

func describe(l model.ProductLevel, sev model.Severity) string {
	return fmt.Sprintf("%s: %s (%d left)", l.Name, Message(sev), l.Stock)
}

// Stats counts products per severity.
type Stats struct {
	Total    int `json:"total"`
	Critical int `json:"critical"`
	Low      int `json:"low"`
	Warning  int `json:"warning"`
	Healthy  int `json:"healthy"`
}

// Stats classifies every product in levels.
func (t Thresholds) Stats(levels []model.ProductLevel) Stats {
	s := Stats{Total: len(levels)}
	for _, l := range levels {
		switch t.Classify(l.Stock) {
		case model.SeverityCritical:
			s.Critical++
		case model.SeverityLow:
			s.Low++
		case model.SeverityWarning:
			s.Warning++
		default:
			s.Healthy++
		}
	}
	return s
}
