package features

import (
	"github.com/empowerher/riskgrid/internal/model"
)

// RiskySeverity is the severity at and above which an incident is risky
// regardless of its category.
const RiskySeverity = 4

// DefaultHighRiskCategories are the categories that make an incident risky
// regardless of severity.
var DefaultHighRiskCategories = []string{
	"Sexual Harassment",
	"Kidnapping",
	"Murder",
	"Assault",
	"Chain Snatching",
	"Robbery",
	"Domestic Violence",
}

// Labeler derives the binary risk label of an incident. It is never cached
// on the record.
type Labeler struct {
	highRisk map[string]struct{}
}

// NewLabeler builds a Labeler over the given high-risk categories. An empty
// list selects DefaultHighRiskCategories.
func NewLabeler(categories []string) Labeler {
	if len(categories) == 0 {
		categories = DefaultHighRiskCategories
	}
	set := make(map[string]struct{}, len(categories))
	for _, c := range categories {
		set[c] = struct{}{}
	}
	return Labeler{highRisk: set}
}

// Label returns LabelRisky when severity >= 4 or the category is high-risk.
func (l Labeler) Label(inc model.Incident) model.Label {
	if inc.Severity >= RiskySeverity {
		return model.LabelRisky
	}
	if _, ok := l.highRisk[inc.Category]; ok {
		return model.LabelRisky
	}
	return model.LabelSafe
}

// RiskLabel applies the default rule.
func RiskLabel(inc model.Incident) model.Label {
	return defaultLabeler.Label(inc)
}

var defaultLabeler = NewLabeler(nil)

// LabelDistribution counts safe and risky incidents.
type LabelDistribution struct {
	Total int `json:"total" yaml:"total"`
	Safe  int `json:"safe" yaml:"safe"`
	Risky int `json:"risky" yaml:"risky"`
}

// Distribution labels every row and tallies the result.
func (l Labeler) Distribution(rows []model.Incident) LabelDistribution {
	d := LabelDistribution{Total: len(rows)}
	for _, r := range rows {
		if l.Label(r) == model.LabelRisky {
			d.Risky++
		} else {
			d.Safe++
		}
	}
	return d
}

// RiskyShare returns the fraction of risky rows, 0 for an empty set.
func (d LabelDistribution) RiskyShare() float64 {
	if d.Total == 0 {
		return 0
	}
	return float64(d.Risky) / float64(d.Total)
}
