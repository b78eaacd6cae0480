package model

// Tier is the risk classification of a grid cell.
type Tier string

const (
	TierSafe     Tier = "safe"
	TierLow      Tier = "low"
	TierMedium   Tier = "medium"
	TierHigh     Tier = "high"
	TierCritical Tier = "critical"
	TierUnknown  Tier = "unknown" // point outside every populated cell
)

// RiskLevel is the final level produced by combining the grid tier with
// the classifier's prediction.
type RiskLevel string

const (
	LevelSafe     RiskLevel = "safe"
	LevelLow      RiskLevel = "low"
	LevelMedium   RiskLevel = "medium"
	LevelHigh     RiskLevel = "high"
	LevelCritical RiskLevel = "critical"
)

// Label is the binary classifier label.
type Label int

const (
	LabelSafe  Label = 0
	LabelRisky Label = 1
)

// String returns "safe" or "risky".
func (l Label) String() string {
	if l == LabelRisky {
		return "risky"
	}
	return "safe"
}
