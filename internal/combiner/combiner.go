// Package combiner merges a grid tier with a classifier label into a final
// risk level, notification and advice. It is pure and stateless.
package combiner

import (
	"slices"

	"github.com/empowerher/riskgrid/internal/features"
	"github.com/empowerher/riskgrid/internal/model"
)

// Color tags of the final levels.
const (
	ColorRed    = "red"
	ColorOrange = "orange"
	ColorYellow = "yellow"
	ColorGreen  = "green"
)

// Result is the combined assessment of one location at one time.
type Result struct {
	Level        model.RiskLevel `json:"level"`
	Message      string          `json:"message"`
	Color        string          `json:"color"`
	ShouldNotify bool            `json:"should_notify"`
}

// TimeOfDay is the time context of an assessment.
type TimeOfDay struct {
	Hour int `json:"hour"`
}

// IsNight reports 22:00 to 06:59.
func (t TimeOfDay) IsNight() bool { return features.IsNightHour(t.Hour) }

// IsLateEvening reports 18:00 to 21:59.
func (t TimeOfDay) IsLateEvening() bool { return t.Hour >= 18 && t.Hour <= 21 }

// gridClass collapses a cell tier onto the decision table's input.
type gridClass int

const (
	gridLow gridClass = iota
	gridMedium
	gridHigh
)

func classify(t model.Tier) gridClass {
	switch t {
	case model.TierHigh, model.TierCritical:
		return gridHigh
	case model.TierMedium:
		return gridMedium
	default:
		return gridLow
	}
}

// Assess applies the decision table, first match wins:
//
//	grid high and classifier risky      -> critical
//	grid high or classifier risky       -> high
//	grid medium, night or late evening  -> medium
//	grid medium                         -> low
//	otherwise                           -> safe
//
// Unknown and low tiers are treated alike.
func Assess(tier model.Tier, label model.Label, tod TimeOfDay) Result {
	g := classify(tier)
	risky := label == model.LabelRisky

	var level model.RiskLevel
	switch {
	case g == gridHigh && risky:
		level = model.LevelCritical
	case g == gridHigh || risky:
		level = model.LevelHigh
	case g == gridMedium && (tod.IsNight() || tod.IsLateEvening()):
		level = model.LevelMedium
	case g == gridMedium:
		level = model.LevelLow
	default:
		level = model.LevelSafe
	}

	return Result{
		Level:        level,
		Message:      Message(level, tod),
		Color:        Color(level),
		ShouldNotify: ShouldNotify(level),
	}
}

// ShouldNotify is true for high and critical.
func ShouldNotify(level model.RiskLevel) bool {
	return level == model.LevelHigh || level == model.LevelCritical
}

// Color returns the color tag of a level.
func Color(level model.RiskLevel) string {
	switch level {
	case model.LevelCritical:
		return ColorRed
	case model.LevelHigh:
		return ColorOrange
	case model.LevelMedium:
		return ColorYellow
	default:
		return ColorGreen
	}
}

// Message returns the advisory for a level, phrased for night or day.
func Message(level model.RiskLevel, tod TimeOfDay) string {
	night := tod.IsNight()
	switch level {
	case model.LevelCritical:
		if night {
			return "🚨 CRITICAL ALERT: You're in a high-risk area during night hours. Consider leaving immediately or finding a safe location."
		}
		return "⚠️ HIGH RISK ZONE: You're currently in a dangerous area. Stay alert and consider moving to a safer location."
	case model.LevelHigh:
		if night {
			return "⚠️ CAUTION: Elevated risk detected during night hours. Stay vigilant and avoid isolated areas."
		}
		return "⚠️ CAUTION: You're in an area with elevated safety concerns. Stay alert."
	case model.LevelMedium:
		return "📍 ADVISORY: Medium risk area during evening/night. Stay with groups if possible."
	case model.LevelLow:
		return "📍 Safe area, but stay aware of your surroundings."
	default:
		if night {
			return "✅ Safe area, but take standard night-time precautions."
		}
		return "✅ You're in a safe area. Enjoy your time!"
	}
}

var (
	baseAdvice = []string{
		"Keep your phone charged and accessible",
		"Share your location with trusted contacts",
		"Stay in well-lit, populated areas",
	}
	mediumAdvice = []string{
		"Be extra vigilant",
		"Avoid shortcuts through isolated areas",
	}
	highAdvice = []string{
		"Consider changing your route",
		"Stay with groups if possible",
		"Avoid displaying valuables",
		"Trust your instincts",
	}
	criticalAdvice = []string{
		"Leave the area immediately if possible",
		"Call emergency services if you feel threatened",
		"Find the nearest police station or safe building",
		"Avoid walking alone",
	}
	nightAdvice     = "Take standard night-time precautions"
	safeDayAdvice   = []string{"Enjoy your time while staying aware", "Standard safety practices apply"}
	safeNightAdvice = []string{nightAdvice, "Keep your phone charged and accessible"}
)

// Recommendations returns ordered advice for a level. Each level's list
// contains every item of the level below it; the safe level replaces the
// base list with lighter advice.
func Recommendations(level model.RiskLevel, tod TimeOfDay) []string {
	switch level {
	case model.LevelCritical:
		return concat(baseAdvice, criticalAdvice, highAdvice, mediumAdvice)
	case model.LevelHigh:
		return concat(baseAdvice, highAdvice, mediumAdvice)
	case model.LevelMedium:
		return concat(baseAdvice, mediumAdvice)
	case model.LevelLow:
		if tod.IsNight() {
			return concat(baseAdvice, []string{nightAdvice})
		}
		return concat(baseAdvice)
	default:
		if tod.IsNight() {
			return slices.Clone(safeNightAdvice)
		}
		return slices.Clone(safeDayAdvice)
	}
}

func concat(lists ...[]string) []string {
	var n int
	for _, l := range lists {
		n += len(l)
	}
	out := make([]string, 0, n)
	for _, l := range lists {
		out = append(out, l...)
	}
	return out
}
