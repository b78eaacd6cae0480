package model

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validIncident() Incident {
	return Incident{
		ID:        "C001",
		Category:  "Assault",
		Location:  "Gandhipuram",
		Latitude:  10.9467,
		Longitude: 76.8653,
		Date:      "2024-03-15",
		Time:      "22:30",
		Severity:  4,
		Station:   "Gandhipuram PS",
	}
}

func TestValidate_OK(t *testing.T) {
	t.Parallel()
	assert.NoError(t, Validate(validIncident()))
}

func TestValidate_ReportsAllProblems(t *testing.T) {
	t.Parallel()

	inc := validIncident()
	inc.ID = ""
	inc.Latitude = 91
	inc.Longitude = -181
	inc.Severity = 6

	err := Validate(inc)
	require.Error(t, err)

	var ve *ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Len(t, ve.Problems, 4)
	assert.Contains(t, err.Error(), "latitude must be between -90 and 90")
	assert.Contains(t, err.Error(), "severity must be between 1 and 5")
}

func TestValidateCoordinates(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		lat     float64
		lon     float64
		wantErr bool
	}{
		{"origin", 0, 0, false},
		{"corners", -90, 180, false},
		{"lat too high", 90.0001, 0, true},
		{"lon too low", 0, -180.5, true},
		{"nan", math.NaN(), 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := ValidateCoordinates(tt.lat, tt.lon)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateSeverity(t *testing.T) {
	t.Parallel()
	assert.Error(t, ValidateSeverity(0))
	assert.NoError(t, ValidateSeverity(1))
	assert.NoError(t, ValidateSeverity(5))
	assert.Error(t, ValidateSeverity(6))
}

func TestIncidentCategorical(t *testing.T) {
	t.Parallel()

	inc := validIncident()
	assert.Equal(t, "Assault", inc.Categorical(ColCategory))
	assert.Equal(t, "Gandhipuram PS", inc.Categorical(ColStation))
	assert.Equal(t, "Gandhipuram", inc.Categorical(ColLocation))
	assert.Empty(t, inc.Categorical("Nope"))
}

func TestLabelString(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "safe", LabelSafe.String())
	assert.Equal(t, "risky", LabelRisky.String())
}
