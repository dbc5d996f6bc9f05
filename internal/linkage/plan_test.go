package linkage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTargetDate(t *testing.T) {
	obs := time.Date(2023, time.March, 2, 0, 0, 0, 0, time.UTC)

	assert.Equal(t, obs, TargetDate(obs, 0))
	assert.Equal(t, time.Date(2023, time.February, 25, 0, 0, 0, 0, time.UTC), TargetDate(obs, 5))
	// Crosses a year boundary.
	assert.Equal(t, time.Date(2022, time.March, 2, 0, 0, 0, 0, time.UTC), TargetDate(obs, 365))
	// Crosses the Feb 29 of a leap year.
	leap := time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2024, time.February, 28, 0, 0, 0, 0, time.UTC), TargetDate(leap, 2))
}

func TestLagColumn(t *testing.T) {
	assert.Equal(t, "HeatIndex_0day_prior", LagColumn("HeatIndex", 0))
	assert.Equal(t, "HeatIndex_5day_prior", LagColumn("HeatIndex", 5))
	assert.Equal(t, "Tmax_365day_prior", LagColumn("Tmax", 365))
}

func TestArtifactName(t *testing.T) {
	assert.Equal(t, "lag_0000.db", ArtifactName(0))
	assert.Equal(t, "lag_0042.db", ArtifactName(42))
	assert.Equal(t, "lag_0365.db", ArtifactName(365))
}
