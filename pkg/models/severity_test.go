package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSeverity_Order(t *testing.T) {
	levels := []Severity{SeverityNone, SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical}
	for i := 1; i < len(levels); i++ {
		assert.Equal(t, 1, levels[i].Compare(levels[i-1]))
		assert.Equal(t, -1, levels[i-1].Compare(levels[i]))
		assert.True(t, levels[i].AtLeast(levels[i-1]))
		assert.False(t, levels[i-1].AtLeast(levels[i]))
	}
	assert.Equal(t, 0, SeverityHigh.Compare(SeverityHigh))
}

func TestMaxSeverity(t *testing.T) {
	assert.Equal(t, SeverityNone, MaxSeverity())
	assert.Equal(t, SeverityCritical, MaxSeverity(SeverityLow, SeverityCritical, SeverityHigh))
	assert.Equal(t, SeverityHigh, SeverityMedium.Max(SeverityHigh))
	assert.Equal(t, SeverityHigh, SeverityHigh.Max(SeverityLow))
}

func TestSeverity_JSON(t *testing.T) {
	b, err := json.Marshal(FraudIndicator{Type: IndicatorExpiredCode, Severity: SeverityMedium})
	require.NoError(t, err)
	assert.Contains(t, string(b), `"severity":"medium"`)

	var ind FraudIndicator
	require.NoError(t, json.Unmarshal([]byte(`{"type":"x","severity":"CRITICAL"}`), &ind))
	assert.Equal(t, SeverityCritical, ind.Severity)

	assert.Error(t, json.Unmarshal([]byte(`{"severity":"extreme"}`), &ind))
}

func TestFeatureVector_VectorMatchesNames(t *testing.T) {
	f := FeatureVector{TokenSignatureValid: 1, TokenSensorCorrelation: 0.8, ItemValue: 42}
	v := f.Vector()
	require.Len(t, v, len(FeatureNames))

	m := f.Map()
	assert.Len(t, m, len(FeatureNames))
	assert.Equal(t, 1.0, m["token_signature_valid"])
	assert.Equal(t, 42.0, m["item_value"])
	assert.Equal(t, 0.8, m["token_sensor_correlation"])
}
