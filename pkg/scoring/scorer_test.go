package scoring

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weilalicia7/Warehouse-Guardian-AI-Alert/pkg/features"
	"github.com/weilalicia7/Warehouse-Guardian-AI-Alert/pkg/models"
)

type fixedClassifier struct {
	p   float64
	err error
}

func (f fixedClassifier) Predict(context.Context, models.FeatureVector) (float64, error) {
	return f.p, f.err
}

func TestScorer_DerivedFields(t *testing.T) {
	tests := []struct {
		p              float64
		wantRisk       float64
		wantConfidence float64
	}{
		{0.95, 95, 0.9},
		{0.4, 40, 0.2},
		{0.5, 50, 0},
		{0, 0, 1},
		{1, 100, 1},
	}
	for _, tt := range tests {
		s := NewScorer(fixedClassifier{p: tt.p})
		res, err := s.Score(context.Background(), features.Defaults())
		require.NoError(t, err)
		assert.Equal(t, tt.p, res.Probability)
		assert.InDelta(t, tt.wantRisk, res.RiskScore, 1e-9)
		assert.InDelta(t, tt.wantConfidence, res.Confidence, 1e-9)
		assert.Equal(t, "unknown", res.ModelVersion)
		assert.False(t, res.ScoredAt.IsZero())
	}
}

func TestScorer_RejectsOutOfRange(t *testing.T) {
	for _, p := range []float64{-0.1, 1.01, math.NaN()} {
		_, err := NewScorer(fixedClassifier{p: p}).Score(context.Background(), features.Defaults())
		assert.ErrorIs(t, err, ErrProbabilityRange)
	}
}

func TestScorer_PropagatesClassifierError(t *testing.T) {
	boom := errors.New("boom")
	_, err := NewScorer(fixedClassifier{err: boom}).Score(context.Background(), features.Defaults())
	assert.ErrorIs(t, err, boom)
}

func allWeights(w float64) map[string]float64 {
	m := make(map[string]float64, len(models.FeatureNames))
	for _, name := range models.FeatureNames {
		m[name] = w
	}
	return m
}

func TestLinearModel_Schema(t *testing.T) {
	weights := allWeights(0)
	delete(weights, "camera_alert")
	_, err := NewLinearModel("v1", 0, weights)
	require.ErrorIs(t, err, ErrModelSchema)
	assert.Contains(t, err.Error(), "camera_alert")

	weights = allWeights(0)
	weights["qr_signature_valid"] = 1
	_, err = NewLinearModel("v1", 0, weights)
	assert.ErrorIs(t, err, ErrModelSchema)

	_, err = ParseLinearModel(strings.NewReader(`{"version":`))
	assert.ErrorIs(t, err, ErrModelSchema)
}

func TestLinearModel_Predict(t *testing.T) {
	m, err := NewLinearModel("v1", 0, allWeights(0))
	require.NoError(t, err)

	p, err := m.Predict(context.Background(), features.Defaults())
	require.NoError(t, err)
	assert.InDelta(t, 0.5, p, 1e-9)
	assert.Equal(t, "v1", NewScorer(m).version)

	weights := allWeights(0)
	weights["weight_anomaly"] = 10
	m, err = NewLinearModel("v2", -5, weights)
	require.NoError(t, err)

	fv := features.Defaults()
	p, err = m.Predict(context.Background(), fv)
	require.NoError(t, err)
	assert.Less(t, p, 0.01)

	fv.WeightAnomaly = 1
	p, err = m.Predict(context.Background(), fv)
	require.NoError(t, err)
	assert.Greater(t, p, 0.99)
}

func TestLinearModel_CancelledContext(t *testing.T) {
	m, err := NewLinearModel("v1", 0, allWeights(0))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = m.Predict(ctx, features.Defaults())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLoadLinearModel_ShippedModel(t *testing.T) {
	m, err := LoadLinearModel("../../configs/model.json")
	require.NoError(t, err)
	assert.Equal(t, "linear-1.0.0", m.Version())

	quiet, err := m.Predict(context.Background(), features.Defaults())
	require.NoError(t, err)
	assert.Less(t, quiet, 0.5)

	theft := features.Defaults()
	theft.TokenSignatureValid = 0
	theft.ScanLocationRisk = 1
	theft.WeightAnomaly = 1
	theft.WeightDeltaKg = -20
	theft.ItemValue = 2500
	theft.CategoryRisk = 0.9
	theft.IsNightShift = 1
	theft.PhysicalDigitalMismatch = 40
	theft.TokenSensorCorrelation = 0.1
	p, err := m.Predict(context.Background(), theft)
	require.NoError(t, err)
	assert.Greater(t, p, 0.9)

	_, err = LoadLinearModel("does-not-exist.json")
	assert.Error(t, err)
}
