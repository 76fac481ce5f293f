// Package scoring turns feature vectors into fraud probabilities through a
// pluggable classifier.
package scoring

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/weilalicia7/Warehouse-Guardian-AI-Alert/pkg/models"
)

var (
	// ErrProbabilityRange is returned when a classifier answers outside [0,1].
	ErrProbabilityRange = errors.New("scoring: probability out of range")
	// ErrModelSchema is returned when a model does not cover the feature schema.
	ErrModelSchema = errors.New("scoring: model does not match feature schema")
)

// Classifier is a pre-trained model: feature vector in, fraud probability out.
type Classifier interface {
	Predict(ctx context.Context, fv models.FeatureVector) (float64, error)
}

// Versioned is implemented by classifiers that know their model version.
type Versioned interface {
	Version() string
}

// Scorer wraps a Classifier and derives the risk score and confidence.
type Scorer struct {
	clf     Classifier
	version string
	now     func() time.Time
}

// NewScorer creates a scorer backed by clf.
func NewScorer(clf Classifier) *Scorer {
	version := "unknown"
	if v, ok := clf.(Versioned); ok {
		version = v.Version()
	}
	return &Scorer{clf: clf, version: version, now: time.Now}
}

// Score asks the classifier for a probability and packages the result.
func (s *Scorer) Score(ctx context.Context, fv models.FeatureVector) (models.PredictionResult, error) {
	p, err := s.clf.Predict(ctx, fv)
	if err != nil {
		return models.PredictionResult{}, fmt.Errorf("predict: %w", err)
	}
	if math.IsNaN(p) || p < 0 || p > 1 {
		return models.PredictionResult{}, fmt.Errorf("%w: %v", ErrProbabilityRange, p)
	}

	return models.PredictionResult{
		Probability:  p,
		RiskScore:    p * 100,
		Confidence:   math.Abs(p-0.5) * 2,
		Features:     fv,
		ModelVersion: s.version,
		ScoredAt:     s.now(),
	}, nil
}
