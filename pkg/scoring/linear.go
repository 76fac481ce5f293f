package scoring

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"strings"

	"github.com/weilalicia7/Warehouse-Guardian-AI-Alert/pkg/models"
)

// LinearModel is a logistic regression over the feature schema.
type LinearModel struct {
	version string
	bias    float64
	weights []float64 // FeatureNames order
}

type linearModelFile struct {
	Version string             `json:"version"`
	Bias    float64            `json:"bias"`
	Weights map[string]float64 `json:"weights"`
}

// NewLinearModel builds a model from per-feature weights. Every schema
// feature needs a weight and unknown names are rejected.
func NewLinearModel(version string, bias float64, weights map[string]float64) (*LinearModel, error) {
	known := make(map[string]bool, len(models.FeatureNames))
	ordered := make([]float64, len(models.FeatureNames))
	var missing []string
	for i, name := range models.FeatureNames {
		known[name] = true
		w, ok := weights[name]
		if !ok {
			missing = append(missing, name)
			continue
		}
		ordered[i] = w
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: missing weights for %s", ErrModelSchema, strings.Join(missing, ", "))
	}

	var unknown []string
	for name := range weights {
		if !known[name] {
			unknown = append(unknown, name)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return nil, fmt.Errorf("%w: unknown features %s", ErrModelSchema, strings.Join(unknown, ", "))
	}

	if version == "" {
		version = "linear"
	}
	return &LinearModel{version: version, bias: bias, weights: ordered}, nil
}

// ParseLinearModel reads a JSON model {version, bias, weights}.
func ParseLinearModel(r io.Reader) (*LinearModel, error) {
	var f linearModelFile
	if err := json.NewDecoder(r).Decode(&f); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", ErrModelSchema, err)
	}
	return NewLinearModel(f.Version, f.Bias, f.Weights)
}

// LoadLinearModel reads a model file from disk.
func LoadLinearModel(path string) (*LinearModel, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open model: %w", err)
	}
	defer f.Close()

	m, err := ParseLinearModel(f)
	if err != nil {
		return nil, fmt.Errorf("load model %s: %w", path, err)
	}
	return m, nil
}

// Predict returns the logistic of the weighted sum.
func (m *LinearModel) Predict(ctx context.Context, fv models.FeatureVector) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	z := m.bias
	for i, x := range fv.Vector() {
		z += m.weights[i] * x
	}
	return 1 / (1 + math.Exp(-z)), nil
}

// Version returns the model version from the model file.
func (m *LinearModel) Version() string { return m.version }
