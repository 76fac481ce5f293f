// Package alerting decides which findings become alerts.
package alerting

import (
	"time"

	"github.com/google/uuid"

	"github.com/weilalicia7/Warehouse-Guardian-AI-Alert/pkg/models"
)

// Defaults
const (
	DefaultPredictionThreshold = 0.5
	DefaultMinSeverity         = models.SeverityHigh
)

// Config holds the alert thresholds.
type Config struct {
	// Predictions alert when the probability is strictly above this value.
	PredictionThreshold float64
	// Verdicts alert at or above this severity.
	MinSeverity models.Severity
}

// Router applies the threshold policy. It keeps no state between calls.
type Router struct {
	threshold   float64
	minSeverity models.Severity
	now         func() time.Time
	newID       func() string
}

// NewRouter creates a router. A zero threshold or severity selects the default.
func NewRouter(cfg Config) *Router {
	if cfg.PredictionThreshold <= 0 || cfg.PredictionThreshold >= 1 {
		cfg.PredictionThreshold = DefaultPredictionThreshold
	}
	if cfg.MinSeverity == models.SeverityNone {
		cfg.MinSeverity = DefaultMinSeverity
	}
	return &Router{
		threshold:   cfg.PredictionThreshold,
		minSeverity: cfg.MinSeverity,
		now:         time.Now,
		newID:       func() string { return uuid.New().String() },
	}
}

// Threshold returns the prediction threshold in use.
func (r *Router) Threshold() float64 { return r.threshold }

// VerdictAlerts reports whether v is severe enough to alert on.
func (r *Router) VerdictAlerts(v models.VerificationVerdict) bool {
	return v.Severity.AtLeast(r.minSeverity)
}

// PredictionAlerts reports whether p is above the threshold.
func (r *Router) PredictionAlerts(p models.PredictionResult) bool {
	return p.Probability > r.threshold
}

// RouteVerdict returns an alert for a high or critical verdict, or nil.
func (r *Router) RouteVerdict(v models.VerificationVerdict, tenantID string, src models.SourceRef) *models.Alert {
	if tenantID == "" || !r.VerdictAlerts(v) {
		return nil
	}
	sev := v.Severity
	verdict := v
	return &models.Alert{
		ID:          r.newID(),
		TenantID:    tenantID,
		Kind:        models.AlertKindVerification,
		Severity:    &sev,
		Payload:     models.AlertPayload{Verdict: &verdict},
		Source:      src,
		GeneratedAt: r.now(),
	}
}

// RoutePrediction returns an alert when the fraud probability is above the
// threshold, or nil.
func (r *Router) RoutePrediction(p models.PredictionResult, tenantID string, src models.SourceRef) *models.Alert {
	if tenantID == "" || !r.PredictionAlerts(p) {
		return nil
	}
	prob := p.Probability
	prediction := p
	return &models.Alert{
		ID:          r.newID(),
		TenantID:    tenantID,
		Kind:        models.AlertKindPrediction,
		Probability: &prob,
		Payload:     models.AlertPayload{Prediction: &prediction},
		Source:      src,
		GeneratedAt: r.now(),
	}
}
