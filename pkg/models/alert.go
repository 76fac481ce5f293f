package models

import "time"

// PredictionResult is the scorer output kept for audit and explainability.
type PredictionResult struct {
	Probability  float64       `json:"fraud_probability"`
	RiskScore    float64       `json:"risk_score"` // 0-100
	Confidence   float64       `json:"confidence"` // 0-1, distance from the decision boundary
	Features     FeatureVector `json:"features_used"`
	ModelVersion string        `json:"model_version"`
	ScoredAt     time.Time     `json:"scored_at"`
}

// AlertKind tells which stage produced an alert.
type AlertKind string

// Alert kinds
const (
	AlertKindVerification AlertKind = "verification"
	AlertKindPrediction   AlertKind = "prediction"
)

// AlertPayload carries whatever produced the alert.
type AlertPayload struct {
	Verdict    *VerificationVerdict `json:"verdict,omitempty"`
	Prediction *PredictionResult    `json:"prediction,omitempty"`
}

// SourceRef points back at the upstream record an alert was derived from.
type SourceRef struct {
	Kind       string `json:"kind"`
	Key        string `json:"key"`
	FacilityID string `json:"facility_id,omitempty"`
	Timestamp  int64  `json:"timestamp"`
}

// Alert is a high-risk finding addressed to exactly one tenant.
type Alert struct {
	ID          string       `json:"alert_id"`
	TenantID    string       `json:"tenant_id"`
	Kind        AlertKind    `json:"kind"`
	Severity    *Severity    `json:"severity,omitempty"`
	Probability *float64     `json:"probability,omitempty"`
	Payload     AlertPayload `json:"payload"`
	Source      SourceRef    `json:"source"`
	GeneratedAt time.Time    `json:"generated_at"`
}
