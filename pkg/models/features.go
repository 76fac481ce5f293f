package models

// FeatureVector is the fixed classifier input describing one correlated moment.
// Boolean signals are encoded as 0 or 1.
type FeatureVector struct {
	TokenSignatureValid     float64 `json:"token_signature_valid"`
	TokenAgeHours           float64 `json:"token_age_hours"`
	ScanLocationRisk        float64 `json:"scan_location_risk"`
	WeightDeltaKg           float64 `json:"weight_delta_kg"`
	WeightAnomaly           float64 `json:"weight_anomaly"`
	ItemsMissingCount       float64 `json:"items_missing_count"`
	RFIDSignalStrength      float64 `json:"rfid_signal_strength"`
	CameraConfidence        float64 `json:"camera_confidence"`
	CameraAlert             float64 `json:"camera_alert"`
	QuantityChange          float64 `json:"quantity_change"`
	TransactionVelocity     float64 `json:"transaction_velocity"`
	ActorRiskScore          float64 `json:"actor_risk_score"`
	ItemValue               float64 `json:"item_value"`
	CategoryRisk            float64 `json:"category_risk"`
	HourOfDay               float64 `json:"hour_of_day"`
	DayOfWeek               float64 `json:"day_of_week"`
	IsWeekend               float64 `json:"is_weekend"`
	IsNightShift            float64 `json:"is_night_shift"`
	PhysicalDigitalMismatch float64 `json:"physical_digital_mismatch"`
	TokenSensorCorrelation  float64 `json:"token_sensor_correlation"`
}

// FeatureNames is the classifier schema in column order.
var FeatureNames = []string{
	"token_signature_valid",
	"token_age_hours",
	"scan_location_risk",
	"weight_delta_kg",
	"weight_anomaly",
	"items_missing_count",
	"rfid_signal_strength",
	"camera_confidence",
	"camera_alert",
	"quantity_change",
	"transaction_velocity",
	"actor_risk_score",
	"item_value",
	"category_risk",
	"hour_of_day",
	"day_of_week",
	"is_weekend",
	"is_night_shift",
	"physical_digital_mismatch",
	"token_sensor_correlation",
}

// Vector returns the values in FeatureNames order.
func (f FeatureVector) Vector() []float64 {
	return []float64{
		f.TokenSignatureValid,
		f.TokenAgeHours,
		f.ScanLocationRisk,
		f.WeightDeltaKg,
		f.WeightAnomaly,
		f.ItemsMissingCount,
		f.RFIDSignalStrength,
		f.CameraConfidence,
		f.CameraAlert,
		f.QuantityChange,
		f.TransactionVelocity,
		f.ActorRiskScore,
		f.ItemValue,
		f.CategoryRisk,
		f.HourOfDay,
		f.DayOfWeek,
		f.IsWeekend,
		f.IsNightShift,
		f.PhysicalDigitalMismatch,
		f.TokenSensorCorrelation,
	}
}

// Map returns the values keyed by feature name.
func (f FeatureVector) Map() map[string]float64 {
	values := f.Vector()
	m := make(map[string]float64, len(FeatureNames))
	for i, name := range FeatureNames {
		m[name] = values[i]
	}
	return m
}

// Flag encodes a boolean signal.
func Flag(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
