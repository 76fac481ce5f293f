package features

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weilalicia7/Warehouse-Guardian-AI-Alert/pkg/events"
	"github.com/weilalicia7/Warehouse-Guardian-AI-Alert/pkg/models"
)

// Monday 2024-01-15 12:00:00 UTC
const mondayNoon = int64(1705320000)

// Saturday 2024-01-20 23:30:00 UTC
const saturdayNight = int64(1705793400)

func scanEvent(ts int64) *events.TokenScan {
	return &events.TokenScan{
		ScanID:       "scan-1",
		Timestamp:    ts,
		ScanLocation: "exit_gate",
		Token: models.StateToken{
			ID:         "tok-1",
			Item:       models.Item{ID: "3C-LAPTOP-001", Category: "3C Electronics", Value: 1899},
			Timestamp:  ts - 48*3600,
			FacilityID: "WH-001",
			State:      models.StateInFacility,
		},
	}
}

func TestExtractFeatures_Totality(t *testing.T) {
	e := NewExtractor()
	evs := []events.Event{
		scanEvent(mondayNoon),
		&events.Sensor{Type: events.SensorWeight, DeviceID: "WS-1", Timestamp: mondayNoon},
		&events.Sensor{Type: events.SensorRFID, DeviceID: "RF-1", Timestamp: mondayNoon},
		&events.Sensor{Type: events.SensorCamera, DeviceID: "CAM-1", Timestamp: mondayNoon},
		&events.Ledger{TransactionID: "TXN-1", Timestamp: mondayNoon},
	}

	for _, ev := range evs {
		t.Run(string(ev.Kind())+"/"+ev.Key(), func(t *testing.T) {
			fv := e.ExtractFeatures(ev, nil)
			assert.Len(t, fv.Vector(), len(models.FeatureNames))
			assert.Len(t, fv.Map(), len(models.FeatureNames))
		})
	}
}

func TestExtractFeatures_TokenScan(t *testing.T) {
	e := NewExtractor()
	scan := scanEvent(mondayNoon)
	verdict := &models.VerificationVerdict{
		IsValid:  false,
		Severity: models.SeverityCritical,
		Item:     scan.Token.Item,
	}

	fv := e.ExtractFeatures(scan, verdict)
	assert.Equal(t, 0.0, fv.TokenSignatureValid)
	assert.Equal(t, 1.0, fv.ScanLocationRisk)
	assert.Equal(t, 1899.0, fv.ItemValue)
	assert.Equal(t, HighTheftCategoryRisk, fv.CategoryRisk)
	assert.Equal(t, 48.0, fv.TokenAgeHours)
	assert.Equal(t, 12.0, fv.HourOfDay)
	assert.Equal(t, 0.0, fv.DayOfWeek)

	// untouched fields keep their defaults
	assert.Equal(t, 80.0, fv.RFIDSignalStrength)
	assert.Equal(t, 0.3, fv.ActorRiskScore)
}

func TestExtractFeatures_LocationRiskBySeverity(t *testing.T) {
	e := NewExtractor()
	tests := map[models.Severity]float64{
		models.SeverityCritical: 1.0,
		models.SeverityHigh:     0.8,
		models.SeverityMedium:   0.5,
		models.SeverityLow:      0.3,
		models.SeverityNone:     0.1,
	}
	for sev, want := range tests {
		fv := e.ExtractFeatures(scanEvent(mondayNoon), &models.VerificationVerdict{IsValid: true, Severity: sev})
		assert.Equal(t, want, fv.ScanLocationRisk, sev.String())
	}
}

func TestExtractFeatures_Sensor(t *testing.T) {
	e := NewExtractor()
	strength := 31.0
	confidence := 0.97

	fv := e.ExtractFeatures(&events.Sensor{
		Type: events.SensorWeight, DeviceID: "WS-1", Timestamp: mondayNoon,
		DeltaKg: -12.5, AnomalyDetected: true, ExpectedItems: 20, DetectedItems: 14,
	}, nil)
	assert.Equal(t, -12.5, fv.WeightDeltaKg)
	assert.Equal(t, 1.0, fv.WeightAnomaly)
	assert.Equal(t, 6.0, fv.ItemsMissingCount)

	fv = e.ExtractFeatures(&events.Sensor{
		Type: events.SensorWeight, DeviceID: "WS-1", Timestamp: mondayNoon,
		ExpectedItems: 3, DetectedItems: 5,
	}, nil)
	assert.Equal(t, 0.0, fv.ItemsMissingCount)

	fv = e.ExtractFeatures(&events.Sensor{Type: events.SensorRFID, DeviceID: "RF-1", Timestamp: mondayNoon, SignalStrength: &strength}, nil)
	assert.Equal(t, 31.0, fv.RFIDSignalStrength)

	fv = e.ExtractFeatures(&events.Sensor{Type: events.SensorCamera, DeviceID: "CAM-1", Timestamp: mondayNoon, Confidence: &confidence, Alert: true}, nil)
	assert.Equal(t, 0.97, fv.CameraConfidence)
	assert.Equal(t, 1.0, fv.CameraAlert)
}

func TestExtractFeatures_LedgerActorRisk(t *testing.T) {
	e := NewExtractor()
	tests := []struct {
		actor string
		want  float64
	}{
		{"COMPROMISED-ACCOUNT-X", 0.95},
		{"unknown-terminal", 0.95},
		{"system", 0.1},
		{"", 0.1},
		{"user-7", 0.3},
	}
	for _, tt := range tests {
		t.Run(tt.actor, func(t *testing.T) {
			fv := e.ExtractFeatures(&events.Ledger{TransactionID: "T", ActorID: tt.actor, QuantityChange: -20, Timestamp: mondayNoon}, nil)
			assert.Equal(t, tt.want, fv.ActorRiskScore)
			assert.Equal(t, -20.0, fv.QuantityChange)
		})
	}
}

func TestExtractFeatures_Calendar(t *testing.T) {
	fv := NewExtractor().ExtractFeatures(&events.Ledger{TransactionID: "T", Timestamp: saturdayNight}, nil)
	assert.Equal(t, 23.0, fv.HourOfDay)
	assert.Equal(t, 5.0, fv.DayOfWeek)
	assert.Equal(t, 1.0, fv.IsWeekend)
	assert.Equal(t, 1.0, fv.IsNightShift)

	// 23:30 UTC Saturday is 08:30 Sunday in Tokyo.
	tokyo := time.FixedZone("JST", 9*3600)
	fv = NewExtractor(WithLocation(tokyo)).ExtractFeatures(&events.Ledger{TransactionID: "T", Timestamp: saturdayNight}, nil)
	assert.Equal(t, 8.0, fv.HourOfDay)
	assert.Equal(t, 6.0, fv.DayOfWeek)
	assert.Equal(t, 0.0, fv.IsNightShift)
}

func TestExtractFeatures_MismatchHeuristic(t *testing.T) {
	tests := []struct {
		name            string
		fv              models.FeatureVector
		wantMismatch    float64
		wantCorrelation float64
	}{
		{"anomaly and invalid token, small delta", models.FeatureVector{WeightAnomaly: 1, TokenSignatureValid: 0, WeightDeltaKg: -1.5}, 10, 0.1},
		{"anomaly and invalid token, large delta", models.FeatureVector{WeightAnomaly: 1, TokenSignatureValid: 0, WeightDeltaKg: -42}, 84, 0.1},
		{"anomaly only", models.FeatureVector{WeightAnomaly: 1, TokenSignatureValid: 1, WeightDeltaKg: -42}, 2, 0.9},
		{"invalid token only", models.FeatureVector{WeightAnomaly: 0, TokenSignatureValid: 0}, 2, 0.9},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fv := tt.fv
			applyMismatch(&fv)
			assert.Equal(t, tt.wantMismatch, fv.PhysicalDigitalMismatch)
			assert.Equal(t, tt.wantCorrelation, fv.TokenSensorCorrelation)
		})
	}
}

func TestExtractFeatures_CrossSourceMismatch(t *testing.T) {
	e := NewExtractor(WithCorrelator(NewCorrelator(DefaultWindow)))

	weight := &events.Sensor{
		Type: events.SensorWeight, DeviceID: "WS-1", FacilityID: "WH-001", Timestamp: mondayNoon,
		DeltaKg: -3, AnomalyDetected: true, ExpectedItems: 10, DetectedItems: 8,
	}
	fv := e.ExtractFeatures(weight, nil)
	assert.LessOrEqual(t, fv.PhysicalDigitalMismatch, 3.0)

	scan := scanEvent(mondayNoon + 60)
	fv = e.ExtractFeatures(scan, &models.VerificationVerdict{IsValid: false, Severity: models.SeverityCritical})
	require.Equal(t, 1.0, fv.WeightAnomaly)
	assert.GreaterOrEqual(t, fv.PhysicalDigitalMismatch, 10.0)
	assert.Equal(t, 0.1, fv.TokenSensorCorrelation)
}

func TestCategoryRisk(t *testing.T) {
	assert.Equal(t, 0.9, CategoryRisk("3C"))
	assert.Equal(t, 0.9, CategoryRisk("Consumer Electronics"))
	assert.Equal(t, 0.5, CategoryRisk("Furniture"))
	assert.Equal(t, 0.5, CategoryRisk(""))
}

func TestExtractFeatures_ScanWithoutValueKeepsDefault(t *testing.T) {
	scan := scanEvent(mondayNoon)
	scan.Token.Item.Value = 0

	fv := NewExtractor().ExtractFeatures(scan, &models.VerificationVerdict{IsValid: true, Severity: models.SeverityNone})
	assert.Equal(t, defaults().ItemValue, fv.ItemValue)
	assert.Len(t, fv.Vector(), len(models.FeatureNames))
}

func TestExtractFeatures_OwnEvidenceNotOverwritten(t *testing.T) {
	e := NewExtractor(WithCorrelator(NewCorrelator(DefaultWindow)))

	forged := scanEvent(mondayNoon)
	fv := e.ExtractFeatures(forged, &models.VerificationVerdict{IsValid: false, Severity: models.SeverityCritical})
	require.Equal(t, 0.0, fv.TokenSignatureValid)

	genuine := scanEvent(mondayNoon + 30)
	genuine.Token.Item.ID = "3C-LAPTOP-002"
	fv = e.ExtractFeatures(genuine, &models.VerificationVerdict{IsValid: true, Severity: models.SeverityNone})
	assert.Equal(t, 1.0, fv.TokenSignatureValid)

	anomaly := &events.Sensor{
		Type: events.SensorWeight, DeviceID: "WS-1", FacilityID: "WH-001", Timestamp: mondayNoon + 40,
		DeltaKg: -40, AnomalyDetected: true,
	}
	fv = e.ExtractFeatures(anomaly, nil)
	require.Equal(t, 1.0, fv.WeightAnomaly)

	nominal := &events.Sensor{
		Type: events.SensorWeight, DeviceID: "WS-2", FacilityID: "WH-001", Timestamp: mondayNoon + 50,
		DeltaKg: 0.1,
	}
	fv = e.ExtractFeatures(nominal, nil)
	assert.Equal(t, 0.0, fv.WeightAnomaly)
	assert.Equal(t, 0.1, fv.WeightDeltaKg)
	assert.Equal(t, MismatchBaseline, fv.PhysicalDigitalMismatch)
}
