package features

import (
	"math"
	"time"

	"github.com/weilalicia7/Warehouse-Guardian-AI-Alert/pkg/events"
	"github.com/weilalicia7/Warehouse-Guardian-AI-Alert/pkg/models"
)

// defaults returns the vector used when a source says nothing about a field.
func defaults() models.FeatureVector {
	return models.FeatureVector{
		TokenSignatureValid:     1,
		TokenAgeHours:           24,
		ScanLocationRisk:        0.5,
		WeightDeltaKg:           0,
		WeightAnomaly:           0,
		ItemsMissingCount:       0,
		RFIDSignalStrength:      80,
		CameraConfidence:        0.7,
		CameraAlert:             0,
		QuantityChange:          0,
		TransactionVelocity:     5,
		ActorRiskScore:          0.3,
		ItemValue:               1000,
		CategoryRisk:            0.5,
		HourOfDay:               12,
		DayOfWeek:               3,
		IsWeekend:               0,
		IsNightShift:            0,
		PhysicalDigitalMismatch: 0,
		TokenSensorCorrelation:  0.8,
	}
}

// Defaults returns the default-filled feature vector.
func Defaults() models.FeatureVector { return defaults() }

// Extractor builds feature vectors. The zero value is not usable; call
// NewExtractor.
type Extractor struct {
	loc        *time.Location
	correlator *Correlator
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithLocation sets the facility time zone used for calendar features.
func WithLocation(loc *time.Location) Option {
	return func(e *Extractor) {
		if loc != nil {
			e.loc = loc
		}
	}
}

// WithCorrelator carries evidence across sources through c.
func WithCorrelator(c *Correlator) Option {
	return func(e *Extractor) { e.correlator = c }
}

// NewExtractor creates an extractor using UTC unless configured otherwise.
func NewExtractor(opts ...Option) *Extractor {
	e := &Extractor{loc: time.UTC}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ExtractFeatures maps ev onto the schema. verdict is the verification
// outcome for token scans and is ignored for other kinds. Every field is
// always set.
func (e *Extractor) ExtractFeatures(ev events.Event, verdict *models.VerificationVerdict) models.FeatureVector {
	fv := defaults()

	var owns Evidence
	switch x := ev.(type) {
	case *events.TokenScan:
		applyScan(&fv, x, verdict)
		if verdict != nil {
			owns |= OwnsToken
		}
	case *events.Sensor:
		applySensor(&fv, x)
		if x.Type == events.SensorWeight {
			owns |= OwnsWeight
		}
	case *events.Ledger:
		applyLedger(&fv, x)
	}

	e.applyCalendar(&fv, ev.Unix())

	if e.correlator != nil {
		e.correlator.Correlate(ev.Facility(), ev.Unix(), owns, &fv)
	}

	applyMismatch(&fv)
	return fv
}

func applyScan(fv *models.FeatureVector, scan *events.TokenScan, verdict *models.VerificationVerdict) {
	item := scan.Token.Item
	if verdict != nil {
		fv.TokenSignatureValid = models.Flag(verdict.IsValid)
		fv.ScanLocationRisk = LocationRisk(verdict.Severity)
	}

	if item.Value > 0 {
		fv.ItemValue = item.Value
	}
	fv.CategoryRisk = CategoryRisk(item.Category)

	if scan.Token.Timestamp > 0 {
		age := float64(scan.Timestamp-scan.Token.Timestamp) / 3600
		fv.TokenAgeHours = math.Max(0, age)
	}
}

func applySensor(fv *models.FeatureVector, s *events.Sensor) {
	switch s.Type {
	case events.SensorWeight:
		fv.WeightDeltaKg = s.DeltaKg
		fv.WeightAnomaly = models.Flag(s.AnomalyDetected)
		fv.ItemsMissingCount = float64(max(0, s.ExpectedItems-s.DetectedItems))
	case events.SensorRFID:
		if s.SignalStrength != nil {
			fv.RFIDSignalStrength = *s.SignalStrength
		}
	case events.SensorCamera:
		if s.Confidence != nil {
			fv.CameraConfidence = *s.Confidence
		}
		fv.CameraAlert = models.Flag(s.Alert)
	}
}

func applyLedger(fv *models.FeatureVector, l *events.Ledger) {
	fv.QuantityChange = l.QuantityChange
	fv.ActorRiskScore = ActorRisk(l.ActorID)
}

func (e *Extractor) applyCalendar(fv *models.FeatureVector, unix int64) {
	t := time.Unix(unix, 0).In(e.loc)

	hour := t.Hour()
	// Monday is day 0.
	day := (int(t.Weekday()) + 6) % 7

	fv.HourOfDay = float64(hour)
	fv.DayOfWeek = float64(day)
	fv.IsWeekend = models.Flag(day >= 5)
	fv.IsNightShift = models.Flag(hour < 6 || hour >= 22)
}

// applyMismatch scores disagreement between physical and digital evidence:
// a weight anomaly together with an invalid token is a strong signal.
func applyMismatch(fv *models.FeatureVector) {
	if fv.WeightAnomaly == 1 && fv.TokenSignatureValid == 0 {
		fv.PhysicalDigitalMismatch = math.Max(MismatchFloor, mismatchWeightMultiplier*math.Abs(fv.WeightDeltaKg))
		fv.TokenSensorCorrelation = MismatchCorrelation
		return
	}
	fv.PhysicalDigitalMismatch = MismatchBaseline
	fv.TokenSensorCorrelation = ConsistentCorrelation
}
