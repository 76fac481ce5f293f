package events

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"

	"github.com/weilalicia7/Warehouse-Guardian-AI-Alert/pkg/models"
	"github.com/weilalicia7/Warehouse-Guardian-AI-Alert/pkg/verifier"
)

type rawScan struct {
	ScanID        string          `json:"scan_id"`
	Timestamp     json.RawMessage `json:"timestamp"` // number or string
	ScanLocation  string          `json:"scan_location"`
	ExpectedState string          `json:"expected_state"`
	TenantID      string          `json:"tenant_id"`
	Token         json.RawMessage `json:"token"` // object or encoded tag string
}

type rawSensor struct {
	EventType  string          `json:"event_type"`
	SensorID   string          `json:"sensor_id"`
	ReaderID   string          `json:"reader_id"`
	CameraID   string          `json:"camera_id"`
	FacilityID string          `json:"facility_id"`
	TenantID   string          `json:"tenant_id"`
	Location   string          `json:"location"`
	Timestamp  json.RawMessage `json:"timestamp"`

	DeltaKg         float64  `json:"delta_kg"`
	AnomalyDetected bool     `json:"anomaly_detected"`
	ExpectedItems   int      `json:"expected_items_count"`
	DetectedItems   int      `json:"detected_items_count"`
	SignalStrength  *float64 `json:"signal_strength"`
	Confidence      *float64 `json:"confidence"`
	Alert           bool     `json:"alert"`
}

type rawLedger struct {
	EventType      string          `json:"event_type"`
	TransactionID  string          `json:"transaction_id"`
	FacilityID     string          `json:"facility_id"`
	WarehouseID    string          `json:"warehouse_id"`
	TenantID       string          `json:"tenant_id"`
	ItemID         string          `json:"item_id"`
	ProductID      string          `json:"product_id"`
	QuantityChange float64         `json:"quantity_change"`
	ActorID        string          `json:"actor_id"`
	UserID         string          `json:"user_id"`
	Timestamp      json.RawMessage `json:"timestamp"`
}

// Parse decodes a record from the given source. Every decoding failure wraps
// ErrMalformedEvent; records that are well formed but not scored return
// ErrIgnored.
func Parse(kind Kind, data []byte) (Event, error) {
	switch kind {
	case KindTokenScan:
		return parseScan(data)
	case KindSensor:
		return parseSensor(data)
	case KindLedger:
		return parseLedger(data)
	default:
		return nil, fmt.Errorf("%w: source %q", ErrUnknownKind, kind)
	}
}

func parseScan(data []byte) (Event, error) {
	var raw rawScan
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: unmarshal scan: %v", ErrMalformedEvent, err)
	}
	if raw.ScanID == "" {
		return nil, fmt.Errorf("%w: scan_id", ErrMissingField)
	}
	if raw.ScanLocation == "" {
		return nil, fmt.Errorf("%w: scan_location", ErrMissingField)
	}
	ts, err := parseTimestamp(raw.Timestamp)
	if err != nil {
		return nil, err
	}

	expected := models.TokenState(raw.ExpectedState)
	if expected != "" && !expected.Valid() {
		return nil, fmt.Errorf("%w: expected_state %q", ErrMalformedEvent, raw.ExpectedState)
	}

	token, err := parseToken(raw.Token)
	if err != nil {
		return nil, err
	}

	return &TokenScan{
		ScanID:        raw.ScanID,
		Timestamp:     ts,
		ScanLocation:  raw.ScanLocation,
		ExpectedState: expected,
		TenantID:      raw.TenantID,
		Token:         token,
	}, nil
}

// parseToken accepts the token either as a JSON object or as the encoded tag
// string read off the physical label.
func parseToken(data json.RawMessage) (models.StateToken, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return models.StateToken{}, fmt.Errorf("%w: token", ErrMissingField)
	}

	if data[0] == '"' {
		var tag string
		if err := json.Unmarshal(data, &tag); err != nil {
			return models.StateToken{}, fmt.Errorf("%w: token: %v", ErrMalformedEvent, err)
		}
		token, err := verifier.Decode(tag)
		if err != nil {
			return models.StateToken{}, fmt.Errorf("%w: token: %v", ErrMalformedEvent, err)
		}
		return token, nil
	}

	var token models.StateToken
	if err := json.Unmarshal(data, &token); err != nil {
		return models.StateToken{}, fmt.Errorf("%w: token: %v", ErrMalformedEvent, err)
	}
	if err := verifier.Validate(token); err != nil {
		return models.StateToken{}, fmt.Errorf("%w: token: %v", ErrMalformedEvent, err)
	}
	return token, nil
}

func parseSensor(data []byte) (Event, error) {
	var raw rawSensor
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: unmarshal sensor: %v", ErrMalformedEvent, err)
	}

	ev := &Sensor{
		Type:       SensorType(raw.EventType),
		FacilityID: raw.FacilityID,
		TenantID:   raw.TenantID,
		Location:   raw.Location,
	}

	switch ev.Type {
	case SensorWeight:
		ev.DeviceID = raw.SensorID
		ev.DeltaKg = raw.DeltaKg
		ev.AnomalyDetected = raw.AnomalyDetected
		ev.ExpectedItems = raw.ExpectedItems
		ev.DetectedItems = raw.DetectedItems
	case SensorRFID:
		ev.DeviceID = raw.ReaderID
		ev.SignalStrength = raw.SignalStrength
	case SensorCamera:
		ev.DeviceID = raw.CameraID
		ev.Confidence = raw.Confidence
		ev.Alert = raw.Alert
	default:
		return nil, fmt.Errorf("%w: sensor event_type %q", ErrUnknownKind, raw.EventType)
	}

	if ev.DeviceID == "" {
		return nil, fmt.Errorf("%w: device id for %s", ErrMissingField, ev.Type)
	}
	ts, err := parseTimestamp(raw.Timestamp)
	if err != nil {
		return nil, err
	}
	ev.Timestamp = ts
	return ev, nil
}

func parseLedger(data []byte) (Event, error) {
	var raw rawLedger
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: unmarshal ledger: %v", ErrMalformedEvent, err)
	}

	switch raw.EventType {
	case "inventory_transaction":
	case "inventory_snapshot":
		// Periodic stock snapshots share the topic but carry no transaction.
		return nil, fmt.Errorf("%w: %s", ErrIgnored, raw.EventType)
	default:
		return nil, fmt.Errorf("%w: ledger event_type %q", ErrUnknownKind, raw.EventType)
	}

	if raw.TransactionID == "" {
		return nil, fmt.Errorf("%w: transaction_id", ErrMissingField)
	}
	ts, err := parseTimestamp(raw.Timestamp)
	if err != nil {
		return nil, err
	}

	return &Ledger{
		TransactionID:  raw.TransactionID,
		FacilityID:     firstNonEmpty(raw.FacilityID, raw.WarehouseID),
		TenantID:       raw.TenantID,
		ItemID:         firstNonEmpty(raw.ItemID, raw.ProductID),
		QuantityChange: raw.QuantityChange,
		ActorID:        firstNonEmpty(raw.ActorID, raw.UserID),
		Timestamp:      ts,
	}, nil
}

// parseTimestamp reads a unix timestamp that may be an integer, a fractional
// number or a numeric string. Fractions are truncated to whole seconds.
func parseTimestamp(data json.RawMessage) (int64, error) {
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return 0, fmt.Errorf("%w: timestamp", ErrMissingField)
	}

	var num float64
	if err := json.Unmarshal(data, &num); err == nil {
		return checkTimestamp(num)
	}

	var str string
	if err := json.Unmarshal(data, &str); err == nil {
		if v, err := strconv.ParseFloat(str, 64); err == nil {
			return checkTimestamp(v)
		}
	}

	return 0, fmt.Errorf("%w: timestamp %s", ErrMalformedEvent, string(data))
}

func checkTimestamp(v float64) (int64, error) {
	if v <= 0 || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%w: timestamp %v out of range", ErrMalformedEvent, v)
	}
	return int64(v), nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
