// Package events decodes upstream records into a tagged event variant.
package events

import (
	"errors"
	"fmt"
	"time"

	"github.com/weilalicia7/Warehouse-Guardian-AI-Alert/pkg/models"
)

// Kind identifies the upstream source an event came from.
type Kind string

// Source kinds
const (
	KindTokenScan Kind = "token_scan"
	KindSensor    Kind = "sensor"
	KindLedger    Kind = "ledger_transaction"
)

// Kinds lists every source kind.
var Kinds = []Kind{KindTokenScan, KindSensor, KindLedger}

var (
	// ErrMalformedEvent is the root of every decoding failure.
	ErrMalformedEvent = errors.New("malformed event")
	// ErrUnknownKind is returned for a record whose kind is not recognised.
	ErrUnknownKind = fmt.Errorf("%w: unknown kind", ErrMalformedEvent)
	// ErrMissingField is returned when a mandatory field is absent.
	ErrMissingField = fmt.Errorf("%w: missing field", ErrMalformedEvent)
	// ErrIgnored marks well-formed records the pipeline does not score.
	ErrIgnored = errors.New("event ignored")
)

// ParseKind maps a source name to its Kind.
func ParseKind(s string) (Kind, error) {
	for _, k := range Kinds {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
}

// Event is implemented by TokenScan, Sensor and Ledger.
type Event interface {
	Kind() Kind
	// Key identifies the upstream record.
	Key() string
	Facility() string
	// Tenant is the tenant named by the record, or "".
	Tenant() string
	// Unix is the event time in unix seconds.
	Unix() int64
}

// Time returns the event time of ev.
func Time(ev Event) time.Time {
	return time.Unix(ev.Unix(), 0)
}

// TokenScan is a state token read at a scan point.
type TokenScan struct {
	ScanID        string
	Timestamp     int64
	ScanLocation  string
	ExpectedState models.TokenState // "" when the scan point has no expectation
	TenantID      string
	Token         models.StateToken
}

func (e *TokenScan) Kind() Kind       { return KindTokenScan }
func (e *TokenScan) Key() string      { return e.ScanID }
func (e *TokenScan) Facility() string { return e.Token.FacilityID }
func (e *TokenScan) Tenant() string   { return e.TenantID }
func (e *TokenScan) Unix() int64      { return e.Timestamp }

// SensorType is the physical sensor family.
type SensorType string

// Sensor families
const (
	SensorWeight SensorType = "weight_sensor"
	SensorRFID   SensorType = "rfid_reading"
	SensorCamera SensorType = "camera_detection"
)

// Sensor is a physical telemetry reading. Only the fields of its family are set.
type Sensor struct {
	Type       SensorType
	DeviceID   string
	FacilityID string
	TenantID   string
	Location   string
	Timestamp  int64

	// weight
	DeltaKg         float64
	AnomalyDetected bool
	ExpectedItems   int
	DetectedItems   int

	// rfid; nil when not reported
	SignalStrength *float64

	// camera; Confidence is nil when not reported
	Confidence *float64
	Alert      bool
}

func (e *Sensor) Kind() Kind       { return KindSensor }
func (e *Sensor) Key() string      { return e.DeviceID }
func (e *Sensor) Facility() string { return e.FacilityID }
func (e *Sensor) Tenant() string   { return e.TenantID }
func (e *Sensor) Unix() int64      { return e.Timestamp }

// Ledger is a digital inventory transaction.
type Ledger struct {
	TransactionID  string
	FacilityID     string
	TenantID       string
	ItemID         string
	QuantityChange float64
	ActorID        string
	Timestamp      int64
}

func (e *Ledger) Kind() Kind       { return KindLedger }
func (e *Ledger) Key() string      { return e.TransactionID }
func (e *Ledger) Facility() string { return e.FacilityID }
func (e *Ledger) Tenant() string   { return e.TenantID }
func (e *Ledger) Unix() int64      { return e.Timestamp }
