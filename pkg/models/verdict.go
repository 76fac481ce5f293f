package models

import "time"

// IndicatorType names a single fraud signal raised during verification.
type IndicatorType string

// Indicator types
const (
	IndicatorSignatureMismatch  IndicatorType = "signature_mismatch"
	IndicatorFutureTimestamp    IndicatorType = "future_timestamp"
	IndicatorExpiredCode        IndicatorType = "expired_code"
	IndicatorStatusManipulation IndicatorType = "status_manipulation"
	IndicatorUnauthorizedExit   IndicatorType = "unauthorized_exit"
	IndicatorShipmentMismatch   IndicatorType = "shipment_id_mismatch"
)

// FraudIndicator is one triggered verification check.
type FraudIndicator struct {
	Type        IndicatorType `json:"type"`
	Severity    Severity      `json:"severity"`
	Description string        `json:"description"`
}

// VerificationVerdict is the outcome of checking a token at a scan point.
type VerificationVerdict struct {
	TokenID      string           `json:"token_id"`
	IsValid      bool             `json:"is_valid"`
	Severity     Severity         `json:"severity"`
	Reason       string           `json:"reason"`
	VerifiedAt   time.Time        `json:"verified_at"`
	ScanLocation string           `json:"scan_location"`
	FacilityID   string           `json:"facility_id"`
	Item         Item             `json:"item"`
	TokenTime    int64            `json:"token_timestamp"`
	Indicators   []FraudIndicator `json:"fraud_indicators"`
}

// HasIndicator reports whether an indicator of type t was raised.
func (v *VerificationVerdict) HasIndicator(t IndicatorType) bool {
	for _, ind := range v.Indicators {
		if ind.Type == t {
			return true
		}
	}
	return false
}
