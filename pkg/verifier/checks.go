package verifier

import (
	"time"

	"github.com/weilalicia7/Warehouse-Guardian-AI-Alert/pkg/models"
)

type scanContext struct {
	location string
	expected models.TokenState
	now      time.Time
}

// check inspects one aspect of a token and returns an indicator when it fires.
type check func(v *Verifier, t *models.StateToken, scan scanContext) *models.FraudIndicator

// checks run in this order; the signature check comes first so it supplies
// the verdict reason whenever it fires.
var checks = []check{
	checkSignature,
	checkTimestamp,
	checkStatusManipulation,
	checkUnauthorizedExit,
	checkShipmentID,
}

// invalidating lists the indicators that make a token invalid on their own.
var invalidating = map[models.IndicatorType]bool{
	models.IndicatorSignatureMismatch:  true,
	models.IndicatorFutureTimestamp:    true,
	models.IndicatorStatusManipulation: true,
}

func checkSignature(v *Verifier, t *models.StateToken, _ scanContext) *models.FraudIndicator {
	if signatureMatches(v.key, t) {
		return nil
	}
	return &models.FraudIndicator{
		Type:        models.IndicatorSignatureMismatch,
		Severity:    models.SeverityCritical,
		Description: "signature mismatch: token was altered after signing",
	}
}

func checkTimestamp(v *Verifier, t *models.StateToken, scan scanContext) *models.FraudIndicator {
	age := scan.now.Unix() - t.Timestamp
	switch {
	case age < 0:
		return &models.FraudIndicator{
			Type:        models.IndicatorFutureTimestamp,
			Severity:    models.SeverityCritical,
			Description: "token timestamp is in the future: possible forgery",
		}
	case time.Duration(age)*time.Second > v.maxAge:
		return &models.FraudIndicator{
			Type:        models.IndicatorExpiredCode,
			Severity:    models.SeverityMedium,
			Description: "token is older than the maximum age",
		}
	}
	return nil
}

func checkStatusManipulation(_ *Verifier, t *models.StateToken, scan scanContext) *models.FraudIndicator {
	if t.State != models.StateDispatched || scan.expected == models.StateDispatched {
		return nil
	}
	return &models.FraudIndicator{
		Type:        models.IndicatorStatusManipulation,
		Severity:    models.SeverityCritical,
		Description: "item claims to be dispatched but is not expected to be: status manipulation",
	}
}

// checkUnauthorizedExit fires for an in-facility item at an exit, unless the
// scan point itself declares that it expects the item to still be inside.
func checkUnauthorizedExit(v *Verifier, t *models.StateToken, scan scanContext) *models.FraudIndicator {
	if t.State != models.StateInFacility || !v.IsExitCheckpoint(scan.location) {
		return nil
	}
	if scan.expected == models.StateInFacility {
		return nil
	}
	return &models.FraudIndicator{
		Type:        models.IndicatorUnauthorizedExit,
		Severity:    models.SeverityHigh,
		Description: "item scanned at an exit while still marked in facility",
	}
}

func checkShipmentID(_ *Verifier, t *models.StateToken, _ scanContext) *models.FraudIndicator {
	if t.ShipmentID == "" {
		return nil
	}
	if t.State == models.StateReadyForDispatch || t.State == models.StateDispatched {
		return nil
	}
	return &models.FraudIndicator{
		Type:        models.IndicatorShipmentMismatch,
		Severity:    models.SeverityHigh,
		Description: "token carries a shipment id but the item is not ready or dispatched",
	}
}
