package verifier

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/weilalicia7/Warehouse-Guardian-AI-Alert/pkg/models"
)

// canonicalPayload returns the bytes that get signed. encoding/json writes map
// keys in sorted order, so field order never affects the result. An absent
// shipment id is encoded as null.
func canonicalPayload(t *models.StateToken) ([]byte, error) {
	var shipment any
	if t.ShipmentID != "" {
		shipment = t.ShipmentID
	}
	return json.Marshal(map[string]any{
		"token_id":    t.ID,
		"item_id":     t.Item.ID,
		"timestamp":   t.Timestamp,
		"facility_id": t.FacilityID,
		"shipment_id": shipment,
		"state":       string(t.State),
	})
}

func sign(key []byte, t *models.StateToken) (string, error) {
	payload, err := canonicalPayload(t)
	if err != nil {
		return "", err
	}
	mac := hmac.New(sha256.New, key)
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil)), nil
}

func signatureMatches(key []byte, t *models.StateToken) bool {
	expected, err := sign(key, t)
	if err != nil {
		return false
	}
	return hmac.Equal([]byte(expected), []byte(t.Signature))
}
