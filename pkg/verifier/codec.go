package verifier

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/weilalicia7/Warehouse-Guardian-AI-Alert/pkg/models"
)

var (
	// ErrMalformedToken is returned when a tag string cannot be decoded.
	ErrMalformedToken = errors.New("verifier: malformed token")
	// ErrMissingField is returned when a mandatory token field is absent.
	ErrMissingField = errors.New("verifier: missing mandatory field")
)

// Encode renders token as the self-contained string printed on a tag.
func Encode(token models.StateToken) (string, error) {
	b, err := json.Marshal(token)
	if err != nil {
		return "", fmt.Errorf("encode token: %w", err)
	}
	return string(b), nil
}

// Decode parses a tag string. It only checks shape; authenticity is decided
// by Verify.
func Decode(s string) (models.StateToken, error) {
	var token models.StateToken
	if err := json.Unmarshal([]byte(s), &token); err != nil {
		return models.StateToken{}, fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}
	if err := Validate(token); err != nil {
		return models.StateToken{}, err
	}
	return token, nil
}

// Validate checks that every mandatory field is present.
func Validate(token models.StateToken) error {
	switch {
	case token.ID == "":
		return fmt.Errorf("%w: token_id", ErrMissingField)
	case token.Item.ID == "":
		return fmt.Errorf("%w: item.item_id", ErrMissingField)
	case token.FacilityID == "":
		return fmt.Errorf("%w: facility_id", ErrMissingField)
	case token.State == "":
		return fmt.Errorf("%w: state", ErrMissingField)
	case token.Timestamp == 0:
		return fmt.Errorf("%w: timestamp", ErrMissingField)
	case token.Signature == "":
		return fmt.Errorf("%w: signature", ErrMissingField)
	}
	return nil
}
