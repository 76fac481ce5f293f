package server

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/weilalicia7/Warehouse-Guardian-AI-Alert/pkg/auth"
	"github.com/weilalicia7/Warehouse-Guardian-AI-Alert/pkg/models"
	"github.com/weilalicia7/Warehouse-Guardian-AI-Alert/pkg/verifier"
)

type issueRequest struct {
	Item       models.Item       `json:"item"`
	FacilityID string            `json:"facility_id"`
	State      models.TokenState `json:"state"`
	ShipmentID string            `json:"shipment_id"`
}

type issueResponse struct {
	Token models.StateToken `json:"token"`
	Tag   string            `json:"tag"`
}

// issueToken signs a token for the caller's facility and records the issued
// state as the item's expected state.
func (s *Server) issueToken(w http.ResponseWriter, r *http.Request) {
	claims, _ := auth.ClaimsFromContext(r.Context())

	var req issueRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	facility, ok := s.facilityFor(claims, req.FacilityID)
	if !ok {
		writeError(w, http.StatusForbidden, "credentials may not issue tokens for this facility")
		return
	}

	tok, err := s.d.Verifier.Generate(req.Item, facility, req.State, req.ShipmentID)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	tag, err := verifier.Encode(tok)
	if err != nil {
		s.logger.Error("encode token", zap.String("token", tok.ID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	if s.d.States != nil {
		s.d.States.Set(r.Context(), tok.Item.ID, tok.State)
	}
	s.logger.Info("token issued",
		zap.String("token", tok.ID),
		zap.String("item", tok.Item.ID),
		zap.String("facility", facility),
		zap.String("state", string(tok.State)),
		zap.String("tenant", tenantOf(claims)))

	writeJSON(w, http.StatusCreated, issueResponse{Token: tok, Tag: tag})
}

type verifyRequest struct {
	Token         *models.StateToken `json:"token"`
	Tag           string             `json:"tag"`
	ScanLocation  string             `json:"scan_location"`
	ExpectedState models.TokenState  `json:"expected_state"`
}

// verifyToken checks one token for a scan point with the same rules the
// stream uses. Integrity problems come back as a verdict, not an error.
func (s *Server) verifyToken(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ScanLocation == "" {
		writeError(w, http.StatusBadRequest, "scan_location is required")
		return
	}
	if req.ExpectedState != "" && !req.ExpectedState.Valid() {
		writeError(w, http.StatusBadRequest, "unknown expected_state")
		return
	}

	var tok models.StateToken
	switch {
	case req.Token != nil:
		if err := verifier.Validate(*req.Token); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		tok = *req.Token
	case req.Tag != "":
		var err error
		if tok, err = verifier.Decode(req.Tag); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	default:
		writeError(w, http.StatusBadRequest, "token or tag is required")
		return
	}

	expected := req.ExpectedState
	if expected == "" && s.d.States != nil {
		if cached, ok := s.d.States.Get(r.Context(), tok.Item.ID); ok && cached != models.StateInFacility {
			expected = cached
		}
	}

	writeJSON(w, http.StatusOK, s.d.Verifier.Verify(tok, req.ScanLocation, expected))
}

// facilityFor picks the facility a caller may issue for. Only credentials
// scoped to a facility may issue, only for that facility, and only when the
// facility is not mapped to another tenant.
func (s *Server) facilityFor(claims *auth.Claims, requested string) (string, bool) {
	if claims == nil || claims.FacilityID == "" {
		return "", false
	}
	if requested != "" && requested != claims.FacilityID {
		return "", false
	}
	if s.d.Tenants != nil {
		if owner := s.d.Tenants.Resolve(claims.FacilityID); owner != "" && owner != claims.Tenant() {
			return "", false
		}
	}
	return claims.FacilityID, true
}

func tenantOf(claims *auth.Claims) string {
	if claims == nil {
		return ""
	}
	return claims.Tenant()
}
