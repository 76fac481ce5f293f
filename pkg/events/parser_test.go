package events

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weilalicia7/Warehouse-Guardian-AI-Alert/pkg/models"
)

const tokenJSON = `{
	"token_id": "tok-1",
	"item": {"item_id": "3C-LAPTOP-001", "name": "Laptop", "category": "3C Electronics", "value": 1899.5, "location": "Shelf-A-5"},
	"timestamp": 1705320000,
	"facility_id": "WH-001",
	"state": "in_facility",
	"signature": "deadbeef"
}`

func TestParse_TokenScan(t *testing.T) {
	msg := []byte(`{
		"scan_id": "scan-42",
		"timestamp": 1705320100,
		"scan_location": "exit_gate",
		"expected_state": "in_facility",
		"tenant_id": "tenant-a",
		"token": ` + tokenJSON + `
	}`)

	ev, err := Parse(KindTokenScan, msg)
	require.NoError(t, err)

	scan, ok := ev.(*TokenScan)
	require.True(t, ok, "expected *TokenScan, got %T", ev)
	assert.Equal(t, KindTokenScan, ev.Kind())
	assert.Equal(t, "scan-42", ev.Key())
	assert.Equal(t, "WH-001", ev.Facility())
	assert.Equal(t, "tenant-a", ev.Tenant())
	assert.Equal(t, int64(1705320100), ev.Unix())
	assert.Equal(t, models.StateInFacility, scan.ExpectedState)
	assert.Equal(t, "3C-LAPTOP-001", scan.Token.Item.ID)
	assert.Equal(t, 1899.5, scan.Token.Item.Value)
}

func TestParse_TokenScanEncodedTag(t *testing.T) {
	msg := []byte(`{
		"scan_id": "scan-43",
		"timestamp": "1705320100.75",
		"scan_location": "dock_3",
		"token": "{\"token_id\":\"tok-2\",\"item\":{\"item_id\":\"I-9\"},\"timestamp\":1705320000,\"facility_id\":\"WH-002\",\"state\":\"dispatched\",\"shipment_id\":\"S-1\",\"signature\":\"ab\"}"
	}`)

	ev, err := Parse(KindTokenScan, msg)
	require.NoError(t, err)

	scan := ev.(*TokenScan)
	assert.Equal(t, int64(1705320100), scan.Timestamp)
	assert.Equal(t, models.TokenState(""), scan.ExpectedState)
	assert.Equal(t, "S-1", scan.Token.ShipmentID)
	assert.Equal(t, "WH-002", scan.Facility())
	assert.Empty(t, scan.Tenant())
}

func TestParse_Sensor(t *testing.T) {
	tests := []struct {
		name  string
		msg   string
		check func(t *testing.T, s *Sensor)
	}{
		{
			name: "weight",
			msg: `{"event_type":"weight_sensor","sensor_id":"WS-A5","facility_id":"WH-001","location":"Shelf-A-5",
				"delta_kg":-42.5,"anomaly_detected":true,"expected_items_count":20,"detected_items_count":3,"timestamp":1705320000}`,
			check: func(t *testing.T, s *Sensor) {
				assert.Equal(t, SensorWeight, s.Type)
				assert.Equal(t, "WS-A5", s.Key())
				assert.Equal(t, -42.5, s.DeltaKg)
				assert.True(t, s.AnomalyDetected)
				assert.Equal(t, 20, s.ExpectedItems)
				assert.Equal(t, 3, s.DetectedItems)
			},
		},
		{
			name: "rfid",
			msg:  `{"event_type":"rfid_reading","reader_id":"RF-EXIT","facility_id":"WH-001","signal_strength":35,"timestamp":1705320000.9}`,
			check: func(t *testing.T, s *Sensor) {
				assert.Equal(t, "RF-EXIT", s.Key())
				require.NotNil(t, s.SignalStrength)
				assert.Equal(t, 35.0, *s.SignalStrength)
				assert.Equal(t, int64(1705320000), s.Unix())
			},
		},
		{
			name: "camera without confidence",
			msg:  `{"event_type":"camera_detection","camera_id":"CAM-1","facility_id":"WH-001","alert":true,"timestamp":1705320000}`,
			check: func(t *testing.T, s *Sensor) {
				assert.Nil(t, s.Confidence)
				assert.True(t, s.Alert)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := Parse(KindSensor, []byte(tt.msg))
			require.NoError(t, err)
			s, ok := ev.(*Sensor)
			require.True(t, ok)
			assert.Equal(t, KindSensor, s.Kind())
			assert.Equal(t, "WH-001", s.Facility())
			tt.check(t, s)
		})
	}
}

func TestParse_Ledger(t *testing.T) {
	msg := []byte(`{
		"event_type": "inventory_transaction",
		"transaction_id": "TXN-1",
		"warehouse_id": "WH-001",
		"product_id": "3C-PHONE-002",
		"quantity_change": -20,
		"user_id": "COMPROMISED-ACCOUNT-X",
		"timestamp": 1705320000
	}`)

	ev, err := Parse(KindLedger, msg)
	require.NoError(t, err)

	l := ev.(*Ledger)
	assert.Equal(t, "TXN-1", l.Key())
	assert.Equal(t, "WH-001", l.Facility())
	assert.Equal(t, "3C-PHONE-002", l.ItemID)
	assert.Equal(t, -20.0, l.QuantityChange)
	assert.Equal(t, "COMPROMISED-ACCOUNT-X", l.ActorID)
}

func TestParse_LedgerSnapshotIgnored(t *testing.T) {
	_, err := Parse(KindLedger, []byte(`{"event_type":"inventory_snapshot","product_id":"P","timestamp":1}`))
	assert.ErrorIs(t, err, ErrIgnored)
	assert.False(t, errors.Is(err, ErrMalformedEvent))
}

func TestParse_Malformed(t *testing.T) {
	tests := []struct {
		name string
		kind Kind
		msg  string
		want error
	}{
		{"not json", KindSensor, `not json`, ErrMalformedEvent},
		{"unknown sensor", KindSensor, `{"event_type":"thermal","sensor_id":"x","timestamp":1}`, ErrUnknownKind},
		{"unknown source", Kind("audit"), `{}`, ErrUnknownKind},
		{"unknown ledger type", KindLedger, `{"event_type":"refund","transaction_id":"t","timestamp":1}`, ErrUnknownKind},
		{"sensor without device", KindSensor, `{"event_type":"weight_sensor","timestamp":1}`, ErrMissingField},
		{"sensor without timestamp", KindSensor, `{"event_type":"rfid_reading","reader_id":"r"}`, ErrMissingField},
		{"bad timestamp", KindLedger, `{"event_type":"inventory_transaction","transaction_id":"t","timestamp":"soon"}`, ErrMalformedEvent},
		{"negative timestamp", KindLedger, `{"event_type":"inventory_transaction","transaction_id":"t","timestamp":-5}`, ErrMalformedEvent},
		{"scan without token", KindTokenScan, `{"scan_id":"s","scan_location":"l","timestamp":1}`, ErrMissingField},
		{"scan with bad tag", KindTokenScan, `{"scan_id":"s","scan_location":"l","timestamp":1,"token":"garbage"}`, ErrMalformedEvent},
		{"scan with incomplete token", KindTokenScan, `{"scan_id":"s","scan_location":"l","timestamp":1,"token":{"token_id":"t"}}`, ErrMalformedEvent},
		{"scan with bad expected state", KindTokenScan, `{"scan_id":"s","scan_location":"l","timestamp":1,"expected_state":"lost","token":` + tokenJSON + `}`, ErrMalformedEvent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := Parse(tt.kind, []byte(tt.msg))
			assert.Nil(t, ev)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
			assert.ErrorIs(t, err, ErrMalformedEvent)
		})
	}
}

func TestParseKind(t *testing.T) {
	k, err := ParseKind("sensor")
	require.NoError(t, err)
	assert.Equal(t, KindSensor, k)

	_, err = ParseKind("qr_scan")
	assert.ErrorIs(t, err, ErrUnknownKind)
}
