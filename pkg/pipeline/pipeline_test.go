package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/weilalicia7/Warehouse-Guardian-AI-Alert/pkg/alerting"
	"github.com/weilalicia7/Warehouse-Guardian-AI-Alert/pkg/events"
	"github.com/weilalicia7/Warehouse-Guardian-AI-Alert/pkg/features"
	"github.com/weilalicia7/Warehouse-Guardian-AI-Alert/pkg/metrics"
	"github.com/weilalicia7/Warehouse-Guardian-AI-Alert/pkg/models"
	"github.com/weilalicia7/Warehouse-Guardian-AI-Alert/pkg/verifier"
)

type stubScorer struct {
	p   float64
	err error
}

func (s stubScorer) Score(_ context.Context, fv models.FeatureVector) (models.PredictionResult, error) {
	if s.err != nil {
		return models.PredictionResult{}, s.err
	}
	return models.PredictionResult{Probability: s.p, Features: fv, ModelVersion: "stub"}, nil
}

type memStates struct {
	mu sync.Mutex
	m  map[string]models.TokenState
}

func (s *memStates) Get(_ context.Context, id string) (models.TokenState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.m[id]
	return st, ok
}

func (s *memStates) Set(_ context.Context, id string, st models.TokenState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[id] = st
}

type collector struct {
	mu     sync.Mutex
	alerts []*models.Alert
	err    error
}

func (c *collector) Publish(_ context.Context, a *models.Alert) error { return c.add(a) }
func (c *collector) Deliver(_ context.Context, a *models.Alert) error { return c.add(a) }
func (c *collector) Write(a *models.Alert)                            { _ = c.add(a) }

func (c *collector) add(a *models.Alert) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.alerts = append(c.alerts, a)
	return nil
}

func (c *collector) kinds() []models.AlertKind {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]models.AlertKind, 0, len(c.alerts))
	for _, a := range c.alerts {
		out = append(out, a.Kind)
	}
	return out
}

type mapTenants map[string]string

func (m mapTenants) Resolve(f string) string { return m[f] }
func (m mapTenants) Count() int              { return len(m) }
func (m mapTenants) Start()                  {}
func (m mapTenants) Stop()                   {}

type harness struct {
	p        *Pipeline
	v        *verifier.Verifier
	m        *metrics.Metrics
	sink     *collector
	audit    *collector
	delivery *collector
	states   *memStates
}

var now = time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)

func newHarness(t *testing.T, scorer Scorer, tenants mapTenants) *harness {
	t.Helper()
	v, err := verifier.New([]byte("facility-secret"), verifier.Options{Now: func() time.Time { return now }})
	require.NoError(t, err)

	h := &harness{
		v:        v,
		m:        metrics.New(nil),
		sink:     &collector{},
		audit:    &collector{},
		delivery: &collector{},
		states:   &memStates{m: map[string]models.TokenState{}},
	}
	h.p, err = New(Deps{
		Verifier:  v,
		Extractor: features.NewExtractor(features.WithLocation(time.UTC)),
		Scorer:    scorer,
		Router:    alerting.NewRouter(alerting.Config{}),
		Metrics:   h.m,
		Logger:    zap.NewNop(),
		States:    h.states,
		Tenants:   tenants,
		Sink:      h.sink,
		Audit:     h.audit,
		Delivery:  h.delivery,
	})
	require.NoError(t, err)
	return h
}

func phone() models.Item {
	return models.Item{ID: "3C-PHONE-002", Name: "Phone", Category: "3C Electronics", Value: 899}
}

func (h *harness) scan(t *testing.T, state models.TokenState, expected models.TokenState, loc, tenant string) *events.TokenScan {
	t.Helper()
	tok, err := h.v.Generate(phone(), "WH-001", state, "")
	require.NoError(t, err)
	return &events.TokenScan{
		ScanID:        "SCAN-1",
		Timestamp:     now.Unix(),
		ScanLocation:  loc,
		ExpectedState: expected,
		TenantID:      tenant,
		Token:         tok,
	}
}

func TestNew_RequiresCore(t *testing.T) {
	_, err := New(Deps{})
	assert.Error(t, err)
}

func TestProcess_ForgedDispatchAlerts(t *testing.T) {
	h := newHarness(t, stubScorer{p: 0.2}, nil)

	ev := h.scan(t, models.StateDispatched, models.StateInFacility, "exit_gate", "acme")
	require.NoError(t, h.p.Process(context.Background(), ev))

	assert.Equal(t, []models.AlertKind{models.AlertKindVerification}, h.sink.kinds())
	assert.Equal(t, h.sink.kinds(), h.audit.kinds())
	assert.Equal(t, h.sink.kinds(), h.delivery.kinds())

	a := h.sink.alerts[0]
	assert.Equal(t, "acme", a.TenantID)
	require.NotNil(t, a.Severity)
	assert.Equal(t, models.SeverityCritical, *a.Severity)
	assert.Equal(t, "SCAN-1", a.Source.Key)
	assert.True(t, a.Payload.Verdict.HasIndicator(models.IndicatorStatusManipulation))

	assert.Equal(t, 1.0, testutil.ToFloat64(h.m.Verdicts.WithLabelValues("critical")))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.m.Alerts.WithLabelValues("verification")))

	// An invalid token never becomes the trusted state.
	_, cached := h.states.Get(context.Background(), phone().ID)
	assert.False(t, cached)
}

func TestProcess_ValidScanUpdatesCache(t *testing.T) {
	h := newHarness(t, stubScorer{p: 0.1}, nil)

	ev := h.scan(t, models.StateReadyForDispatch, "", "dock_3", "acme")
	require.NoError(t, h.p.Process(context.Background(), ev))

	assert.Empty(t, h.sink.kinds())
	st, ok := h.states.Get(context.Background(), phone().ID)
	require.True(t, ok)
	assert.Equal(t, models.StateReadyForDispatch, st)
}

func TestProcess_CachedExpectationUsed(t *testing.T) {
	h := newHarness(t, stubScorer{p: 0.1}, nil)
	h.states.Set(context.Background(), phone().ID, models.StateDispatched)

	// No expectation on the record; the cached dispatched state applies.
	ev := h.scan(t, models.StateDispatched, "", "exit_gate", "acme")
	require.NoError(t, h.p.Process(context.Background(), ev))

	assert.Empty(t, h.sink.kinds())
	assert.Equal(t, 1.0, testutil.ToFloat64(h.m.Verdicts.WithLabelValues("none")))
}

func TestProcess_CachedInFacilityDoesNotExcuseExit(t *testing.T) {
	h := newHarness(t, stubScorer{p: 0.1}, nil)
	h.states.Set(context.Background(), phone().ID, models.StateInFacility)

	ev := h.scan(t, models.StateInFacility, "", "exit_gate", "acme")
	require.NoError(t, h.p.Process(context.Background(), ev))

	assert.Equal(t, []models.AlertKind{models.AlertKindVerification}, h.sink.kinds())
	assert.Equal(t, 1.0, testutil.ToFloat64(h.m.Verdicts.WithLabelValues("high")))
}

func TestProcess_PredictionAlert(t *testing.T) {
	h := newHarness(t, stubScorer{p: 0.95}, nil)

	ev := &events.Ledger{
		TransactionID:  "TXN-1",
		FacilityID:     "WH-001",
		TenantID:       "acme",
		ItemID:         "3C-PHONE-002",
		QuantityChange: -20,
		ActorID:        "COMPROMISED-ACCOUNT-X",
		Timestamp:      now.Unix(),
	}
	require.NoError(t, h.p.Process(context.Background(), ev))

	require.Equal(t, []models.AlertKind{models.AlertKindPrediction}, h.sink.kinds())
	a := h.sink.alerts[0]
	require.NotNil(t, a.Probability)
	assert.Equal(t, 0.95, *a.Probability)
	assert.Equal(t, "ledger_transaction", a.Source.Kind)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.m.Predictions))
}

func TestProcess_BelowThresholdNoAlert(t *testing.T) {
	h := newHarness(t, stubScorer{p: 0.4}, nil)

	ev := &events.Ledger{TransactionID: "TXN-2", FacilityID: "WH-001", TenantID: "acme", Timestamp: now.Unix()}
	require.NoError(t, h.p.Process(context.Background(), ev))
	assert.Empty(t, h.sink.kinds())
}

func TestProcess_TenantFromResolver(t *testing.T) {
	h := newHarness(t, stubScorer{p: 0.95}, mapTenants{"WH-001": "globex"})

	ev := &events.Ledger{TransactionID: "TXN-3", FacilityID: "WH-001", Timestamp: now.Unix()}
	require.NoError(t, h.p.Process(context.Background(), ev))

	require.Len(t, h.sink.alerts, 1)
	assert.Equal(t, "globex", h.sink.alerts[0].TenantID)
}

func TestProcess_NoTenantDropped(t *testing.T) {
	h := newHarness(t, stubScorer{p: 0.95}, nil)

	ev := h.scan(t, models.StateDispatched, models.StateInFacility, "exit_gate", "")
	require.NoError(t, h.p.Process(context.Background(), ev))

	assert.Empty(t, h.sink.kinds())
	assert.Empty(t, h.delivery.kinds())
	// Both the verdict and the prediction had nowhere to go.
	assert.Equal(t, 2.0, testutil.ToFloat64(h.m.AlertsDropped.WithLabelValues("no_tenant")))
}

func TestProcess_ScoringFailureSkipsPrediction(t *testing.T) {
	h := newHarness(t, stubScorer{err: errors.New("classifier unavailable")}, nil)

	ev := h.scan(t, models.StateDispatched, models.StateInFacility, "exit_gate", "acme")
	require.NoError(t, h.p.Process(context.Background(), ev))

	// The verdict alert still goes out.
	assert.Equal(t, []models.AlertKind{models.AlertKindVerification}, h.sink.kinds())
	assert.Equal(t, 1.0, testutil.ToFloat64(h.m.ScoringFailures))
	assert.Equal(t, 0.0, testutil.ToFloat64(h.m.Predictions))
}

func TestProcess_PublishFailureReported(t *testing.T) {
	h := newHarness(t, stubScorer{p: 0.95}, nil)
	h.sink.err = errors.New("broker down")

	ev := &events.Ledger{TransactionID: "TXN-4", FacilityID: "WH-001", TenantID: "acme", Timestamp: now.Unix()}
	err := h.p.Process(context.Background(), ev)
	require.Error(t, err)
	assert.ErrorContains(t, err, "broker down")

	// Live delivery is attempted regardless.
	assert.Len(t, h.delivery.kinds(), 1)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.m.PublishFailures))
}

func TestProcess_EverySensorKindScored(t *testing.T) {
	h := newHarness(t, stubScorer{p: 0.1}, nil)

	for _, st := range []events.SensorType{events.SensorWeight, events.SensorRFID, events.SensorCamera} {
		ev := &events.Sensor{Type: st, DeviceID: "dev", FacilityID: "WH-001", TenantID: "acme", Timestamp: now.Unix()}
		require.NoError(t, h.p.Process(context.Background(), ev))
	}
	assert.Equal(t, uint64(3), h.p.Stats()["scored"])
}
