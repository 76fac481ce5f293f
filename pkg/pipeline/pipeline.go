// Package pipeline runs every upstream event through verification, feature
// extraction, scoring and routing, and fans the resulting alerts out.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/weilalicia7/Warehouse-Guardian-AI-Alert/pkg/alerting"
	"github.com/weilalicia7/Warehouse-Guardian-AI-Alert/pkg/database"
	"github.com/weilalicia7/Warehouse-Guardian-AI-Alert/pkg/events"
	"github.com/weilalicia7/Warehouse-Guardian-AI-Alert/pkg/features"
	"github.com/weilalicia7/Warehouse-Guardian-AI-Alert/pkg/metrics"
	"github.com/weilalicia7/Warehouse-Guardian-AI-Alert/pkg/models"
	"github.com/weilalicia7/Warehouse-Guardian-AI-Alert/pkg/relay"
	"github.com/weilalicia7/Warehouse-Guardian-AI-Alert/pkg/verifier"
)

// StateStore remembers the last trusted state of each item.
type StateStore interface {
	Get(ctx context.Context, itemID string) (models.TokenState, bool)
	Set(ctx context.Context, itemID string, state models.TokenState)
}

// Scorer turns a feature vector into a prediction.
type Scorer interface {
	Score(ctx context.Context, fv models.FeatureVector) (models.PredictionResult, error)
}

// Sink is the outbound alert stream.
type Sink interface {
	Publish(ctx context.Context, alert *models.Alert) error
}

// AuditWriter records alerts without blocking.
type AuditWriter interface {
	Write(alert *models.Alert)
}

// Deps wires the pipeline. Verifier, Extractor, Scorer, Router and Metrics
// are required; the rest may be nil.
type Deps struct {
	Verifier  *verifier.Verifier
	Extractor *features.Extractor
	Scorer    Scorer
	Router    *alerting.Router
	Metrics   *metrics.Metrics
	Logger    *zap.Logger

	States   StateStore
	Tenants  database.TenantResolver
	Sink     Sink
	Audit    AuditWriter
	Delivery relay.Deliverer
}

// Pipeline processes one event at a time per caller. It holds no per-event
// state of its own; concurrent callers are safe as long as the dependencies
// are.
type Pipeline struct {
	d      Deps
	logger *zap.Logger

	// Stats
	processed atomic.Uint64
	verified  atomic.Uint64
	scored    atomic.Uint64
	alerts    atomic.Uint64
}

// New validates deps and builds a pipeline.
func New(d Deps) (*Pipeline, error) {
	switch {
	case d.Verifier == nil:
		return nil, errors.New("pipeline: verifier required")
	case d.Extractor == nil:
		return nil, errors.New("pipeline: extractor required")
	case d.Scorer == nil:
		return nil, errors.New("pipeline: scorer required")
	case d.Router == nil:
		return nil, errors.New("pipeline: router required")
	case d.Metrics == nil:
		return nil, errors.New("pipeline: metrics required")
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Tenants == nil {
		d.Tenants = database.NewNullResolver()
	}
	return &Pipeline{d: d, logger: d.Logger.Named("pipeline")}, nil
}

// Process handles one event. Scoring failures skip the prediction stage and
// are not returned; the error reports outbound failures only.
func (p *Pipeline) Process(ctx context.Context, ev events.Event) error {
	p.processed.Add(1)
	tenant := p.tenantFor(ev)
	src := models.SourceRef{
		Kind:       string(ev.Kind()),
		Key:        ev.Key(),
		FacilityID: ev.Facility(),
		Timestamp:  ev.Unix(),
	}

	var errs []error
	var verdict *models.VerificationVerdict
	if scan, ok := ev.(*events.TokenScan); ok {
		v := p.verify(ctx, scan)
		verdict = &v
		if p.d.Router.VerdictAlerts(v) {
			errs = append(errs, p.emit(ctx, p.d.Router.RouteVerdict(v, tenant, src), src))
		}
	}

	fv := p.d.Extractor.ExtractFeatures(ev, verdict)

	start := time.Now()
	pred, err := p.d.Scorer.Score(ctx, fv)
	p.d.Metrics.ScoringLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		p.d.Metrics.ScoringFailures.Inc()
		p.logger.Warn("scoring failed, event skipped",
			zap.String("kind", src.Kind),
			zap.String("key", src.Key),
			zap.Error(err))
		return errors.Join(errs...)
	}
	p.scored.Add(1)
	p.d.Metrics.Predictions.Inc()

	if p.d.Router.PredictionAlerts(pred) {
		errs = append(errs, p.emit(ctx, p.d.Router.RoutePrediction(pred, tenant, src), src))
	}
	return errors.Join(errs...)
}

// verify checks the scanned token against the scan point's expectation, or
// against the cached state when the scan point has none. A cached
// in_facility is not used: only a scan point may vouch that an item at an
// exit is meant to stay inside.
func (p *Pipeline) verify(ctx context.Context, scan *events.TokenScan) models.VerificationVerdict {
	expected := scan.ExpectedState
	if expected == "" && p.d.States != nil {
		if cached, ok := p.d.States.Get(ctx, scan.Token.Item.ID); ok && cached != models.StateInFacility {
			expected = cached
		}
	}

	v := p.d.Verifier.Verify(scan.Token, scan.ScanLocation, expected)
	p.verified.Add(1)
	p.d.Metrics.Verdicts.WithLabelValues(v.Severity.String()).Inc()

	if v.IsValid && v.Severity == models.SeverityNone && p.d.States != nil {
		p.d.States.Set(ctx, scan.Token.Item.ID, scan.Token.State)
	}
	return v
}

func (p *Pipeline) tenantFor(ev events.Event) string {
	if t := ev.Tenant(); t != "" {
		return t
	}
	return p.d.Tenants.Resolve(ev.Facility())
}

// emit fans alert out to every configured outlet. A nil alert means the
// finding had no tenant to go to.
func (p *Pipeline) emit(ctx context.Context, alert *models.Alert, src models.SourceRef) error {
	if alert == nil {
		p.d.Metrics.AlertsDropped.WithLabelValues("no_tenant").Inc()
		p.logger.Warn("alert dropped, no tenant",
			zap.String("kind", src.Kind),
			zap.String("key", src.Key),
			zap.String("facility", src.FacilityID))
		return nil
	}

	p.alerts.Add(1)
	p.d.Metrics.Alerts.WithLabelValues(string(alert.Kind)).Inc()
	fields := []zap.Field{
		zap.String("alert", alert.ID),
		zap.String("tenant", alert.TenantID),
		zap.String("kind", string(alert.Kind)),
		zap.String("source", src.Kind),
		zap.String("key", src.Key),
	}
	if alert.Severity != nil {
		fields = append(fields, zap.Stringer("severity", *alert.Severity))
	}
	if alert.Probability != nil {
		fields = append(fields, zap.Float64("probability", *alert.Probability))
	}
	p.logger.Info("alert", fields...)

	if p.d.Audit != nil {
		p.d.Audit.Write(alert)
	}

	var errs []error
	if p.d.Sink != nil {
		if err := p.d.Sink.Publish(ctx, alert); err != nil {
			p.d.Metrics.PublishFailures.Inc()
			errs = append(errs, fmt.Errorf("publish %s: %w", alert.ID, err))
		}
	}
	if p.d.Delivery != nil {
		if err := p.d.Delivery.Deliver(ctx, alert); err != nil {
			errs = append(errs, fmt.Errorf("deliver %s: %w", alert.ID, err))
		}
	}
	return errors.Join(errs...)
}

// Stats returns current statistics.
func (p *Pipeline) Stats() map[string]any {
	return map[string]any{
		"processed": p.processed.Load(),
		"verified":  p.verified.Load(),
		"scored":    p.scored.Load(),
		"alerts":    p.alerts.Load(),
	}
}
