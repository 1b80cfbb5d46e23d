package pagetest

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/shyim/lighthouse-runner/internal/lighthouse"
	"github.com/shyim/lighthouse-runner/internal/metrics"
	"github.com/shyim/lighthouse-runner/internal/models"
)

// Auditor produces a raw Lighthouse report for a URL, reusing the running
// browser session.
type Auditor interface {
	Audit(ctx context.Context, target lighthouse.Target, url string) (models.Report, error)
}

type Tester struct {
	auditor Auditor
	tracer  trace.Tracer
}

func NewTester(auditor Auditor, tracer trace.Tracer) *Tester {
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("")
	}
	return &Tester{auditor: auditor, tracer: tracer}
}

// TestPage audits url once in the borrowed browser session and extracts the
// tracked metrics. Auditor errors are returned unchanged.
func (t *Tester) TestPage(ctx context.Context, session lighthouse.Target, url string) (models.MetricSet, error) {
	ctx, span := t.tracer.Start(ctx, "lighthouse.audit", trace.WithAttributes(attribute.String("url.full", url)))
	defer span.End()

	report, err := t.auditor.Audit(ctx, session, url)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return models.MetricSet{}, err
	}

	set := metrics.Extract(report.Audits())
	if set.LCP != nil && set.LCP.NumericValue != nil {
		span.SetAttributes(attribute.Float64("lighthouse.lcp", *set.LCP.NumericValue))
	}
	return set, nil
}
