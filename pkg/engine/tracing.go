package engine

import (
	"context"

	"github.com/OrderlyNetwork/formula-playground-sub001/pkg/models"
	"github.com/OrderlyNetwork/formula-playground-sub001/pkg/otelhelper"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

type nodeIDKey struct{}

// WithNodeID annotates ctx with the node being evaluated.
func WithNodeID(ctx context.Context, nodeID string) context.Context {
	return context.WithValue(ctx, nodeIDKey{}, nodeID)
}

// NodeIDFrom returns the node id stored by WithNodeID.
func NodeIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(nodeIDKey{}).(string)

	return id
}

// TracingEvaluator records one span per evaluation.
type TracingEvaluator struct {
	next   Evaluator
	tracer trace.Tracer
}

func NewTracingEvaluator(next Evaluator, tracer trace.Tracer) *TracingEvaluator {
	return &TracingEvaluator{next: next, tracer: tracer}
}

func (e *TracingEvaluator) Evaluate(ctx context.Context, def *models.FormulaDefinition, inputs map[string]any) (any, error) {
	attrs := []attribute.KeyValue{
		attribute.String(otelhelper.NodeIDKey, NodeIDFrom(ctx)),
		attribute.Int(otelhelper.InputCountKey, len(inputs)),
	}
	if def != nil {
		attrs = append(attrs, attribute.String(otelhelper.FormulaIDKey, def.ID))
	}

	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "formula.evaluate", attrs...)
	defer span.End()

	result, err := e.next.Evaluate(ctx, def, inputs)
	if err != nil {
		otelhelper.SetError(span, err, attrs...)
	}

	return result, err
}
