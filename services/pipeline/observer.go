package pipeline

import (
	"context"

	"github.com/achouhan93/ClusterTalk/internal/observability"
	"go.uber.org/zap"
)

// MetricsObserver counts transitions and logs them at debug level.
type MetricsObserver struct {
	metrics *observability.Metrics
	logger  *zap.Logger
}

// NewMetricsObserver creates the default observer.
func NewMetricsObserver(metrics *observability.Metrics, logger *zap.Logger) *MetricsObserver {
	return &MetricsObserver{metrics: metrics, logger: logger}
}

// OnTransition implements StateObserver.
func (o *MetricsObserver) OnTransition(ctx context.Context, t Transition) {
	o.metrics.RecordTransition(string(t.To))
	if ce := o.logger.Check(zap.DebugLevel, "pipeline transition"); ce != nil {
		ce.Write(
			zap.String("request_id", t.RequestID),
			zap.String("from", string(t.From)),
			zap.String("to", string(t.To)),
			zap.Error(t.Err),
		)
	}
}
