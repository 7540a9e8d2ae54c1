package observer

import (
	"context"

	"github.com/Ramsey-B/fern/pkg/metrics"
)

// PrometheusObserver turns events into the fern_integration_* series.
type PrometheusObserver struct{}

func NewPrometheusObserver() *PrometheusObserver {
	return &PrometheusObserver{}
}

func (PrometheusObserver) Observe(_ context.Context, event Event) {
	metrics.RecordLifecycleEvent(event.Name, event.Attr(AttrProviderType), event.Attr(AttrErrorKind), event.Duration.Seconds())
}
