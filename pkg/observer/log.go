package observer

import (
	"context"
	"strings"

	"github.com/Gobusters/ectologger"
)

// LogObserver writes each event as a structured log line. Failures log at warn.
type LogObserver struct {
	logger ectologger.Logger
}

func NewLogObserver(logger ectologger.Logger) *LogObserver {
	return &LogObserver{logger: logger}
}

func (o *LogObserver) Observe(ctx context.Context, event Event) {
	fields := make(map[string]any, len(event.Attributes)+2)
	for k, v := range event.Attributes {
		fields[k] = v
	}
	fields["event"] = event.Name
	fields["duration_ms"] = event.DurationMs()

	log := o.logger.WithContext(ctx).WithFields(fields)
	if strings.HasSuffix(event.Name, "failure") {
		log.Warnf("Observed %s", event.Name)
		return
	}
	log.Infof("Observed %s", event.Name)
}
