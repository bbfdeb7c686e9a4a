// Package telemetry provides the coordinator's pprof endpoint and the
// lightweight span/event logging the teacher's common/telemetry used,
// re-pointed at the coordinator's own operation names (coordinator.plan,
// coordinator.apply, coordinator.dispatch) instead of the teacher's workflow
// step names.
package telemetry

import (
	"context"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"time"

	"github.com/lyzr/coordinator/internal/logger"
)

// Telemetry holds the process's observability endpoints.
type Telemetry struct {
	log       *logger.Logger
	pprofAddr string
}

// New creates telemetry components with the pprof server bound to
// localhost:pprofPort. Nothing is bound until Start is called.
func New(pprofPort int, log *logger.Logger) *Telemetry {
	return &Telemetry{
		log:       log,
		pprofAddr: fmt.Sprintf("localhost:%d", pprofPort),
	}
}

// Start launches the pprof debug server in the background.
func (t *Telemetry) Start(ctx context.Context) error {
	go func() {
		t.log.Info("pprof server starting", "addr", t.pprofAddr)
		if err := http.ListenAndServe(t.pprofAddr, nil); err != nil {
			t.log.Error("pprof server error", "error", err)
		}
	}()
	return nil
}

// Span records the duration of one coordinator operation (coordinator.plan,
// coordinator.apply, coordinator.dispatch), the closest this tree comes to a
// tracing span absent an OpenTelemetry dependency in the pack.
func (t *Telemetry) Span(name string, runID string, start time.Time) {
	t.log.Debug("span",
		"name", name,
		"run_id", runID,
		"duration_ms", time.Since(start).Milliseconds(),
	)
}

// RecordEvent records a coarse telemetry event outside the span model
// (e.g. a run's terminal outcome).
func (t *Telemetry) RecordEvent(event string, attrs map[string]any) {
	t.log.Info("telemetry_event", "event", event, "attrs", attrs)
}
