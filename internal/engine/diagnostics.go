package engine

import (
	"context"

	"github.com/conneroisu/folio/internal/dispatch"
	folioerrors "github.com/conneroisu/folio/internal/errors"
)

// collectorSink records diagnostics against the module that raised them.
type collectorSink struct {
	collector  *folioerrors.Collector
	dispatcher *dispatch.Dispatcher
}

func (s *collectorSink) Diagnose(_ context.Context, msg string, fields ...interface{}) {
	module, _ := s.dispatcher.Running()
	for i := 0; i+1 < len(fields); i += 2 {
		if key, ok := fields[i].(string); ok && key == "module" {
			if name, ok := fields[i+1].(string); ok {
				module = name
			}
		}
	}
	s.collector.Add(folioerrors.Diagnostic{
		Module:   module,
		Message:  msg,
		Severity: folioerrors.ErrorSeverityWarning,
	})
}
