package worker

import (
	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/webworker/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/AgentOS/webworker/internal/protocol"
	"github.com/GriffinCanCode/AgentOS/webworker/internal/sandbox"
)

// intercept receives every uncaught script failure.
//
// The first failure goes to onerror when one is set. A failure raised while
// onerror is running, or any failure without a handler, is reported to the
// parent as an ERROR message. The worker keeps running either way.
func (w *Worker) intercept(err error) {
	if sandbox.IsInterrupt(err) {
		return
	}

	if !w.handlingError {
		if fn := w.sandbox.OnError(); fn != nil {
			w.handlingError = true
			herr := w.sandbox.Call(fn, w.sandbox.ErrorValue(err))
			if herr != nil {
				w.intercept(herr)
			}
			w.handlingError = false

			if herr == nil {
				w.metrics.RecordFailure(monitoring.FailureHandled)
			}
			return
		}
	}

	w.escalate(err)
}

// escalate reports a failure to the parent
func (w *Worker) escalate(err error) {
	rec := sandbox.Describe(err)
	w.metrics.RecordFailure(monitoring.FailureEscalated)
	w.logger.Debug("Escalating script failure",
		zap.String("message", rec.Message),
		zap.String("filename", rec.Filename),
		zap.Int("line", rec.Line),
	)

	data, encErr := protocol.EncodeError(rec)
	if encErr != nil {
		w.logger.Warn("Failed to encode failure", zap.Error(encErr))
		return
	}
	w.send(protocol.TypeError, data)
}
