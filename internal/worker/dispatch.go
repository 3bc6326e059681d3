package worker

import (
	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/webworker/internal/channel"
	"github.com/GriffinCanCode/AgentOS/webworker/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/AgentOS/webworker/internal/protocol"
	"github.com/GriffinCanCode/AgentOS/webworker/internal/sandbox"
)

// dispatch handles one inbound frame on the loop goroutine
func (w *Worker) dispatch(frame channel.Frame) {
	msg, err := protocol.Decode(frame.Data)
	if err != nil {
		w.logger.Debug("Dropped invalid message", zap.Error(err), zap.Int("bytes", len(frame.Data)))
		w.metrics.RecordDropped(monitoring.DropInvalid)
		closeHandle(frame.Handle)
		return
	}
	msg.Handle = frame.Handle
	w.metrics.RecordReceived(msg.Type.String())

	if w.sandbox.Closing() {
		w.metrics.RecordDropped(monitoring.DropClosing)
		closeHandle(msg.Handle)
		return
	}

	switch msg.Type {
	case protocol.TypeNoop:
	case protocol.TypeClose:
		w.shutdown()
	case protocol.TypeUser:
		w.deliver(msg)
		return
	default:
		w.logger.Debug("Unexpected message", zap.Stringer("tag", msg.Type))
	}
	closeHandle(msg.Handle)
}

// deliver hands a USER payload to onmessage, then to every "message"
// listener in registration order
func (w *Worker) deliver(msg protocol.Message) {
	sc := w.sandbox
	if !sc.HasMessageHandlers() {
		w.logger.Debug("Dropped message without handlers")
		w.metrics.RecordDropped(monitoring.DropNoHandler)
		closeHandle(msg.Handle)
		return
	}

	event, err := sc.NewMessageEvent(msg.Payload, msg.Handle)
	if err != nil {
		w.logger.Debug("Dropped undecodable message", zap.Error(err))
		w.metrics.RecordDropped(monitoring.DropInvalid)
		closeHandle(msg.Handle)
		return
	}
	if msg.Handle != nil {
		w.handles = append(w.handles, msg.Handle)
	}

	// Listeners registered while dispatching wait for the next message
	listeners := sc.Listeners(sandbox.EventMessage)

	if fn := sc.OnMessage(); fn != nil {
		sc.Invoke(fn, event)
	}
	for _, fn := range listeners {
		if sc.Closing() {
			return
		}
		sc.Invoke(fn, event)
	}
}
