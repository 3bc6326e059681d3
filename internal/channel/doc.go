// Package channel provides the transport between a worker and its parent.
//
// Two transports are available, selected by address:
//   - WebSocket text frames (gorilla/websocket), over a UNIX socket for bare
//     paths and ws+unix:// addresses or over TCP for ws:// URLs
//   - Length-prefixed frames over a UNIX stream socket (unix://) that can
//     carry one descriptor per frame using SCM_RIGHTS
//
// Both deliver frames in order, reject frames above Options.MaxFrameBytes and
// make Close idempotent.
//
// Example Usage:
//
//	ch, err := channel.NewDialer(channel.DefaultOptions()).Dial(ctx, "/tmp/parent.sock")
//	if err != nil {
//		return err
//	}
//	defer ch.Close()
package channel
