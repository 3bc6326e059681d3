// Package protocol defines the messages exchanged between a worker and its parent.
//
// Every message is a JSON array whose first element is an integer tag:
//
//	[0, null]                                        NOOP
//	[1, null]                                        CLOSE
//	[2, {"message":..,"filename":..,"line":..}]      ERROR
//	[3, <any JSON value>]                            USER
//
// USER messages may be accompanied by a descriptor when the transport
// supports it. Frames that are not arrays, have fewer than two elements or
// carry a non-integer tag fail Decode with ErrInvalidMessage; receivers drop
// them after a debug log.
package protocol
