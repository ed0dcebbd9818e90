// Package event provides the event model and asynchronous event bus at the
// heart of Hearth Core.
//
// Components communicate by emitting Events onto a Bus rather than calling
// each other directly. Protocol handlers emit device.found and
// device.state_changed, the communication hub persists them and emits
// command.sent, and the API layer pushes them to WebSocket subscribers.
//
// Delivery is at-most-once and best-effort: a handler error or panic is
// logged and dropped, never retried and never propagated to the emitter.
package event
