// Package fencore implements the File Event Notification monitoring
// core: a user-space engine that turns a stream of raw, per-file kernel
// events into a coherent, de-duplicated stream of high-level filesystem
// change notifications.
//
// The core is built from five cooperating pieces, leaves first:
// kernel.Source/Port adapt the assumed kernel primitive; internal/node
// maintains the shared path tree; internal/portpool owns the pool of
// kernel associations and the global raw-event queue; internal/fdata
// owns per-path event coalescing and the settle-scan state machine;
// this package wires them together behind the Subscription Façade
// (Add/Remove) and the two injected callbacks (EmitAllFunc/EmitOneFunc)
// an external adapter supplies at construction.
//
// Everything here runs under a single lock on the caller's goroutine;
// there is no background goroutine of the engine's own beyond the
// timers armed by time.AfterFunc, matching the single-threaded
// cooperative scheduling model the design assumes. Callback recipients
// must not call back into the Engine synchronously.
package fencore
