// Package notify delivers pipeline progress events to connected clients
// over websockets. Sessions subscribe into rooms; stage events are
// published to the run owner's private room with at-most-once delivery.
package notify
