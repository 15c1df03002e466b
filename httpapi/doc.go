// Package httpapi exposes the REST surface: pipeline submission,
// synchronous single-task endpoints, health probes, and the websocket
// notification endpoint.
package httpapi
