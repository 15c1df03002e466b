// Package contracts defines the value types shared across the pipeline
// engine: the context threaded through stages, model backend results,
// notification events, and the error taxonomy used to decide whether a
// failure may be retried.
package contracts
