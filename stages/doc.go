// Package stages implements the four processing tasks: WebM transcoding,
// speech-to-text, diagram generation, and suggestion extraction. Each task
// exists in a standalone form and a pipeline form; the pipeline form
// additionally reports progress to the run owner's notification room.
package stages
