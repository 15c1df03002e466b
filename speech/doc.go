// Package speech handles the audio half of the pipeline: transcoding
// browser WebM recordings to WAV and transcribing them through a
// Xinference audio model.
package speech
