// Package backends provides the model backends that turn process
// descriptions into BPMN diagrams and review suggestions. Ollama is the
// default; an OpenAI-compatible endpoint can be selected instead. Both
// enforce strict response schemas so a diagram is always {"xml": string}
// and suggestions are always an array of {error, correction} pairs.
package backends
