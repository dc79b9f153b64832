// Package ollama drives a local Ollama server: catalog queries over its
// HTTP API, model imports and background serving through its CLI, and
// rendering of model-definition files.
package ollama
