// Package installer orchestrates provisioning of the local AI-serving
// stack: the Ollama server, the model weights and definition, and Open
// WebUI through one of several backend profiles (docker, pip, wsl).
//
// The run is a strictly ordered sequence of probe-then-act steps, which
// makes it idempotent and resumable: interrupt it anywhere, run it again,
// and it continues from the first unit of work whose probe reports the
// machine state as not yet done.
package installer
