// Package probe provides the idempotency checks guarding provisioning
// steps: file presence, PATH lookups, TCP and HTTP liveness, byte-exact
// content comparison and process detection.
//
// A probe answers true only when the work it guards is observably done.
// Inability to check is reported as false, never as an error.
package probe
