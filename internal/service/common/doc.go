// Package common holds helpers shared by several services.
//
// It provides a command runner that streams child process output into the
// run log while capturing it for diagnostics, and utilities to detect the
// current system actor (hostname/username) for the run transcript.
//
//nolint:revive,nolintlint // Package name "common" is intentional for shared helpers.
package common
