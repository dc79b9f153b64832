// Package fetch downloads remote artifacts to local paths, resuming across
// interruptions via HTTP Range requests and a ".part" staging file.
//
// Fetch is idempotent and safe to retry indefinitely: its entire state
// lives in the destination file and its staging sibling, both of which are
// re-examined on every call. A completed destination is never truncated or
// overwritten, and promotion from staging to destination is a single
// rename, so a crash at any point leaves nothing that blocks the next run.
package fetch
