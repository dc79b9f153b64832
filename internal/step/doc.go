// Package step executes named units of idempotent provisioning work.
//
// Each Step pairs a probe (is this already done?) with an action (do it)
// and is classified as satisfied, completed or failed. RunAll sequences
// steps for a backend profile, aborting on fatal failures and collecting
// the rest, so a whole run can always be retried from the top.
package step
