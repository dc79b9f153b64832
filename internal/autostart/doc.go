// Package autostart registers commands to run at user logon.
//
// Registration prefers a logon-triggered scheduled task and falls back to
// a script in the user's Startup folder when the scheduler denies the
// request. Entry names map to deterministic script filenames, so
// re-registering a name replaces its entry instead of duplicating it.
package autostart
