// Package config defines the installer settings and provides helpers to
// load, validate and save them in YAML format.
//
// The Config type holds ports, artifact URLs and model parameters; Layout
// maps the install root to the directory tree the installer manages.
package config
