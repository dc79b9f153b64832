// Package logger provides a small wrapper around zap to offer:
//   - a global sugared logger with a sane console encoder,
//   - context helpers (ToContext/FromContext/WithName/WithKV/WithFields),
//   - a per-run file sink (RunLog) teeing console and a timestamped log,
//   - level configuration and parsing utilities,
//   - convenience functions (Infof, ErrorKV, etc.).
//
// All services accept a context and extract the logger from it, enabling
// scoped, structured logging throughout the codebase. The installer opens a
// RunLog at the start of each run and closes it at the end, so every run
// leaves a complete transcript under the install root.
package logger
