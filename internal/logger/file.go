package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	// PointerFilename holds the absolute path of the most recent run log.
	PointerFilename = "latest-log.txt"

	// logDirPermissions is used when creating the logs directory.
	logDirPermissions os.FileMode = 0o755

	// pointerFilePermissions is used for the latest-log pointer file.
	pointerFilePermissions os.FileMode = 0o644

	// logTimestampLayout names run log files, e.g. install-20250101-150405.log.
	logTimestampLayout = "20060102-150405"
)

// RunLog is a logger bound to a single provisioning run.
// It tees output to the console and to a timestamped log file, and must be
// closed at the end of the run to flush the file sink.
type RunLog struct {
	// Sugar is the sugared logger writing to both sinks.
	Sugar *zap.SugaredLogger

	// Path is the absolute path of the run's log file.
	Path string

	// file is the open log file; closed by Close.
	file *os.File
}

// NewRunLog creates the logs directory, opens a fresh timestamped log file
// in it, and writes a pointer file naming the newest log so that users can
// find it without sorting the directory.
//
// The console shows messages at the requested level; the file sink always
// records full debug detail so a transcript can be diagnosed after the
// fact without re-running at higher verbosity.
func NewRunLog(dir string, level zapcore.Level) (*RunLog, error) {
	if err := os.MkdirAll(dir, logDirPermissions); err != nil {
		return nil, fmt.Errorf("create logs directory: %w", err)
	}

	name := fmt.Sprintf("install-%s.log", time.Now().Format(logTimestampLayout))

	path, err := filepath.Abs(filepath.Join(dir, name))
	if err != nil {
		return nil, fmt.Errorf("resolve log path: %w", err)
	}

	file, err := os.OpenFile(filepath.Clean(path), os.O_CREATE|os.O_WRONLY|os.O_APPEND, pointerFilePermissions)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}

	// The file core uses a plain (uncolored) encoder so logs stay readable
	// in editors; the console keeps the colored default.
	//nolint:exhaustruct // Default encoder configuration values are fine here.
	fileEncoder := zapcore.NewConsoleEncoder(zapcore.EncoderConfig{
		MessageKey:       "message",
		LevelKey:         "level",
		CallerKey:        "caller",
		StacktraceKey:    "stacktrace",
		LineEnding:       zapcore.DefaultLineEnding,
		EncodeLevel:      zapcore.CapitalLevelEncoder,
		EncodeTime:       zapcore.ISO8601TimeEncoder,
		EncodeDuration:   zapcore.StringDurationEncoder,
		EncodeCaller:     zapcore.ShortCallerEncoder,
		ConsoleSeparator: ", ",
	})

	core := zapcore.NewTee(
		New(zapcore.DebugLevel, WithLevel(level)).Desugar().Core(),
		zapcore.NewCore(fileEncoder, zapcore.AddSync(file), zapcore.DebugLevel),
	)

	pointer := filepath.Join(dir, PointerFilename)
	if err = os.WriteFile(pointer, []byte(path+"\n"), pointerFilePermissions); err != nil {
		// The pointer file is a convenience; the run can live without it.
		global.Warnf("Unable to write %s: %v", PointerFilename, err)
	}

	return &RunLog{
		Sugar: zap.New(core).Sugar(),
		Path:  path,
		file:  file,
	}, nil
}

// Close flushes and closes the file sink. Safe to call once per run.
func (r *RunLog) Close() error {
	//nolint:errcheck // Syncing stdout is best-effort.
	_ = r.Sugar.Sync()

	return r.file.Close()
}
