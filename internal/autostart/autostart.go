package autostart

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"tomex/internal/logger"
	"tomex/internal/service/common"
)

// Mechanism identifies which registration mechanism backs an autostart
// entry. Exactly one backs any given name at a time.
type Mechanism string

const (
	// MechanismScheduler is a logon-triggered scheduled task (privileged).
	MechanismScheduler Mechanism = "scheduler"
	// MechanismStartupFolder is a script in the user's Startup folder.
	MechanismStartupFolder Mechanism = "startup-folder"
	// MechanismNone means no mechanism could be installed; the service can
	// still run in the foreground for the current session.
	MechanismNone Mechanism = "none"
)

const (
	// wrapperPermissions is the mode for generated autorun scripts.
	wrapperPermissions os.FileMode = 0o755

	// schtasksExecutable is the Windows task scheduler CLI.
	schtasksExecutable = "schtasks"
)

// ErrCapabilityDenied reports that the privileged registration mechanism
// refused the operation. It triggers the documented fallback, never a run
// failure.
var ErrCapabilityDenied = errors.New("scheduler registration denied")

// errNoStartupFolder reports that the logon-folder fallback has nowhere to
// write (no roaming profile directory).
var errNoStartupFolder = errors.New("startup folder location unavailable")

// Registrar installs persistent logon launch entries with a layered
// fallback: scheduled task first, Startup-folder script when the scheduler
// denies the request.
type Registrar struct {
	// runner executes schtasks; injectable for tests.
	runner common.Runner
	// wrapperDir is where command wrapper scripts are written (the
	// install root), keeping the scheduler entry pointed at one stable
	// path per name.
	wrapperDir string
	// startupDir locates the user's Startup folder.
	startupDir func() (string, error)
}

// Option configures a Registrar.
type Option func(*Registrar)

// WithStartupDir overrides Startup folder discovery (used by tests).
func WithStartupDir(dir string) Option {
	return func(r *Registrar) {
		r.startupDir = func() (string, error) { return dir, nil }
	}
}

// New returns a Registrar writing wrapper scripts under wrapperDir.
func New(runner common.Runner, wrapperDir string, opts ...Option) *Registrar {
	r := &Registrar{
		runner:     runner,
		wrapperDir: wrapperDir,
		startupDir: StartupFolder,
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// StartupFolder returns the current user's logon Startup folder.
func StartupFolder() (string, error) {
	appData := os.Getenv("APPDATA")
	if appData == "" {
		return "", errNoStartupFolder
	}

	return filepath.Join(appData, "Microsoft", "Windows", "Start Menu", "Programs", "Startup"), nil
}

// ProgramsFolder returns the current user's Start Menu programs folder.
func ProgramsFolder() (string, error) {
	appData := os.Getenv("APPDATA")
	if appData == "" {
		return "", errNoStartupFolder
	}

	return filepath.Join(appData, "Microsoft", "Windows", "Start Menu", "Programs"), nil
}

// scriptName derives the deterministic filename for an entry, so that
// re-registering the same name overwrites instead of accumulating.
func scriptName(name string) string {
	return strings.ReplaceAll(name, " ", "_") + ".cmd"
}

// Register installs (or replaces) the autostart entry for name and reports
// which mechanism took effect. Neither mechanism working is reported as
// MechanismNone with the cause; callers treat it as a non-fatal outcome.
func (r *Registrar) Register(ctx context.Context, name, command, workdir string) (Mechanism, error) {
	ctx = logger.WithKV(ctx, "autostart", name)

	wrapper, err := r.writeWrapper(r.wrapperDir, name, command, workdir)
	if err != nil {
		return MechanismNone, err
	}

	err = r.registerScheduler(ctx, name, wrapper)
	if err == nil {
		logger.InfoKV(ctx, "Created/updated scheduled task", "task", name)
		return MechanismScheduler, nil
	}

	if !errors.Is(err, ErrCapabilityDenied) {
		return MechanismNone, err
	}

	logger.WarnKV(ctx, "Scheduler registration denied, falling back to Startup folder", "task", name)

	path, err := r.registerStartupFolder(name, command, workdir)
	if err != nil {
		return MechanismNone, err
	}

	logger.InfoKV(ctx, "Created Startup folder entry", "path", path)

	return MechanismStartupFolder, nil
}

// registerScheduler attempts the privileged mechanism. Its outcome is
// classified into a closed set: success, or capability denied. Any refusal
// by the scheduler (including the CLI being unavailable) is a denial of
// the capability, never a free-text match on error messages.
func (r *Registrar) registerScheduler(ctx context.Context, name, wrapper string) error {
	result, err := r.runner.Run(ctx, common.Command{
		Path: schtasksExecutable,
		Args: []string{
			"/Create",
			"/TN", name,
			"/TR", `"` + wrapper + `"`,
			"/SC", "ONLOGON",
			"/F", // idempotent: replace an existing task of the same name
		},
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrCapabilityDenied, err)
	}

	if !result.Success {
		return fmt.Errorf("%w: schtasks exited %d: %s", ErrCapabilityDenied, result.ExitCode, result.Tail())
	}

	return nil
}

// registerStartupFolder writes the unprivileged logon-folder script.
func (r *Registrar) registerStartupFolder(name, command, workdir string) (string, error) {
	dir, err := r.startupDir()
	if err != nil {
		return "", err
	}

	return r.writeWrapper(dir, name, command, workdir)
}

// writeWrapper renders the autorun script into dir under the entry's
// deterministic filename, overwriting any previous version.
func (r *Registrar) writeWrapper(dir, name, command, workdir string) (string, error) {
	if err := os.MkdirAll(dir, wrapperPermissions); err != nil {
		return "", fmt.Errorf("create wrapper directory: %w", err)
	}

	var b strings.Builder

	b.WriteString("@echo off\n")

	if workdir != "" {
		// Plain quotes: %q would double every backslash in the path.
		fmt.Fprintf(&b, "cd /d \"%s\"\n", workdir)
	}

	b.WriteString(command + "\n")

	path := filepath.Join(dir, scriptName(name))
	if err := os.WriteFile(path, []byte(b.String()), wrapperPermissions); err != nil {
		return "", fmt.Errorf("write autorun script: %w", err)
	}

	return path, nil
}

// Unregister removes the entry from both mechanisms, best-effort: a name
// may be backed by either one depending on how registration went.
func (r *Registrar) Unregister(ctx context.Context, name string) {
	ctx = logger.WithKV(ctx, "autostart", name)

	if _, err := r.runner.Run(ctx, common.Command{
		Path: schtasksExecutable,
		Args: []string{"/Delete", "/TN", name, "/F"},
	}); err != nil {
		logger.DebugKV(ctx, "Scheduled task delete skipped", "error", err)
	}

	if dir, err := r.startupDir(); err == nil {
		if err = os.Remove(filepath.Join(dir, scriptName(name))); err == nil {
			logger.InfoKV(ctx, "Removed Startup folder entry", "task", name)
		}
	}

	_ = os.Remove(filepath.Join(r.wrapperDir, scriptName(name)))
}
