package installer

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap/zapcore"

	"tomex/internal/autostart"
	"tomex/internal/backend/ollama"
	"tomex/internal/config"
	"tomex/internal/fetch"
	"tomex/internal/logger"
	"tomex/internal/service/common"
	"tomex/internal/step"
)

// Backend selects how Open WebUI is provisioned.
type Backend string

const (
	// BackendDocker runs Open WebUI as a Docker container.
	BackendDocker Backend = "docker"
	// BackendPip installs Open WebUI into a Python virtual environment.
	BackendPip Backend = "pip"
	// BackendWSL installs Open WebUI inside a WSL distribution.
	BackendWSL Backend = "wsl"
	// BackendAuto picks Docker when its daemon answers, pip otherwise.
	BackendAuto Backend = "auto"
)

// Autostart entry names. Stable across versions so re-installs replace the
// existing entries instead of accumulating new ones.
const (
	ollamaTaskName = "Tomex Ollama"
	webUITaskName  = "Tomex Open WebUI"
)

// Options controls one installer invocation.
type Options struct {
	// ConfigPath specifies the path to the settings YAML file.
	ConfigPath string
	// Backend selects the Open WebUI provisioning profile.
	Backend Backend
	// WSLDistro names the distribution used by the wsl backend.
	WSLDistro string
	// LogLevel sets the run log verbosity.
	LogLevel zapcore.Level
	// Runner executes external commands; nil means the exec-backed default.
	// Injectable for tests.
	Runner common.Runner
}

// EnvironmentError reports a machine precondition the installer cannot work
// around. Retrying cannot help until the environment itself changes, so the
// run aborts immediately with the requirement spelled out.
type EnvironmentError struct {
	// Requirement names what the machine is missing.
	Requirement string
	// Detail explains how the check failed.
	Detail string
}

// Error implements the error interface.
func (e *EnvironmentError) Error() string {
	return fmt.Sprintf("environment requirement not met: %s (%s)", e.Requirement, e.Detail)
}

// ErrBackendUnknown is returned for a backend name outside the known set.
var ErrBackendUnknown = fmt.Errorf("unknown backend, expected one of %s, %s, %s, %s",
	BackendDocker, BackendPip, BackendWSL, BackendAuto)

// ParseBackend validates a backend name from the command line. An empty
// name means auto.
func ParseBackend(s string) (Backend, error) {
	switch Backend(s) {
	case BackendDocker, BackendPip, BackendWSL, BackendAuto:
		return Backend(s), nil
	case "":
		return BackendAuto, nil
	default:
		return "", fmt.Errorf("%q: %w", s, ErrBackendUnknown)
	}
}

// runner carries the wired collaborators of one provisioning run.
type runner struct {
	cfg       *config.Config
	layout    config.Layout
	opts      *Options
	exec      common.Runner
	fetcher   *fetch.Fetcher
	registrar *autostart.Registrar
	ollama    *ollama.Client
}

// Run provisions the whole stack: Ollama, the model and Open WebUI via the
// selected backend. Every unit of work probes real machine state before
// acting, so re-running after any interruption is safe and resumes where
// the previous run stopped.
func Run(ctx context.Context, opts *Options) error {
	ctx = logger.WithName(ctx, "tomex-installer")

	// Load settings from configuration file (defaults when absent).
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	layout := config.NewLayout(cfg)

	// The layout directories must exist before the run log can open.
	for _, dir := range layout.All() {
		if err = os.MkdirAll(dir, logDirPermissions); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}

	// Every run gets its own log file plus the latest-log pointer.
	runLog, err := logger.NewRunLog(layout.Logs(), opts.LogLevel)
	if err != nil {
		return fmt.Errorf("open run log: %w", err)
	}

	defer func() {
		_ = runLog.Close()
	}()

	ctx = logger.ToContext(ctx, runLog.Sugar)
	ctx = logger.WithName(ctx, "tomex-installer")

	logger.InfoKV(ctx, "Run log", "path", runLog.Path)

	// Record who runs the installer on which machine.
	if actor, actorErr := common.DetectActor(); actorErr == nil {
		logger.InfoKV(ctx, "Starting provisioning run",
			"host", actor.Hostname, "user", actor.Username, "install_root", layout.Root)
	}

	r := newRunner(cfg, layout, opts)

	// Resolve auto and verify environment preconditions before any work.
	backend, err := r.resolveBackend(ctx)
	if err != nil {
		return err
	}

	logger.InfoKV(ctx, "Selected backend", "backend", backend)

	summary := step.RunAll(ctx, r.steps(backend))
	step.LogSummary(ctx, summary)

	if err = summary.Err(); err != nil {
		return err
	}

	logger.Infof(ctx, "Open WebUI: http://localhost:%d", cfg.OpenWebUIPort)
	logger.Infof(ctx, "Ollama API: http://localhost:%d", cfg.OllamaPort)
	logger.Info(ctx, "Provisioning complete")

	return nil
}

// newRunner wires the collaborators for a run.
func newRunner(cfg *config.Config, layout config.Layout, opts *Options) *runner {
	exec := opts.Runner
	if exec == nil {
		exec = common.NewRunner()
	}

	return &runner{
		cfg:       cfg,
		layout:    layout,
		opts:      opts,
		exec:      exec,
		fetcher:   fetch.New(),
		registrar: autostart.New(exec, layout.Root),
		ollama:    ollama.NewClient(cfg, layout, exec),
	}
}

// resolveBackend turns auto into a concrete choice and verifies the wsl
// profile's environment preconditions.
func (r *runner) resolveBackend(ctx context.Context) (Backend, error) {
	backend := r.opts.Backend
	if backend == "" || backend == BackendAuto {
		backend = r.detectBackend(ctx)
	}

	if backend == BackendWSL {
		if err := r.checkWSL(ctx); err != nil {
			return "", err
		}
	}

	return backend, nil
}

// detectBackend prefers Docker when both the CLI and the daemon answer;
// anything less falls back to the self-contained pip profile.
func (r *runner) detectBackend(ctx context.Context) Backend {
	if _, err := r.exec.LookPath("docker"); err != nil {
		logger.Info(ctx, "Docker not found on PATH, using the pip backend")
		return BackendPip
	}

	result, err := r.exec.Run(ctx, common.Command{Path: "docker", Args: []string{"info"}})
	if err != nil || !result.Success {
		logger.Info(ctx, "Docker daemon not answering, using the pip backend")
		return BackendPip
	}

	return BackendDocker
}

// steps assembles the full ordered step list for the selected backend.
func (r *runner) steps(backend Backend) []step.Step {
	steps := []step.Step{
		r.installOllamaStep(),
		r.registerOllamaAutostartStep(),
		r.startOllamaStep(),
		r.fetchModelStep(),
		r.writeModelfileStep(),
		r.importModelStep(),
	}

	switch backend {
	case BackendDocker:
		steps = append(steps, r.dockerSteps()...)
	case BackendPip:
		steps = append(steps, r.pipSteps()...)
	case BackendWSL:
		steps = append(steps, r.wslSteps()...)
	case BackendAuto:
		// Resolved before this point; nothing to add.
	}

	return append(steps, r.convenienceSteps(backend)...)
}
