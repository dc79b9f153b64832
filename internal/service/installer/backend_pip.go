package installer

import (
	"context"
	"fmt"
	"path/filepath"
	"runtime"

	"tomex/internal/logger"
	"tomex/internal/probe"
	"tomex/internal/service/common"
	"tomex/internal/step"
)

// pipSteps provision Open WebUI inside a dedicated Python virtual
// environment under the install root. Self-contained: no Docker required.
func (r *runner) pipSteps() []step.Step {
	return []step.Step{
		{
			Name:  "Create Python virtual environment",
			Probe: probe.FileExists(r.venvPython()),
			Fatal: true,
			Action: func(ctx context.Context) error {
				python, err := r.exec.LookPath(pythonExecutable())
				if err != nil {
					return &EnvironmentError{
						Requirement: "Python 3 on PATH",
						Detail:      err.Error(),
					}
				}

				return r.runChecked(ctx, common.Command{
					Path: python,
					Args: []string{"-m", "venv", r.layout.VenvDir()},
				})
			},
		},
		{
			Name:  "Install Open WebUI (pip)",
			Probe: probe.FileExists(r.venvWebUI()),
			Fatal: true,
			Action: func(ctx context.Context) error {
				return r.runChecked(ctx, common.Command{
					Path: r.venvPython(),
					Args: []string{"-m", "pip", "install", "--upgrade", "open-webui"},
				})
			},
		},
		{
			// Non-fatal: the core stack is usable even when the front end
			// is slow to come up; the summary still reports it.
			Name:  "Start Open WebUI",
			Probe: probe.PortOpen("127.0.0.1", r.cfg.OpenWebUIPort),
			Action: func(ctx context.Context) error {
				err := common.StartDetached(ctx, common.Command{
					Path: r.venvWebUI(),
					Args: []string{"serve", "--port", fmt.Sprintf("%d", r.cfg.OpenWebUIPort)},
					Dir:  r.layout.OpenWebUIDir(),
					Env:  map[string]string{"OLLAMA_BASE_URL": fmt.Sprintf("http://127.0.0.1:%d", r.cfg.OllamaPort)},
				})
				if err != nil {
					return err
				}

				if !probe.WaitHTTP(ctx, r.webUIURL(), r.cfg.StartupTimeout) {
					return fmt.Errorf("%s: %w", r.webUIURL(), errWebUINotReady)
				}

				return nil
			},
		},
		{
			Name:       "Register Open WebUI autostart",
			SkipVerify: true,
			Action: func(ctx context.Context) error {
				command := fmt.Sprintf("\"%s\" serve --port %d", r.venvWebUI(), r.cfg.OpenWebUIPort)

				mechanism, err := r.registrar.Register(ctx, webUITaskName, command, r.layout.OpenWebUIDir())
				if err != nil {
					return err
				}

				logger.InfoKV(ctx, "Autostart registered", "task", webUITaskName, "mechanism", mechanism)

				return nil
			},
		},
	}
}

// runChecked runs a command and converts a non-zero exit into an error.
func (r *runner) runChecked(ctx context.Context, c common.Command) error {
	result, err := r.exec.Run(ctx, c)
	if err != nil {
		return err
	}

	if !result.Success {
		return fmt.Errorf("%s exited %d: %s", c.Path, result.ExitCode, result.Tail())
	}

	return nil
}

// pythonExecutable is the interpreter name to resolve on PATH.
func pythonExecutable() string {
	if runtime.GOOS == "windows" {
		return "python"
	}

	return "python3"
}

// venvScripts is the executables directory of the virtual environment.
func (r *runner) venvScripts() string {
	if runtime.GOOS == "windows" {
		return filepath.Join(r.layout.VenvDir(), "Scripts")
	}

	return filepath.Join(r.layout.VenvDir(), "bin")
}

// venvPython is the interpreter inside the virtual environment.
func (r *runner) venvPython() string {
	name := "python"
	if runtime.GOOS == "windows" {
		name = "python.exe"
	}

	return filepath.Join(r.venvScripts(), name)
}

// venvWebUI is the Open WebUI entry point inside the virtual environment.
func (r *runner) venvWebUI() string {
	name := "open-webui"
	if runtime.GOOS == "windows" {
		name = "open-webui.exe"
	}

	return filepath.Join(r.venvScripts(), name)
}
