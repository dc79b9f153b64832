package installer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"tomex/internal/autostart"
	"tomex/internal/logger"
	"tomex/internal/probe"
	"tomex/internal/service/common"
	"tomex/internal/step"
)

const (
	// startScriptName and stopScriptName are the helper scripts written
	// into the install root.
	startScriptName = "start-tomex.cmd"
	stopScriptName  = "stop-tomex.cmd"

	// uninstallShortcutName is the Start Menu entry that launches the
	// installer in uninstall mode.
	uninstallShortcutName = "Uninstall Tomex.cmd"

	// scriptPermissions is the mode for generated helper scripts.
	scriptPermissions os.FileMode = 0o755
)

// convenienceSteps are quality-of-life extras. All non-fatal: the stack
// works without them.
func (r *runner) convenienceSteps(backend Backend) []step.Step {
	return []step.Step{
		r.helperScriptsStep(backend),
		r.uninstallShortcutStep(),
		r.userPathStep(),
	}
}

// helperScriptsStep writes start/stop scripts so users can manage the
// stack without the installer.
func (r *runner) helperScriptsStep(backend Backend) step.Step {
	start := r.startScript(backend)
	stop := r.stopScript(backend)

	return step.Step{
		Name: "Write helper scripts",
		Probe: probe.All(
			probe.FileHasContent(filepath.Join(r.layout.Root, startScriptName), start),
			probe.FileHasContent(filepath.Join(r.layout.Root, stopScriptName), stop),
		),
		Action: func(_ context.Context) error {
			if err := os.WriteFile(filepath.Join(r.layout.Root, startScriptName), start, scriptPermissions); err != nil {
				return err
			}

			return os.WriteFile(filepath.Join(r.layout.Root, stopScriptName), stop, scriptPermissions)
		},
	}
}

// startScript renders the script that brings the whole stack up.
func (r *runner) startScript(backend Backend) []byte {
	var b strings.Builder

	b.WriteString("@echo off\n")
	fmt.Fprintf(&b, "start \"\" \"%s\" serve\n", r.layout.OllamaBin())

	switch backend {
	case BackendDocker:
		fmt.Fprintf(&b, "docker start %s\n", webUIContainerName)
	case BackendPip:
		fmt.Fprintf(&b, "start \"\" \"%s\" serve --port %d\n", r.venvWebUI(), r.cfg.OpenWebUIPort)
	case BackendWSL:
		fmt.Fprintf(&b, "start \"\" wsl -d %s -- bash -lc \"%s\"\n", r.opts.WSLDistro, r.wslServeScript())
	case BackendAuto:
	}

	fmt.Fprintf(&b, "echo Open WebUI: http://localhost:%d\n", r.cfg.OpenWebUIPort)

	return []byte(b.String())
}

// stopScript renders the script that shuts the stack down.
func (r *runner) stopScript(backend Backend) []byte {
	var b strings.Builder

	b.WriteString("@echo off\n")

	switch backend {
	case BackendDocker:
		fmt.Fprintf(&b, "docker stop %s\n", webUIContainerName)
	case BackendPip:
		b.WriteString("taskkill /IM open-webui.exe /F\n")
	case BackendWSL:
		fmt.Fprintf(&b, "wsl -d %s -- pkill -f open-webui\n", r.opts.WSLDistro)
	case BackendAuto:
	}

	fmt.Fprintf(&b, "taskkill /IM %s /F\n", filepath.Base(r.layout.OllamaBin()))

	return []byte(b.String())
}

// uninstallShortcutStep places a Start Menu entry that runs this binary in
// uninstall mode.
func (r *runner) uninstallShortcutStep() step.Step {
	return step.Step{
		Name:       "Create uninstall shortcut",
		SkipVerify: true,
		Action: func(ctx context.Context) error {
			programs, err := autostart.ProgramsFolder()
			if err != nil {
				return err
			}

			self, err := os.Executable()
			if err != nil {
				return err
			}

			content := fmt.Sprintf("@echo off\n\"%s\" uninstall\npause\n", self)

			path := filepath.Join(programs, uninstallShortcutName)
			if err = os.WriteFile(path, []byte(content), scriptPermissions); err != nil {
				return err
			}

			logger.InfoKV(ctx, "Created uninstall shortcut", "path", path)

			return nil
		},
	}
}

// userPathStep appends the Ollama directory to the user's persistent PATH
// so `ollama` works from any new shell.
func (r *runner) userPathStep() step.Step {
	dir := r.layout.OllamaDir()

	return step.Step{
		Name: "Add Ollama to user PATH",
		Probe: func(_ context.Context) bool {
			return strings.Contains(os.Getenv("PATH"), dir)
		},
		// The change only reaches shells started after this run, so the
		// probe cannot verify it in-process.
		SkipVerify: true,
		Action: func(ctx context.Context) error {
			script := fmt.Sprintf(
				"[Environment]::SetEnvironmentVariable('Path', [Environment]::GetEnvironmentVariable('Path','User') + ';%s', 'User')",
				dir)

			return r.runChecked(ctx, common.Command{
				Path: "powershell",
				Args: []string{"-NoProfile", "-Command", script},
			})
		},
	}
}
