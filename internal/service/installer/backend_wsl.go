package installer

import (
	"context"
	"fmt"

	"tomex/internal/logger"
	"tomex/internal/probe"
	"tomex/internal/service/common"
	"tomex/internal/step"
)

// wslVenvPath is where the Open WebUI virtual environment lives inside
// the distribution. A home-relative path keeps it per-user, matching the
// Windows-side install root.
const wslVenvPath = "$HOME/.tomex/openwebui-venv"

// checkWSL verifies the wsl backend's environment preconditions: the WSL
// launcher on PATH and the named distribution able to run a command. Both
// are hard requirements the installer cannot provision itself.
func (r *runner) checkWSL(ctx context.Context) error {
	if r.opts.WSLDistro == "" {
		return &EnvironmentError{
			Requirement: "a WSL distribution name",
			Detail:      "pass one with --wsl-distro",
		}
	}

	if _, err := r.exec.LookPath("wsl"); err != nil {
		return &EnvironmentError{
			Requirement: "WSL installed",
			Detail:      err.Error(),
		}
	}

	// Running a trivial command is the reliable presence check: listing
	// output is localized and encoded differently across WSL versions.
	result, err := r.exec.Run(ctx, common.Command{
		Path: "wsl",
		Args: []string{"-d", r.opts.WSLDistro, "--", "true"},
	})
	if err != nil || !result.Success {
		return &EnvironmentError{
			Requirement: fmt.Sprintf("WSL distribution %q", r.opts.WSLDistro),
			Detail:      "the distribution did not answer; install it or pick another with --wsl-distro",
		}
	}

	return nil
}

// wslSteps provision Open WebUI inside the configured WSL distribution.
// The served port is reachable from Windows through WSL's localhost
// forwarding.
func (r *runner) wslSteps() []step.Step {
	distro := r.opts.WSLDistro

	return []step.Step{
		{
			Name: "Install Open WebUI (WSL)",
			Probe: func(ctx context.Context) bool {
				result, err := r.exec.Run(ctx, common.Command{
					Path: "wsl",
					Args: []string{"-d", distro, "--", "bash", "-lc",
						fmt.Sprintf("test -x %s/bin/open-webui", wslVenvPath)},
				})

				return err == nil && result.Success
			},
			Fatal: true,
			Action: func(ctx context.Context) error {
				script := fmt.Sprintf(
					"python3 -m venv %[1]s && %[1]s/bin/pip install --upgrade open-webui", wslVenvPath)

				return r.runChecked(ctx, common.Command{
					Path: "wsl",
					Args: []string{"-d", distro, "--", "bash", "-lc", script},
				})
			},
		},
		{
			// Non-fatal, same as the pip profile: a slow front end is
			// summarized, not fatal.
			Name:  "Start Open WebUI (WSL)",
			Probe: probe.PortOpen("127.0.0.1", r.cfg.OpenWebUIPort),
			Action: func(ctx context.Context) error {
				err := common.StartDetached(ctx, common.Command{
					Path: "wsl",
					Args: []string{"-d", distro, "--", "bash", "-lc", r.wslServeScript()},
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
				command := fmt.Sprintf("wsl -d %s -- bash -lc \"%s\"", distro, r.wslServeScript())

				mechanism, err := r.registrar.Register(ctx, webUITaskName, command, "")
				if err != nil {
					return err
				}

				logger.InfoKV(ctx, "Autostart registered", "task", webUITaskName, "mechanism", mechanism)

				return nil
			},
		},
	}
}

// wslServeScript is the in-distribution command that serves Open WebUI.
func (r *runner) wslServeScript() string {
	return fmt.Sprintf("OLLAMA_BASE_URL=http://localhost:%d %s/bin/open-webui serve --port %d",
		r.cfg.OllamaPort, wslVenvPath, r.cfg.OpenWebUIPort)
}
