package installer

import (
	"context"
	"fmt"
	"strings"

	"tomex/internal/logger"
	"tomex/internal/probe"
	"tomex/internal/service/common"
	"tomex/internal/step"
)

const (
	// webUIContainerName is the fixed container name, which is what makes
	// the container probes and the autostart command deterministic.
	webUIContainerName = "open-webui"

	// webUIImage is the published Open WebUI image.
	webUIImage = "ghcr.io/open-webui/open-webui:main"

	// webUIContainerPort is the port Open WebUI listens on inside the
	// container.
	webUIContainerPort = 8080
)

// dockerSteps provision Open WebUI as a container that talks to the
// host's Ollama through the host gateway.
func (r *runner) dockerSteps() []step.Step {
	return []step.Step{
		{
			Name:  "Start Open WebUI (Docker)",
			Probe: r.containerRunning,
			Fatal: true,
			Action: func(ctx context.Context) error {
				if err := r.startContainer(ctx); err != nil {
					return err
				}

				// The container running is the success criterion; a slow
				// first start only warns.
				probe.WaitHTTP(ctx, r.webUIURL(), r.cfg.StartupTimeout)

				return nil
			},
		},
		{
			Name:       "Register Open WebUI autostart",
			SkipVerify: true,
			Action: func(ctx context.Context) error {
				mechanism, err := r.registrar.Register(ctx,
					webUITaskName, "docker start "+webUIContainerName, "")
				if err != nil {
					return err
				}

				logger.InfoKV(ctx, "Autostart registered", "task", webUITaskName, "mechanism", mechanism)

				return nil
			},
		},
	}
}

// webUIURL is the front end address on the host.
func (r *runner) webUIURL() string {
	return fmt.Sprintf("http://localhost:%d", r.cfg.OpenWebUIPort)
}

// containerRunning reports whether the named container is currently up.
func (r *runner) containerRunning(ctx context.Context) bool {
	return r.containerListed(ctx, false)
}

// containerExists reports whether the named container exists, running or
// stopped.
func (r *runner) containerExists(ctx context.Context) bool {
	return r.containerListed(ctx, true)
}

// containerListed queries docker ps for an exact-name match.
func (r *runner) containerListed(ctx context.Context, includeStopped bool) bool {
	args := []string{"ps"}
	if includeStopped {
		args = append(args, "-a")
	}

	args = append(args, "--filter", "name=^"+webUIContainerName+"$", "--format", "{{.Names}}")

	result, err := r.exec.Run(ctx, common.Command{Path: "docker", Args: args})
	if err != nil || !result.Success {
		return false
	}

	for _, name := range strings.Fields(result.Output) {
		if name == webUIContainerName {
			return true
		}
	}

	return false
}

// startContainer restarts a stopped container or creates a fresh one.
func (r *runner) startContainer(ctx context.Context) error {
	if r.containerExists(ctx) {
		return r.dockerRun(ctx, "start", webUIContainerName)
	}

	return r.dockerRun(ctx,
		"run", "-d",
		"--name", webUIContainerName,
		"--restart", "always",
		"-p", fmt.Sprintf("%d:%d", r.cfg.OpenWebUIPort, webUIContainerPort),
		"--add-host=host.docker.internal:host-gateway",
		"-e", fmt.Sprintf("OLLAMA_BASE_URL=http://host.docker.internal:%d", r.cfg.OllamaPort),
		"-v", webUIContainerName+":/app/backend/data",
		webUIImage,
	)
}

// dockerRun executes one docker command, turning a non-zero exit into an
// error with the output tail.
func (r *runner) dockerRun(ctx context.Context, args ...string) error {
	result, err := r.exec.Run(ctx, common.Command{Path: "docker", Args: args})
	if err != nil {
		return fmt.Errorf("run docker %s: %w", args[0], err)
	}

	if !result.Success {
		return fmt.Errorf("docker %s exited %d: %s", args[0], result.ExitCode, result.Tail())
	}

	return nil
}
