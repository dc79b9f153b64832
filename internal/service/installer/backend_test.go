package installer

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"tomex/internal/service/common"
)

// TestContainerProbes parse the docker ps output for an exact name match.
func TestContainerProbes(t *testing.T) {
	t.Parallel()

	running := testRunner(t, &scriptedRunner{
		results: map[string]common.Result{
			"ps": {ExitCode: 0, Success: true, Output: "open-webui\n"},
		},
	}, nil)
	require.True(t, running.containerRunning(context.Background()))
	require.True(t, running.containerExists(context.Background()))

	absent := testRunner(t, &scriptedRunner{
		results: map[string]common.Result{
			"ps": {ExitCode: 0, Success: true, Output: ""},
		},
	}, nil)
	require.False(t, absent.containerRunning(context.Background()))

	// A similarly named container must not count.
	lookalike := testRunner(t, &scriptedRunner{
		results: map[string]common.Result{
			"ps": {ExitCode: 0, Success: true, Output: "open-webui-backup\n"},
		},
	}, nil)
	require.False(t, lookalike.containerRunning(context.Background()))
}

// TestStartContainerRestartsExisting issues docker start for a stopped
// container instead of a fresh run.
func TestStartContainerRestartsExisting(t *testing.T) {
	t.Parallel()

	exec := &scriptedRunner{
		results: map[string]common.Result{
			"ps": {ExitCode: 0, Success: true, Output: "open-webui\n"},
		},
	}
	r := testRunner(t, exec, nil)

	require.NoError(t, r.startContainer(context.Background()))

	last := exec.commands[len(exec.commands)-1]
	require.Equal(t, "docker", last.Path)
	require.Equal(t, []string{"start", webUIContainerName}, last.Args)
}

// TestStartContainerCreatesFresh runs the container with the configured
// port published and the host gateway mapped for Ollama access.
func TestStartContainerCreatesFresh(t *testing.T) {
	t.Parallel()

	exec := &scriptedRunner{
		results: map[string]common.Result{
			"ps": {ExitCode: 0, Success: true, Output: ""},
		},
	}
	r := testRunner(t, exec, nil)

	require.NoError(t, r.startContainer(context.Background()))

	last := exec.commands[len(exec.commands)-1]
	require.Equal(t, "docker", last.Path)
	require.Equal(t, "run", last.Args[0])

	line := strings.Join(last.Args, " ")
	require.Contains(t, line, fmt.Sprintf("%d:%d", r.cfg.OpenWebUIPort, webUIContainerPort))
	require.Contains(t, line, "host.docker.internal:host-gateway")
	require.Contains(t, line, fmt.Sprintf("OLLAMA_BASE_URL=http://host.docker.internal:%d", r.cfg.OllamaPort))
	require.Contains(t, line, webUIImage)
}

// TestDockerRunFailure surfaces the exit code and transcript tail.
func TestDockerRunFailure(t *testing.T) {
	t.Parallel()

	exec := &scriptedRunner{
		results: map[string]common.Result{
			"start": {ExitCode: 125, Output: "Error response from daemon: port is already allocated"},
		},
	}
	r := testRunner(t, exec, nil)

	err := r.dockerRun(context.Background(), "start", webUIContainerName)
	require.Error(t, err)
	require.Contains(t, err.Error(), "125")
	require.Contains(t, err.Error(), "port is already allocated")
}

// TestVenvPaths land inside the layout's virtual environment directory.
func TestVenvPaths(t *testing.T) {
	t.Parallel()

	r := testRunner(t, &scriptedRunner{}, nil)

	require.True(t, strings.HasPrefix(r.venvPython(), r.layout.VenvDir()))
	require.True(t, strings.HasPrefix(r.venvWebUI(), r.layout.VenvDir()))
}

// TestWSLServeScript pins the in-distribution serve command.
func TestWSLServeScript(t *testing.T) {
	t.Parallel()

	r := testRunner(t, &scriptedRunner{}, &Options{Backend: BackendWSL, WSLDistro: "Ubuntu"})

	script := r.wslServeScript()
	require.Contains(t, script, fmt.Sprintf("--port %d", r.cfg.OpenWebUIPort))
	require.Contains(t, script, fmt.Sprintf("OLLAMA_BASE_URL=http://localhost:%d", r.cfg.OllamaPort))
}

// TestWSLStepsRegisterFallbackNames keep the backend step names distinct
// from the docker profile so summaries are unambiguous.
func TestWSLStepsRegisterFallbackNames(t *testing.T) {
	t.Parallel()

	r := testRunner(t, &scriptedRunner{}, &Options{Backend: BackendWSL, WSLDistro: "Ubuntu"})

	var names []string
	for _, s := range r.wslSteps() {
		names = append(names, s.Name)
	}

	require.Equal(t, []string{
		"Install Open WebUI (WSL)",
		"Start Open WebUI (WSL)",
		"Register Open WebUI autostart",
	}, names)
}
