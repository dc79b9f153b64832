package installer

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"tomex/internal/config"
	"tomex/internal/service/common"
)

// scriptedRunner returns canned results keyed by the first argument of
// each command (e.g. "info", "ps", "run"), recording every invocation.
type scriptedRunner struct {
	// missing lists executables LookPath cannot resolve.
	missing map[string]bool
	// results maps the first argument to a canned result; absent keys
	// succeed with empty output.
	results map[string]common.Result
	// commands records each invocation.
	commands []common.Command
}

func (s *scriptedRunner) Run(_ context.Context, c common.Command) (common.Result, error) {
	s.commands = append(s.commands, c)

	key := ""
	if len(c.Args) > 0 {
		key = c.Args[0]
	}

	if result, ok := s.results[key]; ok {
		return result, nil
	}

	return common.Result{ExitCode: 0, Success: true}, nil
}

func (s *scriptedRunner) LookPath(file string) (string, error) {
	if s.missing[file] {
		return "", errors.New("not found")
	}

	return file, nil
}

// testRunner wires a runner around a scripted executor and a tempdir root.
func testRunner(t *testing.T, exec common.Runner, opts *Options) *runner {
	t.Helper()

	cfg := config.Default()
	cfg.InstallRoot = t.TempDir()

	if opts == nil {
		opts = &Options{}
	}

	opts.Runner = exec

	return newRunner(cfg, config.NewLayout(cfg), opts)
}

// TestParseBackend validates the closed set of backend names.
func TestParseBackend(t *testing.T) {
	t.Parallel()

	for input, want := range map[string]Backend{
		"":       BackendAuto,
		"auto":   BackendAuto,
		"docker": BackendDocker,
		"pip":    BackendPip,
		"wsl":    BackendWSL,
	} {
		backend, err := ParseBackend(input)
		require.NoError(t, err)
		require.Equal(t, want, backend)
	}

	_, err := ParseBackend("kubernetes")
	require.ErrorIs(t, err, ErrBackendUnknown)
}

// TestDetectBackendPrefersDocker picks Docker when the daemon answers.
func TestDetectBackendPrefersDocker(t *testing.T) {
	t.Parallel()

	r := testRunner(t, &scriptedRunner{}, nil)
	require.Equal(t, BackendDocker, r.detectBackend(context.Background()))
}

// TestDetectBackendFallsBackToPip covers a missing CLI and a dead daemon.
func TestDetectBackendFallsBackToPip(t *testing.T) {
	t.Parallel()

	noCLI := testRunner(t, &scriptedRunner{missing: map[string]bool{"docker": true}}, nil)
	require.Equal(t, BackendPip, noCLI.detectBackend(context.Background()))

	deadDaemon := testRunner(t, &scriptedRunner{
		results: map[string]common.Result{
			"info": {ExitCode: 1, Output: "Cannot connect to the Docker daemon"},
		},
	}, nil)
	require.Equal(t, BackendPip, deadDaemon.detectBackend(context.Background()))
}

// TestCheckWSL covers each environment precondition separately.
func TestCheckWSL(t *testing.T) {
	t.Parallel()

	var envErr *EnvironmentError

	// No distro name given.
	r := testRunner(t, &scriptedRunner{}, &Options{Backend: BackendWSL})
	require.ErrorAs(t, r.checkWSL(context.Background()), &envErr)

	// WSL launcher absent.
	r = testRunner(t, &scriptedRunner{missing: map[string]bool{"wsl": true}},
		&Options{Backend: BackendWSL, WSLDistro: "Ubuntu"})
	require.ErrorAs(t, r.checkWSL(context.Background()), &envErr)

	// Distribution does not answer.
	r = testRunner(t, &scriptedRunner{
		results: map[string]common.Result{
			"-d": {ExitCode: 1, Output: "there is no distribution with the supplied name"},
		},
	}, &Options{Backend: BackendWSL, WSLDistro: "Ubuntu"})
	require.ErrorAs(t, r.checkWSL(context.Background()), &envErr)

	// Everything present.
	r = testRunner(t, &scriptedRunner{}, &Options{Backend: BackendWSL, WSLDistro: "Ubuntu"})
	require.NoError(t, r.checkWSL(context.Background()))
}

// TestStepOrder pins the provisioning order: server before model, model
// before import, front end last.
func TestStepOrder(t *testing.T) {
	t.Parallel()

	r := testRunner(t, &scriptedRunner{}, &Options{Backend: BackendDocker})

	var names []string
	for _, s := range r.steps(BackendDocker) {
		names = append(names, s.Name)
	}

	require.Equal(t, []string{
		"Install Ollama",
		"Register Ollama autostart",
		"Start Ollama server",
		"Download model weights",
		"Write Modelfile",
		"Import model",
		"Start Open WebUI (Docker)",
		"Register Open WebUI autostart",
		"Write helper scripts",
		"Create uninstall shortcut",
		"Add Ollama to user PATH",
	}, names)
}

// TestEnvironmentErrorMessage spells out the requirement for the user.
func TestEnvironmentErrorMessage(t *testing.T) {
	t.Parallel()

	err := &EnvironmentError{Requirement: "WSL installed", Detail: "not found"}
	require.Contains(t, err.Error(), "WSL installed")
	require.Contains(t, err.Error(), "not found")
}
