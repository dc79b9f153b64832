package ollama

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"tomex/internal/config"
	"tomex/internal/logger"
	"tomex/internal/service/common"
)

// modelsEnvVar points Ollama at the models directory under the install root.
const modelsEnvVar = "OLLAMA_MODELS"

// errImportFailed is returned when the model import command exits non-zero.
var errImportFailed = errors.New("model import failed")

// Client talks to a local Ollama instance: its HTTP API for catalog
// queries and its CLI for mutations that have no stable API equivalent.
type Client struct {
	// BaseURL is the API root, e.g. http://127.0.0.1:11434.
	BaseURL string
	// HTTPClient issues catalog requests.
	HTTPClient *http.Client
	// Bin is the path of the ollama executable.
	Bin string
	// ModelsDir is exported as OLLAMA_MODELS for every invocation.
	ModelsDir string
	// Runner executes the CLI.
	Runner common.Runner
}

// NewClient builds a client for the configured port and layout.
func NewClient(cfg *config.Config, layout config.Layout, runner common.Runner) *Client {
	return &Client{
		BaseURL:    fmt.Sprintf("http://127.0.0.1:%d", cfg.OllamaPort),
		HTTPClient: &http.Client{Timeout: cfg.HTTPTimeout},
		Bin:        layout.OllamaBin(),
		ModelsDir:  layout.Models(),
		Runner:     runner,
	}
}

// TagsURL is the catalog listing endpoint, also used as the readiness URL.
func (c *Client) TagsURL() string {
	return c.BaseURL + "/api/tags"
}

// tagsResponse mirrors the /api/tags payload, listing installed models.
type tagsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

// HasModel reports whether a model with the given name (ignoring the tag
// after the colon) already exists in the catalog. Failures to reach the
// API count as "not present" so that callers redo the cheap import rather
// than skip it.
func (c *Client) HasModel(ctx context.Context, name string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.TagsURL(), http.NoBody)
	if err != nil {
		return false
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return false
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return false
	}

	var tags tagsResponse
	if err = json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return false
	}

	for _, model := range tags.Models {
		base, _, _ := strings.Cut(model.Name, ":")
		if base == name {
			return true
		}
	}

	return false
}

// ImportModel registers the model definition with the catalog by running
// `ollama create <name> -f <modelfile>`.
func (c *Client) ImportModel(ctx context.Context, name, modelfile string) error {
	logger.InfoKV(ctx, "Importing model", "name", name, "modelfile", modelfile)

	result, err := c.Runner.Run(ctx, common.Command{
		Path: c.Bin,
		Args: []string{"create", name, "-f", modelfile},
		Env:  map[string]string{modelsEnvVar: c.ModelsDir},
	})
	if err != nil {
		return fmt.Errorf("run ollama create: %w", err)
	}

	if !result.Success {
		return fmt.Errorf("%w: exit %d: %s", errImportFailed, result.ExitCode, result.Tail())
	}

	return nil
}

// StartServe launches `ollama serve` in the background, detached from the
// installer's lifetime.
func (c *Client) StartServe(ctx context.Context, workdir string) error {
	logger.Info(ctx, "Starting ollama serve in the background")

	return common.StartDetached(ctx, common.Command{
		Path: c.Bin,
		Args: []string{"serve"},
		Dir:  workdir,
		Env:  map[string]string{modelsEnvVar: c.ModelsDir},
	})
}

// ServeCommandLine renders the autostart command line for the server.
// Plain quotes around the path: %q would double Windows backslashes.
func (c *Client) ServeCommandLine() string {
	return fmt.Sprintf("\"%s\" serve", c.Bin)
}

// Modelfile renders the model-definition text for the configured model.
// The weights path is relative to the models directory where the file
// lives, matching how Ollama resolves FROM.
func Modelfile(cfg *config.Config) string {
	lines := []string{
		fmt.Sprintf("FROM ./%s", cfg.ModelFile),
		fmt.Sprintf("PARAMETER num_ctx %d", cfg.NumCtx),
		fmt.Sprintf("PARAMETER num_thread %d", cfg.NumThread),
		fmt.Sprintf("PARAMETER num_gpu %d", cfg.NumGPU),
		fmt.Sprintf("PARAMETER temperature %g", cfg.Temperature),
		"",
	}

	return strings.Join(lines, "\n")
}
