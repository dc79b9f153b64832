package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the knobs of one provisioning run. All fields have working
// defaults; a settings file only needs to name what it overrides.
type Config struct {
	// InstallRoot is the base directory for the whole stack
	// (downloads, binaries, models, logs).
	InstallRoot string `yaml:"install_root"`
	// OllamaPort is the TCP port the Ollama API listens on.
	OllamaPort int `yaml:"ollama_port"`
	// OpenWebUIPort is the TCP port the web front end listens on.
	OpenWebUIPort int `yaml:"openwebui_port"`
	// OllamaZipURL is the release archive to install Ollama from.
	OllamaZipURL string `yaml:"ollama_zip_url"`
	// ModelURL is the direct download URL of the model weights.
	ModelURL string `yaml:"model_url"`
	// ModelFile is the weights filename inside the models directory.
	ModelFile string `yaml:"model_file"`
	// ModelName is the catalog name the model is imported under.
	ModelName string `yaml:"model_name"`
	// ModelChecksum optionally holds the hex SHA-512 of the weights file.
	// When set, the fetcher verifies the completed download against it.
	ModelChecksum string `yaml:"model_checksum"`
	// NumCtx is the context window written into the Modelfile.
	NumCtx int `yaml:"num_ctx"`
	// NumThread is the CPU thread count written into the Modelfile.
	NumThread int `yaml:"num_thread"`
	// NumGPU is the GPU layer count written into the Modelfile.
	NumGPU int `yaml:"num_gpu"`
	// Temperature is the sampling temperature written into the Modelfile.
	Temperature float64 `yaml:"temperature"`
	// HTTPTimeout bounds metadata requests and readiness checks.
	HTTPTimeout time.Duration `yaml:"http_timeout"`
	// StartupTimeout bounds the wait for a spawned backend to come up.
	StartupTimeout time.Duration `yaml:"startup_timeout"`
}

const (
	// DefaultConfigFilename is the default settings file next to the binary.
	DefaultConfigFilename = "tomex-settings.yaml"

	// DefaultOllamaPort is the stock Ollama API port.
	DefaultOllamaPort = 11434

	// DefaultOpenWebUIPort is the port the front end is published on.
	DefaultOpenWebUIPort = 3000

	// DefaultModelRepo identifies the shipped model repository.
	DefaultModelRepo = "ggml-org/SmolLM3-3B-GGUF"

	// DefaultModelFile is sized for ~4 GB of VRAM.
	DefaultModelFile = "SmolLM3-Q4_K_M.gguf"

	// DefaultModelName is the catalog name used on import.
	DefaultModelName = "smollm3-local"

	// DefaultOllamaZipURL is the pinned Windows release archive.
	DefaultOllamaZipURL = "https://github.com/ollama/ollama/releases/download/v0.11.4/ollama-windows-amd64.zip"

	// DefaultNumCtx is the default context window.
	DefaultNumCtx = 8192

	// DefaultNumGPU is the default GPU layer count.
	DefaultNumGPU = 8

	// DefaultTemperature is the default sampling temperature.
	DefaultTemperature = 0.3

	// DefaultHTTPTimeout is the default for metadata and readiness requests.
	DefaultHTTPTimeout = 15 * time.Second

	// DefaultStartupTimeout is how long the installer waits for a spawned
	// backend process to answer before moving on.
	DefaultStartupTimeout = 3 * time.Minute

	// DefaultFilePermissions is the default file permission for config files.
	DefaultFilePermissions = 0o600

	// minimumThreads is the floor for the Modelfile thread count.
	minimumThreads = 4

	// maxPort is the highest valid TCP port.
	maxPort = 65535
)

var (
	// errConfigIsNotSet is returned when a nil configuration is provided.
	errConfigIsNotSet = errors.New("configuration is not set")
	// errModelNameRequired is returned when the model name is blank.
	errModelNameRequired = errors.New("model name must be provided")
	// errBadPort is returned when a port is outside the valid range.
	errBadPort = errors.New("port out of range")
)

// Default returns a configuration filled with the stock settings:
// SmolLM3 served by Ollama under the per-user application data directory.
func Default() *Config {
	return &Config{
		InstallRoot:    defaultInstallRoot(),
		OllamaPort:     DefaultOllamaPort,
		OpenWebUIPort:  DefaultOpenWebUIPort,
		OllamaZipURL:   DefaultOllamaZipURL,
		ModelURL:       fmt.Sprintf("https://huggingface.co/%s/resolve/main/%s?download=true", DefaultModelRepo, DefaultModelFile),
		ModelFile:      DefaultModelFile,
		ModelName:      DefaultModelName,
		NumCtx:         DefaultNumCtx,
		NumThread:      defaultThreads(),
		NumGPU:         DefaultNumGPU,
		Temperature:    DefaultTemperature,
		HTTPTimeout:    DefaultHTTPTimeout,
		StartupTimeout: DefaultStartupTimeout,
	}
}

// defaultInstallRoot picks %LOCALAPPDATA%\tomex on Windows and a dotted
// directory under the home directory elsewhere (useful for tests and dev).
func defaultInstallRoot() string {
	if base := os.Getenv("LOCALAPPDATA"); base != "" {
		return filepath.Join(base, "tomex")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}

	return filepath.Join(home, ".tomex")
}

// defaultThreads returns the CPU count, floored at minimumThreads.
func defaultThreads() int {
	if n := runtime.NumCPU(); n > minimumThreads {
		return n
	}

	return minimumThreads
}

// Load reads configuration from the provided path, layered over Default.
// A missing file is not an error: the defaults are complete on their own.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = DefaultConfigFilename
	}

	contents, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}

		return nil, fmt.Errorf("read settings: %w", err)
	}

	if err = yaml.Unmarshal(contents, cfg); err != nil {
		return nil, fmt.Errorf("unmarshal settings: %w", err)
	}

	if err = Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Save writes settings to the provided path.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	if path == "" {
		path = DefaultConfigFilename
	}

	if err := Validate(cfg); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}

	// Restrict permissions.
	if err := os.WriteFile(filepath.Clean(path), data, DefaultFilePermissions); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}

	return nil
}

// Validate checks the provided settings for required fields and formatting,
// filling defaults for fields left at their zero value.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	if cfg.InstallRoot == "" {
		cfg.InstallRoot = defaultInstallRoot()
	}

	if cfg.ModelName == "" {
		return errModelNameRequired
	}

	for _, port := range []int{cfg.OllamaPort, cfg.OpenWebUIPort} {
		if port <= 0 || port > maxPort {
			return fmt.Errorf("%w: %d", errBadPort, port)
		}
	}

	for _, raw := range []string{cfg.OllamaZipURL, cfg.ModelURL} {
		if _, err := url.ParseRequestURI(raw); err != nil {
			return fmt.Errorf("invalid download URL: %w", err)
		}
	}

	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = DefaultHTTPTimeout
	}

	if cfg.StartupTimeout <= 0 {
		cfg.StartupTimeout = DefaultStartupTimeout
	}

	return nil
}
