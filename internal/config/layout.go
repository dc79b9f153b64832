package config

import "path/filepath"

// Layout maps the install root to the directories the installer manages.
// Everything the engine persists lives under these paths, which is what
// makes a run resumable: state is recomputed from them on every start.
type Layout struct {
	// Root is the install root directory.
	Root string
}

// NewLayout returns the layout rooted at the configured install root.
func NewLayout(cfg *Config) Layout {
	return Layout{Root: cfg.InstallRoot}
}

// Downloads is where artifacts and their in-progress staging files live.
func (l Layout) Downloads() string { return filepath.Join(l.Root, "downloads") }

// OllamaDir holds the extracted Ollama distribution.
func (l Layout) OllamaDir() string { return filepath.Join(l.Root, "ollama") }

// OllamaBin is the expected path of the installed Ollama executable.
func (l Layout) OllamaBin() string { return filepath.Join(l.OllamaDir(), exeName("ollama")) }

// Models holds model weights and the generated Modelfile.
func (l Layout) Models() string { return filepath.Join(l.Root, "models") }

// Modelfile is the generated model-definition file.
func (l Layout) Modelfile() string { return filepath.Join(l.Models(), "Modelfile") }

// OpenWebUIDir is the front end working directory.
func (l Layout) OpenWebUIDir() string { return filepath.Join(l.Root, "openwebui") }

// VenvDir holds the Python virtual environment of the pip backend.
func (l Layout) VenvDir() string { return filepath.Join(l.Root, "openwebui-venv") }

// Logs holds one timestamped log per run plus the latest-log pointer.
func (l Layout) Logs() string { return filepath.Join(l.Root, "logs") }

// All lists every directory the installer creates up front.
func (l Layout) All() []string {
	return []string{
		l.Root,
		l.Downloads(),
		l.OllamaDir(),
		l.Models(),
		l.OpenWebUIDir(),
		l.Logs(),
	}
}
