package installer

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	goupdate "github.com/doitdistributed/go-update"

	"tomex/internal/backend/ollama"
	"tomex/internal/fetch"
	"tomex/internal/logger"
	"tomex/internal/probe"
	"tomex/internal/step"
)

const (
	// logDirPermissions is used when creating the layout directories.
	logDirPermissions os.FileMode = 0o755

	// binaryPermissions is the mode applied to installed executables.
	binaryPermissions os.FileMode = 0o755

	// modelfilePermissions is the mode for the generated Modelfile.
	modelfilePermissions os.FileMode = 0o644
)

var (
	// errZipEntryEscapes guards against archive entries that climb out of
	// the extraction directory.
	errZipEntryEscapes = errors.New("archive entry escapes extraction directory")

	// errOllamaNotReady is returned when the Ollama API never came up
	// within the startup timeout.
	errOllamaNotReady = errors.New("ollama API did not become ready")

	// errWebUINotReady is returned when Open WebUI never answered within
	// the startup timeout.
	errWebUINotReady = errors.New("open webui did not become ready")
)

// installOllamaStep downloads the pinned release archive and installs it
// under the layout's ollama directory.
func (r *runner) installOllamaStep() step.Step {
	return step.Step{
		Name:  "Install Ollama",
		Probe: probe.FileExists(r.layout.OllamaBin()),
		Fatal: true,
		Action: func(ctx context.Context) error {
			archivePath := filepath.Join(r.layout.Downloads(), artifactFilename(r.cfg.OllamaZipURL))

			err := r.fetcher.Fetch(ctx, fetch.Artifact{
				URL:         r.cfg.OllamaZipURL,
				Path:        archivePath,
				Description: "Ollama release archive",
			})
			if err != nil {
				return err
			}

			return r.extractOllama(ctx, archivePath)
		},
	}
}

// artifactFilename derives the local filename for a download URL, dropping
// any query string.
func artifactFilename(rawURL string) string {
	if u, err := url.Parse(rawURL); err == nil {
		return path.Base(u.Path)
	}

	return path.Base(rawURL)
}

// extractOllama unpacks the release archive into the ollama directory.
// Regular entries are written in place; the server binary itself goes
// through an apply-with-rollback so a crash mid-write never leaves a
// half-overwritten executable behind.
func (r *runner) extractOllama(ctx context.Context, archivePath string) error {
	logger.InfoKV(ctx, "Extracting archive", "archive", archivePath, "destination", r.layout.OllamaDir())

	reader, err := zip.OpenReader(archivePath)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}

	defer func() {
		_ = reader.Close()
	}()

	binaryName := filepath.Base(r.layout.OllamaBin())

	for _, entry := range reader.File {
		if entry.FileInfo().IsDir() {
			continue
		}

		destination, err := safeJoin(r.layout.OllamaDir(), entry.Name)
		if err != nil {
			return err
		}

		if err = os.MkdirAll(filepath.Dir(destination), logDirPermissions); err != nil {
			return fmt.Errorf("create %s: %w", filepath.Dir(destination), err)
		}

		if filepath.Base(destination) == binaryName {
			err = applyBinary(entry, r.layout.OllamaBin())
		} else {
			err = extractEntry(entry, destination)
		}

		if err != nil {
			return fmt.Errorf("extract %s: %w", entry.Name, err)
		}
	}

	logger.InfoKV(ctx, "Installed Ollama", "binary", r.layout.OllamaBin())

	return nil
}

// safeJoin joins an archive entry name onto base, rejecting traversal.
func safeJoin(base, name string) (string, error) {
	destination := filepath.Join(base, filepath.FromSlash(name))
	if !strings.HasPrefix(destination, filepath.Clean(base)+string(os.PathSeparator)) {
		return "", fmt.Errorf("%s: %w", name, errZipEntryEscapes)
	}

	return destination, nil
}

// extractEntry writes one regular archive entry to disk.
func extractEntry(entry *zip.File, destination string) error {
	source, err := entry.Open()
	if err != nil {
		return err
	}

	defer func() {
		_ = source.Close()
	}()

	output, err := os.OpenFile(filepath.Clean(destination),
		os.O_CREATE|os.O_WRONLY|os.O_TRUNC, entry.Mode().Perm()|0o600)
	if err != nil {
		return err
	}

	if _, err = io.Copy(output, source); err != nil { //nolint:gosec // Archive comes from the pinned release URL.
		_ = output.Close()
		return err
	}

	return output.Close()
}

// applyBinary installs the server executable with rollback on failure.
// An old copy left by a previous update is cleaned up afterwards.
func applyBinary(entry *zip.File, target string) error {
	source, err := entry.Open()
	if err != nil {
		return err
	}

	defer func() {
		_ = source.Close()
	}()

	// Apply replaces an existing file; seed an empty one on first install.
	if _, err = os.Stat(target); err != nil && os.IsNotExist(err) {
		var seed *os.File

		if seed, err = os.Create(filepath.Clean(target)); err != nil {
			return err
		}

		_ = seed.Close()
	}

	options := goupdate.Options{
		TargetPath: target,
		TargetMode: binaryPermissions,
	}

	if err = goupdate.Apply(source, options); err != nil {
		return err
	}

	oldName := target + ".old"
	if _, err = os.Stat(oldName); err == nil {
		_ = os.Remove(oldName)
	}

	return nil
}

// registerOllamaAutostartStep installs the logon entry for the server.
// Non-fatal: a machine without any autostart mechanism still works for the
// current session.
func (r *runner) registerOllamaAutostartStep() step.Step {
	return step.Step{
		Name:       "Register Ollama autostart",
		SkipVerify: true,
		Action: func(ctx context.Context) error {
			mechanism, err := r.registrar.Register(ctx,
				ollamaTaskName, r.ollama.ServeCommandLine(), r.layout.OllamaDir())
			if err != nil {
				return err
			}

			logger.InfoKV(ctx, "Autostart registered", "task", ollamaTaskName, "mechanism", mechanism)

			return nil
		},
	}
}

// startOllamaStep launches the server in the background and waits for its
// API to answer. Satisfied when the API already answers.
func (r *runner) startOllamaStep() step.Step {
	return step.Step{
		Name:  "Start Ollama server",
		Probe: probe.HTTPReady(r.ollama.TagsURL()),
		Fatal: true,
		Action: func(ctx context.Context) error {
			if err := r.ollama.StartServe(ctx, r.layout.OllamaDir()); err != nil {
				return err
			}

			if !probe.WaitHTTP(ctx, r.ollama.TagsURL(), r.cfg.StartupTimeout) {
				return fmt.Errorf("%s: %w", r.ollama.TagsURL(), errOllamaNotReady)
			}

			return nil
		},
	}
}

// fetchModelStep downloads the model weights, resuming any partial file
// left by a previous run. The fetcher itself is the idempotency check: a
// complete file costs one metadata request and no transfer.
func (r *runner) fetchModelStep() step.Step {
	return step.Step{
		Name:       "Download model weights",
		Fatal:      true,
		SkipVerify: true,
		Action: func(ctx context.Context) error {
			return r.fetcher.Fetch(ctx, fetch.Artifact{
				URL:            r.cfg.ModelURL,
				Path:           filepath.Join(r.layout.Models(), r.cfg.ModelFile),
				Description:    "model weights",
				ChecksumSHA512: r.cfg.ModelChecksum,
			})
		},
	}
}

// writeModelfileStep renders the model definition next to the weights.
// Skipped when the on-disk file already matches byte for byte, so a
// re-run does not force a needless re-import.
func (r *runner) writeModelfileStep() step.Step {
	content := []byte(ollama.Modelfile(r.cfg))

	return step.Step{
		Name:  "Write Modelfile",
		Probe: probe.FileHasContent(r.layout.Modelfile(), content),
		Fatal: true,
		Action: func(_ context.Context) error {
			return os.WriteFile(r.layout.Modelfile(), content, modelfilePermissions)
		},
	}
}

// importModelStep registers the model with the catalog under its
// configured name.
func (r *runner) importModelStep() step.Step {
	return step.Step{
		Name: "Import model",
		Probe: func(ctx context.Context) bool {
			return r.ollama.HasModel(ctx, r.cfg.ModelName)
		},
		Fatal: true,
		Action: func(ctx context.Context) error {
			return r.ollama.ImportModel(ctx, r.cfg.ModelName, r.layout.Modelfile())
		},
	}
}
