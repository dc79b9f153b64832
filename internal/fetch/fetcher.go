package fetch

import (
	"bytes"
	"context"
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"tomex/internal/logger"
)

const (
	// StagingSuffix marks the in-progress copy of an artifact.
	StagingSuffix = ".part"

	// copyChunkSize is the streaming buffer size.
	copyChunkSize = 1 << 20

	// progressStep is the minimum percentage gap between progress lines.
	progressStep = 5

	// percentTotal avoids sprinkling the literal 100 around.
	percentTotal = 100

	// bytesPerMB converts byte counts for progress lines.
	bytesPerMB = 1 << 20

	// artifactPermissions is the mode for staging files.
	artifactPermissions os.FileMode = 0o644

	// dirPermissions is the mode for created parent directories.
	dirPermissions os.FileMode = 0o755
)

var (
	// errUnexpectedStatus is returned for HTTP statuses the protocol
	// contract does not cover (anything but 200, 206 and 416 on GET).
	errUnexpectedStatus = errors.New("unexpected http status")

	// ErrChecksumMismatch is returned when a completed artifact fails
	// verification. The corrupt file is removed first, so re-invoking
	// restarts the transfer from zero.
	ErrChecksumMismatch = errors.New("artifact checksum mismatch")

	// errOversizedStaging is returned when the origin streamed more bytes
	// than the size it reported. The staging file is removed first, so
	// re-invoking restarts the transfer from zero.
	errOversizedStaging = errors.New("staging file larger than reported size")
)

// IncompleteError reports a streaming pass that ended before the known
// total was reached. The staging file persists, so the same Fetch call can
// simply be issued again to resume where this one stopped.
type IncompleteError struct {
	// Path is the staging file that holds the partial bytes.
	Path string
	// Have is the staging file size after the pass.
	Have int64
	// Total is the known remote size.
	Total int64
}

// Error implements the error interface.
func (e *IncompleteError) Error() string {
	return fmt.Sprintf("%s incomplete: %d of %d bytes (%d remaining), re-run to resume",
		e.Path, e.Have, e.Total, e.Total-e.Have)
}

// Artifact names a remote object and where it belongs locally.
type Artifact struct {
	// URL is the remote location of the artifact.
	URL string
	// Path is the local destination the completed artifact is promoted to.
	Path string
	// Description labels the artifact in progress logs.
	Description string
	// ChecksumSHA512 optionally holds the hex SHA-512 of the complete
	// artifact; when set, completion is verified against it.
	ChecksumSHA512 string
}

// Fetcher downloads artifacts over HTTP(S) with resume support.
type Fetcher struct {
	// client issues metadata and download requests.
	client *http.Client
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithHTTPClient substitutes the HTTP client (used by tests and to apply
// custom timeouts to metadata requests).
func WithHTTPClient(c *http.Client) Option {
	return func(f *Fetcher) {
		if c != nil {
			f.client = c
		}
	}
}

// New returns a Fetcher with the default HTTP client.
func New(opts ...Option) *Fetcher {
	f := &Fetcher{client: http.DefaultClient}
	for _, opt := range opts {
		opt(f)
	}

	return f
}

// Fetch downloads the artifact, resuming any previous partial attempt.
//
// All failure modes are retryable by calling Fetch again with the same
// artifact: transient network errors leave the staging file in place, and
// completed destinations are recognized and skipped.
func (f *Fetcher) Fetch(ctx context.Context, artifact Artifact) error {
	ctx = logger.WithKV(ctx, "artifact", artifact.Description)

	if err := os.MkdirAll(filepath.Dir(artifact.Path), dirPermissions); err != nil {
		return fmt.Errorf("create destination directory: %w", err)
	}

	total, totalKnown := f.remoteSize(ctx, artifact.URL)
	staging := artifact.Path + StagingSuffix

	done, err := f.reconcileExisting(ctx, artifact, staging, total, totalKnown)
	if err != nil {
		return err
	}

	if done {
		return nil
	}

	alreadyHave := f.stagingSize(staging, total, totalKnown)

	serverSaysComplete, err := f.stream(ctx, artifact.URL, staging, alreadyHave, total, totalKnown)
	if err != nil {
		return err
	}

	// A 416 response overrides the HEAD size: the origin has stated that
	// the staged bytes already cover the artifact.
	verifySize := totalKnown && !serverSaysComplete

	return f.promote(ctx, artifact, staging, total, verifySize)
}

// remoteSize asks the origin for the artifact's Content-Length via HEAD.
// Any failure is treated as "size unknown": the download still works, it
// just loses completion-by-size verification.
func (f *Fetcher) remoteSize(ctx context.Context, url string) (int64, bool) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, http.NoBody)
	if err != nil {
		return 0, false
	}

	resp, err := f.client.Do(req)
	if err != nil {
		logger.Debugf(ctx, "HEAD failed, proceeding without a known size: %v", err)
		return 0, false
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK || resp.ContentLength < 0 {
		return 0, false
	}

	return resp.ContentLength, true
}

// reconcileExisting decides what to do with a pre-existing destination:
// accept it as complete, or demote it to the staging file so the transfer
// resumes from its bytes. When both a destination and a staging file exist,
// the larger of the two wins and the other is discarded.
func (f *Fetcher) reconcileExisting(ctx context.Context, artifact Artifact, staging string, total int64, totalKnown bool) (bool, error) {
	destInfo, err := os.Stat(artifact.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}

		return false, fmt.Errorf("stat destination: %w", err)
	}

	if !totalKnown {
		// Best effort: with no remote size there is nothing to compare
		// against, so presence is the completion signal. A configured
		// checksum restores the stronger guarantee.
		if artifact.ChecksumSHA512 != "" {
			if err = verifyChecksum(artifact.Path, artifact.ChecksumSHA512); err != nil {
				logger.WarnKV(ctx, "Existing file fails checksum, downloading again", "path", artifact.Path)
				return false, os.Remove(artifact.Path)
			}
		}

		logger.Info(ctx, "Destination exists and remote size is unknown, accepting as complete")

		return true, nil
	}

	if destInfo.Size() == total {
		logger.InfoKV(ctx, "Already complete, skipping", "path", artifact.Path, "size", total)
		return true, nil
	}

	// Destination is a partial from an earlier run; demote it to staging,
	// unless an even larger staging file is already there.
	if stagingInfo, statErr := os.Stat(staging); statErr == nil {
		if destInfo.Size() <= stagingInfo.Size() {
			if err = os.Remove(artifact.Path); err != nil {
				return false, fmt.Errorf("discard smaller partial destination: %w", err)
			}

			return false, nil
		}

		if err = os.Remove(staging); err != nil {
			return false, fmt.Errorf("discard smaller staging file: %w", err)
		}
	}

	if err = os.Rename(artifact.Path, staging); err != nil {
		return false, fmt.Errorf("demote partial destination: %w", err)
	}

	return false, nil
}

// stagingSize returns how many bytes are already staged, discarding the
// staging file when it is larger than the known total (corruption guard).
func (f *Fetcher) stagingSize(staging string, total int64, totalKnown bool) int64 {
	info, err := os.Stat(staging)
	if err != nil {
		return 0
	}

	if totalKnown && info.Size() > total {
		_ = os.Remove(staging)
		return 0
	}

	return info.Size()
}

// stream performs one download pass into the staging file, resuming at
// alreadyHave when the server honors the Range request. The boolean result
// reports that the origin answered 416, i.e. the staged bytes already cover
// the whole artifact regardless of what HEAD claimed.
func (f *Fetcher) stream(ctx context.Context, url, staging string, alreadyHave, total int64, totalKnown bool) (bool, error) {
	useRange := alreadyHave > 0 && totalKnown && alreadyHave < total

	if totalKnown && alreadyHave == total {
		// Everything is already staged; only promotion is left.
		return false, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return false, fmt.Errorf("build download request: %w", err)
	}

	if useRange {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", alreadyHave))
		logger.InfoKV(ctx, "Resuming download", "offset", alreadyHave, "total", total)
	} else {
		logger.InfoKV(ctx, "Starting download", "url", url)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("download request: %w", err)
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	switch resp.StatusCode {
	case http.StatusPartialContent:
		return false, f.copyBody(ctx, resp.Body, staging, alreadyHave, total, totalKnown, true)
	case http.StatusOK:
		if useRange {
			// The server ignored the Range header and is sending the whole
			// artifact. Appending it onto the staged bytes would corrupt
			// the file, so restart from zero with this response.
			logger.Warn(ctx, "Server ignored Range request, restarting from zero")

			if err = os.Remove(staging); err != nil && !errors.Is(err, os.ErrNotExist) {
				return false, fmt.Errorf("discard staging file: %w", err)
			}
		}

		return false, f.copyBody(ctx, resp.Body, staging, 0, total, totalKnown, false)
	case http.StatusRequestedRangeNotSatisfiable:
		// The requested suffix starts at or past the end: the staged bytes
		// already cover the artifact. Treat as complete.
		logger.Info(ctx, "Server reports range not satisfiable, assuming already complete")

		return true, nil
	default:
		return false, fmt.Errorf("%s: %s: %w", url, resp.Status, errUnexpectedStatus)
	}
}

// copyBody streams the response body into the staging file, logging
// progress in increments of at least progressStep percent when the total
// is known.
func (f *Fetcher) copyBody(ctx context.Context, body io.Reader, staging string, offset, total int64, totalKnown, resume bool) error {
	flags := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	if resume {
		flags = os.O_CREATE | os.O_WRONLY | os.O_APPEND
	}

	out, err := os.OpenFile(filepath.Clean(staging), flags, artifactPermissions)
	if err != nil {
		return fmt.Errorf("open staging file: %w", err)
	}

	defer func() {
		_ = out.Close()
	}()

	var (
		read        = offset
		lastPercent = -1
		buf         = make([]byte, copyChunkSize)
	)

	for {
		n, readErr := body.Read(buf)
		if n > 0 {
			if _, writeErr := out.Write(buf[:n]); writeErr != nil {
				return fmt.Errorf("write staging file: %w", writeErr)
			}

			read += int64(n)

			if totalKnown && total > 0 {
				percent := int(read * percentTotal / total)
				if percent == percentTotal || percent >= lastPercent+progressStep {
					logger.Infof(ctx, "  %d%% (%dMB/%dMB)", percent, read/bytesPerMB, total/bytesPerMB)
					lastPercent = percent
				}
			}
		}

		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				return out.Sync()
			}

			return fmt.Errorf("read response body: %w", readErr)
		}
	}
}

// promote verifies the staged bytes and atomically moves them into place.
func (f *Fetcher) promote(ctx context.Context, artifact Artifact, staging string, total int64, verifySize bool) error {
	info, err := os.Stat(staging)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			// Nothing staged: the 416 path with the destination already in
			// place ends up here.
			return nil
		}

		return fmt.Errorf("stat staging file: %w", err)
	}

	if verifySize && info.Size() < total {
		return &IncompleteError{Path: staging, Have: info.Size(), Total: total}
	}

	// More bytes than the origin announced means the stream and the
	// metadata disagree; the same corruption guard as before streaming.
	if verifySize && info.Size() > total {
		_ = os.Remove(staging)
		return fmt.Errorf("%s: %d of %d bytes: %w", staging, info.Size(), total, errOversizedStaging)
	}

	if artifact.ChecksumSHA512 != "" {
		if err = verifyChecksum(staging, artifact.ChecksumSHA512); err != nil {
			_ = os.Remove(staging)
			return err
		}
	}

	if err = os.Rename(staging, artifact.Path); err != nil {
		return fmt.Errorf("promote staging file: %w", err)
	}

	logger.InfoKV(ctx, "Saved", "path", artifact.Path, "size", info.Size())

	return nil
}

// verifyChecksum compares the file's SHA-512 against the expected hex digest.
func verifyChecksum(path, wantHex string) error {
	want, err := hex.DecodeString(wantHex)
	if err != nil {
		return fmt.Errorf("decode expected checksum: %w", err)
	}

	file, err := os.Open(filepath.Clean(path))
	if err != nil {
		return fmt.Errorf("open for checksum: %w", err)
	}

	defer func() {
		_ = file.Close()
	}()

	hasher := sha512.New()
	if _, err = io.Copy(hasher, file); err != nil {
		return fmt.Errorf("hash file: %w", err)
	}

	if !bytes.Equal(hasher.Sum(nil), want) {
		return fmt.Errorf("%s: %w", path, ErrChecksumMismatch)
	}

	return nil
}
