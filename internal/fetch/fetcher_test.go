package fetch

import (
	"bytes"
	"context"
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

// origin is a configurable artifact server for fetcher tests.
type origin struct {
	mu sync.Mutex

	// data is the full artifact payload.
	data []byte
	// supportsRange makes GET honor Range headers with 206/416.
	supportsRange bool
	// headStatus lets tests disable size metadata (e.g. 404 on HEAD).
	headStatus int
	// headSizeOverride reports a different Content-Length on HEAD when >= 0.
	headSizeOverride int64
	// truncateFirstGET aborts the first GET halfway through the body.
	truncateFirstGET bool

	// getCount and bytesSent record observed traffic.
	getCount  int
	bytesSent int64
	// rangeHeaders records the Range header of each GET.
	rangeHeaders []string
}

func newOrigin(size int, supportsRange bool) *origin {
	data := make([]byte, size)
	rng := rand.New(rand.NewSource(42)) //nolint:gosec // Deterministic test payload.
	rng.Read(data)

	return &origin{
		data:             data,
		supportsRange:    supportsRange,
		headStatus:       http.StatusOK,
		headSizeOverride: -1,
	}
}

func (o *origin) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	o.mu.Lock()
	defer o.mu.Unlock()

	switch r.Method {
	case http.MethodHead:
		if o.headStatus != http.StatusOK {
			w.WriteHeader(o.headStatus)
			return
		}

		size := int64(len(o.data))
		if o.headSizeOverride >= 0 {
			size = o.headSizeOverride
		}

		w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
		w.WriteHeader(http.StatusOK)

	case http.MethodGet:
		o.getCount++
		o.rangeHeaders = append(o.rangeHeaders, r.Header.Get("Range"))

		start := int64(0)

		if rangeHeader := r.Header.Get("Range"); rangeHeader != "" && o.supportsRange {
			offset, err := strconv.ParseInt(strings.TrimSuffix(strings.TrimPrefix(rangeHeader, "bytes="), "-"), 10, 64)
			if err != nil || offset >= int64(len(o.data)) {
				w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
				return
			}

			start = offset

			w.Header().Set("Content-Range",
				fmt.Sprintf("bytes %d-%d/%d", start, len(o.data)-1, len(o.data)))
			w.WriteHeader(http.StatusPartialContent)
		}

		body := o.data[start:]

		if o.truncateFirstGET && o.getCount == 1 {
			w.Header().Set("Content-Length", strconv.Itoa(len(body)))
			half := body[:len(body)/2]
			_, _ = w.Write(half)
			o.bytesSent += int64(len(half))

			// Drop the connection mid-body.
			panic(http.ErrAbortHandler)
		}

		n, _ := w.Write(body)
		o.bytesSent += int64(n)
	}
}

// sentSince returns bytes transferred since the given mark.
func (o *origin) sentSince(mark int64) int64 {
	o.mu.Lock()
	defer o.mu.Unlock()

	return o.bytesSent - mark
}

func (o *origin) sent() int64 { return o.sentSince(0) }

func (o *origin) gets() int {
	o.mu.Lock()
	defer o.mu.Unlock()

	return o.getCount
}

func (o *origin) lastRange(t *testing.T) string {
	t.Helper()

	o.mu.Lock()
	defer o.mu.Unlock()

	require.NotEmpty(t, o.rangeHeaders)

	return o.rangeHeaders[len(o.rangeHeaders)-1]
}

// fetchOne runs a single Fetch against the origin into dir and returns the
// destination path.
func fetchOne(t *testing.T, srv *httptest.Server, dir string) (string, error) {
	t.Helper()

	dest := filepath.Join(dir, "artifact.bin")
	err := New().Fetch(context.Background(), Artifact{
		URL:         srv.URL + "/artifact.bin",
		Path:        dest,
		Description: "test artifact",
	})

	return dest, err
}

// TestFetchFresh downloads a payload into an empty directory and checks the
// destination byte-for-byte.
func TestFetchFresh(t *testing.T) {
	t.Parallel()

	o := newOrigin(256*1024, true)
	srv := httptest.NewServer(o)
	defer srv.Close()

	dest, err := fetchOne(t, srv, t.TempDir())
	require.NoError(t, err)

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	require.True(t, bytes.Equal(o.data, got))

	// Staging is gone after promotion.
	_, err = os.Stat(dest + StagingSuffix)
	require.ErrorIs(t, err, os.ErrNotExist)
}

// TestFetchIdempotent verifies the second call performs zero transfer.
func TestFetchIdempotent(t *testing.T) {
	t.Parallel()

	o := newOrigin(64*1024, true)
	srv := httptest.NewServer(o)
	defer srv.Close()

	dir := t.TempDir()

	_, err := fetchOne(t, srv, dir)
	require.NoError(t, err)

	mark := o.sent()

	_, err = fetchOne(t, srv, dir)
	require.NoError(t, err)
	require.Zero(t, o.sentSince(mark))
	require.Equal(t, 1, o.gets())
}

// TestFetchResumesFromStaging seeds a partial staging file and verifies the
// ranged request, the byte-exact result, and that only the missing suffix
// was transferred.
func TestFetchResumesFromStaging(t *testing.T) {
	t.Parallel()

	const partial = 100 * 1024

	o := newOrigin(256*1024, true)
	srv := httptest.NewServer(o)
	defer srv.Close()

	dir := t.TempDir()
	dest := filepath.Join(dir, "artifact.bin")
	require.NoError(t, os.WriteFile(dest+StagingSuffix, o.data[:partial], 0o644))

	_, err := fetchOne(t, srv, dir)
	require.NoError(t, err)

	require.Equal(t, fmt.Sprintf("bytes=%d-", partial), o.lastRange(t))
	require.Equal(t, int64(len(o.data)-partial), o.sent())

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	require.True(t, bytes.Equal(o.data, got), "resumed file must not duplicate or skip bytes")
}

// TestFetchRangeIgnored covers the corruption-critical branch: the server
// answers a ranged request with full content, and the fetcher must restart
// from zero instead of appending.
func TestFetchRangeIgnored(t *testing.T) {
	t.Parallel()

	const partial = 40 * 1024

	o := newOrigin(128*1024, false)
	srv := httptest.NewServer(o)
	defer srv.Close()

	dir := t.TempDir()
	dest := filepath.Join(dir, "artifact.bin")
	require.NoError(t, os.WriteFile(dest+StagingSuffix, o.data[:partial], 0o644))

	_, err := fetchOne(t, srv, dir)
	require.NoError(t, err)

	info, err := os.Stat(dest)
	require.NoError(t, err)
	require.Equal(t, int64(len(o.data)), info.Size(), "size must be total, not partial+total")

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	require.True(t, bytes.Equal(o.data, got))
}

// TestFetchRangeNotSatisfiable covers 416: the staged bytes are accepted as
// the complete artifact even though HEAD reported a larger size.
func TestFetchRangeNotSatisfiable(t *testing.T) {
	t.Parallel()

	o := newOrigin(64*1024, true)
	o.headSizeOverride = int64(len(o.data)) + 10

	srv := httptest.NewServer(o)
	defer srv.Close()

	dir := t.TempDir()
	dest := filepath.Join(dir, "artifact.bin")
	require.NoError(t, os.WriteFile(dest+StagingSuffix, o.data, 0o644))

	_, err := fetchOne(t, srv, dir)
	require.NoError(t, err)

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	require.True(t, bytes.Equal(o.data, got))
}

// TestFetchCorruptionGuard inflates the staging file beyond the known total
// and expects a discard plus a clean restart from zero.
func TestFetchCorruptionGuard(t *testing.T) {
	t.Parallel()

	o := newOrigin(32*1024, true)
	srv := httptest.NewServer(o)
	defer srv.Close()

	dir := t.TempDir()
	dest := filepath.Join(dir, "artifact.bin")

	inflated := append(append([]byte(nil), o.data...), []byte("trailing garbage")...)
	require.NoError(t, os.WriteFile(dest+StagingSuffix, inflated, 0o644))

	_, err := fetchOne(t, srv, dir)
	require.NoError(t, err)

	require.Equal(t, "", o.lastRange(t), "restart must not send a Range header")

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	require.True(t, bytes.Equal(o.data, got))
}

// TestFetchOversizedResponse rejects an origin that streams more bytes
// than the size it reported, instead of promoting an oversized artifact.
func TestFetchOversizedResponse(t *testing.T) {
	t.Parallel()

	o := newOrigin(32*1024, false)
	o.headSizeOverride = int64(len(o.data)) - 10

	srv := httptest.NewServer(o)
	defer srv.Close()

	dir := t.TempDir()

	dest, err := fetchOne(t, srv, dir)
	require.ErrorIs(t, err, errOversizedStaging)

	// Nothing was promoted and the bad staging bytes are gone, so a
	// retry restarts from zero.
	_, err = os.Stat(dest)
	require.ErrorIs(t, err, os.ErrNotExist)
	_, err = os.Stat(dest + StagingSuffix)
	require.ErrorIs(t, err, os.ErrNotExist)
}

// TestFetchExistingDestUnknownSize accepts a present destination without any
// network traffic when the origin offers no size metadata.
func TestFetchExistingDestUnknownSize(t *testing.T) {
	t.Parallel()

	o := newOrigin(16*1024, true)
	o.headStatus = http.StatusNotFound

	srv := httptest.NewServer(o)
	defer srv.Close()

	dir := t.TempDir()
	dest := filepath.Join(dir, "artifact.bin")
	require.NoError(t, os.WriteFile(dest, []byte("whatever was there"), 0o644))

	_, err := fetchOne(t, srv, dir)
	require.NoError(t, err)
	require.Zero(t, o.gets())
}

// TestFetchDemotesPartialDestination treats an undersized destination as a
// partial download and resumes from its bytes.
func TestFetchDemotesPartialDestination(t *testing.T) {
	t.Parallel()

	const partial = 24 * 1024

	o := newOrigin(96*1024, true)
	srv := httptest.NewServer(o)
	defer srv.Close()

	dir := t.TempDir()
	dest := filepath.Join(dir, "artifact.bin")
	require.NoError(t, os.WriteFile(dest, o.data[:partial], 0o644))

	_, err := fetchOne(t, srv, dir)
	require.NoError(t, err)

	require.Equal(t, fmt.Sprintf("bytes=%d-", partial), o.lastRange(t))

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	require.True(t, bytes.Equal(o.data, got))
}

// TestFetchKeepsLargerStaging keeps the bigger of destination and staging
// when both hold partial bytes.
func TestFetchKeepsLargerStaging(t *testing.T) {
	t.Parallel()

	const (
		destPartial    = 8 * 1024
		stagingPartial = 48 * 1024
	)

	o := newOrigin(96*1024, true)
	srv := httptest.NewServer(o)
	defer srv.Close()

	dir := t.TempDir()
	dest := filepath.Join(dir, "artifact.bin")
	require.NoError(t, os.WriteFile(dest, o.data[:destPartial], 0o644))
	require.NoError(t, os.WriteFile(dest+StagingSuffix, o.data[:stagingPartial], 0o644))

	_, err := fetchOne(t, srv, dir)
	require.NoError(t, err)

	require.Equal(t, fmt.Sprintf("bytes=%d-", stagingPartial), o.lastRange(t))

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	require.True(t, bytes.Equal(o.data, got))
}

// TestFetchInterruptedThenResumed drops the connection halfway through the
// first pass and verifies a re-invocation completes the file with only the
// remaining bytes transferred.
func TestFetchInterruptedThenResumed(t *testing.T) {
	t.Parallel()

	o := newOrigin(200*1024, true)
	o.truncateFirstGET = true

	srv := httptest.NewServer(o)
	defer srv.Close()

	dir := t.TempDir()

	_, err := fetchOne(t, srv, dir)
	require.Error(t, err, "truncated transfer must surface as a retryable error")

	// The staging file persists with the delivered prefix.
	staged, err := os.Stat(filepath.Join(dir, "artifact.bin"+StagingSuffix))
	require.NoError(t, err)
	require.Positive(t, staged.Size())
	require.Less(t, staged.Size(), int64(len(o.data)))

	mark := o.sent()

	dest, err := fetchOne(t, srv, dir)
	require.NoError(t, err)
	require.Equal(t, int64(len(o.data))-staged.Size(), o.sentSince(mark))

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	require.True(t, bytes.Equal(o.data, got))
}

// TestFetchChecksum verifies both the accept and reject paths of optional
// checksum verification.
func TestFetchChecksum(t *testing.T) {
	t.Parallel()

	o := newOrigin(16*1024, true)
	srv := httptest.NewServer(o)
	defer srv.Close()

	sum := sha512.Sum512(o.data)

	dir := t.TempDir()
	dest := filepath.Join(dir, "artifact.bin")

	// Matching checksum passes.
	err := New().Fetch(context.Background(), Artifact{
		URL:            srv.URL + "/artifact.bin",
		Path:           dest,
		Description:    "verified artifact",
		ChecksumSHA512: hex.EncodeToString(sum[:]),
	})
	require.NoError(t, err)

	// Wrong checksum fails and removes the staged bytes.
	badDest := filepath.Join(dir, "bad.bin")
	err = New().Fetch(context.Background(), Artifact{
		URL:            srv.URL + "/bad.bin",
		Path:           badDest,
		Description:    "corrupt artifact",
		ChecksumSHA512: strings.Repeat("00", sha512.Size),
	})
	require.ErrorIs(t, err, ErrChecksumMismatch)

	_, err = os.Stat(badDest)
	require.ErrorIs(t, err, os.ErrNotExist)
	_, err = os.Stat(badDest + StagingSuffix)
	require.ErrorIs(t, err, os.ErrNotExist)
}

// TestIncompleteError checks the diagnostic payload.
func TestIncompleteError(t *testing.T) {
	t.Parallel()

	err := &IncompleteError{Path: "x.part", Have: 4, Total: 10}
	require.Contains(t, err.Error(), "6 remaining")

	var incomplete *IncompleteError

	wrapped := fmt.Errorf("fetch model: %w", err)
	require.True(t, errors.As(wrapped, &incomplete))
}
