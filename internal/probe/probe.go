package probe

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/mitchellh/go-ps"

	"tomex/internal/logger"
)

const (
	// dialTimeout bounds a single TCP connectivity check.
	dialTimeout = 1500 * time.Millisecond

	// httpProbeTimeout bounds a single HTTP readiness request.
	httpProbeTimeout = 5 * time.Second

	// pollInitialInterval is the delay before the second attempt while
	// waiting for a spawned process to come up; it doubles per attempt.
	pollInitialInterval = 500 * time.Millisecond

	// pollMaxInterval caps the growing poll delay.
	pollMaxInterval = 5 * time.Second
)

// Probe is a cheap, side-effect-free check of whether a unit of work is
// already done. Probes never fail: when the check itself cannot be carried
// out, the answer is "not satisfied", which at worst redoes cheap
// idempotent work instead of skipping needed work.
type Probe func(ctx context.Context) bool

// FileExists reports whether a regular file is present at path.
func FileExists(path string) Probe {
	return func(_ context.Context) bool {
		info, err := os.Stat(path)
		return err == nil && !info.IsDir()
	}
}

// ExecutableInPath reports whether the named executable resolves on PATH.
func ExecutableInPath(name string) Probe {
	return func(ctx context.Context) bool {
		path, err := exec.LookPath(name)
		logger.Debugf(ctx, "which %s -> %s", name, path)

		return err == nil
	}
}

// PortOpen reports whether something accepts TCP connections on the port.
func PortOpen(host string, port int) Probe {
	address := net.JoinHostPort(host, fmt.Sprintf("%d", port))

	return func(_ context.Context) bool {
		conn, err := net.DialTimeout("tcp", address, dialTimeout)
		if err != nil {
			return false
		}

		_ = conn.Close()

		return true
	}
}

// HTTPReady reports whether the URL answers with a status below 500.
// 4xx counts as ready: the endpoint is alive even if the path needs auth.
func HTTPReady(url string) Probe {
	return func(ctx context.Context) bool {
		reqCtx, cancel := context.WithTimeout(ctx, httpProbeTimeout)
		defer cancel()

		req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, http.NoBody)
		if err != nil {
			return false
		}

		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return false
		}

		_ = resp.Body.Close()

		return resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusInternalServerError
	}
}

// FileHasContent reports whether the file at path matches want byte for
// byte. Used to skip rewriting generated artifacts (and the downstream
// reinitialization a rewrite would trigger).
func FileHasContent(path string, want []byte) Probe {
	return func(_ context.Context) bool {
		got, err := os.ReadFile(filepath.Clean(path))
		return err == nil && bytes.Equal(got, want)
	}
}

// ProcessRunning reports whether a process with the given executable name
// is alive, excluding the current process.
func ProcessRunning(executable string) Probe {
	return func(_ context.Context) bool {
		processes, err := ps.Processes()
		if err != nil {
			return false
		}

		self := os.Getpid()

		for _, process := range processes {
			if process.Pid() != self && process.Executable() == executable {
				return true
			}
		}

		return false
	}
}

// All combines probes; satisfied only when every probe is.
func All(probes ...Probe) Probe {
	return func(ctx context.Context) bool {
		for _, p := range probes {
			if !p(ctx) {
				return false
			}
		}

		return true
	}
}

// Not inverts a probe. Useful for steps that must run while a condition
// still holds.
func Not(p Probe) Probe {
	return func(ctx context.Context) bool {
		return !p(ctx)
	}
}

// WaitHTTP polls the URL until it answers with a status below 500 or the
// timeout elapses, backing off between attempts. Giving up is reported to
// the caller but is usually not fatal: the process may simply be slow to
// start.
func WaitHTTP(ctx context.Context, url string, timeout time.Duration) bool {
	logger.InfoKV(ctx, "Waiting for HTTP endpoint", "url", url, "timeout", timeout.String())

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ready := HTTPReady(url)
	interval := pollInitialInterval

	for {
		if ready(waitCtx) {
			logger.InfoKV(ctx, "HTTP endpoint ready", "url", url)
			return true
		}

		select {
		case <-waitCtx.Done():
			logger.WarnKV(ctx, "Timed out waiting for HTTP endpoint", "url", url)
			return false
		case <-time.After(interval):
		}

		if interval *= 2; interval > pollMaxInterval {
			interval = pollMaxInterval
		}
	}
}
