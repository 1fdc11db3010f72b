// Package libreoffice converts legacy Word documents to docx with a headless
// office install.
package libreoffice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

const DefaultTimeout = 60 * time.Second

// Runner executes a command and returns its combined output.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

type Converter struct {
	binary  string
	timeout time.Duration
	run     Runner
	// workDir is the parent of per-conversion directories; empty means os.TempDir.
	workDir string
}

func New(binary string, timeout time.Duration) *Converter {
	return NewWithRunner(binary, timeout, execRunner)
}

func NewWithRunner(binary string, timeout time.Duration, run Runner) *Converter {
	if strings.TrimSpace(binary) == "" {
		binary = "soffice"
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if run == nil {
		run = execRunner
	}
	return &Converter{binary: binary, timeout: timeout, run: run}
}

// WithWorkDir places conversion directories under dir instead of os.TempDir.
func (c *Converter) WithWorkDir(dir string) *Converter {
	c.workDir = dir
	return c
}

// ConvertToDocx converts path into a fresh private directory and returns the
// converted file. release removes that directory.
func (c *Converter) ConvertToDocx(ctx context.Context, path string) (string, func(), error) {
	workDir, err := os.MkdirTemp(c.workDir, "docchat-convert-")
	if err != nil {
		return "", nil, fmt.Errorf("create conversion dir: %w", err)
	}
	release := func() {
		if err := os.RemoveAll(workDir); err != nil {
			slog.Warn("legacy_conversion_cleanup_failed", "dir", workDir, "error", err)
		}
	}

	base := filepath.Base(path)
	target := filepath.Join(workDir, strings.TrimSuffix(base, filepath.Ext(base))+".docx")

	runCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	out, err := c.run(runCtx, c.binary, "--headless", "--convert-to", "docx", "--outdir", workDir, path)
	if err != nil {
		release()
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			return "", nil, fmt.Errorf("%s timed out after %s", c.binary, c.timeout)
		}
		return "", nil, fmt.Errorf("%s: %w: %s", c.binary, err, trimOutput(out))
	}
	if info, err := os.Stat(target); err != nil || !info.Mode().IsRegular() {
		release()
		return "", nil, fmt.Errorf("%s produced no docx: %s", c.binary, trimOutput(out))
	}

	slog.Debug("legacy_document_converted",
		"source", path,
		"target", target,
		"duration_ms", float64(time.Since(start).Microseconds())/1000.0,
	)
	return target, release, nil
}

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

func trimOutput(out []byte) string {
	s := strings.TrimSpace(string(out))
	if len(s) > 512 {
		s = s[:512]
	}
	if s == "" {
		return "no output"
	}
	return s
}
