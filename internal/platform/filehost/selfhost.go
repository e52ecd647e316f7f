package filehost

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// SelfHost serves uploads from the deployment's own publicly reachable
// origin: Upload copies the file into the served directory and derives the
// public URL from the base URL. It implements pipeline.FileHost for
// direct-link mode.
type SelfHost struct {
	baseURL  string
	serveDir string
}

// NewSelfHost creates a SelfHost. baseURL is the public origin the serveDir
// is exposed under.
func NewSelfHost(baseURL, serveDir string) *SelfHost {
	return &SelfHost{
		baseURL:  strings.TrimRight(baseURL, "/"),
		serveDir: serveDir,
	}
}

// Name identifies the host in logs.
func (h *SelfHost) Name() string { return "self-host" }

// ProbeURL is the public origin itself; reachability of the origin is the
// direct-link mode precondition.
func (h *SelfHost) ProbeURL() string { return h.baseURL }

// Upload copies the file into the served directory and returns its public
// URL.
func (h *SelfHost) Upload(ctx context.Context, filePath string) (string, error) {
	if err := os.MkdirAll(h.serveDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create serve directory: %w", err)
	}

	name := filepath.Base(filePath)
	src, err := os.Open(filePath)
	if err != nil {
		return "", fmt.Errorf("failed to open file: %w", err)
	}
	defer func() { _ = src.Close() }()

	dst, err := os.Create(filepath.Join(h.serveDir, name))
	if err != nil {
		return "", fmt.Errorf("failed to create served file: %w", err)
	}

	_, err = io.Copy(dst, src)
	closeErr := dst.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		return "", fmt.Errorf("failed to copy into serve directory: %w", err)
	}

	return h.baseURL + "/" + name, nil
}
