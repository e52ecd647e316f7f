package filehost

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/korvane/vidsub-api/internal/pipeline"
)

// defaultUploadTimeout bounds a single upload attempt.
const defaultUploadTimeout = 120 * time.Second

// responseKind tells Upload how to extract the public URL from the host's
// response body.
type responseKind int

const (
	responseText responseKind = iota // body is the URL, possibly with whitespace
	responseJSON                     // body is JSON with a URL field
)

// MultipartHost uploads files to an anonymous temporary-storage service via
// a multipart POST. It implements pipeline.FileHost.
type MultipartHost struct {
	name      string
	probeURL  string
	uploadURL string
	fileField string
	fields    map[string]string
	kind      responseKind
	jsonKey   string

	httpClient *http.Client
}

// Well-known hosts, mirroring the services the extraction flow has
// historically raced.

// NewTmpFile uploads to tmpfile.link.
func NewTmpFile(client *http.Client) *MultipartHost {
	return &MultipartHost{
		name:      "tmpfile.link",
		probeURL:  "https://tmpfile.link",
		uploadURL: "https://tmpfile.link/api/upload",
		fileField: "file",
		kind:      responseJSON,
		jsonKey:   "downloadLink",

		httpClient: client,
	}
}

// NewLitterbox uploads to litterbox.catbox.moe with a one-hour retention.
func NewLitterbox(client *http.Client) *MultipartHost {
	return &MultipartHost{
		name:      "litterbox.catbox.moe",
		probeURL:  "https://litterbox.catbox.moe",
		uploadURL: "https://litterbox.catbox.moe/resources/internals/api.php",
		fileField: "fileToUpload",
		fields:    map[string]string{"reqtype": "fileupload", "time": "1h"},
		kind:      responseText,

		httpClient: client,
	}
}

// NewFileIO uploads to file.io with a one-hour expiry.
func NewFileIO(client *http.Client) *MultipartHost {
	return &MultipartHost{
		name:      "file.io",
		probeURL:  "https://file.io",
		uploadURL: "https://file.io",
		fileField: "file",
		fields:    map[string]string{"expires": "1h"},
		kind:      responseJSON,
		jsonKey:   "link",

		httpClient: client,
	}
}

// NewZeroX uploads to 0x0.st.
func NewZeroX(client *http.Client) *MultipartHost {
	return &MultipartHost{
		name:      "0x0.st",
		probeURL:  "https://0x0.st",
		uploadURL: "https://0x0.st",
		fileField: "file",
		kind:      responseText,

		httpClient: client,
	}
}

// DefaultHosts returns the standard set of anonymous hosts to race.
func DefaultHosts(client *http.Client) []pipeline.FileHost {
	return []pipeline.FileHost{
		NewTmpFile(client),
		NewLitterbox(client),
		NewFileIO(client),
		NewZeroX(client),
	}
}

// Name identifies the host in logs.
func (h *MultipartHost) Name() string { return h.name }

// ProbeURL is the availability-probe endpoint.
func (h *MultipartHost) ProbeURL() string { return h.probeURL }

// Upload transfers the file and returns its public URL.
func (h *MultipartHost) Upload(ctx context.Context, filePath string) (string, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return "", fmt.Errorf("failed to open file: %w", err)
	}
	defer func() { _ = f.Close() }()

	pr, pw := io.Pipe()
	writer := multipart.NewWriter(pw)
	go func() {
		var werr error
		defer func() { _ = pw.CloseWithError(werr) }()
		for k, v := range h.fields {
			if werr = writer.WriteField(k, v); werr != nil {
				return
			}
		}
		part, perr := writer.CreateFormFile(h.fileField, filepath.Base(filePath))
		if perr != nil {
			werr = perr
			return
		}
		if _, werr = io.Copy(part, f); werr != nil {
			return
		}
		werr = writer.Close()
	}()

	ctx, cancel := context.WithTimeout(ctx, defaultUploadTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.uploadURL, pr)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	client := h.httpClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("upload to %s failed: %w", h.name, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("upload to %s returned status %d", h.name, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("failed to read %s response: %w", h.name, err)
	}

	url, err := h.extractURL(body)
	if err != nil {
		return "", fmt.Errorf("%s: %w", h.name, err)
	}
	return url, nil
}

func (h *MultipartHost) extractURL(body []byte) (string, error) {
	if h.kind == responseText {
		url := strings.TrimSpace(string(body))
		if !strings.HasPrefix(url, "http") {
			return "", fmt.Errorf("response is not a URL: %.80s", url)
		}
		return url, nil
	}

	var parsed map[string]any
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("invalid JSON response: %w", err)
	}
	if success, ok := parsed["success"]; ok {
		if b, ok := success.(bool); ok && !b {
			return "", fmt.Errorf("host reported failure")
		}
	}

	if url, ok := parsed[h.jsonKey].(string); ok && strings.HasPrefix(url, "http") {
		return url, nil
	}
	// Hosts are inconsistent about the field name; try the usual suspects.
	for _, key := range []string{"downloadLink", "url", "link", "file_url", "data"} {
		if url, ok := parsed[key].(string); ok && strings.HasPrefix(url, "http") {
			return url, nil
		}
	}
	return "", fmt.Errorf("no URL in JSON response")
}
