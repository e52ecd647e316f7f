package bilibili

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/korvane/vidsub-api/internal/pipeline"
)

const (
	defaultBaseURL = "https://api.bilibili.com"
	referer        = "https://www.bilibili.com/"
	userAgent      = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"

	requestTimeout = 10 * time.Second
)

// Client talks to the Bilibili web API. It implements the pipeline's
// VideoInfoProvider, CaptionProvider, and AudioDownloader collaborators.
type Client struct {
	baseURL    string
	cookie     string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a Client. cookie is the caller's session cookie string;
// AI captions are usually only listed with a complete cookie.
func NewClient(cookie string, logger *slog.Logger) *Client {
	return &Client{
		baseURL:    defaultBaseURL,
		cookie:     cookie,
		httpClient: &http.Client{Timeout: requestTimeout},
		logger:     logger.With("component", "bilibili"),
	}
}

type viewResponse struct {
	Code int `json:"code"`
	Data struct {
		Title    string `json:"title"`
		Duration int64  `json:"duration"`
		AID      int64  `json:"aid"`
		CID      int64  `json:"cid"`
		Pic      string `json:"pic"`
		PubDate  int64  `json:"pubdate"`
		Owner    struct {
			Name string `json:"name"`
		} `json:"owner"`
	} `json:"data"`
}

type playerResponse struct {
	Code int `json:"code"`
	Data struct {
		Subtitle struct {
			Subtitles []struct {
				Lan         string `json:"lan"`
				LanDoc      string `json:"lan_doc"`
				SubtitleURL string `json:"subtitle_url"`
			} `json:"subtitles"`
		} `json:"subtitle"`
	} `json:"data"`
}

type subtitleBody struct {
	Body []struct {
		Content string `json:"content"`
	} `json:"body"`
}

type playURLResponse struct {
	Code int `json:"code"`
	Data struct {
		Dash struct {
			Audio []struct {
				BaseURL string `json:"baseUrl"`
			} `json:"audio"`
		} `json:"dash"`
	} `json:"data"`
}

func (c *Client) get(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Referer", referer)
	if c.cookie != "" {
		req.Header.Set("Cookie", c.cookie)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// GetInfo fetches video metadata. Network and parse failures return
// (nil, nil): missing metadata never fails an extraction.
func (c *Client) GetInfo(ctx context.Context, videoID string) (*pipeline.VideoInfo, error) {
	var view viewResponse
	url := fmt.Sprintf("%s/x/web-interface/view?bvid=%s", c.baseURL, videoID)
	if err := c.get(ctx, url, &view); err != nil || view.Code != 0 {
		c.logger.Debug("video info lookup failed", "video_id", videoID, "error", err, "code", view.Code)
		return nil, nil
	}

	info := &pipeline.VideoInfo{
		Title:           view.Data.Title,
		DurationSeconds: float64(view.Data.Duration),
		ContentID:       fmt.Sprintf("%d", view.Data.CID),
		Owner:           view.Data.Owner.Name,
		CoverURL:        strings.Replace(view.Data.Pic, "http://", "https://", 1),
	}
	if view.Data.PubDate > 0 {
		info.PublishDate = time.Unix(view.Data.PubDate, 0).UTC().Format("2006-01-02")
	}
	return info, nil
}

// GetCaptions fetches the native caption track matching the language
// priority list. A listed track without a resolvable content URL means the
// session cookie is missing or expired, which is reported as
// ErrCredentialInvalid so callers can distinguish it from a captionless
// video.
func (c *Client) GetCaptions(ctx context.Context, videoID string, langPriority []string) (string, error) {
	var view viewResponse
	viewURL := fmt.Sprintf("%s/x/web-interface/view?bvid=%s", c.baseURL, videoID)
	if err := c.get(ctx, viewURL, &view); err != nil {
		return "", fmt.Errorf("%w: video lookup failed: %v", pipeline.ErrNoCaptions, err)
	}
	if view.Code != 0 {
		return "", fmt.Errorf("%w: video lookup returned code %d", pipeline.ErrNoCaptions, view.Code)
	}

	var player playerResponse
	playerURL := fmt.Sprintf("%s/x/player/v2?bvid=%s&cid=%d", c.baseURL, videoID, view.Data.CID)
	if err := c.get(ctx, playerURL, &player); err != nil {
		return "", fmt.Errorf("%w: player lookup failed: %v", pipeline.ErrNoCaptions, err)
	}

	subtitles := player.Data.Subtitle.Subtitles
	if len(subtitles) == 0 {
		return "", fmt.Errorf("%w: no subtitle tracks listed", pipeline.ErrNoCaptions)
	}

	var selectedURL string
	var selectedLan string
	for _, want := range langPriority {
		for _, sub := range subtitles {
			if sub.Lan == want || strings.HasPrefix(strings.ToLower(sub.Lan), strings.ToLower(want)) {
				selectedURL = sub.SubtitleURL
				selectedLan = sub.Lan
				break
			}
		}
		if selectedLan != "" {
			break
		}
	}
	if selectedLan == "" {
		return "", fmt.Errorf("%w: no track matches languages %v", pipeline.ErrNoCaptions, langPriority)
	}
	if selectedURL == "" {
		// The track is listed but its content URL is withheld: the session
		// cookie lacks buvid3 or has expired.
		return "", fmt.Errorf("%w: track %q listed without content URL", pipeline.ErrCredentialInvalid, selectedLan)
	}
	if strings.HasPrefix(selectedURL, "//") {
		selectedURL = "https:" + selectedURL
	}

	var body subtitleBody
	if err := c.get(ctx, selectedURL, &body); err != nil {
		return "", fmt.Errorf("%w: caption download failed: %v", pipeline.ErrNoCaptions, err)
	}

	lines := make([]string, 0, len(body.Body))
	for _, item := range body.Body {
		if content := strings.TrimSpace(item.Content); content != "" {
			lines = append(lines, content)
		}
	}
	if len(lines) == 0 {
		return "", fmt.Errorf("%w: caption body is empty", pipeline.ErrNoCaptions)
	}

	c.logger.Debug("captions fetched", "video_id", videoID, "language", selectedLan, "lines", len(lines))
	return strings.Join(lines, "\n"), nil
}

// Download fetches the video's audio track into destDir, reporting percent
// progress from bytes copied against Content-Length.
func (c *Client) Download(ctx context.Context, videoID, destDir string, progress pipeline.DownloadProgressFunc) (string, float64, error) {
	var view viewResponse
	viewURL := fmt.Sprintf("%s/x/web-interface/view?bvid=%s", c.baseURL, videoID)
	if err := c.get(ctx, viewURL, &view); err != nil {
		return "", 0, fmt.Errorf("video lookup failed: %w", err)
	}
	if view.Code != 0 {
		return "", 0, fmt.Errorf("video lookup returned code %d", view.Code)
	}

	var play playURLResponse
	playURL := fmt.Sprintf("%s/x/player/playurl?bvid=%s&cid=%d&fnval=16", c.baseURL, videoID, view.Data.CID)
	if err := c.get(ctx, playURL, &play); err != nil {
		return "", 0, fmt.Errorf("playurl lookup failed: %w", err)
	}
	if play.Code != 0 || len(play.Data.Dash.Audio) == 0 {
		return "", 0, fmt.Errorf("no audio stream available for %s", videoID)
	}
	audioURL := play.Data.Dash.Audio[0].BaseURL

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, audioURL, nil)
	if err != nil {
		return "", 0, err
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Referer", referer)

	// Audio streams can be large; do not apply the short API timeout.
	resp, err := (&http.Client{}).Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("audio request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return "", 0, fmt.Errorf("audio request returned status %d", resp.StatusCode)
	}

	path := filepath.Join(destDir, videoID+".m4a")
	f, err := os.Create(path)
	if err != nil {
		return "", 0, fmt.Errorf("failed to create audio file: %w", err)
	}

	err = copyWithProgress(f, resp.Body, resp.ContentLength, progress)
	closeErr := f.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(path)
		return "", 0, fmt.Errorf("audio download failed: %w", err)
	}

	return path, float64(view.Data.Duration), nil
}

func copyWithProgress(dst io.Writer, src io.Reader, total int64, progress pipeline.DownloadProgressFunc) error {
	buf := make([]byte, 64*1024)
	var copied int64
	for {
		n, readErr := src.Read(buf)
		if n > 0 {
			if _, writeErr := dst.Write(buf[:n]); writeErr != nil {
				return writeErr
			}
			copied += int64(n)
			if progress != nil && total > 0 {
				progress(float64(copied) / float64(total) * 100)
			}
		}
		if readErr == io.EOF {
			if progress != nil {
				progress(100)
			}
			return nil
		}
		if readErr != nil {
			return readErr
		}
	}
}
