// Package media implements the Media Pipeline (spec.md §4's media
// normalization step and the MediaService contract in §6): download
// inbound media, normalize images before vision analysis, upload to
// blob storage, and delegate transcription/vision description to
// injectable providers. Concrete transcription/vision/LLM providers are
// out of scope (spec.md Non-goals) — only their interfaces live here.
// Grounded on the teacher's internal/agent/media.go (image MIME
// sniffing, size guards) and internal/channels/telegram/media.go
// (retrying HTTP download with a byte ceiling).
package media

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/disintegration/imaging"
)

// maxDownloadBytes bounds an inbound media download, mirroring the
// teacher's defaultMediaMaxBytes guard in telegram/media.go.
const maxDownloadBytes = 20 * 1024 * 1024

// downloadMaxRetries mirrors the teacher's retry count for transient
// download failures.
const downloadMaxRetries = 3

// maxImageDimension bounds the re-encoded image's longest side before
// it's handed to a vision provider or persisted to blob storage.
const maxImageDimension = 1568

// TranscriptionProvider turns inbound audio bytes into text. Concrete
// implementations (e.g. a speech-to-text API client) are out of scope
// here — only the interface, so the pipeline can be exercised against a
// test double.
type TranscriptionProvider interface {
	Transcribe(ctx context.Context, audio []byte, mimeType string) (string, error)
}

// VisionProvider describes an inbound image in natural language.
type VisionProvider interface {
	AnalyzeImage(ctx context.Context, image []byte, mimeType string) (string, error)
}

// BlobStore uploads processed media to the tenant's storage bucket and
// returns an addressable URL.
type BlobStore interface {
	Upload(ctx context.Context, bucket, path string, data []byte, mimeType string) (string, error)
}

// Downloaded is the result of fetching inbound media.
type Downloaded struct {
	Data     []byte
	MimeType string
}

// Pipeline implements the MediaService contract: download, upload,
// transcribe, analyzeImage.
type Pipeline struct {
	httpClient *http.Client
	blobs      BlobStore
	transcribe TranscriptionProvider
	vision     VisionProvider
}

func New(blobs BlobStore, transcribe TranscriptionProvider, vision VisionProvider) *Pipeline {
	return &Pipeline{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		blobs:      blobs,
		transcribe: transcribe,
		vision:     vision,
	}
}

// Download fetches a media URL with bounded retries, enforcing a byte
// ceiling (spec.md §6 MediaService.download).
func (p *Pipeline) Download(ctx context.Context, url string, headers map[string]string) (*Downloaded, error) {
	var lastErr error
	for attempt := 0; attempt < downloadMaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(attempt) * 200 * time.Millisecond):
			}
		}

		dl, err := p.downloadOnce(ctx, url, headers)
		if err == nil {
			return dl, nil
		}
		lastErr = err
		slog.Warn("media download attempt failed, retrying", "url", url, "attempt", attempt+1, "error", err)
	}
	return nil, fmt.Errorf("download media %s after %d attempts: %w", url, downloadMaxRetries, lastErr)
}

func (p *Pipeline) downloadOnce(ctx context.Context, url string, headers map[string]string) (*Downloaded, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build media download request: %w", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("media download rejected: status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxDownloadBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read media body: %w", err)
	}
	if len(data) > maxDownloadBytes {
		return nil, fmt.Errorf("media exceeds max size of %d bytes", maxDownloadBytes)
	}

	mimeType := resp.Header.Get("Content-Type")
	return &Downloaded{Data: data, MimeType: mimeType}, nil
}

// Upload stores bytes at path within the tenant's bucket.
func (p *Pipeline) Upload(ctx context.Context, bucket, path string, data []byte, mimeType string) (string, error) {
	url, err := p.blobs.Upload(ctx, bucket, path, data, mimeType)
	if err != nil {
		return "", fmt.Errorf("upload media to %s/%s: %w", bucket, path, err)
	}
	return url, nil
}

// Transcribe delegates to the configured TranscriptionProvider.
func (p *Pipeline) Transcribe(ctx context.Context, audio []byte, mimeType string) (string, error) {
	if p.transcribe == nil {
		return "", fmt.Errorf("no transcription provider configured")
	}
	text, err := p.transcribe.Transcribe(ctx, audio, mimeType)
	if err != nil {
		return "", fmt.Errorf("transcribe audio: %w", err)
	}
	return text, nil
}

// AnalyzeImage normalizes the image (re-orient, downscale) then
// delegates description to the configured VisionProvider.
func (p *Pipeline) AnalyzeImage(ctx context.Context, imgData []byte, mimeType string) (string, error) {
	if p.vision == nil {
		return "", fmt.Errorf("no vision provider configured")
	}
	normalized, normMime, err := NormalizeImage(imgData, mimeType)
	if err != nil {
		slog.Warn("image normalization failed, analyzing original bytes", "error", err)
		normalized, normMime = imgData, mimeType
	}
	desc, err := p.vision.AnalyzeImage(ctx, normalized, normMime)
	if err != nil {
		return "", fmt.Errorf("analyze image: %w", err)
	}
	return desc, nil
}

// NormalizeImage re-orients (EXIF-aware via imaging.Decode) and
// downscales an image to maxImageDimension on its longest side, always
// re-encoding as JPEG, before it reaches a vision provider or blob
// storage.
func NormalizeImage(data []byte, mimeType string) ([]byte, string, error) {
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, "", fmt.Errorf("decode image: %w", err)
	}

	bounds := img.Bounds()
	if bounds.Dx() > maxImageDimension || bounds.Dy() > maxImageDimension {
		img = imaging.Fit(img, maxImageDimension, maxImageDimension, imaging.Lanczos)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(85)); err != nil {
		return nil, "", fmt.Errorf("encode normalized image: %w", err)
	}
	return buf.Bytes(), "image/jpeg", nil
}
