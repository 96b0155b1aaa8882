package media

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/disintegration/imaging"
)

type fakeBlobStore struct {
	uploadedPath string
	uploadedData []byte
	err          error
}

func (f *fakeBlobStore) Upload(_ context.Context, bucket, path string, data []byte, mimeType string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.uploadedPath = path
	f.uploadedData = data
	return "https://blob.example/" + bucket + "/" + path, nil
}

type fakeTranscriber struct {
	text string
	err  error
}

func (f *fakeTranscriber) Transcribe(context.Context, []byte, string) (string, error) {
	return f.text, f.err
}

type fakeVision struct {
	desc string
	err  error
}

func (f *fakeVision) AnalyzeImage(context.Context, []byte, string) (string, error) {
	return f.desc, f.err
}

func TestDownloadSucceeds(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "audio/ogg")
		w.Write([]byte("fake-audio-bytes"))
	}))
	defer srv.Close()

	p := New(&fakeBlobStore{}, nil, nil)
	dl, err := p.Download(context.Background(), srv.URL, nil)
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if string(dl.Data) != "fake-audio-bytes" || dl.MimeType != "audio/ogg" {
		t.Errorf("unexpected download result %+v", dl)
	}
}

func TestDownloadRetriesThenFails(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	p := New(&fakeBlobStore{}, nil, nil)
	_, err := p.Download(context.Background(), srv.URL, nil)
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if attempts != downloadMaxRetries {
		t.Errorf("expected %d attempts, got %d", downloadMaxRetries, attempts)
	}
}

func TestUploadDelegatesToBlobStore(t *testing.T) {
	blobs := &fakeBlobStore{}
	p := New(blobs, nil, nil)

	url, err := p.Upload(context.Background(), "tenant-bucket", "contacts/1/photo.jpg", []byte("data"), "image/jpeg")
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if url != "https://blob.example/tenant-bucket/contacts/1/photo.jpg" {
		t.Errorf("unexpected url %q", url)
	}
	if string(blobs.uploadedData) != "data" {
		t.Errorf("unexpected uploaded data %q", blobs.uploadedData)
	}
}

func TestUploadWrapsBlobStoreError(t *testing.T) {
	p := New(&fakeBlobStore{err: errors.New("boom")}, nil, nil)
	if _, err := p.Upload(context.Background(), "b", "p", nil, "image/jpeg"); err == nil {
		t.Error("expected wrapped error")
	}
}

func TestTranscribeRequiresProvider(t *testing.T) {
	p := New(&fakeBlobStore{}, nil, nil)
	if _, err := p.Transcribe(context.Background(), []byte("x"), "audio/ogg"); err == nil {
		t.Error("expected error with no transcription provider configured")
	}
}

func TestTranscribeDelegates(t *testing.T) {
	p := New(&fakeBlobStore{}, &fakeTranscriber{text: "hello world"}, nil)
	got, err := p.Transcribe(context.Background(), []byte("x"), "audio/ogg")
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if got != "hello world" {
		t.Errorf("unexpected transcript %q", got)
	}
}

func TestAnalyzeImageRequiresProvider(t *testing.T) {
	p := New(&fakeBlobStore{}, nil, nil)
	if _, err := p.AnalyzeImage(context.Background(), testJPEG(t, 10, 10), "image/jpeg"); err == nil {
		t.Error("expected error with no vision provider configured")
	}
}

func TestAnalyzeImageNormalizesThenDelegates(t *testing.T) {
	p := New(&fakeBlobStore{}, nil, &fakeVision{desc: "a red square"})
	got, err := p.AnalyzeImage(context.Background(), testJPEG(t, 3000, 10), "image/jpeg")
	if err != nil {
		t.Fatalf("AnalyzeImage: %v", err)
	}
	if got != "a red square" {
		t.Errorf("unexpected description %q", got)
	}
}

func TestNormalizeImageDownscalesOversized(t *testing.T) {
	data, mimeType, err := NormalizeImage(testJPEG(t, 3000, 100), "image/jpeg")
	if err != nil {
		t.Fatalf("NormalizeImage: %v", err)
	}
	if mimeType != "image/jpeg" {
		t.Errorf("unexpected mime type %q", mimeType)
	}
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decode normalized image: %v", err)
	}
	if img.Bounds().Dx() > maxImageDimension {
		t.Errorf("expected width <= %d, got %d", maxImageDimension, img.Bounds().Dx())
	}
}

func TestNormalizeImageRejectsGarbage(t *testing.T) {
	if _, _, err := NormalizeImage([]byte("not an image"), "image/jpeg"); err == nil {
		t.Error("expected decode error for non-image bytes")
	}
}

func testJPEG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: 200, G: 20, B: 20, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatalf("encode test jpeg: %v", err)
	}
	return buf.Bytes()
}
