// Command example exercises a running reel server end to end: it uploads a
// generated clip, lists the library, then downloads the clip back with
// successive window-sized range requests the way a well-behaved client is
// expected to.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"mime/multipart"
	"net/http"
	"os"
	"time"

	"github.com/charmbracelet/log"
)

// getenv returns the value of the environment variable named by key or
// fallback if the variable is not present.
func getenv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

const (
	clipName  = "example-clip.mp4"
	clipTitle = "Example clip"
	clipSize  = 2_500_000
)

type uploadResponse struct {
	Message string `json:"message"`
	FileID  string `json:"fileId"`
}

type videoSummary struct {
	ID       string `json:"_id"`
	Title    string `json:"title"`
	Filename string `json:"filename"`
	Length   int64  `json:"length"`
	VideoURL string `json:"videoUrl"`
}

// upload sends content as a multipart POST /upload and returns the new id.
func upload(ctx context.Context, client *http.Client, baseURL string, content []byte) (string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	if err := mw.WriteField("title", clipTitle); err != nil {
		return "", fmt.Errorf("failed to write title field: %w", err)
	}

	fw, err := mw.CreateFormFile("video", clipName)
	if err != nil {
		return "", fmt.Errorf("failed to create video part: %w", err)
	}
	if _, err := fw.Write(content); err != nil {
		return "", fmt.Errorf("failed to write video part: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("failed to finalize multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/upload", &body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("upload request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("upload returned status %d", resp.StatusCode)
	}

	var out uploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("failed to decode upload response: %w", err)
	}

	slog.Info("Uploaded clip", "id", out.FileID, "bytes", len(content))
	return out.FileID, nil
}

// listVideos prints the library contents.
func listVideos(ctx context.Context, client *http.Client, baseURL string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/videos", nil)
	if err != nil {
		return err
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("list request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("list returned status %d", resp.StatusCode)
	}

	var videos []videoSummary
	if err := json.NewDecoder(resp.Body).Decode(&videos); err != nil {
		return fmt.Errorf("failed to decode video list: %w", err)
	}

	for _, v := range videos {
		slog.Info("Video in library", "id", v.ID, "title", v.Title, "filename", v.Filename, "size", v.Length)
	}
	return nil
}

// download retrieves the full clip by issuing range requests until the
// server's serving window reaches the end of the blob.
func download(ctx context.Context, client *http.Client, baseURL string, id string, total int64) ([]byte, error) {
	var buf bytes.Buffer

	for offset := int64(0); offset < total; {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/video/"+id, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))

		resp, err := client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("range request at %d failed: %w", offset, err)
		}

		if resp.StatusCode != http.StatusPartialContent {
			resp.Body.Close()
			return nil, fmt.Errorf("range request at %d returned status %d", offset, resp.StatusCode)
		}

		n, err := io.Copy(&buf, resp.Body)
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to read window at %d: %w", offset, err)
		}

		slog.Info("Fetched window", "offset", offset, "bytes", n, "content_range", resp.Header.Get("Content-Range"))
		offset += n
	}

	return buf.Bytes(), nil
}

func run(ctx context.Context) error {
	baseURL := getenv("REEL_URL", "http://localhost:8080")
	client := &http.Client{Timeout: 2 * time.Minute}

	content := make([]byte, clipSize)
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	if _, err := rng.Read(content); err != nil {
		return fmt.Errorf("failed to generate clip content: %w", err)
	}

	id, err := upload(ctx, client, baseURL, content)
	if err != nil {
		return err
	}

	if err := listVideos(ctx, client, baseURL); err != nil {
		return err
	}

	got, err := download(ctx, client, baseURL, id, clipSize)
	if err != nil {
		return err
	}

	if !bytes.Equal(got, content) {
		return fmt.Errorf("downloaded clip differs from uploaded content (%d vs %d bytes)", len(got), len(content))
	}

	slog.Info("Round trip verified", "id", id, "bytes", len(got))
	return nil
}

func main() {
	slog.SetDefault(slog.New(log.NewWithOptions(os.Stdout, log.Options{
		Level:           log.InfoLevel,
		TimeFormat:      time.RFC3339,
		ReportTimestamp: true,
	})))

	if err := run(context.Background()); err != nil {
		slog.Error("Example failed", "error", err)
		os.Exit(1)
	}
}
