package reel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// newTestServer creates a Server backed by a temporary data directory and an
// in-memory chunk engine, wrapped in an httptest server.
func newTestServer(t *testing.T, engine ChunkEngine) (*Server, *httptest.Server) {
	t.Helper()

	if engine == nil {
		engine = newMemoryChunkEngine()
	}

	srv, err := NewServer(context.Background(), Config{DataDir: t.TempDir(), Engine: engine})
	require.NoError(t, err, "NewServer error")

	httpSrv := httptest.NewServer(srv.Handler())
	t.Cleanup(func() { _ = srv.Close() })
	t.Cleanup(httpSrv.Close)

	return srv, httpSrv
}

// multipartBody builds a multipart form with the given fields. A nil content
// slice omits the video part entirely.
func multipartBody(t *testing.T, title string, filename string, content []byte) (*bytes.Buffer, string) {
	t.Helper()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	if title != "" {
		require.NoError(t, mw.WriteField("title", title), "writing title field")
	}
	if content != nil {
		fw, err := mw.CreateFormFile("video", filename)
		require.NoError(t, err, "creating video part")
		_, err = fw.Write(content)
		require.NoError(t, err, "writing video part")
	}

	require.NoError(t, mw.Close(), "finalizing multipart body")
	return &body, mw.FormDataContentType()
}

func doUpload(t *testing.T, httpSrv *httptest.Server, title string, filename string, content []byte) *http.Response {
	t.Helper()

	body, contentType := multipartBody(t, title, filename, content)
	resp, err := httpSrv.Client().Post(httpSrv.URL+"/upload", contentType, body)
	require.NoError(t, err, "POST /upload error")
	return resp
}

func uploadOK(t *testing.T, httpSrv *httptest.Server, title string, filename string, content []byte) string {
	t.Helper()

	resp := doUpload(t, httpSrv, title, filename, content)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode, "upload status")

	var out UploadResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out), "decoding upload response")
	require.NotEmpty(t, out.FileID, "upload returns a file id")
	return out.FileID
}

func rangeGet(t *testing.T, httpSrv *httptest.Server, id string, rangeHeader string) *http.Response {
	t.Helper()

	req, err := http.NewRequest(http.MethodGet, httpSrv.URL+"/video/"+id, nil)
	require.NoError(t, err, "creating GET request")
	if rangeHeader != "" {
		req.Header.Set("Range", rangeHeader)
	}

	resp, err := httpSrv.Client().Do(req)
	require.NoError(t, err, "GET /video/{id} error")
	return resp
}

func TestUploadListAndStream(t *testing.T) {
	t.Parallel()

	_, httpSrv := newTestServer(t, nil)

	payload := randomBytes(t, 2_500_000)
	id := uploadOK(t, httpSrv, "My clip", "clip.mp4", payload)

	// List shows the new blob.
	resp, err := httpSrv.Client().Get(httpSrv.URL + "/videos")
	require.NoError(t, err, "GET /videos error")
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode, "list status")

	var videos []VideoSummary
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&videos), "decoding video list")
	require.Len(t, videos, 1, "one video listed")
	require.Equal(t, id, videos[0].ID, "listed id")
	require.Equal(t, "My clip", videos[0].Title, "listed title")
	require.Equal(t, "clip.mp4", videos[0].Filename, "listed filename")
	require.Equal(t, int64(len(payload)), videos[0].Length, "listed length")
	require.Equal(t, "/video/"+id, videos[0].VideoURL, "listed URL")

	// The reference scenario: a window starting mid chunk 0 spans into
	// chunk 1 and is capped at exactly one window.
	streamResp := rangeGet(t, httpSrv, id, "bytes=1000000-")
	defer streamResp.Body.Close()
	require.Equal(t, http.StatusPartialContent, streamResp.StatusCode, "stream status")
	require.Equal(t, "bytes 1000000-1999999/2500000", streamResp.Header.Get("Content-Range"), "Content-Range")
	require.Equal(t, "bytes", streamResp.Header.Get("Accept-Ranges"), "Accept-Ranges")
	require.Equal(t, "1000000", streamResp.Header.Get("Content-Length"), "Content-Length")
	require.Equal(t, "video/mp4", streamResp.Header.Get("Content-Type"), "Content-Type")

	got, err := io.ReadAll(streamResp.Body)
	require.NoError(t, err, "reading stream body")
	require.Equal(t, payload[1_000_000:2_000_000], got, "window bytes")
}

func TestStreamSuccessiveWindowsReassembleBlob(t *testing.T) {
	t.Parallel()

	_, httpSrv := newTestServer(t, nil)

	payload := randomBytes(t, 2_345_678)
	id := uploadOK(t, httpSrv, "Windows", "w.mp4", payload)

	var assembled bytes.Buffer
	for offset := int64(0); offset < int64(len(payload)); {
		resp := rangeGet(t, httpSrv, id, fmt.Sprintf("bytes=%d-", offset))
		require.Equal(t, http.StatusPartialContent, resp.StatusCode, "window status")

		n, err := io.Copy(&assembled, resp.Body)
		resp.Body.Close()
		require.NoError(t, err, "reading window")
		require.LessOrEqual(t, n, int64(MaxWindowBytes), "window never exceeds the cap")
		offset += n
	}

	require.Equal(t, payload, assembled.Bytes(), "windows reassemble the original bytes")
}

func TestUploadValidation(t *testing.T) {
	t.Parallel()

	engine := newMemoryChunkEngine()
	_, httpSrv := newTestServer(t, engine)

	t.Run("missing title", func(t *testing.T) {
		resp := doUpload(t, httpSrv, "", "clip.mp4", randomBytes(t, 5000))
		defer resp.Body.Close()
		require.Equal(t, http.StatusBadRequest, resp.StatusCode, "status")

		var body ErrorResponse
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body), "decoding error body")
		require.Contains(t, body.Error, "title", "error names the missing field")
	})

	t.Run("missing file", func(t *testing.T) {
		resp := doUpload(t, httpSrv, "No file", "", nil)
		defer resp.Body.Close()
		require.Equal(t, http.StatusBadRequest, resp.StatusCode, "status")
	})

	t.Run("not multipart", func(t *testing.T) {
		resp, err := httpSrv.Client().Post(httpSrv.URL+"/upload", "application/json", strings.NewReader("{}"))
		require.NoError(t, err, "POST error")
		defer resp.Body.Close()
		require.Equal(t, http.StatusBadRequest, resp.StatusCode, "status")
	})

	// No record became visible and no chunk survived any failed upload.
	resp, err := httpSrv.Client().Get(httpSrv.URL + "/videos")
	require.NoError(t, err, "GET /videos error")
	defer resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode, "empty collection is a 404")
	require.Empty(t, engine.keys(), "no orphan chunks left behind")
}

func TestUploadAtomicityUnderEngineFailure(t *testing.T) {
	t.Parallel()

	engine := &failingChunkEngine{memoryChunkEngine: newMemoryChunkEngine(), failAfter: 1}
	_, httpSrv := newTestServer(t, engine)

	resp := doUpload(t, httpSrv, "Doomed", "clip.mp4", randomBytes(t, 3_000_000))
	defer resp.Body.Close()
	require.Equal(t, http.StatusInternalServerError, resp.StatusCode, "storage failure surfaces as 500")

	// The partially written chunk never becomes visible anywhere.
	listResp, err := httpSrv.Client().Get(httpSrv.URL + "/videos")
	require.NoError(t, err, "GET /videos error")
	defer listResp.Body.Close()
	require.Equal(t, http.StatusNotFound, listResp.StatusCode, "no record committed")
	require.Empty(t, engine.keys(), "partial chunks reclaimed")
}

func TestStreamErrors(t *testing.T) {
	t.Parallel()

	_, httpSrv := newTestServer(t, nil)
	id := uploadOK(t, httpSrv, "Clip", "clip.mp4", randomBytes(t, 10_000))

	t.Run("missing range header", func(t *testing.T) {
		resp := rangeGet(t, httpSrv, id, "")
		defer resp.Body.Close()
		require.Equal(t, http.StatusBadRequest, resp.StatusCode, "full-content GET is rejected")
	})

	t.Run("unknown id", func(t *testing.T) {
		resp := rangeGet(t, httpSrv, "does-not-exist", "bytes=0-")
		defer resp.Body.Close()
		require.Equal(t, http.StatusNotFound, resp.StatusCode, "unknown id")
	})

	t.Run("out of bounds start", func(t *testing.T) {
		resp := rangeGet(t, httpSrv, id, "bytes=10000-")
		defer resp.Body.Close()
		require.Equal(t, http.StatusRequestedRangeNotSatisfiable, resp.StatusCode, "start at length")
		require.Equal(t, "bytes */10000", resp.Header.Get("Content-Range"), "unsatisfiable Content-Range")
	})
}

func doPut(t *testing.T, httpSrv *httptest.Server, id string, title string, content []byte) *http.Response {
	t.Helper()

	body, contentType := multipartBody(t, title, "replacement.mp4", content)
	req, err := http.NewRequest(http.MethodPut, httpSrv.URL+"/video/"+id, body)
	require.NoError(t, err, "creating PUT request")
	req.Header.Set("Content-Type", contentType)

	resp, err := httpSrv.Client().Do(req)
	require.NoError(t, err, "PUT /video/{id} error")
	return resp
}

func TestUpdateTitleOnly(t *testing.T) {
	t.Parallel()

	srv, httpSrv := newTestServer(t, nil)
	payload := randomBytes(t, 10_000)
	id := uploadOK(t, httpSrv, "Before", "clip.mp4", payload)

	resp := doPut(t, httpSrv, id, "After", nil)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode, "update status")

	rec, err := srv.Store().Get(context.Background(), id)
	require.NoError(t, err, "Get error")
	require.Equal(t, "After", rec.Title, "title updated")
	require.Equal(t, int64(len(payload)), rec.Length, "content untouched")

	// The bytes still stream unchanged.
	streamResp := rangeGet(t, httpSrv, id, "bytes=0-")
	defer streamResp.Body.Close()
	got, err := io.ReadAll(streamResp.Body)
	require.NoError(t, err, "reading stream body")
	require.Equal(t, payload, got, "chunk data untouched by a title update")
}

func TestReplaceContentKeepsID(t *testing.T) {
	t.Parallel()

	srv, httpSrv := newTestServer(t, nil)
	id := uploadOK(t, httpSrv, "Original title", "old.mp4", randomBytes(t, 10_000))

	replacement := randomBytes(t, 20_000)
	resp := doPut(t, httpSrv, id, "", replacement)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode, "replace status")

	var out UploadResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out), "decoding replace response")
	require.Equal(t, id, out.FileID, "blob keeps its id across a content replace")

	rec, err := srv.Store().Get(context.Background(), id)
	require.NoError(t, err, "Get error")
	require.Equal(t, "Original title", rec.Title, "prior title preserved when none supplied")
	require.Equal(t, int64(len(replacement)), rec.Length, "new length")
	require.Equal(t, "replacement.mp4", rec.Filename, "new filename")

	streamResp := rangeGet(t, httpSrv, id, "bytes=0-")
	defer streamResp.Body.Close()
	got, err := io.ReadAll(streamResp.Body)
	require.NoError(t, err, "reading stream body")
	require.Equal(t, replacement, got, "new content served under the old id")
}

func TestReplaceContentAndTitleTogether(t *testing.T) {
	t.Parallel()

	srv, httpSrv := newTestServer(t, nil)
	id := uploadOK(t, httpSrv, "Old", "old.mp4", randomBytes(t, 5_000))

	resp := doPut(t, httpSrv, id, "New", randomBytes(t, 6_000))
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode, "replace status")

	rec, err := srv.Store().Get(context.Background(), id)
	require.NoError(t, err, "Get error")
	require.Equal(t, "New", rec.Title, "supplied title wins")
	require.Equal(t, int64(6_000), rec.Length, "content replaced")
}

func TestReplaceReclaimsOldChunks(t *testing.T) {
	t.Parallel()

	engine := newMemoryChunkEngine()
	_, httpSrv := newTestServer(t, engine)

	id := uploadOK(t, httpSrv, "Clip", "clip.mp4", randomBytes(t, 3_000_000))
	require.Len(t, engine.keys(), 3, "three chunks before replace")

	resp := doPut(t, httpSrv, id, "", randomBytes(t, 1_500_000))
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode, "replace status")

	require.Len(t, engine.keys(), 2, "old generation reclaimed, only the new chunks remain")
}

func TestUpdateErrors(t *testing.T) {
	t.Parallel()

	_, httpSrv := newTestServer(t, nil)
	id := uploadOK(t, httpSrv, "Clip", "clip.mp4", randomBytes(t, 1_000))

	t.Run("unknown id", func(t *testing.T) {
		resp := doPut(t, httpSrv, "does-not-exist", "New", nil)
		defer resp.Body.Close()
		require.Equal(t, http.StatusNotFound, resp.StatusCode, "unknown id")
	})

	t.Run("nothing to update", func(t *testing.T) {
		resp := doPut(t, httpSrv, id, "", nil)
		defer resp.Body.Close()
		require.Equal(t, http.StatusBadRequest, resp.StatusCode, "empty update rejected")
	})
}

func TestDeleteThenRead(t *testing.T) {
	t.Parallel()

	engine := newMemoryChunkEngine()
	srv, httpSrv := newTestServer(t, engine)
	id := uploadOK(t, httpSrv, "Clip", "clip.mp4", randomBytes(t, 10_000))

	req, err := http.NewRequest(http.MethodDelete, httpSrv.URL+"/video/"+id, nil)
	require.NoError(t, err, "creating DELETE request")
	resp, err := httpSrv.Client().Do(req)
	require.NoError(t, err, "DELETE error")
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode, "delete status")

	_, err = srv.Store().Get(context.Background(), id)
	require.ErrorIs(t, err, ErrNotFound, "record gone")

	streamResp := rangeGet(t, httpSrv, id, "bytes=0-")
	defer streamResp.Body.Close()
	require.Equal(t, http.StatusNotFound, streamResp.StatusCode, "range GET after delete")

	require.Empty(t, engine.keys(), "chunks reclaimed with the record")

	// Deleting again is a 404.
	resp2, err := httpSrv.Client().Do(req.Clone(context.Background()))
	require.NoError(t, err, "second DELETE error")
	defer resp2.Body.Close()
	require.Equal(t, http.StatusNotFound, resp2.StatusCode, "second delete status")
}

func TestHomeAndHealth(t *testing.T) {
	t.Parallel()

	_, httpSrv := newTestServer(t, nil)
	uploadOK(t, httpSrv, "Front page clip", "clip.mp4", randomBytes(t, 1_000))

	resp, err := httpSrv.Client().Get(httpSrv.URL + "/")
	require.NoError(t, err, "GET / error")
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode, "home status")
	require.Contains(t, resp.Header.Get("Content-Type"), "text/html", "home content type")

	page, err := io.ReadAll(resp.Body)
	require.NoError(t, err, "reading home page")
	require.Contains(t, string(page), "Front page clip", "library page lists the clip")

	healthResp, err := httpSrv.Client().Get(httpSrv.URL + "/healthz")
	require.NoError(t, err, "GET /healthz error")
	defer healthResp.Body.Close()
	require.Equal(t, http.StatusOK, healthResp.StatusCode, "health status")
}
