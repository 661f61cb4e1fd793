package reel

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	_ "github.com/mattn/go-sqlite3"

	"reel/internal/ui"
)

//go:embed migrations
var migrationsFS embed.FS

// DefaultContentType is the media type served back for stored blobs when the
// upload did not declare one.
const DefaultContentType = "video/mp4"

// maxTitleBytes bounds the title form field.
const maxTitleBytes = 4096

type Config struct {
	// DataDir holds the metadata database and, for the local engine, the
	// chunk payloads.
	DataDir string

	// ChunkSize is the fixed chunk size applied to uploads. Defaults to
	// DefaultChunkSize.
	ChunkSize int64

	// Engine persists chunk payloads. Defaults to a LocalChunkStorage
	// under DataDir.
	Engine ChunkEngine
}

// Server exposes the chunked blob store over HTTP: streaming multipart
// ingest, window-capped range reads, title updates, content replace, and
// delete.
type Server struct {
	cfg   Config
	db    *sql.DB
	store *RecordStore
}

// initSchema initializes the metadata database schema by applying all
// SQL files in the embedded migrations in lexicographical order.
func initSchema(ctx context.Context, db *sql.DB) error {
	return fs.WalkDir(migrationsFS, "migrations", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}

		content, readError := migrationsFS.ReadFile(path)
		if readError != nil {
			return fmt.Errorf("error reading SQL file: %w", readError)
		}

		slog.Info("Running migration", "path", path)
		_, execError := db.ExecContext(ctx, string(content))
		return execError
	})
}

// NewServer initializes the metadata database and returns a new Server. The
// chunk engine handle is constructed here (or injected through cfg) and held
// by the server for its whole lifetime; no request ever observes a
// not-yet-connected store.
func NewServer(ctx context.Context, cfg Config) (*Server, error) {
	if cfg.DataDir == "" {
		return nil, errors.New("DataDir must not be empty")
	}

	if cfg.ChunkSize == 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if cfg.ChunkSize < 0 {
		return nil, fmt.Errorf("invalid chunk size %d", cfg.ChunkSize)
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	dbPath := path.Join(cfg.DataDir, "metadata.sqlite")

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	if err := initSchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	if cfg.Engine == nil {
		cfg.Engine = NewLocalChunkStorage(path.Join(cfg.DataDir, "chunks"))
	}

	return &Server{cfg: cfg, db: db, store: NewRecordStore(db)}, nil
}

// Close closes any resources held by the Server.
func (s *Server) Close() error {
	return s.db.Close()
}

// Store exposes the blob record store, mainly for tests and tooling.
func (s *Server) Store() *RecordStore {
	return s.store
}

// Handler returns the HTTP handler for the service API and the library page.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/", s.handleHome).Methods(http.MethodGet)
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/upload", s.handleUpload).Methods(http.MethodPost)
	r.HandleFunc("/videos", s.handleListVideos).Methods(http.MethodGet)
	r.HandleFunc("/video/{id}", s.handleStreamVideo).Methods(http.MethodGet)
	r.HandleFunc("/video/{id}", s.handleUpdateVideo).Methods(http.MethodPut)
	r.HandleFunc("/video/{id}", s.handleDeleteVideo).Methods(http.MethodDelete)

	var handler http.Handler = r
	handler = SlashFix(handler)
	handler = LogRequest(handler)
	handler = Recoverer(handler)
	return handler
}

// uploadResult is what consuming one multipart request produced. refs are
// valid even on error so the caller can reclaim already-written chunks.
type uploadResult struct {
	title       string
	filename    string
	contentType string
	refs        []ChunkRef
	length      int64
	hasFile     bool
}

// consumeUpload reads the request's multipart stream in part order, chunking
// the video part through the chunk engine as it arrives under the given
// generation prefix. Nothing is buffered beyond one chunk.
func (s *Server) consumeUpload(ctx context.Context, r *http.Request, prefix string) (uploadResult, error) {
	var res uploadResult

	mr, err := r.MultipartReader()
	if err != nil {
		return res, validationErrorf("expected multipart form data: %v", err)
	}

	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return res, validationErrorf("read multipart form: %v", err)
		}

		switch part.FormName() {
		case "title":
			value, readErr := io.ReadAll(io.LimitReader(part, maxTitleBytes))
			if readErr != nil {
				_ = part.Close()
				return res, fmt.Errorf("read title field: %w", readErr)
			}
			res.title = strings.TrimSpace(string(value))

		case "video":
			if res.hasFile {
				_ = part.Close()
				return res, validationErrorf("more than one video part")
			}
			res.hasFile = true
			res.filename = part.FileName()
			res.contentType = part.Header.Get("Content-Type")
			if res.contentType == "" || res.contentType == "application/octet-stream" {
				res.contentType = DefaultContentType
			}

			refs, total, writeErr := writeChunks(ctx, s.cfg.Engine, prefix, part, s.cfg.ChunkSize)
			res.refs = refs
			res.length = total
			if writeErr != nil {
				_ = part.Close()
				return res, writeErr
			}
		}
		_ = part.Close()
	}

	return res, nil
}

// discardChunks best-effort deletes chunks that will never be referenced by
// a committed record. Failures only log; the chunks are invisible orphans
// either way.
func (s *Server) discardChunks(refs []ChunkRef) {
	if len(refs) == 0 {
		return
	}

	// Detached from the request context so cleanup survives a client
	// disconnect.
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for _, ref := range refs {
		if err := s.cfg.Engine.DeleteChunk(ctx, ref.Key); err != nil {
			slog.Warn("Orphan chunk cleanup", "key", ref.Key, "err", err)
		}
	}
}

// handleUpload implements POST /upload: stream the multipart video part into
// chunks, then commit the blob record. The commit is the single point where
// the upload becomes visible; every failure path before it leaves at most
// orphaned chunks.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	blobID := uuid.NewString()

	res, err := s.consumeUpload(r.Context(), r, blobID)
	if err != nil {
		s.discardChunks(res.refs)

		var vErr *ValidationError
		if errors.As(err, &vErr) {
			writeError(w, http.StatusBadRequest, vErr.Error(), "")
			return
		}
		slog.Error("Upload ingest", "blob", blobID, "err", err)
		writeError(w, http.StatusInternalServerError, "upload failed", "")
		return
	}

	if !res.hasFile {
		writeError(w, http.StatusBadRequest, "video file is required", "")
		return
	}
	if res.title == "" {
		s.discardChunks(res.refs)
		writeError(w, http.StatusBadRequest, "title is required", "")
		return
	}

	rec := BlobRecord{
		ID:          blobID,
		Filename:    res.filename,
		Title:       res.title,
		Length:      res.length,
		ContentType: res.contentType,
		ChunkSize:   s.cfg.ChunkSize,
		CreatedAt:   time.Now().UTC(),
		Chunks:      res.refs,
	}
	if err := s.store.Create(r.Context(), rec); err != nil {
		s.discardChunks(res.refs)
		slog.Error("Commit blob record", "blob", blobID, "err", err)
		writeError(w, http.StatusInternalServerError, "could not commit upload", "")
		return
	}

	writeJSON(w, http.StatusOK, UploadResponse{Message: "File uploaded successfully", FileID: blobID})
}

// handleListVideos implements GET /videos. An empty collection is a 404 by
// contract; a store failure is a 500.
func (s *Server) handleListVideos(w http.ResponseWriter, r *http.Request) {
	records, err := s.store.List(r.Context())
	if err != nil {
		slog.Error("List blob records", "err", err)
		writeError(w, http.StatusInternalServerError, "could not list videos", "")
		return
	}

	if len(records) == 0 {
		writeError(w, http.StatusNotFound, "no videos found", "")
		return
	}

	summaries := make([]VideoSummary, 0, len(records))
	for _, rec := range records {
		summaries = append(summaries, VideoSummary{
			ID:          rec.ID,
			Filename:    rec.Filename,
			Title:       rec.Title,
			Length:      rec.Length,
			ContentType: rec.ContentType,
			UploadDate:  rec.CreatedAt,
			VideoURL:    "/video/" + rec.ID,
		})
	}

	writeJSON(w, http.StatusOK, summaries)
}

// handleStreamVideo implements GET /video/{id}: resolve the mandatory Range
// header against the blob length, then stream exactly the overlapping chunks.
// Bytes start flowing before the whole window has been fetched, and the
// request context cancels remaining chunk fetches if the client goes away.
func (s *Server) handleStreamVideo(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	rec, err := s.store.Get(r.Context(), id)
	if errors.Is(err, ErrNotFound) {
		writeError(w, http.StatusNotFound, "video not found", "")
		return
	}
	if err != nil {
		slog.Error("Lookup blob record", "blob", id, "err", err)
		writeError(w, http.StatusInternalServerError, "could not look up video", "")
		return
	}

	rng, err := ResolveRange(r.Header.Get("Range"), rec.Length)
	if errors.Is(err, ErrMissingRange) {
		writeError(w, http.StatusBadRequest, "range header is required", "")
		return
	}
	if errors.Is(err, ErrUnsatisfiableRange) {
		w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", rec.Length))
		writeError(w, http.StatusRequestedRangeNotSatisfiable, "range start outside video bounds", "")
		return
	}
	if err != nil {
		slog.Error("Resolve range", "blob", id, "err", err)
		writeError(w, http.StatusInternalServerError, "could not resolve range", "")
		return
	}

	w.Header().Set("Content-Range", rng.ContentRange())
	w.Header().Set("Accept-Ranges", "bytes")
	w.Header().Set("Content-Length", strconv.FormatInt(rng.ContentLength(), 10))
	w.Header().Set("Content-Type", rec.ContentType)
	w.WriteHeader(http.StatusPartialContent)

	reader := newRangeReader(r.Context(), s.cfg.Engine, rec.Chunks, rec.ChunkSize, rng.Start, rng.End)
	if _, err := io.Copy(w, reader); err != nil {
		// Headers are gone; all we can do is log. A vanished chunk here is
		// the documented replace/delete race.
		slog.Error("Stream range", "blob", id, "range", rng.ContentRange(), "err", err)
	}
}

// handleUpdateVideo implements PUT /video/{id}: a new title updates metadata
// in place; a new video part replaces the content. Replace keeps the blob id
// stable but is not atomic: between the delete of the old generation and the
// commit of the new one, readers see the blob as absent and an in-flight
// download of the old generation can fail mid-stream.
func (s *Server) handleUpdateVideo(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	rec, err := s.store.Get(r.Context(), id)
	if errors.Is(err, ErrNotFound) {
		writeError(w, http.StatusNotFound, "video not found", "")
		return
	}
	if err != nil {
		slog.Error("Lookup blob record", "blob", id, "err", err)
		writeError(w, http.StatusInternalServerError, "could not look up video", "")
		return
	}

	// New content gets a fresh generation prefix so its chunk keys never
	// collide with the generation being replaced.
	res, err := s.consumeUpload(r.Context(), r, uuid.NewString())
	if err != nil {
		s.discardChunks(res.refs)

		var vErr *ValidationError
		if errors.As(err, &vErr) {
			writeError(w, http.StatusBadRequest, vErr.Error(), "")
			return
		}
		slog.Error("Replace ingest", "blob", id, "err", err)
		writeError(w, http.StatusInternalServerError, "update failed", err.Error())
		return
	}

	switch {
	case res.hasFile:
		oldRefs, err := s.store.Delete(r.Context(), id)
		if err != nil && !errors.Is(err, ErrNotFound) {
			s.discardChunks(res.refs)
			slog.Error("Delete old generation", "blob", id, "err", err)
			writeError(w, http.StatusInternalServerError, "update failed", err.Error())
			return
		}

		// Title wins over the replaced content's old title when both were
		// supplied; otherwise the prior title carries over.
		title := rec.Title
		if res.title != "" {
			title = res.title
		}

		newRec := BlobRecord{
			ID:          id,
			Filename:    res.filename,
			Title:       title,
			Length:      res.length,
			ContentType: res.contentType,
			ChunkSize:   s.cfg.ChunkSize,
			CreatedAt:   time.Now().UTC(),
			Chunks:      res.refs,
		}
		if err := s.store.Create(r.Context(), newRec); err != nil {
			s.discardChunks(res.refs)
			slog.Error("Commit replacement record", "blob", id, "err", err)
			writeError(w, http.StatusInternalServerError, "update failed", err.Error())
			return
		}

		s.discardChunks(oldRefs)

	case res.title != "":
		if err := s.store.UpdateTitle(r.Context(), id, res.title); err != nil {
			if errors.Is(err, ErrNotFound) {
				writeError(w, http.StatusNotFound, "video not found", "")
				return
			}
			slog.Error("Update title", "blob", id, "err", err)
			writeError(w, http.StatusInternalServerError, "update failed", err.Error())
			return
		}

	default:
		writeError(w, http.StatusBadRequest, "nothing to update: supply a title and/or a video file", "")
		return
	}

	writeJSON(w, http.StatusOK, UploadResponse{Message: "Video updated successfully", FileID: id})
}

// handleDeleteVideo implements DELETE /video/{id}: the record and its chunk
// references go in one transaction, then the payloads are reclaimed.
func (s *Server) handleDeleteVideo(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	refs, err := s.store.Delete(r.Context(), id)
	if errors.Is(err, ErrNotFound) {
		writeError(w, http.StatusNotFound, "video not found", "")
		return
	}
	if err != nil {
		slog.Error("Delete blob record", "blob", id, "err", err)
		writeError(w, http.StatusInternalServerError, "could not delete video", "")
		return
	}

	s.discardChunks(refs)

	writeJSON(w, http.StatusOK, MessageResponse{Message: "Video deleted successfully"})
}

// handleHome implements GET /: a minimal library page with a player per blob.
func (s *Server) handleHome(w http.ResponseWriter, r *http.Request) {
	records, err := s.store.List(r.Context())
	if err != nil {
		slog.Error("List blob records for home page", "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	videos := make([]ui.Video, 0, len(records))
	for _, rec := range records {
		videos = append(videos, ui.Video{
			ID:         rec.ID,
			Title:      rec.Title,
			Filename:   rec.Filename,
			Length:     rec.Length,
			UploadDate: rec.CreatedAt.UTC().Format(time.RFC3339),
		})
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := ui.LibraryPage(videos).Render(r.Context(), w); err != nil {
		slog.Error("Render library page", "err", err)
	}
}

// handleHealth implements GET /healthz.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.db.PingContext(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "metadata store unreachable", "")
		return
	}
	writeJSON(w, http.StatusOK, MessageResponse{Message: "ok"})
}
