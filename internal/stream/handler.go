package stream

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/Lemme-x/LiveStream/internal/platform/metrics"

	"github.com/go-chi/chi/v5"
)

const videoContentType = "video/mp4"

// Handler exposes the media-serving and upload HTTP endpoints using go-chi.
type Handler struct {
	store          ObjectStore
	log            *slog.Logger
	metrics        *metrics.Metrics
	maxUploadBytes int64
}

// NewHandler returns a Handler that serves objects from store.
// Metrics may be nil to disable metric recording (e.g. in tests).
func NewHandler(store ObjectStore, log *slog.Logger, m *metrics.Metrics, maxUploadBytes int64) *Handler {
	return &Handler{store: store, log: log, metrics: m, maxUploadBytes: maxUploadBytes}
}

// GetStream handles GET /stream/{object_id}. Without a Range header the full
// object is streamed with a 200; a valid Range yields a 206 with the exact
// byte window; an unsatisfiable Range yields a 416 with no body.
func (h *Handler) GetStream(w http.ResponseWriter, r *http.Request) {
	id := ObjectID(chi.URLParam(r, "object_id"))
	if id == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	total, err := h.store.Size(id)
	if errors.Is(err, ErrObjectNotFound) {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if err != nil {
		h.log.Error("object stat failed", slog.String("object_id", string(id)), slog.String("error", err.Error()))
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	spec, partial, err := ResolveRange(r.Header.Get("Range"), total)
	if err != nil {
		h.log.Debug("unsatisfiable range",
			slog.String("object_id", string(id)),
			slog.String("range", r.Header.Get("Range")),
			slog.String("error", err.Error()))
		w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", total))
		w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
		return
	}

	status := http.StatusOK
	length := total
	if partial {
		status = http.StatusPartialContent
		length = spec.Length()
		w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", spec.Start, spec.End, spec.Total))
	}

	w.Header().Set("Accept-Ranges", "bytes")
	w.Header().Set("Content-Type", videoContentType)
	w.Header().Set("Content-Length", strconv.FormatInt(length, 10))

	rc, err := h.store.Open(id, spec.Start)
	if err != nil {
		h.log.Error("object open failed", slog.String("object_id", string(id)), slog.String("error", err.Error()))
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	defer rc.Close()

	w.WriteHeader(status)

	n, err := io.CopyN(w, rc, length)
	if h.metrics != nil {
		h.metrics.AddBytesStreamed(n)
	}
	if err != nil && length > 0 {
		// Headers are committed; all we can do is drop the connection.
		// A client closing mid-stream (seek, tab close) is routine.
		if r.Context().Err() != nil {
			h.log.Debug("stream closed by client",
				slog.String("object_id", string(id)),
				slog.Int64("bytes_sent", n))
			return
		}
		h.log.Error("stream aborted",
			slog.String("object_id", string(id)),
			slog.Int64("bytes_sent", n),
			slog.String("error", err.Error()))
	}
}

// Upload handles POST /upload. Body: multipart form with a "video" file
// field. Responds with the shareable playback link for the stored object.
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)

	file, header, err := r.FormFile("video")
	if err != nil {
		h.log.Debug("upload without video file", slog.String("error", err.Error()))
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "No file uploaded"})
		return
	}
	defer file.Close()

	id, err := h.store.Put(file, header.Filename)
	if err != nil {
		h.log.Error("upload store failed",
			slog.String("filename", header.Filename),
			slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Upload failed"})
		return
	}

	h.log.Info("object stored",
		slog.String("object_id", string(id)),
		slog.String("filename", header.Filename),
		slog.Int64("size", header.Size))
	if h.metrics != nil {
		h.metrics.IncUploads()
	}

	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"message":       "Upload successful",
		"shareableLink": fmt.Sprintf("%s://%s/stream/%s", scheme, r.Host, id),
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
