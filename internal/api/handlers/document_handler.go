package handlers

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	middleware "github.com/markdave123-py/docintel/internal/api/middlewares"
	"github.com/markdave123-py/docintel/internal/core"
	"github.com/markdave123-py/docintel/internal/export"
	"github.com/markdave123-py/docintel/internal/models"
	"github.com/markdave123-py/docintel/internal/services"
)

type DocumentHandler struct {
	docs     *services.DocumentService
	maxBytes int64
	logger   *slog.Logger
}

func NewDocumentHandler(docs *services.DocumentService, maxBytes int64, logger *slog.Logger) *DocumentHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &DocumentHandler{docs: docs, maxBytes: maxBytes, logger: logger}
}

// userID is set by the JWT middleware on every protected route.
func userID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id, ok := middleware.UserID(r.Context())
	if !ok {
		writeMessage(w, http.StatusUnauthorized, "unauthorized")
	}
	return id, ok
}

// UploadDocument stores a multipart "file" and schedules its analysis. Optional
// form fields generate_summary, extract_entities, extract_actions, extract_risks
// and index_embeddings override the defaults.
func (h *DocumentHandler) UploadDocument(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxBytes+1<<20)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, h.logger, core.NewValidationError("file", "invalid multipart body: %v", err))
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, h.logger, core.NewValidationError("file", "is required"))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, h.logger, core.NewValidationError("file", "could not be read: %v", err))
		return
	}

	opts, err := analysisOptions(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	doc, err := h.docs.Upload(r.Context(), uid, header.Filename, header.Header.Get("Content-Type"), data, opts)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusAccepted, doc)
}

func analysisOptions(r *http.Request) (models.AnalysisOptions, error) {
	opts := models.DefaultAnalysisOptions()
	fields := map[string]*bool{
		"generate_summary": &opts.GenerateSummary,
		"extract_entities": &opts.ExtractEntities,
		"extract_actions":  &opts.ExtractActions,
		"extract_risks":    &opts.ExtractRisks,
		"index_embeddings": &opts.IndexEmbeddings,
	}
	for name, dst := range fields {
		v := r.FormValue(name)
		if v == "" {
			continue
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return opts, core.NewValidationError(name, "must be a boolean")
		}
		*dst = b
	}
	return opts, nil
}

func (h *DocumentHandler) GetDocuments(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}
	docs, err := h.docs.List(r.Context(), uid)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if docs == nil {
		docs = []models.Document{}
	}
	writeJSON(w, http.StatusOK, docs)
}

func (h *DocumentHandler) GetDocument(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}
	view, err := h.docs.Get(r.Context(), uid, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *DocumentHandler) ProcessDocument(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}
	st, err := h.docs.Process(r.Context(), uid, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusAccepted, st)
}

func (h *DocumentHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}
	st, err := h.docs.Status(r.Context(), uid, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *DocumentHandler) GetChunks(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}
	chunks, err := h.docs.Chunks(r.Context(), uid, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, chunks)
}

func (h *DocumentHandler) DeleteDocument(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}
	if err := h.docs.Delete(r.Context(), uid, chi.URLParam(r, "id")); err != nil {
		writeError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *DocumentHandler) ExportDocument(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}
	data, name, err := h.docs.Export(r.Context(), uid, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	w.Header().Set("Content-Type", export.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	_, _ = w.Write(data)
}
