package chat

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/oncoportal/platform/internal/medical"
	"github.com/oncoportal/platform/internal/rag"
	"github.com/oncoportal/platform/internal/shared/auth"
	"github.com/oncoportal/platform/internal/shared/config"
	"github.com/oncoportal/platform/internal/shared/errors"
	"github.com/oncoportal/platform/internal/shared/events"
	"github.com/oncoportal/platform/internal/shared/metrics"
	"github.com/oncoportal/platform/internal/shared/types"
)

const (
	sessionPageSize  = 20
	documentPageSize = 20
	feedbackPageSize = 50
)

// Taxonomy resolves cancer types for knowledge-base document scoping.
// Satisfied by *medical.Repository.
type Taxonomy interface {
	FindCancerType(ctx context.Context, id types.ID) (*medical.CancerType, error)
}

// Handler provides HTTP handlers for the chat module
type Handler struct {
	repo     *Repository
	service  *Service
	indexer  *rag.Indexer
	monitor  *rag.Monitor
	cache    *rag.Cache
	taxonomy Taxonomy
	upload   config.UploadConfig
	bus      events.EventBus
}

// NewHandler creates a new chat handler
func NewHandler(repo *Repository, service *Service, indexer *rag.Indexer, monitor *rag.Monitor, cache *rag.Cache, taxonomy Taxonomy, upload config.UploadConfig, bus events.EventBus) *Handler {
	return &Handler{
		repo:     repo,
		service:  service,
		indexer:  indexer,
		monitor:  monitor,
		cache:    cache,
		taxonomy: taxonomy,
		upload:   upload,
		bus:      bus,
	}
}

// Routes registers authenticated chat routes
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/sessions", h.StartSession)
	r.Get("/sessions", h.History)
	r.Put("/sessions/{sessionID}", h.RenameSession)
	r.Delete("/sessions/{sessionID}", h.DeleteSession)
	r.Get("/sessions/{sessionID}/messages", h.ListMessages)

	r.Post("/messages", h.SendMessage)
	r.Get("/history", h.History)
	r.Post("/feedback", h.SubmitFeedback)

	return r
}

// AdminRoutes registers administrator-only knowledge-base and analytics
// routes
func (h *Handler) AdminRoutes() chi.Router {
	r := chi.NewRouter()

	r.Post("/documents", h.UploadDocument)
	r.Get("/documents", h.ListDocuments)
	r.Put("/documents/{documentID}", h.UpdateDocument)
	r.Delete("/documents/{documentID}", h.DeleteDocument)
	r.Post("/documents/{documentID}/reindex", h.ReindexDocument)

	r.Get("/analytics", h.Analytics)
	r.Get("/feedback", h.ListFeedback)
	r.Get("/rag/stats", h.RAGStats)

	return r
}

// StartSession opens a new chat session
func (h *Handler) StartSession(w http.ResponseWriter, r *http.Request) {
	user := auth.GetUser(r.Context())

	var req struct {
		Title string `json:"title"`
	}
	if r.Body != nil {
		json.NewDecoder(r.Body).Decode(&req)
	}

	session, err := h.service.StartSession(r.Context(), user.ID, req.Title)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, session)
}

// RenameSession sets a session title
func (h *Handler) RenameSession(w http.ResponseWriter, r *http.Request) {
	user := auth.GetUser(r.Context())

	id, err := types.ParseID(chi.URLParam(r, "sessionID"))
	if err != nil {
		writeError(w, errors.BadRequest("invalid session ID"))
		return
	}

	var req struct {
		Title string `json:"title"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Title) == "" {
		writeError(w, errors.BadRequest("title is required"))
		return
	}

	if err := h.repo.UpdateSessionTitle(r.Context(), id, user.ID, strings.TrimSpace(req.Title)); err != nil {
		writeError(w, err)
		return
	}

	session, err := h.repo.FindSession(r.Context(), id, user.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

// DeleteSession removes a session and its messages
func (h *Handler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	user := auth.GetUser(r.Context())

	id, err := types.ParseID(chi.URLParam(r, "sessionID"))
	if err != nil {
		writeError(w, errors.BadRequest("invalid session ID"))
		return
	}

	if err := h.service.RemoveSession(r.Context(), id, user.ID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListMessages returns a session's transcript. Sessions of other users are
// reported as not found.
func (h *Handler) ListMessages(w http.ResponseWriter, r *http.Request) {
	user := auth.GetUser(r.Context())

	id, err := types.ParseID(chi.URLParam(r, "sessionID"))
	if err != nil {
		writeError(w, errors.BadRequest("invalid session ID"))
		return
	}

	session, err := h.repo.FindSession(r.Context(), id, user.ID)
	if err != nil {
		writeError(w, err)
		return
	}

	messages, err := h.repo.ListMessages(r.Context(), session.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	session.Messages = messages

	writeJSON(w, http.StatusOK, session)
}

// SendMessage runs the assistant pipeline for a user message
func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	user := auth.GetUser(r.Context())

	var req SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.BadRequest("invalid request body"))
		return
	}

	resp, err := h.service.SendMessage(r.Context(), user.ID, req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// History lists the user's sessions filtered by period and search text
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	user := auth.GetUser(r.Context())

	filter := HistoryFilter{
		Period: r.URL.Query().Get("period"),
		Search: strings.TrimSpace(r.URL.Query().Get("search")),
	}
	filter.Page, _ = strconv.Atoi(r.URL.Query().Get("page"))

	sessions, page, err := h.repo.History(r.Context(), user.ID, filter, sessionPageSize)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"data": sessions,
		"page": page,
	})
}

// SubmitFeedback records helpfulness feedback on an assistant message
func (h *Handler) SubmitFeedback(w http.ResponseWriter, r *http.Request) {
	user := auth.GetUser(r.Context())

	var req FeedbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.BadRequest("invalid request body"))
		return
	}

	fb, err := h.service.SubmitFeedback(r.Context(), user.ID, req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, fb)
}

// UploadDocument accepts a knowledge-base document and indexes it
func (h *Handler) UploadDocument(w http.ResponseWriter, r *http.Request) {
	user := auth.GetUser(r.Context())

	maxBytes := int64(h.upload.MaxSizeMB) << 20
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	if err := r.ParseMultipartForm(maxBytes); err != nil {
		writeError(w, errors.BadRequest("file too large or malformed upload"))
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, errors.BadRequest("file field is required"))
		return
	}
	defer file.Close()

	ext := strings.ToLower(filepath.Ext(header.Filename))
	if !rag.SupportedFileType(ext) {
		writeError(w, errors.BadRequest("unsupported file type "+ext))
		return
	}

	title := r.FormValue("title")
	if title == "" {
		title = header.Filename
	}

	cancerTypeID, err := h.resolveOrganCancerType(r.Context(), r.FormValue("cancer_type_id"))
	if err != nil {
		writeError(w, err)
		return
	}

	doc := &Document{
		ID:           types.NewID(),
		Title:        title,
		Description:  r.FormValue("description"),
		DocumentType: r.FormValue("document_type"),
		CancerTypeID: cancerTypeID,
		UploadedBy:   user.ID,
		CreatedAt:    time.Now().UTC(),
		UpdatedAt:    time.Now().UTC(),
	}

	if err := os.MkdirAll(h.upload.ChatDocsDir, 0o750); err != nil {
		writeError(w, errors.Wrap(err, "failed to create upload directory"))
		return
	}
	doc.FilePath = filepath.Join(h.upload.ChatDocsDir, doc.ID.String()+ext)

	dst, err := os.Create(doc.FilePath)
	if err != nil {
		writeError(w, errors.Wrap(err, "failed to store file"))
		return
	}
	hasher := sha256.New()
	_, err = io.Copy(io.MultiWriter(dst, hasher), file)
	dst.Close()
	if err != nil {
		os.Remove(doc.FilePath)
		writeError(w, errors.Wrap(err, "failed to store file"))
		return
	}
	doc.FileHash = hex.EncodeToString(hasher.Sum(nil))

	if existing, err := h.repo.FindDocumentByHash(r.Context(), doc.FileHash); err == nil {
		os.Remove(doc.FilePath)
		writeError(w, errors.Conflict("document already exists: "+existing.Title))
		return
	}

	if err := h.repo.SaveDocument(r.Context(), doc); err != nil {
		os.Remove(doc.FilePath)
		writeError(w, err)
		return
	}

	h.indexDocument(r.Context(), doc, user)

	doc, err = h.repo.FindDocument(r.Context(), doc.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, doc)
}

// resolveOrganCancerType parses and validates a document's cancer type scope.
// Knowledge-base documents are scoped at the organ level only; sub-type nodes
// of the taxonomy are rejected. An empty value clears the scope.
func (h *Handler) resolveOrganCancerType(ctx context.Context, raw string) (*types.ID, error) {
	if raw == "" {
		return nil, nil
	}
	id, err := types.ParseID(raw)
	if err != nil {
		return nil, errors.BadRequest("invalid cancer type ID")
	}
	cancerType, err := h.taxonomy.FindCancerType(ctx, id)
	if err != nil {
		return nil, err
	}
	if !cancerType.IsOrgan {
		return nil, errors.BadRequest("documents must be scoped to an organ-level cancer type")
	}
	return &id, nil
}

// indexDocument chunks, embeds, and stores the document's content. Failures
// leave the document unindexed for a later reindex.
func (h *Handler) indexDocument(ctx context.Context, doc *Document, user *auth.User) {
	result, err := h.indexer.IndexFile(ctx, doc.ID, doc.FilePath, "")
	if err != nil {
		metrics.RecordDocumentIndexed("failed")
		log.Printf("Failed to index document %s: %v", doc.ID, err)
		return
	}

	if err := h.repo.MarkIndexed(ctx, doc.ID, result.FileHash); err != nil {
		log.Printf("Failed to mark document %s indexed: %v", doc.ID, err)
		return
	}
	metrics.RecordDocumentIndexed("indexed")

	h.publish(ctx, events.NewEvent("chat.document.indexed", "chat", map[string]any{
		"document_id": doc.ID,
		"chunk_count": result.ChunkCount,
	}).WithActor(user.ID, user.Role))
}

// ListDocuments lists knowledge-base documents
func (h *Handler) ListDocuments(w http.ResponseWriter, r *http.Request) {
	var cancerTypeID *types.ID
	if q := r.URL.Query().Get("cancer_type"); q != "" {
		id, err := types.ParseID(q)
		if err != nil {
			writeError(w, errors.BadRequest("invalid cancer type ID"))
			return
		}
		cancerTypeID = &id
	}
	pageNum, _ := strconv.Atoi(r.URL.Query().Get("page"))

	docs, page, err := h.repo.ListDocuments(r.Context(), cancerTypeID, pageNum, documentPageSize)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"data": docs,
		"page": page,
	})
}

// UpdateDocumentRequest edits knowledge-base document metadata.
type UpdateDocumentRequest struct {
	Title        *string `json:"title"`
	Description  *string `json:"description"`
	DocumentType *string `json:"document_type"`
	CancerTypeID *string `json:"cancer_type_id"`
}

// UpdateDocument edits document metadata
func (h *Handler) UpdateDocument(w http.ResponseWriter, r *http.Request) {
	id, err := types.ParseID(chi.URLParam(r, "documentID"))
	if err != nil {
		writeError(w, errors.BadRequest("invalid document ID"))
		return
	}

	doc, err := h.repo.FindDocument(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	var req UpdateDocumentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.BadRequest("invalid request body"))
		return
	}

	if req.Title != nil && *req.Title != "" {
		doc.Title = *req.Title
	}
	if req.Description != nil {
		doc.Description = *req.Description
	}
	if req.DocumentType != nil {
		doc.DocumentType = *req.DocumentType
	}
	if req.CancerTypeID != nil {
		ctID, err := h.resolveOrganCancerType(r.Context(), *req.CancerTypeID)
		if err != nil {
			writeError(w, err)
			return
		}
		doc.CancerTypeID = ctID
	}

	if err := h.repo.UpdateDocument(r.Context(), doc); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

// ReindexDocument re-runs extraction and embedding for a document
func (h *Handler) ReindexDocument(w http.ResponseWriter, r *http.Request) {
	user := auth.GetUser(r.Context())

	id, err := types.ParseID(chi.URLParam(r, "documentID"))
	if err != nil {
		writeError(w, errors.BadRequest("invalid document ID"))
		return
	}

	doc, err := h.repo.FindDocument(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	prevHash := ""
	if doc.Indexed {
		prevHash = doc.FileHash
	}
	result, err := h.indexer.IndexFile(r.Context(), doc.ID, doc.FilePath, prevHash)
	if err != nil {
		metrics.RecordDocumentIndexed("failed")
		writeError(w, errors.Wrap(err, "failed to index document"))
		return
	}
	if result.Unchanged {
		writeJSON(w, http.StatusOK, doc)
		return
	}
	if err := h.repo.MarkIndexed(r.Context(), doc.ID, result.FileHash); err != nil {
		writeError(w, err)
		return
	}
	metrics.RecordDocumentIndexed("indexed")

	h.publish(r.Context(), events.NewEvent("chat.document.indexed", "chat", map[string]any{
		"document_id": doc.ID,
		"chunk_count": result.ChunkCount,
	}).WithActor(user.ID, user.Role))

	doc, err = h.repo.FindDocument(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

// DeleteDocument removes a document, its chunks, and its file
func (h *Handler) DeleteDocument(w http.ResponseWriter, r *http.Request) {
	user := auth.GetUser(r.Context())

	id, err := types.ParseID(chi.URLParam(r, "documentID"))
	if err != nil {
		writeError(w, errors.BadRequest("invalid document ID"))
		return
	}

	doc, err := h.repo.FindDocument(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	if err := h.indexer.RemoveDocument(r.Context(), doc.ID); err != nil {
		writeError(w, err)
		return
	}
	if err := h.repo.DeleteDocument(r.Context(), doc.ID); err != nil {
		writeError(w, err)
		return
	}
	os.Remove(doc.FilePath)

	h.publish(r.Context(), events.NewEvent("chat.document.deleted", "chat", map[string]any{
		"document_id": doc.ID,
	}).WithActor(user.ID, user.Role))

	w.WriteHeader(http.StatusNoContent)
}

// Analytics returns assistant usage aggregates for a period
func (h *Handler) Analytics(w http.ResponseWriter, r *http.Request) {
	filter := HistoryFilter{Period: r.URL.Query().Get("period")}
	since := filter.Since(time.Now())

	analytics, err := h.repo.Analytics(r.Context(), since)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, analytics)
}

// ListFeedback lists feedback for administrator review
func (h *Handler) ListFeedback(w http.ResponseWriter, r *http.Request) {
	var helpful *bool
	if q := r.URL.Query().Get("helpful"); q != "" {
		v, err := strconv.ParseBool(q)
		if err != nil {
			writeError(w, errors.BadRequest("helpful must be true or false"))
			return
		}
		helpful = &v
	}
	pageNum, _ := strconv.Atoi(r.URL.Query().Get("page"))

	entries, page, err := h.repo.ListFeedback(r.Context(), helpful, pageNum, feedbackPageSize)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"data": entries,
		"page": page,
	})
}

// RAGStats reports pipeline timings, confidence distribution, and cache
// counters
func (h *Handler) RAGStats(w http.ResponseWriter, r *http.Request) {
	pipeline, err := h.monitor.Stats(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"pipeline": pipeline,
		"cache":    h.cache.Stats(r.Context()),
	})
}

func (h *Handler) publish(ctx context.Context, event events.Event) {
	if h.bus == nil {
		return
	}
	if err := h.bus.Publish(ctx, event); err != nil {
		log.Printf("Failed to publish %s: %v", event.Type, err)
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")

	if appErr, ok := err.(*errors.AppError); ok {
		w.WriteHeader(appErr.HTTPStatus)
		json.NewEncoder(w).Encode(map[string]any{
			"error":   appErr.Message,
			"code":    appErr.Code,
			"details": appErr.Details,
		})
		return
	}

	w.WriteHeader(http.StatusInternalServerError)
	json.NewEncoder(w).Encode(map[string]string{"error": "internal server error"})
}
