package medical

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/oncoportal/platform/internal/shared/auth"
	"github.com/oncoportal/platform/internal/shared/config"
	"github.com/oncoportal/platform/internal/shared/errors"
	"github.com/oncoportal/platform/internal/shared/events"
	"github.com/oncoportal/platform/internal/shared/types"
)

// Handler provides HTTP handlers for the medical module
type Handler struct {
	repo   *Repository
	bus    events.EventBus
	upload config.UploadConfig
}

// NewHandler creates a new medical handler
func NewHandler(repo *Repository, bus events.EventBus, upload config.UploadConfig) *Handler {
	return &Handler{repo: repo, bus: bus, upload: upload}
}

// Routes registers authenticated medical routes
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/cancer-types", h.ListCancerTypes)
	r.Get("/record", h.GetRecord)
	r.Put("/record", h.UpdateRecord)

	r.Post("/documents", h.UploadDocument)
	r.Get("/documents", h.ListDocuments)
	r.Get("/documents/{documentID}/file", h.DownloadDocument)
	r.Delete("/documents/{documentID}", h.DeleteDocument)

	return r
}

// AdminRoutes registers administrator-only taxonomy routes
func (h *Handler) AdminRoutes() chi.Router {
	r := chi.NewRouter()

	r.Post("/cancer-types", h.CreateCancerType)
	r.Put("/cancer-types/{cancerTypeID}", h.UpdateCancerType)
	r.Delete("/cancer-types/{cancerTypeID}", h.DeleteCancerType)

	return r
}

// resolvePatient determines which patient the request targets and checks
// access: patients themselves, their assigned clinician, or an admin.
func (h *Handler) resolvePatient(r *http.Request) (types.ID, error) {
	user := auth.GetUser(r.Context())
	if user == nil {
		return "", errors.Unauthorized("authentication required")
	}

	target := user.ID
	if q := r.URL.Query().Get("patient_id"); q != "" {
		id, err := types.ParseID(q)
		if err != nil {
			return "", errors.BadRequest("invalid patient ID")
		}
		target = id
	}

	if target == user.ID {
		return target, nil
	}
	if user.IsAdmin() {
		return target, nil
	}
	if user.IsClinician() {
		assigned, err := h.repo.IsAssignedDoctor(r.Context(), target, user.ID)
		if err != nil {
			return "", err
		}
		if assigned {
			return target, nil
		}
	}
	return "", errors.Forbidden("no access to this patient")
}

// ListCancerTypes lists the cancer taxonomy
func (h *Handler) ListCancerTypes(w http.ResponseWriter, r *http.Request) {
	organOnly := r.URL.Query().Get("organ") == "true"

	out, err := h.repo.ListCancerTypes(r.Context(), organOnly)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"data": out})
}

// CreateCancerType adds a taxonomy node
func (h *Handler) CreateCancerType(w http.ResponseWriter, r *http.Request) {
	var req CreateCancerTypeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.BadRequest("invalid request body"))
		return
	}

	var parentID *types.ID
	if req.ParentID != nil && *req.ParentID != "" {
		id, err := types.ParseID(*req.ParentID)
		if err != nil {
			writeError(w, errors.BadRequest("invalid parent ID"))
			return
		}
		parentID = &id
	}

	ct, err := NewCancerType(req.Name, req.Description, parentID, req.IsOrgan)
	if err != nil {
		writeError(w, err)
		return
	}

	if err := h.repo.CreateCancerType(r.Context(), ct); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, ct)
}

// UpdateCancerType edits a taxonomy node
func (h *Handler) UpdateCancerType(w http.ResponseWriter, r *http.Request) {
	id, err := types.ParseID(chi.URLParam(r, "cancerTypeID"))
	if err != nil {
		writeError(w, errors.BadRequest("invalid cancer type ID"))
		return
	}

	ct, err := h.repo.FindCancerType(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	var req CreateCancerTypeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.BadRequest("invalid request body"))
		return
	}

	if req.Name != "" {
		ct.Name = req.Name
	}
	ct.Description = req.Description
	ct.IsOrgan = req.IsOrgan
	if req.ParentID != nil {
		if *req.ParentID == "" {
			ct.ParentID = nil
		} else {
			pid, err := types.ParseID(*req.ParentID)
			if err != nil {
				writeError(w, errors.BadRequest("invalid parent ID"))
				return
			}
			ct.ParentID = &pid
		}
	}

	if err := h.repo.UpdateCancerType(r.Context(), ct); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, ct)
}

// DeleteCancerType removes a taxonomy node
func (h *Handler) DeleteCancerType(w http.ResponseWriter, r *http.Request) {
	id, err := types.ParseID(chi.URLParam(r, "cancerTypeID"))
	if err != nil {
		writeError(w, errors.BadRequest("invalid cancer type ID"))
		return
	}

	if err := h.repo.DeleteCancerType(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// GetRecord returns the patient record
func (h *Handler) GetRecord(w http.ResponseWriter, r *http.Request) {
	patientID, err := h.resolvePatient(r)
	if err != nil {
		writeError(w, err)
		return
	}

	rec, err := h.repo.FindRecordByPatient(r.Context(), patientID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, rec)
}

// UpdateRecord creates or updates the patient record
func (h *Handler) UpdateRecord(w http.ResponseWriter, r *http.Request) {
	patientID, err := h.resolvePatient(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var req UpdateRecordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.BadRequest("invalid request body"))
		return
	}

	rec, err := h.repo.FindRecordByPatient(r.Context(), patientID)
	if err != nil {
		rec = NewPatientRecord(patientID, RecordSourcePortal)
	}

	if req.CancerTypeID != nil {
		if *req.CancerTypeID == "" {
			rec.CancerTypeID = nil
		} else {
			id, err := types.ParseID(*req.CancerTypeID)
			if err != nil {
				writeError(w, errors.BadRequest("invalid cancer type ID"))
				return
			}
			if _, err := h.repo.FindCancerType(r.Context(), id); err != nil {
				writeError(w, err)
				return
			}
			rec.CancerTypeID = &id
		}
	}
	if req.CancerStage != nil {
		rec.CancerStage = *req.CancerStage
	}
	if req.StageGrouping != nil {
		rec.StageGrouping = *req.StageGrouping
	}
	if req.RecommendedTreatment != nil {
		rec.RecommendedTreatment = *req.RecommendedTreatment
	}
	if req.DiagnosisDate != nil {
		if *req.DiagnosisDate == "" {
			rec.DiagnosisDate = nil
		} else {
			d, err := time.Parse("2006-01-02", *req.DiagnosisDate)
			if err != nil {
				writeError(w, errors.BadRequest("diagnosis date must be YYYY-MM-DD"))
				return
			}
			rec.DiagnosisDate = &d
		}
	}
	if req.Notes != nil {
		rec.Notes = *req.Notes
	}

	if err := h.repo.UpsertRecord(r.Context(), rec); err != nil {
		writeError(w, err)
		return
	}

	user := auth.GetUser(r.Context())
	h.publish(r.Context(), events.NewEvent("medical.record.updated", "medical", map[string]any{
		"patient_id": patientID,
	}).WithActor(user.ID, user.Role))

	// Reload to pick up the joined cancer type name
	rec, err = h.repo.FindRecordByPatient(r.Context(), patientID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// UploadDocument accepts a multipart medical document upload
func (h *Handler) UploadDocument(w http.ResponseWriter, r *http.Request) {
	patientID, err := h.resolvePatient(r)
	if err != nil {
		writeError(w, err)
		return
	}

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

	title := r.FormValue("title")
	if title == "" {
		title = header.Filename
	}

	doc := &MedicalDocument{
		ID:          types.NewID(),
		PatientID:   patientID,
		Title:       title,
		ContentType: header.Header.Get("Content-Type"),
		UploadedAt:  time.Now().UTC(),
	}

	dir := filepath.Join(h.upload.Dir, "medical_documents")
	if err := os.MkdirAll(dir, 0o750); err != nil {
		writeError(w, errors.Wrap(err, "failed to create upload directory"))
		return
	}
	doc.FilePath = filepath.Join(dir, doc.ID.String()+filepath.Ext(header.Filename))

	dst, err := os.Create(doc.FilePath)
	if err != nil {
		writeError(w, errors.Wrap(err, "failed to store file"))
		return
	}
	hasher := sha256.New()
	size, err := io.Copy(io.MultiWriter(dst, hasher), file)
	dst.Close()
	if err != nil {
		os.Remove(doc.FilePath)
		writeError(w, errors.Wrap(err, "failed to store file"))
		return
	}
	doc.SizeBytes = size
	doc.FileHash = hex.EncodeToString(hasher.Sum(nil))

	if err := h.repo.SaveDocument(r.Context(), doc); err != nil {
		os.Remove(doc.FilePath)
		writeError(w, err)
		return
	}

	user := auth.GetUser(r.Context())
	h.publish(r.Context(), events.NewEvent("medical.document.uploaded", "medical", map[string]any{
		"document_id": doc.ID,
		"patient_id":  patientID,
	}).WithActor(user.ID, user.Role))

	writeJSON(w, http.StatusCreated, doc)
}

// ListDocuments lists the patient's medical documents
func (h *Handler) ListDocuments(w http.ResponseWriter, r *http.Request) {
	patientID, err := h.resolvePatient(r)
	if err != nil {
		writeError(w, err)
		return
	}

	docs, err := h.repo.ListDocumentsByPatient(r.Context(), patientID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"data": docs})
}

// DownloadDocument streams the stored file
func (h *Handler) DownloadDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := h.authorizedDocument(r)
	if err != nil {
		writeError(w, err)
		return
	}

	f, err := os.Open(doc.FilePath)
	if err != nil {
		writeError(w, errors.NotFound("medical document file", doc.ID.String()))
		return
	}
	defer f.Close()

	if doc.ContentType != "" {
		w.Header().Set("Content-Type", doc.ContentType)
	}
	w.Header().Set("Content-Disposition", `attachment; filename="`+filepath.Base(doc.FilePath)+`"`)
	io.Copy(w, f)
}

// DeleteDocument removes a medical document and its file
func (h *Handler) DeleteDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := h.authorizedDocument(r)
	if err != nil {
		writeError(w, err)
		return
	}

	if err := h.repo.DeleteDocument(r.Context(), doc.ID); err != nil {
		writeError(w, err)
		return
	}
	os.Remove(doc.FilePath)

	user := auth.GetUser(r.Context())
	h.publish(r.Context(), events.NewEvent("medical.document.deleted", "medical", map[string]any{
		"document_id": doc.ID,
		"patient_id":  doc.PatientID,
	}).WithActor(user.ID, user.Role))

	w.WriteHeader(http.StatusNoContent)
}

// authorizedDocument loads a document and enforces patient scoping. Missing
// and inaccessible documents are both reported as not found.
func (h *Handler) authorizedDocument(r *http.Request) (*MedicalDocument, error) {
	user := auth.GetUser(r.Context())
	if user == nil {
		return nil, errors.Unauthorized("authentication required")
	}

	id, err := types.ParseID(chi.URLParam(r, "documentID"))
	if err != nil {
		return nil, errors.BadRequest("invalid document ID")
	}

	doc, err := h.repo.FindDocument(r.Context(), id)
	if err != nil {
		return nil, err
	}

	if doc.PatientID == user.ID || user.IsAdmin() {
		return doc, nil
	}
	if user.IsClinician() {
		assigned, err := h.repo.IsAssignedDoctor(r.Context(), doc.PatientID, user.ID)
		if err != nil {
			return nil, err
		}
		if assigned {
			return doc, nil
		}
	}
	return nil, errors.NotFound("medical document", id.String())
}

func (h *Handler) publish(ctx context.Context, event events.Event) {
	if h.bus == nil {
		return
	}
	h.bus.Publish(ctx, event)
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
