package medical

import (
	"context"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/oncoportal/platform/internal/shared/errors"
	"github.com/oncoportal/platform/internal/shared/types"
)

// Repository provides database operations for the medical module
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new medical repository
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// CreateCancerType inserts a taxonomy node
func (r *Repository) CreateCancerType(ctx context.Context, ct *CancerType) error {
	query := `
		INSERT INTO medical.cancer_types (id, name, description, parent_id, is_organ, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := r.pool.Exec(ctx, query, ct.ID, ct.Name, ct.Description, ct.ParentID, ct.IsOrgan, ct.CreatedAt)
	if err != nil {
		if strings.Contains(err.Error(), "duplicate key") {
			return errors.Conflict("cancer type with this name already exists")
		}
		return errors.Wrap(err, "failed to create cancer type")
	}
	return nil
}

// FindCancerType finds a taxonomy node by ID
func (r *Repository) FindCancerType(ctx context.Context, id types.ID) (*CancerType, error) {
	query := `
		SELECT id, name, description, parent_id, is_organ, created_at
		FROM medical.cancer_types WHERE id = $1`

	ct := &CancerType{}
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&ct.ID, &ct.Name, &ct.Description, &ct.ParentID, &ct.IsOrgan, &ct.CreatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("cancer type", id.String())
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to find cancer type")
	}
	return ct, nil
}

// FindCancerTypeByName finds a taxonomy node by name, case-insensitively.
// Used by the HIS import to map external diagnosis names.
func (r *Repository) FindCancerTypeByName(ctx context.Context, name string) (*CancerType, error) {
	query := `
		SELECT id, name, description, parent_id, is_organ, created_at
		FROM medical.cancer_types WHERE lower(name) = lower($1)`

	ct := &CancerType{}
	err := r.pool.QueryRow(ctx, query, name).Scan(
		&ct.ID, &ct.Name, &ct.Description, &ct.ParentID, &ct.IsOrgan, &ct.CreatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("cancer type", name)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to find cancer type")
	}
	return ct, nil
}

// ListCancerTypes lists taxonomy nodes, optionally organ-level only
func (r *Repository) ListCancerTypes(ctx context.Context, organOnly bool) ([]*CancerType, error) {
	query := `
		SELECT id, name, description, parent_id, is_organ, created_at
		FROM medical.cancer_types`
	if organOnly {
		query += ` WHERE is_organ`
	}
	query += ` ORDER BY name`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list cancer types")
	}
	defer rows.Close()

	var out []*CancerType
	for rows.Next() {
		ct := &CancerType{}
		if err := rows.Scan(&ct.ID, &ct.Name, &ct.Description, &ct.ParentID, &ct.IsOrgan, &ct.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "failed to scan cancer type")
		}
		out = append(out, ct)
	}
	return out, rows.Err()
}

// UpdateCancerType updates a taxonomy node
func (r *Repository) UpdateCancerType(ctx context.Context, ct *CancerType) error {
	query := `
		UPDATE medical.cancer_types SET name = $2, description = $3, parent_id = $4, is_organ = $5
		WHERE id = $1`

	tag, err := r.pool.Exec(ctx, query, ct.ID, ct.Name, ct.Description, ct.ParentID, ct.IsOrgan)
	if err != nil {
		return errors.Wrap(err, "failed to update cancer type")
	}
	if tag.RowsAffected() == 0 {
		return errors.NotFound("cancer type", ct.ID.String())
	}
	return nil
}

// DeleteCancerType removes a taxonomy node. Nodes referenced by records or
// assistant documents are protected by foreign keys.
func (r *Repository) DeleteCancerType(ctx context.Context, id types.ID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM medical.cancer_types WHERE id = $1`, id)
	if err != nil {
		if strings.Contains(err.Error(), "foreign key") {
			return errors.Conflict("cancer type is in use and cannot be deleted")
		}
		return errors.Wrap(err, "failed to delete cancer type")
	}
	if tag.RowsAffected() == 0 {
		return errors.NotFound("cancer type", id.String())
	}
	return nil
}

const recordColumns = `r.id, r.patient_id, r.cancer_type_id, coalesce(ct.name, ''),
	r.cancer_stage, r.stage_grouping, r.recommended_treatment, r.diagnosis_date,
	r.notes, r.source, r.created_at, r.updated_at`

const recordFrom = ` FROM medical.patient_records r
	LEFT JOIN medical.cancer_types ct ON ct.id = r.cancer_type_id`

func scanRecord(row pgx.Row) (*PatientRecord, error) {
	rec := &PatientRecord{}
	err := row.Scan(
		&rec.ID, &rec.PatientID, &rec.CancerTypeID, &rec.CancerTypeName,
		&rec.CancerStage, &rec.StageGrouping, &rec.RecommendedTreatment, &rec.DiagnosisDate,
		&rec.Notes, &rec.Source, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// FindRecordByPatient finds the record for a patient
func (r *Repository) FindRecordByPatient(ctx context.Context, patientID types.ID) (*PatientRecord, error) {
	query := `SELECT ` + recordColumns + recordFrom + ` WHERE r.patient_id = $1`

	rec, err := scanRecord(r.pool.QueryRow(ctx, query, patientID))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("patient record", patientID.String())
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to find patient record")
	}
	return rec, nil
}

// UpsertRecord inserts or updates the patient's record keyed by patient_id
func (r *Repository) UpsertRecord(ctx context.Context, rec *PatientRecord) error {
	rec.UpdatedAt = time.Now().UTC()
	query := `
		INSERT INTO medical.patient_records
			(id, patient_id, cancer_type_id, cancer_stage, stage_grouping,
			 recommended_treatment, diagnosis_date, notes, source, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (patient_id) DO UPDATE SET
			cancer_type_id = EXCLUDED.cancer_type_id,
			cancer_stage = EXCLUDED.cancer_stage,
			stage_grouping = EXCLUDED.stage_grouping,
			recommended_treatment = EXCLUDED.recommended_treatment,
			diagnosis_date = EXCLUDED.diagnosis_date,
			notes = EXCLUDED.notes,
			source = EXCLUDED.source,
			updated_at = EXCLUDED.updated_at`

	_, err := r.pool.Exec(ctx, query,
		rec.ID, rec.PatientID, rec.CancerTypeID, rec.CancerStage, rec.StageGrouping,
		rec.RecommendedTreatment, rec.DiagnosisDate, rec.Notes, rec.Source,
		rec.CreatedAt, rec.UpdatedAt,
	)
	if err != nil {
		return errors.Wrap(err, "failed to upsert patient record")
	}
	return nil
}

// IsAssignedDoctor reports whether the clinician is the patient's assigned
// doctor
func (r *Repository) IsAssignedDoctor(ctx context.Context, patientID, doctorID types.ID) (bool, error) {
	var ok bool
	err := r.pool.QueryRow(ctx,
		`SELECT exists(SELECT 1 FROM accounts.users WHERE id = $1 AND assigned_doctor_id = $2)`,
		patientID, doctorID).Scan(&ok)
	if err != nil {
		return false, errors.Wrap(err, "failed to check doctor assignment")
	}
	return ok, nil
}

// SaveDocument stores an uploaded medical document row
func (r *Repository) SaveDocument(ctx context.Context, d *MedicalDocument) error {
	query := `
		INSERT INTO medical.documents
			(id, patient_id, title, file_path, file_hash, content_type, size_bytes, ai_analysis, uploaded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := r.pool.Exec(ctx, query,
		d.ID, d.PatientID, d.Title, d.FilePath, d.FileHash, d.ContentType,
		d.SizeBytes, d.AIAnalysis, d.UploadedAt,
	)
	if err != nil {
		if strings.Contains(err.Error(), "duplicate key") {
			return errors.Conflict("this file has already been uploaded")
		}
		return errors.Wrap(err, "failed to save medical document")
	}
	return nil
}

// FindDocument finds a medical document by ID
func (r *Repository) FindDocument(ctx context.Context, id types.ID) (*MedicalDocument, error) {
	query := `
		SELECT id, patient_id, title, file_path, file_hash, content_type, size_bytes, ai_analysis, uploaded_at
		FROM medical.documents WHERE id = $1`

	d := &MedicalDocument{}
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&d.ID, &d.PatientID, &d.Title, &d.FilePath, &d.FileHash, &d.ContentType,
		&d.SizeBytes, &d.AIAnalysis, &d.UploadedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("medical document", id.String())
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to find medical document")
	}
	return d, nil
}

// ListDocumentsByPatient lists a patient's documents, newest first
func (r *Repository) ListDocumentsByPatient(ctx context.Context, patientID types.ID) ([]*MedicalDocument, error) {
	query := `
		SELECT id, patient_id, title, file_path, file_hash, content_type, size_bytes, ai_analysis, uploaded_at
		FROM medical.documents WHERE patient_id = $1 ORDER BY uploaded_at DESC`

	rows, err := r.pool.Query(ctx, query, patientID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list medical documents")
	}
	defer rows.Close()

	var docs []*MedicalDocument
	for rows.Next() {
		d := &MedicalDocument{}
		if err := rows.Scan(
			&d.ID, &d.PatientID, &d.Title, &d.FilePath, &d.FileHash, &d.ContentType,
			&d.SizeBytes, &d.AIAnalysis, &d.UploadedAt,
		); err != nil {
			return nil, errors.Wrap(err, "failed to scan medical document")
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

// DeleteDocument removes a medical document row
func (r *Repository) DeleteDocument(ctx context.Context, id types.ID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM medical.documents WHERE id = $1`, id)
	if err != nil {
		return errors.Wrap(err, "failed to delete medical document")
	}
	if tag.RowsAffected() == 0 {
		return errors.NotFound("medical document", id.String())
	}
	return nil
}
