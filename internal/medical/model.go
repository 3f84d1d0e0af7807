package medical

import (
	"encoding/json"
	"time"

	"github.com/oncoportal/platform/internal/shared/errors"
	"github.com/oncoportal/platform/internal/shared/types"
)

// CancerType is a node in the cancer taxonomy. Organ-level types (is_organ)
// are the only ones assistant documents may be tagged with; finer subtypes
// hang off an organ parent.
type CancerType struct {
	ID          types.ID  `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	ParentID    *types.ID `json:"parent_id,omitempty"`
	IsOrgan     bool      `json:"is_organ"`
	CreatedAt   time.Time `json:"created_at"`
}

// NewCancerType creates a taxonomy node
func NewCancerType(name, description string, parentID *types.ID, isOrgan bool) (*CancerType, error) {
	if name == "" {
		return nil, errors.BadRequest("cancer type name is required")
	}
	return &CancerType{
		ID:          types.NewID(),
		Name:        name,
		Description: description,
		ParentID:    parentID,
		IsOrgan:     isOrgan,
		CreatedAt:   time.Now().UTC(),
	}, nil
}

// Patient record provenance values.
const (
	RecordSourcePortal = "portal"
	RecordSourceHIS    = "his"
)

// PatientRecord is the clinical summary for a patient, one per patient.
// It feeds the assistant's patient context.
type PatientRecord struct {
	ID                   types.ID   `json:"id"`
	PatientID            types.ID   `json:"patient_id"`
	CancerTypeID         *types.ID  `json:"cancer_type_id,omitempty"`
	CancerTypeName       string     `json:"cancer_type_name,omitempty"`
	CancerStage          string     `json:"cancer_stage,omitempty"`
	StageGrouping        string     `json:"stage_grouping,omitempty"`
	RecommendedTreatment string     `json:"recommended_treatment,omitempty"`
	DiagnosisDate        *time.Time `json:"diagnosis_date,omitempty"`
	Notes                string     `json:"notes,omitempty"`
	Source               string     `json:"source"`
	CreatedAt            time.Time  `json:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at"`
}

// NewPatientRecord creates an empty record for a patient
func NewPatientRecord(patientID types.ID, source string) *PatientRecord {
	now := time.Now().UTC()
	if source == "" {
		source = RecordSourcePortal
	}
	return &PatientRecord{
		ID:        types.NewID(),
		PatientID: patientID,
		Source:    source,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// MedicalDocument is a file a patient uploaded to their own record, with
// optional AI analysis results attached after processing.
type MedicalDocument struct {
	ID          types.ID        `json:"id"`
	PatientID   types.ID        `json:"patient_id"`
	Title       string          `json:"title"`
	FilePath    string          `json:"-"`
	FileHash    string          `json:"file_hash"`
	ContentType string          `json:"content_type"`
	SizeBytes   int64           `json:"size_bytes"`
	AIAnalysis  json.RawMessage `json:"ai_analysis,omitempty"`
	UploadedAt  time.Time       `json:"uploaded_at"`
}

// UpdateRecordRequest is the payload for patient record edits
type UpdateRecordRequest struct {
	CancerTypeID         *string `json:"cancer_type_id"`
	CancerStage          *string `json:"cancer_stage"`
	StageGrouping        *string `json:"stage_grouping"`
	RecommendedTreatment *string `json:"recommended_treatment"`
	DiagnosisDate        *string `json:"diagnosis_date"` // YYYY-MM-DD
	Notes                *string `json:"notes"`
}

// CreateCancerTypeRequest is the payload for taxonomy edits
type CreateCancerTypeRequest struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	ParentID    *string `json:"parent_id"`
	IsOrgan     bool    `json:"is_organ"`
}
