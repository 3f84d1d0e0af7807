package medical

import (
	"testing"

	"github.com/oncoportal/platform/internal/shared/types"
)

func TestNewCancerType(t *testing.T) {
	parent := types.NewID()

	tests := []struct {
		name     string
		typeName string
		parentID *types.ID
		isOrgan  bool
		wantErr  bool
	}{
		{"organ level", "Lung", nil, true, false},
		{"subtype under organ", "Non-small cell", &parent, false, false},
		{"missing name", "", nil, true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ct, err := NewCancerType(tt.typeName, "", tt.parentID, tt.isOrgan)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if ct.IsOrgan != tt.isOrgan {
				t.Errorf("is_organ = %v, want %v", ct.IsOrgan, tt.isOrgan)
			}
			if tt.parentID != nil && (ct.ParentID == nil || *ct.ParentID != *tt.parentID) {
				t.Error("parent ID not preserved")
			}
		})
	}
}

func TestNewPatientRecord(t *testing.T) {
	patientID := types.NewID()

	rec := NewPatientRecord(patientID, "")
	if rec.Source != RecordSourcePortal {
		t.Errorf("source = %q, want portal default", rec.Source)
	}
	if rec.PatientID != patientID {
		t.Error("patient ID not preserved")
	}

	his := NewPatientRecord(patientID, RecordSourceHIS)
	if his.Source != RecordSourceHIS {
		t.Errorf("source = %q, want his", his.Source)
	}
}
