package his

import (
	"context"
	"testing"
	"time"

	"github.com/oncoportal/platform/internal/accounts"
	"github.com/oncoportal/platform/internal/medical"
	"github.com/oncoportal/platform/internal/shared/config"
	"github.com/oncoportal/platform/internal/shared/errors"
	"github.com/oncoportal/platform/internal/shared/events"
	"github.com/oncoportal/platform/internal/shared/types"
)

type fakeDirectory struct {
	users map[string]*accounts.User
}

func (f *fakeDirectory) FindUserByEmail(_ context.Context, email string) (*accounts.User, error) {
	u, ok := f.users[email]
	if !ok {
		return nil, errors.NotFound("user", email)
	}
	return u, nil
}

type fakeRecords struct {
	cancerTypes map[string]*medical.CancerType
	records     map[types.ID]*medical.PatientRecord
	upserted    []*medical.PatientRecord
}

func (f *fakeRecords) FindRecordByPatient(_ context.Context, patientID types.ID) (*medical.PatientRecord, error) {
	rec, ok := f.records[patientID]
	if !ok {
		return nil, errors.NotFound("patient record", patientID.String())
	}
	return rec, nil
}

func (f *fakeRecords) UpsertRecord(_ context.Context, rec *medical.PatientRecord) error {
	f.upserted = append(f.upserted, rec)
	return nil
}

func (f *fakeRecords) FindCancerTypeByName(_ context.Context, name string) (*medical.CancerType, error) {
	ct, ok := f.cancerTypes[name]
	if !ok {
		return nil, errors.NotFound("cancer type", name)
	}
	return ct, nil
}

func TestImportRowCreatesRecord(t *testing.T) {
	patientID := types.NewID()
	cancerType := &medical.CancerType{ID: types.NewID(), Name: "Lung Cancer"}
	diagnosed := time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC)

	directory := &fakeDirectory{users: map[string]*accounts.User{
		"pat@example.com": {ID: patientID, Email: "pat@example.com"},
	}}
	records := &fakeRecords{cancerTypes: map[string]*medical.CancerType{
		"Lung Cancer": cancerType,
	}}
	bus := events.NewMemoryBus()

	a := New(config.HISConfig{}, directory, records, bus)
	err := a.importRow(context.Background(), PatientRow{
		Email:         "pat@example.com",
		CancerType:    "Lung Cancer",
		CancerStage:   "III",
		StageGrouping: "IIIA",
		Treatment:     "Radiation",
		DiagnosisDate: &diagnosed,
	})
	if err != nil {
		t.Fatalf("importRow: %v", err)
	}

	if len(records.upserted) != 1 {
		t.Fatalf("upserted %d records, want 1", len(records.upserted))
	}
	rec := records.upserted[0]
	if rec.PatientID != patientID {
		t.Errorf("patient ID = %v, want %v", rec.PatientID, patientID)
	}
	if rec.Source != medical.RecordSourceHIS {
		t.Errorf("source = %q, want his", rec.Source)
	}
	if rec.CancerTypeID == nil || *rec.CancerTypeID != cancerType.ID {
		t.Errorf("cancer type ID = %v, want %v", rec.CancerTypeID, cancerType.ID)
	}
	if rec.CancerStage != "III" || rec.RecommendedTreatment != "Radiation" {
		t.Errorf("clinical fields = %q/%q", rec.CancerStage, rec.RecommendedTreatment)
	}

	published := bus.Published()
	if len(published) != 1 || published[0].Type != "his.patient.synced" {
		t.Errorf("published = %v, want one his.patient.synced", published)
	}
}

func TestImportRowUpdatesExistingRecord(t *testing.T) {
	patientID := types.NewID()
	existing := medical.NewPatientRecord(patientID, medical.RecordSourcePortal)
	existing.CancerStage = "I"

	directory := &fakeDirectory{users: map[string]*accounts.User{
		"pat@example.com": {ID: patientID, Email: "pat@example.com"},
	}}
	records := &fakeRecords{records: map[types.ID]*medical.PatientRecord{
		patientID: existing,
	}}

	a := New(config.HISConfig{}, directory, records, nil)
	err := a.importRow(context.Background(), PatientRow{
		Email:       "pat@example.com",
		CancerStage: "II",
	})
	if err != nil {
		t.Fatalf("importRow: %v", err)
	}

	rec := records.upserted[0]
	if rec.ID != existing.ID {
		t.Error("should update the existing record, not create a new one")
	}
	if rec.CancerStage != "II" {
		t.Errorf("stage = %q, want II", rec.CancerStage)
	}
	if rec.Source != medical.RecordSourceHIS {
		t.Errorf("source = %q, want his after import", rec.Source)
	}
}

func TestImportRowSkipsUnknownPatient(t *testing.T) {
	records := &fakeRecords{}
	a := New(config.HISConfig{}, &fakeDirectory{}, records, nil)

	err := a.importRow(context.Background(), PatientRow{Email: "nobody@example.com"})
	if err == nil {
		t.Fatal("expected error for unknown patient")
	}
	if len(records.upserted) != 0 {
		t.Error("no record should be written for unknown patients")
	}
}

func TestImportRowUnknownCancerTypeStillImports(t *testing.T) {
	patientID := types.NewID()
	directory := &fakeDirectory{users: map[string]*accounts.User{
		"pat@example.com": {ID: patientID, Email: "pat@example.com"},
	}}
	records := &fakeRecords{}

	a := New(config.HISConfig{}, directory, records, nil)
	err := a.importRow(context.Background(), PatientRow{
		Email:      "pat@example.com",
		CancerType: "Unmapped Diagnosis",
		Treatment:  "Surgery",
	})
	if err != nil {
		t.Fatalf("importRow: %v", err)
	}

	rec := records.upserted[0]
	if rec.CancerTypeID != nil {
		t.Error("unknown cancer type should leave the taxonomy link empty")
	}
	if rec.RecommendedTreatment != "Surgery" {
		t.Errorf("treatment = %q", rec.RecommendedTreatment)
	}
}
