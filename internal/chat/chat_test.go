package chat

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/oncoportal/platform/internal/accounts"
	"github.com/oncoportal/platform/internal/medical"
	"github.com/oncoportal/platform/internal/shared/errors"
	"github.com/oncoportal/platform/internal/shared/types"
)

func TestNewSessionDefaultTitle(t *testing.T) {
	s := NewSession(types.NewID(), "")
	if !strings.HasPrefix(s.Title, "Chat - ") {
		t.Errorf("default title = %q, want Chat - prefix", s.Title)
	}
	if !s.Active {
		t.Error("new session should be active")
	}

	s = NewSession(types.NewID(), "My questions")
	if s.Title != "My questions" {
		t.Errorf("title = %q, want My questions", s.Title)
	}
}

func TestNewMessage(t *testing.T) {
	sessionID := types.NewID()
	m := NewMessage(sessionID, RoleUser, "hello")
	if m.SessionID != sessionID {
		t.Errorf("session ID = %v, want %v", m.SessionID, sessionID)
	}
	if m.Role != RoleUser || m.Content != "hello" {
		t.Errorf("message = %q/%q", m.Role, m.Content)
	}
	if m.ID.IsZero() {
		t.Error("message should get an ID")
	}
}

func TestHistoryFilterSince(t *testing.T) {
	now := time.Date(2025, 3, 15, 14, 30, 0, 0, time.UTC)

	tests := []struct {
		period string
		want   time.Time
	}{
		{PeriodToday, time.Date(2025, 3, 15, 0, 0, 0, 0, time.UTC)},
		{PeriodWeek, time.Date(2025, 3, 8, 14, 30, 0, 0, time.UTC)},
		{PeriodMonth, time.Date(2025, 2, 15, 14, 30, 0, 0, time.UTC)},
		{"", time.Time{}},
		{"bogus", time.Time{}},
	}

	for _, tt := range tests {
		got := HistoryFilter{Period: tt.period}.Since(now)
		if !got.Equal(tt.want) {
			t.Errorf("Since(%q) = %v, want %v", tt.period, got, tt.want)
		}
	}
}

type fakeDirectory struct {
	users map[types.ID]*accounts.User
}

func (f *fakeDirectory) FindUserByID(_ context.Context, id types.ID) (*accounts.User, error) {
	u, ok := f.users[id]
	if !ok {
		return nil, errors.NotFound("user", id.String())
	}
	return u, nil
}

type fakeRecords struct {
	records map[types.ID]*medical.PatientRecord
}

func (f *fakeRecords) FindRecordByPatient(_ context.Context, patientID types.ID) (*medical.PatientRecord, error) {
	rec, ok := f.records[patientID]
	if !ok {
		return nil, errors.NotFound("patient record", patientID.String())
	}
	return rec, nil
}

func TestPatientContextFull(t *testing.T) {
	patientID := types.NewID()
	doctorID := types.NewID()
	cancerTypeID := types.NewID()
	diagnosed := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	svc := NewService(nil, &fakeDirectory{users: map[types.ID]*accounts.User{
		patientID: {
			ID: patientID, FirstName: "Maria", LastName: "Lopez",
			Language: "es", AssignedDoctorID: &doctorID,
		},
		doctorID: {ID: doctorID, FirstName: "Ana", LastName: "Ruiz"},
	}}, &fakeRecords{records: map[types.ID]*medical.PatientRecord{
		patientID: {
			PatientID:            patientID,
			CancerTypeID:         &cancerTypeID,
			CancerTypeName:       "Breast Cancer",
			CancerStage:          "II",
			StageGrouping:        "IIA",
			RecommendedTreatment: "Chemotherapy",
			DiagnosisDate:        &diagnosed,
		},
	}}, nil, nil)

	patient, gotCancerType := svc.patientContext(context.Background(), patientID)

	if patient.PatientName != "Maria Lopez" {
		t.Errorf("patient name = %q", patient.PatientName)
	}
	if patient.DoctorName != "Dr. Ana Ruiz" {
		t.Errorf("doctor name = %q", patient.DoctorName)
	}
	if patient.Language != "es" {
		t.Errorf("language = %q", patient.Language)
	}
	if patient.CancerType != "Breast Cancer" || patient.CancerStage != "II" {
		t.Errorf("clinical context = %q/%q", patient.CancerType, patient.CancerStage)
	}
	if gotCancerType == nil || *gotCancerType != cancerTypeID {
		t.Errorf("cancer type ID = %v, want %v", gotCancerType, cancerTypeID)
	}
}

func TestPatientContextWithoutRecord(t *testing.T) {
	patientID := types.NewID()

	svc := NewService(nil, &fakeDirectory{users: map[types.ID]*accounts.User{
		patientID: {ID: patientID, FirstName: "Tom", LastName: "Baker", Language: "en"},
	}}, &fakeRecords{}, nil, nil)

	patient, gotCancerType := svc.patientContext(context.Background(), patientID)

	if patient.PatientName != "Tom Baker" {
		t.Errorf("patient name = %q", patient.PatientName)
	}
	if patient.DoctorName != "" {
		t.Errorf("doctor name = %q, want empty", patient.DoctorName)
	}
	if patient.CancerType != "" {
		t.Errorf("cancer type = %q, want empty", patient.CancerType)
	}
	if gotCancerType != nil {
		t.Errorf("cancer type ID = %v, want nil", gotCancerType)
	}
}

func TestPatientContextUnknownUser(t *testing.T) {
	svc := NewService(nil, &fakeDirectory{}, &fakeRecords{}, nil, nil)

	patient, gotCancerType := svc.patientContext(context.Background(), types.NewID())

	if patient.PatientName != "" || gotCancerType != nil {
		t.Error("unknown user should yield an empty context")
	}
}

type fakeTaxonomy struct {
	types map[types.ID]*medical.CancerType
}

func (f *fakeTaxonomy) FindCancerType(_ context.Context, id types.ID) (*medical.CancerType, error) {
	ct, ok := f.types[id]
	if !ok {
		return nil, errors.NotFound("cancer type", id.String())
	}
	return ct, nil
}

func TestResolveOrganCancerType(t *testing.T) {
	organID := types.NewID()
	subtypeID := types.NewID()

	h := &Handler{taxonomy: &fakeTaxonomy{types: map[types.ID]*medical.CancerType{
		organID:   {ID: organID, Name: "Breast", IsOrgan: true},
		subtypeID: {ID: subtypeID, Name: "Triple-Negative Breast Cancer", IsOrgan: false, ParentID: &organID},
	}}}
	ctx := context.Background()

	got, err := h.resolveOrganCancerType(ctx, organID.String())
	if err != nil {
		t.Fatalf("organ type rejected: %v", err)
	}
	if got == nil || *got != organID {
		t.Errorf("resolved ID = %v, want %v", got, organID)
	}

	if got, err = h.resolveOrganCancerType(ctx, ""); err != nil || got != nil {
		t.Errorf("empty scope = (%v, %v), want (nil, nil)", got, err)
	}

	if _, err = h.resolveOrganCancerType(ctx, subtypeID.String()); err == nil {
		t.Fatal("sub-type scope should be rejected")
	} else if appErr, ok := err.(*errors.AppError); !ok || appErr.HTTPStatus != 400 {
		t.Errorf("sub-type scope error = %v, want bad request", err)
	}

	if _, err = h.resolveOrganCancerType(ctx, "not-an-id"); err == nil {
		t.Error("malformed ID should be rejected")
	}

	if _, err = h.resolveOrganCancerType(ctx, types.NewID().String()); err == nil {
		t.Error("unknown cancer type should be rejected")
	}
}

func TestToRAGMessages(t *testing.T) {
	sessionID := types.NewID()
	history := []*Message{
		NewMessage(sessionID, RoleUser, "what is chemotherapy?"),
		NewMessage(sessionID, RoleAssistant, "Chemotherapy is..."),
	}

	out := toRAGMessages(history)
	if len(out) != 2 {
		t.Fatalf("len = %d, want 2", len(out))
	}
	if out[0].Role != RoleUser || out[1].Role != RoleAssistant {
		t.Errorf("roles = %q/%q", out[0].Role, out[1].Role)
	}
	if out[0].Content != "what is chemotherapy?" {
		t.Errorf("content = %q", out[0].Content)
	}
}
