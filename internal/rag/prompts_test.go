package rag

import (
	"strings"
	"testing"
	"time"
)

func TestIsEmergencyMessage(t *testing.T) {
	tests := []struct {
		message string
		want    bool
	}{
		{"I have severe chest pain right now", true},
		{"should I call 911?", true},
		{"I can't breathe properly", true},
		{"HELP ME please", true},
		{"what are the side effects of chemotherapy?", false},
		{"when is my next appointment?", false},
		{"", false},
	}

	for _, tt := range tests {
		if got := IsEmergencyMessage(tt.message); got != tt.want {
			t.Errorf("IsEmergencyMessage(%q) = %v, want %v", tt.message, got, tt.want)
		}
	}
}

func TestSystemPromptIncludesPatientContext(t *testing.T) {
	diagnosed := time.Date(2024, time.March, 15, 0, 0, 0, 0, time.UTC)
	b := NewPromptBuilder(PatientContext{
		PatientName:   "Jane Doe",
		DoctorName:    "Dr. Smith",
		CancerType:    "Lung",
		CancerStage:   "Stage II",
		Treatment:     "Chemotherapy",
		DiagnosisDate: &diagnosed,
		Language:      "en",
	})

	prompt := b.SystemPrompt()
	for _, want := range []string{"Jane Doe", "Dr. Smith", "Lung", "Stage II", "Chemotherapy", "March 15, 2024"} {
		if !strings.Contains(prompt, want) {
			t.Errorf("system prompt missing %q", want)
		}
	}
	if strings.Contains(prompt, "LANGUAGE PREFERENCE") {
		t.Error("English patients should not get a language section")
	}
}

func TestPatientContextPersonalized(t *testing.T) {
	tests := []struct {
		name string
		ctx  PatientContext
		want bool
	}{
		{"empty", PatientContext{}, false},
		{"clinical only", PatientContext{CancerType: "Lung", Language: "es"}, false},
		{"patient name", PatientContext{PatientName: "Jane Doe"}, true},
		{"doctor name", PatientContext{DoctorName: "Dr. Smith"}, true},
	}

	for _, tt := range tests {
		if got := tt.ctx.Personalized(); got != tt.want {
			t.Errorf("%s: Personalized() = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestSystemPromptLanguageSection(t *testing.T) {
	b := NewPromptBuilder(PatientContext{PatientName: "Ana", Language: "es"})

	prompt := b.SystemPrompt()
	if !strings.Contains(prompt, "LANGUAGE PREFERENCE") {
		t.Fatal("non-English patients should get a language section")
	}
	if !strings.Contains(prompt, "Spanish") {
		t.Error("language section should name the language")
	}
}

func TestNotFoundResponseLocalized(t *testing.T) {
	for _, lang := range []string{"en", "es", "fr", "ar", "hi"} {
		b := NewPromptBuilder(PatientContext{DoctorName: "Dr. Lee", Language: lang})
		resp := b.NotFoundResponse("experimental treatments")

		if resp == "" {
			t.Errorf("empty not-found response for %q", lang)
		}
		if strings.Contains(resp, "{question}") || strings.Contains(resp, "{doctor}") {
			t.Errorf("unexpanded placeholder in %q response", lang)
		}
		if !strings.Contains(resp, "Dr. Lee") {
			t.Errorf("%q response should name the doctor", lang)
		}
	}

	// Unknown language falls back to English.
	b := NewPromptBuilder(PatientContext{Language: "de"})
	if !strings.Contains(b.NotFoundResponse("x"), "I apologize") {
		t.Error("unknown language should fall back to English")
	}
}

func TestEmergencyResponseLocalized(t *testing.T) {
	en := NewPromptBuilder(PatientContext{}).EmergencyResponse()
	if !strings.Contains(en, "911") {
		t.Error("emergency response should mention 911")
	}

	es := NewPromptBuilder(PatientContext{Language: "es"}).EmergencyResponse()
	if es == en {
		t.Error("Spanish emergency response should differ from English")
	}
}

func TestQueryPrompt(t *testing.T) {
	b := NewPromptBuilder(PatientContext{CancerType: "Breast", CancerStage: "Stage I"})
	q := b.QueryPrompt("what foods should I avoid?")

	if !strings.Contains(q, "Cancer Type: Breast") || !strings.Contains(q, "Stage: Stage I") {
		t.Error("query prompt should carry the cancer context")
	}

	plain := NewPromptBuilder(PatientContext{}).QueryPrompt("what foods should I avoid?")
	if plain != "User Question: what foods should I avoid?" {
		t.Errorf("context-free query prompt = %q", plain)
	}
}
