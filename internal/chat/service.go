package chat

import (
	"context"
	"log"
	"strings"

	"github.com/oncoportal/platform/internal/accounts"
	"github.com/oncoportal/platform/internal/medical"
	"github.com/oncoportal/platform/internal/rag"
	"github.com/oncoportal/platform/internal/shared/errors"
	"github.com/oncoportal/platform/internal/shared/events"
	"github.com/oncoportal/platform/internal/shared/metrics"
	"github.com/oncoportal/platform/internal/shared/types"
)

// historyDepth is how many prior messages accompany a question as
// conversational context.
const historyDepth = 10

// Directory resolves user profiles for the assistant's patient context.
type Directory interface {
	FindUserByID(ctx context.Context, id types.ID) (*accounts.User, error)
}

// Records resolves patient medical records for the assistant's patient
// context.
type Records interface {
	FindRecordByPatient(ctx context.Context, patientID types.ID) (*medical.PatientRecord, error)
}

// Assistant answers patient questions.
type Assistant interface {
	Answer(ctx context.Context, req rag.AnswerRequest) (*rag.Answer, error)
}

// Service orchestrates chat sessions and assistant replies
type Service struct {
	repo      *Repository
	directory Directory
	records   Records
	assistant Assistant
	bus       events.EventBus
}

// NewService creates a chat service
func NewService(repo *Repository, directory Directory, records Records, assistant Assistant, bus events.EventBus) *Service {
	return &Service{
		repo:      repo,
		directory: directory,
		records:   records,
		assistant: assistant,
		bus:       bus,
	}
}

// StartSession opens a new session, closing any previously active one
func (s *Service) StartSession(ctx context.Context, userID types.ID, title string) (*Session, error) {
	session := NewSession(userID, title)
	if err := s.repo.CreateSession(ctx, session); err != nil {
		return nil, err
	}
	metrics.RecordChatSessionCreated()
	s.publish(ctx, events.NewEvent("chat.session.created", "chat", map[string]any{
		"session_id": session.ID,
	}).WithActor(userID, ""))
	return session, nil
}

// RemoveSession deletes a session and its messages
func (s *Service) RemoveSession(ctx context.Context, id, userID types.ID) error {
	if err := s.repo.DeleteSession(ctx, id, userID); err != nil {
		return err
	}
	s.publish(ctx, events.NewEvent("chat.session.deleted", "chat", map[string]any{
		"session_id": id,
	}).WithActor(userID, ""))
	return nil
}

// SendMessageResponse is the reply to a chat message.
type SendMessageResponse struct {
	SessionID        types.ID `json:"session_id"`
	UserMessage      *Message `json:"user_message"`
	AssistantMessage *Message `json:"assistant_message"`
	Confidence       float64  `json:"confidence"`
	Fallback         bool     `json:"fallback"`
	Emergency        bool     `json:"emergency"`
	CacheStatus      string   `json:"cache_status"`
}

// SendMessage stores the user's message, runs the assistant pipeline with
// the patient's context, and stores the reply.
func (s *Service) SendMessage(ctx context.Context, userID types.ID, req SendMessageRequest) (*SendMessageResponse, error) {
	content := strings.TrimSpace(req.Content)
	if content == "" {
		return nil, errors.BadRequest("message content is required")
	}

	session, err := s.resolveSession(ctx, userID, req.SessionID)
	if err != nil {
		return nil, err
	}

	history, err := s.repo.RecentMessages(ctx, session.ID, historyDepth)
	if err != nil {
		return nil, err
	}

	userMsg := NewMessage(session.ID, RoleUser, content)
	if err := s.repo.SaveMessage(ctx, userMsg); err != nil {
		return nil, err
	}
	metrics.RecordChatMessage(RoleUser)

	patient, cancerTypeID := s.patientContext(ctx, userID)

	answer, err := s.assistant.Answer(ctx, rag.AnswerRequest{
		UserID:       userID,
		Question:     content,
		Patient:      patient,
		CancerTypeID: cancerTypeID,
		History:      toRAGMessages(history),
	})
	if err != nil {
		return nil, err
	}

	assistantMsg := NewMessage(session.ID, RoleAssistant, answer.Content)
	if err := s.repo.SaveMessage(ctx, assistantMsg); err != nil {
		return nil, err
	}
	metrics.RecordChatMessage(RoleAssistant)

	if err := s.repo.TouchSession(ctx, session.ID); err != nil {
		log.Printf("Failed to touch session %s: %v", session.ID, err)
	}

	s.publish(ctx, events.NewEvent("chat.message.sent", "chat", map[string]any{
		"session_id": session.ID,
		"message_id": userMsg.ID,
		"emergency":  answer.Emergency,
		"fallback":   answer.Fallback,
	}).WithActor(userID, ""))

	return &SendMessageResponse{
		SessionID:        session.ID,
		UserMessage:      userMsg,
		AssistantMessage: assistantMsg,
		Confidence:       answer.Confidence,
		Fallback:         answer.Fallback,
		Emergency:        answer.Emergency,
		CacheStatus:      answer.CacheStatus,
	}, nil
}

// SubmitFeedback records helpfulness feedback on an assistant message.
// Feedback on a message is one per user and overwrites on repeat.
func (s *Service) SubmitFeedback(ctx context.Context, userID types.ID, req FeedbackRequest) (*Feedback, error) {
	messageID, err := types.ParseID(req.MessageID)
	if err != nil {
		return nil, errors.BadRequest("invalid message ID")
	}

	msg, ownerID, err := s.repo.FindMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if ownerID != userID {
		return nil, errors.NotFound("message", messageID.String())
	}
	if msg.Role != RoleAssistant {
		return nil, errors.BadRequest("feedback applies to assistant messages only")
	}

	fb := &Feedback{
		ID:        types.NewID(),
		MessageID: messageID,
		UserID:    userID,
		Helpful:   req.Helpful,
		Comment:   req.Comment,
	}
	if err := s.repo.UpsertFeedback(ctx, fb); err != nil {
		return nil, err
	}
	metrics.RecordChatFeedback(req.Helpful)

	s.publish(ctx, events.NewEvent("chat.feedback.submitted", "chat", map[string]any{
		"message_id": messageID,
		"helpful":    req.Helpful,
	}).WithActor(userID, ""))

	return fb, nil
}

// resolveSession loads the requested session, falls back to the active one,
// or opens a new one.
func (s *Service) resolveSession(ctx context.Context, userID types.ID, sessionID *string) (*Session, error) {
	if sessionID != nil && *sessionID != "" {
		id, err := types.ParseID(*sessionID)
		if err != nil {
			return nil, errors.BadRequest("invalid session ID")
		}
		return s.repo.FindSession(ctx, id, userID)
	}

	session, err := s.repo.FindActiveSession(ctx, userID)
	if err == nil {
		return session, nil
	}
	return s.StartSession(ctx, userID, "")
}

// patientContext assembles the assistant's view of the patient: identity,
// assigned doctor, language, and clinical summary. Missing pieces degrade
// to a generic context rather than failing the message.
func (s *Service) patientContext(ctx context.Context, userID types.ID) (rag.PatientContext, *types.ID) {
	patient := rag.PatientContext{}

	user, err := s.directory.FindUserByID(ctx, userID)
	if err != nil {
		log.Printf("Failed to load profile for %s: %v", userID, err)
		return patient, nil
	}
	patient.PatientName = user.FullName()
	patient.Language = user.Language

	if user.AssignedDoctorID != nil {
		if doctor, err := s.directory.FindUserByID(ctx, *user.AssignedDoctorID); err == nil {
			patient.DoctorName = "Dr. " + doctor.FullName()
		}
	}

	record, err := s.records.FindRecordByPatient(ctx, userID)
	if err != nil {
		return patient, nil
	}
	patient.CancerType = record.CancerTypeName
	patient.CancerStage = record.CancerStage
	patient.StageGrouping = record.StageGrouping
	patient.Treatment = record.RecommendedTreatment
	patient.DiagnosisDate = record.DiagnosisDate
	return patient, record.CancerTypeID
}

func toRAGMessages(messages []*Message) []rag.Message {
	out := make([]rag.Message, 0, len(messages))
	for _, m := range messages {
		out = append(out, rag.Message{Role: m.Role, Content: m.Content})
	}
	return out
}

func (s *Service) publish(ctx context.Context, event events.Event) {
	if s.bus == nil {
		return
	}
	if err := s.bus.Publish(ctx, event); err != nil {
		log.Printf("Failed to publish %s: %v", event.Type, err)
	}
}
