package chat

import (
	"time"

	"github.com/oncoportal/platform/internal/shared/types"
)

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Session is one conversation between a patient and the assistant.
type Session struct {
	ID        types.ID  `json:"id"`
	UserID    types.ID  `json:"user_id"`
	Title     string    `json:"title"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Messages is populated on detail reads only.
	Messages []*Message `json:"messages,omitempty"`
}

// NewSession creates an active session. An empty title defaults to a
// timestamped one.
func NewSession(userID types.ID, title string) *Session {
	now := time.Now().UTC()
	if title == "" {
		title = "Chat - " + now.Format("2006-01-02 15:04")
	}
	return &Session{
		ID:        types.NewID(),
		UserID:    userID,
		Title:     title,
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Message is one turn in a session.
type Message struct {
	ID        types.ID  `json:"id"`
	SessionID types.ID  `json:"session_id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`

	// Feedback is populated on reads when present.
	Feedback *Feedback `json:"feedback,omitempty"`
}

// NewMessage creates a message
func NewMessage(sessionID types.ID, role, content string) *Message {
	return &Message{
		ID:        types.NewID(),
		SessionID: sessionID,
		Role:      role,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}
}

// Feedback is a user's rating of one assistant message. One per message;
// resubmission replaces the previous rating.
type Feedback struct {
	ID        types.ID  `json:"id"`
	MessageID types.ID  `json:"message_id"`
	UserID    types.ID  `json:"user_id"`
	Helpful   bool      `json:"helpful"`
	Comment   string    `json:"comment,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Document is a knowledge-base file administrators upload for the
// assistant. Only organ-level cancer types may tag a document; untagged
// documents are general.
type Document struct {
	ID             types.ID   `json:"id"`
	Title          string     `json:"title"`
	Description    string     `json:"description,omitempty"`
	DocumentType   string     `json:"document_type,omitempty"`
	FilePath       string     `json:"-"`
	FileHash       string     `json:"file_hash"`
	CancerTypeID   *types.ID  `json:"cancer_type_id,omitempty"`
	CancerTypeName string     `json:"cancer_type_name,omitempty"`
	Indexed        bool       `json:"indexed"`
	IndexedAt      *time.Time `json:"indexed_at,omitempty"`
	ChunkCount     int        `json:"chunk_count"`
	UploadedBy     types.ID   `json:"uploaded_by"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// History period filters, matching the portal's history view.
const (
	PeriodToday = "today"
	PeriodWeek  = "week"
	PeriodMonth = "month"
)

// HistoryFilter narrows the session history listing.
type HistoryFilter struct {
	Period string
	Search string
	Page   int
}

// Since returns the window start for the period filter, or the zero time
// when unfiltered.
func (f HistoryFilter) Since(now time.Time) time.Time {
	switch f.Period {
	case PeriodToday:
		return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	case PeriodWeek:
		return now.AddDate(0, 0, -7)
	case PeriodMonth:
		return now.AddDate(0, -1, 0)
	}
	return time.Time{}
}

// Analytics summarizes assistant usage for administrators.
type Analytics struct {
	Sessions         int     `json:"sessions"`
	Messages         int     `json:"messages"`
	UniqueUsers      int     `json:"unique_users"`
	FeedbackCount    int     `json:"feedback_count"`
	HelpfulRatio     float64 `json:"helpful_ratio"`
	IndexedDocuments int     `json:"indexed_documents"`
}

// SendMessageRequest is the payload for POST /chat/messages.
type SendMessageRequest struct {
	SessionID *string `json:"session_id"`
	Content   string  `json:"content"`
}

// FeedbackRequest is the payload for POST /chat/feedback.
type FeedbackRequest struct {
	MessageID string `json:"message_id"`
	Helpful   bool   `json:"helpful"`
	Comment   string `json:"comment"`
}
