package chat

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/oncoportal/platform/internal/shared/errors"
	"github.com/oncoportal/platform/internal/shared/types"
)

// Repository provides database operations for the chat module
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new chat repository
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// CreateSession inserts a session and deactivates the user's previous
// active one
func (r *Repository) CreateSession(ctx context.Context, s *Session) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`UPDATE chat.sessions SET active = false WHERE user_id = $1 AND active`,
		s.UserID); err != nil {
		return errors.Wrap(err, "failed to deactivate previous sessions")
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO chat.sessions (id, user_id, title, active, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		s.ID, s.UserID, s.Title, s.Active, s.CreatedAt, s.UpdatedAt); err != nil {
		return errors.Wrap(err, "failed to create session")
	}

	if err := tx.Commit(ctx); err != nil {
		return errors.Wrap(err, "failed to commit transaction")
	}
	return nil
}

// FindSession finds a session owned by the user. Sessions of other users
// are reported as not found.
func (r *Repository) FindSession(ctx context.Context, id, userID types.ID) (*Session, error) {
	query := `
		SELECT id, user_id, title, active, created_at, updated_at
		FROM chat.sessions WHERE id = $1 AND user_id = $2`

	s := &Session{}
	err := r.pool.QueryRow(ctx, query, id, userID).Scan(
		&s.ID, &s.UserID, &s.Title, &s.Active, &s.CreatedAt, &s.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("chat session", id.String())
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to find session")
	}
	return s, nil
}

// FindActiveSession returns the user's current active session, if any
func (r *Repository) FindActiveSession(ctx context.Context, userID types.ID) (*Session, error) {
	query := `
		SELECT id, user_id, title, active, created_at, updated_at
		FROM chat.sessions WHERE user_id = $1 AND active
		ORDER BY updated_at DESC LIMIT 1`

	s := &Session{}
	err := r.pool.QueryRow(ctx, query, userID).Scan(
		&s.ID, &s.UserID, &s.Title, &s.Active, &s.CreatedAt, &s.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("active session", userID.String())
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to find active session")
	}
	return s, nil
}

// UpdateSessionTitle renames a session
func (r *Repository) UpdateSessionTitle(ctx context.Context, id, userID types.ID, title string) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE chat.sessions SET title = $3, updated_at = now() WHERE id = $1 AND user_id = $2`,
		id, userID, title)
	if err != nil {
		return errors.Wrap(err, "failed to rename session")
	}
	if tag.RowsAffected() == 0 {
		return errors.NotFound("chat session", id.String())
	}
	return nil
}

// TouchSession bumps the session's updated_at
func (r *Repository) TouchSession(ctx context.Context, id types.ID) error {
	_, err := r.pool.Exec(ctx, `UPDATE chat.sessions SET updated_at = now() WHERE id = $1`, id)
	if err != nil {
		return errors.Wrap(err, "failed to touch session")
	}
	return nil
}

// DeleteSession removes a session; messages cascade
func (r *Repository) DeleteSession(ctx context.Context, id, userID types.ID) error {
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM chat.sessions WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return errors.Wrap(err, "failed to delete session")
	}
	if tag.RowsAffected() == 0 {
		return errors.NotFound("chat session", id.String())
	}
	return nil
}

// History lists the user's sessions filtered by period and search text,
// newest activity first
func (r *Repository) History(ctx context.Context, userID types.ID, filter HistoryFilter, pageSize int) ([]*Session, types.Page, error) {
	where := ` WHERE s.user_id = $1`
	args := []any{userID}
	argPos := 2

	if since := filter.Since(time.Now()); !since.IsZero() {
		where += ` AND s.updated_at >= $` + strconv.Itoa(argPos)
		args = append(args, since)
		argPos++
	}
	if filter.Search != "" {
		where += ` AND (s.title ILIKE $` + strconv.Itoa(argPos) +
			` OR EXISTS (SELECT 1 FROM chat.messages m WHERE m.session_id = s.id AND m.content ILIKE $` +
			strconv.Itoa(argPos) + `))`
		args = append(args, "%"+filter.Search+"%")
		argPos++
	}

	var total int
	if err := r.pool.QueryRow(ctx,
		`SELECT count(*) FROM chat.sessions s`+where, args...).Scan(&total); err != nil {
		return nil, types.Page{}, errors.Wrap(err, "failed to count sessions")
	}

	page := types.NewPage(filter.Page, pageSize, total)

	query := `
		SELECT s.id, s.user_id, s.title, s.active, s.created_at, s.updated_at
		FROM chat.sessions s` + where + `
		ORDER BY s.updated_at DESC
		LIMIT $` + strconv.Itoa(argPos) + ` OFFSET $` + strconv.Itoa(argPos+1)
	args = append(args, page.Size, page.Offset())

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, types.Page{}, errors.Wrap(err, "failed to list sessions")
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		s := &Session{}
		if err := rows.Scan(&s.ID, &s.UserID, &s.Title, &s.Active, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, types.Page{}, errors.Wrap(err, "failed to scan session")
		}
		sessions = append(sessions, s)
	}
	return sessions, page, rows.Err()
}

// SaveMessage stores a message
func (r *Repository) SaveMessage(ctx context.Context, m *Message) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO chat.messages (id, session_id, role, content, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		m.ID, m.SessionID, m.Role, m.Content, m.CreatedAt)
	if err != nil {
		return errors.Wrap(err, "failed to save message")
	}
	return nil
}

// FindMessage loads a message together with its session owner
func (r *Repository) FindMessage(ctx context.Context, id types.ID) (*Message, types.ID, error) {
	query := `
		SELECT m.id, m.session_id, m.role, m.content, m.created_at, s.user_id
		FROM chat.messages m
		JOIN chat.sessions s ON s.id = m.session_id
		WHERE m.id = $1`

	m := &Message{}
	var ownerID types.ID
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&m.ID, &m.SessionID, &m.Role, &m.Content, &m.CreatedAt, &ownerID,
	)
	if err == pgx.ErrNoRows {
		return nil, "", errors.NotFound("message", id.String())
	}
	if err != nil {
		return nil, "", errors.Wrap(err, "failed to find message")
	}
	return m, ownerID, nil
}

// ListMessages returns a session's messages chronologically, with feedback
// attached to assistant messages
func (r *Repository) ListMessages(ctx context.Context, sessionID types.ID) ([]*Message, error) {
	query := `
		SELECT m.id, m.session_id, m.role, m.content, m.created_at,
			f.id, f.helpful, f.comment, f.created_at, f.updated_at
		FROM chat.messages m
		LEFT JOIN chat.feedback f ON f.message_id = m.id
		WHERE m.session_id = $1
		ORDER BY m.created_at`

	rows, err := r.pool.Query(ctx, query, sessionID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list messages")
	}
	defer rows.Close()

	var messages []*Message
	for rows.Next() {
		m := &Message{}
		var fbID *types.ID
		var helpful *bool
		var comment *string
		var fbCreated, fbUpdated *time.Time
		if err := rows.Scan(
			&m.ID, &m.SessionID, &m.Role, &m.Content, &m.CreatedAt,
			&fbID, &helpful, &comment, &fbCreated, &fbUpdated,
		); err != nil {
			return nil, errors.Wrap(err, "failed to scan message")
		}
		if fbID != nil {
			m.Feedback = &Feedback{
				ID:        *fbID,
				MessageID: m.ID,
				Helpful:   *helpful,
				CreatedAt: *fbCreated,
				UpdatedAt: *fbUpdated,
			}
			if comment != nil {
				m.Feedback.Comment = *comment
			}
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// RecentMessages returns the last n messages of a session, oldest first,
// for conversational context
func (r *Repository) RecentMessages(ctx context.Context, sessionID types.ID, n int) ([]*Message, error) {
	query := `
		SELECT id, session_id, role, content, created_at FROM (
			SELECT id, session_id, role, content, created_at
			FROM chat.messages WHERE session_id = $1
			ORDER BY created_at DESC LIMIT $2
		) latest ORDER BY created_at`

	rows, err := r.pool.Query(ctx, query, sessionID, n)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load recent messages")
	}
	defer rows.Close()

	var messages []*Message
	for rows.Next() {
		m := &Message{}
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Role, &m.Content, &m.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "failed to scan message")
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// UpsertFeedback inserts or replaces feedback for a message
func (r *Repository) UpsertFeedback(ctx context.Context, f *Feedback) error {
	query := `
		INSERT INTO chat.feedback (id, message_id, user_id, helpful, comment, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (message_id) DO UPDATE SET
			helpful = EXCLUDED.helpful,
			comment = EXCLUDED.comment,
			updated_at = EXCLUDED.updated_at`

	now := time.Now().UTC()
	f.UpdatedAt = now
	if f.CreatedAt.IsZero() {
		f.CreatedAt = now
	}
	_, err := r.pool.Exec(ctx, query,
		f.ID, f.MessageID, f.UserID, f.Helpful, f.Comment, f.CreatedAt, f.UpdatedAt)
	if err != nil {
		return errors.Wrap(err, "failed to save feedback")
	}
	return nil
}

// FeedbackEntry is a feedback row with its message context for admin review.
type FeedbackEntry struct {
	Feedback
	MessageContent string `json:"message_content"`
	SessionTitle   string `json:"session_title"`
}

// ListFeedback lists feedback for administrators, optionally filtered by
// helpfulness, newest first
func (r *Repository) ListFeedback(ctx context.Context, helpful *bool, pageNum, pageSize int) ([]*FeedbackEntry, types.Page, error) {
	where := ""
	args := []any{}
	argPos := 1
	if helpful != nil {
		where = ` WHERE f.helpful = $1`
		args = append(args, *helpful)
		argPos++
	}

	var total int
	if err := r.pool.QueryRow(ctx,
		`SELECT count(*) FROM chat.feedback f`+where, args...).Scan(&total); err != nil {
		return nil, types.Page{}, errors.Wrap(err, "failed to count feedback")
	}

	page := types.NewPage(pageNum, pageSize, total)

	query := `
		SELECT f.id, f.message_id, f.user_id, f.helpful, f.comment, f.created_at, f.updated_at,
			m.content, s.title
		FROM chat.feedback f
		JOIN chat.messages m ON m.id = f.message_id
		JOIN chat.sessions s ON s.id = m.session_id` + where + `
		ORDER BY f.updated_at DESC
		LIMIT $` + strconv.Itoa(argPos) + ` OFFSET $` + strconv.Itoa(argPos+1)
	args = append(args, page.Size, page.Offset())

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, types.Page{}, errors.Wrap(err, "failed to list feedback")
	}
	defer rows.Close()

	var entries []*FeedbackEntry
	for rows.Next() {
		e := &FeedbackEntry{}
		if err := rows.Scan(
			&e.ID, &e.MessageID, &e.UserID, &e.Helpful, &e.Comment, &e.CreatedAt, &e.UpdatedAt,
			&e.MessageContent, &e.SessionTitle,
		); err != nil {
			return nil, types.Page{}, errors.Wrap(err, "failed to scan feedback")
		}
		entries = append(entries, e)
	}
	return entries, page, rows.Err()
}

const documentColumns = `d.id, d.title, d.description, d.document_type, d.file_path,
	d.file_hash, d.cancer_type_id, coalesce(ct.name, ''), d.indexed, d.indexed_at,
	(SELECT count(*) FROM chat.document_chunks c WHERE c.document_id = d.id),
	d.uploaded_by, d.created_at, d.updated_at`

const documentFrom = ` FROM chat.documents d
	LEFT JOIN medical.cancer_types ct ON ct.id = d.cancer_type_id`

func scanDocument(row pgx.Row) (*Document, error) {
	d := &Document{}
	err := row.Scan(
		&d.ID, &d.Title, &d.Description, &d.DocumentType, &d.FilePath,
		&d.FileHash, &d.CancerTypeID, &d.CancerTypeName, &d.Indexed, &d.IndexedAt,
		&d.ChunkCount, &d.UploadedBy, &d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return d, nil
}

// SaveDocument stores a knowledge-base document row
func (r *Repository) SaveDocument(ctx context.Context, d *Document) error {
	query := `
		INSERT INTO chat.documents
			(id, title, description, document_type, file_path, file_hash,
			 cancer_type_id, indexed, indexed_at, uploaded_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	_, err := r.pool.Exec(ctx, query,
		d.ID, d.Title, d.Description, d.DocumentType, d.FilePath, d.FileHash,
		d.CancerTypeID, d.Indexed, d.IndexedAt, d.UploadedBy, d.CreatedAt, d.UpdatedAt,
	)
	if err != nil {
		if strings.Contains(err.Error(), "duplicate key") {
			return errors.Conflict("a document with identical content already exists")
		}
		return errors.Wrap(err, "failed to save document")
	}
	return nil
}

// FindDocument finds a knowledge-base document by ID
func (r *Repository) FindDocument(ctx context.Context, id types.ID) (*Document, error) {
	query := `SELECT ` + documentColumns + documentFrom + ` WHERE d.id = $1`

	d, err := scanDocument(r.pool.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("document", id.String())
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to find document")
	}
	return d, nil
}

// FindDocumentByHash checks the content-hash dedupe index
func (r *Repository) FindDocumentByHash(ctx context.Context, hash string) (*Document, error) {
	query := `SELECT ` + documentColumns + documentFrom + ` WHERE d.file_hash = $1`

	d, err := scanDocument(r.pool.QueryRow(ctx, query, hash))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("document", hash)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to find document by hash")
	}
	return d, nil
}

// ListDocuments lists knowledge-base documents, optionally by cancer type
func (r *Repository) ListDocuments(ctx context.Context, cancerTypeID *types.ID, pageNum, pageSize int) ([]*Document, types.Page, error) {
	where := ""
	args := []any{}
	argPos := 1
	if cancerTypeID != nil {
		where = ` WHERE d.cancer_type_id = $1`
		args = append(args, *cancerTypeID)
		argPos++
	}

	var total int
	if err := r.pool.QueryRow(ctx,
		`SELECT count(*) FROM chat.documents d`+where, args...).Scan(&total); err != nil {
		return nil, types.Page{}, errors.Wrap(err, "failed to count documents")
	}

	page := types.NewPage(pageNum, pageSize, total)

	query := `SELECT ` + documentColumns + documentFrom + where + `
		ORDER BY d.created_at DESC
		LIMIT $` + strconv.Itoa(argPos) + ` OFFSET $` + strconv.Itoa(argPos+1)
	args = append(args, page.Size, page.Offset())

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, types.Page{}, errors.Wrap(err, "failed to list documents")
	}
	defer rows.Close()

	var docs []*Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, types.Page{}, errors.Wrap(err, "failed to scan document")
		}
		docs = append(docs, d)
	}
	return docs, page, rows.Err()
}

// UpdateDocument updates document metadata
func (r *Repository) UpdateDocument(ctx context.Context, d *Document) error {
	d.UpdatedAt = time.Now().UTC()
	query := `
		UPDATE chat.documents SET
			title = $2, description = $3, document_type = $4, file_path = $5,
			file_hash = $6, cancer_type_id = $7, indexed = $8, indexed_at = $9,
			updated_at = $10
		WHERE id = $1`

	tag, err := r.pool.Exec(ctx, query,
		d.ID, d.Title, d.Description, d.DocumentType, d.FilePath,
		d.FileHash, d.CancerTypeID, d.Indexed, d.IndexedAt, d.UpdatedAt,
	)
	if err != nil {
		return errors.Wrap(err, "failed to update document")
	}
	if tag.RowsAffected() == 0 {
		return errors.NotFound("document", d.ID.String())
	}
	return nil
}

// MarkIndexed records a successful indexing run
func (r *Repository) MarkIndexed(ctx context.Context, id types.ID, fileHash string) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE chat.documents SET indexed = true, indexed_at = now(), file_hash = $2, updated_at = now()
		 WHERE id = $1`,
		id, fileHash)
	if err != nil {
		return errors.Wrap(err, "failed to mark document indexed")
	}
	return nil
}

// DeleteDocument removes a document row; chunks cascade
func (r *Repository) DeleteDocument(ctx context.Context, id types.ID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM chat.documents WHERE id = $1`, id)
	if err != nil {
		return errors.Wrap(err, "failed to delete document")
	}
	if tag.RowsAffected() == 0 {
		return errors.NotFound("document", id.String())
	}
	return nil
}

// Analytics aggregates assistant usage since the given time
func (r *Repository) Analytics(ctx context.Context, since time.Time) (*Analytics, error) {
	a := &Analytics{}
	err := r.pool.QueryRow(ctx, `
		SELECT
			(SELECT count(*) FROM chat.sessions WHERE created_at > $1),
			(SELECT count(*) FROM chat.messages WHERE created_at > $1),
			(SELECT count(DISTINCT user_id) FROM chat.sessions WHERE updated_at > $1),
			(SELECT count(*) FROM chat.feedback WHERE created_at > $1),
			coalesce((SELECT avg(CASE WHEN helpful THEN 1.0 ELSE 0.0 END)
				FROM chat.feedback WHERE created_at > $1), 0),
			(SELECT count(*) FROM chat.documents WHERE indexed)`,
		since).Scan(
		&a.Sessions, &a.Messages, &a.UniqueUsers, &a.FeedbackCount,
		&a.HelpfulRatio, &a.IndexedDocuments,
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to aggregate analytics")
	}
	return a, nil
}
